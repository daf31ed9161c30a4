package capability

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nugget/aline-bot/internal/cache"
	"github.com/nugget/aline-bot/internal/httpkit"
)

// YonhapBaseURL is the Yonhap RSS root.
const YonhapBaseURL = "https://www.yna.co.kr/rss"

// Sections maps each news section to its feed file, in display order.
var Sections = []struct {
	Name string
	File string
}{
	{"최신기사", "news.xml"},
	{"정치", "politics.xml"},
	{"경제", "economy.xml"},
	{"사회", "society.xml"},
	{"문화", "culture.xml"},
	{"스포츠", "sports.xml"},
	{"연예", "entertainment.xml"},
	{"세계", "international.xml"},
	{"건강", "health.xml"},
	{"시장경제", "market.xml"},
}

// SectionNames lists the valid section names.
func SectionNames() []string {
	names := make([]string, len(Sections))
	for i, s := range Sections {
		names[i] = s.Name
	}
	return names
}

// UnknownSection is the sentinel for a section that does not exist.
func UnknownSection(section string) string {
	return "존재하지 않는 섹션입니다. " + section
}

// Article is one feed item.
type Article struct {
	Title       string `json:"title"`
	Link        string `json:"link"`
	Description string `json:"description"`
	PubDate     string `json:"pub_date"`
	Author      string `json:"authors"`
}

// Feed is the content of one section.
type Feed struct {
	Section   string    `json:"section"`
	Articles  []Article `json:"contents"`
	UpdatedAt time.Time `json:"updated_at"`
}

// News serves section feeds through a TTL cache.
type News struct {
	baseURL    string
	files      map[string]string
	cache      *cache.Cache[Feed]
	httpClient *http.Client
	logger     *slog.Logger
}

// NewNews creates a news adapter backed by c.
func NewNews(baseURL string, c *cache.Cache[Feed], timeout time.Duration, logger *slog.Logger) *News {
	if baseURL == "" {
		baseURL = YonhapBaseURL
	}
	files := make(map[string]string, len(Sections))
	for _, s := range Sections {
		files[s.Name] = s.File
	}
	return &News{
		baseURL:    strings.TrimRight(baseURL, "/"),
		files:      files,
		cache:      c,
		httpClient: httpkit.NewClient(httpkit.WithTimeout(timeout)),
		logger:     logger.With("adapter", "yonhap_rss"),
	}
}

// KnownSection reports whether section exists.
func (n *News) KnownSection(section string) bool {
	_, ok := n.files[section]
	return ok
}

// Get returns the feed for section. A stale or missing entry is
// refetched; when that fails the previous feed is served if one exists,
// otherwise the error is returned.
func (n *News) Get(ctx context.Context, section string) (Feed, error) {
	if !n.KnownSection(section) {
		return Feed{}, fmt.Errorf("unknown section %q", section)
	}
	return n.cache.Get(ctx, section, n.fetch)
}

func (n *News) fetch(ctx context.Context, section string) (Feed, error) {
	url := n.baseURL + "/" + n.files[section]
	n.logger.Debug("fetching feed", "section", section, "url", url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Feed{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/rss+xml, application/xml, text/xml")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		n.logger.Warn("feed fetch failed", "section", section, "error", err)
		return Feed{}, unavailable("yonhap_rss", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 1<<20)

	if resp.StatusCode != http.StatusOK {
		n.logger.Warn("feed fetch failed", "section", section, "status", resp.StatusCode)
		return Feed{}, unavailable("yonhap_rss", fmt.Errorf("HTTP %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return Feed{}, unavailable("yonhap_rss", fmt.Errorf("read body: %w", err))
	}

	articles, err := parseRSS(body)
	if err != nil {
		return Feed{}, err
	}
	return Feed{Section: section, Articles: articles, UpdatedAt: time.Now()}, nil
}

type rssFeed struct {
	XMLName xml.Name   `xml:"rss"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title string    `xml:"title"`
	Items []rssItem `xml:"item"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	PubDate     string `xml:"pubDate"`
	Author      string `xml:"author"`
	Creator     string `xml:"http://purl.org/dc/elements/1.1/ creator"`
}

func parseRSS(data []byte) ([]Article, error) {
	var rf rssFeed
	if err := xml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	if rf.XMLName.Local != "rss" {
		return nil, fmt.Errorf("unrecognized feed format (expected RSS 2.0)")
	}

	articles := make([]Article, 0, len(rf.Channel.Items))
	for _, item := range rf.Channel.Items {
		author := item.Author
		if author == "" {
			author = item.Creator
		}
		articles = append(articles, Article{
			Title:       strings.TrimSpace(item.Title),
			Link:        strings.TrimSpace(item.Link),
			Description: PlainText(item.Description),
			PubDate:     normalizePubDate(item.PubDate),
			Author:      strings.TrimSpace(author),
		})
	}
	return articles, nil
}

// normalizePubDate rewrites RFC 1123 dates as RFC 3339; unparseable
// values are kept verbatim.
func normalizePubDate(s string) string {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC1123Z, time.RFC1123} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(time.RFC3339)
		}
	}
	return s
}
