package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/nugget/aline-bot/internal/httpkit"
)

// LineBaseURL is the LINE Messaging API origin.
const LineBaseURL = "https://api.line.me"

// MaxLineText is the longest text message LINE accepts, in characters.
const MaxLineText = 5000

// DefaultPushPerSecond paces pushes when no rate is configured.
const DefaultPushPerSecond = 10

// Line sends messages through the LINE Messaging API.
type Line struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewLine creates a LINE client. perSecond bounds the request rate
// across pushes and replies.
func NewLine(baseURL, token string, perSecond float64, logger *slog.Logger) *Line {
	if baseURL == "" {
		baseURL = LineBaseURL
	}
	if perSecond <= 0 {
		perSecond = DefaultPushPerSecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	limiter := rate.NewLimiter(rate.Limit(perSecond), max(1, int(perSecond)))
	return &Line{
		baseURL: baseURL,
		token:   token,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(10*time.Second),
			httpkit.WithRateLimit(limiter),
			httpkit.WithRetry(2, 500*time.Millisecond),
			httpkit.WithThrottleRetry(),
			httpkit.WithLogger(logger),
		),
		logger: logger,
	}
}

type lineMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type pushRequest struct {
	To       string        `json:"to"`
	Messages []lineMessage `json:"messages"`
}

type replyRequest struct {
	ReplyToken string        `json:"replyToken"`
	Messages   []lineMessage `json:"messages"`
}

func textMessages(text string) []lineMessage {
	return []lineMessage{{Type: "text", Text: truncateRunes(PlainText(text), MaxLineText)}}
}

// Push implements Sink. Each push carries a fresh X-Line-Retry-Key, so
// transport retries of the same request are delivered once.
func (l *Line) Push(ctx context.Context, userID, text string) error {
	key := uuid.New().String()
	err := l.post(ctx, "/v2/bot/message/push", pushRequest{To: userID, Messages: textMessages(text)}, key)
	if err != nil {
		return fmt.Errorf("line push: %w", err)
	}
	l.logger.Debug("line push sent", "user_id", userID, "retry_key", key)
	return nil
}

// Reply answers a webhook event by its reply token.
func (l *Line) Reply(ctx context.Context, replyToken, text string) error {
	if err := l.post(ctx, "/v2/bot/message/reply", replyRequest{ReplyToken: replyToken, Messages: textMessages(text)}, ""); err != nil {
		return fmt.Errorf("line reply: %w", err)
	}
	return nil
}

func (l *Line) post(ctx context.Context, path string, body any, retryKey string) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+l.token)
	if retryKey != "" {
		req.Header.Set("X-Line-Retry-Key", retryKey)
	}

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	// 409 means a request with this retry key was already accepted.
	if resp.StatusCode == http.StatusConflict && retryKey != "" {
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 512))
	}
	return nil
}

// VerifySignature checks a webhook body against its X-Line-Signature
// header: base64 HMAC-SHA256 keyed by the channel secret.
func VerifySignature(secret string, body []byte, signature string) bool {
	got, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// Sign computes the X-Line-Signature value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
