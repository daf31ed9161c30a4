package capability

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nugget/aline-bot/internal/cache"
	"github.com/nugget/aline-bot/internal/tools"
)

var kst = time.FixedZone("KST", 9*60*60)

func TestRatio(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"abcd", "bcde", 0.75},
		{"강남", "강남역", 0.8},
		{"", "", 1},
		{"서울", "부산", 0},
		{"same", "same", 1},
	}
	for _, tt := range tests {
		if got := Ratio(tt.a, tt.b); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("Ratio(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestStations_MatchBestAndFirstOnTie(t *testing.T) {
	s := NewStations([]string{"서울역", "서울숲", "강남", "역삼"}, slog.Default())

	m, ok := s.Match("서울")
	if !ok {
		t.Fatal("Match returned no result")
	}
	if m.Name != "서울역" {
		t.Errorf("Match(서울) = %q, want 서울역 (first on tie)", m.Name)
	}
	if math.Abs(m.Confidence-0.8) > 1e-9 {
		t.Errorf("confidence = %v, want 0.8", m.Confidence)
	}

	if m, _ := s.Match("강남역"); m.Name != "강남" {
		t.Errorf("Match(강남역) = %q, want 강남", m.Name)
	}
}

func TestLoadStations_ObjectKeepsFileOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stations.json")
	os.WriteFile(path, []byte(`{"서울숲": {"line": "수인분당선"}, "서울역": {"line": "1호선"}}`), 0o600)

	s, err := LoadStations(path, slog.Default())
	if err != nil {
		t.Fatalf("LoadStations: %v", err)
	}
	if s.Len() != 2 {
		t.Fatalf("Len = %d, want 2", s.Len())
	}
	if m, _ := s.Match("서울"); m.Name != "서울숲" {
		t.Errorf("Match(서울) = %q, want 서울숲 (first key in file)", m.Name)
	}
}

func TestLoadStations_Array(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stations.json")
	os.WriteFile(path, []byte(`["시청", "종각"]`), 0o600)

	s, err := LoadStations(path, slog.Default())
	if err != nil {
		t.Fatalf("LoadStations: %v", err)
	}
	if m, _ := s.Match("종각역"); m.Name != "종각" {
		t.Errorf("Match = %q, want 종각", m.Name)
	}
}

func TestLoadStations_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stations.json")
	os.WriteFile(path, []byte(`[]`), 0o600)
	if _, err := LoadStations(path, slog.Default()); err == nil {
		t.Fatal("LoadStations with empty directory should error")
	}
}

func TestWeather_PresentAndTimemachine(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if r.URL.Query().Get("units") != "metric" {
			t.Errorf("units = %q, want metric", r.URL.Query().Get("units"))
		}
		if strings.HasSuffix(r.URL.Path, "/timemachine") {
			if r.URL.Query().Get("dt") != "1740816000" {
				t.Errorf("dt = %q, want 1740816000", r.URL.Query().Get("dt"))
			}
			w.Write([]byte(`{"data":[{"dt":1740816000,"temp":3.5,"feels_like":1.0,"humidity":40,"wind_speed":2.1,"weather":[{"description":"맑음"}]}]}`))
			return
		}
		w.Write([]byte(`{"current":{"dt":1740816000,"temp":12.3,"feels_like":11.0,"humidity":55,"wind_speed":1.5,"weather":[{"description":"구름조금"}]}}`))
	}))
	defer srv.Close()

	wx := NewWeather(srv.URL, "key", kst, time.Second, slog.Default())

	now, err := wx.At(context.Background(), 37.56, 126.97, Present)
	if err != nil {
		t.Fatalf("At(present): %v", err)
	}
	if now.TempC != 12.3 || now.Description != "구름조금" {
		t.Errorf("present report = %+v", now)
	}

	past, err := wx.At(context.Background(), 37.56, 126.97, "2025-03-01T17:00:00")
	if err != nil {
		t.Fatalf("At(iso): %v", err)
	}
	if past.TempC != 3.5 || past.Humidity != 40 {
		t.Errorf("timemachine report = %+v", past)
	}
	if len(paths) != 2 || paths[0] != "/onecall" || paths[1] != "/onecall/timemachine" {
		t.Errorf("paths = %v", paths)
	}
}

func TestWeatherTools_DegradeOnTransportFault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	wx := NewWeather(srv.URL, "key", kst, time.Second, slog.Default())
	geo := NewGeocoder(srv.URL, "id", "secret", time.Second, slog.Default())
	reg := tools.NewRegistry(WeatherTools(geo, wx)...)

	got, err := reg.Execute(context.Background(), "get_weather_with_time", `{"lat":37.5,"lon":127,"target_datetime":"present"}`)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got != Unavailable("날씨") {
		t.Errorf("result = %q, want unavailable sentinel", got)
	}

	// Non-200 from the geocoder is reported as "not found".
	got, err = reg.Execute(context.Background(), "search_address_to_coordinate", `{"address":"없는주소"}`)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got != AddressNotFound("없는주소") {
		t.Errorf("result = %q, want %q", got, AddressNotFound("없는주소"))
	}
}

func TestGeocoder_Lookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-ncp-apigw-api-key-id") != "id" || r.Header.Get("x-ncp-apigw-api-key") != "secret" {
			t.Errorf("missing Naver auth headers")
		}
		if r.URL.Query().Get("query") == "nowhere" {
			w.Write([]byte(`{"meta":{"totalCount":0},"addresses":[]}`))
			return
		}
		w.Write([]byte(`{"meta":{"totalCount":1},"addresses":[{"roadAddress":"서울특별시 중구 세종대로 110","x":"126.9779","y":"37.5663"}]}`))
	}))
	defer srv.Close()

	geo := NewGeocoder(srv.URL, "id", "secret", time.Second, slog.Default())
	c, found, err := geo.Lookup(context.Background(), "서울시청")
	if err != nil || !found {
		t.Fatalf("Lookup = %v, %v", found, err)
	}
	if c.Lat != 37.5663 || c.Lon != 126.9779 {
		t.Errorf("coords = %+v", c)
	}
	if _, found, err := geo.Lookup(context.Background(), "nowhere"); found || err != nil {
		t.Errorf("Lookup(nowhere) = %v, %v, want not found", found, err)
	}
}

func TestTransit_ArrivalsOrderPerDirection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/json/realtimeStationArrival/0/5/강남") {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Write([]byte(`{"realtimeArrivalList":[
			{"updnLine":"상행","subwayId":"1002","trainLineNm":"성수행","statnNm":"강남","arvlMsg2":"전역 도착","btrainNo":"2201"},
			{"updnLine":"하행","subwayId":"1002","trainLineNm":"신도림행","statnNm":"강남","arvlMsg2":"3분 후"},
			{"updnLine":"상행","subwayId":"1077","trainLineNm":"신사행","statnNm":"강남","arvlMsg2":"5분 후"},
			{"updnLine":"외선","subwayId":"9999","trainLineNm":"?","statnNm":"강남"}
		]}`))
	}))
	defer srv.Close()

	tr := NewTransit(srv.URL, "key", time.Second, slog.Default())
	got, err := tr.Arrivals(context.Background(), "강남")
	if err != nil {
		t.Fatalf("Arrivals: %v", err)
	}
	wantOrder := []int{1, 1, 2, 2}
	wantLine := []string{"2호선", "2호선", "신분당선", "9999"}
	for i, a := range got {
		if a.Order != wantOrder[i] {
			t.Errorf("arrival %d order = %d, want %d", i, a.Order, wantOrder[i])
		}
		if a.Line != wantLine[i] {
			t.Errorf("arrival %d line = %q, want %q", i, a.Line, wantLine[i])
		}
	}
}

func TestTransitTools_Unavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	reg := tools.NewRegistry(TransitTools(NewStations([]string{"강남"}, slog.Default()),
		NewTransit(srv.URL, "key", time.Second, slog.Default()))...)
	got, err := reg.Execute(context.Background(), "get_subway_arrival_info", `{"station_name":"강남"}`)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got != TransitUnavailable {
		t.Errorf("result = %q, want %q", got, TransitUnavailable)
	}
}

const sampleRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:dc="http://purl.org/dc/elements/1.1/">
<channel><title>연합뉴스 경제</title>
<item>
  <title>환율 하락</title>
  <link>https://www.yna.co.kr/view/1</link>
  <description><![CDATA[<p>원/달러 환율이 <b>하락</b>했다.</p>]]></description>
  <pubDate>Mon, 03 Mar 2025 09:00:00 +0900</pubDate>
  <dc:creator>홍길동</dc:creator>
</item>
</channel></rss>`

func TestNews_CachesWithinTTL(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != "/economy.xml" {
			t.Errorf("path = %q, want /economy.xml", r.URL.Path)
		}
		w.Write([]byte(sampleRSS))
	}))
	defer srv.Close()

	n := NewNews(srv.URL, cache.New[Feed](4*time.Hour), time.Second, slog.Default())
	first, err := n.Get(context.Background(), "경제")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	second, err := n.Get(context.Background(), "경제")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if hits.Load() != 1 {
		t.Errorf("feed hits = %d, want 1", hits.Load())
	}
	if len(first.Articles) != 1 || first.Articles[0].Title != second.Articles[0].Title {
		t.Fatalf("articles differ: %+v vs %+v", first.Articles, second.Articles)
	}
	a := first.Articles[0]
	if a.Description != "원/달러 환율이 하락했다." {
		t.Errorf("description = %q", a.Description)
	}
	if a.Author != "홍길동" {
		t.Errorf("author = %q, want 홍길동", a.Author)
	}
	if a.PubDate != "2025-03-03T09:00:00+09:00" {
		t.Errorf("pub_date = %q", a.PubDate)
	}
}

func TestNews_StaleServedOnFailureAndErrorWhenEmpty(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(sampleRSS))
	}))
	defer srv.Close()

	now := time.Date(2025, 3, 3, 9, 0, 0, 0, kst)
	c := cache.New[Feed](time.Hour, cache.WithClock[Feed](func() time.Time { return now }))
	n := NewNews(srv.URL, c, time.Second, slog.Default())

	fail.Store(true)
	if _, err := n.Get(context.Background(), "정치"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Get with empty cache err = %v, want ErrUnavailable", err)
	}

	fail.Store(false)
	if _, err := n.Get(context.Background(), "정치"); err != nil {
		t.Fatalf("Get: %v", err)
	}

	now = now.Add(2 * time.Hour)
	fail.Store(true)
	feed, err := n.Get(context.Background(), "정치")
	if err != nil {
		t.Fatalf("Get with stale entry err = %v, want stale feed", err)
	}
	if len(feed.Articles) != 1 {
		t.Errorf("stale feed articles = %d, want 1", len(feed.Articles))
	}
}

func TestNewsTools_UnknownSection(t *testing.T) {
	n := NewNews("http://127.0.0.1:0", cache.New[Feed](time.Hour), time.Second, slog.Default())
	reg := tools.NewRegistry(NewsTools(n)...)
	got, err := reg.Execute(context.Background(), "get_news_with_section", `{"section":"날씨"}`)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got != "존재하지 않는 섹션입니다. 날씨" {
		t.Errorf("result = %q", got)
	}
}

func TestPlainText(t *testing.T) {
	tests := []struct{ in, want string }{
		{"plain  text", "plain text"},
		{"<p>one</p><p>two</p>", "one\ntwo"},
		{"<ul><li>a</li><li>b</li></ul>", "- a\n- b"},
		{"a &amp; b<script>x()</script>", "a & b"},
		{`<a href="https://news.example/1">기사</a>`, "기사 (https://news.example/1)"},
		{`<a href="/relative">기사</a>`, "기사"},
	}
	for _, tt := range tests {
		if got := PlainText(tt.in); got != tt.want {
			t.Errorf("PlainText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseTargetTime(t *testing.T) {
	got, err := ParseTargetTime("2025-03-01T17:00", kst)
	if err != nil {
		t.Fatal(err)
	}
	if got.Unix() != 1740816000 {
		t.Errorf("unix = %d, want 1740816000", got.Unix())
	}
	if _, err := ParseTargetTime("tomorrow", kst); err == nil {
		t.Error("ParseTargetTime(tomorrow) should error")
	}
}
