package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nugget/aline-bot/internal/httpkit"
)

// SeoulSubwayBaseURL is the realtime arrival API root.
const SeoulSubwayBaseURL = "http://swopenapi.seoul.go.kr/api/subway"

// TransitUnavailable is the sentinel for a failed arrival lookup.
const TransitUnavailable = "서울시 지하철 도착 정보를 조회할 수 없습니다."

// arrivalsPerRequest is how many arrivals one request asks for.
const arrivalsPerRequest = 5

// subwayLines maps the API's subwayId to a line name.
var subwayLines = map[string]string{
	"1001": "1호선",
	"1002": "2호선",
	"1003": "3호선",
	"1004": "4호선",
	"1005": "5호선",
	"1006": "6호선",
	"1007": "7호선",
	"1008": "8호선",
	"1009": "9호선",
	"1061": "중앙선",
	"1063": "경의중앙선",
	"1065": "공항철도",
	"1067": "경춘선",
	"1075": "수의분당선",
	"1077": "신분당선",
	"1092": "우이신설선",
	"1093": "서해선",
	"1081": "경강선",
	"1032": "GTX-A",
}

// LineName returns the display name of a subwayId, or the ID itself
// for lines missing from the table.
func LineName(subwayID string) string {
	if name, ok := subwayLines[subwayID]; ok {
		return name
	}
	return subwayID
}

// Arrival is one train approaching a station.
type Arrival struct {
	Direction   string `json:"up_down_line"`
	Line        string `json:"subline_name"`
	Heading     string `json:"way_to_go"`
	Station     string `json:"destination_station_name"`
	Order       int    `json:"order_index"`
	ReceivedAt  string `json:"arrival_time"`
	Status      string `json:"now_train_status"`
	Location    string `json:"now_train_location"`
	TrainNumber string `json:"train_number"`
}

// Transit queries Seoul realtime subway arrivals.
type Transit struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewTransit creates an arrivals adapter.
func NewTransit(baseURL, apiKey string, timeout time.Duration, logger *slog.Logger) *Transit {
	if baseURL == "" {
		baseURL = SeoulSubwayBaseURL
	}
	return &Transit{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: httpkit.NewClient(httpkit.WithTimeout(timeout)),
		logger:     logger.With("adapter", "seoul_subway"),
	}
}

type seoulResponse struct {
	RealtimeArrivalList []struct {
		UpdnLine    string `json:"updnLine"`
		SubwayID    string `json:"subwayId"`
		TrainLineNm string `json:"trainLineNm"`
		StatnNm     string `json:"statnNm"`
		RecptnDt    string `json:"recptnDt"`
		ArvlMsg2    string `json:"arvlMsg2"`
		ArvlMsg3    string `json:"arvlMsg3"`
		BtrainNo    string `json:"btrainNo"`
	} `json:"realtimeArrivalList"`
}

// Arrivals returns upcoming trains at station. Order counts each
// direction separately, starting at 1.
func (t *Transit) Arrivals(ctx context.Context, station string) ([]Arrival, error) {
	endpoint := fmt.Sprintf("%s/%s/json/realtimeStationArrival/0/%d/%s",
		t.baseURL, url.PathEscape(t.apiKey), arrivalsPerRequest, url.PathEscape(station))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, unavailable("seoul_subway", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 1024)
		t.logger.Warn("arrival request failed", "status", resp.StatusCode, "body", body, "station", station)
		return nil, unavailable("seoul_subway", fmt.Errorf("HTTP %d", resp.StatusCode))
	}

	var out seoulResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, unavailable("seoul_subway", fmt.Errorf("decode: %w", err))
	}

	var up, down int
	arrivals := make([]Arrival, 0, len(out.RealtimeArrivalList))
	for _, item := range out.RealtimeArrivalList {
		var order int
		if item.UpdnLine == "상행" {
			up++
			order = up
		} else {
			down++
			order = down
		}
		arrivals = append(arrivals, Arrival{
			Direction:   item.UpdnLine,
			Line:        LineName(item.SubwayID),
			Heading:     item.TrainLineNm,
			Station:     item.StatnNm,
			Order:       order,
			ReceivedAt:  item.RecptnDt,
			Status:      item.ArvlMsg2,
			Location:    item.ArvlMsg3,
			TrainNumber: item.BtrainNo,
		})
	}
	return arrivals, nil
}
