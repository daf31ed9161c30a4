package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nugget/aline-bot/internal/tools"
)

// degrade converts an adapter transport fault into the Unavailable
// sentinel. Other errors (bad arguments) go back to the model as-is.
func degrade(name string, err error) (string, error) {
	if errors.Is(err, ErrUnavailable) {
		return Unavailable(name), nil
	}
	return "", err
}

func asJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode result: %w", err)
	}
	return string(b), nil
}

func floatArg(args map[string]any, key string) (float64, error) {
	switch v := args[key].(type) {
	case float64:
		return v, nil
	case string:
		var f float64
		if _, err := fmt.Sscanf(v, "%g", &f); err == nil {
			return f, nil
		}
	}
	return 0, fmt.Errorf("%s must be a number", key)
}

// WeatherTools binds the geocoder and weather adapters.
func WeatherTools(geo *Geocoder, wx *Weather) []*tools.Tool {
	return []*tools.Tool{
		{
			Name:        "search_address_to_coordinate",
			Description: "한국 주소나 지명을 위도/경도 좌표로 변환합니다.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"address": map[string]any{"type": "string", "description": "주소 또는 지명 (예: 서울시청, 부산 해운대구)"},
				},
				"required": []string{"address"},
			},
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				address := strings.TrimSpace(tools.StringArg(args, "address"))
				if address == "" {
					return "", errors.New("address is required")
				}
				c, found, err := geo.Lookup(ctx, address)
				if err != nil {
					return degrade("주소", err)
				}
				if !found {
					return AddressNotFound(address), nil
				}
				return asJSON(c)
			},
		},
		{
			Name:        "get_weather_with_time",
			Description: "좌표의 날씨를 조회합니다. target_datetime은 \"present\" 또는 ISO-8601 시각입니다.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"lat":             map[string]any{"type": "number", "description": "위도"},
					"lon":             map[string]any{"type": "number", "description": "경도"},
					"target_datetime": map[string]any{"type": "string", "description": "\"present\" 또는 2025-03-01T15:00:00 형식"},
				},
				"required": []string{"lat", "lon", "target_datetime"},
			},
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				lat, err := floatArg(args, "lat")
				if err != nil {
					return "", err
				}
				lon, err := floatArg(args, "lon")
				if err != nil {
					return "", err
				}
				report, err := wx.At(ctx, lat, lon, tools.StringArg(args, "target_datetime"))
				if err != nil {
					return degrade("날씨", err)
				}
				return asJSON(report)
			},
		},
	}
}

// TransitTools binds the station directory and arrivals adapter.
func TransitTools(stations *Stations, transit *Transit) []*tools.Tool {
	stationParam := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"station_name": map[string]any{"type": "string", "description": "지하철 역 이름"},
		},
		"required": []string{"station_name"},
	}
	return []*tools.Tool{
		{
			Name:        "get_subway_station_info",
			Description: "입력한 이름과 가장 비슷한 지하철 역 이름과 신뢰도를 반환합니다.",
			Parameters:  stationParam,
			Handler: func(_ context.Context, args map[string]any) (string, error) {
				m, ok := stations.Match(tools.StringArg(args, "station_name"))
				if !ok {
					return "일치하는 역을 찾을 수 없습니다.", nil
				}
				return asJSON(m)
			},
		},
		{
			Name:        "get_subway_arrival_info",
			Description: "역의 실시간 지하철 도착 정보를 조회합니다. 역 이름은 get_subway_station_info 결과를 사용하세요.",
			Parameters:  stationParam,
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				arrivals, err := transit.Arrivals(ctx, tools.StringArg(args, "station_name"))
				if err != nil {
					if errors.Is(err, ErrUnavailable) {
						return TransitUnavailable, nil
					}
					return "", err
				}
				return asJSON(arrivals)
			},
		},
	}
}

// NewsTools binds the news adapter. Unlike the other bindings, a fetch
// failure with nothing cached is returned as an error.
func NewsTools(news *News) []*tools.Tool {
	return []*tools.Tool{
		{
			Name:        "get_news_with_section",
			Description: "섹션별 최신 연합뉴스 기사 목록을 조회합니다.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"section": map[string]any{
						"type":        "string",
						"description": "뉴스 섹션",
						"enum":        SectionNames(),
					},
				},
				"required": []string{"section"},
			},
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				section := strings.TrimSpace(tools.StringArg(args, "section"))
				if !news.KnownSection(section) {
					return UnknownSection(section), nil
				}
				feed, err := news.Get(ctx, section)
				if err != nil {
					return "", err
				}
				return asJSON(feed)
			},
		},
	}
}

// GuideTool returns the usage guide.
func GuideTool() *tools.Tool {
	return &tools.Tool{
		Name:        "help",
		Description: "봇 사용 방법 안내를 반환합니다.",
		Handler: func(context.Context, map[string]any) (string, error) {
			return Guide(), nil
		},
	}
}
