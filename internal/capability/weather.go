package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nugget/aline-bot/internal/httpkit"
)

// Default endpoints.
const (
	OpenWeatherBaseURL = "https://api.openweathermap.org/data/3.0"
	NaverGeocodeURL    = "https://maps.apigw.ntruss.com/map-geocode/v2/geocode"
)

// Present asks for current conditions instead of a point in time.
const Present = "present"

// Report is the weather at one place and time.
type Report struct {
	Time        time.Time `json:"time"`
	TempC       float64   `json:"temp_c"`
	FeelsLikeC  float64   `json:"feels_like_c"`
	Humidity    int       `json:"humidity"`
	WindSpeed   float64   `json:"wind_speed_ms"`
	Description string    `json:"description"`
}

// Weather queries the OpenWeather One Call 3.0 API.
type Weather struct {
	baseURL    string
	apiKey     string
	loc        *time.Location
	httpClient *http.Client
	logger     *slog.Logger
}

// NewWeather creates a weather adapter. Times given without an offset
// are interpreted in loc.
func NewWeather(baseURL, apiKey string, loc *time.Location, timeout time.Duration, logger *slog.Logger) *Weather {
	if baseURL == "" {
		baseURL = OpenWeatherBaseURL
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Weather{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		loc:        loc,
		httpClient: httpkit.NewClient(httpkit.WithTimeout(timeout)),
		logger:     logger.With("adapter", "openweather"),
	}
}

type owConditions struct {
	Dt        int64   `json:"dt"`
	Temp      float64 `json:"temp"`
	FeelsLike float64 `json:"feels_like"`
	Humidity  int     `json:"humidity"`
	WindSpeed float64 `json:"wind_speed"`
	Weather   []struct {
		Description string `json:"description"`
	} `json:"weather"`
}

type owResponse struct {
	Current *owConditions  `json:"current"`
	Data    []owConditions `json:"data"`
}

// At returns conditions at lat/lon for target, which is Present or an
// ISO-8601 date-time.
func (w *Weather) At(ctx context.Context, lat, lon float64, target string) (Report, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(lat, 'f', 6, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', 6, 64))
	q.Set("appid", w.apiKey)
	q.Set("units", "metric")
	q.Set("lang", "kr")

	endpoint := w.baseURL + "/onecall"
	if target == "" || target == Present {
		q.Set("exclude", "minutely,hourly,daily,alerts")
	} else {
		at, err := ParseTargetTime(target, w.loc)
		if err != nil {
			return Report{}, err
		}
		endpoint += "/timemachine"
		q.Set("dt", strconv.FormatInt(at.Unix(), 10))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return Report{}, fmt.Errorf("create request: %w", err)
	}
	resp, err := w.httpClient.Do(req)
	if err != nil {
		return Report{}, unavailable("openweather", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 1024)
		w.logger.Warn("weather request failed", "status", resp.StatusCode, "body", body)
		return Report{}, unavailable("openweather", fmt.Errorf("HTTP %d", resp.StatusCode))
	}

	var out owResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Report{}, unavailable("openweather", fmt.Errorf("decode: %w", err))
	}

	cond := out.Current
	if cond == nil && len(out.Data) > 0 {
		cond = &out.Data[0]
	}
	if cond == nil {
		return Report{}, unavailable("openweather", fmt.Errorf("empty response"))
	}

	r := Report{
		Time:       time.Unix(cond.Dt, 0).In(w.loc),
		TempC:      cond.Temp,
		FeelsLikeC: cond.FeelsLike,
		Humidity:   cond.Humidity,
		WindSpeed:  cond.WindSpeed,
	}
	if len(cond.Weather) > 0 {
		r.Description = cond.Weather[0].Description
	}
	return r, nil
}

var targetLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTargetTime parses an ISO-8601 date or date-time. Values without
// an offset are read in loc.
func ParseTargetTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range targetLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid target time %q (want %q or ISO-8601)", s, Present)
}

// Coordinates is a geocoded address.
type Coordinates struct {
	Address string  `json:"address"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

// Geocoder resolves Korean addresses with the Naver Maps API.
type Geocoder struct {
	endpoint     string
	clientID     string
	clientSecret string
	httpClient   *http.Client
	logger       *slog.Logger
}

// NewGeocoder creates a Naver geocoder.
func NewGeocoder(endpoint, clientID, clientSecret string, timeout time.Duration, logger *slog.Logger) *Geocoder {
	if endpoint == "" {
		endpoint = NaverGeocodeURL
	}
	return &Geocoder{
		endpoint:     endpoint,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   httpkit.NewClient(httpkit.WithTimeout(timeout)),
		logger:       logger.With("adapter", "naver_geocode"),
	}
}

// AddressNotFound is the sentinel for an address with no match.
func AddressNotFound(address string) string {
	return fmt.Sprintf("%s 주소를 찾을 수 없습니다.", address)
}

type naverResponse struct {
	Meta struct {
		TotalCount int `json:"totalCount"`
	} `json:"meta"`
	Addresses []struct {
		RoadAddress  string `json:"roadAddress"`
		JibunAddress string `json:"jibunAddress"`
		X            string `json:"x"`
		Y            string `json:"y"`
	} `json:"addresses"`
}

// Lookup geocodes address. found is false when the API has no match.
func (g *Geocoder) Lookup(ctx context.Context, address string) (c Coordinates, found bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoint+"?query="+url.QueryEscape(address), nil)
	if err != nil {
		return Coordinates{}, false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("x-ncp-apigw-api-key-id", g.clientID)
	req.Header.Set("x-ncp-apigw-api-key", g.clientSecret)
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return Coordinates{}, false, unavailable("naver_geocode", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 1024)
		g.logger.Warn("geocode request failed", "status", resp.StatusCode, "body", body, "address", address)
		return Coordinates{}, false, nil
	}

	var out naverResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Coordinates{}, false, unavailable("naver_geocode", fmt.Errorf("decode: %w", err))
	}
	if out.Meta.TotalCount == 0 || len(out.Addresses) == 0 {
		g.logger.Debug("no geocode results", "address", address)
		return Coordinates{}, false, nil
	}

	item := out.Addresses[0]
	lon, errX := strconv.ParseFloat(item.X, 64)
	lat, errY := strconv.ParseFloat(item.Y, 64)
	if errX != nil || errY != nil {
		return Coordinates{}, false, nil
	}
	name := item.RoadAddress
	if name == "" {
		name = item.JibunAddress
	}
	return Coordinates{Address: name, Lat: lat, Lon: lon}, true, nil
}
