package pi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/smukkama/abay-monitor/internal/series"
	"github.com/smukkama/abay-monitor/pkg/config"
)

const timeLayout = "2006-01-02T15:04:00-00:00"

var (
	// ErrNoData is returned when the provider answers without any items.
	ErrNoData = errors.New("pi: no data returned")
	// ErrMalformed is returned for responses missing required fields.
	ErrMalformed = errors.New("pi: malformed response")
)

// Fetcher retrieves a point's values as a time-indexed series.
type Fetcher interface {
	Fetch(ctx context.Context, p Point, start, end time.Time) (series.Series, error)
}

type attributeResponse struct {
	Links struct {
		InterpolatedData string `json:"InterpolatedData"`
	} `json:"Links"`
}

// Item is one PI interpolated value. Quality flags are decoded but not used
// to exclude data.
type Item struct {
	Timestamp         time.Time       `json:"Timestamp"`
	Value             json.RawMessage `json:"Value"`
	UnitsAbbreviation string          `json:"UnitsAbbreviation"`
	Good              bool            `json:"Good"`
	Questionable      bool            `json:"Questionable"`
	Substituted       bool            `json:"Substituted"`
}

type itemsResponse struct {
	Items []Item `json:"Items"`
}

// Client talks to the PI Web API.
type Client struct {
	http     *resty.Client
	server   string
	interval string
	logger   *zap.Logger

	mu   sync.Mutex
	urls map[string]string // point path -> InterpolatedData link
}

// NewClient creates a PI Web API client. Calls are not retried.
func NewClient(cfg *config.PIConfig, logger *zap.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")

	return &Client{
		http:     httpClient,
		server:   cfg.Server,
		interval: cfg.Interval,
		logger:   logger,
		urls:     make(map[string]string),
	}
}

// Fetch returns the interpolated series for p between start and end. The
// series is named after the point's snapshot column.
func (c *Client) Fetch(ctx context.Context, p Point, start, end time.Time) (series.Series, error) {
	link, err := c.dataURL(ctx, p)
	if err != nil {
		return series.Series{}, err
	}

	var body itemsResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"startTime": start.UTC().Format(timeLayout),
			"endTime":   end.UTC().Format(timeLayout),
			"interval":  c.interval,
		}).
		SetResult(&body).
		Get(link)
	if err != nil {
		return series.Series{}, fmt.Errorf("fetch %s: %w", p, err)
	}
	if resp.IsError() {
		return series.Series{}, fmt.Errorf("fetch %s: status %d", p, resp.StatusCode())
	}
	if len(body.Items) == 0 {
		return series.Series{}, fmt.Errorf("fetch %s: %w", p, ErrNoData)
	}

	out := series.Series{Name: p.Column(), Samples: make([]series.Sample, 0, len(body.Items))}
	for _, item := range body.Items {
		if item.Timestamp.IsZero() {
			return series.Series{}, fmt.Errorf("fetch %s: item without timestamp: %w", p, ErrMalformed)
		}
		out.Samples = append(out.Samples, series.Sample{
			Time:  item.Timestamp.UTC(),
			Value: decodeValue(item.Value),
		})
	}
	return out.Sorted(), nil
}

func (c *Client) dataURL(ctx context.Context, p Point) (string, error) {
	path := p.Path(c.server)

	c.mu.Lock()
	link, ok := c.urls[path]
	c.mu.Unlock()
	if ok {
		return link, nil
	}

	var body attributeResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("path", path).
		SetResult(&body).
		Get("/attributes")
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", p, err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("resolve %s: status %d", p, resp.StatusCode())
	}
	if body.Links.InterpolatedData == "" {
		return "", fmt.Errorf("resolve %s: missing InterpolatedData link: %w", p, ErrMalformed)
	}

	c.mu.Lock()
	c.urls[path] = body.Links.InterpolatedData
	c.mu.Unlock()

	c.logger.Debug("Resolved PI attribute", zap.String("path", path), zap.String("url", body.Links.InterpolatedData))
	return body.Links.InterpolatedData, nil
}

// decodeValue maps a PI value to a float. PI reports missing data as an
// object (e.g. {"Name":"No Data"}); those and any non-numeric value become NaN.
func decodeValue(raw json.RawMessage) float64 {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] == '{' || bytes.Equal(raw, []byte("null")) {
		return series.Missing()
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return series.Missing()
}
