package forecast

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/smukkama/abay-monitor/internal/series"
	"github.com/smukkama/abay-monitor/pkg/config"
)

const (
	issueLayout = "2006010215"
	kcfsToCFS   = 1000
)

// Station identifiers in the CNRFC export and the forecast they feed.
var stations = map[string]func(*HydroRow, float64){
	"MFAC1L": func(r *HydroRow, v float64) { r.R20 = v },
	"RUFC1":  func(r *HydroRow, v float64) { r.R30 = v },
	"MFPC1":  func(r *HydroRow, v float64) { r.R4 = v },
	"MFAC1":  func(r *HydroRow, v float64) { r.R11 = v },
}

var gmtLayouts = []string{"2006-01-02 15:04:05", "2006-01-02 15:04", time.RFC3339}

// ErrBadExport is returned for archives that do not hold a usable CSV.
var ErrBadExport = errors.New("cnrfc: malformed export")

// IssueSource returns the hydrologic forecasts available at a time.
type IssueSource interface {
	FetchAll(ctx context.Context, now time.Time) ([]Issue, error)
}

// CNRFCClient downloads the river forecast center's zipped CSV exports.
type CNRFCClient struct {
	http       *resty.Client
	basin      string
	daysBack   int
	issueHours []int
	logger     *zap.Logger
}

func NewCNRFCClient(cfg *config.CNRFCConfig, logger *zap.Logger) *CNRFCClient {
	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout)

	return &CNRFCClient{
		http:       httpClient,
		basin:      cfg.Basin,
		daysBack:   cfg.DaysBack,
		issueHours: cfg.IssueHours,
		logger:     logger,
	}
}

// IssueStamps lists the issue stamps (YYYYMMDDHH) to try, oldest first.
func (c *CNRFCClient) IssueStamps(now time.Time) []string {
	now = now.UTC()
	var stamps []string
	for d := -c.daysBack; d <= 0; d++ {
		day := now.AddDate(0, 0, d).Format("20060102")
		for _, hr := range c.issueHours {
			stamps = append(stamps, fmt.Sprintf("%s%02d", day, hr))
		}
	}
	return stamps
}

// FetchAll downloads every available issue. Missing files are logged and
// skipped; ErrNoForecast is returned when nothing could be read.
func (c *CNRFCClient) FetchAll(ctx context.Context, now time.Time) ([]Issue, error) {
	var issues []Issue
	for _, stamp := range c.IssueStamps(now) {
		issue, err := c.Fetch(ctx, stamp)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Warn("CNRFC download failed", zap.String("issue", stamp), zap.Error(err))
			continue
		}
		issues = append(issues, *issue)
	}
	if len(issues) == 0 {
		return nil, ErrNoForecast
	}
	return issues, nil
}

// Fetch downloads and parses one issue.
func (c *CNRFCClient) Fetch(ctx context.Context, stamp string) (*Issue, error) {
	issued, err := time.ParseInLocation(issueLayout, stamp, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("bad issue stamp %q: %w", stamp, err)
	}

	resp, err := c.http.R().
		SetContext(ctx).
		Get(fmt.Sprintf("/%s_%s_csv_export.zip", stamp, c.basin))
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", stamp, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch %s: status %d", stamp, resp.StatusCode())
	}

	issue, err := ParseExport(resp.Body(), issued)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", stamp, err)
	}
	return issue, nil
}

// ParseExport reads the first CSV in a CNRFC zip archive. The export has a
// two-line header; the second line carries units and is skipped. Flows are
// converted from kcfs to cfs.
func ParseExport(data []byte, issued time.Time) (*Issue, error) {
	archive, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadExport, err)
	}
	if len(archive.File) == 0 {
		return nil, fmt.Errorf("%w: empty archive", ErrBadExport)
	}
	f, err := archive.File[0].Open()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadExport, err)
	}
	defer f.Close()
	return parseCSV(f, issued)
}

func parseCSV(r io.Reader, issued time.Time) (*Issue, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrBadExport, err)
	}
	gmtCol := -1
	setters := make(map[int]func(*HydroRow, float64))
	for i, name := range header {
		name = strings.TrimSpace(name)
		if name == "GMT" {
			gmtCol = i
		}
		if set, ok := stations[name]; ok {
			setters[i] = set
		}
	}
	if gmtCol < 0 {
		return nil, fmt.Errorf("%w: no GMT column", ErrBadExport)
	}

	// Units row.
	if _, err := reader.Read(); err != nil {
		return nil, fmt.Errorf("%w: units: %v", ErrBadExport, err)
	}

	issue := &Issue{Issued: issued.UTC()}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadExport, err)
		}
		if gmtCol >= len(record) {
			continue
		}
		gmt, ok := parseGMT(record[gmtCol])
		if !ok {
			continue
		}

		row := HydroRow{GMT: gmt, R20: series.Missing(), R30: series.Missing(), R4: series.Missing(), R11: series.Missing()}
		for i, set := range setters {
			if i >= len(record) {
				continue
			}
			if v, err := strconv.ParseFloat(strings.TrimSpace(record[i]), 64); err == nil {
				set(&row, v*kcfsToCFS)
			}
		}
		issue.Rows = append(issue.Rows, row)
	}
	return issue, nil
}

func parseGMT(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range gmtLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// EmptyIssue is the placeholder used when no forecast could be downloaded:
// an hourly frame from 48 hours back to 72 hours ahead with unknown flows.
func EmptyIssue(now time.Time) Issue {
	start := now.UTC().Add(-48 * time.Hour).Truncate(time.Hour)
	end := now.UTC().Add(72 * time.Hour).Truncate(time.Hour)
	issue := Issue{}
	for ts := start; !ts.After(end); ts = ts.Add(time.Hour) {
		issue.Rows = append(issue.Rows, HydroRow{
			GMT: ts,
			R20: series.Missing(), R30: series.Missing(), R4: series.Missing(), R11: series.Missing(),
		})
	}
	return issue
}
