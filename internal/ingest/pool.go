package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/smukkama/abay-monitor/internal/pi"
	"github.com/smukkama/abay-monitor/internal/series"
)

// fetchJob is one point to fetch within a cycle.
type fetchJob struct {
	index int
	point pi.Point
}

type fetchResult struct {
	series series.Series
	err    error
}

// fetchAll fetches every point on a fixed pool of workers. Results are in
// the order of points.
func fetchAll(ctx context.Context, fetcher pi.Fetcher, points []pi.Point, start, end time.Time, workers int) []fetchResult {
	if workers <= 0 {
		workers = 1
	}
	if workers > len(points) {
		workers = len(points)
	}

	jobs := make(chan fetchJob)
	results := make([]fetchResult, len(points))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				s, err := fetcher.Fetch(ctx, job.point, start, end)
				results[job.index] = fetchResult{series: s, err: err}
			}
		}()
	}

	for i, p := range points {
		jobs <- fetchJob{index: i, point: p}
	}
	close(jobs)
	wg.Wait()

	return results
}
