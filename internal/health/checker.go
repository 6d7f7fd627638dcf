package health

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/smukkama/abay-monitor/internal/notification"
)

// Status is one job's health.
type Status struct {
	Job         string
	LastSuccess time.Time // zero when never reported
	Stale       bool
}

// HeartbeatReader reads the last success of a job.
type HeartbeatReader interface {
	Last(ctx context.Context, job string) (time.Time, bool, error)
}

// Checker alerts operators when a job's last success is older than the
// staleness limit. Each stale episode is reported once.
type Checker struct {
	heartbeats HeartbeatReader
	notifier   notification.Notifier
	jobs       []string
	staleAfter time.Duration
	operators  []string
	prefix     string
	logger     *zap.Logger

	alerted map[string]bool
	now     func() time.Time
}

func NewChecker(heartbeats HeartbeatReader, notifier notification.Notifier, jobs []string,
	staleAfter time.Duration, operators []string, subjectPrefix string, logger *zap.Logger) *Checker {
	return &Checker{
		heartbeats: heartbeats,
		notifier:   notifier,
		jobs:       jobs,
		staleAfter: staleAfter,
		operators:  operators,
		prefix:     subjectPrefix,
		logger:     logger,
		alerted:    make(map[string]bool),
		now:        time.Now,
	}
}

// Statuses reports the health of every watched job.
func (c *Checker) Statuses(ctx context.Context) ([]Status, error) {
	now := c.now()
	out := make([]Status, 0, len(c.jobs))
	for _, job := range c.jobs {
		last, ok, err := c.heartbeats.Last(ctx, job)
		if err != nil {
			return nil, err
		}
		out = append(out, Status{
			Job:         job,
			LastSuccess: last,
			Stale:       !ok || now.Sub(last) > c.staleAfter,
		})
	}
	return out, nil
}

// Check notifies the operators about newly stale jobs.
func (c *Checker) Check(ctx context.Context) error {
	statuses, err := c.Statuses(ctx)
	if err != nil {
		return err
	}

	var errs []error
	for _, st := range statuses {
		if !st.Stale {
			if c.alerted[st.Job] {
				c.logger.Info("Job recovered", zap.String("job", st.Job))
			}
			delete(c.alerted, st.Job)
			continue
		}
		if c.alerted[st.Job] {
			continue
		}

		c.logger.Error("Job is stale", zap.String("job", st.Job), zap.Time("last_success", st.LastSuccess))
		if err := c.alert(ctx, st); err != nil {
			errs = append(errs, err)
			continue
		}
		c.alerted[st.Job] = true
	}
	return errors.Join(errs...)
}

func (c *Checker) alert(ctx context.Context, st Status) error {
	last := "never"
	if !st.LastSuccess.IsZero() {
		last = st.LastSuccess.UTC().Format(time.RFC3339)
	}
	msg := &notification.Message{
		Trigger:    "health_" + st.Job,
		Recipients: c.operators,
		Subject:    fmt.Sprintf("%s Monitor Stale: %s", c.prefix, st.Job),
		Body:       fmt.Sprintf("Job %s has not succeeded within %s.\nLast success: %s\n", st.Job, c.staleAfter, last),
	}
	if err := c.notifier.Notify(ctx, msg); err != nil {
		return fmt.Errorf("failed to alert operators about %s: %w", st.Job, err)
	}
	return nil
}
