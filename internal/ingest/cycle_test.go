package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smukkama/abay-monitor/internal/alarming"
	"github.com/smukkama/abay-monitor/internal/database"
	"github.com/smukkama/abay-monitor/internal/notification"
	"github.com/smukkama/abay-monitor/internal/pi"
	"github.com/smukkama/abay-monitor/internal/recreation"
	"github.com/smukkama/abay-monitor/internal/series"
	"github.com/smukkama/abay-monitor/internal/store"
)

var now = time.Date(2024, 7, 3, 18, 0, 0, 0, time.UTC)

// fakeFetcher serves canned series by column and fails every other point.
type fakeFetcher struct {
	data map[string][]float64 // one value per minute ending at end
}

func (f *fakeFetcher) Fetch(_ context.Context, p pi.Point, _, end time.Time) (series.Series, error) {
	values, ok := f.data[p.Column()]
	if !ok {
		return series.Series{}, pi.ErrNoData
	}
	s := series.Series{Name: p.Column()}
	start := end.Add(-time.Duration(len(values)-1) * time.Minute)
	for i, v := range values {
		s.Samples = append(s.Samples, series.Sample{Time: start.Add(time.Duration(i) * time.Minute), Value: v})
	}
	return s, nil
}

type fakeReplacer struct {
	calls int
	rows  int
	err   error
}

func (f *fakeReplacer) ReplaceTable(_ context.Context, _ string, _ []string, rows [][]any) error {
	f.calls++
	f.rows = len(rows)
	return f.err
}

// memStore is an in-memory alarm, preference and profile store.
type memStore struct {
	mu       sync.Mutex
	prefs    []*database.AlertPrefs
	profiles map[int64]*database.Profile
	alarms   []*database.IssuedAlarm
	nextID   int64
}

func (m *memStore) ListAlertPrefs(context.Context) ([]*database.AlertPrefs, error) {
	return m.prefs, nil
}

func (m *memStore) GetOrCreateActiveAlarm(_ context.Context, alarm *database.IssuedAlarm) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.alarms {
		if a.StillActive && a.UserID == alarm.UserID && a.Trigger == alarm.Trigger && a.Setpoint == alarm.Setpoint {
			*alarm = *a
			return false, nil
		}
	}
	m.nextID++
	created := *alarm
	created.ID = m.nextID
	created.StillActive = true
	m.alarms = append(m.alarms, &created)
	*alarm = created
	return true, nil
}

func (m *memStore) ListActiveAlarms(_ context.Context, trigger string) ([]*database.IssuedAlarm, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*database.IssuedAlarm
	for _, a := range m.alarms {
		if a.StillActive && a.Trigger == trigger {
			copied := *a
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *memStore) DeactivateAlarm(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.alarms {
		if a.ID == id {
			a.StillActive = false
		}
	}
	return nil
}

func (m *memStore) DeactivateAlarms(_ context.Context, trigger string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, a := range m.alarms {
		if a.StillActive && a.Trigger == trigger {
			a.StillActive = false
			n++
		}
	}
	return n, nil
}

func (m *memStore) ListUnsentAlarms(context.Context) ([]*database.IssuedAlarm, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*database.IssuedAlarm
	for _, a := range m.alarms {
		if !a.Sent {
			copied := *a
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *memStore) GetProfile(_ context.Context, userID int64) (*database.Profile, error) {
	p, ok := m.profiles[userID]
	if !ok {
		return nil, database.ErrNotFound
	}
	return p, nil
}

func (m *memStore) MarkAlarmSent(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.alarms {
		if a.ID == id {
			a.Sent = true
		}
	}
	return nil
}

type noRelease struct{}

func (noRelease) RampTimes(context.Context, time.Time) (*recreation.RampTimes, error) {
	return &recreation.RampTimes{WaterYear: recreation.AboveNormal}, nil
}

type recordingNotifier struct {
	messages []*notification.Message
}

func (r *recordingNotifier) Notify(_ context.Context, msg *notification.Message) error {
	r.messages = append(r.messages, msg)
	return nil
}

type harness struct {
	cycle    *Cycle
	alarms   *memStore
	replacer *fakeReplacer
	notifier *recordingNotifier
}

func newHarness(t *testing.T, data map[string][]float64) *harness {
	t.Helper()
	r4Hi := 100.0
	alarms := &memStore{
		prefs:    []*database.AlertPrefs{{ID: 1, UserID: 7, R4Hi: &r4Hi}},
		profiles: map[int64]*database.Profile{7: {UserID: 7, Email: "op@example.com"}},
	}
	replacer := &fakeReplacer{}
	notifier := &recordingNotifier{}
	logger := zap.NewNop()

	evaluator := alarming.NewEvaluator(alarms, alarming.NewLocalLocker(), noRelease{}, alarming.Settings{
		SetpointDelta:    0.5,
		RampTargetMW:     5.4,
		RampRateMWPerMin: 0.0422,
		MaxLeadMinutes:   60,
		MinWindowSamples: 1,
	}, logger)
	dispatcher := notification.NewDispatcher(alarms, notifier, "PCWA", time.UTC, logger)

	cycle := NewCycle(
		&fakeFetcher{data: data},
		pi.DefaultCatalog(),
		series.NewOutlierFilter(3, logger),
		store.New(replacer, nil, 24*time.Hour, logger),
		evaluator,
		dispatcher,
		Options{Lookback: 2 * time.Hour, Window: time.Hour, Workers: 3},
		logger,
	)
	cycle.now = func() time.Time { return now }
	return &harness{cycle: cycle, alarms: alarms, replacer: replacer, notifier: notifier}
}

// flatWithSpike is two hours of one-minute samples at base, with value at
// minutes [from, to).
func flatWithSpike(base, value float64, from, to int) []float64 {
	values := make([]float64, 121)
	for i := range values {
		values[i] = base
		if i >= from && i < to {
			values[i] = value
		}
	}
	return values
}

func TestCycle_SustainedBreachRaisesOneAlarm(t *testing.T) {
	// A quarter of the samples at 150 keeps the spike within z < 3.
	h := newHarness(t, map[string][]float64{
		pi.ColR4Flow: flatWithSpike(80, 150, 70, 100),
	})

	require.NoError(t, h.cycle.Run(context.Background()))
	require.NoError(t, h.cycle.Run(context.Background()))

	require.Len(t, h.alarms.alarms, 1, "re-evaluating the breached window does not duplicate")
	alarm := h.alarms.alarms[0]
	assert.Equal(t, alarming.TriggerR4Hi, alarm.Trigger)
	assert.Equal(t, int64(7), alarm.UserID)
	assert.Equal(t, 100.0, alarm.Setpoint)
	assert.Equal(t, 150.0, alarm.TriggerValue)
	assert.True(t, alarm.StillActive)
	assert.True(t, alarm.Sent)

	require.Len(t, h.notifier.messages, 1)
	assert.Equal(t, "PCWA Alarm For R4", h.notifier.messages[0].Subject)
	assert.Equal(t, 2, h.replacer.calls)
	assert.Equal(t, 121, h.replacer.rows)
}

func TestCycle_IsolatedSpikeIsFilteredOut(t *testing.T) {
	h := newHarness(t, map[string][]float64{
		pi.ColR4Flow: flatWithSpike(80, 150, 90, 91),
	})

	require.NoError(t, h.cycle.Run(context.Background()))

	assert.Empty(t, h.alarms.alarms)
	assert.Empty(t, h.notifier.messages)
}

func TestCycle_RetiresWhenWindowRecovers(t *testing.T) {
	h := newHarness(t, map[string][]float64{
		pi.ColR4Flow: flatWithSpike(80, 150, 70, 100),
	})
	require.NoError(t, h.cycle.Run(context.Background()))
	require.Len(t, h.alarms.alarms, 1)

	h.cycle.fetcher = &fakeFetcher{data: map[string][]float64{pi.ColR4Flow: flatWithSpike(80, 80, 0, 0)}}
	require.NoError(t, h.cycle.Run(context.Background()))

	assert.False(t, h.alarms.alarms[0].StillActive)
}

func TestCycle_NoDataSkipsPublish(t *testing.T) {
	h := newHarness(t, nil)

	err := h.cycle.Run(context.Background())
	assert.ErrorIs(t, err, ErrNoData)
	assert.Zero(t, h.replacer.calls)
}

func TestCycle_PublishFailureIsReturned(t *testing.T) {
	h := newHarness(t, map[string][]float64{pi.ColR4Flow: flatWithSpike(80, 80, 0, 0)})
	h.replacer.err = errors.New("disk full")

	err := h.cycle.Run(context.Background())
	assert.ErrorContains(t, err, "disk full")
	assert.Empty(t, h.alarms.alarms)
}
