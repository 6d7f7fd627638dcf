package notification

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smukkama/abay-monitor/internal/alarming"
	"github.com/smukkama/abay-monitor/internal/database"
	"github.com/smukkama/abay-monitor/internal/protocol"
	"github.com/smukkama/abay-monitor/pkg/config"
)

type fakeStore struct {
	listErr  error
	alarms   []*database.IssuedAlarm
	profiles map[int64]*database.Profile
	sent     []int64
	lookups  int
}

func (f *fakeStore) ListUnsentAlarms(context.Context) ([]*database.IssuedAlarm, error) {
	return f.alarms, f.listErr
}

func (f *fakeStore) GetProfile(_ context.Context, userID int64) (*database.Profile, error) {
	f.lookups++
	p, ok := f.profiles[userID]
	if !ok {
		return nil, database.ErrNotFound
	}
	return p, nil
}

func (f *fakeStore) MarkAlarmSent(_ context.Context, id int64) error {
	f.sent = append(f.sent, id)
	return nil
}

type recordingNotifier struct {
	messages []*Message
	failFor  map[int64]bool
}

func (r *recordingNotifier) Notify(_ context.Context, msg *Message) error {
	if r.failFor[msg.AlarmID] {
		return errors.New("gateway down")
	}
	r.messages = append(r.messages, msg)
	return nil
}

func strPtr(s string) *string { return &s }

func pacific(t *testing.T) *time.Location {
	loc, err := time.LoadLocation("America/Los_Angeles")
	require.NoError(t, err)
	return loc
}

func newTestDispatcher(t *testing.T, store Store, notifier Notifier) *Dispatcher {
	return NewDispatcher(store, notifier, "PCWA", pacific(t), zap.NewNop())
}

func TestRecipients(t *testing.T) {
	assert.Equal(t,
		[]string{"op@example.com", "5551234567@vzwpix.com"},
		Recipients(&database.Profile{Email: "op@example.com", PhoneNumber: strPtr("5551234567"), PhoneCarrier: strPtr("Verizon")}))

	assert.Equal(t,
		[]string{"op@example.com"},
		Recipients(&database.Profile{Email: "op@example.com", PhoneNumber: strPtr("5551234567"), PhoneCarrier: strPtr("Pigeon")}))

	assert.Empty(t, Recipients(&database.Profile{}))
}

func TestRender_Threshold(t *testing.T) {
	d := newTestDispatcher(t, nil, nil)
	msg, err := d.Render(&database.IssuedAlarm{
		ID: 1, UserID: 2, Trigger: alarming.TriggerR4Hi, Setpoint: 100, TriggerValue: 150.5,
	}, []string{"op@example.com"})
	require.NoError(t, err)

	assert.Equal(t, "PCWA Alarm For R4", msg.Subject)
	assert.Equal(t, "r4_hi triggered this alert\nCurrent Value: 150.5\nYour threshold: 100\n", msg.Body)
}

func TestRender_RampShowsTargetClockTime(t *testing.T) {
	d := newTestDispatcher(t, nil, nil)
	// 17:00 UTC is 10:00 PDT; 45 minutes later is 10:45.
	triggered := time.Date(2024, 7, 3, 17, 0, 0, 0, time.UTC)
	msg, err := d.Render(&database.IssuedAlarm{
		ID: 1, Trigger: alarming.TriggerRampUp, Setpoint: 60, TriggerValue: 45, TriggerTime: triggered,
	}, []string{"op@example.com"})
	require.NoError(t, err)

	assert.Equal(t, "PCWA Alarm For RAMPUP", msg.Subject)
	assert.Contains(t, msg.Body, "Ramp Oxbow Up!")
	assert.Contains(t, msg.Body, "Time to Start Ramp:\n10:45 AM")
	assert.Contains(t, msg.Body, "Alert 60 min in advance.")
	assert.Contains(t, msg.Body, "Wed 10:00 AM")
}

func TestRender_RampDownLate(t *testing.T) {
	d := newTestDispatcher(t, nil, nil)
	triggered := time.Date(2024, 7, 3, 17, 0, 0, 0, time.UTC)
	msg, err := d.Render(&database.IssuedAlarm{
		Trigger: alarming.TriggerRampDown, Setpoint: 30, TriggerValue: -5, TriggerTime: triggered,
	}, nil)
	require.NoError(t, err)
	assert.Contains(t, msg.Body, "Ramp Oxbow Down!")
	assert.Contains(t, msg.Body, "9:55 AM")
}

func TestDispatch_IsolatesFailures(t *testing.T) {
	store := &fakeStore{
		alarms: []*database.IssuedAlarm{
			{ID: 1, UserID: 10, Trigger: alarming.TriggerR4Hi, Setpoint: 100, TriggerValue: 150},
			{ID: 2, UserID: 10, Trigger: alarming.TriggerR11Lo, Setpoint: 20, TriggerValue: 5},
			{ID: 3, UserID: 99, Trigger: alarming.TriggerR4Hi, Setpoint: 100, TriggerValue: 150},
			{ID: 4, UserID: 11, Trigger: alarming.TriggerAfterbayHi, Setpoint: 1170, TriggerValue: 1171},
		},
		profiles: map[int64]*database.Profile{
			10: {UserID: 10, Email: "a@example.com"},
			11: {UserID: 11, Email: "b@example.com", PhoneNumber: strPtr("5550001111"), PhoneCarrier: strPtr("AT&T")},
		},
	}
	notifier := &recordingNotifier{failFor: map[int64]bool{2: true}}

	sum, err := newTestDispatcher(t, store, notifier).Dispatch(context.Background())

	require.NoError(t, err)
	assert.Equal(t, Summary{Sent: 2, Failed: 2}, sum)
	assert.Equal(t, []int64{1, 4}, store.sent)
	assert.Equal(t, 3, store.lookups, "profiles are looked up once per user")

	require.Len(t, notifier.messages, 2)
	assert.Equal(t, []string{"b@example.com", "5550001111@mms.att.net"}, notifier.messages[1].Recipients)
}

func TestDispatch_NoRecipientsStaysUnsent(t *testing.T) {
	store := &fakeStore{
		alarms:   []*database.IssuedAlarm{{ID: 1, UserID: 10, Trigger: alarming.TriggerR4Hi}},
		profiles: map[int64]*database.Profile{10: {UserID: 10}},
	}
	email := NewEmailNotifier(&config.SMTPConfig{}, zap.NewNop())

	sum, err := newTestDispatcher(t, store, email).Dispatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Failed: 1}, sum)
	assert.Empty(t, store.sent)
}

func TestDispatch_ListFailure(t *testing.T) {
	store := &fakeStore{listErr: errors.New("connection refused")}
	_, err := newTestDispatcher(t, store, &recordingNotifier{}).Dispatch(context.Background())
	assert.ErrorContains(t, err, "connection refused")
}

type fakePublisher struct {
	key   string
	value []byte
	err   error
}

func (f *fakePublisher) Publish(_ context.Context, key string, value []byte) error {
	f.key, f.value = key, value
	return f.err
}

func TestKafkaNotifier_QueuesMessage(t *testing.T) {
	pub := &fakePublisher{}
	msg := &Message{AlarmID: 5, UserID: 42, Trigger: "r4_hi", Recipients: []string{"a@example.com"}, Subject: "s", Body: "b"}

	require.NoError(t, NewKafkaNotifier(pub).Notify(context.Background(), msg))
	assert.Equal(t, "42", pub.key)

	queued, err := protocol.DecodeAlarmMessage(pub.value)
	require.NoError(t, err)
	assert.Equal(t, msg, FromQueued(queued))
}

func TestKafkaNotifier_PublishError(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker down")}
	err := NewKafkaNotifier(pub).Notify(context.Background(), &Message{AlarmID: 5, Recipients: []string{"a"}})
	assert.ErrorContains(t, err, "broker down")
}

func TestEmailNotifier_Compose(t *testing.T) {
	cfg := &config.SMTPConfig{Host: "smtp.example.com", Port: 587, Username: "u", Password: "p", From: "monitor@example.com"}
	email := NewEmailNotifier(cfg, zap.NewNop())

	var gotAddr string
	var gotTo []string
	var gotMsg string
	email.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotTo, gotMsg = addr, to, string(msg)
		assert.Equal(t, "monitor@example.com", from)
		return nil
	}

	err := email.Notify(context.Background(), &Message{Recipients: []string{"a@example.com"}, Subject: "PCWA Alarm For R4", Body: "line1\nline2"})
	require.NoError(t, err)
	assert.Equal(t, "smtp.example.com:587", gotAddr)
	assert.Equal(t, []string{"a@example.com"}, gotTo)
	assert.Contains(t, gotMsg, "Subject: PCWA Alarm For R4\r\n")
	assert.NotContains(t, gotMsg, "a@example.com", "recipients are blind copied")
	assert.True(t, strings.HasSuffix(gotMsg, "\r\n\r\nline1\r\nline2"))
}

func TestEmailNotifier_SendError(t *testing.T) {
	cfg := &config.SMTPConfig{Host: "h", Port: 25, Username: "u", Password: "p"}
	email := NewEmailNotifier(cfg, zap.NewNop())
	email.send = func(string, smtp.Auth, string, []string, []byte) error { return errors.New("550") }

	err := email.Notify(context.Background(), &Message{Recipients: []string{"a"}})
	assert.ErrorContains(t, err, "550")
}
