package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carewatch-backend/internal/alerts"
	"carewatch-backend/internal/retry"
	"carewatch-backend/internal/rules"
	"carewatch-backend/pkg/log"
)

var t0 = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type fakeChannel struct {
	typ      ChannelType
	mu       sync.Mutex
	sent     []string
	failures int
	err      error
}

func (f *fakeChannel) Type() ChannelType { return f.typ }

func (f *fakeChannel) Send(ctx context.Context, to string, msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.failures > 0 {
		f.failures--
		return errors.New("transient")
	}
	f.sent = append(f.sent, to)
	return nil
}

func (f *fakeChannel) recipients() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]string(nil), f.sent...)
	sort.Strings(out)
	return out
}

func directory() *Directory {
	return &Directory{Roles: map[string][]Contact{
		"care_team":  {{Name: "Ana", Email: "ana@clinic.test", Phone: "+100", UserID: "u-ana"}, {Name: "Ben", Email: "ben@clinic.test"}},
		"supervisor": {{Name: "Sam", Email: "sam@clinic.test", Phone: "+200", UserID: "u-sam"}},
	}}
}

func notice(kind alerts.NoticeKind, sev rules.Severity) alerts.Notice {
	rule := rules.Rule{ID: "r1", Name: "Pain high", Severity: sev, Actions: rules.Actions{Notify: []string{"care_team"}}}
	return alerts.Notice{
		Kind:     kind,
		Rule:     &rule,
		Instance: alerts.Instance{ID: "inst-1", RuleID: "r1", EnrollmentID: "enr-1", Severity: sev, Status: alerts.StatusPending, TriggeredAt: t0},
	}
}

func newDispatcher(recorder DeliveryRecorder, push bool, channels ...Channel) *Dispatcher {
	return NewDispatcher(Options{
		Channels:       channels,
		Directory:      directory(),
		Recorder:       recorder,
		Retry:          retry.Policy{Attempts: 3, Backoff: time.Millisecond},
		Timeout:        time.Second,
		SupervisorRole: "supervisor",
		PushEnabled:    push,
		Now:            func() time.Time { return t0 },
		Logger:         log.NewNop(),
	})
}

func TestRoutingTablesAreTotal(t *testing.T) {
	expected := map[rules.Severity][]ChannelType{
		rules.SeverityLow:      nil,
		rules.SeverityMedium:   {ChannelEmail},
		rules.SeverityHigh:     {ChannelEmail, ChannelSMS},
		rules.SeverityCritical: {ChannelEmail, ChannelSMS, ChannelPhoneCall},
	}
	escalated := map[rules.Severity][]ChannelType{
		rules.SeverityLow:      nil,
		rules.SeverityMedium:   {ChannelEmail},
		rules.SeverityHigh:     {ChannelEmail, ChannelSMS},
		rules.SeverityCritical: {ChannelEmail, ChannelSMS},
	}
	for _, sev := range rules.Severities() {
		assert.Equal(t, expected[sev], ChannelsFor(alerts.NoticeCreated, sev), string(sev))
		assert.Equal(t, expected[sev], ChannelsFor(alerts.NoticeReminder, sev), string(sev))
		assert.Equal(t, escalated[sev], ChannelsFor(alerts.NoticeEscalated, sev), string(sev))
	}
	assert.Panics(t, func() { ChannelsFor(alerts.NoticeCreated, "URGENT") })
}

func TestRolesForAddsSupervisorOnEscalation(t *testing.T) {
	assert.Equal(t, []string{"care_team"}, RolesFor(notice(alerts.NoticeCreated, rules.SeverityHigh), "supervisor"))
	assert.Equal(t, []string{"care_team", "supervisor"}, RolesFor(notice(alerts.NoticeEscalated, rules.SeverityHigh), "supervisor"))

	orphan := notice(alerts.NoticeEscalated, rules.SeverityHigh)
	orphan.Rule = nil
	assert.Equal(t, []string{"supervisor"}, RolesFor(orphan, "supervisor"))
}

func TestDispatchLowSendsNothing(t *testing.T) {
	email := &fakeChannel{typ: ChannelEmail}
	rec := &MemoryRecorder{}
	d := newDispatcher(rec, true, email, &fakeChannel{typ: ChannelPush})
	assert.Empty(t, d.Dispatch(context.Background(), notice(alerts.NoticeCreated, rules.SeverityLow)))
	assert.Empty(t, rec.Deliveries())
}

func TestDispatchHighRecordsEveryChannelAndRecipient(t *testing.T) {
	email := &fakeChannel{typ: ChannelEmail}
	sms := &fakeChannel{typ: ChannelSMS}
	push := &fakeChannel{typ: ChannelPush}
	rec := &MemoryRecorder{}
	d := newDispatcher(rec, true, email, sms, push)

	deliveries := d.Dispatch(context.Background(), notice(alerts.NoticeCreated, rules.SeverityHigh))
	assert.Equal(t, []string{"ana@clinic.test", "ben@clinic.test"}, email.recipients())
	assert.Equal(t, []string{"+100"}, sms.recipients())
	assert.Equal(t, []string{"u-ana"}, push.recipients())

	var skipped []Delivery
	for _, del := range deliveries {
		if del.Status == DeliverySkipped {
			skipped = append(skipped, del)
		}
	}
	require.Len(t, skipped, 2)
	for _, del := range skipped {
		assert.Equal(t, "Ben", del.Recipient)
		assert.Equal(t, ErrNoAddress.Error(), del.Error)
	}
	assert.Len(t, rec.Deliveries(), len(deliveries))
	assert.Len(t, deliveries, 6)
}

func TestDispatchIsolatesChannelFailures(t *testing.T) {
	email := &fakeChannel{typ: ChannelEmail, failures: 1}
	sms := &fakeChannel{typ: ChannelSMS, err: errors.New("gateway down")}
	rec := &MemoryRecorder{}
	d := newDispatcher(rec, false, email, sms, PhoneChannel{})

	deliveries := d.Dispatch(context.Background(), notice(alerts.NoticeCreated, rules.SeverityCritical))
	byChannel := map[ChannelType][]Delivery{}
	for _, del := range deliveries {
		byChannel[del.Channel] = append(byChannel[del.Channel], del)
	}

	require.Len(t, byChannel[ChannelEmail], 2)
	sentEmail := 0
	for _, del := range byChannel[ChannelEmail] {
		assert.Equal(t, DeliverySent, del.Status)
		sentEmail += del.Attempts
	}
	assert.Equal(t, 3, sentEmail, "one transient failure retried")

	var smsFailed Delivery
	for _, del := range byChannel[ChannelSMS] {
		if del.Recipient == "+100" {
			smsFailed = del
		}
	}
	assert.Equal(t, DeliveryFailed, smsFailed.Status)
	assert.Equal(t, 3, smsFailed.Attempts)

	for _, del := range byChannel[ChannelPhoneCall] {
		if del.Status == DeliverySkipped {
			continue
		}
		assert.Equal(t, DeliveryFailed, del.Status)
		assert.Equal(t, 1, del.Attempts)
		assert.Contains(t, del.Error, "not implemented")
	}
}

func TestDispatchEscalationReachesSupervisor(t *testing.T) {
	email := &fakeChannel{typ: ChannelEmail}
	sms := &fakeChannel{typ: ChannelSMS}
	d := newDispatcher(&MemoryRecorder{}, false, email, sms, PhoneChannel{})

	d.Dispatch(context.Background(), notice(alerts.NoticeEscalated, rules.SeverityCritical))
	assert.Contains(t, email.recipients(), "sam@clinic.test")
	assert.Contains(t, sms.recipients(), "+200")
}

func TestSMSChannelPostsToGateway(t *testing.T) {
	var got smsRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	ch := NewSMSChannel(SMSConfig{GatewayURL: srv.URL, APIKey: "k", Sender: "CareWatch"}, srv.Client())
	msg := buildMessage(notice(alerts.NoticeCreated, rules.SeverityHigh))
	require.NoError(t, ch.Send(context.Background(), "+100", msg))
	assert.Equal(t, "Bearer k", auth)
	assert.Equal(t, "+100", got.To)
	assert.Equal(t, "CareWatch", got.From)
	assert.Contains(t, got.Message, "[HIGH] Pain high")
}

func TestSMSChannelReportsGatewayErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	ch := NewSMSChannel(SMSConfig{GatewayURL: srv.URL}, srv.Client())
	err := ch.Send(context.Background(), "+100", Message{Subject: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestEmailChannelUsesSender(t *testing.T) {
	var gotAddr string
	var gotTo []string
	var gotMsg string
	sender := func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotTo, gotMsg = addr, to, string(msg)
		return nil
	}
	ch := NewEmailChannel(EmailConfig{Host: "smtp.clinic.test", From: "alerts@clinic.test"}, sender)
	msg := buildMessage(notice(alerts.NoticeEscalated, rules.SeverityCritical))
	require.NoError(t, ch.Send(context.Background(), "sam@clinic.test", msg))
	assert.Equal(t, "smtp.clinic.test:587", gotAddr)
	assert.Equal(t, []string{"sam@clinic.test"}, gotTo)
	assert.Contains(t, gotMsg, "Subject: [CRITICAL] ESCALATED: Pain high\r\n")
	assert.Contains(t, gotMsg, "enrollment enr-1")

	unconfigured := NewEmailChannel(EmailConfig{}, sender)
	assert.Error(t, unconfigured.Send(context.Background(), "x@y", msg))
}

type fakePublisher struct {
	subject string
	payload []byte
}

func (f *fakePublisher) Publish(ctx context.Context, subject string, payload []byte) error {
	f.subject, f.payload = subject, payload
	return nil
}

func TestPushChannelPublishesPerUser(t *testing.T) {
	pub := &fakePublisher{}
	ch := NewPushChannel(pub)
	require.NoError(t, ch.Send(context.Background(), "u-ana", Message{Subject: "s", InstanceID: "inst-1"}))
	assert.Equal(t, "alerts.push.u-ana", pub.subject)
	var msg Message
	require.NoError(t, json.Unmarshal(pub.payload, &msg))
	assert.Equal(t, "u-ana", msg.Recipient)
	assert.Equal(t, "inst-1", msg.InstanceID)
}

func TestLoadDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recipients.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
roles:
  care_team:
    - name: Ana
      email: ana@clinic.test
      phone: "+100"
  supervisor:
    - name: Sam
      email: sam@clinic.test
`), 0o600))
	dir, err := LoadDirectory(path)
	require.NoError(t, err)
	require.Len(t, dir.Contacts("care_team"), 1)
	assert.Equal(t, "+100", dir.Contacts("care_team")[0].Phone)
	_, ok := dir.Contacts("supervisor")[0].Address(ChannelSMS)
	assert.False(t, ok)
	assert.Empty(t, dir.Contacts("unknown"))
}

func TestQueueDispatchesAndDrains(t *testing.T) {
	email := &fakeChannel{typ: ChannelEmail}
	rec := &MemoryRecorder{}
	q := NewQueue(newDispatcher(rec, false, email), 8, 2, log.NewNop())
	q.Start(context.Background())

	for i := 0; i < 3; i++ {
		q.Notify(context.Background(), notice(alerts.NoticeCreated, rules.SeverityMedium))
	}
	q.Close()
	assert.Len(t, email.recipients(), 6)
	assert.ErrorIs(t, q.Enqueue(notice(alerts.NoticeCreated, rules.SeverityMedium)), ErrQueueClosed)
}

func TestQueueRejectsWhenFull(t *testing.T) {
	q := NewQueue(newDispatcher(&MemoryRecorder{}, false), 1, 1, log.NewNop())
	require.NoError(t, q.Enqueue(notice(alerts.NoticeCreated, rules.SeverityMedium)))
	assert.ErrorIs(t, q.Enqueue(notice(alerts.NoticeCreated, rules.SeverityMedium)), ErrQueueFull)
}

func TestQueueOverflowIsRecordedAndRedelivered(t *testing.T) {
	email := &fakeChannel{typ: ChannelEmail}
	sms := &fakeChannel{typ: ChannelSMS}
	rec := &MemoryRecorder{}
	q := NewQueue(newDispatcher(rec, false, email, sms, PhoneChannel{}), 1, 1, log.NewNop())
	q.wait = time.Millisecond

	ids := []string{"inst-1", "inst-2", "inst-3"}
	for _, id := range ids {
		n := notice(alerts.NoticeEscalated, rules.SeverityCritical)
		n.Instance.ID = id
		q.Notify(context.Background(), n)
	}
	assert.Equal(t, 2, q.Pending())

	queued := map[string]bool{}
	for _, d := range rec.Deliveries() {
		require.Equal(t, ChannelQueue, d.Channel)
		assert.Equal(t, DeliveryFailed, d.Status)
		assert.Equal(t, ErrQueueFull.Error(), d.Error)
		queued[d.AlertInstanceID] = true
	}
	assert.Equal(t, map[string]bool{"inst-2": true, "inst-3": true}, queued)

	q.Start(context.Background())
	q.Close()
	assert.Zero(t, q.Pending())

	sent := map[string]bool{}
	for _, d := range rec.Deliveries() {
		if d.Channel == ChannelEmail && d.Status == DeliverySent {
			sent[d.AlertInstanceID] = true
		}
	}
	assert.Equal(t, map[string]bool{"inst-1": true, "inst-2": true, "inst-3": true}, sent)
}

func TestQueueClosedRecordsUndelivered(t *testing.T) {
	rec := &MemoryRecorder{}
	q := NewQueue(newDispatcher(rec, false), 4, 1, log.NewNop())
	q.Start(context.Background())
	q.Close()

	q.Notify(context.Background(), notice(alerts.NoticeCreated, rules.SeverityHigh))
	deliveries := rec.Deliveries()
	require.Len(t, deliveries, 1)
	assert.Equal(t, ChannelQueue, deliveries[0].Channel)
	assert.Equal(t, ErrQueueClosed.Error(), deliveries[0].Error)
}
