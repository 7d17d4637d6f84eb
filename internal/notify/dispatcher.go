package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"carewatch-backend/internal/alerts"
	"carewatch-backend/internal/metrics"
	"carewatch-backend/internal/retry"
	"carewatch-backend/pkg/log"
)

type Options struct {
	Channels       []Channel
	Directory      *Directory
	Recorder       DeliveryRecorder
	Retry          retry.Policy
	Timeout        time.Duration
	RatePerSecond  float64
	SupervisorRole string
	PushEnabled    bool
	Now            func() time.Time
	Logger         log.Logger
}

// Dispatcher resolves recipients and channels for a notice and delivers to each
// channel x recipient independently.
type Dispatcher struct {
	channels       map[ChannelType]Channel
	limiters       map[ChannelType]*rate.Limiter
	directory      *Directory
	recorder       DeliveryRecorder
	policy         retry.Policy
	timeout        time.Duration
	supervisorRole string
	pushEnabled    bool
	now            func() time.Time
	logger         log.Logger
}

func NewDispatcher(opts Options) *Dispatcher {
	d := &Dispatcher{
		channels:       map[ChannelType]Channel{},
		limiters:       map[ChannelType]*rate.Limiter{},
		directory:      opts.Directory,
		recorder:       opts.Recorder,
		policy:         opts.Retry,
		timeout:        opts.Timeout,
		supervisorRole: opts.SupervisorRole,
		pushEnabled:    opts.PushEnabled,
		now:            opts.Now,
		logger:         opts.Logger,
	}
	limit := rate.Inf
	burst := 1
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
		burst = int(opts.RatePerSecond)
		if burst < 1 {
			burst = 1
		}
	}
	for _, ch := range opts.Channels {
		d.channels[ch.Type()] = ch
		d.limiters[ch.Type()] = rate.NewLimiter(limit, burst)
	}
	if d.policy.Attempts <= 0 {
		d.policy = retry.DefaultPolicy()
	}
	if d.timeout <= 0 {
		d.timeout = 10 * time.Second
	}
	if d.now == nil {
		d.now = time.Now
	}
	if d.logger == nil {
		d.logger = log.NewNop()
	}
	return d
}

// Channels returns the channel set a notice is sent on.
func (d *Dispatcher) Channels(n alerts.Notice) []ChannelType {
	base := ChannelsFor(n.Kind, n.Instance.Severity)
	if len(base) == 0 {
		return nil
	}
	if d.pushEnabled {
		if _, ok := d.channels[ChannelPush]; ok {
			base = append(base, ChannelPush)
		}
	}
	return base
}

// Notify dispatches synchronously. Production wiring puts a Queue in front.
func (d *Dispatcher) Notify(ctx context.Context, n alerts.Notice) {
	d.Dispatch(ctx, n)
}

// Dispatch delivers n and returns the recorded deliveries. Channel failures are
// recorded, never returned.
func (d *Dispatcher) Dispatch(ctx context.Context, n alerts.Notice) []Delivery {
	channels := d.Channels(n)
	if len(channels) == 0 {
		return nil
	}
	msg := buildMessage(n)
	roles := RolesFor(n, d.supervisorRole)

	var (
		mu         sync.Mutex
		wg         sync.WaitGroup
		deliveries []Delivery
	)
	record := func(del Delivery) {
		del.At = d.now()
		if d.recorder != nil {
			if err := d.recorder.RecordDelivery(ctx, del); err != nil {
				d.logger.Errorf(ctx, "notify.Dispatcher.Dispatch: record delivery: %v", err)
			}
		}
		metrics.Deliveries.WithLabelValues(string(del.Channel), string(del.Status)).Inc()
		mu.Lock()
		deliveries = append(deliveries, del)
		mu.Unlock()
	}
	base := Delivery{AlertInstanceID: n.Instance.ID, Kind: n.Kind}

	if len(roles) == 0 {
		d.logger.Warnf(ctx, "notify.Dispatcher.Dispatch: alert %s has no recipient roles", n.Instance.ID)
	}
	for _, chType := range channels {
		ch, registered := d.channels[chType]
		seen := map[string]bool{}
		for _, role := range roles {
			contacts := d.directory.Contacts(role)
			if len(contacts) == 0 {
				del := base
				del.Channel, del.Recipient, del.Status, del.Error = chType, "role:"+role, DeliverySkipped, "no contacts for role"
				record(del)
				continue
			}
			for _, contact := range contacts {
				addr, ok := contact.Address(chType)
				if !ok {
					del := base
					del.Channel, del.Recipient, del.Status, del.Error = chType, contact.Name, DeliverySkipped, ErrNoAddress.Error()
					record(del)
					continue
				}
				if seen[addr] {
					continue
				}
				seen[addr] = true
				if !registered {
					del := base
					del.Channel, del.Recipient, del.Status, del.Error = chType, addr, DeliveryFailed, ErrChannelNotImplemented.Error()
					record(del)
					continue
				}
				wg.Add(1)
				go func(ch Channel, addr string) {
					defer wg.Done()
					record(d.deliver(ctx, ch, addr, msg, base))
				}(ch, addr)
			}
		}
	}
	wg.Wait()
	return deliveries
}

func (d *Dispatcher) deliver(ctx context.Context, ch Channel, addr string, msg Message, base Delivery) Delivery {
	del := base
	del.Channel = ch.Type()
	del.Recipient = addr
	attempts, err := retry.Do(ctx, d.policy, func(ctx context.Context) error {
		if err := d.limiters[ch.Type()].Wait(ctx); err != nil {
			return retry.Permanent(err)
		}
		attemptCtx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()
		err := ch.Send(attemptCtx, addr, msg)
		if errors.Is(err, ErrChannelNotImplemented) {
			return retry.Permanent(err)
		}
		return err
	})
	del.Attempts = attempts
	if err != nil {
		del.Status = DeliveryFailed
		del.Error = err.Error()
		d.logger.Warnf(ctx, "notify.Dispatcher.deliver: alert=%s channel=%s attempts=%d: %v", base.AlertInstanceID, ch.Type(), attempts, err)
		return del
	}
	del.Status = DeliverySent
	return del
}

// recordUndelivered notes a notice that did not reach the workers.
func (d *Dispatcher) recordUndelivered(ctx context.Context, n alerts.Notice, cause error) {
	del := Delivery{
		AlertInstanceID: n.Instance.ID,
		Kind:            n.Kind,
		Channel:         ChannelQueue,
		Status:          DeliveryFailed,
		Error:           cause.Error(),
		At:              d.now(),
	}
	metrics.Deliveries.WithLabelValues(string(del.Channel), string(del.Status)).Inc()
	if d.recorder == nil {
		return
	}
	if err := d.recorder.RecordDelivery(ctx, del); err != nil {
		d.logger.Errorf(ctx, "notify.Dispatcher.recordUndelivered: alert=%s: %v", n.Instance.ID, err)
	}
}
