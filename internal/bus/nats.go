package bus

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"
)

const (
	SubjectRuleCreated  = "rule.created"
	SubjectRuleUpdated  = "rule.updated"
	SubjectRuleEnabled  = "rule.enabled"
	SubjectRuleDisabled = "rule.disabled"
	SubjectRuleAll      = "rule.*"

	SubjectAlertCreated      = "alerts.created"
	SubjectAlertEscalated    = "alerts.escalated"
	SubjectAlertTransitioned = "alerts.transitioned"
)

type conn interface {
	Publish(subject string, data []byte) error
}

type Publisher struct {
	conn conn
	nc   *nats.Conn
}

func NewPublisher(url string) (*Publisher, error) {
	nc, err := nats.Connect(url, nats.Name("carewatch-publisher"))
	if err != nil {
		return nil, err
	}
	return &Publisher{conn: nc, nc: nc}, nil
}

func (p *Publisher) Close() {
	if p.nc != nil {
		_ = p.nc.Drain()
		p.nc.Close()
	}
}

// Publish sends raw bytes. It satisfies notify.Publisher for in-app push.
func (p *Publisher) Publish(ctx context.Context, subject string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.conn.Publish(subject, payload)
}

func (p *Publisher) PublishJSON(subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.conn.Publish(subject, data)
}

type Subscriber struct {
	Conn *nats.Conn
}

// RuleEvent announces a change to a stored rule.
type RuleEvent struct {
	RuleID string `json:"rule_id"`
	Action string `json:"action"`
}

func NewSubscriber(url string) (*Subscriber, error) {
	nc, err := nats.Connect(url, nats.Name("carewatch-subscriber"))
	if err != nil {
		return nil, err
	}
	return &Subscriber{Conn: nc}, nil
}

func (s *Subscriber) Close() {
	if s.Conn != nil {
		_ = s.Conn.Drain()
		s.Conn.Close()
	}
}

func (s *Subscriber) SubscribeRules(handler func(RuleEvent)) (*nats.Subscription, error) {
	return s.Conn.Subscribe(SubjectRuleAll, func(msg *nats.Msg) {
		var evt RuleEvent
		_ = json.Unmarshal(msg.Data, &evt)
		if evt.Action == "" {
			evt.Action = msg.Subject
		}
		handler(evt)
	})
}
