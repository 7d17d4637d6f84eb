package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"carewatch-backend/internal/alerts"
)

type ChannelType string

const (
	ChannelEmail     ChannelType = "email"
	ChannelSMS       ChannelType = "sms"
	ChannelPhoneCall ChannelType = "phone_call"
	ChannelPush      ChannelType = "push"
)

// Channel delivers one message to one address.
type Channel interface {
	Type() ChannelType
	Send(ctx context.Context, to string, msg Message) error
}

type Message struct {
	Kind       alerts.NoticeKind `json:"kind"`
	Subject    string            `json:"subject"`
	Body       string            `json:"body"`
	InstanceID string            `json:"alertInstanceId"`
	Severity   string            `json:"severity"`
	Recipient  string            `json:"recipient,omitempty"`
}

func buildMessage(n alerts.Notice) Message {
	inst := n.Instance
	ruleName := inst.RuleID
	if n.Rule != nil && n.Rule.Name != "" {
		ruleName = n.Rule.Name
	}
	var subject string
	switch n.Kind {
	case alerts.NoticeEscalated:
		subject = fmt.Sprintf("[%s] ESCALATED: %s", inst.Severity, ruleName)
	case alerts.NoticeReminder:
		subject = fmt.Sprintf("[%s] Reminder: %s", inst.Severity, ruleName)
	default:
		subject = fmt.Sprintf("[%s] %s", inst.Severity, ruleName)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Alert %s for enrollment %s\n", inst.ID, inst.EnrollmentID)
	fmt.Fprintf(&b, "Metric: %s\n", inst.MetricKey)
	fmt.Fprintf(&b, "Status: %s\n", inst.Status)
	fmt.Fprintf(&b, "Triggered: %s\n", inst.TriggeredAt.Format(time.RFC3339))
	if inst.SLABreachTime != nil {
		fmt.Fprintf(&b, "Acknowledge by: %s\n", inst.SLABreachTime.Format(time.RFC3339))
	}
	if len(inst.Evidence) > 0 {
		fmt.Fprintf(&b, "Evidence: %s\n", inst.Evidence)
	}
	return Message{
		Kind:       n.Kind,
		Subject:    subject,
		Body:       b.String(),
		InstanceID: inst.ID,
		Severity:   string(inst.Severity),
	}
}

// shortText is the single-line form used by SMS and voice.
func (m Message) shortText() string {
	text := m.Subject + " (alert " + m.InstanceID + ")"
	if len(text) > 160 {
		return text[:160]
	}
	return text
}
