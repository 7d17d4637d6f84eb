package notify

import (
	"fmt"

	"carewatch-backend/internal/alerts"
	"carewatch-backend/internal/rules"
)

// ChannelsFor maps a notice kind and severity to the base channel set. Push is added by the dispatcher.
func ChannelsFor(kind alerts.NoticeKind, sev rules.Severity) []ChannelType {
	if kind == alerts.NoticeEscalated {
		return escalationChannels(sev)
	}
	return alertChannels(sev)
}

func alertChannels(sev rules.Severity) []ChannelType {
	switch sev {
	case rules.SeverityLow:
		return nil
	case rules.SeverityMedium:
		return []ChannelType{ChannelEmail}
	case rules.SeverityHigh:
		return []ChannelType{ChannelEmail, ChannelSMS}
	case rules.SeverityCritical:
		return []ChannelType{ChannelEmail, ChannelSMS, ChannelPhoneCall}
	}
	panic(fmt.Sprintf("notify: unhandled severity %q", string(sev)))
}

func escalationChannels(sev rules.Severity) []ChannelType {
	switch sev {
	case rules.SeverityLow:
		return nil
	case rules.SeverityMedium:
		return []ChannelType{ChannelEmail}
	case rules.SeverityHigh, rules.SeverityCritical:
		return []ChannelType{ChannelEmail, ChannelSMS}
	}
	panic(fmt.Sprintf("notify: unhandled severity %q", string(sev)))
}

// RolesFor returns the rule's notify roles, plus the supervisor role for escalations.
func RolesFor(n alerts.Notice, supervisorRole string) []string {
	var roles []string
	seen := map[string]bool{}
	add := func(role string) {
		if role != "" && !seen[role] {
			seen[role] = true
			roles = append(roles, role)
		}
	}
	if n.Rule != nil {
		for _, role := range n.Rule.Actions.Notify {
			add(role)
		}
	}
	if n.Kind == alerts.NoticeEscalated {
		add(supervisorRole)
	}
	return roles
}
