package alerts

var transitions = map[Status][]Status{
	StatusPending:      {StatusAcknowledged, StatusResolved, StatusEscalated, StatusSnoozed, StatusCancelled},
	StatusAcknowledged: {StatusResolved, StatusEscalated, StatusSnoozed, StatusCancelled},
	StatusEscalated:    {StatusAcknowledged, StatusResolved, StatusSnoozed, StatusCancelled},
	StatusSnoozed:      {StatusSnoozed, StatusCancelled},
	StatusResolved:     nil,
	StatusCancelled:    nil,
}

// AllowedTransitions lists the statuses reachable from s by a command or sweep.
// Leaving SNOOZED for the prior status happens only on a trigger after snoozeUntil.
func AllowedTransitions(s Status) []Status {
	out := make([]Status, len(transitions[s]))
	copy(out, transitions[s])
	return out
}

func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to Status) error {
	if CanTransition(from, to) {
		return nil
	}
	return &TransitionError{Current: from, Attempted: to, Allowed: AllowedTransitions(from)}
}
