package storage

import "time"

const (
	RuleStatusActive   = "ACTIVE"
	RuleStatusDisabled = "DISABLED"
	RuleStatusInvalid  = "INVALID"
)

// RuleRecord is a stored rule definition. Definition holds the authored JSON.
type RuleRecord struct {
	ID              string
	Name            string
	Definition      []byte
	Enabled         bool
	Status          string
	LastError       []byte
	LastValidatedAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
