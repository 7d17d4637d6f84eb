package observations

import (
	"context"
	"errors"
	"time"
)

var ErrUnsupportedType = errors.New("unsupported observation source type")

// Observation is one patient-reported metric value. Value is float64 or string.
type Observation struct {
	EnrollmentID string    `json:"enrollmentId"`
	MetricKey    string    `json:"metricKey"`
	Value        any       `json:"value"`
	RecordedAt   time.Time `json:"recordedAt"`
}

type Enrollment struct {
	ID         string    `json:"id"`
	PatientID  string    `json:"patientId"`
	ProgramID  string    `json:"programId"`
	EnrolledAt time.Time `json:"enrolledAt"`
	Active     bool      `json:"active"`
}

// Query selects observations of one metric for one enrollment.
// A zero Since means no lower bound; results are newest first, capped at Limit.
type Query struct {
	EnrollmentID string
	MetricKey    string
	Since        time.Time
	Limit        int
}

// Source is the read-only view of the external clinical store.
type Source interface {
	ActiveEnrollments(ctx context.Context) ([]Enrollment, error)
	Recent(ctx context.Context, q Query) ([]Observation, error)
	Close() error
}
