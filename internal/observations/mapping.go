package observations

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"carewatch-backend/internal/security"
)

// Mapping tells SQLSource which tables and columns hold observations and enrollments.
type Mapping struct {
	Observations ObservationTable `yaml:"observations"`
	Enrollments  EnrollmentTable  `yaml:"enrollments"`
}

type ObservationTable struct {
	Table              string `yaml:"table"`
	EnrollmentColumn   string `yaml:"enrollmentColumn"`
	MetricColumn       string `yaml:"metricColumn"`
	NumericValueColumn string `yaml:"numericValueColumn"`
	TextValueColumn    string `yaml:"textValueColumn"`
	RecordedAtColumn   string `yaml:"recordedAtColumn"`
}

// EnrollmentTable columns other than Table, IDColumn and EnrolledAtColumn are optional.
type EnrollmentTable struct {
	Table            string `yaml:"table"`
	IDColumn         string `yaml:"idColumn"`
	PatientColumn    string `yaml:"patientColumn"`
	ProgramColumn    string `yaml:"programColumn"`
	EnrolledAtColumn string `yaml:"enrolledAtColumn"`
	ActiveColumn     string `yaml:"activeColumn"`
}

func DefaultMapping() Mapping {
	return Mapping{
		Observations: ObservationTable{
			Table:              "metric_observations",
			EnrollmentColumn:   "enrollment_id",
			MetricColumn:       "metric_key",
			NumericValueColumn: "numeric_value",
			TextValueColumn:    "text_value",
			RecordedAtColumn:   "recorded_at",
		},
		Enrollments: EnrollmentTable{
			Table:            "enrollments",
			IDColumn:         "id",
			PatientColumn:    "patient_id",
			ProgramColumn:    "program_id",
			EnrolledAtColumn: "enrolled_at",
			ActiveColumn:     "active",
		},
	}
}

// LoadMapping reads a YAML mapping; an empty path yields DefaultMapping.
func LoadMapping(path string) (Mapping, error) {
	if path == "" {
		return DefaultMapping(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Mapping{}, fmt.Errorf("read observation mapping: %w", err)
	}
	m := DefaultMapping()
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Mapping{}, fmt.Errorf("parse observation mapping: %w", err)
	}
	return m, nil
}

// Validate checks every identifier and that both tables are allowlisted.
func (m Mapping) Validate(allow security.Allowlist, maxSegments int) error {
	var errs []error
	tables := map[string]string{
		"observations.table": m.Observations.Table,
		"enrollments.table":  m.Enrollments.Table,
	}
	for field, table := range tables {
		if table == "" {
			errs = append(errs, fmt.Errorf("%s is required", field))
			continue
		}
		if !security.IsSafeQualified(table, maxSegments) {
			errs = append(errs, fmt.Errorf("%s %q is not a safe identifier", field, table))
			continue
		}
		if !allow.AllowsTable(table) {
			errs = append(errs, fmt.Errorf("%s %q is not allowlisted", field, table))
		}
	}
	required := map[string]string{
		"observations.enrollmentColumn": m.Observations.EnrollmentColumn,
		"observations.metricColumn":     m.Observations.MetricColumn,
		"observations.recordedAtColumn": m.Observations.RecordedAtColumn,
		"enrollments.idColumn":          m.Enrollments.IDColumn,
		"enrollments.enrolledAtColumn":  m.Enrollments.EnrolledAtColumn,
	}
	optional := map[string]string{
		"observations.numericValueColumn": m.Observations.NumericValueColumn,
		"observations.textValueColumn":    m.Observations.TextValueColumn,
		"enrollments.patientColumn":       m.Enrollments.PatientColumn,
		"enrollments.programColumn":       m.Enrollments.ProgramColumn,
		"enrollments.activeColumn":        m.Enrollments.ActiveColumn,
	}
	for field, col := range required {
		if col == "" {
			errs = append(errs, fmt.Errorf("%s is required", field))
			continue
		}
		if !security.IsSafeIdentifier(col) {
			errs = append(errs, fmt.Errorf("%s %q is not a safe identifier", field, col))
		}
	}
	for field, col := range optional {
		if col != "" && !security.IsSafeIdentifier(col) {
			errs = append(errs, fmt.Errorf("%s %q is not a safe identifier", field, col))
		}
	}
	if m.Observations.NumericValueColumn == "" && m.Observations.TextValueColumn == "" {
		errs = append(errs, errors.New("observations needs numericValueColumn or textValueColumn"))
	}
	return errors.Join(errs...)
}
