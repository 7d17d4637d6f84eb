package rules

import (
	"regexp"
	"strings"
)

const DefaultDedupeKeyTemplate = "{ruleId}:{enrollmentId}:{metricKey}"

var placeholderRe = regexp.MustCompile(`\{([^{}]*)\}`)

var knownPlaceholders = map[string]bool{
	"ruleId":       true,
	"enrollmentId": true,
	"metricKey":    true,
	"severity":     true,
}

func validateDedupeTemplate(tpl string) *ErrorDetail {
	for _, match := range placeholderRe.FindAllStringSubmatch(tpl, -1) {
		if !knownPlaceholders[match[1]] {
			return &ErrorDetail{Field: "dedupeKeyTemplate", Problem: "unknown placeholder {" + match[1] + "}", Hint: "Use {ruleId}, {enrollmentId}, {metricKey} or {severity}"}
		}
	}
	if !strings.Contains(tpl, "{enrollmentId}") {
		return &ErrorDetail{Field: "dedupeKeyTemplate", Problem: "missing {enrollmentId}", Hint: "Alerts are scoped per enrollment"}
	}
	return nil
}

// DedupeKey renders the rule's dedupe key template for an enrollment.
func (r Rule) DedupeKey(enrollmentID string) string {
	tpl := r.DedupeKeyTemplate
	if tpl == "" {
		tpl = DefaultDedupeKeyTemplate
	}
	return strings.NewReplacer(
		"{ruleId}", r.ID,
		"{enrollmentId}", enrollmentID,
		"{metricKey}", r.MetricKey(),
		"{severity}", string(r.Severity),
	).Replace(tpl)
}
