package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDedupeKeyDefaultTemplate(t *testing.T) {
	rule, err := Compile(painRule(), DefaultRegistry())
	require.Nil(t, err)
	assert.Equal(t, "pain-high:enr-1:pain_scale_0_10", rule.DedupeKey("enr-1"))
}

func TestDedupeKeyCustomTemplate(t *testing.T) {
	def := painRule()
	def.DedupeKeyTemplate = "pain/{enrollmentId}/{severity}"
	rule, err := Compile(def, DefaultRegistry())
	require.Nil(t, err)
	assert.Equal(t, "pain/enr-9/HIGH", rule.DedupeKey("enr-9"))
}

func TestDedupeTemplateMustScopeEnrollment(t *testing.T) {
	assert.NotNil(t, validateDedupeTemplate("{ruleId}:{metricKey}"))
	assert.Nil(t, validateDedupeTemplate("{ruleId}-{enrollmentId}"))
}

func TestCatalogListsEveryFamily(t *testing.T) {
	types := map[ValueType]bool{}
	for _, entry := range DefaultRegistry().Catalog() {
		types[entry.ValueType] = true
		assert.NotEmpty(t, entry.AllowedOperators, entry.Name)
	}
	for _, vt := range []ValueType{ValueNumeric, ValuePercentage, ValueCategorical, ValueDuration} {
		assert.True(t, types[vt], vt)
	}
}
