package log

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInitFallsBackToInfoOnUnknownLevel(t *testing.T) {
	l := Init(Config{Level: "verbose", Mode: ModeProduction, Encoding: EncodingJSON, Service: "test"})
	assert.NotNil(t, l)
	l.Debugf(context.Background(), "dropped %d", 1)
}

func TestWithFieldsCarriesLoggerInContext(t *testing.T) {
	l := NewNop()
	ctx := l.WithFields(context.Background(), "enrollment", "enr-1")
	_, ok := ctx.Value(loggerKey{}).(interface{ Sync() error })
	assert.True(t, ok)
	l.Infof(ctx, "evaluated %s", "pain")
}
