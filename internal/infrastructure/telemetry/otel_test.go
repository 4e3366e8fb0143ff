package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitializeOpenTelemetry_Disabled(t *testing.T) {
	provider, err := InitializeOpenTelemetry(context.Background(), &OTelConfig{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, provider)

	// No-op provider: spans start and end without a collector
	_, span := Tracer("test").Start(context.Background(), "noop")
	span.End()
	assert.False(t, span.SpanContext().IsValid())

	assert.NoError(t, provider.Shutdown(context.Background()))
}
