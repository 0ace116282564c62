package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestStripScheme(t *testing.T) {
	assert.Equal(t, "collector:4317", stripScheme("http://collector:4317"))
	assert.Equal(t, "collector:4317", stripScheme("https://collector:4317"))
	assert.Equal(t, "collector:4317", stripScheme("collector:4317"))
}

func TestSetupTracer_Disabled(t *testing.T) {
	shutdown, err := SetupTracer(context.Background(), Config{Enabled: false})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
	assert.Contains(t, otel.GetTextMapPropagator().Fields(), "traceparent")
}

func TestSetupTracer_Enabled(t *testing.T) {
	// the exporter connects lazily, so no collector is needed
	shutdown, err := SetupTracer(context.Background(), Config{
		Enabled:     true,
		ServiceName: "storefront-test",
		Environment: "test",
		Endpoint:    "localhost:4317",
		SampleRatio: 0.5,
	})
	require.NoError(t, err)
	_ = shutdown(context.Background())
}
