package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"lmscirc/internal/logger"
)

func TestSetupWithoutEndpoint(t *testing.T) {
	ctx := context.Background()
	shutdown, err := Setup(ctx, "circulation-test", "", logger.Discard())
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(ctx, "op")
	assert.True(t, span.SpanContext().IsValid())
	span.End()

	assert.NoError(t, shutdown(ctx))
}

func TestSetupRejectsHostlessURL(t *testing.T) {
	_, err := Setup(context.Background(), "circulation-test", "http://", logger.Discard())
	assert.Error(t, err)
}
