package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.Equal(t, "sentra-core", config.ServiceName)
	require.Equal(t, "development", config.Environment)
	require.Equal(t, "localhost:4317", config.OTLPEndpoint)
	require.Equal(t, 1.0, config.SampleRate)
	require.True(t, config.Enabled)
	require.False(t, config.Insecure)
}

func TestNewProviderDisabled(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, p)

	require.NotNil(t, p.Tracer())
	require.NotNil(t, p.Meter())
}

func TestTrackOperation(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	ctx, finish := p.TrackOperation(context.Background(), "request.submit",
		attribute.String("sentra.request.id", "REQ-1"))
	require.NotNil(t, ctx)

	time.Sleep(time.Millisecond)
	finish(nil)
}

func TestTrackOperationWithError(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	_, finish := p.TrackOperation(context.Background(), "request.provision")
	finish(errors.New("adapter unreachable"))
}

func TestRecordMetricsWhenDisabled(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	ctx := context.Background()
	p.RecordRequest(ctx, attribute.String("op", "evaluate"))
	p.RecordError(ctx, errors.New("boom"), attribute.String("op", "evaluate"))
	p.RecordDuration(ctx, 100*time.Millisecond, attribute.String("op", "evaluate"))
}

func TestStartSpan(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	ctx, span := p.StartSpan(context.Background(), "campaign.generate")
	require.NotNil(t, ctx)
	require.NotNil(t, span)
	span.End()
}

func TestShutdown(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Shutdown(ctx))
}

func TestRequestOperationAttributes(t *testing.T) {
	attrs := RequestOperation("REQ-1", "NEW_ACCESS", "PENDING_APPROVAL", "HIGH")
	require.Len(t, attrs, 4)
	require.Equal(t, "sentra.request.id", string(attrs[0].Key))
	require.Equal(t, "REQ-1", attrs[0].Value.AsString())
}

func TestEvaluationOperationAttributes(t *testing.T) {
	attrs := EvaluationOperation("jdoe", 7, 2, true)
	require.Len(t, attrs, 4)
	require.Equal(t, "sentra.ruleset.version", string(attrs[1].Key))
	require.Equal(t, int64(7), attrs[1].Value.AsInt64())
	require.True(t, attrs[3].Value.AsBool())
}

func TestCampaignOperationAttributes(t *testing.T) {
	attrs := CampaignOperation("CAMP-1", "USER_ACCESS", "ACTIVE", 42)
	require.Len(t, attrs, 4)
	require.Equal(t, "sentra.campaign.items", string(attrs[3].Key))
	require.Equal(t, int64(42), attrs[3].Value.AsInt64())
}

func TestProvisionOperationAttributes(t *testing.T) {
	attrs := ProvisionOperation("REQ-1", "SAP-ERP", false)
	require.Len(t, attrs, 3)
	require.Equal(t, "sentra.provision.ok", string(attrs[2].Key))
	require.False(t, attrs[2].Value.AsBool())
}

func TestSpanFromContext(t *testing.T) {
	span := SpanFromContext(context.Background())
	require.NotNil(t, span)
}

func TestAddSpanEvent(t *testing.T) {
	AddSpanEvent(context.Background(), "violation.detected", attribute.String("rule", "SOD-001"))
}

func TestSetSpanStatus(t *testing.T) {
	SetSpanStatus(context.Background(), errors.New("test error"))
	SetSpanStatus(context.Background(), nil)
}
