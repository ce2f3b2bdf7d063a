// Domain-specific semantic conventions and span helpers.
package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	// Access request attributes
	AttrRequestID     = attribute.Key("sentra.request.id")
	AttrRequestType   = attribute.Key("sentra.request.type")
	AttrRequestStatus = attribute.Key("sentra.request.status")
	AttrRiskLevel     = attribute.Key("sentra.request.risk_level")

	// Rule evaluation attributes
	AttrUserID         = attribute.Key("sentra.user.id")
	AttrRulesetVersion = attribute.Key("sentra.ruleset.version")
	AttrViolationCount = attribute.Key("sentra.violations.count")
	AttrCacheHit       = attribute.Key("sentra.cache.hit")

	// Approval workflow attributes
	AttrStepID   = attribute.Key("sentra.step.id")
	AttrAction   = attribute.Key("sentra.step.action")
	AttrActorID  = attribute.Key("sentra.actor.id")
	AttrApproved = attribute.Key("sentra.step.approved")

	// Certification attributes
	AttrCampaignID     = attribute.Key("sentra.campaign.id")
	AttrCampaignType   = attribute.Key("sentra.campaign.type")
	AttrCampaignStatus = attribute.Key("sentra.campaign.status")
	AttrItemCount      = attribute.Key("sentra.campaign.items")

	// Provisioning attributes
	AttrProvisionSystem = attribute.Key("sentra.provision.system")
	AttrProvisionOK     = attribute.Key("sentra.provision.ok")
)

// RequestOperation creates attributes for request lifecycle operations.
func RequestOperation(requestID, requestType, status, riskLevel string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrRequestID.String(requestID),
		AttrRequestType.String(requestType),
		AttrRequestStatus.String(status),
		AttrRiskLevel.String(riskLevel),
	}
}

// EvaluationOperation creates attributes for rule engine evaluations.
func EvaluationOperation(userID string, rulesetVersion int64, violations int, cacheHit bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrUserID.String(userID),
		AttrRulesetVersion.Int64(rulesetVersion),
		AttrViolationCount.Int(violations),
		AttrCacheHit.Bool(cacheHit),
	}
}

// ApprovalOperation creates attributes for workflow step actions.
func ApprovalOperation(requestID, stepID, action, actor string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrRequestID.String(requestID),
		AttrStepID.String(stepID),
		AttrAction.String(action),
		AttrActorID.String(actor),
	}
}

// CampaignOperation creates attributes for certification campaigns.
func CampaignOperation(campaignID, campaignType, status string, items int) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrCampaignID.String(campaignID),
		AttrCampaignType.String(campaignType),
		AttrCampaignStatus.String(status),
		AttrItemCount.Int(items),
	}
}

// ProvisionOperation creates attributes for provisioning calls.
func ProvisionOperation(requestID, system string, ok bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrRequestID.String(requestID),
		AttrProvisionSystem.String(system),
		AttrProvisionOK.Bool(ok),
	}
}

// SpanFromContext extracts the span from context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanStatus sets the span status based on error.
func SetSpanStatus(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if err != nil {
		span.RecordError(err)
	}
}
