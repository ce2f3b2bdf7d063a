package contracts

import "time"

// SystemActor is the actor recorded on events produced by sweeps and
// other unattended operations.
const SystemActor = "SYSTEM"

// EventType enumerates the governance events the core emits.
type EventType string

const (
	EventRequestCreated     EventType = "REQUEST_CREATED"
	EventRequestSubmitted   EventType = "REQUEST_SUBMITTED"
	EventStepActioned       EventType = "STEP_ACTIONED"
	EventRequestApproved    EventType = "REQUEST_APPROVED"
	EventRequestRejected    EventType = "REQUEST_REJECTED"
	EventRequestProvisioned EventType = "REQUEST_PROVISIONED"
	EventRequestExpired     EventType = "REQUEST_EXPIRED"
	EventViolationDetected  EventType = "VIOLATION_DETECTED"
	EventCampaignStarted    EventType = "CAMPAIGN_STARTED"
	EventItemDecided        EventType = "ITEM_DECIDED"
	EventCampaignCompleted  EventType = "CAMPAIGN_COMPLETED"
)

// GovernanceEvent is the persisted record of one state change. Delta
// carries a compact description of what changed, never the full entity.
type GovernanceEvent struct {
	EventID   string         `json:"event_id"`
	Type      EventType      `json:"type"`
	EntityID  string         `json:"entity_id"`
	Actor     string         `json:"actor"`
	Timestamp time.Time      `json:"timestamp"`
	Delta     map[string]any `json:"delta,omitempty"`
}
