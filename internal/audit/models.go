// Package audit records every state-changing action as an append-only event
// stream. Identity numbers are masked before they reach this package;
// nothing here ever sees a raw number.
package audit

import "time"

// ActorType identifies who caused an event.
type ActorType string

const (
	ActorAdmin    ActorType = "admin"
	ActorCustomer ActorType = "customer"
	ActorSystem   ActorType = "system"
)

// Action is the event vocabulary. Add new actions here; never reuse one
// with different semantics.
type Action string

const (
	ActionListCreated        Action = "list_created"
	ActionListDeleted        Action = "list_deleted"
	ActionLinksSent          Action = "links_sent"
	ActionLinkResent         Action = "link_resent"
	ActionLinkSendFailed     Action = "link_send_failed"
	ActionVerificationOK     Action = "verification_success"
	ActionVerificationFailed Action = "verification_failed"
	ActionVerificationRetry  Action = "verification_retried"
	ActionAnalysisCreated    Action = "analysis_created"
	ActionBulkStarted        Action = "bulk_verify_started"
	ActionBulkPaused         Action = "bulk_verify_paused"
	ActionBulkResumed        Action = "bulk_verify_resumed"
	ActionBulkCompleted      Action = "bulk_verify_completed"
	ActionExportGenerated    Action = "export_generated"
)

// Event is one immutable audit record.
type Event struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	ListID    string         `json:"listId,omitempty"`
	EntryID   string         `json:"entryId,omitempty"`
	Action    Action         `json:"action"`
	ActorType ActorType      `json:"actorType"`
	ActorID   string         `json:"actorId,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// Filter narrows activity queries.
type Filter struct {
	Action   Action
	From     time.Time
	To       time.Time
	Page     int
	PageSize int
}
