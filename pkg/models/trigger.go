package models

type TriggerType string

const (
	TriggerWebhook  TriggerType = "webhook"
	TriggerSchedule TriggerType = "schedule"
	TriggerEvent    TriggerType = "event"
	TriggerManual   TriggerType = "manual"
)

// Trigger declares how a workflow may be started. Config is opaque to the
// core; the component that owns the trigger type interprets it.
type Trigger struct {
	Type    TriggerType    `json:"type" validate:"required,oneof=webhook schedule event manual"`
	Config  map[string]any `json:"config,omitempty"`
	Enabled bool           `json:"enabled"`
}
