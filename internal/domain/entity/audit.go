package entity

import "time"

// AuditLog is an immutable record of one state change.
// Records are appended and never updated or deleted.
type AuditLog struct {
	ID            string                 `json:"id"`
	Sequence      int64                  `json:"sequence"`
	EntityType    EntityType             `json:"entity_type"`
	EntityID      string                 `json:"entity_id"`
	Action        AuditAction            `json:"action"`
	ActorID       string                 `json:"actor_id"`
	ActorRole     Role                   `json:"actor_role,omitempty"`
	ChangeDetails map[string]interface{} `json:"change_details,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
}

// Detail returns a string value from the change details
func (a *AuditLog) Detail(key string) string {
	if val, ok := a.ChangeDetails[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}
