package entity

import "github.com/google/uuid"

// Actor is the authenticated principal performing an operation.
// Identity is established upstream and handed to the engine as-is.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// SystemActor is used for operations that no user initiated
var SystemActor = Actor{ID: "system", Role: RoleSystemAdmin}

// NewID generates a new entity identifier
func NewID() string {
	return uuid.NewString()
}
