package workflow

// Trigger is an operation that can cause a state transition
type Trigger string

const (
	TriggerStart    Trigger = "START"
	TriggerAssign   Trigger = "ASSIGN"
	TriggerComplete Trigger = "COMPLETE"
	TriggerCancel   Trigger = "CANCEL"
)

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}
