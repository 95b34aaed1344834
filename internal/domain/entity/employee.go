package entity

import "time"

// Employee is the subject of onboarding and offboarding workflows
type Employee struct {
	ID         string         `json:"id"`
	FirstName  string         `json:"first_name"`
	LastName   string         `json:"last_name"`
	Email      string         `json:"email"`
	JobRole    string         `json:"job_role"`
	Department string         `json:"department,omitempty"`
	StartDate  *time.Time     `json:"start_date,omitempty"`
	ManagerID  string         `json:"manager_id,omitempty"`
	Status     EmployeeStatus `json:"status"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// FullName returns "First Last"
func (e *Employee) FullName() string {
	if e.LastName == "" {
		return e.FirstName
	}
	return e.FirstName + " " + e.LastName
}
