package models

import "time"

// DateLayout is the on-disk and wire format of a leave date.
const DateLayout = "2006-01-02"

type Role string

const (
	RoleEmployee Role = "Employee"
	RoleManager  Role = "Manager"
)

func (r Role) Valid() bool {
	return r == RoleEmployee || r == RoleManager
}

type LeaveType string

const (
	SickLeave   LeaveType = "Sick Leave"
	CasualLeave LeaveType = "Casual Leave"
	EarnedLeave LeaveType = "Earned Leave"
)

// LeaveTypes lists the selectable leave types in display order.
var LeaveTypes = []LeaveType{SickLeave, CasualLeave, EarnedLeave}

func (t LeaveType) Valid() bool {
	for _, lt := range LeaveTypes {
		if t == lt {
			return true
		}
	}
	return false
}

type Status string

const (
	StatusWaiting  Status = "Waiting"
	StatusApproved Status = "Approved"
	StatusRejected Status = "Rejected"
)

// IsDecision reports whether s is a status a manager may set.
func (s Status) IsDecision() bool {
	return s == StatusApproved || s == StatusRejected
}

type User struct {
	Username     string `json:"username"`
	PasswordHash string `json:"-"`
	Role         Role   `json:"role"`
	Manager      string `json:"manager,omitempty"` // empty when none
}

// LeaveEntry is one day of leave as submitted by an employee.
type LeaveEntry struct {
	Date    time.Time `json:"-"`
	Type    LeaveType `json:"leave_type"`
	Comment string    `json:"comment"`
}

type LeaveRequest struct {
	ID       int64     `json:"id"`
	Username string    `json:"username"`
	Date     time.Time `json:"-"`
	Type     LeaveType `json:"leave_type"`
	Comment  string    `json:"comment"`
	Status   Status    `json:"status"`
}

// DateString returns the leave date in DateLayout.
func (l LeaveRequest) DateString() string {
	return l.Date.Format(DateLayout)
}
