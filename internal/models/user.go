package models

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleAdmin   UserRole = "ADMIN"
	RoleTeacher UserRole = "TEACHER"
	RoleStudent UserRole = "STUDENT"
)

// Valid reports whether r is one of the known roles.
func (r UserRole) Valid() bool {
	switch r {
	case RoleAdmin, RoleTeacher, RoleStudent:
		return true
	default:
		return false
	}
}

// User represents an application user stored in the users table.
type User struct {
	ID            string   `db:"id" json:"id"`
	FullName      string   `db:"full_name" json:"full_name"`
	Role          UserRole `db:"role" json:"role"`
	LedgerAccount *string  `db:"ledger_account" json:"ledger_account,omitempty"`
}

// Actor is the authenticated caller of a service operation.
type Actor struct {
	UserID string
	Role   UserRole
}

// CanManageLecture reports whether the actor may open, extend or close
// sessions and edit attendance of a lecture taught by teacherID.
func (a Actor) CanManageLecture(teacherID string) bool {
	switch a.Role {
	case RoleAdmin:
		return true
	case RoleTeacher:
		return a.UserID != "" && a.UserID == teacherID
	default:
		return false
	}
}

// CanRedeem reports whether the actor may redeem attendance tokens.
func (a Actor) CanRedeem() bool {
	return a.Role == RoleStudent && a.UserID != ""
}

// CanViewStatistics reports whether the actor may read ledger statistics.
func (a Actor) CanViewStatistics() bool {
	switch a.Role {
	case RoleAdmin, RoleTeacher:
		return true
	default:
		return false
	}
}
