package tracking

import "milestonetracker/api/internal/rbac"

// Caller is the authenticated identity an operation runs as.
type Caller struct {
	ID   string
	Role rbac.Role
}

func (c Caller) require(action rbac.Action) error {
	if c.ID == "" {
		return ErrUnauthenticated
	}
	if !rbac.Can(c.Role, action) {
		return ErrForbidden
	}
	return nil
}
