package rbac

type Role string
type Action string

const (
	RoleOwner   Role = "owner"
	RoleTracker Role = "tracker"
)

const (
	ActionManageMilestone Action = "manage_milestone"
	ActionTrack           Action = "track"
	ActionResetQuota      Action = "reset_quota"
	ActionReadOwn         Action = "read_own"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleOwner:
		return action == ActionManageMilestone || action == ActionReadOwn
	case RoleTracker:
		return action == ActionTrack || action == ActionResetQuota || action == ActionReadOwn
	default:
		return false
	}
}

// Normalize maps stored and legacy role names (pm1, pm2) onto a Role.
// Unknown values return the empty role, which Can denies.
func Normalize(role string) Role {
	switch role {
	case string(RoleOwner), "pm1":
		return RoleOwner
	case string(RoleTracker), "pm2":
		return RoleTracker
	default:
		return ""
	}
}
