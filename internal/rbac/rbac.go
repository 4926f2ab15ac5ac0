package rbac

import "strings"

type Role string
type Action string

const (
	RoleViewer   Role = "viewer"
	RoleMentor   Role = "mentor"
	RoleReviewer Role = "reviewer"
	RoleAdmin    Role = "admin"
)

const (
	ActionRead     Action = "read"
	ActionPropose  Action = "propose"
	ActionReview   Action = "review"
	ActionEditLive Action = "editLive"
	ActionAdmin    Action = "admin"
)

// Can reports whether role may perform action in general. Ownership rules
// (only a draft's author may edit it) are enforced by the lifecycle package.
func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleReviewer:
		return action == ActionRead || action == ActionReview
	case RoleMentor:
		return action == ActionRead || action == ActionPropose
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch r := Role(strings.ToLower(strings.TrimSpace(role))); r {
	case RoleViewer, RoleMentor, RoleReviewer, RoleAdmin:
		return r
	default:
		return RoleViewer
	}
}
