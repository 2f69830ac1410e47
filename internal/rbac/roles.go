package rbac

// Role names. Keep these stable; they are embedded in issued access tokens.
const (
	RoleViewer     = "viewer"
	RoleOperator   = "operator"
	RoleSuperAdmin = "super_admin"
)

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }

// CanControlCalls reports whether role may dispatch calls or hang them up.
func CanControlCalls(role string) bool {
	return role == RoleOperator || IsSuperAdmin(role)
}
