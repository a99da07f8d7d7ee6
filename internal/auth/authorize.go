package auth

import (
	"fmt"

	"trustcenter.dev/internal/trust"
)

var roleRank = map[trust.AdminRole]int{
	trust.RoleAdmin:      1,
	trust.RoleSuperAdmin: 2,
}

// Allows reports whether an admin holding have may act where need is required.
func Allows(have, need trust.AdminRole) bool {
	return roleRank[have] >= roleRank[need] && roleRank[need] > 0
}

// Require returns trust.ErrForbidden when admin lacks the role.
func Require(admin trust.AdminUser, need trust.AdminRole) error {
	if !admin.IsActive || !Allows(admin.Role, need) {
		return fmt.Errorf("%w: %s role required", trust.ErrForbidden, need)
	}
	return nil
}
