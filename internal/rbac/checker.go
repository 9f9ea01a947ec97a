package rbac

import "strings"

// Checker answers whether a role may perform an action, against either the
// default policy in rules.go or an injected one.
type Checker struct {
	perms map[string][]string
}

func NewChecker(perms map[string][]string) *Checker {
	if perms == nil {
		perms = RolePermissions
	}
	return &Checker{perms: perms}
}

func (c *Checker) Has(role, perm string) bool {
	for _, granted := range c.perms[role] {
		if permCovers(granted, perm) {
			return true
		}
	}
	return false
}

func (c *Checker) Any(role string, perms ...string) bool {
	for _, p := range perms {
		if c.Has(role, p) {
			return true
		}
	}
	return false
}

func (c *Checker) All(role string, perms ...string) bool {
	for _, p := range perms {
		if !c.Has(role, p) {
			return false
		}
	}
	return true
}

// permCovers reports whether a granted permission satisfies the requested
// one: "*" grants everything, a trailing "*" grants the prefix.
func permCovers(granted, want string) bool {
	switch {
	case granted == "*" || granted == want:
		return true
	case strings.HasSuffix(granted, "*"):
		return strings.HasPrefix(want, granted[:len(granted)-1])
	default:
		return false
	}
}
