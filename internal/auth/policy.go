package auth

// Policy is the set of roles allowed through. An empty set admits any
// authenticated principal.
type Policy struct {
	roles []Role
}

var (
	AnyRole = Require()
	// ReadAdmin guards account listing, deletion and the audit log.
	ReadAdmin = Require(RoleAdmin, RoleSuperuser)
	// ManageRoles guards role changes and system endpoints.
	ManageRoles = Require(RoleSuperuser)
)

func Require(roles ...Role) Policy {
	return Policy{roles: append([]Role(nil), roles...)}
}

func (p Policy) Authorize(pr Principal) error {
	if len(p.roles) == 0 {
		return nil
	}
	for _, r := range p.roles {
		if pr.Role == r {
			return nil
		}
	}
	return ErrForbidden
}

func (p Policy) Roles() []Role {
	return append([]Role(nil), p.roles...)
}
