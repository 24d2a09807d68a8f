package roles

// Closed set of role tags. Every user record carries exactly one of these;
// the authorization engine dispatches on the tag.
const (
	ROLE_ADMIN               = "admin"
	ROLE_APPLICATION         = "application"
	ROLE_CHILD               = "child"
	ROLE_EDUCATOR            = "educator"
	ROLE_HEALTH_PROFESSIONAL = "healthprofessional"
	ROLE_FAMILY              = "family"
)

var All = []string{
	ROLE_ADMIN,
	ROLE_APPLICATION,
	ROLE_CHILD,
	ROLE_EDUCATOR,
	ROLE_HEALTH_PROFESSIONAL,
	ROLE_FAMILY,
}

func IsValid(role string) bool {
	for _, r := range All {
		if role == r {
			return true
		}
	}
	return false
}

// IsGroupOwner reports whether the role may own children groups.
func IsGroupOwner(role string) bool {
	return role == ROLE_EDUCATOR || role == ROLE_HEALTH_PROFESSIONAL
}
