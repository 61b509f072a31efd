package infoprovider

import "strings"

// RoleAdmin is granted to configured administrator subjects.
const RoleAdmin = "admin"

type hardcodedInfoProvider struct {
	users map[string][]string
}

// GetRoles returns a slice of roles for a given user ID.
// Unknown users hold no roles.
func (p *hardcodedInfoProvider) GetRoles(id string) ([]string, error) {
	if id == "" {
		return nil, nil
	}
	return p.users[strings.ToLower(id)], nil
}

// NewHardcodedInfoProvider initializes a new InfoProvider with a map of users and their corresponding roles.
func NewHardcodedInfoProvider(users map[string][]string) InfoProvider {
	normalized := make(map[string][]string, len(users))
	for id, roles := range users {
		normalized[strings.ToLower(id)] = roles
	}
	return &hardcodedInfoProvider{users: normalized}
}

// NewAdminInfoProvider grants RoleAdmin to every subject in admins.
func NewAdminInfoProvider(admins []string) InfoProvider {
	users := make(map[string][]string, len(admins))
	for _, id := range admins {
		if id = strings.TrimSpace(id); id != "" {
			users[id] = []string{RoleAdmin}
		}
	}
	return NewHardcodedInfoProvider(users)
}
