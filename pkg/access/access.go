// Package access provides role lookups for the approval gate. Identity and
// authentication live in the surrounding practice platform; this package
// only answers "may this user approve here" questions.
package access

import (
	"context"
	"strings"
)

// StaticChecker resolves roles from a fixed configuration, typically
// supplied by environment variables. Surgery admin grants use the form
// "user@surgery".
type StaticChecker struct {
	globalAdmins  map[string]struct{}
	surgeryAdmins map[string]map[string]struct{}
}

// NewStaticChecker builds a checker from a list of global admin user ids
// and a list of "user@surgery" grants. Malformed grants are ignored.
func NewStaticChecker(globalAdmins, surgeryGrants []string) *StaticChecker {
	checker := &StaticChecker{
		globalAdmins:  make(map[string]struct{}, len(globalAdmins)),
		surgeryAdmins: make(map[string]map[string]struct{}),
	}

	for _, userID := range globalAdmins {
		if userID = strings.TrimSpace(userID); userID != "" {
			checker.globalAdmins[userID] = struct{}{}
		}
	}

	for _, grant := range surgeryGrants {
		userID, surgeryID, found := strings.Cut(strings.TrimSpace(grant), "@")
		if !found || userID == "" || surgeryID == "" {
			continue
		}

		if checker.surgeryAdmins[userID] == nil {
			checker.surgeryAdmins[userID] = make(map[string]struct{})
		}

		checker.surgeryAdmins[userID][surgeryID] = struct{}{}
	}

	return checker
}

func (c *StaticChecker) IsGlobalAdmin(_ context.Context, userID string) (bool, error) {
	_, ok := c.globalAdmins[userID]

	return ok, nil
}

func (c *StaticChecker) IsAdminOfSurgery(_ context.Context, userID, surgeryID string) (bool, error) {
	_, ok := c.surgeryAdmins[userID][surgeryID]

	return ok, nil
}

// AllowAll grants every role. Local development only.
type AllowAll struct{}

func (AllowAll) IsGlobalAdmin(_ context.Context, _ string) (bool, error) {
	return true, nil
}

func (AllowAll) IsAdminOfSurgery(_ context.Context, _, _ string) (bool, error) {
	return true, nil
}
