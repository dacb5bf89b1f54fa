// Package access evaluates permissions for a resolved session.
package access

import (
	"slices"

	"github.com/openfront-platform/openfront-oauth/pkg/scopes"
)

// Checker combines role grants with OAuth scope grants
type Checker struct {
	table *scopes.Table
}

func NewChecker(table *scopes.Table) *Checker {
	return &Checker{table: table}
}

// Allowed grants permission when the role grants it or when any attached
// OAuth scope maps to it.
func (c *Checker) Allowed(rolePermissions, oauthScopes []string, permission string) bool {
	if slices.Contains(rolePermissions, permission) {
		return true
	}
	return c.table.Grants(oauthScopes, permission)
}

// Effective lists every permission the caller holds
func (c *Checker) Effective(rolePermissions, oauthScopes []string) []string {
	candidates := c.table.AllPermissions()
	for _, p := range rolePermissions {
		if !slices.Contains(candidates, p) {
			candidates = append(candidates, p)
		}
	}
	slices.Sort(candidates)

	var out []string
	for _, p := range candidates {
		if c.Allowed(rolePermissions, oauthScopes, p) {
			out = append(out, p)
		}
	}
	return out
}
