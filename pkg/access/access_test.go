package access

import (
	"testing"

	"github.com/openfront-platform/openfront-oauth/pkg/scopes"
	"github.com/stretchr/testify/assert"
)

func TestAllowed(t *testing.T) {
	checker := NewChecker(scopes.Default())

	tests := []struct {
		name       string
		role       []string
		oauth      []string
		permission string
		expected   bool
	}{
		{"role grants", []string{"canManageOrders"}, nil, "canManageOrders", true},
		{"scope grants", nil, []string{"write_orders"}, "canManageOrders", true},
		{"read scope does not grant manage", nil, []string{"read_orders"}, "canManageOrders", false},
		{"either source is enough", []string{"canReadProducts"}, []string{"read_orders"}, "canReadOrders", true},
		{"nothing grants", nil, nil, "canReadProducts", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, checker.Allowed(tt.role, tt.oauth, tt.permission))
		})
	}
}

func TestEffective(t *testing.T) {
	checker := NewChecker(scopes.Default())

	perms := checker.Effective([]string{"canSeeOtherUsers"}, []string{"write_products"})
	assert.Equal(t, []string{"canManageProducts", "canReadProducts", "canSeeOtherUsers"}, perms)

	assert.Empty(t, checker.Effective(nil, nil))
}
