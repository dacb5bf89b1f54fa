// Package scopes holds the static table of OAuth scopes known to the
// platform and the permissions each scope confers.
package scopes

import (
	"sort"
	"strings"
)

// Table is immutable once built. It is safe for concurrent use.
type Table struct {
	defaultScope string
	permissions  map[string][]string
	names        []string
}

// NewTable builds a table from a scope→permissions mapping. defaultScope
// must be one of the keys.
func NewTable(defaultScope string, mapping map[string][]string) *Table {
	permissions := make(map[string][]string, len(mapping))
	names := make([]string, 0, len(mapping))
	for scope, perms := range mapping {
		permissions[scope] = append([]string(nil), perms...)
		names = append(names, scope)
	}
	sort.Strings(names)
	return &Table{
		defaultScope: defaultScope,
		permissions:  permissions,
		names:        names,
	}
}

// Default returns the storefront's scope table
func Default() *Table {
	return NewTable("read_products", map[string][]string{
		"read_products":        {"canReadProducts"},
		"write_products":       {"canReadProducts", "canManageProducts"},
		"read_orders":          {"canReadOrders"},
		"write_orders":         {"canReadOrders", "canManageOrders"},
		"read_customers":       {"canReadUsers"},
		"write_customers":      {"canReadUsers", "canManageUsers"},
		"read_fulfillments":    {"canReadFulfillments"},
		"write_fulfillments":   {"canReadFulfillments", "canManageFulfillments"},
		"read_webhooks":        {"canReadWebhooks"},
		"write_webhooks":       {"canReadWebhooks", "canManageWebhooks"},
		"read_analytics":       {"canReadAnalytics"},
		"read_discounts":       {"canReadDiscounts"},
		"write_discounts":      {"canReadDiscounts", "canManageDiscounts"},
		"read_gift_cards":      {"canReadGiftCards"},
		"write_gift_cards":     {"canReadGiftCards", "canManageGiftCards"},
		"read_returns":         {"canReadReturns"},
		"write_returns":        {"canReadReturns", "canManageReturns"},
		"read_sales_channels":  {"canReadSalesChannels"},
		"write_sales_channels": {"canReadSalesChannels", "canManageSalesChannels"},
		"read_payments":        {"canReadPayments"},
		"write_payments":       {"canReadPayments", "canManagePayments"},
	})
}

// DefaultScope is used when an authorization request names no scope
func (t *Table) DefaultScope() string {
	return t.defaultScope
}

// Known reports whether scope is part of the enumeration
func (t *Table) Known(scope string) bool {
	_, ok := t.permissions[scope]
	return ok
}

// Names returns every known scope, sorted
func (t *Table) Names() []string {
	return append([]string(nil), t.names...)
}

// Permissions returns the permissions conferred by scope
func (t *Table) Permissions(scope string) []string {
	return append([]string(nil), t.permissions[scope]...)
}

// AllPermissions returns every permission any scope confers, sorted
func (t *Table) AllPermissions() []string {
	seen := map[string]struct{}{}
	for _, perms := range t.permissions {
		for _, p := range perms {
			seen[p] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Grants reports whether any of scopes maps to permission
func (t *Table) Grants(scopes []string, permission string) bool {
	for _, scope := range scopes {
		for _, p := range t.permissions[scope] {
			if p == permission {
				return true
			}
		}
	}
	return false
}

// Unknown returns the entries of scopes that are not in the table
func (t *Table) Unknown(scopes []string) []string {
	var unknown []string
	for _, scope := range scopes {
		if !t.Known(scope) {
			unknown = append(unknown, scope)
		}
	}
	return unknown
}

// Parse splits a requested scope string on commas when it contains any,
// otherwise on whitespace.
func Parse(raw string) []string {
	var parts []string
	if strings.Contains(raw, ",") {
		parts = strings.Split(raw, ",")
	} else {
		parts = strings.Fields(raw)
	}

	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
