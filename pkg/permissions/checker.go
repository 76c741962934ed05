// Package permissions checks caller permissions against required ones with
// support for wildcards.
//
// Permission Format:
//   - "*" - Full access
//   - "pharmacy.*" - All pharmacy actions
//   - "pharmacy.dispense" - Specific action
//   - "pharmacy.stock.adjust" - Nested permission
package permissions

import (
	"strings"
)

// Pharmacy permissions
const (
	Dispense    = "pharmacy.dispense"
	StockRead   = "pharmacy.stock.read"
	StockWrite  = "pharmacy.stock.write"
	StockAdjust = "pharmacy.stock.adjust"
)

// HasPermission checks if the granted permissions include the required permission.
func HasPermission(granted []string, required string) bool {
	if required == "" {
		return true
	}

	for _, p := range granted {
		if p == "*" || p == required {
			return true
		}
		if strings.HasSuffix(p, ".*") {
			prefix := strings.TrimSuffix(p, ".*")
			if strings.HasPrefix(required, prefix+".") {
				return true
			}
		}
	}
	return false
}

// HasAnyPermission checks if any of the required permissions is granted.
func HasAnyPermission(granted []string, required []string) bool {
	for _, req := range required {
		if HasPermission(granted, req) {
			return true
		}
	}
	return false
}

// Parse splits a comma separated permission header into a list.
func Parse(header string) []string {
	if header == "" {
		return nil
	}
	parts := strings.Split(header, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
