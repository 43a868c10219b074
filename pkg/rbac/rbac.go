// Package rbac holds the static role -> (resource, action) permission
// matrix enforced on every mutating operation. The matrix is fixed at
// build time; roles outside it are rejected as invalid input at user
// creation.
package rbac

import (
	"github.com/jacobsprake/munin-sub000/pkg/contracts"
)

// Permission is one (resource, action) grant. "*" is a wildcard on
// either side.
type Permission struct {
	Resource string
	Action   string
}

// Role names.
const (
	RoleAdmin                = "admin"
	RoleOperator             = "operator"
	RoleViewer               = "viewer"
	RoleMinistryOfDefense    = "ministry_of_defense"
	RoleDefense              = "defense"
	RoleWaterAuthority       = "water_authority"
	RolePowerGridOperator    = "power_grid_operator"
	RoleRegulatoryCompliance = "regulatory_compliance"
	RoleEmergencyServices    = "emergency_services"
)

var operatorPerms = []Permission{
	{"decisions", "create"}, {"decisions", "sign"}, {"decisions", "view"},
	{"packets", "view"}, {"packets", "authorize"},
	{"incidents", "view"}, {"graph", "view"},
	{"simulation", "run"},
}

var matrix = map[string][]Permission{
	RoleAdmin:  {{"*", "*"}},
	RoleViewer: {{"decisions", "view"}, {"packets", "view"}, {"incidents", "view"}, {"graph", "view"}},

	RoleOperator:          operatorPerms,
	RoleDefense:           operatorPerms,
	RoleEmergencyServices: operatorPerms,

	RoleMinistryOfDefense: append([]Permission{{"cmi", "activate"}, {"cmi", "authorize"}}, operatorPerms...),
	RoleWaterAuthority:    append([]Permission{{"water", "*"}}, operatorPerms...),
	RolePowerGridOperator: append([]Permission{{"power", "*"}}, operatorPerms...),

	RoleRegulatoryCompliance: {
		{"decisions", "view"}, {"decisions", "sign"},
		{"packets", "view"}, {"audit", "view"},
		{"incidents", "view"}, {"graph", "view"},
	},
}

// KnownRole reports whether the role exists in the matrix.
func KnownRole(role string) bool {
	_, ok := matrix[role]
	return ok
}

// Roles returns the role vocabulary.
func Roles() []string {
	out := make([]string, 0, len(matrix))
	for r := range matrix {
		out = append(out, r)
	}
	return out
}

// Has reports whether role grants action on resource: exact match, a
// wildcard action for the resource, a wildcard resource for the action,
// or the full wildcard.
func Has(role, resource, action string) bool {
	for _, p := range matrix[role] {
		resourceOK := p.Resource == "*" || p.Resource == resource
		actionOK := p.Action == "*" || p.Action == action
		if resourceOK && actionOK {
			return true
		}
	}
	return false
}

// Require returns a typed PermissionDenied error when the role lacks
// the grant.
func Require(role, resource, action string) error {
	if !Has(role, resource, action) {
		return contracts.E(contracts.KindPermissionDenied,
			"role %s lacks %s/%s", role, resource, action)
	}
	return nil
}
