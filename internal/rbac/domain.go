package rbac

import "errors"

// ErrForbidden indicates the principal lacks the capability for an operation.
var ErrForbidden = errors.New("rbac: forbidden")

// Role is the coarse grouping stored on a user profile.
type Role string

const (
	RoleAdmin          Role = "admin"
	RolePricingManager Role = "pricing_manager"
	RoleViewer         Role = "viewer"
)

// Roles lists every recognised role.
func Roles() []Role {
	return []Role{RoleAdmin, RolePricingManager, RoleViewer}
}

// Valid reports whether the role is one of the recognised values.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RolePricingManager, RoleViewer:
		return true
	}
	return false
}

// Capability names a single permission flag.
type Capability string

const (
	CapViewDashboard Capability = "viewDashboard"
	CapSearchRecords Capability = "searchRecords"
	CapUploadCSV     Capability = "uploadCSV"
	CapManageUsers   Capability = "manageUsers"
	CapViewAnalytics Capability = "viewAnalytics"
)

// Permissions is the capability set derived from a role.
type Permissions struct {
	ViewDashboard bool `json:"viewDashboard"`
	SearchRecords bool `json:"searchRecords"`
	UploadCSV     bool `json:"uploadCSV"`
	ManageUsers   bool `json:"manageUsers"`
	ViewAnalytics bool `json:"viewAnalytics"`
}

// Allows reports whether the capability is granted.
func (p Permissions) Allows(c Capability) bool {
	switch c {
	case CapViewDashboard:
		return p.ViewDashboard
	case CapSearchRecords:
		return p.SearchRecords
	case CapUploadCSV:
		return p.UploadCSV
	case CapManageUsers:
		return p.ManageUsers
	case CapViewAnalytics:
		return p.ViewAnalytics
	}
	return false
}

// Principal describes the authenticated actor handed to engine operations.
type Principal struct {
	UID         string      `json:"uid"`
	Email       string      `json:"email"`
	Role        Role        `json:"role"`
	Permissions Permissions `json:"permissions"`
}

// NewPrincipal builds a principal whose permissions are resolved from role.
func NewPrincipal(uid, email string, role Role) Principal {
	return Principal{UID: uid, Email: email, Role: role, Permissions: Resolve(role)}
}

// Can reports whether the principal holds the capability.
func (p Principal) Can(c Capability) bool {
	return p.Permissions.Allows(c)
}

// Authorize returns ErrForbidden when the principal lacks the capability.
func Authorize(p Principal, c Capability) error {
	if p.Can(c) {
		return nil
	}
	return ErrForbidden
}
