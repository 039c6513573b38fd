package rbac

// Resolve maps a role onto its capability set. Unrecognised roles, including
// differently cased spellings, resolve to an empty set.
func Resolve(role Role) Permissions {
	switch role {
	case RoleAdmin:
		return Permissions{
			ViewDashboard: true,
			SearchRecords: true,
			UploadCSV:     true,
			ManageUsers:   true,
			ViewAnalytics: true,
		}
	case RolePricingManager:
		return Permissions{
			ViewDashboard: true,
			SearchRecords: true,
			UploadCSV:     true,
			ViewAnalytics: true,
		}
	case RoleViewer:
		return Permissions{
			ViewDashboard: true,
			SearchRecords: true,
		}
	default:
		return Permissions{}
	}
}
