package permission

// Permission names referenced by the portal. Every constant here must be
// present in DefaultPermissions; names_test.go enforces it.
const (
	DashboardView = "dashboard.view"

	UserRead        = "user.read"
	UserCreate      = "user.create"
	UserUpdate      = "user.update"
	UserDelete      = "user.delete"
	UserRolesAssign = "user.roles.assign"

	RoleRead              = "role.read"
	RoleCreate            = "role.create"
	RoleEdit              = "role.update"
	RoleDelete            = "role.delete"
	RolePermissionsManage = "role.permissions.manage"

	PermissionRead = "permission.read"

	PolicyRead    = "policy.read"
	PolicyWrite   = "policy.write"
	PolicyApprove = "policy.approve"

	ReportRead   = "report.read"
	ReportExport = "report.export"

	AuditRead = "audit.read"

	NotificationRead   = "notification.read"
	NotificationManage = "notification.manage"

	SystemSettingsManage = "system.settings.manage"
)

// DefaultPermissions is the catalog the portal ships with.
var DefaultPermissions = []Permission{
	{Name: DashboardView, Resource: "dashboard", Description: "View governance dashboards"},

	{Name: UserRead, Resource: "user", Description: "List and view users"},
	{Name: UserCreate, Resource: "user", Description: "Invite or create users"},
	{Name: UserUpdate, Resource: "user", Description: "Edit user profiles and status"},
	{Name: UserDelete, Resource: "user", Description: "Deactivate users", IsSystemPermission: true},
	{Name: UserRolesAssign, Resource: "user", Description: "Assign and revoke user roles", IsSystemPermission: true},

	{Name: RoleRead, Resource: "role", Description: "View roles"},
	{Name: RoleCreate, Resource: "role", Description: "Create roles", IsSystemPermission: true},
	{Name: RoleEdit, Resource: "role", Description: "Edit roles", IsSystemPermission: true},
	{Name: RoleDelete, Resource: "role", Description: "Delete roles", IsSystemPermission: true},
	{Name: RolePermissionsManage, Resource: "role", Description: "Grant and revoke role permissions", IsSystemPermission: true},

	{Name: PermissionRead, Resource: "permission", Description: "View the permission catalog"},

	{Name: PolicyRead, Resource: "policy", Description: "View governance policies"},
	{Name: PolicyWrite, Resource: "policy", Description: "Draft and edit policies"},
	{Name: PolicyApprove, Resource: "policy", Description: "Approve policy changes"},

	{Name: ReportRead, Resource: "report", Description: "View reports"},
	{Name: ReportExport, Resource: "report", Description: "Export reports"},

	{Name: AuditRead, Resource: "audit", Description: "Read the audit trail", IsSystemPermission: true},

	{Name: NotificationRead, Resource: "notification", Description: "Read notifications"},
	{Name: NotificationManage, Resource: "notification", Description: "Manage notification rules"},

	{Name: SystemSettingsManage, Resource: "system", Description: "Change portal settings", IsSystemPermission: true},
}

// DefaultCatalog builds a frozen catalog from DefaultPermissions.
func DefaultCatalog(width int) (*Catalog, error) {
	return BuildCatalog(width, DefaultPermissions)
}
