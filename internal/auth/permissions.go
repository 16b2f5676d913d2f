package auth

// Operation names recognized by the administrative permission gates.
const (
	OpCreate = "create"
	OpRead   = "read"
	OpUpdate = "update"
	OpDelete = "delete"
	OpAssign = "assign"
	OpManage = "manage"
)

// Resources guarded by the catalog.
const (
	ResourceUsers       = "users"
	ResourcePermissions = "permissions"
	ResourceRoles       = "roles"
	ResourceProfile     = "profile"
	ResourceTokens      = "tokens"
)

// Permission names shared by seed data, the admin services and the request
// gates. The single table below is the source of truth; these constants
// exist so call sites never retype "resource.action" strings.
const (
	PermUsersCreate = "users.create"
	PermUsersRead   = "users.read"
	PermUsersUpdate = "users.update"
	PermUsersDelete = "users.delete"
	PermUsersAssign = "users.assign"
	PermUsersManage = "users.manage"

	PermRolesCreate = "roles.create"
	PermRolesRead   = "roles.read"
	PermRolesUpdate = "roles.update"
	PermRolesDelete = "roles.delete"
	PermRolesAssign = "roles.assign"
	PermRolesManage = "roles.manage"

	PermPermissionsCreate = "permissions.create"
	PermPermissionsRead   = "permissions.read"
	PermPermissionsUpdate = "permissions.update"
	PermPermissionsDelete = "permissions.delete"
	PermPermissionsAssign = "permissions.assign"
	PermPermissionsManage = "permissions.manage"

	PermProfileRead  = "profile.read"
	PermProfileWrite = "profile.write"

	PermTokensManage = "tokens.manage"
)

// DefaultRoleName is assigned to every newly registered account.
const DefaultRoleName = "User"

// AdminRoleName holds every administrative permission in the seed data.
const AdminRoleName = "Admin"

// BuiltinPermissions is the closed catalog installed by the seed path.
var BuiltinPermissions = []Permission{
	{Resource: ResourceUsers, Action: OpCreate, Name: PermUsersCreate, Description: "Create users"},
	{Resource: ResourceUsers, Action: OpRead, Name: PermUsersRead, Description: "Read users"},
	{Resource: ResourceUsers, Action: OpUpdate, Name: PermUsersUpdate, Description: "Update users"},
	{Resource: ResourceUsers, Action: OpDelete, Name: PermUsersDelete, Description: "Delete users"},
	{Resource: ResourceUsers, Action: OpAssign, Name: PermUsersAssign, Description: "Assign roles to users"},
	{Resource: ResourceUsers, Action: OpManage, Name: PermUsersManage, Description: "Full user administration"},

	{Resource: ResourceRoles, Action: OpCreate, Name: PermRolesCreate, Description: "Create roles"},
	{Resource: ResourceRoles, Action: OpRead, Name: PermRolesRead, Description: "Read roles"},
	{Resource: ResourceRoles, Action: OpUpdate, Name: PermRolesUpdate, Description: "Update roles"},
	{Resource: ResourceRoles, Action: OpDelete, Name: PermRolesDelete, Description: "Delete roles"},
	{Resource: ResourceRoles, Action: OpAssign, Name: PermRolesAssign, Description: "Grant permissions to roles"},
	{Resource: ResourceRoles, Action: OpManage, Name: PermRolesManage, Description: "Full role administration"},

	{Resource: ResourcePermissions, Action: OpCreate, Name: PermPermissionsCreate, Description: "Create permissions"},
	{Resource: ResourcePermissions, Action: OpRead, Name: PermPermissionsRead, Description: "Read permissions"},
	{Resource: ResourcePermissions, Action: OpUpdate, Name: PermPermissionsUpdate, Description: "Update permissions"},
	{Resource: ResourcePermissions, Action: OpDelete, Name: PermPermissionsDelete, Description: "Delete permissions"},
	{Resource: ResourcePermissions, Action: OpAssign, Name: PermPermissionsAssign, Description: "Assign permissions"},
	{Resource: ResourcePermissions, Action: OpManage, Name: PermPermissionsManage, Description: "Full permission administration"},

	{Resource: ResourceProfile, Action: OpRead, Name: PermProfileRead, Description: "Read own profile"},
	{Resource: ResourceProfile, Action: "write", Name: PermProfileWrite, Description: "Update own profile"},

	{Resource: ResourceTokens, Action: OpManage, Name: PermTokensManage, Description: "Manage refresh tokens"},
}

// DefaultRolePermissions are granted to the default role at seed time.
var DefaultRolePermissions = []string{PermProfileRead, PermProfileWrite}
