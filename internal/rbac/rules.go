package rbac

// Simple default policy. Expand as needed.
var RolePermissions = map[string][]string{
	"student": {
		"test:view",
		"attempt:create",
		"attempt:save",
		"attempt:submit",
		"attempt:view-own",
		"user:change_password",
	},
	"teacher": {
		"test:create",
		"test:delete_own",
		"test:view",
		"test:view_key",
		"attempt:view-all",
		"users:bulk_upsert",
		"users:list",
		"payments:view",
		"user:change_password",
	},
	"admin": {
		"*", // everything
	},
}
