// Package permissions stores the permissions granted directly to users.
package permissions

import (
	"context"
	"slices"
	"time"
)

// UserPermission grants PermissionName on a resource server to a user.
type UserPermission struct {
	TenantID                 string    `json:"tenant_id"`
	UserID                   string    `json:"user_id"`
	ResourceServerIdentifier string    `json:"resource_server_identifier"`
	PermissionName           string    `json:"permission_name"`
	CreatedAt                time.Time `json:"created_at"`
}

// Repository lists and changes user permissions. List returns an empty
// slice for users without permissions.
type Repository interface {
	List(ctx context.Context, tenantID, userID string) ([]UserPermission, error)
	Grant(ctx context.Context, permission UserPermission) error
	Revoke(ctx context.Context, tenantID, userID, resourceServer, permissionName string) error
}

// Has reports whether perms contains name. Names are compared exactly.
func Has(perms []UserPermission, name string) bool {
	return slices.ContainsFunc(perms, func(p UserPermission) bool {
		return p.PermissionName == name
	})
}

func same(a UserPermission, tenantID, userID, resourceServer, name string) bool {
	return a.TenantID == tenantID && a.UserID == userID &&
		a.ResourceServerIdentifier == resourceServer && a.PermissionName == name
}
