package rbac

import (
	"github.com/mugisham37/authcore/internal/domain"
)

// Default system role names.
const (
	RoleGuest     = "guest"
	RoleUser      = "user"
	RoleModerator = "moderator"
	RoleAdmin     = "admin"
)

// defaultRoles builds the seed role set. All four are system roles and
// therefore immutable through the registry API.
func defaultRoles() []*domain.Role {
	return []*domain.Role{
		{
			Name:        RoleGuest,
			Description: "Read-only access to public resources",
			System:      true,
			Permissions: []domain.Permission{
				{Action: domain.ActionRead, Resource: "public", Scope: domain.ScopeGlobal},
			},
		},
		{
			Name:        RoleUser,
			Description: "Read and create own content",
			System:      true,
			Parents:     []string{RoleGuest},
			Permissions: []domain.Permission{
				{Action: domain.ActionRead, Resource: "content", Scope: domain.ScopeOwner},
				{Action: domain.ActionCreate, Resource: "content", Scope: domain.ScopeOwner},
			},
		},
		{
			Name:        RoleModerator,
			Description: "Moderate shared content",
			System:      true,
			Parents:     []string{RoleUser},
			Permissions: []domain.Permission{
				{Action: domain.ActionUpdate, Resource: "content", Scope: domain.ScopeProject},
				{Action: domain.ActionDelete, Resource: "content", Scope: domain.ScopeProject},
			},
		},
		{
			Name:        RoleAdmin,
			Description: "Full administrative access",
			System:      true,
			Parents:     []string{RoleModerator},
			Permissions: []domain.Permission{
				{Action: domain.ActionManage, Resource: "users", Scope: domain.ScopeGlobal},
				{Action: domain.ActionManage, Resource: "system", Scope: domain.ScopeGlobal},
			},
		},
	}
}
