package rbac

import (
	"fmt"
	"sync"

	apperrors "github.com/mugisham37/authcore/pkg/errors"
	"github.com/mugisham37/authcore/internal/domain"
)

// Registry holds the role graph and answers permission checks. Safe for
// concurrent use.
type Registry struct {
	mu    sync.RWMutex
	roles map[string]*domain.Role
}

// NewRegistry creates an empty role registry.
func NewRegistry() *Registry {
	return &Registry{roles: make(map[string]*domain.Role)}
}

// NewRegistryWithDefaults creates a registry seeded with the default system
// roles: guest, user, moderator, and admin.
func NewRegistryWithDefaults() *Registry {
	r := NewRegistry()
	for _, role := range defaultRoles() {
		r.roles[role.Name] = role
	}
	return r
}

// RegisterRole adds or replaces a role. Replacing a system role is rejected.
func (r *Registry) RegisterRole(role *domain.Role) error {
	if role.Name == "" {
		return apperrors.InvalidInput("role name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.roles[role.Name]; ok && existing.System {
		return apperrors.Forbidden(fmt.Sprintf("system role %q cannot be modified", role.Name))
	}
	r.roles[role.Name] = role
	return nil
}

// GetRole returns the role with the given name.
func (r *Registry) GetRole(name string) (*domain.Role, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	role, ok := r.roles[name]
	if !ok {
		return nil, apperrors.NotFound("role", name)
	}
	return role, nil
}

// DeleteRole removes a role. System roles are not deletable.
func (r *Registry) DeleteRole(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	role, ok := r.roles[name]
	if !ok {
		return apperrors.NotFound("role", name)
	}
	if role.System {
		return apperrors.Forbidden(fmt.Sprintf("system role %q cannot be deleted", name))
	}
	delete(r.roles, name)
	return nil
}

// ListRoles returns every registered role name.
func (r *Registry) ListRoles() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.roles))
	for name := range r.roles {
		names = append(names, name)
	}
	return names
}

// GetAllPermissions resolves the role's permission set including every
// parent role, transitively. Roles already visited in the current resolution
// chain are skipped, so cyclic parent graphs terminate with a finite set.
func (r *Registry) GetAllPermissions(roleName string) ([]domain.Permission, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.roles[roleName]; !ok {
		return nil, apperrors.NotFound("role", roleName)
	}

	seen := make(map[string]domain.Permission)
	visited := make(map[string]bool)
	r.collect(roleName, visited, seen)

	perms := make([]domain.Permission, 0, len(seen))
	for _, p := range seen {
		perms = append(perms, p)
	}
	return perms, nil
}

// collect walks the parent graph depth-first under the read lock. Unknown
// parents are ignored rather than failing the whole resolution.
func (r *Registry) collect(roleName string, visited map[string]bool, seen map[string]domain.Permission) {
	if visited[roleName] {
		return
	}
	visited[roleName] = true

	role, ok := r.roles[roleName]
	if !ok {
		return
	}
	for _, p := range role.Permissions {
		if _, dup := seen[p.Key()]; !dup {
			seen[p.Key()] = p
		}
	}
	for _, parent := range role.Parents {
		r.collect(parent, visited, seen)
	}
}

// CheckPermission reports whether any of the user's roles grants the action
// on the resource, after resolving inheritance and evaluating permission
// conditions against the supplied context. Unknown roles contribute nothing.
func (r *Registry) CheckPermission(userRoles []string, resource string, action domain.Action, evalCtx map[string]any) bool {
	for _, roleName := range userRoles {
		perms, err := r.GetAllPermissions(roleName)
		if err != nil {
			continue
		}
		for _, p := range perms {
			if !p.Grants(resource, action) {
				continue
			}
			if evaluateConditions(p.Conditions, evalCtx) {
				return true
			}
		}
	}
	return false
}
