package domain

// Action enumerates the operations a permission can grant.
type Action string

const (
	ActionCreate  Action = "create"
	ActionRead    Action = "read"
	ActionUpdate  Action = "update"
	ActionDelete  Action = "delete"
	ActionExecute Action = "execute"
	// ActionManage implies every other action on the permission's resource.
	ActionManage Action = "manage"
)

// Scope bounds the reach of a permission.
type Scope string

const (
	ScopeGlobal       Scope = "global"
	ScopeOrganization Scope = "organization"
	ScopeProject      Scope = "project"
	ScopeResource     Scope = "resource"
	ScopeOwner        Scope = "owner"
)

// ResourceWildcard matches any resource name in a permission.
const ResourceWildcard = "*"

// Permission is an immutable (action, resource, scope) tuple with optional
// context conditions. Equality is defined by Key(), ignoring conditions.
type Permission struct {
	Action     Action         `json:"action"`
	Resource   string         `json:"resource"`
	Scope      Scope          `json:"scope"`
	Conditions map[string]any `json:"conditions,omitempty"`
}

// Key returns the identity of the permission used for set semantics.
func (p Permission) Key() string {
	return string(p.Action) + ":" + p.Resource + ":" + string(p.Scope)
}

// Grants reports whether this permission covers the given resource and
// action, ignoring conditions. Manage implies all actions on the resource,
// and a wildcard resource matches everything.
func (p Permission) Grants(resource string, action Action) bool {
	if p.Resource != resource && p.Resource != ResourceWildcard {
		return false
	}
	return p.Action == action || p.Action == ActionManage
}

// Role is a named set of permissions with optional parent roles. Parent
// resolution happens in the RBAC registry, which guards against cycles.
type Role struct {
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Permissions []Permission `json:"permissions"`
	Parents     []string     `json:"parents,omitempty"`
	System      bool         `json:"system"`
}
