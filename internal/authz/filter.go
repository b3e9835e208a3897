// Package authz defines the authorization filter contract this pipeline
// consumes from the external RBAC collaborator. The pipeline exposes
// filterable read APIs; it never evaluates roles or permissions itself.
package authz

import "github.com/syncline-io/syncline/internal/models"

// Filter narrows which canonical and serving records a caller may see.
// Implementations are supplied by the RBAC collaborator per caller.
type Filter interface {
	// AllowedEntities returns the entity types visible to the caller.
	// A nil slice means unrestricted.
	AllowedEntities() []models.EntityType
}

// AllowAll is the unrestricted filter, used where no RBAC collaborator is
// wired (local development, internal tooling).
type AllowAll struct{}

func (AllowAll) AllowedEntities() []models.EntityType { return nil }

// Allows reports whether the filter permits an entity type.
func Allows(f Filter, entityType models.EntityType) bool {
	if f == nil {
		return true
	}
	allowed := f.AllowedEntities()
	if allowed == nil {
		return true
	}
	for _, et := range allowed {
		if et == entityType {
			return true
		}
	}
	return false
}
