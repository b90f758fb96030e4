package cache

import (
	"strings"
)

// Key identifies a cached catalog snapshot.
type Key struct {
	// Scope separates organizations or environments sharing one backend.
	Scope string

	// Kind is the catalog kind, e.g. "custom_field".
	Kind string

	// ObjectType is the object type the catalog belongs to; empty for
	// global catalogs such as users.
	ObjectType string
}

// String generates a deterministic cache key string.
// Format: close:catalog:scope:kind:object_type
//
// Example:
//
//	close:catalog:prod:custom_field:activity/actitype_123
func (k Key) String() string {
	parts := []string{"close", "catalog"}

	scope := k.Scope
	if scope == "" {
		scope = "default"
	}
	parts = append(parts, scope)

	if kind := strings.Trim(k.Kind, "/"); kind != "" {
		parts = append(parts, kind)
	}
	if ot := strings.Trim(k.ObjectType, "/"); ot != "" {
		parts = append(parts, ot)
	}

	return strings.Join(parts, ":")
}
