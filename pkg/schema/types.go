package schema

import (
	"fmt"
	"strings"
)

// ObjectType is a Close object type. Activity types carry their custom
// activity type id, e.g. "activity/actitype_123".
type ObjectType string

// Object types.
const (
	ObjectLead         ObjectType = "lead"
	ObjectOpportunity  ObjectType = "opportunity"
	ObjectContact      ObjectType = "contact"
	ObjectCustomObject ObjectType = "custom_object"
	ObjectUser         ObjectType = "user"
)

const activityPrefix = "activity/"

// ActivityType returns the object type of a custom activity type.
func ActivityType(typeID string) ObjectType {
	return ObjectType(activityPrefix + typeID)
}

// ActivityTypeID returns the custom activity type id of an activity object type.
func (o ObjectType) ActivityTypeID() (string, bool) {
	id, ok := strings.CutPrefix(string(o), activityPrefix)
	return id, ok && id != ""
}

// ParseObjectType validates s as an object type.
func ParseObjectType(s string) (ObjectType, error) {
	ot := ObjectType(s)
	switch ot {
	case ObjectLead, ObjectOpportunity, ObjectContact, ObjectCustomObject, ObjectUser:
		return ot, nil
	}
	if id, ok := ot.ActivityTypeID(); ok && !strings.Contains(id, "/") {
		return ot, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidObjectType, s)
}

// CatalogKind names a schema catalog.
type CatalogKind string

// Catalog kinds.
const (
	KindCustomField        CatalogKind = "custom_field"
	KindStatus             CatalogKind = "status"
	KindCustomObjectType   CatalogKind = "custom_object_type"
	KindCustomActivityType CatalogKind = "custom_activity_type"
	KindUser               CatalogKind = "user"
)

// Catalog is the unit a Resolver fetches and caches. Custom fields and
// statuses are per object type; the other kinds are global and leave
// ObjectType empty.
type Catalog struct {
	Kind       CatalogKind
	ObjectType ObjectType
}

// CustomFields returns the custom field catalog of an object type.
func CustomFields(ot ObjectType) Catalog {
	return Catalog{Kind: KindCustomField, ObjectType: ot}
}

// Statuses returns the status catalog of an object type.
func Statuses(ot ObjectType) Catalog {
	return Catalog{Kind: KindStatus, ObjectType: ot}
}

// Validate checks that the catalog exists in Close.
func (c Catalog) Validate() error {
	switch c.Kind {
	case KindCustomField:
		ot, err := ParseObjectType(string(c.ObjectType))
		if err != nil {
			return err
		}
		if ot == ObjectUser {
			return fmt.Errorf("%w: %s", ErrUnsupportedCatalog, c)
		}
	case KindStatus:
		if c.ObjectType != ObjectLead && c.ObjectType != ObjectOpportunity {
			if _, err := ParseObjectType(string(c.ObjectType)); err != nil {
				return err
			}
			return fmt.Errorf("%w: %s", ErrUnsupportedCatalog, c)
		}
	case KindCustomObjectType, KindCustomActivityType, KindUser:
		if c.ObjectType != "" {
			return fmt.Errorf("%w: %s is not per object type", ErrUnsupportedCatalog, c.Kind)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrUnsupportedCatalog, c.Kind)
	}
	return nil
}

// String returns "kind/object_type", or the kind alone for global catalogs.
func (c Catalog) String() string {
	if c.ObjectType == "" {
		return string(c.Kind)
	}
	return string(c.Kind) + "/" + string(c.ObjectType)
}

// Key is one name within a catalog. Names match exactly, case included.
type Key struct {
	Catalog Catalog
	Name    string
}

// Identifier is an opaque Close id such as "cf_abc" or "stat_xyz".
type Identifier string

// Entry is one catalog item.
type Entry struct {
	ID   Identifier `json:"id"`
	Name string     `json:"name"`

	// Type is the status type (active, won, lost) or the custom field type.
	Type string `json:"type,omitempty"`
}

// Prefixed returns the payload key form of a custom field id, "custom.<id>".
func Prefixed(id Identifier) string {
	return "custom." + string(id)
}
