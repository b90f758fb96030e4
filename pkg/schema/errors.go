package schema

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is matched by every *NotFoundError.
	ErrNotFound = errors.New("schema name not found")

	// ErrInvalidObjectType is returned for object types Close does not have.
	ErrInvalidObjectType = errors.New("invalid object type")

	// ErrUnsupportedCatalog is returned for catalogs Close does not serve,
	// e.g. statuses of contacts.
	ErrUnsupportedCatalog = errors.New("unsupported catalog")
)

// NotFoundError reports a name missing from its catalog.
type NotFoundError struct {
	Key Key

	// StatusType is set when a status lookup was filtered by type.
	StatusType string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	if e.StatusType != "" {
		return fmt.Sprintf("%s %q with type %q not found", e.Key.Catalog, e.Key.Name, e.StatusType)
	}
	return fmt.Sprintf("%s %q not found", e.Key.Catalog, e.Key.Name)
}

// Is makes errors.Is(err, ErrNotFound) match.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}
