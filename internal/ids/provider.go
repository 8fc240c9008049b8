// Package ids supplies identifier generation shared by the domain services.
package ids

import "github.com/google/uuid"

// UUIDProvider issues UUIDv7 identifiers. Version 7 keeps primary keys
// roughly time-ordered, which keeps index insertion cheap for append-mostly
// tables such as revisions and view events.
type UUIDProvider struct{}

// NewUUIDProvider constructs a UUIDProvider.
func NewUUIDProvider() *UUIDProvider {
	return &UUIDProvider{}
}

// NewID returns a fresh UUIDv7 string.
func (p *UUIDProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}
