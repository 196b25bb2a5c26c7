package curriculum

import (
	"fmt"

	"github.com/google/uuid"
)

// uuidProvider issues the primary keys of units, topics and lessons. Slugs, not these ids, are
// what manifests reference.
type uuidProvider struct{}

// NewUUIDProvider returns the IDProvider used for curriculum rows: time-ordered UUIDv7 strings,
// so rows inserted in one sync sort in creation order.
func NewUUIDProvider() IDProvider {
	return uuidProvider{}
}

// NewID returns a fresh entity id.
func (uuidProvider) NewID() (string, error) {
	entityID, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate curriculum id: %w", err)
	}
	return entityID.String(), nil
}
