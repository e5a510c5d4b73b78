package engine

import "github.com/google/uuid"

// newUUID returns a random (version 4) identifier for definitions and
// instances.
func newUUID() string {
	return uuid.NewString()
}
