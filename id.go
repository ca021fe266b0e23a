package jtable

import (
	"fmt"

	"github.com/google/uuid"
)

// newRecordID generates a time-ordered UUIDv7 for records saved without
// an explicit id, so generated ids sort by creation time.
func newRecordID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate record id: %w", err)
	}

	return id.String(), nil
}
