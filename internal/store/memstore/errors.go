package memstore

import (
	"fmt"

	"github.com/google/uuid"
)

func errAlreadyExists(id uuid.UUID) error {
	return fmt.Errorf("%s already exists", id)
}

func errVanished(id uuid.UUID) error {
	return fmt.Errorf("%s no longer exists", id)
}

func errStale(id uuid.UUID, read, stored int) error {
	return fmt.Errorf("%s read at version %d, stored version is %d", id, read, stored)
}
