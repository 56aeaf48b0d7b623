package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Asset points at an object a stage produced in the object store.
type Asset struct {
	ID         uuid.UUID
	RunID      uuid.UUID
	Stage      string
	Kind       string
	StorageKey string
	Extra      Metadata
	CreatedAt  time.Time
}

func (a Asset) Validate() error {
	if a.ID == uuid.Nil {
		return errors.New("asset id is required")
	}
	if a.RunID == uuid.Nil {
		return errors.New("run id is required")
	}
	if strings.TrimSpace(a.Stage) == "" {
		return errors.New("stage is required")
	}
	if strings.TrimSpace(a.Kind) == "" {
		return errors.New("kind is required")
	}
	if strings.TrimSpace(a.StorageKey) == "" {
		return errors.New("storage key is required")
	}
	return nil
}
