package analysis

import (
	"errors"
	"fmt"

	"github.com/rewired-gh/amrwatch/internal/models"
)

// ErrInvalidConfig is wrapped by every rejected run request.
var ErrInvalidConfig = errors.New("invalid analysis configuration")

// StoreError reports a failure of the external store that aborted a run.
type StoreError struct {
	Op    string        // discover, fetch, metadata or events
	Group *models.Group // nil during discovery
	Err   error
}

func (e *StoreError) Error() string {
	if e.Group != nil {
		return fmt.Sprintf("store %s failed for %s: %v", e.Op, e.Group.Label(), e.Err)
	}
	return fmt.Sprintf("store %s failed: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}
