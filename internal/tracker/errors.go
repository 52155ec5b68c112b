package tracker

import (
	"errors"
	"fmt"

	"github.com/sells-group/fieldtrack/internal/model"
)

// UnauditedError reports a commit whose values were saved but whose change
// records were not written. Until the records are written with
// Tracker.Repair, freshness and health for those fields are stale.
type UnauditedError struct {
	Entity  model.Ref
	Records []model.ChangeRecord
	Err     error
}

func (e *UnauditedError) Error() string {
	return fmt.Sprintf("tracker: %s saved but %d change record(s) not logged: %v", e.Entity, len(e.Records), e.Err)
}

func (e *UnauditedError) Unwrap() error {
	return e.Err
}

// IsUnaudited returns true if err (or any error in its chain) is an
// UnauditedError.
func IsUnaudited(err error) bool {
	var ue *UnauditedError
	return errors.As(err, &ue)
}

// AsUnaudited extracts the UnauditedError from err's chain.
func AsUnaudited(err error) (*UnauditedError, bool) {
	var ue *UnauditedError
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}
