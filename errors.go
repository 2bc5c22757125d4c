package docache

import (
	"fmt"
)

// InvalidateError is returned by a write when the collection could not be
// invalidated. It is only produced when both the generation bump and the key
// deletes failed, since either alone keeps stale entries from being served.
type InvalidateError struct {
	Collection string
	BumpErr    error
	DelErr     error
}

func (e *InvalidateError) Error() string {
	switch {
	case e.BumpErr != nil && e.DelErr != nil:
		return fmt.Sprintf("invalidate %q failed: gen bump and delete failed: bump=%v; delete=%v",
			e.Collection, e.BumpErr, e.DelErr)
	case e.BumpErr != nil:
		return fmt.Sprintf("invalidate %q: gen bump failed: %v", e.Collection, e.BumpErr)
	case e.DelErr != nil:
		return fmt.Sprintf("invalidate %q: delete failed: %v", e.Collection, e.DelErr)
	default:
		return fmt.Sprintf("invalidate %q: unknown error", e.Collection)
	}
}

func (e *InvalidateError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.BumpErr != nil {
		errs = append(errs, e.BumpErr)
	}
	if e.DelErr != nil {
		errs = append(errs, e.DelErr)
	}
	return errs
}
