package reconciler

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stefanhoelzl/bamboo-agent-reconciler/pkg/diff"
)

// TimeoutError reports a bounded poll that did not reach its goal.
type TimeoutError struct {
	Op      string
	Timeout time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout: %s (%s)", e.Op, e.Timeout)
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// VerificationError reports that the post-apply snapshot did not
// match the desired configuration even though every API call
// succeeded.
type VerificationError struct {
	Mismatches []string
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("verification failed: %s", strings.Join(e.Mismatches, "; "))
}

// PartialApplicationError reports an aborted apply phase: the
// operations in Applied took effect, Remaining did not, and no
// rollback was attempted. Server state now matches neither the old
// nor the new desired configuration.
type PartialApplicationError struct {
	Applied   []diff.Operation
	Remaining []diff.Operation
	Err       error
}

func (e *PartialApplicationError) Error() string {
	applied := make([]string, len(e.Applied))
	for i, op := range e.Applied {
		applied[i] = op.Describe()
	}
	return fmt.Sprintf("partial application (%d of %d operations applied: %s): %v",
		len(e.Applied), len(e.Applied)+len(e.Remaining), strings.Join(applied, ", "), e.Err)
}

func (e *PartialApplicationError) Unwrap() error {
	return e.Err
}

// IsPartialApplication reports whether err left the server in a state
// inconsistent with both the old and new desired configuration.
// Callers use this to pick a distinct exit class: a blind retry is
// only safe when this returns false.
func IsPartialApplication(err error) bool {
	var pa *PartialApplicationError
	return errors.As(err, &pa)
}
