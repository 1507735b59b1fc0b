package multierr

import (
	e "errors"
	"fmt"
	"strings"

	"github.com/juju/errors"
)

// MultiErr collects errors from multi-step teardown paths where every step
// must run even when an earlier one fails.
type MultiErr struct {
	firstError error
	errors     []error
}

func New() *MultiErr {
	return &MultiErr{}
}

// Add does nothing when err is nil. It sets the first error if it hasn't been
// set yet.
func (m *MultiErr) Add(err error) {
	if err == nil {
		return
	}

	if m.firstError == nil {
		m.firstError = err
	}

	m.errors = append(m.errors, err)
}

// Err returns nil when no errors have occurred, the error itself when exactly
// one has occurred, and a combined error describing all of them otherwise.
func (m *MultiErr) Err() error {
	if len(m.errors) <= 1 {
		return m.firstError
	}

	var sb strings.Builder

	for i, err := range m.errors {
		if i > 0 {
			sb.WriteString("\n")
		}

		sb.WriteString(fmt.Sprintf("%d. ", i+1))
		sb.WriteString(errors.ErrorStack(err))
	}

	return errors.Errorf("there were multiple errors:\n%s", sb.String())
}

// Is reports whether the cause of err matches target.
func Is(err, target error) bool {
	return e.Is(errors.Cause(err), target)
}
