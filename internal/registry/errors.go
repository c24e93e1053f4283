package registry

import (
	"errors"
	"fmt"
)

// TransientError is a storage failure inside a registry transaction. The
// transaction has been rolled back and the operation may be retried.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("registry %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransient returns true if err came from a rolled-back registry transaction.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
