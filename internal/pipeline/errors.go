package pipeline

import (
	"errors"
	"fmt"
)

// ErrInvalidRequest is returned synchronously for malformed generation
// requests; it is never retried.
var ErrInvalidRequest = errors.New("invalid generation request")

// StructuralError reports misaligned input shapes between pipeline stages,
// such as a recipes slice that does not line up one-to-one with its concepts
// slice. It is fatal for the affected chunk and carries enough context to
// diagnose the producer.
type StructuralError struct {
	BatchID  string
	Stage    string
	Expected int
	Actual   int
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("structural error in %s (batch %s): expected %d aligned items, got %d",
		e.Stage, e.BatchID, e.Expected, e.Actual)
}

// IsStructural returns true if the error is a stage-boundary shape mismatch.
func IsStructural(err error) bool {
	var se *StructuralError
	return errors.As(err, &se)
}
