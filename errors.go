package pngshrink

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrNotPng is returned when the input does not start with the PNG signature.
	ErrNotPng = errors.New("invalid PNG header")
	// ErrTruncatedChunk is returned when the input ends in the middle of a chunk.
	ErrTruncatedChunk = errors.New("truncated chunk")
	// ErrInflateFailed is returned when the IDAT stream cannot be decompressed.
	ErrInflateFailed = errors.New("inflating data failed")
	// ErrDeflateFailed is returned when the compressor fails for a reason other
	// than exceeding the trial ceiling.
	ErrDeflateFailed = errors.New("deflating data failed")
	// ErrInvariantViolated is returned when the validator finds a visible pixel
	// difference between input and output. Output is never emitted in that case.
	ErrInvariantViolated = errors.New("internal invariant violated: output does not match input")
)

// BadCrcError reports a chunk whose stored CRC does not match its contents.
type BadCrcError struct {
	Name ChunkName
}

func (e *BadCrcError) Error() string {
	return fmt.Sprintf("CRC error in %s chunk", e.Name)
}

// InvalidHeaderError reports a structurally invalid IHDR or chunk layout.
type InvalidHeaderError struct {
	Reason string
}

func (e *InvalidHeaderError) Error() string {
	return "invalid header: " + e.Reason
}

// DeflatedTooLongError is a normal trial outcome, not a failure: the
// compressed output exceeded the current best-size ceiling and the trial
// loses.
type DeflatedTooLongError struct {
	Size int
}

func (e *DeflatedTooLongError) Error() string {
	return fmt.Sprintf("deflated data too long: %d bytes", e.Size)
}
