package window

import (
	"errors"
	"fmt"
)

// ErrFatal marks probe failures that cannot be waited out: no display or
// session, a lost display connection, a permanently denied permission.
var ErrFatal = errors.New("fatal window probe error")

// Fatal wraps err so that Classify reports it as OutcomeFatal.
func Fatal(err error) error {
	if err == nil {
		return ErrFatal
	}
	return fmt.Errorf("%w: %w", ErrFatal, err)
}

// Fatalf is Fatal with fmt.Errorf formatting.
func Fatalf(format string, args ...any) error {
	return Fatal(fmt.Errorf(format, args...))
}

// Outcome tags the result of one probe call.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeRecoverable
	OutcomeFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeRecoverable:
		return "recoverable"
	case OutcomeFatal:
		return "fatal"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result is the tagged value produced by Sample. Info is only meaningful
// when Outcome is OutcomeOK; Err is set for the two failure outcomes.
type Result struct {
	Outcome Outcome
	Info    WindowInfo
	Err     error
}

// Classify maps a probe error onto an outcome.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, ErrFatal):
		return OutcomeFatal
	default:
		return OutcomeRecoverable
	}
}

// Sample queries the detector once. A nil window with no error is treated as
// an empty descriptor, and a panicking detector counts as recoverable.
func Sample(d Detector) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{
				Outcome: OutcomeRecoverable,
				Err:     fmt.Errorf("window probe panicked: %v", r),
			}
		}
	}()

	info, err := d.GetFocusedWindow()
	if err != nil {
		return Result{Outcome: Classify(err), Err: err}
	}
	if info == nil {
		return Result{Outcome: OutcomeOK}
	}
	return Result{Outcome: OutcomeOK, Info: *info}
}
