package dispatch

import (
	"errors"
	"fmt"

	"github.com/ryansname/batteryapp/src/databroker"
)

// Class buckets every request outcome for response wording and metrics
type Class int

const (
	ClassNone Class = iota
	ClassDecode
	ClassConnectivity
	ClassValidation
	ClassPolicy
	ClassIndex
	ClassInternal
)

func (c Class) String() string {
	switch c {
	case ClassNone:
		return "ok"
	case ClassDecode:
		return "decode"
	case ClassConnectivity:
		return "connectivity"
	case ClassValidation:
		return "validation"
	case ClassPolicy:
		return "policy"
	case ClassIndex:
		return "index"
	default:
		return "internal"
	}
}

// DecodeError means the payload did not parse or lacked a required field
type DecodeError struct {
	Field  string
	Reason string
}

func (e *DecodeError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// PolicyError means a guarded write was refused because the guard signal
// is currently active
type PolicyError struct {
	Target     databroker.Path
	Guard      databroker.Path
	GuardValue databroker.Value
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("cannot change %s while %s is %s", e.Target, e.Guard, e.GuardValue)
}

// PanicError carries a value recovered from a handler panic
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("handler panic: %v", e.Value)
}

// Classify maps an error to its Class. Anything unrecognised, including
// databroker.ErrNotFound, corrupt stored values and recovered panics, is
// ClassInternal.
func Classify(err error) Class {
	if err == nil {
		return ClassNone
	}

	var (
		de *DecodeError
		pe *PolicyError
		ve *databroker.ValidationError
		ie *databroker.IndexError
		ce *databroker.ConnectivityError
	)
	switch {
	case errors.As(err, &de):
		return ClassDecode
	case errors.As(err, &pe):
		return ClassPolicy
	case errors.As(err, &ve):
		return ClassValidation
	case errors.As(err, &ie):
		return ClassIndex
	case errors.As(err, &ce):
		return ClassConnectivity
	default:
		return ClassInternal
	}
}
