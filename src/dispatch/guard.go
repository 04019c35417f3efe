package dispatch

import (
	"context"

	"github.com/ryansname/batteryapp/src/databroker"
)

// Signals is the part of the signal accessor the dispatcher needs
type Signals interface {
	Read(ctx context.Context, path databroker.Path) (databroker.Value, error)
	ReadAt(ctx context.Context, path databroker.Path, index int) (databroker.Scalar, error)
	Write(ctx context.Context, path databroker.Path, value databroker.Value) error
}

// GuardedSet writes desired to target unless guard currently reads truthy,
// in which case it returns a *PolicyError and writes nothing. A failed guard
// read is returned as is and the write is not attempted.
//
// The check is a precondition, not a lock: the store has no compare-and-set
// across two signals, so guard may still change between the read and the
// write.
func GuardedSet(
	ctx context.Context,
	signals Signals,
	target, guard databroker.Path,
	desired bool,
) error {
	current, err := signals.Read(ctx, guard)
	if err != nil {
		return err
	}
	if current.Truthy() {
		return &PolicyError{Target: target, Guard: guard, GuardValue: current}
	}
	return signals.Write(ctx, target, databroker.ScalarValue(databroker.Bool(desired)))
}
