package dispatch

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/ryansname/batteryapp/src/databroker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuardedSetWritesWhenGuardInactive(t *testing.T) {
	store := newScriptedStore(t)
	acc := databroker.NewAccessor(store)

	err := GuardedSet(context.Background(), acc,
		databroker.PathIsCharging, databroker.PathIsDischarging, true)

	require.NoError(t, err)
	assert.Equal(t, []databroker.Path{databroker.PathIsCharging}, store.writes)
	assert.True(t, store.boolAt(t, databroker.PathIsCharging))
}

func TestGuardedSetRefusesWhenGuardActive(t *testing.T) {
	store := newScriptedStore(t)
	store.put(t, databroker.PathIsDischarging, databroker.ScalarValue(databroker.Bool(true)))
	acc := databroker.NewAccessor(store)

	err := GuardedSet(context.Background(), acc,
		databroker.PathIsCharging, databroker.PathIsDischarging, true)

	var pe *PolicyError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, databroker.PathIsCharging, pe.Target)
	assert.Equal(t, databroker.PathIsDischarging, pe.Guard)
	assert.Equal(t, "true", pe.GuardValue.String())
	assert.Zero(t, store.writeCount())
}

func TestGuardedSetRefusesEvenWhenClearing(t *testing.T) {
	// The guard is a plain precondition: setting the target to false is
	// refused too while the guard is active.
	store := newScriptedStore(t)
	store.put(t, databroker.PathIsCharging, databroker.ScalarValue(databroker.Bool(true)))
	acc := databroker.NewAccessor(store)

	err := GuardedSet(context.Background(), acc,
		databroker.PathIsDischarging, databroker.PathIsCharging, false)

	assert.Equal(t, ClassPolicy, Classify(err))
	assert.Zero(t, store.writeCount())
}

func TestGuardedSetGuardReadFailureSkipsWrite(t *testing.T) {
	store := newScriptedStore(t)
	store.getErr[databroker.PathIsDischarging] = errors.New("connection reset")
	acc := databroker.NewAccessor(store)

	err := GuardedSet(context.Background(), acc,
		databroker.PathIsCharging, databroker.PathIsDischarging, true)

	assert.Equal(t, ClassConnectivity, Classify(err))
	assert.Zero(t, store.writeCount())
}

func TestGuardedSetPassesValidationError(t *testing.T) {
	store := newScriptedStore(t)
	store.setErr[databroker.PathIsCharging] = &databroker.ValidationError{
		Path:   databroker.PathIsCharging,
		Value:  databroker.ScalarValue(databroker.Bool(true)),
		Reason: "actuator not available",
	}
	acc := databroker.NewAccessor(store)

	err := GuardedSet(context.Background(), acc,
		databroker.PathIsCharging, databroker.PathIsDischarging, true)

	assert.Equal(t, ClassValidation, Classify(err))
	assert.Equal(t, 1, store.writeCount())
}

func TestGuardedSetNeverLeavesBothTrue(t *testing.T) {
	store := newScriptedStore(t)
	acc := databroker.NewAccessor(store)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	pairs := [][2]databroker.Path{
		{databroker.PathIsCharging, databroker.PathIsDischarging},
		{databroker.PathIsDischarging, databroker.PathIsCharging},
	}

	for i := 0; i < 500; i++ {
		pair := pairs[rng.Intn(2)]
		err := GuardedSet(ctx, acc, pair[0], pair[1], rng.Intn(2) == 1)
		if err != nil {
			require.Equal(t, ClassPolicy, Classify(err), "step %d", i)
		}

		charging := store.boolAt(t, databroker.PathIsCharging)
		discharging := store.boolAt(t, databroker.PathIsDischarging)
		require.False(t, charging && discharging, "both true after step %d", i)
	}
}

func TestGuardedSetIsIdempotent(t *testing.T) {
	store := newScriptedStore(t)
	acc := databroker.NewAccessor(store)
	ctx := context.Background()

	for _, state := range []bool{true, false} {
		for i := 0; i < 2; i++ {
			err := GuardedSet(ctx, acc, databroker.PathIsDischarging, databroker.PathIsCharging, state)
			require.NoError(t, err)
			assert.Equal(t, state, store.boolAt(t, databroker.PathIsDischarging))
		}
	}
}
