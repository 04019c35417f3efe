// Package databroker is the typed facade over the remote vehicle signal
// store. A Store does single round-trips; the Accessor normalises every
// failure into ErrNotFound, *ValidationError, *IndexError,
// *CorruptValueError or *ConnectivityError so callers can classify without
// knowing the backend.
package databroker

import (
	"context"
	"errors"
)

// Store is the remote signal store. Each call is one independent round-trip.
type Store interface {
	Get(ctx context.Context, path Path) (Value, error)
	Set(ctx context.Context, path Path, value Value) error
}

// Accessor reads and writes signals through a Store without caching
type Accessor struct {
	store Store
}

// NewAccessor wraps a store
func NewAccessor(store Store) *Accessor {
	return &Accessor{store: store}
}

// Read returns the current value of path
func (a *Accessor) Read(ctx context.Context, path Path) (Value, error) {
	v, err := a.store.Get(ctx, path)
	if err != nil {
		return Value{}, normalise("get", path, err)
	}
	return v, nil
}

// ReadAt reads a sequence signal and selects one item
func (a *Accessor) ReadAt(ctx context.Context, path Path, index int) (Scalar, error) {
	v, err := a.Read(ctx, path)
	if err != nil {
		return Scalar{}, err
	}
	s, err := v.At(index)
	if err != nil {
		var ie *IndexError
		if errors.As(err, &ie) {
			ie.Path = path
			return Scalar{}, ie
		}
		return Scalar{}, &ValidationError{Path: path, Value: v, Reason: err.Error()}
	}
	return s, nil
}

// Write sets path to value
func (a *Accessor) Write(ctx context.Context, path Path, value Value) error {
	if err := a.store.Set(ctx, path, value); err != nil {
		return normalise("set", path, err)
	}
	return nil
}

// normalise passes typed broker errors through and wraps everything else,
// context cancellation included, as a connectivity failure.
func normalise(op string, path Path, err error) error {
	var ve *ValidationError
	var ce *ConnectivityError
	var cv *CorruptValueError
	switch {
	case errors.Is(err, ErrNotFound), errors.As(err, &ve), errors.As(err, &ce), errors.As(err, &cv):
		return err
	default:
		return &ConnectivityError{Op: op, Path: path, Err: err}
	}
}
