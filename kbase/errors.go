package kbase

import "github.com/pkg/errors"

var ErrUnsupported = errors.New("operation not supported by this kbase interface")
var ErrTimeout = errors.New("timed out waiting for the GPU")
var ErrNotBound = errors.New("command stream is not bound")
var ErrTooManySlots = errors.New("all event slots are in use")
var ErrInvalidHandle = errors.New("invalid GEM handle")
