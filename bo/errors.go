package bo

import "github.com/pkg/errors"

// ErrOutOfMemory is returned by Create once every allocation attempt has failed
var ErrOutOfMemory = errors.New("out of GPU memory")

// ErrShared is returned when a caller asks for a shared buffer object that did not come from Import
var ErrShared = errors.New("shared buffer objects can only be imported")

// ErrInvalidImport is returned by Import when the dma-buf has no usable size
var ErrInvalidImport = errors.New("dma-buf cannot be imported")
