package hsi

import "errors"

var (
	ErrUnsupportedFormat = errors.New("hsi: unsupported file format")
	ErrShapeMismatch     = errors.New("hsi: shape mismatch")
	ErrEmptyCube         = errors.New("hsi: cube has no data")
	ErrBandOutOfRange    = errors.New("hsi: band index out of range")
	ErrInvalidHeader     = errors.New("hsi: invalid header")
)
