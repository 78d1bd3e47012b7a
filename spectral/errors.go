package spectral

import "errors"

var (
	ErrUnknownMethod  = errors.New("spectral: unknown method")
	ErrEmptyInput     = errors.New("spectral: empty input")
	ErrInvalidWindow  = errors.New("spectral: invalid window")
	ErrLengthMismatch = errors.New("spectral: length mismatch")
	ErrZeroNorm       = errors.New("spectral: zero-norm spectrum")
	ErrOutOfRange     = errors.New("spectral: wavelength outside sensor range")
)
