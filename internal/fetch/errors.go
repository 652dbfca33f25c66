package fetch

import "errors"

var (
	ErrFetch        = errors.New("model fetch failed")
	ErrUnknownModel = errors.New("unknown model size")
)
