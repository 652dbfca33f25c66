package inspect

import "errors"

var (
	// Analysis errors wrap this sentinel.
	ErrInspect = errors.New("inspect error")

	// The archive holds no image, or references blobs it does not contain.
	ErrNoImage = errors.New("no image in archive")

	// The archive holds more than one image.
	ErrMultipleImages = errors.New("multiple images in archive")
)
