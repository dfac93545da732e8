package dpop

import (
	"errors"
)

var (
	ErrInvalidParameter    = errors.New("invalid parameter")
	ErrNilParameter        = errors.New("nil parameter")
	ErrKeyGenerationFailed = errors.New("key generation failed")
	ErrInvalidKey          = errors.New("invalid key")
)
