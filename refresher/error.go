package refresher

import (
	"errors"
)

var (
	ErrNilParameter = errors.New("nil parameter")
	ErrHubClosed    = errors.New("hub is closed")
	ErrConnClosed   = errors.New("connection is closed")
)
