package mqtt

import "errors"

// ErrNotConnected is returned when the session is closed.
var ErrNotConnected = errors.New("mqtt client not connected")
