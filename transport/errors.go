package transport

import "errors"

var (
	// ErrAuth means the handshake was rejected with 401/403. Retrying with
	// the same token will not help.
	ErrAuth = errors.New("transport: authentication rejected")

	// ErrStreamEnded means the server closed the socket with the
	// end-of-broadcast close code. The stream is over; do not reconnect.
	ErrStreamEnded = errors.New("transport: stream ended")

	// ErrConnectionLost means the reconnect budget was exhausted without
	// regaining a stable connection.
	ErrConnectionLost = errors.New("transport: connection lost")
)
