package transport

import "github.com/pkg/errors"

// Errors surfaced to the application, per spec §7. ErrTimeout and
// ErrConnectionAborted accompany a connection that has moved to CLOSED;
// ErrWouldBlock leaves the connection as it is. Loss, reorder, duplication,
// and corruption are never surfaced — they are handled silently and only
// counted (see Stats).
var (
	// ErrWouldBlock is returned by SendMsg in non-blocking mode when the
	// send window is full.
	ErrWouldBlock = errors.New("transport: send window full")

	// ErrTimeout is returned by WaitEstablished when the handshake does not
	// complete within MaxRetries retries, and by endpoint.SendMsgBlocking
	// when its deadline passes. Close has no timeout and never returns it.
	ErrTimeout = errors.New("transport: operation timed out")

	// ErrConnectionAborted is returned when MaxRetries is exceeded on an
	// in-flight segment.
	ErrConnectionAborted = errors.New("transport: connection aborted")

	// ErrProtocolViolation is returned by Respond when it is handed a
	// segment without SYN. A SYN colliding with an already-live conn_id is
	// dropped by the endpoint without returning it.
	ErrProtocolViolation = errors.New("transport: protocol violation")

	// ErrClosed is returned by operations attempted after Close.
	ErrClosed = errors.New("transport: connection closed")
)
