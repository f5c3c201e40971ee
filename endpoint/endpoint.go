// Package endpoint multiplexes a single UDP socket across many connections
// and exposes the application-facing API of spec §6: Listen, Accept, Dial
// (connect), Close and ConnCount; per-connection counters are read via
// transport.Conn.Stats. Grounded on the teacher's stack.transportDemuxer
// (connection table keyed by id, RWMutex-guarded) and stack.NIC's single
// read loop, simplified from the teacher's two-level network/transport
// demux (we have no IP layer: one UDP socket is the whole substrate).
package endpoint

import (
	"crypto/rand"
	"encoding/binary"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/duskline/rdtp/segment"
	"github.com/duskline/rdtp/transport"
)

// Endpoint owns one UDP socket and every Conn multiplexed over it.
type Endpoint struct {
	log zerolog.Logger
	cfg transport.Config

	sock *net.UDPConn

	mu    sync.RWMutex
	conns map[uint32]*transport.Conn

	acceptQueue chan *transport.Conn

	closeOnce sync.Once
	closed    chan struct{}

	stopRead chan struct{}

	// checksumFailures counts segments dropped at the decode boundary for
	// failing checksum or header validation (spec §7 Corrupt). This lives
	// on the endpoint rather than on a Conn: a corrupt buffer's conn_id
	// field cannot be trusted, so there is no connection to attribute the
	// drop to until decode succeeds.
	checksumFailures uint64
}

// Listen binds a UDP socket at addr and starts the endpoint's receive loop
// (spec §4.5, §5 activity (a)). Inbound SYNs for unknown conn_ids are
// queued for Accept.
func Listen(log zerolog.Logger, addr string, cfg transport.Config) (*Endpoint, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "endpoint: resolve listen address")
	}
	sock, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, errors.Wrap(err, "endpoint: listen")
	}

	e := newEndpoint(log, sock, cfg)
	go e.readLoop()
	return e, nil
}

// Dial opens the local side of a socket destined for remote and performs
// the active handshake (spec §4.3 CLOSED -> SYN-SENT). It blocks until the
// handshake completes or Timeout.
func Dial(log zerolog.Logger, remote string, cfg transport.Config) (*transport.Conn, error) {
	remoteAddr, err := net.ResolveUDPAddr("udp", remote)
	if err != nil {
		return nil, errors.Wrap(err, "endpoint: resolve remote address")
	}
	sock, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, errors.Wrap(err, "endpoint: dial")
	}

	e := newEndpoint(log, sock, cfg)
	go e.readLoop()

	connID := newConnID()
	c := transport.NewInitiator(e.log, connID, sock.LocalAddr(), remoteAddr, cfg, e.outboundTo(remoteAddr))

	e.mu.Lock()
	e.conns[connID] = c
	e.mu.Unlock()

	c.StartHandshake()

	if err := c.WaitEstablished(); err != nil {
		return nil, err
	}
	return c, nil
}

func newEndpoint(log zerolog.Logger, sock *net.UDPConn, cfg transport.Config) *Endpoint {
	return &Endpoint{
		log:         log,
		cfg:         cfg,
		sock:        sock,
		conns:       make(map[uint32]*transport.Conn),
		acceptQueue: make(chan *transport.Conn, 16),
		closed:      make(chan struct{}),
		stopRead:    make(chan struct{}),
	}
}

func newConnID() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0
	}
	return binary.BigEndian.Uint32(b[:])
}

// Accept blocks until a handshake completes for a newly arrived connection
// (spec §6 "accept(): blocks until handshake completes").
func (e *Endpoint) Accept() (*transport.Conn, error) {
	select {
	case c := <-e.acceptQueue:
		return c, nil
	case <-e.closed:
		return nil, transport.ErrClosed
	}
}

// Close shuts the endpoint's socket and stops its read loop. It does not
// close individual connections; callers should Close those first if a
// graceful shutdown is wanted.
func (e *Endpoint) Close() error {
	var err error
	e.closeOnce.Do(func() {
		close(e.stopRead)
		err = e.sock.Close()
		close(e.closed)
	})
	return err
}

// outboundTo returns a transport.Outbound that writes a segment to dst over
// this endpoint's socket. The socket write path is serialized by the
// *net.UDPConn itself (spec §5 "the socket write path is serialized").
func (e *Endpoint) outboundTo(dst net.Addr) transport.Outbound {
	return func(buf []byte) error {
		_, err := e.sock.WriteTo(buf, dst)
		return err
	}
}

// readLoop is the endpoint's single receive loop (spec §5 activity (a)):
// it blocks on the socket and dispatches inbound segments by conn_id
// (spec §4.5).
func (e *Endpoint) readLoop() {
	buf := make([]byte, segment.HeaderSize+segment.MaxPayload)
	for {
		select {
		case <-e.stopRead:
			return
		default:
		}

		e.sock.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, addr, err := e.sock.ReadFrom(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-e.stopRead:
				return
			default:
				e.log.Warn().Err(err).Msg("socket read failed")
				continue
			}
		}

		s, err := segment.Decode(buf[:n])
		if err != nil {
			// Corrupt or malformed: dropped silently per spec §4.5 step 1,
			// but still counted (spec §7 Corrupt "increments a counter").
			atomic.AddUint64(&e.checksumFailures, 1)
			continue
		}

		e.dispatch(s, addr)
	}
}

// ChecksumFailures reports how many inbound datagrams this endpoint has
// dropped for failing decode (bad checksum, malformed header, wrong
// version, or a length mismatch), per spec §7 Corrupt.
func (e *Endpoint) ChecksumFailures() uint64 {
	return atomic.LoadUint64(&e.checksumFailures)
}

// dispatch routes one decoded segment to its connection, or begins a new
// passive handshake for an unrecognized SYN (spec §4.5 steps 2-4).
func (e *Endpoint) dispatch(s segment.Segment, from net.Addr) {
	e.mu.RLock()
	c, ok := e.conns[s.ConnID]
	e.mu.RUnlock()

	if ok {
		c.OnSegment(s)
		return
	}

	if !s.HasFlag(segment.FlagSYN) {
		// Segment for an unknown conn_id without SYN: dropped (spec §7 Unknown).
		return
	}

	e.mu.Lock()
	if _, exists := e.conns[s.ConnID]; exists {
		e.mu.Unlock()
		// conn_id collision: a SYN for an id already live is a
		// ProtocolViolation (spec §9 open question, resolved in DESIGN.md).
		return
	}
	c, err := transport.Respond(e.log, s.ConnID, e.sock.LocalAddr(), from, e.cfg, e.outboundTo(from), s, e.onAccepted)
	if err != nil {
		e.mu.Unlock()
		e.log.Warn().Err(err).Msg("rejecting malformed handshake attempt")
		return
	}
	e.conns[s.ConnID] = c
	e.mu.Unlock()
}

// onAccepted delivers a responder-side Conn into the accept queue once its
// handshake completes (spec §4.5 step 2, teacher's deliverAccepted).
func (e *Endpoint) onAccepted(c *transport.Conn) {
	select {
	case e.acceptQueue <- c:
	case <-e.closed:
	}
}

// ConnCount returns the endpoint-wide count of live connections; per-connection
// counters are read via transport.Conn.Stats (spec §6).
func (e *Endpoint) ConnCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.conns)
}

// SendMsgBlocking retries SendMsg until the window opens, the connection
// aborts, or ctx-free deadline passes (spec §5: "send_msg may block when
// the send window is full"). The core sender only exposes the non-blocking
// WouldBlock contract; this is the layer above it that waits.
func SendMsgBlocking(c *transport.Conn, payload []byte, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		err := c.SendMsg(payload)
		if err != transport.ErrWouldBlock {
			return err
		}
		if time.Now().After(deadline) {
			return transport.ErrTimeout
		}
		time.Sleep(5 * time.Millisecond)
	}
}
