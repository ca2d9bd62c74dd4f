package network

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"mediaremote/crypto"
	"mediaremote/protocol"
)

const (
	// DefaultDialTimeout bounds the TCP dial.
	DefaultDialTimeout = 10 * time.Second
	// DefaultResponseTimeout is applied to each waited send without an
	// explicit deadline.
	DefaultResponseTimeout = 5 * time.Second
)

var (
	// ErrClosed indicates the connection is closed.
	ErrClosed = errors.New("network: connection closed")
	// ErrTimeout indicates no matching response arrived within the deadline.
	ErrTimeout = errors.New("network: response timeout")
	// ErrDuplicateIdentifier indicates an identifier already has a waiter.
	ErrDuplicateIdentifier = errors.New("network: duplicate identifier")
)

// Handlers receive connection callbacks. All are optional and are invoked
// from the connection's reader goroutine.
type Handlers struct {
	// OnMessage receives every decoded inbound message, including ones that
	// also resolved a waiter. The waiter is resolved first.
	OnMessage func(*protocol.Message)
	// OnClose fires once when the connection terminates. The error is nil on
	// a clean close.
	OnClose func(error)
	// OnDebug receives diagnostic strings, e.g. for dropped frames.
	OnDebug func(string)
}

// Options controls connection behavior.
type Options struct {
	DialTimeout     time.Duration
	ResponseTimeout time.Duration
	Handlers        Handlers
}

func (o Options) withDefaults() Options {
	out := o
	if out.DialTimeout <= 0 {
		out.DialTimeout = DefaultDialTimeout
	}
	if out.ResponseTimeout <= 0 {
		out.ResponseTimeout = DefaultResponseTimeout
	}
	return out
}

// Connection manages one framed MediaRemote TCP session. Frames are
// plaintext until EnableEncryption installs the session cipher negotiated by
// pair-verify; all later frames are ChaCha20-Poly1305 sealed.
type Connection struct {
	conn   net.Conn
	reader *bufio.Reader
	opts   Options

	sendMu sync.Mutex

	cipherMu sync.RWMutex
	cipher   *crypto.SessionCipher

	pendingMu sync.Mutex
	pending   map[string]chan *protocol.Message
	byType    map[protocol.Type][]chan *protocol.Message

	closeOnce sync.Once
	closed    chan struct{}

	errMu    sync.RWMutex
	closeErr error
}

// Dial opens a TCP connection to the device and starts the frame reader.
func Dial(address string, port int, opts Options) (*Connection, error) {
	opts = opts.withDefaults()
	dialer := net.Dialer{Timeout: opts.DialTimeout}
	conn, err := dialer.Dial("tcp", net.JoinHostPort(address, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("dial %s:%d: %w", address, port, err)
	}
	return New(conn, opts), nil
}

// New wraps an established net.Conn and starts the frame reader. Used
// directly by tests with loopback connections.
func New(conn net.Conn, opts Options) *Connection {
	c := &Connection{
		conn:    conn,
		reader:  bufio.NewReader(conn),
		opts:    opts.withDefaults(),
		pending: make(map[string]chan *protocol.Message),
		byType:  make(map[protocol.Type][]chan *protocol.Message),
		closed:  make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// EnableEncryption installs the session cipher. Frames written or read after
// this call are encrypted.
func (c *Connection) EnableEncryption(cipher *crypto.SessionCipher) {
	c.cipherMu.Lock()
	c.cipher = cipher
	c.cipherMu.Unlock()
}

// Encrypted reports whether the session cipher is installed.
func (c *Connection) Encrypted() bool {
	c.cipherMu.RLock()
	defer c.cipherMu.RUnlock()
	return c.cipher != nil
}

// Done is closed when the connection terminates.
func (c *Connection) Done() <-chan struct{} { return c.closed }

// LastError returns the terminal connection error, if any.
func (c *Connection) LastError() error {
	c.errMu.RLock()
	defer c.errMu.RUnlock()
	return c.closeErr
}

// Send serializes and writes one message. Outbound frames are strictly FIFO
// in submission order; the priority field is forwarded, never used to
// reorder.
func (c *Connection) Send(msg *protocol.Message) error {
	select {
	case <-c.closed:
		return c.closedError()
	default:
	}

	payload, err := msg.Marshal()
	if err != nil {
		return err
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	c.cipherMu.RLock()
	cipher := c.cipher
	c.cipherMu.RUnlock()
	if cipher != nil {
		payload = cipher.Encrypt(payload)
	}

	if err := protocol.WriteFrame(c.conn, payload); err != nil {
		c.closeWithError(fmt.Errorf("write frame: %w", err))
		return err
	}
	return nil
}

// SendAndWait stamps a fresh identifier, sends the message, and waits for
// the correlated response. Without a context deadline the configured
// response timeout applies.
func (c *Connection) SendAndWait(ctx context.Context, msg *protocol.Message) (*protocol.Message, error) {
	if msg.Identifier == "" {
		msg.Identifier = uuid.NewString()
	}

	ch := make(chan *protocol.Message, 1)
	c.pendingMu.Lock()
	if _, exists := c.pending[msg.Identifier]; exists {
		c.pendingMu.Unlock()
		return nil, ErrDuplicateIdentifier
	}
	c.pending[msg.Identifier] = ch
	c.pendingMu.Unlock()

	remove := func() {
		c.pendingMu.Lock()
		delete(c.pending, msg.Identifier)
		c.pendingMu.Unlock()
	}

	if err := c.Send(msg); err != nil {
		remove()
		return nil, err
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.ResponseTimeout)
		defer cancel()
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		remove()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: identifier %s", ErrTimeout, msg.Identifier)
		}
		return nil, ctx.Err()
	case <-c.closed:
		remove()
		return nil, c.closedError()
	}
}

// MessageOfType waits for the next inbound message of the given type. A
// non-positive timeout uses the configured response timeout.
func (c *Connection) MessageOfType(ctx context.Context, t protocol.Type, timeout time.Duration) (*protocol.Message, error) {
	if timeout <= 0 {
		timeout = c.opts.ResponseTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ch := make(chan *protocol.Message, 1)
	c.pendingMu.Lock()
	c.byType[t] = append(c.byType[t], ch)
	c.pendingMu.Unlock()

	remove := func() {
		c.pendingMu.Lock()
		waiters := c.byType[t]
		for i, w := range waiters {
			if w == ch {
				c.byType[t] = append(waiters[:i], waiters[i+1:]...)
				break
			}
		}
		c.pendingMu.Unlock()
	}

	select {
	case msg := <-ch:
		return msg, nil
	case <-ctx.Done():
		remove()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: no %s within %s", ErrTimeout, t, timeout)
		}
		return nil, ctx.Err()
	case <-c.closed:
		remove()
		return nil, c.closedError()
	}
}

// Close terminates the connection and rejects all waiters.
func (c *Connection) Close() error {
	c.closeWithError(nil)
	return nil
}

func (c *Connection) readLoop() {
	for {
		payload, err := protocol.ReadFrame(c.reader)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				c.closeWithError(nil)
			} else {
				c.closeWithError(fmt.Errorf("read frame: %w", err))
			}
			return
		}

		c.cipherMu.RLock()
		cipher := c.cipher
		c.cipherMu.RUnlock()
		if cipher != nil {
			payload, err = cipher.Decrypt(payload)
			if err != nil {
				// AEAD failure desynchronizes the counters; fatal.
				c.closeWithError(err)
				return
			}
		}

		msg, err := protocol.Unmarshal(payload)
		if err != nil {
			c.debugf("dropping undecodable frame: %v", err)
			continue
		}
		c.dispatch(msg)
	}
}

// dispatch resolves the pending waiter for a correlated response first, then
// any type waiters, then the general message handler.
func (c *Connection) dispatch(msg *protocol.Message) {
	c.pendingMu.Lock()
	if msg.Identifier != "" {
		if ch, ok := c.pending[msg.Identifier]; ok {
			delete(c.pending, msg.Identifier)
			ch <- msg
		}
	}
	if waiters := c.byType[msg.Type]; len(waiters) > 0 {
		delete(c.byType, msg.Type)
		for _, ch := range waiters {
			ch <- msg
		}
	}
	c.pendingMu.Unlock()

	if c.opts.Handlers.OnMessage != nil {
		c.opts.Handlers.OnMessage(msg)
	}
}

func (c *Connection) debugf(format string, args ...any) {
	if c.opts.Handlers.OnDebug != nil {
		c.opts.Handlers.OnDebug(fmt.Sprintf(format, args...))
	}
}

func (c *Connection) closedError() error {
	if err := c.LastError(); err != nil {
		return err
	}
	return ErrClosed
}

func (c *Connection) closeWithError(err error) {
	c.closeOnce.Do(func() {
		c.errMu.Lock()
		c.closeErr = err
		c.errMu.Unlock()

		_ = c.conn.Close()
		close(c.closed)

		if c.opts.Handlers.OnClose != nil {
			c.opts.Handlers.OnClose(err)
		}
	})
}
