package uart

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"robotterm/internal/directory"
	"robotterm/internal/uart/frame"
)

// Session failure modes. Connection-establishment errors are fatal to
// the invocation; ErrNotConnected and ErrWriteFailed are per-command
// and leave the terminal loop running. ErrPeerDisconnected is an event,
// not a failure: a powered-off robot is an expected end of session.
var (
	ErrDeviceNotFound   = errors.New("uart: no paired device with that name")
	ErrConnectTimeout   = errors.New("uart: connection attempt timed out")
	ErrConnectRefused   = errors.New("uart: peripheral refused the connection")
	ErrNotConnected     = errors.New("uart: session is not connected")
	ErrWriteFailed      = errors.New("uart: characteristic write failed")
	ErrPeerDisconnected = errors.New("uart: peripheral closed the connection")
	ErrSessionActive    = errors.New("uart: a session to this peripheral is already active")
)

// State is the session lifecycle position. Normal teardown goes
// Connected -> Closing -> Disconnected; a peripheral-initiated drop
// goes Connected -> Disconnected directly.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Options configures session behavior.
type Options struct {
	ConnectTimeout  time.Duration // bound on reaching Connected
	TransferUnit    int           // max payload bytes per characteristic write
	InterChunkDelay time.Duration // pause between chunks of one line
}

// DefaultOptions returns sensible defaults for a micro:bit.
func DefaultOptions() Options {
	return Options{
		ConnectTimeout:  10 * time.Second,
		TransferUnit:    frame.DefaultTransferUnit,
		InterChunkDelay: 20 * time.Millisecond,
	}
}

// Directory resolves operator-facing device names to addresses.
type Directory interface {
	ListPaired() ([]directory.Device, error)
}

// rxBacklog bounds reassembled lines in flight between the notification
// callback and the consumer.
const rxBacklog = 32

// Session owns one BLE connection to a UART peripheral. The connection
// handle is held exclusively by the Session and released exactly once
// on teardown, whichever of operator close, send/receive error, or
// peripheral drop gets there first.
type Session struct {
	address string
	opts    Options

	mu        sync.Mutex // guards state, conn, writeChar, err
	state     State
	conn      Connection
	writeChar Characteristic
	err       error

	// writeMu serializes Send so chunks of concurrent lines are never
	// interleaved on the characteristic.
	writeMu sync.Mutex

	acc   frame.Accumulator
	rx    chan string
	lines chan string
	done  chan struct{}

	releaseOnce sync.Once
}

// One Connected session per peripheral from this process.
var (
	activeMu sync.Mutex
	active   = make(map[string]*Session)
)

func claim(address string, s *Session) error {
	activeMu.Lock()
	defer activeMu.Unlock()
	if _, ok := active[address]; ok {
		return fmt.Errorf("%w: %s", ErrSessionActive, address)
	}
	active[address] = s
	return nil
}

func unclaim(address string) {
	activeMu.Lock()
	delete(active, address)
	activeMu.Unlock()
}

// Dial resolves name against the paired-device directory, opens the BLE
// link, and subscribes to the UART notify characteristic. It returns a
// Connected session or one of ErrDeviceNotFound, ErrConnectTimeout,
// ErrConnectRefused, or the directory's ErrUnavailable. When several
// paired devices share the name, the first match wins and the operator
// is warned.
func Dial(ctx context.Context, dir Directory, adapter Adapter, name string, opts Options) (*Session, error) {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.TransferUnit <= 0 {
		opts.TransferUnit = frame.DefaultTransferUnit
	}

	devices, err := dir.ListPaired()
	if err != nil {
		return nil, err
	}
	matches := directory.Find(devices, name)
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrDeviceNotFound, name)
	}
	if len(matches) > 1 {
		slog.Warn("[UART] multiple paired devices share this name, using first match",
			"name", name, "address", matches[0].Address, "count", len(matches))
	}
	dev := matches[0]

	s := &Session{
		address: dev.Address,
		opts:    opts,
		state:   StateConnecting,
		rx:      make(chan string, rxBacklog),
		lines:   make(chan string, rxBacklog),
		done:    make(chan struct{}),
	}
	if err := claim(dev.Address, s); err != nil {
		return nil, err
	}

	if err := s.open(ctx, adapter); err != nil {
		unclaim(dev.Address)
		s.mu.Lock()
		s.state = StateDisconnected
		s.mu.Unlock()
		return nil, err
	}

	slog.Info("[UART] connected", "name", dev.Alias, "address", dev.Address)
	return s, nil
}

// open brings the session from Connecting to Connected.
func (s *Session) open(ctx context.Context, adapter Adapter) error {
	if err := adapter.Enable(); err != nil {
		return fmt.Errorf("%w: enable adapter: %v", directory.ErrUnavailable, err)
	}

	cctx, cancel := context.WithTimeout(ctx, s.opts.ConnectTimeout)
	defer cancel()

	conn, err := adapter.Connect(cctx, s.address)
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled):
			return err
		case errors.Is(err, context.DeadlineExceeded):
			return fmt.Errorf("%w: %s after %s", ErrConnectTimeout, s.address, s.opts.ConnectTimeout)
		default:
			return fmt.Errorf("%w: %s: %v", ErrConnectRefused, s.address, err)
		}
	}

	writeChar, err := conn.DiscoverCharacteristic(ServiceUUID, WriteCharUUID)
	if err != nil {
		_ = conn.Disconnect()
		return fmt.Errorf("%w: discover write characteristic: %v", ErrConnectRefused, err)
	}
	notifyChar, err := conn.DiscoverCharacteristic(ServiceUUID, NotifyCharUUID)
	if err != nil {
		_ = conn.Disconnect()
		return fmt.Errorf("%w: discover notify characteristic: %v", ErrConnectRefused, err)
	}

	if err := notifyChar.Subscribe(s.onNotify); err != nil {
		_ = conn.Disconnect()
		return fmt.Errorf("%w: subscribe to notifications: %v", ErrConnectRefused, err)
	}
	go s.pump()

	s.mu.Lock()
	s.conn = conn
	s.writeChar = writeChar
	s.state = StateConnected
	s.mu.Unlock()

	conn.OnDisconnect(s.onPeerDisconnect)
	return nil
}

// Send writes one newline-terminated command line to the write
// characteristic, split into transfer-unit-sized chunks in order. A
// missing terminator is appended. Fails with ErrNotConnected when the
// session is not Connected and ErrWriteFailed when the peripheral
// rejects a write; a partially-written line is never retried, since
// re-sending chunks could duplicate or reorder commands at the robot.
// Safe for concurrent use; concurrent calls are serialized.
func (s *Session) Send(line string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if s.state != StateConnected {
		s.mu.Unlock()
		return ErrNotConnected
	}
	writeChar := s.writeChar
	s.mu.Unlock()

	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}

	chunks := frame.Chunk([]byte(line), s.opts.TransferUnit)
	for i, chunk := range chunks {
		if err := writeChar.Write(chunk); err != nil {
			return fmt.Errorf("%w: chunk %d/%d: %v", ErrWriteFailed, i+1, len(chunks), err)
		}
		// Brief pause between chunks so a slow peripheral UART can drain.
		if i < len(chunks)-1 && s.opts.InterChunkDelay > 0 {
			time.Sleep(s.opts.InterChunkDelay)
		}
	}
	return nil
}

// Lines returns the inbound message stream. The channel is closed when
// the session leaves Connected; closure means "session ended", not "no
// data for now".
func (s *Session) Lines() <-chan string {
	return s.lines
}

// Done is closed when the session ends, whichever side ended it.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err reports why the session ended: ErrPeerDisconnected after a
// peripheral-initiated drop, nil after operator close. Meaningful once
// Done is closed.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Address returns the peripheral address this session is bound to.
func (s *Session) Address() string {
	return s.address
}

// Close tears the session down: Closing -> Disconnected, connection
// handle released exactly once. Idempotent and safe to call
// concurrently, including from a signal path and alongside in-flight
// Send or receive activity.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateDisconnected {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosing
	s.mu.Unlock()

	s.release()

	s.mu.Lock()
	s.state = StateDisconnected
	s.mu.Unlock()
	return nil
}

// onNotify feeds a notification payload through the line accumulator
// and hands complete lines to the pump. Runs on the BLE stack's
// callback goroutine.
func (s *Session) onNotify(data []byte) {
	for _, line := range s.acc.Push(data) {
		select {
		case s.rx <- line:
		case <-s.done:
			return
		}
	}
}

// onPeerDisconnect handles a peripheral-initiated drop: Connected ->
// Disconnected directly, surfaced to the consumer as ErrPeerDisconnected
// rather than raised as a failure. No automatic reconnect; a powered-off
// robot needs operator action, not retries.
func (s *Session) onPeerDisconnect() {
	s.mu.Lock()
	if s.state != StateConnected {
		// Operator-initiated teardown already under way.
		s.mu.Unlock()
		return
	}
	s.state = StateDisconnected
	s.err = ErrPeerDisconnected
	s.mu.Unlock()

	slog.Warn("[UART] peripheral disconnected", "address", s.address)
	s.release()
}

// release frees the connection handle exactly once, regardless of which
// teardown path gets here first or how many arrive concurrently.
func (s *Session) release() {
	s.releaseOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn != nil {
			_ = conn.Disconnect()
		}
		unclaim(s.address)
	})
}

// pump moves reassembled lines to the consumer channel and closes it
// when the session ends. Only pump closes lines, so the notification
// callback can never send on a closed channel.
func (s *Session) pump() {
	defer close(s.lines)
	for {
		select {
		case line := <-s.rx:
			select {
			case s.lines <- line:
			case <-s.done:
				return
			}
		case <-s.done:
			return
		}
	}
}
