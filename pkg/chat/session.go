// Package chat runs the duplex UDP session between two punched peers:
// inbound datagrams are printed tagged with their sender, lines of local
// input are sent to the peer, both over the same socket.
package chat

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
)

const (
	// BufferSize bounds one inbound datagram; one datagram is one message.
	BufferSize = 2048

	// readPollInterval is how often the receive loop wakes up to observe
	// cancellation while no datagrams arrive.
	readPollInterval = 250 * time.Millisecond
)

// errInputClosed signals that the local input stream reached EOF; it is
// the session's normal end and never escapes Run.
var errInputClosed = errors.New("input closed")

// SessionConfig configures a duplex session over an already-punched socket.
type SessionConfig struct {
	// Conn is the shared local socket, already registered and punched.
	// UDP sockets support concurrent send and receive, so the session
	// uses it from both paths without locking.
	Conn *net.UDPConn

	// Peer is the resolved peer address; immutable for the session.
	Peer *net.UDPAddr

	// Input supplies outgoing messages, one per line. Empty lines are
	// discarded.
	Input io.Reader

	// Output receives inbound messages, each tagged with its sender.
	Output io.Writer

	// OnError, when set, is told about non-fatal session errors such as
	// failed sends. The session keeps running.
	OnError func(error)

	// Ignore lists payloads dropped on receipt, such as late punch
	// markers from the peer's burst.
	Ignore []string
}

// Session couples the receive path and the send path over one socket.
type Session struct {
	conn    *net.UDPConn
	peer    *net.UDPAddr
	input   io.Reader
	out     io.Writer
	onError func(error)
	ignore  map[string]struct{}

	lines chan string
	done  chan struct{}
}

// NewSession creates a session; it does not touch the socket until Run.
func NewSession(cfg SessionConfig) *Session {
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	ignore := make(map[string]struct{}, len(cfg.Ignore))
	for _, p := range cfg.Ignore {
		ignore[p] = struct{}{}
	}
	return &Session{
		conn:    cfg.Conn,
		peer:    cfg.Peer,
		input:   cfg.Input,
		out:     cfg.Output,
		onError: cfg.OnError,
		ignore:  ignore,
		lines:   make(chan string),
		done:    make(chan struct{}),
	}
}

// Run blocks until the input stream ends or ctx is cancelled. Both end
// conditions are clean: UDP has no connection state to tear down, so the
// session simply stops reading and writing.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.done)

	// The input reader lives outside the group: a read blocked on a
	// terminal has no portable interrupt, so it is left to die with the
	// process. It signals EOF by closing the lines channel.
	go s.readInput()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.receiveLoop(ctx) })
	g.Go(func() error { return s.sendLoop(ctx) })

	err := g.Wait()
	if errors.Is(err, errInputClosed) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// receiveLoop prints inbound datagrams until ctx is cancelled. Zero-length
// and ignored payloads are dropped; payloads that are not valid UTF-8 are
// shown as a byte-count placeholder rather than failing the session.
func (s *Session) receiveLoop(ctx context.Context) error {
	defer s.conn.SetReadDeadline(time.Time{})

	buf := make([]byte, BufferSize)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.conn.SetReadDeadline(time.Now().Add(readPollInterval))

		n, from, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("receive: %w", err)
		}
		if n == 0 {
			continue
		}
		payload := buf[:n]
		if _, skip := s.ignore[string(payload)]; skip {
			continue
		}
		fmt.Fprintln(s.out, FormatInbound(from, renderPayload(payload)))
	}
}

// sendLoop drains the input channel, sending one datagram per line. Send
// failures are reported and tolerated; session continuity outranks strict
// error propagation.
func (s *Session) sendLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-s.lines:
			if !ok {
				return errInputClosed
			}
			if _, err := s.conn.WriteToUDP([]byte(line), s.peer); err != nil {
				s.reportError(fmt.Errorf("send to %s: %w", s.peer, err))
			}
		}
	}
}

// readInput scans the local input line by line into the send channel,
// discarding empty lines, and closes the channel on EOF.
func (s *Session) readInput() {
	defer close(s.lines)

	scanner := bufio.NewScanner(s.input)
	scanner.Buffer(make([]byte, BufferSize), BufferSize)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		select {
		case s.lines <- line:
		case <-s.done:
			return
		}
	}
	if err := scanner.Err(); err != nil {
		s.reportError(fmt.Errorf("read input: %w", err))
	}
}

func (s *Session) reportError(err error) {
	if s.onError != nil {
		s.onError(err)
	}
}

func renderPayload(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	return fmt.Sprintf("<%d bytes>", len(b))
}
