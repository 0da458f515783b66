package rendezvous

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"time"
)

// WaitPort is the rendezvous server's HTTP port.
const WaitPort = 8080

// Resolution failure modes callers may want to branch on.
var (
	// ErrPeerNotFound means the peer never registered within the retry budget.
	ErrPeerNotFound = errors.New("peer not found at rendezvous")

	// ErrRendezvousUnreachable means the HTTP endpoint stayed unreachable.
	ErrRendezvousUnreachable = errors.New("rendezvous unreachable")

	// ErrBadResponse means the server violated the protocol contract.
	ErrBadResponse = errors.New("bad rendezvous response")
)

// Resolver queries the rendezvous server for a peer's public address.
//
// Two retry tracks are kept separate: transport errors back off
// exponentially up to MaxBackoff, while 404 answers poll at the fixed
// NotFoundDelay and reset the transport backoff. A 404 means the peer
// simply hasn't registered yet, not that the server is under stress.
type Resolver struct {
	// MaxAttempts bounds the total number of HTTP requests.
	MaxAttempts int

	// InitialBackoff is the first transport-error delay; it doubles per
	// consecutive transport error up to MaxBackoff.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// NotFoundDelay is the fixed delay after a 404.
	NotFoundDelay time.Duration

	// WaitTimeout is the long-poll timeout, in seconds, passed to the server.
	WaitTimeout int

	// Port overrides WaitPort. Used by tests.
	Port int

	// HTTPClient defaults to a client whose timeout covers WaitTimeout.
	HTTPClient *http.Client

	// sleep is replaced in tests to observe retry delays.
	sleep func(context.Context, time.Duration) error
}

// NewResolver returns a resolver with the standard retry policy.
func NewResolver() *Resolver {
	return &Resolver{
		MaxAttempts:    5,
		InitialBackoff: 400 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		NotFoundDelay:  600 * time.Millisecond,
		WaitTimeout:    10,
	}
}

// Resolve looks up peer's public address through the rendezvous server at
// rendezvousIP. The returned address is immutable; callers hold it for
// the lifetime of the session.
func (r *Resolver) Resolve(ctx context.Context, rendezvousIP net.IP, peer string) (*net.UDPAddr, error) {
	port := r.Port
	if port == 0 {
		port = WaitPort
	}
	client := r.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: time.Duration(r.WaitTimeout+5) * time.Second}
	}
	doSleep := r.sleep
	if doSleep == nil {
		doSleep = sleep
	}

	url := fmt.Sprintf("http://%s:%d/api/wait/%s?timeout=%d", rendezvousIP, port, peer, r.WaitTimeout)

	backoff := r.InitialBackoff
	for attempt := 1; attempt <= r.MaxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("build wait request: %w", err)
		}

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if attempt == r.MaxAttempts {
				return nil, fmt.Errorf("%w after %d attempts: %v", ErrRendezvousUnreachable, attempt, err)
			}
			if err := doSleep(ctx, backoff); err != nil {
				return nil, err
			}
			backoff *= 2
			if backoff > r.MaxBackoff {
				backoff = r.MaxBackoff
			}
			continue
		}

		switch resp.StatusCode {
		case http.StatusOK:
			body, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			if err != nil {
				return nil, fmt.Errorf("read wait body: %w", err)
			}
			literal := strings.TrimSpace(string(body))
			ap, err := netip.ParseAddrPort(literal)
			if err != nil {
				// A malformed body is a contract violation, not transience.
				return nil, fmt.Errorf("%w: parse peer address %q: %v", ErrBadResponse, literal, err)
			}
			return net.UDPAddrFromAddrPort(ap), nil

		case http.StatusNotFound:
			resp.Body.Close()
			if attempt == r.MaxAttempts {
				return nil, fmt.Errorf("%w: %q after %d attempts", ErrPeerNotFound, peer, attempt)
			}
			if err := doSleep(ctx, r.NotFoundDelay); err != nil {
				return nil, err
			}
			backoff = r.InitialBackoff

		default:
			code := resp.StatusCode
			resp.Body.Close()
			return nil, fmt.Errorf("%w: unexpected HTTP status %d", ErrBadResponse, code)
		}
	}

	return nil, fmt.Errorf("%w: %q after %d attempts", ErrPeerNotFound, peer, r.MaxAttempts)
}
