// Package rendezvous implements the client side of the rendezvous
// protocol: announcing the local UDP endpoint over UDP and resolving a
// named peer's public address over HTTP.
package rendezvous

import (
	"context"
	"fmt"
	"net"
	"time"
)

// RegistrationPort is the rendezvous server's UDP registration port.
const RegistrationPort = 4200

// RegisterConfig controls the fire-and-forget announcement policy. The
// registration protocol has no acknowledgment, so the frame is repeated
// to survive datagram loss.
type RegisterConfig struct {
	// Retries is the total number of frames sent.
	Retries int

	// Interval is the delay after each send.
	Interval time.Duration

	// BackoffStep, when non-zero, is added to the delay after every send,
	// giving a linearly growing interval.
	BackoffStep time.Duration

	// Port overrides RegistrationPort. Used by tests.
	Port int
}

// DefaultRegisterConfig returns the standard announcement policy.
func DefaultRegisterConfig() *RegisterConfig {
	return &RegisterConfig{
		Retries:  3,
		Interval: 200 * time.Millisecond,
	}
}

// Register binds a local UDP socket on an ephemeral port and announces
// name to the rendezvous server at rendezvousIP. The returned socket is
// the one whose translated address the server observed; the caller must
// reuse it for punching and chat, since a different source port would
// map to a different NAT binding.
//
// Registration never fails for lack of acknowledgment; only bind or send
// errors are surfaced.
func Register(ctx context.Context, cfg *RegisterConfig, rendezvousIP net.IP, name string) (*net.UDPConn, error) {
	if cfg == nil {
		cfg = DefaultRegisterConfig()
	}
	port := cfg.Port
	if port == 0 {
		port = RegistrationPort
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return nil, fmt.Errorf("bind local socket: %w", err)
	}

	frame := EncodeRegistration(name)
	dst := &net.UDPAddr{IP: rendezvousIP, Port: port}

	delay := cfg.Interval
	for i := 0; i < cfg.Retries; i++ {
		if _, err := conn.WriteToUDP(frame, dst); err != nil {
			conn.Close()
			return nil, fmt.Errorf("send registration to %s: %w", dst, err)
		}
		if err := sleep(ctx, delay); err != nil {
			conn.Close()
			return nil, err
		}
		delay += cfg.BackoffStep
	}

	return conn, nil
}

// sleep waits for d unless the context is cancelled first.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
