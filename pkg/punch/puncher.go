// Package punch opens the NAT path to a peer by sending a burst of
// marker datagrams at its resolved public address. Each outbound
// datagram creates or refreshes the local NAT's translation entry; the
// peer's simultaneous burst does the same on its side, so inbound
// traffic passes once the bursts overlap.
package punch

import (
	"context"
	"fmt"
	"log"
	"net"
	"time"
)

// DefaultPayload is the marker sent during hole punching.
var DefaultPayload = []byte("punch")

// Config controls the punch burst.
type Config struct {
	// Count is the number of marker datagrams sent.
	Count int

	// Interval is the pause between datagrams. The burst must be long
	// enough to overlap the peer's burst despite clock and network skew.
	Interval time.Duration

	// Payload is the marker content. Defaults to DefaultPayload.
	Payload []byte

	// Logger, when set, receives per-datagram send failures.
	Logger *log.Logger
}

// DefaultConfig returns the standard burst policy.
func DefaultConfig() *Config {
	return &Config{
		Count:    100,
		Interval: 25 * time.Millisecond,
	}
}

// Puncher sends punch bursts over an existing socket. The socket must be
// the one registered with the rendezvous server; punching from a
// different source port would open the wrong NAT mapping.
type Puncher struct {
	conn *net.UDPConn
	cfg  *Config
}

// New creates a puncher over the shared socket.
func New(conn *net.UDPConn, cfg *Config) *Puncher {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Puncher{conn: conn, cfg: cfg}
}

// Punch sends the configured burst at peer. No acknowledgment is
// expected; individual send failures are logged and tolerated. Punch
// fails only when the context is cancelled or no datagram went out at
// all.
func (p *Puncher) Punch(ctx context.Context, peer *net.UDPAddr) error {
	payload := p.cfg.Payload
	if len(payload) == 0 {
		payload = DefaultPayload
	}

	sent := 0
	for i := 0; i < p.cfg.Count; i++ {
		if _, err := p.conn.WriteToUDP(payload, peer); err != nil {
			if p.cfg.Logger != nil {
				p.cfg.Logger.Printf("punch send %d/%d: %v", i+1, p.cfg.Count, err)
			}
		} else {
			sent++
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.cfg.Interval):
		}
	}

	if sent == 0 {
		return fmt.Errorf("no punch datagrams sent to %s", peer)
	}
	return nil
}
