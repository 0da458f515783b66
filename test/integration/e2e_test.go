package integration

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/LegendarySaiyan/udp-hole-punching-client/internal/rendezvoustest"
	"github.com/LegendarySaiyan/udp-hole-punching-client/pkg/chat"
	"github.com/LegendarySaiyan/udp-hole-punching-client/pkg/punch"
	"github.com/LegendarySaiyan/udp-hole-punching-client/pkg/rendezvous"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestResolver(srv *rendezvoustest.Server) *rendezvous.Resolver {
	r := rendezvous.NewResolver()
	r.Port = srv.HTTPPort()
	r.InitialBackoff = time.Millisecond
	r.MaxBackoff = 2 * time.Millisecond
	r.NotFoundDelay = time.Millisecond
	return r
}

func waitRegistered(t *testing.T, srv *rendezvoustest.Server, name string) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if addr, _ := srv.Registration(name); addr != "" {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("%s never registered with the stub rendezvous", name)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// TestRendezvousPunchAndChat walks the full client flow with two
// in-process endpoints: both register, one resolves the other through
// two synthetic 404s, punches, and sends a message the other's session
// prints tagged with the sender's address.
func TestRendezvousPunchAndChat(t *testing.T) {
	srv, err := rendezvoustest.NewServer()
	if err != nil {
		t.Fatalf("start stub rendezvous: %v", err)
	}
	defer srv.Close()

	ctx := context.Background()
	regCfg := func() *rendezvous.RegisterConfig {
		return &rendezvous.RegisterConfig{
			Retries:  3,
			Interval: time.Millisecond,
			Port:     srv.UDPPort(),
		}
	}

	aliceConn, err := rendezvous.Register(ctx, regCfg(), srv.IP(), "alice")
	if err != nil {
		t.Fatalf("register alice: %v", err)
	}
	defer aliceConn.Close()

	bobConn, err := rendezvous.Register(ctx, regCfg(), srv.IP(), "bob")
	if err != nil {
		t.Fatalf("register bob: %v", err)
	}
	defer bobConn.Close()

	waitRegistered(t, srv, "alice")
	waitRegistered(t, srv, "bob")

	// Bob resolves alice through two synthetic "not yet registered" answers.
	srv.FailWaits("alice", 2)
	aliceAddr, err := newTestResolver(srv).Resolve(ctx, srv.IP(), "alice")
	if err != nil {
		t.Fatalf("resolve alice: %v", err)
	}
	if got := srv.WaitCount("alice"); got != 3 {
		t.Errorf("expected resolution on attempt 3, stub served %d wait requests", got)
	}

	bobAddr, err := newTestResolver(srv).Resolve(ctx, srv.IP(), "bob")
	if err != nil {
		t.Fatalf("resolve bob: %v", err)
	}

	// Alice's session is up before bob starts punching.
	out := &syncBuffer{}
	aliceIn, aliceInWriter := io.Pipe()
	sessionCtx, cancel := context.WithCancel(ctx)
	aliceDone := make(chan error, 1)
	aliceSession := chat.NewSession(chat.SessionConfig{
		Conn:   aliceConn,
		Peer:   bobAddr,
		Input:  aliceIn,
		Output: out,
		Ignore: []string{string(punch.DefaultPayload)},
	})
	go func() { aliceDone <- aliceSession.Run(sessionCtx) }()

	puncher := punch.New(bobConn, &punch.Config{Count: 5, Interval: time.Millisecond})
	if err := puncher.Punch(ctx, aliceAddr); err != nil {
		t.Fatalf("punch: %v", err)
	}

	bobSession := chat.NewSession(chat.SessionConfig{
		Conn:   bobConn,
		Peer:   aliceAddr,
		Input:  strings.NewReader("hello\n"),
		Output: io.Discard,
	})
	if err := bobSession.Run(ctx); err != nil {
		t.Fatalf("bob session: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for !strings.Contains(out.String(), "hello") {
		if time.Now().After(deadline) {
			t.Fatalf("alice never printed bob's message, output: %q", out.String())
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !strings.Contains(out.String(), bobAddr.String()) {
		t.Errorf("output %q lacks bob's address %s", out.String(), bobAddr)
	}
	if strings.Contains(out.String(), string(punch.DefaultPayload)) {
		t.Errorf("punch markers leaked into chat output: %q", out.String())
	}

	cancel()
	aliceInWriter.Close()
	if err := <-aliceDone; err != nil {
		t.Errorf("alice session: %v", err)
	}

	// Resolving again against the unchanged stub yields the same address.
	again, err := newTestResolver(srv).Resolve(ctx, srv.IP(), "alice")
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if again.String() != aliceAddr.String() {
		t.Errorf("resolution not idempotent: %s then %s", aliceAddr, again)
	}
}
