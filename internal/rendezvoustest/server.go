// Package rendezvoustest provides an in-process stand-in for the
// third-party rendezvous service: a UDP listener that records
// registration frames and an HTTP endpoint answering
// GET /api/wait/{name}. It exists for tests; the real service is
// external to this repository.
package rendezvoustest

import (
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"

	"github.com/LegendarySaiyan/udp-hole-punching-client/pkg/rendezvous"
)

// Server emulates the rendezvous service on loopback.
type Server struct {
	mu       sync.Mutex
	peers    map[string]string // name -> observed address literal
	frames   map[string]int    // name -> registration frames received
	notFound map[string]int    // name -> synthetic 404s remaining
	waits    map[string]int    // name -> wait requests served

	udp  *net.UDPConn
	http *httptest.Server
}

// NewServer starts the stub. Callers must Close it.
func NewServer() (*Server, error) {
	udp, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		return nil, fmt.Errorf("bind stub registration socket: %w", err)
	}

	s := &Server{
		peers:    make(map[string]string),
		frames:   make(map[string]int),
		notFound: make(map[string]int),
		waits:    make(map[string]int),
		udp:      udp,
	}
	s.http = httptest.NewServer(http.HandlerFunc(s.handleWait))

	go s.serveUDP()
	return s, nil
}

// Close shuts both listeners down.
func (s *Server) Close() {
	s.http.Close()
	s.udp.Close()
}

// IP returns the loopback address both listeners are bound to.
func (s *Server) IP() net.IP {
	return net.IPv4(127, 0, 0, 1)
}

// UDPPort returns the registration port.
func (s *Server) UDPPort() int {
	return s.udp.LocalAddr().(*net.UDPAddr).Port
}

// HTTPPort returns the wait endpoint's port.
func (s *Server) HTTPPort() int {
	_, portStr, err := net.SplitHostPort(strings.TrimPrefix(s.http.URL, "http://"))
	if err != nil {
		panic(err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		panic(err)
	}
	return port
}

// SetPeer installs a name -> address mapping directly, bypassing UDP
// registration.
func (s *Server) SetPeer(name, addr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peers[name] = addr
}

// FailWaits makes the next n wait requests for name answer 404 even if
// the peer is registered.
func (s *Server) FailWaits(name string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notFound[name] = n
}

// Registration reports the observed address and frame count for name.
func (s *Server) Registration(name string) (addr string, frames int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peers[name], s.frames[name]
}

// WaitCount reports how many wait requests were served for name.
func (s *Server) WaitCount(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waits[name]
}

func (s *Server) serveUDP() {
	buf := make([]byte, 512)
	for {
		n, from, err := s.udp.ReadFromUDP(buf)
		if err != nil {
			return
		}
		name, err := rendezvous.DecodeRegistration(buf[:n])
		if err != nil {
			continue
		}
		s.mu.Lock()
		s.peers[name] = from.String()
		s.frames[name]++
		s.mu.Unlock()
	}
}

func (s *Server) handleWait(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/api/wait/")
	if name == "" || name == r.URL.Path {
		http.NotFound(w, r)
		return
	}

	s.mu.Lock()
	s.waits[name]++
	if s.notFound[name] > 0 {
		s.notFound[name]--
		s.mu.Unlock()
		http.NotFound(w, r)
		return
	}
	addr, ok := s.peers[name]
	s.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	// Trailing newline on purpose; clients must trim before parsing.
	fmt.Fprintf(w, "%s\n", addr)
}
