// Package discovery announces license presence on the local network and
// surfaces announcements received from other senders, so the engine can
// detect the same license identity active on more than one machine.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultPort is the UDP port used for presence announcements.
const DefaultPort = 12391

// Announcement is one presence beacon: this license, this user, this
// machine. SenderID is random per process lifetime and is only used to
// tell announcements apart; it is never persisted.
type Announcement struct {
	SenderID    uuid.UUID `json:"sender_id"`
	UserID      string    `json:"user_id"`
	MachineName string    `json:"machine_name"`
	UserName    string    `json:"user_name"`
}

// Transport announces presence and streams announcements received from
// the network, including the sender's own.
type Transport interface {
	Announce(ctx context.Context, ann Announcement) error
	Announcements() <-chan Announcement
	Close() error
}

// UDPTransport broadcasts JSON announcements over UDP and listens for
// announcements from other machines on the same port.
type UDPTransport struct {
	conn *net.UDPConn
	log  *slog.Logger

	mu     sync.Mutex
	target *net.UDPAddr

	ch        chan Announcement
	stop      chan struct{}
	closeOnce sync.Once
}

// NewUDP opens a broadcast transport on the given port. Port 0 binds an
// ephemeral port, which is mainly useful together with SetTarget.
func NewUDP(port int, logger *slog.Logger) (*UDPTransport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: port})
	if err != nil {
		return nil, fmt.Errorf("discovery: failed to listen on udp port %d: %w", port, err)
	}

	targetPort := port
	if targetPort == 0 {
		targetPort = conn.LocalAddr().(*net.UDPAddr).Port
	}

	t := &UDPTransport{
		conn:   conn,
		log:    logger.With(slog.String("component", "discovery")),
		target: &net.UDPAddr{IP: net.IPv4bcast, Port: targetPort},
		ch:     make(chan Announcement, 16),
		stop:   make(chan struct{}),
	}
	go t.readLoop()
	return t, nil
}

// LocalAddr returns the address the transport listens on.
func (t *UDPTransport) LocalAddr() *net.UDPAddr {
	return t.conn.LocalAddr().(*net.UDPAddr)
}

// SetTarget redirects announcements to a specific address instead of
// the subnet broadcast address.
func (t *UDPTransport) SetTarget(addr string) error {
	target, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return fmt.Errorf("discovery: bad target address %q: %w", addr, err)
	}
	t.mu.Lock()
	t.target = target
	t.mu.Unlock()
	return nil
}

// Announce implements Transport.
func (t *UDPTransport) Announce(ctx context.Context, ann Announcement) error {
	data, err := json.Marshal(ann)
	if err != nil {
		return fmt.Errorf("discovery: failed to encode announcement: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		t.conn.SetWriteDeadline(deadline)
	} else {
		t.conn.SetWriteDeadline(time.Now().Add(time.Second))
	}

	t.mu.Lock()
	target := t.target
	t.mu.Unlock()

	if _, err := t.conn.WriteToUDP(data, target); err != nil {
		return fmt.Errorf("discovery: announcement send failed: %w", err)
	}
	return nil
}

// Announcements implements Transport. The channel closes when the
// transport does.
func (t *UDPTransport) Announcements() <-chan Announcement {
	return t.ch
}

// Close implements Transport. Safe to call more than once.
func (t *UDPTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.stop)
		t.conn.Close()
	})
	return nil
}

func (t *UDPTransport) readLoop() {
	defer close(t.ch)

	buf := make([]byte, 2048)
	for {
		n, _, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-t.stop:
			default:
				t.log.LogAttrs(context.Background(), slog.LevelDebug, "discovery listener stopped",
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var ann Announcement
		if err := json.Unmarshal(buf[:n], &ann); err != nil {
			t.log.LogAttrs(context.Background(), slog.LevelDebug, "discarding malformed announcement",
				slog.String("error", err.Error()),
			)
			continue
		}

		select {
		case t.ch <- ann:
		default:
			// Receiver is not keeping up; announcements are cheap
			// heartbeats, dropping one is harmless.
		}
	}
}
