package transport

import (
	"crypto/rand"
	"fmt"
	"net"
	"sync"
	"time"

	"ledshow/internal/protocol"
)

// sendDeadline is short enough that a saturated send buffer surfaces as a
// timeout (treated as would-block) rather than stalling the render tick.
const sendDeadline = 2 * time.Millisecond

// UDPPixelSink is the single process-wide sACN/E1.31 sender. One socket
// serves every board; concurrent sends are safe because UDP sendto is
// atomic per datagram (spec.md §5).
type UDPPixelSink struct {
	conn       *net.UDPConn
	cid        [16]byte
	sourceName string
	priority   uint8

	mu  sync.Mutex
	seq map[string]uint8 // key: ip|universe -> next sequence number
}

// NewUDPPixelSink opens the shared UDP socket and generates a random CID
// for the E1.31 root layer.
func NewUDPPixelSink(sourceName string, priority uint8) (*UDPPixelSink, error) {
	conn, err := net.ListenUDP("udp4", nil)
	if err != nil {
		return nil, fmt.Errorf("open sACN socket: %w", err)
	}
	var cid [16]byte
	if _, err := rand.Read(cid[:]); err != nil {
		conn.Close()
		return nil, fmt.Errorf("generate CID: %w", err)
	}
	return &UDPPixelSink{
		conn:       conn,
		cid:        cid,
		sourceName: sourceName,
		priority:   priority,
		seq:        make(map[string]uint8),
	}, nil
}

// Send transmits one E1.31 data packet to ip on universe. A saturated
// send buffer is reported as ok=false, err=nil (the spec's "would-block,
// counted but not retried"); any other failure is returned as err.
func (s *UDPPixelSink) Send(ip string, universe uint16, frame protocol.DMXFrame) (bool, error) {
	seq := s.nextSeq(ip, universe)
	packet := protocol.BuildSACNPacket(s.cid, s.sourceName, universe, seq, s.priority, frame)

	addr := &net.UDPAddr{IP: net.ParseIP(ip), Port: protocol.Port}
	_ = s.conn.SetWriteDeadline(time.Now().Add(sendDeadline))
	_, err := s.conn.WriteToUDP(packet, addr)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *UDPPixelSink) nextSeq(ip string, universe uint16) uint8 {
	key := fmt.Sprintf("%s|%d", ip, universe)
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.seq[key]
	s.seq[key] = cur + 1 // wraps mod 256 per spec.md §6
	return cur
}

// Close releases the shared socket.
func (s *UDPPixelSink) Close() error {
	return s.conn.Close()
}
