package metrics

//
// Round-trip estimation from data/ACK pairing at the bottleneck
//

import (
	"time"

	"github.com/google/gopacket/layers"
)

// maxPendingSegments bounds the matcher's memory.
const maxPendingSegments = 65536

// rttMatcher estimates round trips by pairing a data segment with the
// first acknowledgment covering it. Retransmitted segments are
// excluded, so ambiguous pairs never contribute a sample.
type rttMatcher struct {
	pending map[uint32]time.Time
	retx    map[uint32]bool
	samples []float64
}

func newRTTMatcher() *rttMatcher {
	return &rttMatcher{
		pending: make(map[uint32]time.Time),
		retx:    make(map[uint32]bool),
	}
}

// observeData records a forward data segment.
func (m *rttMatcher) observeData(tcp *layers.TCP, payloadLength int, ts time.Time) {
	if payloadLength <= 0 {
		return
	}
	expectedAck := tcp.Seq + uint32(payloadLength)
	if _, dup := m.pending[expectedAck]; dup || m.retx[expectedAck] {
		// Retransmission: drop the pair entirely.
		delete(m.pending, expectedAck)
		m.retx[expectedAck] = true
		return
	}
	if len(m.pending) < maxPendingSegments {
		m.pending[expectedAck] = ts
	}
}

// observeAck records a reverse acknowledgment.
func (m *rttMatcher) observeAck(tcp *layers.TCP, ts time.Time) {
	if !tcp.ACK {
		return
	}
	sent, ok := m.pending[tcp.Ack]
	if !ok {
		return
	}
	delete(m.pending, tcp.Ack)
	m.samples = append(m.samples, float64(ts.Sub(sent))/float64(time.Millisecond))
}
