package tp

import (
	"errors"
	"fmt"
	"sync"
)

// fakeConn is the per-connection state a test drives the encoder with.
type fakeConn struct {
	conn     ConnID
	fc       bool
	data     bool
	kind     SegmentKind
	payload  []byte
	total    uint32
	seq      uint8
	fcParams FlowControl
	copyErr  error
	fcErr    error
}

// recordingState is a ConnectionState that records every callback.
type recordingState struct {
	mu            sync.Mutex
	active        map[ActiveID]*fakeConn
	fcConfirmed   map[ActiveID]int
	dataConfirmed map[ActiveID]int
	cancelRx      map[ConnID]int
	cancelTx      map[ConnID]int
}

func newRecordingState() *recordingState {
	return &recordingState{
		active:        make(map[ActiveID]*fakeConn),
		fcConfirmed:   make(map[ActiveID]int),
		dataConfirmed: make(map[ActiveID]int),
		cancelRx:      make(map[ConnID]int),
		cancelTx:      make(map[ConnID]int),
	}
}

func (s *recordingState) set(a ActiveID, c *fakeConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[a] = c
}

func (s *recordingState) deactivate(a ActiveID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, a)
}

func (s *recordingState) get(a ActiveID) *fakeConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active[a]
}

func (s *recordingState) Connection(a ActiveID) (ConnID, bool) {
	c := s.get(a)
	if c == nil {
		return 0, false
	}
	return c.conn, true
}

func (s *recordingState) FlowControlPending(a ActiveID) bool {
	c := s.get(a)
	return c != nil && c.fc
}

func (s *recordingState) DataPending(a ActiveID) bool {
	c := s.get(a)
	return c != nil && c.data
}

func (s *recordingState) SegmentKind(a ActiveID) SegmentKind {
	if c := s.get(a); c != nil {
		return c.kind
	}
	return KindSingle
}

func (s *recordingState) CopyPayload(a ActiveID, conn ConnID, dst []byte) (Segment, error) {
	c := s.get(a)
	if c == nil {
		return Segment{}, errors.New("not active")
	}
	if c.copyErr != nil {
		return Segment{}, c.copyErr
	}
	if c.conn != conn {
		return Segment{}, fmt.Errorf("active %d asked for connection %d", a, conn)
	}
	n := copy(dst, c.payload)
	total := c.total
	if total == 0 {
		total = uint32(len(c.payload))
	}
	return Segment{Copied: n, Total: total, Sequence: c.seq}, nil
}

func (s *recordingState) CopyFlowControl(a ActiveID) (FlowControl, error) {
	c := s.get(a)
	if c == nil {
		return FlowControl{}, errors.New("not active")
	}
	if c.fcErr != nil {
		return FlowControl{}, c.fcErr
	}
	return c.fcParams, nil
}

func (s *recordingState) FlowControlConfirmed(a ActiveID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fcConfirmed[a]++
}

func (s *recordingState) DataConfirmed(a ActiveID, conn ConnID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dataConfirmed[a]++
}

func (s *recordingState) CancelReceive(conn ConnID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelRx[conn]++
	return nil
}

func (s *recordingState) CancelTransmit(conn ConnID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelTx[conn]++
	return nil
}

// recordingMedia accepts every transmit except those for media IDs in reject.
type recordingMedia struct {
	mu     sync.Mutex
	sent   []uint16
	reject map[uint16]bool
}

func newRecordingMedia() *recordingMedia {
	return &recordingMedia{reject: make(map[uint16]bool)}
}

func (m *recordingMedia) Transmit(mediaID uint16, length int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reject[mediaID] {
		return TransmitRejectedError{}
	}
	m.sent = append(m.sent, mediaID)
	return nil
}

func (m *recordingMedia) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...interface{}) {}

func (nopLogger) Errorf(msg string, args ...interface{}) error {
	return fmt.Errorf(msg, args...)
}

const testMediaBase = 100

// testTopology builds one compact channel with one byte addresses and an
// 8 byte payload, one pool of slotCount slots and conns connections.
func testTopology(slotCount, conns int) *Topology {
	t := &Topology{
		Channels: []Channel{{AddressWidth: 1, PayloadSize: 8, Format: FormatCompact, Pool: 0}},
		Pools:    []Pool{{FirstSlot: 0, SlotCount: slotCount}},
	}
	for i := 0; i < slotCount; i++ {
		t.Slots = append(t.Slots, Slot{MediaID: uint16(testMediaBase + i)})
	}
	for i := 0; i < conns; i++ {
		t.Connections = append(t.Connections, Connection{
			Channel:       0,
			LocalAddress:  uint16(0x10 + i),
			RemoteAddress: uint16(0x20 + i),
		})
	}
	return t
}

func newTestEncoder(topo *Topology, state ConnectionState, media Media) *Encoder {
	cfg := DefaultConfig()
	cfg.Topology = topo
	cfg.Logger = nopLogger{}
	e, err := New(cfg, state, media)
	if err != nil {
		panic(err)
	}
	return e
}

func occupied(e *Encoder, p PoolID) int {
	pool := e.topo.Pools[p]
	return e.admission.Occupied(pool.FirstSlot, pool.LastSlot())
}
