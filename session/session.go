package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/getlantern/golog"

	"github.com/LoveWonYoung/frartp/tp"
)

type txPhase uint8

const (
	txIdle     txPhase = iota
	txPending          // next data frame waits for a slot
	txInFlight         // copied into a frame, waiting for its confirmation
	txWaitFC
)

type rxPhase uint8

const (
	rxIdle rxPhase = iota
	rxReceiving
	rxOverflow   // an oversized first frame is being refused
	rxWaitBuffer // no buffer yet, answering with WAIT
)

// entry is one row of the active connection table.
type entry struct {
	inUse    bool
	aborting bool
	conn     tp.ConnID
	ch       tp.Channel

	tx      txPhase
	txData  []byte
	txOff   int
	txKind  tp.SegmentKind
	txSeq   uint8
	txBlock int
	peerBS  uint8
	wft     int
	txTimer *Timer

	rx         rxPhase
	rxBuf      []byte
	rxLen      int
	rxSeq      uint8
	rxBlock    int
	rxWft      int
	fcPending  bool
	fcInFlight bool
	fcStatus   tp.FlowStatus
	rxTimer    *Timer
}

// Message is a reassembled message received on a connection.
type Message struct {
	Conn tp.ConnID
	Data []byte
}

// Canceller withdraws the transmit slots of an active connection.
type Canceller interface {
	CancelConnection(active tp.ActiveID)
}

// Table is the active connection table and per-connection segmentation
// state machine the encoder schedules.
type Table struct {
	mu        sync.Mutex
	cfg       Config
	topo      *tp.Topology
	entries   []entry
	canceller Canceller
	rxQueue   *SafeQueue[Message]
	log       golog.Logger
	clock     func() time.Time

	// Error Channel
	ErrorChan chan error
	// Sent receives the connection of every completed transmission.
	Sent chan tp.ConnID
}

var _ tp.ConnectionState = (*Table)(nil)

func New(cfg Config, topo *tp.Topology) (*Table, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if topo == nil {
		return nil, fmt.Errorf("no topology")
	}
	return &Table{
		cfg:       cfg,
		topo:      topo,
		entries:   make([]entry, cfg.MaxActive),
		rxQueue:   NewSafeQueue[Message](),
		log:       golog.LoggerFor("frartp-session"),
		clock:     time.Now,
		ErrorChan: make(chan error, 10),
		Sent:      make(chan tp.ConnID, 10),
	}, nil
}

// Bind connects the table to the encoder that schedules it.
func (s *Table) Bind(c Canceller) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.canceller = c
}

// Transmit starts sending data on a configured connection. Only one
// transmission per connection may be in progress.
func (s *Table) Transmit(conn tp.ConnID, data []byte) error {
	ch, ok := s.topo.ConnectionChannel(conn)
	if !ok {
		return UnknownConnectionError{SessionError: NewSessionError(fmt.Sprintf("connection %d is not configured", conn))}
	}
	kind, err := firstKind(ch, len(data))
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.lookup(conn)
	if ok && (s.entries[a].tx != txIdle || s.entries[a].aborting) {
		return BusyError{}
	}
	if !ok {
		if a, err = s.allocate(conn, ch); err != nil {
			return err
		}
	}
	e := &s.entries[a]
	e.txData = append([]byte(nil), data...)
	e.txOff = 0
	e.txKind = kind
	e.txSeq = 0
	e.txBlock = 0
	e.peerBS = 0
	e.wft = 0
	e.tx = txPending
	e.txTimer.Start(s.clock())
	s.log.Debugf("connection %d: sending %d bytes as %v on active %d", conn, len(data), kind, a)
	return nil
}

// firstKind picks the segment kind that opens a message of n bytes.
func firstKind(ch tp.Channel, n int) (tp.SegmentKind, error) {
	if n == 0 {
		return 0, MessageLengthError{SessionError: NewSessionError("empty message")}
	}
	single := tp.PayloadCapacity(ch, tp.KindSingle)
	if ch.Format == tp.FormatCompact && single > 0x0F {
		single = 0x0F
	}
	if n <= single {
		return tp.KindSingle, nil
	}
	if ch.Format == tp.FormatCompact && n > 0x0FFF {
		return 0, MessageLengthError{SessionError: NewSessionError(fmt.Sprintf("%d bytes exceed the 12 bit length of the compact format", n))}
	}
	return tp.KindFirst, nil
}

// Recv returns the next received message without blocking.
func (s *Table) Recv() ([]byte, tp.ConnID, bool) {
	msg, ok := s.rxQueue.Pop()
	if !ok {
		return nil, 0, false
	}
	return msg.Data, msg.Conn, true
}

// Abort stops both directions of a connection and withdraws its slots.
func (s *Table) Abort(conn tp.ConnID) {
	s.mu.Lock()
	a, ok := s.lookup(conn)
	if !ok || s.entries[a].aborting {
		s.mu.Unlock()
		return
	}
	s.abortLocked(a)
	s.mu.Unlock()

	s.withdraw([]tp.ActiveID{a})
}

// MainFunction enforces the transmit and receive timeouts.
func (s *Table) MainFunction(now time.Time) {
	s.mu.Lock()
	var expired []tp.ActiveID
	for i := range s.entries {
		e := &s.entries[i]
		if !e.inUse || e.aborting {
			continue
		}
		timedOut := false
		if e.tx != txIdle && e.txTimer.IsTimedOut(now) {
			s.fireError(TimeoutError{Direction: "transmit"})
			timedOut = true
		}
		if e.rx != rxIdle && e.rxTimer.IsTimedOut(now) {
			s.fireError(TimeoutError{Direction: "receive"})
			timedOut = true
		}
		if timedOut {
			s.log.Debugf("connection %d timed out on active %d", e.conn, i)
			s.abortLocked(tp.ActiveID(i))
			expired = append(expired, tp.ActiveID(i))
		}
	}
	s.mu.Unlock()

	s.withdraw(expired)
}

// abortLocked resets both directions and marks the entry until its slots
// are withdrawn.
func (s *Table) abortLocked(a tp.ActiveID) {
	e := &s.entries[a]
	s.resetTx(e)
	s.resetRx(e)
	e.aborting = true
}

// withdraw must be called without holding s.mu: the encoder takes its pool
// lock and may call back into the table.
func (s *Table) withdraw(actives []tp.ActiveID) {
	if len(actives) == 0 {
		return
	}
	s.mu.Lock()
	c := s.canceller
	s.mu.Unlock()

	for _, a := range actives {
		if c != nil {
			c.CancelConnection(a)
		}
		s.mu.Lock()
		e := &s.entries[a]
		e.aborting = false
		e.fcInFlight = false
		s.releaseIfIdle(a)
		s.mu.Unlock()
	}
}

func (s *Table) lookup(conn tp.ConnID) (tp.ActiveID, bool) {
	for i := range s.entries {
		if s.entries[i].inUse && s.entries[i].conn == conn {
			return tp.ActiveID(i), true
		}
	}
	return 0, false
}

func (s *Table) allocate(conn tp.ConnID, ch tp.Channel) (tp.ActiveID, error) {
	for i := range s.entries {
		if s.entries[i].inUse {
			continue
		}
		s.entries[i] = entry{
			inUse:   true,
			conn:    conn,
			ch:      ch,
			txTimer: NewTimer(s.cfg.TimeoutTx),
			rxTimer: NewTimer(s.cfg.TimeoutRx),
		}
		return tp.ActiveID(i), nil
	}
	return 0, TableFullError{}
}

func (s *Table) bufferAvailable(conn tp.ConnID, length int) bool {
	return s.cfg.RxBufferAvailable == nil || s.cfg.RxBufferAvailable(conn, length)
}

func (s *Table) releaseIfIdle(a tp.ActiveID) {
	e := &s.entries[a]
	if !e.inUse || e.aborting || e.tx != txIdle || e.rx != rxIdle || e.fcPending || e.fcInFlight {
		return
	}
	s.entries[a] = entry{}
}

func (s *Table) resetTx(e *entry) {
	e.tx = txIdle
	e.txData = nil
	e.txOff = 0
	e.txSeq = 0
	e.txBlock = 0
	e.peerBS = 0
	e.wft = 0
	e.txTimer.Stop()
}

func (s *Table) resetRx(e *entry) {
	e.rx = rxIdle
	e.rxBuf = nil
	e.rxLen = 0
	e.rxSeq = 0
	e.rxBlock = 0
	e.rxWft = 0
	e.fcPending = false
	e.rxTimer.Stop()
}

// fireError sends an error to the ErrorChan. Non-blocking.
func (s *Table) fireError(err error) {
	select {
	case s.ErrorChan <- err:
	default:
		s.log.Errorf("error channel full, dropping: %v", err)
	}
}

func (s *Table) notifySent(conn tp.ConnID) {
	select {
	case s.Sent <- conn:
	default:
		s.log.Debugf("sent channel full, dropping notification for connection %d", conn)
	}
}
