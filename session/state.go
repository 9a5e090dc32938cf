package session

import (
	"fmt"

	"github.com/LoveWonYoung/frartp/tp"
)

// The methods below are called by the encoder, some of them while it holds
// a pool lock. None of them may call back into the encoder.

func (s *Table) active(a tp.ActiveID) *entry {
	if a < 0 || int(a) >= len(s.entries) || !s.entries[a].inUse {
		return nil
	}
	return &s.entries[a]
}

func (s *Table) Connection(a tp.ActiveID) (tp.ConnID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.active(a)
	if e == nil {
		return 0, false
	}
	return e.conn, true
}

func (s *Table) FlowControlPending(a tp.ActiveID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.active(a)
	return e != nil && e.fcPending
}

func (s *Table) DataPending(a tp.ActiveID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.active(a)
	return e != nil && e.tx == txPending
}

func (s *Table) SegmentKind(a tp.ActiveID) tp.SegmentKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.active(a); e != nil {
		return e.txKind
	}
	return tp.KindSingle
}

func (s *Table) CopyPayload(a tp.ActiveID, conn tp.ConnID, dst []byte) (tp.Segment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.active(a)
	if e == nil || e.conn != conn {
		return tp.Segment{}, fmt.Errorf("active %d does not carry connection %d", a, conn)
	}
	if e.tx != txPending {
		return tp.Segment{}, fmt.Errorf("connection %d has no data pending", conn)
	}
	remaining := e.txData[e.txOff:]
	n := copy(dst, remaining)
	if n == 0 {
		return tp.Segment{}, fmt.Errorf("no room for payload")
	}
	if e.txKind == tp.KindSingle && n < len(remaining) {
		return tp.Segment{}, fmt.Errorf("single frame of %d bytes does not fit in %d", len(remaining), n)
	}
	seg := tp.Segment{Copied: n, Total: uint32(len(e.txData)), Sequence: e.txSeq}
	e.txOff += n
	e.tx = txInFlight
	return seg, nil
}

func (s *Table) CopyFlowControl(a tp.ActiveID) (tp.FlowControl, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.active(a)
	if e == nil || !e.fcPending {
		return tp.FlowControl{}, fmt.Errorf("active %d has no flow control pending", a)
	}
	e.fcPending = false
	e.fcInFlight = true
	return tp.FlowControl{Status: e.fcStatus, BlockSize: s.cfg.BlockSize, STmin: s.cfg.STmin}, nil
}

func (s *Table) FlowControlConfirmed(a tp.ActiveID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.active(a)
	if e == nil || !e.fcInFlight {
		return
	}
	e.fcInFlight = false
	switch e.rx {
	case rxOverflow:
		s.resetRx(e)
	case rxReceiving:
		e.rxTimer.Start(s.clock())
	case rxWaitBuffer:
		s.recheckBuffer(e)
	}
	s.releaseIfIdle(a)
}

// recheckBuffer follows a confirmed WAIT with CTS once the buffer is there,
// or with OVFLW after MaxWaitFrame WAITs.
func (s *Table) recheckBuffer(e *entry) {
	e.rxTimer.Start(s.clock())
	e.rxWft++
	switch {
	case s.bufferAvailable(e.conn, e.rxLen):
		e.rx = rxReceiving
		e.fcStatus = tp.FlowStatusContinueToSend
	case e.rxWft >= s.cfg.MaxWaitFrame:
		s.log.Debugf("connection %d: no buffer after %d WAIT frames", e.conn, e.rxWft)
		e.rx = rxOverflow
		e.fcStatus = tp.FlowStatusOverflow
	default:
		e.fcStatus = tp.FlowStatusWait
	}
	e.fcPending = true
}

func (s *Table) DataConfirmed(a tp.ActiveID, conn tp.ConnID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.active(a)
	if e == nil || e.conn != conn || e.tx != txInFlight {
		return
	}
	now := s.clock()

	switch e.txKind {
	case tp.KindSingle:
		s.completeTx(a, e)
		return
	case tp.KindFirst:
		e.txSeq = 1
		e.tx = txWaitFC
		e.txTimer.Start(now)
		return
	}

	e.txSeq = (e.txSeq + 1) & 0x0F
	if e.txOff >= len(e.txData) {
		s.completeTx(a, e)
		return
	}
	e.txBlock++
	if e.peerBS > 0 && e.txBlock >= int(e.peerBS) {
		e.txBlock = 0
		e.tx = txWaitFC
	} else {
		e.tx = txPending
	}
	e.txTimer.Start(now)
}

func (s *Table) completeTx(a tp.ActiveID, e *entry) {
	conn := e.conn
	s.log.Debugf("connection %d: %d bytes sent", conn, len(e.txData))
	s.resetTx(e)
	s.notifySent(conn)
	s.releaseIfIdle(a)
}

// CancelReceive withdraws the pending flow control frame of a connection
// whose transmit request was rejected. The reception is given up.
func (s *Table) CancelReceive(conn tp.ConnID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.lookup(conn)
	if !ok || s.entries[a].rx == rxIdle {
		return fmt.Errorf("connection %d is not receiving", conn)
	}
	s.resetRx(&s.entries[a])
	s.fireError(CancelledError{Direction: "receive"})
	s.releaseIfIdle(a)
	return nil
}

// CancelTransmit withdraws the pending data frame of a connection whose
// transmit request was rejected. The transmission is given up.
func (s *Table) CancelTransmit(conn tp.ConnID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.lookup(conn)
	if !ok || s.entries[a].tx == txIdle {
		return fmt.Errorf("connection %d is not transmitting", conn)
	}
	s.resetTx(&s.entries[a])
	s.fireError(CancelledError{Direction: "transmit"})
	s.releaseIfIdle(a)
	return nil
}
