package session

import (
	"fmt"

	"github.com/LoveWonYoung/frartp/tp"
)

// RxIndication handles one frame received on a channel.
func (s *Table) RxIndication(chID tp.ChannelID, frame []byte) {
	if chID < 0 || int(chID) >= len(s.topo.Channels) {
		s.fireError(UnknownConnectionError{SessionError: NewSessionError(fmt.Sprintf("frame on unknown channel %d", chID))})
		return
	}
	ch := s.topo.Channels[chID]
	pdu, err := tp.Decode(frame, ch.AddressWidth, ch.Format)
	if err != nil {
		s.fireError(fmt.Errorf("frame parse failed: %w", err))
		return
	}
	conn, ok := s.topo.FindConnection(chID, pdu.Target, pdu.Source)
	if !ok {
		s.log.Debugf("channel %d: no connection for %X <- %X, dropping %v", chID, pdu.Target, pdu.Source, pdu.Kind)
		return
	}

	s.mu.Lock()
	a, ok := s.lookup(conn)
	if ok && s.entries[a].aborting {
		s.mu.Unlock()
		return
	}
	withdraw := false
	switch pdu.Kind {
	case tp.KindSingle, tp.KindFirst:
		if !ok {
			if a, err = s.allocate(conn, ch); err != nil {
				s.mu.Unlock()
				s.fireError(err)
				return
			}
		}
		if pdu.Kind == tp.KindSingle {
			withdraw = s.handleRxSingleFrame(a, pdu)
		} else {
			s.handleRxFirstFrame(a, pdu)
		}
	case tp.KindConsecutive:
		if ok {
			withdraw = s.handleRxConsecutiveFrame(a, pdu)
		}
	case tp.KindFlowControl:
		if ok {
			s.handleTxFlowControl(a, pdu)
		}
	}
	s.mu.Unlock()

	if withdraw {
		s.withdraw([]tp.ActiveID{a})
	}
}

// endRx gives up the reception on a. A flow control frame still pending may
// already own a slot; in that case the entry stays marked until withdraw
// frees its slots, and endRx reports true.
func (s *Table) endRx(a tp.ActiveID) bool {
	e := &s.entries[a]
	dispatched := e.fcPending
	s.resetRx(e)
	if dispatched {
		e.aborting = true
		return true
	}
	s.releaseIfIdle(a)
	return false
}

func (s *Table) deliver(conn tp.ConnID, data []byte) {
	out := make([]byte, len(data))
	copy(out, data)
	s.rxQueue.Push(Message{Conn: conn, Data: out})
	s.log.Debugf("connection %d: received %d bytes", conn, len(out))
}

func (s *Table) handleRxSingleFrame(a tp.ActiveID, pdu *tp.PDU) bool {
	e := &s.entries[a]
	if e.rx != rxIdle {
		s.fireError(NewSessionError(fmt.Sprintf("connection %d: reception interrupted by a single frame", e.conn)))
	}
	s.deliver(e.conn, pdu.Data)
	return s.endRx(a)
}

func (s *Table) handleRxFirstFrame(a tp.ActiveID, pdu *tp.PDU) {
	e := &s.entries[a]
	if e.rx != rxIdle {
		s.fireError(NewSessionError(fmt.Sprintf("connection %d: reception interrupted by a first frame", e.conn)))
	}
	// a flow control frame already dispatched for the previous reception
	// goes out with the status set below
	s.resetRx(e)

	if int64(pdu.Length) > int64(s.cfg.RxBufferLimit) {
		s.log.Debugf("connection %d: refusing %d byte message", e.conn, pdu.Length)
		e.rx = rxOverflow
		e.fcStatus = tp.FlowStatusOverflow
		e.fcPending = true
		return
	}

	e.rxLen = int(pdu.Length)
	e.rxBuf = make([]byte, 0, e.rxLen)
	e.rxBuf = append(e.rxBuf, pdu.Data...)
	e.rxSeq = 1
	e.rx = rxReceiving
	e.fcStatus = tp.FlowStatusContinueToSend
	if !s.bufferAvailable(e.conn, e.rxLen) {
		e.rx = rxWaitBuffer
		e.fcStatus = tp.FlowStatusWait
	}
	e.fcPending = true
	e.rxTimer.Start(s.clock())
}

func (s *Table) handleRxConsecutiveFrame(a tp.ActiveID, pdu *tp.PDU) bool {
	e := &s.entries[a]
	if e.rx != rxReceiving {
		// Ignore unexpected CF
		return false
	}
	if pdu.Sequence != e.rxSeq {
		s.fireError(SequenceError{Expected: e.rxSeq, Got: pdu.Sequence})
		return s.endRx(a)
	}
	e.rxSeq = (e.rxSeq + 1) & 0x0F
	e.rxTimer.Start(s.clock())

	data := pdu.Data
	if want := e.rxLen - len(e.rxBuf); len(data) > want {
		data = data[:want]
	}
	e.rxBuf = append(e.rxBuf, data...)

	if len(e.rxBuf) >= e.rxLen {
		s.deliver(e.conn, e.rxBuf)
		return s.endRx(a)
	}
	e.rxBlock++
	if s.cfg.BlockSize > 0 && e.rxBlock >= int(s.cfg.BlockSize) {
		e.rxBlock = 0
		e.fcStatus = tp.FlowStatusContinueToSend
		e.fcPending = true
	}
	return false
}

func (s *Table) handleTxFlowControl(a tp.ActiveID, pdu *tp.PDU) {
	e := &s.entries[a]
	if e.tx != txWaitFC {
		// We might receive FC when we are not waiting for it.
		return
	}
	switch pdu.FlowStatus {
	case tp.FlowStatusContinueToSend:
		e.wft = 0
		e.peerBS = pdu.BlockSize
		e.txBlock = 0
		e.txKind = tp.KindConsecutive
		e.tx = txPending
		e.txTimer.Start(s.clock())

	case tp.FlowStatusWait:
		e.wft++
		if e.wft > s.cfg.MaxWaitFrame {
			s.fireError(WaitLimitError{})
			s.resetTx(e)
			s.releaseIfIdle(a)
			return
		}
		e.txTimer.Start(s.clock())

	case tp.FlowStatusOverflow:
		s.fireError(OverflowError{})
		s.resetTx(e)
		s.releaseIfIdle(a)

	default:
		s.fireError(NewSessionError(fmt.Sprintf("connection %d: unknown flow status %d", e.conn, pdu.FlowStatus)))
		s.resetTx(e)
		s.releaseIfIdle(a)
	}
}
