package driver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/getlantern/golog"

	"github.com/LoveWonYoung/frartp/tp"
)

var log = golog.LoggerFor("frartp-driver")

type route struct {
	receiver Receiver
	channel  tp.ChannelID
}

type request struct {
	mediaID uint16
	length  int
}

// Bus is a simulated FlexRay interface for one node. The encoder reserves
// slots through Transmit; Cycle then pulls every reserved frame, delivers it
// to the routed receivers and confirms the last slot of each pool.
type Bus struct {
	mu       sync.Mutex
	topo     *tp.Topology
	slotOf   map[uint16]tp.SlotID
	confirms map[tp.SlotID]bool
	encoder  Encoder
	routes   map[uint16][]route
	sink     Sink
	tasks    []func(time.Time)
	pending  []request
	reject   int
	writeLog []WriteRecord
}

func NewBus(topo *tp.Topology) *Bus {
	b := &Bus{
		topo:     topo,
		slotOf:   make(map[uint16]tp.SlotID, len(topo.Slots)),
		confirms: make(map[tp.SlotID]bool, len(topo.Pools)),
		routes:   make(map[uint16][]route),
	}
	for i, s := range topo.Slots {
		b.slotOf[s.MediaID] = tp.SlotID(i)
	}
	for _, s := range topo.ConfirmationSlots() {
		b.confirms[s] = true
	}
	return b
}

// Attach sets the encoder that owns this bus.
func (b *Bus) Attach(enc Encoder) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.encoder = enc
}

// Route delivers frames sent on mediaID to receiver as channel ch.
func (b *Bus) Route(mediaID uint16, receiver Receiver, ch tp.ChannelID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.routes[mediaID] = append(b.routes[mediaID], route{receiver: receiver, channel: ch})
}

// Mirror publishes every transmitted frame to sink.
func (b *Bus) Mirror(sink Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sink = sink
}

// Every registers fn to run at the start of each Tick.
func (b *Bus) Every(fn func(now time.Time)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tasks = append(b.tasks, fn)
}

// RejectNext makes the next n Transmit calls fail. A negative n rejects
// until RejectNext(0).
func (b *Bus) RejectNext(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n < 0 {
		n = rejectAllFrames
	}
	b.reject = n
}

// Transmit reserves the frame of mediaID for the next cycle. It does not
// call back into the encoder.
func (b *Bus) Transmit(mediaID uint16, length int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.slotOf[mediaID]; !ok {
		return fmt.Errorf("unknown media id %d", mediaID)
	}
	if b.reject != 0 {
		if b.reject > 0 {
			b.reject--
		}
		return tp.TransmitRejectedError{FrArTpError: tp.NewFrArTpError(fmt.Sprintf("media %d rejected by failure injection", mediaID))}
	}
	for _, r := range b.pending {
		if r.mediaID == mediaID {
			return fmt.Errorf("media %d already has a pending frame", mediaID)
		}
	}
	if length <= 0 || length > MaxFrameSize {
		return fmt.Errorf("media %d: invalid length %d", mediaID, length)
	}
	b.pending = append(b.pending, request{mediaID: mediaID, length: length})
	return nil
}

// Pending is the number of reserved frames not yet sent.
func (b *Bus) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Cycle sends every reserved frame in reservation order and returns how
// many were put on the bus. A confirmation slot whose frame could not be
// built is not confirmed.
func (b *Bus) Cycle() int {
	b.mu.Lock()
	queue := b.pending
	b.pending = nil
	enc := b.encoder
	sink := b.sink
	b.mu.Unlock()

	if enc == nil || len(queue) == 0 {
		return 0
	}

	var confirm []tp.SlotID
	sent := 0
	buf := make([]byte, MaxFrameSize)
	for _, req := range queue {
		slot := b.slotOf[req.mediaID]
		n, err := enc.TriggerTransmit(slot, buf[:req.length])
		if err != nil {
			log.Debugf("media %d: nothing to send: %v", req.mediaID, err)
			continue
		}
		frame := make([]byte, n)
		copy(frame, buf[:n])
		sent++
		log.Debugf("TX media=%d len=%02d data=% 02X", req.mediaID, n, frame)

		b.record(req.mediaID, frame)
		for _, r := range b.routesFor(req.mediaID) {
			r.receiver.RxIndication(r.channel, frame)
		}
		if sink != nil {
			if err := sink.Publish(req.mediaID, frame); err != nil {
				log.Errorf("mirror media %d: %v", req.mediaID, err)
			}
		}
		if b.confirms[slot] {
			confirm = append(confirm, slot)
		}
	}
	for _, slot := range confirm {
		enc.TxConfirmation(slot)
	}
	return sent
}

// Tick runs the registered tasks, one scheduling cycle of the encoder and
// one bus cycle.
func (b *Bus) Tick(now time.Time) {
	b.mu.Lock()
	tasks := append([]func(time.Time){}, b.tasks...)
	enc := b.encoder
	b.mu.Unlock()

	for _, fn := range tasks {
		fn(now)
	}
	if enc != nil {
		enc.MainFunction()
	}
	b.Cycle()
}

// Run ticks the bus every period until ctx is done.
func (b *Bus) Run(ctx context.Context, period time.Duration) {
	if period <= 0 {
		period = DefaultPeriod
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			b.Tick(now)
		}
	}
}

func (b *Bus) routesFor(mediaID uint16) []route {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]route(nil), b.routes[mediaID]...)
}

func (b *Bus) record(mediaID uint16, frame []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.writeLog) >= WriteLogLimit {
		b.writeLog = b.writeLog[1:]
	}
	b.writeLog = append(b.writeLog, WriteRecord{MediaID: mediaID, Data: frame, Timestamp: time.Now()})
}

// GetWriteLog returns a copy of the frames put on the bus, oldest first.
func (b *Bus) GetWriteLog() []WriteRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]WriteRecord{}, b.writeLog...)
}

// ClearWriteLog drops the recorded frames.
func (b *Bus) ClearWriteLog() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writeLog = nil
}
