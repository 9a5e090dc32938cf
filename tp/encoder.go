package tp

import (
	"fmt"
	"sync"
)

// PendingRequest is what one active connection asks of a pool in a single
// scheduling cycle.
type PendingRequest struct {
	Active      ActiveID
	FlowControl int // 0 or 1
	Data        int // 0 or 1
	PayloadSize int
}

func (r PendingRequest) units() int {
	return r.FlowControl + r.Data
}

type poolRunner struct {
	mu    sync.Mutex
	sched *Scheduler
}

// Encoder multiplexes the active connections onto the transmit slots of
// every frame pool and serializes their frames on demand of the media.
type Encoder struct {
	topo      *Topology
	state     ConnectionState
	media     Media
	hooks     Hooks
	log       Logger
	metrics   *Metrics
	admission *AdmissionTable
	pools     []*poolRunner
}

func New(cfg Config, state ConnectionState, media Media) (*Encoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if state == nil || media == nil {
		return nil, NewFrArTpError("encoder needs a connection state and a media")
	}
	log := cfg.Logger
	if log == nil {
		log = DefaultConfig().Logger
	}
	e := &Encoder{
		topo:      cfg.Topology,
		state:     state,
		media:     media,
		hooks:     cfg.Hooks,
		log:       log,
		metrics:   NewMetrics(cfg.Registerer),
		admission: NewAdmissionTable(len(cfg.Topology.Slots)),
		pools:     make([]*poolRunner, len(cfg.Topology.Pools)),
	}
	for i := range e.pools {
		e.pools[i] = &poolRunner{sched: NewScheduler(cfg.MaxActive)}
	}
	return e, nil
}

// Topology returns the configuration the encoder was built with.
func (e *Encoder) Topology() *Topology {
	return e.topo
}

// Owner exposes the admission entry of a slot.
func (e *Encoder) Owner(s SlotID) (ActiveID, Role, bool) {
	if s < 0 || int(s) >= e.admission.Len() {
		return 0, RoleData, false
	}
	return e.admission.Owner(s)
}

// Cursor returns the round-robin cursor of a pool. ok is false for an
// unknown pool.
func (e *Encoder) Cursor(p PoolID) (ActiveID, bool) {
	if p < 0 || int(p) >= len(e.pools) {
		return 0, false
	}
	r := e.pools[p]
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sched.Peek(), true
}

// MainFunction runs one scheduling cycle over every pool. A pool whose
// previous round is still unconfirmed is skipped.
func (e *Encoder) MainFunction() {
	for i := range e.pools {
		e.schedule(PoolID(i))
	}
}

func (e *Encoder) schedule(p PoolID) {
	r := e.pools[p]
	r.mu.Lock()
	defer r.mu.Unlock()

	pool := e.topo.Pools[p]
	if _, _, busy := e.admission.Owner(pool.LastSlot()); busy {
		return
	}
	total, reqs := e.collect(p)
	if total == 0 {
		return
	}
	e.dispatch(p, total, reqs)
}

// collect scans the active connections of pool p once, starting right
// after the cursor. Must be called with the pool lock held.
func (e *Encoder) collect(p PoolID) (int, []PendingRequest) {
	pool := e.topo.Pools[p]
	sched := e.pools[p].sched
	total := 0
	var reqs []PendingRequest

	sched.Visit(func(a ActiveID) {
		conn, ok := e.state.Connection(a)
		if !ok {
			return
		}
		ch, ok := e.topo.ConnectionChannel(conn)
		if !ok || ch.Pool != p {
			return
		}
		req := PendingRequest{Active: a, PayloadSize: ch.PayloadSize}
		if e.state.FlowControlPending(a) {
			req.FlowControl = 1
		}
		// data only when a slot remains besides the flow control frame
		if e.state.DataPending(a) && req.FlowControl < pool.SlotCount {
			req.Data = 1
		}
		if req.units() == 0 {
			return
		}
		reqs = append(reqs, req)
		total += req.units()
		sched.Advance(a)
	})
	return total, reqs
}

// dispatch hands the tail of the pool's slot range to the collected requests
// round-robin. Must be called with the pool lock held.
func (e *Encoder) dispatch(p PoolID, total int, reqs []PendingRequest) {
	pool := e.topo.Pools[p]
	n := total
	if n > pool.SlotCount {
		n = pool.SlotCount
	}
	first := pool.LastSlot() - SlotID(n) + 1
	label := poolLabel(p)

	next := 0
	for s := first; s <= pool.LastSlot(); s++ {
		// skip requests whose units were already handed out
		for i := 0; i < len(reqs) && reqs[next].units() == 0; i++ {
			next = (next + 1) % len(reqs)
		}
		req := &reqs[next]
		next = (next + 1) % len(reqs)
		if req.units() == 0 {
			break
		}

		role := RoleData
		if req.FlowControl > 0 {
			role = RoleFlowControl
			req.FlowControl--
		} else {
			req.Data--
		}

		err := e.transmit(s, req.PayloadSize)
		if err == nil {
			e.admission.Occupy(s, req.Active, role)
			e.metrics.Dispatched.WithLabelValues(label, role.String()).Inc()
			e.log.Debugf("pool %d slot %d -> active %d (%v)", p, s, req.Active, role)
			continue
		}

		e.metrics.Rejected.WithLabelValues(label).Inc()
		e.log.Errorf("pool %d slot %d transmit for active %d rejected: %v", p, s, req.Active, err)
		e.withdraw(req.Active, role)

		if s == pool.LastSlot() {
			// the round will never be confirmed
			for r := first; r < s; r++ {
				e.admission.Free(r)
			}
			e.metrics.Rollbacks.WithLabelValues(label).Inc()
			e.log.Debugf("pool %d round [%d,%d] rolled back", p, first, s)
		}
	}
}

func (e *Encoder) transmit(s SlotID, length int) error {
	mediaID := e.topo.Slots[s].MediaID
	if e.hooks != nil {
		if err := e.hooks.Transmit(mediaID, length); err != nil {
			return err
		}
	}
	return e.media.Transmit(mediaID, length)
}

// withdraw gives one unit of a rejected request back to the connection state.
func (e *Encoder) withdraw(a ActiveID, role Role) {
	conn, ok := e.state.Connection(a)
	if !ok {
		return
	}
	var err error
	if role == RoleFlowControl {
		err = e.state.CancelReceive(conn)
	} else {
		err = e.state.CancelTransmit(conn)
	}
	if err != nil {
		e.log.Debugf("cancel %v for connection %d: %v", role, conn, err)
	}
}

// TriggerTransmit serializes the frame occupying slot into buf and returns
// its length. It is called by the media right before the physical send and
// only reads the admission table, so it never blocks on the scheduler.
func (e *Encoder) TriggerTransmit(slot SlotID, buf []byte) (int, error) {
	if e.hooks != nil {
		if n, handled, err := e.hooks.TriggerTransmit(slot, buf); handled {
			return n, err
		}
	}
	p, ok := e.topo.PoolOfSlot(slot)
	if !ok {
		return 0, InvalidSlotError{FrArTpError: NewFrArTpError(fmt.Sprintf("slot %d is not in any pool", slot))}
	}
	n, reason, err := e.encode(slot, buf)
	if err != nil {
		e.metrics.EncodeFailures.WithLabelValues(poolLabel(p), reason).Inc()
		e.log.Errorf("slot %d encode failed: %v", slot, err)
		return 0, err
	}
	return n, nil
}

func (e *Encoder) encode(slot SlotID, buf []byte) (int, string, error) {
	active, role, ok := e.admission.Owner(slot)
	if !ok {
		return 0, "free", SlotFreeError{}
	}
	conn, ok := e.state.Connection(active)
	if !ok {
		return 0, "stale", StaleConnectionError{}
	}
	ch, ok := e.topo.ConnectionChannel(conn)
	if !ok {
		return 0, "stale", StaleConnectionError{FrArTpError: NewFrArTpError(fmt.Sprintf("connection %d is not configured", conn))}
	}
	c := e.topo.Connections[conn]
	if role == RoleFlowControl {
		n, err := e.encodeFlowControl(active, ch, c, buf)
		return n, failureReason(err), err
	}
	n, err := e.encodeData(active, conn, ch, c, buf)
	return n, failureReason(err), err
}

func failureReason(err error) string {
	switch err.(type) {
	case nil:
		return ""
	case BufferTooSmallError:
		return "buffer"
	case FlowControlParamsError:
		return "flow_control"
	default:
		return "copy"
	}
}

func (e *Encoder) encodeFlowControl(active ActiveID, ch Channel, c Connection, buf []byte) (int, error) {
	addrLen := AddressHeaderLen(ch.AddressWidth)
	size := addrLen + pciLenFlowControl
	if len(buf) < size {
		return 0, BufferTooSmallError{FrArTpError: NewFrArTpError(fmt.Sprintf("flow control frame needs %d bytes, buffer has %d", size, len(buf)))}
	}
	fc, err := e.state.CopyFlowControl(active)
	if err != nil {
		return 0, FlowControlParamsError{Err: err}
	}
	writeAddress(buf, ch.AddressWidth, c)
	writeFlowControl(buf[addrLen:], fc)
	return size, nil
}

func (e *Encoder) encodeData(active ActiveID, conn ConnID, ch Channel, c Connection, buf []byte) (int, error) {
	addrLen := AddressHeaderLen(ch.AddressWidth)
	kind := e.state.SegmentKind(active)
	offset := addrLen + headerLen(kind, ch.Format)
	if len(buf) <= offset {
		return 0, BufferTooSmallError{FrArTpError: NewFrArTpError(fmt.Sprintf("%v needs more than %d bytes, buffer has %d", kind, offset, len(buf)))}
	}
	room := ch.PayloadSize - offset
	if avail := len(buf) - offset; avail < room {
		room = avail
	}
	seg, err := e.state.CopyPayload(active, conn, buf[offset:offset+room])
	if err != nil {
		return 0, PayloadCopyError{Err: err}
	}
	if seg.Copied < 0 || seg.Copied > room {
		return 0, PayloadCopyError{FrArTpError: NewFrArTpError(fmt.Sprintf("copied %d bytes into a %d byte window", seg.Copied, room))}
	}
	writeAddress(buf, ch.AddressWidth, c)
	writePCI(buf[addrLen:], kind, ch.Format, seg)
	return offset + seg.Copied, nil
}

// TxConfirmation reports the physical completion of slot. One confirmation
// settles every occupied slot of the pool.
func (e *Encoder) TxConfirmation(slot SlotID) {
	if e.hooks != nil && e.hooks.TxConfirmation(slot) {
		return
	}
	p, ok := e.topo.PoolOfSlot(slot)
	if !ok {
		e.log.Errorf("confirmation for slot %d outside every pool", slot)
		return
	}
	r := e.pools[p]
	r.mu.Lock()
	defer r.mu.Unlock()

	pool := e.topo.Pools[p]
	label := poolLabel(p)
	for s := pool.FirstSlot; s <= pool.LastSlot(); s++ {
		active, role, ok := e.admission.Take(s)
		if !ok {
			continue
		}
		conn, ok := e.state.Connection(active)
		if !ok {
			continue
		}
		if role == RoleFlowControl {
			e.state.FlowControlConfirmed(active)
		} else {
			e.state.DataConfirmed(active, conn)
		}
		e.metrics.Confirmations.WithLabelValues(label, role.String()).Inc()
	}
}

// CancelConnection withdraws the slots held by an active connection. If it
// holds the last slot of its pool the whole round is released. Calling it
// again is a no-op. The media is never told.
func (e *Encoder) CancelConnection(active ActiveID) {
	if conn, ok := e.state.Connection(active); ok {
		if ch, ok := e.topo.ConnectionChannel(conn); ok {
			e.cancelIn(ch.Pool, active)
			return
		}
	}
	// no longer mapped: look for it everywhere
	for i := range e.pools {
		e.cancelIn(PoolID(i), active)
	}
}

func (e *Encoder) cancelIn(p PoolID, active ActiveID) {
	r := e.pools[p]
	r.mu.Lock()
	defer r.mu.Unlock()

	pool := e.topo.Pools[p]
	all := false
	if owner, _, ok := e.admission.Owner(pool.LastSlot()); ok && owner == active {
		all = true
	}
	freed := 0
	for s := pool.FirstSlot; s <= pool.LastSlot(); s++ {
		owner, _, ok := e.admission.Owner(s)
		if !ok || (!all && owner != active) {
			continue
		}
		e.admission.Free(s)
		freed++
	}
	if freed > 0 {
		e.metrics.Cancelled.WithLabelValues(poolLabel(p)).Add(float64(freed))
		e.log.Debugf("active %d cancelled, %d slots of pool %d released", active, freed, p)
	}
}
