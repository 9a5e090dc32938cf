package tp

import "sync/atomic"

const (
	entryOccupied    uint32 = 1 << 31
	entryFlowControl uint32 = 1 << 30
	entryOwnerMask   uint32 = entryFlowControl - 1
)

// AdmissionTable maps every physical transmit slot to the active connection
// and role it currently carries. Each entry is a single atomic word so the
// media callbacks can read it without taking the pool lock.
type AdmissionTable struct {
	entries []atomic.Uint32
}

func NewAdmissionTable(slots int) *AdmissionTable {
	return &AdmissionTable{entries: make([]atomic.Uint32, slots)}
}

func (a *AdmissionTable) Len() int {
	return len(a.entries)
}

// Owner reports who occupies slot s. ok is false for a free slot.
func (a *AdmissionTable) Owner(s SlotID) (active ActiveID, role Role, ok bool) {
	v := a.entries[s].Load()
	if v&entryOccupied == 0 {
		return 0, RoleData, false
	}
	role = RoleData
	if v&entryFlowControl != 0 {
		role = RoleFlowControl
	}
	return ActiveID(v & entryOwnerMask), role, true
}

func (a *AdmissionTable) Occupy(s SlotID, active ActiveID, role Role) {
	v := entryOccupied | uint32(active)&entryOwnerMask
	if role == RoleFlowControl {
		v |= entryFlowControl
	}
	a.entries[s].Store(v)
}

func (a *AdmissionTable) Free(s SlotID) {
	a.entries[s].Store(0)
}

// Take frees slot s and returns what it held.
func (a *AdmissionTable) Take(s SlotID) (active ActiveID, role Role, ok bool) {
	v := a.entries[s].Swap(0)
	if v&entryOccupied == 0 {
		return 0, RoleData, false
	}
	role = RoleData
	if v&entryFlowControl != 0 {
		role = RoleFlowControl
	}
	return ActiveID(v & entryOwnerMask), role, true
}

// Occupied counts the occupied slots in [first, last].
func (a *AdmissionTable) Occupied(first, last SlotID) int {
	n := 0
	for s := first; s <= last; s++ {
		if a.entries[s].Load()&entryOccupied != 0 {
			n++
		}
	}
	return n
}
