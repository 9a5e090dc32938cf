package tp

import (
	"encoding/binary"
	"fmt"
)

// SegmentKind classifies a data frame within a message.
type SegmentKind uint8

const (
	KindSingle SegmentKind = iota
	KindFirst
	KindConsecutive
	KindFlowControl
)

func (k SegmentKind) String() string {
	switch k {
	case KindSingle:
		return "SINGLE_FRAME"
	case KindFirst:
		return "FIRST_FRAME"
	case KindConsecutive:
		return "CONSECUTIVE_FRAME"
	case KindFlowControl:
		return "FLOW_CONTROL"
	default:
		return "[None]"
	}
}

type FlowStatus uint8

const (
	FlowStatusContinueToSend FlowStatus = 0x0
	FlowStatusWait           FlowStatus = 0x1
	FlowStatusOverflow       FlowStatus = 0x2
)

// Role is what an occupied slot carries.
type Role uint8

const (
	RoleData Role = iota
	RoleFlowControl
)

func (r Role) String() string {
	if r == RoleFlowControl {
		return "flow_control"
	}
	return "data"
}

const (
	pciLenSingle         = 1
	pciLenSingleExtended = 2
	pciLenFirst          = 2
	pciLenFirstExtended  = 5
	pciLenConsecutive    = 1
	pciLenFlowControl    = 3

	fcOffsetBlockSize = 1
	fcOffsetSTmin     = 2

	maxCompactSingleLen = 0x0F
	maxCompactFirstLen  = 0x0FFF
	defaultSTmin        = 0x7F
)

// headerLen is the PCI length (including length fields) for a kind/format.
func headerLen(kind SegmentKind, format HeaderFormat) int {
	switch kind {
	case KindSingle:
		if format == FormatExtended {
			return pciLenSingleExtended
		}
		return pciLenSingle
	case KindFirst:
		if format == FormatExtended {
			return pciLenFirstExtended
		}
		return pciLenFirst
	case KindFlowControl:
		return pciLenFlowControl
	default:
		return pciLenConsecutive
	}
}

// PayloadCapacity is how many user bytes one frame of the given kind carries
// on a channel.
func PayloadCapacity(ch Channel, kind SegmentKind) int {
	return ch.PayloadSize - AddressHeaderLen(ch.AddressWidth) - headerLen(kind, ch.Format)
}

// writePCI fills the PCI and length fields at buf[0:] for a data frame.
func writePCI(buf []byte, kind SegmentKind, format HeaderFormat, seg Segment) {
	pci := byte(kind) << 4
	switch kind {
	case KindSingle:
		if format == FormatExtended {
			buf[1] = byte(seg.Total)
		} else {
			pci |= byte(seg.Total) & 0x0F
		}
	case KindFirst:
		if format == FormatExtended {
			binary.BigEndian.PutUint32(buf[1:5], seg.Total)
		} else {
			pci |= byte(seg.Total>>8) & 0x0F
			buf[1] = byte(seg.Total)
		}
	default:
		pci |= seg.Sequence & 0x0F
	}
	buf[0] = pci
}

func writeFlowControl(buf []byte, fc FlowControl) {
	buf[0] = byte(KindFlowControl)<<4 | byte(fc.Status)&0x0F
	buf[fcOffsetBlockSize] = fc.BlockSize
	buf[fcOffsetSTmin] = fc.STmin
}

// PDU is a decoded FlexRay ISO transport frame.
type PDU struct {
	Target     uint16
	Source     uint16
	Kind       SegmentKind
	Length     uint32 // SF/FF only
	Sequence   uint8  // CF only
	FlowStatus FlowStatus
	BlockSize  uint8
	STmin      uint8
	Data       []byte
}

func decodeError(format string, args ...interface{}) error {
	return DecodeError{FrArTpError: NewFrArTpError(fmt.Sprintf(format, args...))}
}

// Decode parses a frame received on a channel with the given address width
// and header format. Data aliases frame.
func Decode(frame []byte, addressWidth int, format HeaderFormat) (*PDU, error) {
	pciOffset := AddressHeaderLen(addressWidth)
	if len(frame) <= pciOffset {
		return nil, decodeError("frame of %d bytes has no PCI", len(frame))
	}
	p := &PDU{}
	p.Target, p.Source = readAddress(frame, addressWidth)

	msg := frame[pciOffset:]
	kind := SegmentKind(msg[0] >> 4)
	low := msg[0] & 0x0F
	p.Kind = kind

	switch kind {
	case KindSingle:
		if format == FormatExtended {
			if len(msg) < pciLenSingleExtended {
				return nil, decodeError("extended single frame needs %d PCI bytes", pciLenSingleExtended)
			}
			if low != 0 {
				return nil, decodeError("extended single frame reserved nibble is 0x%X", low)
			}
			p.Length = uint32(msg[1])
			msg = msg[pciLenSingleExtended:]
		} else {
			p.Length = uint32(low)
			msg = msg[pciLenSingle:]
		}
		if p.Length == 0 {
			return nil, decodeError("single frame with length of 0 bytes")
		}
		if int(p.Length) > len(msg) {
			return nil, decodeError("single frame length %d exceeds payload %d", p.Length, len(msg))
		}
		p.Data = msg[:p.Length]

	case KindFirst:
		var hdr int
		if format == FormatExtended {
			if len(msg) < pciLenFirstExtended {
				return nil, decodeError("extended first frame needs %d PCI bytes", pciLenFirstExtended)
			}
			if low != 0 {
				return nil, decodeError("extended first frame reserved nibble is 0x%X", low)
			}
			p.Length = binary.BigEndian.Uint32(msg[1:5])
			hdr = pciLenFirstExtended
		} else {
			if len(msg) < pciLenFirst {
				return nil, decodeError("first frame needs %d PCI bytes", pciLenFirst)
			}
			p.Length = uint32(low)<<8 | uint32(msg[1])
			hdr = pciLenFirst
		}
		msg = msg[hdr:]
		// a first frame must announce more than it carries
		if int64(p.Length) <= int64(len(msg)) {
			return nil, decodeError("first frame length %d fits in a single frame", p.Length)
		}
		p.Data = msg

	case KindConsecutive:
		p.Sequence = low
		p.Data = msg[pciLenConsecutive:]

	case KindFlowControl:
		if len(msg) < pciLenFlowControl {
			return nil, decodeError("flow control frame needs %d bytes", pciLenFlowControl)
		}
		p.FlowStatus = FlowStatus(low)
		p.BlockSize = msg[fcOffsetBlockSize]
		p.STmin = msg[fcOffsetSTmin]
		if (p.STmin >= 0x80 && p.STmin <= 0xF0) || p.STmin >= 0xFA {
			p.STmin = defaultSTmin
		}

	default:
		return nil, decodeError("received message with unknown frame type %d", kind)
	}
	return p, nil
}
