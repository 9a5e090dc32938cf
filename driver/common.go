package driver

import (
	"time"

	"github.com/LoveWonYoung/frartp/tp"
)

// Encoder is the part of the transport the bus calls back into.
type Encoder interface {
	MainFunction()
	TriggerTransmit(slot tp.SlotID, buf []byte) (int, error)
	TxConfirmation(slot tp.SlotID)
}

// Receiver consumes frames routed to it, typically a session table.
type Receiver interface {
	RxIndication(ch tp.ChannelID, frame []byte)
}

// Sink mirrors the bus traffic; see package mirror.
type Sink interface {
	Publish(mediaID uint16, frame []byte) error
}

// WriteRecord records one frame put on the bus.
type WriteRecord struct {
	MediaID   uint16
	Data      []byte
	Timestamp time.Time
}

// Bus limits and defaults.
const (
	MaxFrameSize    = 255
	DefaultPeriod   = 5 * time.Millisecond
	WriteLogLimit   = 4096
	rejectAllFrames = -1
)
