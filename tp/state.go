package tp

// Segment describes what the connection state copied into a data frame.
type Segment struct {
	// Copied is the number of payload bytes placed in the frame.
	Copied int
	// Total is the message length announced by single and first frames.
	Total uint32
	// Sequence is the consecutive frame sequence number (low 4 bits used).
	Sequence uint8
}

// FlowControl holds the parameters of a pending flow control frame.
type FlowControl struct {
	Status    FlowStatus
	BlockSize uint8
	STmin     uint8
}

// ConnectionState is the per-connection state machine the encoder serves.
// It owns the active connection table; the encoder only reads it and reports
// back. Implementations must not call back into the encoder from
// CancelReceive or CancelTransmit.
type ConnectionState interface {
	// Connection maps an active handle to its configured connection. ok is
	// false when the handle is not active.
	Connection(active ActiveID) (conn ConnID, ok bool)
	FlowControlPending(active ActiveID) bool
	DataPending(active ActiveID) bool
	SegmentKind(active ActiveID) SegmentKind
	// CopyPayload fills dst with the next bytes of the message.
	CopyPayload(active ActiveID, conn ConnID, dst []byte) (Segment, error)
	CopyFlowControl(active ActiveID) (FlowControl, error)
	FlowControlConfirmed(active ActiveID)
	DataConfirmed(active ActiveID, conn ConnID)
	CancelReceive(conn ConnID) error
	CancelTransmit(conn ConnID) error
}

// Media is the bus interface that physically sends frames. Transmit only
// reserves the slot; the media later pulls the frame through
// Encoder.TriggerTransmit and reports completion through
// Encoder.TxConfirmation, never from inside Transmit.
type Media interface {
	Transmit(mediaID uint16, length int) error
}

// Hooks lets a platform binding intercept media interaction. A nil error
// from Transmit lets the request through; handled == true from the other
// two skips the encoder's own processing.
type Hooks interface {
	Transmit(mediaID uint16, length int) error
	TriggerTransmit(slot SlotID, buf []byte) (n int, handled bool, err error)
	TxConfirmation(slot SlotID) (handled bool)
}
