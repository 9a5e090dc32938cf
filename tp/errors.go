package tp

// messageOrDefault returns msg if present, otherwise fallback.
func messageOrDefault(msg, fallback string) string {
	if msg != "" {
		return msg
	}
	return fallback
}

type FrArTpError struct {
	msg string
}

func NewFrArTpError(msg string) FrArTpError {
	return FrArTpError{msg: msg}
}

func (e FrArTpError) Error() string {
	return messageOrDefault(e.msg, "FrArTp error")
}

// BufferTooSmallError is returned by the codec when the media buffer cannot
// hold the header plus at least one payload byte.
type BufferTooSmallError struct {
	FrArTpError
}

func (e BufferTooSmallError) Error() string {
	return messageOrDefault(e.msg, "frame buffer too small")
}

type PayloadCopyError struct {
	FrArTpError
	Err error
}

func (e PayloadCopyError) Error() string {
	if e.Err != nil && e.msg == "" {
		return "payload copy failed: " + e.Err.Error()
	}
	return messageOrDefault(e.msg, "payload copy failed")
}

func (e PayloadCopyError) Unwrap() error { return e.Err }

type FlowControlParamsError struct {
	FrArTpError
	Err error
}

func (e FlowControlParamsError) Error() string {
	if e.Err != nil && e.msg == "" {
		return "flow control parameters unavailable: " + e.Err.Error()
	}
	return messageOrDefault(e.msg, "flow control parameters unavailable")
}

func (e FlowControlParamsError) Unwrap() error { return e.Err }

// SlotFreeError means trigger transmit was called for a slot nobody occupies.
type SlotFreeError struct {
	FrArTpError
}

func (e SlotFreeError) Error() string {
	return messageOrDefault(e.msg, "slot is not occupied")
}

type StaleConnectionError struct {
	FrArTpError
}

func (e StaleConnectionError) Error() string {
	return messageOrDefault(e.msg, "active connection no longer exists")
}

type InvalidSlotError struct {
	FrArTpError
}

func (e InvalidSlotError) Error() string {
	return messageOrDefault(e.msg, "slot index out of range")
}

type TransmitRejectedError struct {
	FrArTpError
}

func (e TransmitRejectedError) Error() string {
	return messageOrDefault(e.msg, "transmit request rejected")
}

type InvalidTopologyError struct {
	FrArTpError
}

func (e InvalidTopologyError) Error() string {
	return messageOrDefault(e.msg, "invalid topology")
}

type DecodeError struct {
	FrArTpError
}

func (e DecodeError) Error() string {
	return messageOrDefault(e.msg, "malformed frame")
}
