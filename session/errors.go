package session

import "fmt"

// messageOrDefault returns msg if present, otherwise fallback.
func messageOrDefault(msg, fallback string) string {
	if msg != "" {
		return msg
	}
	return fallback
}

type SessionError struct {
	msg string
}

func NewSessionError(msg string) SessionError {
	return SessionError{msg: msg}
}

func (e SessionError) Error() string {
	return messageOrDefault(e.msg, "session error")
}

type TableFullError struct {
	SessionError
}

func (e TableFullError) Error() string {
	return messageOrDefault(e.msg, "no free active connection")
}

type BusyError struct {
	SessionError
}

func (e BusyError) Error() string {
	return messageOrDefault(e.msg, "a transmission is already in progress")
}

type MessageLengthError struct {
	SessionError
}

func (e MessageLengthError) Error() string {
	return messageOrDefault(e.msg, "message length not supported")
}

type UnknownConnectionError struct {
	SessionError
}

func (e UnknownConnectionError) Error() string {
	return messageOrDefault(e.msg, "unknown connection")
}

// TimeoutError reports an expired transmit or receive timer.
type TimeoutError struct {
	SessionError
	Direction string
}

func (e TimeoutError) Error() string {
	return messageOrDefault(e.msg, fmt.Sprintf("%s timeout", e.Direction))
}

type SequenceError struct {
	SessionError
	Expected, Got uint8
}

func (e SequenceError) Error() string {
	return messageOrDefault(e.msg, fmt.Sprintf("sequence number mismatch: expected %d, got %d", e.Expected, e.Got))
}

type OverflowError struct {
	SessionError
}

func (e OverflowError) Error() string {
	return messageOrDefault(e.msg, "receiver reported buffer overflow")
}

type WaitLimitError struct {
	SessionError
}

func (e WaitLimitError) Error() string {
	return messageOrDefault(e.msg, "too many WAIT flow control frames")
}

// CancelledError is reported when the encoder withdrew a unit of work after
// the media rejected it.
type CancelledError struct {
	SessionError
	Direction string
}

func (e CancelledError) Error() string {
	return messageOrDefault(e.msg, fmt.Sprintf("%s cancelled by the encoder", e.Direction))
}
