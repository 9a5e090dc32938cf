package session

import (
	"fmt"
	"time"

	"github.com/LoveWonYoung/frartp/tp"
)

// Config defines the configuration for a session Table.
type Config struct {
	// MaxActive is the number of connections that may be busy at once. It
	// must match the encoder's MaxActive.
	MaxActive int

	// Parameters announced in our flow control frames.
	BlockSize uint8 // 0 means unlimited
	STmin     uint8

	// TimeoutTx bounds the wait for a confirmation or a flow control frame.
	TimeoutTx time.Duration
	// TimeoutRx bounds the wait for the next consecutive frame.
	TimeoutRx time.Duration

	// RxBufferLimit is the largest message we accept; longer first frames are
	// answered with an overflow flow control frame.
	RxBufferLimit int

	// MaxWaitFrame is how many WAIT flow control frames a sender tolerates,
	// and how many a receiver sends before refusing the message.
	MaxWaitFrame int

	// RxBufferAvailable, if set, is asked whether a message of length bytes
	// can be taken on conn. While it returns false the receiver answers with
	// WAIT. It runs under the table lock and must not call the table.
	RxBufferAvailable func(conn tp.ConnID, length int) bool
}

// DefaultConfig returns the values used by the simulator.
func DefaultConfig() Config {
	return Config{
		MaxActive: 8,

		BlockSize: 0,
		STmin:     0,

		TimeoutTx: 1000 * time.Millisecond,
		TimeoutRx: 1000 * time.Millisecond,

		RxBufferLimit: 1 << 20,
		MaxWaitFrame:  10,
	}
}

func (c *Config) Validate() error {
	if c.MaxActive <= 0 {
		return fmt.Errorf("MaxActive must be positive, got %d", c.MaxActive)
	}
	if c.TimeoutTx <= 0 || c.TimeoutRx <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	if c.RxBufferLimit <= 0 {
		return fmt.Errorf("RxBufferLimit must be positive, got %d", c.RxBufferLimit)
	}
	if c.MaxWaitFrame < 0 {
		return fmt.Errorf("MaxWaitFrame must not be negative")
	}
	return nil
}
