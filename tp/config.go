package tp

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/getlantern/golog"
	"github.com/prometheus/client_golang/prometheus"
)

type (
	ChannelID int
	ConnID    int
	PoolID    int
	SlotID    int
	ActiveID  int
)

// HeaderFormat selects the length encoding of single and first frames.
type HeaderFormat uint8

const (
	// FormatCompact carries the SF length in the PCI nibble and a 12 bit FF length.
	FormatCompact HeaderFormat = iota
	// FormatExtended carries a full length byte for SF and a 32 bit FF length.
	FormatExtended
)

func (f HeaderFormat) String() string {
	switch f {
	case FormatCompact:
		return "compact"
	case FormatExtended:
		return "extended"
	default:
		return fmt.Sprintf("HeaderFormat(%d)", uint8(f))
	}
}

// Channel is the static description of a logical channel.
type Channel struct {
	AddressWidth int          `json:"addressWidth"` // 1 or 2 bytes per address
	PayloadSize  int          `json:"payloadSize"`  // N-PDU length including address and PCI
	Format       HeaderFormat `json:"format"`
	Pool         PoolID       `json:"pool"`
}

// Connection binds a pair of logical addresses to a channel.
type Connection struct {
	Channel       ChannelID `json:"channel"`
	LocalAddress  uint16    `json:"localAddress"`
	RemoteAddress uint16    `json:"remoteAddress"`
}

type Pool struct {
	FirstSlot SlotID `json:"firstSlot"`
	SlotCount int    `json:"slotCount"`
}

// LastSlot is the confirmation-bearing slot of the pool.
func (p Pool) LastSlot() SlotID {
	return p.FirstSlot + SlotID(p.SlotCount-1)
}

func (p Pool) contains(s SlotID) bool {
	return s >= p.FirstSlot && s <= p.LastSlot()
}

type Slot struct {
	MediaID uint16 `json:"mediaId"`
}

// Topology is the immutable configuration shared by the encoder, the
// connection state and the media binding.
type Topology struct {
	Channels    []Channel    `json:"channels"`
	Connections []Connection `json:"connections"`
	Pools       []Pool       `json:"pools"`
	Slots       []Slot       `json:"slots"`
}

// LoadTopology reads a JSON encoded topology and validates it.
func LoadTopology(r io.Reader) (*Topology, error) {
	var t Topology
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&t); err != nil {
		return nil, fmt.Errorf("decode topology: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

func topologyError(format string, args ...interface{}) error {
	return InvalidTopologyError{FrArTpError: NewFrArTpError(fmt.Sprintf(format, args...))}
}

func (t *Topology) Validate() error {
	if len(t.Pools) == 0 {
		return topologyError("no frame pool configured")
	}
	owner := make([]int, len(t.Slots))
	for i := range owner {
		owner[i] = -1
	}
	for i, p := range t.Pools {
		if p.SlotCount <= 0 {
			return topologyError("pool %d has no slots", i)
		}
		if p.FirstSlot < 0 || int(p.LastSlot()) >= len(t.Slots) {
			return topologyError("pool %d slot range [%d,%d] outside %d slots", i, p.FirstSlot, p.LastSlot(), len(t.Slots))
		}
		for s := p.FirstSlot; s <= p.LastSlot(); s++ {
			if owner[s] >= 0 {
				return topologyError("slot %d shared by pools %d and %d", s, owner[s], i)
			}
			owner[s] = i
		}
	}
	for i, ch := range t.Channels {
		if ch.AddressWidth != 1 && ch.AddressWidth != 2 {
			return topologyError("channel %d address width must be 1 or 2, got %d", i, ch.AddressWidth)
		}
		if ch.Format != FormatCompact && ch.Format != FormatExtended {
			return topologyError("channel %d has unknown header format %d", i, ch.Format)
		}
		// the largest header (FF extended) plus one payload byte must fit
		minSize := AddressHeaderLen(ch.AddressWidth) + headerLen(KindFirst, ch.Format) + 1
		if ch.PayloadSize < minSize || ch.PayloadSize > 255 {
			return topologyError("channel %d payload size %d outside [%d,255]", i, ch.PayloadSize, minSize)
		}
		if ch.Pool < 0 || int(ch.Pool) >= len(t.Pools) {
			return topologyError("channel %d references unknown pool %d", i, ch.Pool)
		}
	}
	for i, c := range t.Connections {
		if c.Channel < 0 || int(c.Channel) >= len(t.Channels) {
			return topologyError("connection %d references unknown channel %d", i, c.Channel)
		}
		if t.Channels[c.Channel].AddressWidth == 1 && (c.LocalAddress > 0xFF || c.RemoteAddress > 0xFF) {
			return topologyError("connection %d addresses exceed one byte", i)
		}
	}
	return nil
}

// ConnectionChannel returns the channel a configured connection runs on.
func (t *Topology) ConnectionChannel(conn ConnID) (Channel, bool) {
	if conn < 0 || int(conn) >= len(t.Connections) {
		return Channel{}, false
	}
	return t.Channels[t.Connections[conn].Channel], true
}

// PoolOfSlot resolves the pool a slot belongs to.
func (t *Topology) PoolOfSlot(s SlotID) (PoolID, bool) {
	for i, p := range t.Pools {
		if p.contains(s) {
			return PoolID(i), true
		}
	}
	return 0, false
}

// FindConnection locates the connection a received frame addresses. The
// frame's target must be our local address and its source our remote one.
func (t *Topology) FindConnection(ch ChannelID, target, source uint16) (ConnID, bool) {
	for i, c := range t.Connections {
		if c.Channel == ch && c.LocalAddress == target && c.RemoteAddress == source {
			return ConnID(i), true
		}
	}
	return 0, false
}

// ConfirmationSlots lists the last slot of each pool; the media must confirm
// exactly these.
func (t *Topology) ConfirmationSlots() []SlotID {
	out := make([]SlotID, 0, len(t.Pools))
	for _, p := range t.Pools {
		out = append(out, p.LastSlot())
	}
	return out
}

// Logger is the subset of golog.Logger the encoder writes to.
type Logger interface {
	Debugf(message string, args ...interface{})
	Errorf(message string, args ...interface{}) error
}

// Config defines the configuration for the Encoder.
type Config struct {
	// MaxActive is the size of the active connection table scanned each cycle.
	MaxActive int

	Topology *Topology

	// Logger defaults to golog.LoggerFor("frartp").
	Logger Logger

	// Registerer, if set, receives the encoder metrics.
	Registerer prometheus.Registerer

	// Hooks, if set, sees every media interaction first.
	Hooks Hooks
}

func DefaultConfig() Config {
	return Config{
		MaxActive: 8,
		Logger:    golog.LoggerFor("frartp"),
	}
}

func (c *Config) Validate() error {
	if c.MaxActive <= 0 {
		return topologyError("MaxActive must be positive, got %d", c.MaxActive)
	}
	if c.Topology == nil {
		return topologyError("no topology")
	}
	return c.Topology.Validate()
}
