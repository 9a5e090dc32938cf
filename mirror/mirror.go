// Package mirror publishes a copy of every frame put on the simulated bus to
// a message broker so external tools can trace the traffic.
package mirror

import (
	"encoding/binary"
	"errors"
)

// Sink receives the frames of a bus.
type Sink interface {
	Publish(mediaID uint16, frame []byte) error
	Close() error
}

// Record is the payload published for one frame: the media ID big-endian
// followed by the frame bytes.
func Record(mediaID uint16, frame []byte) []byte {
	out := make([]byte, 2+len(frame))
	binary.BigEndian.PutUint16(out, mediaID)
	copy(out[2:], frame)
	return out
}

// ParseRecord splits a published record.
func ParseRecord(rec []byte) (uint16, []byte, error) {
	if len(rec) < 2 {
		return 0, nil, errors.New("record shorter than its media id")
	}
	return binary.BigEndian.Uint16(rec), rec[2:], nil
}

// Fanout publishes to every sink and returns the joined errors.
type Fanout []Sink

func (f Fanout) Publish(mediaID uint16, frame []byte) error {
	var errs []error
	for _, s := range f {
		if err := s.Publish(mediaID, frame); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) Close() error {
	var errs []error
	for _, s := range f {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
