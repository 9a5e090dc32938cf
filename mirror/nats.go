package mirror

import (
	"fmt"

	"github.com/nats-io/nats.go"
)

// NATSSink publishes each frame on subject <prefix>.<mediaID>.
type NATSSink struct {
	nc     *nats.Conn
	prefix string
}

func NewNATSSink(url, prefix string) (*NATSSink, error) {
	nc, err := nats.Connect(url, nats.Name("frartp-mirror"))
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return &NATSSink{nc: nc, prefix: prefix}, nil
}

func NATSSubject(prefix string, mediaID uint16) string {
	return fmt.Sprintf("%s.%d", prefix, mediaID)
}

func (s *NATSSink) Publish(mediaID uint16, frame []byte) error {
	return s.nc.Publish(NATSSubject(s.prefix, mediaID), Record(mediaID, frame))
}

func (s *NATSSink) Close() error {
	return s.nc.Drain()
}
