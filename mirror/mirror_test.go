package mirror

import (
	"bytes"
	"errors"
	"testing"
)

func TestRecordLayout(t *testing.T) {
	rec := Record(0x1234, []byte{0xAA, 0xBB})
	if !bytes.Equal(rec, []byte{0x12, 0x34, 0xAA, 0xBB}) {
		t.Fatalf("unexpected record % X", rec)
	}
	id, frame, err := ParseRecord(rec)
	if err != nil || id != 0x1234 || !bytes.Equal(frame, []byte{0xAA, 0xBB}) {
		t.Fatalf("ParseRecord: id=%X frame=% X err=%v", id, frame, err)
	}
	if _, _, err := ParseRecord([]byte{1}); err == nil {
		t.Fatal("expected an error for a truncated record")
	}
}

func TestSubjectAndTopic(t *testing.T) {
	if got := NATSSubject("frartp.bus", 7); got != "frartp.bus.7" {
		t.Fatalf("unexpected subject %q", got)
	}
	if got := MQTTTopic("frartp/bus", 7); got != "frartp/bus/7" {
		t.Fatalf("unexpected topic %q", got)
	}
}

type memorySink struct {
	records [][]byte
	err     error
	closed  bool
}

func (m *memorySink) Publish(mediaID uint16, frame []byte) error {
	m.records = append(m.records, Record(mediaID, frame))
	return m.err
}

func (m *memorySink) Close() error {
	m.closed = true
	return nil
}

func TestFanout(t *testing.T) {
	boom := errors.New("broker down")
	a, b := &memorySink{}, &memorySink{err: boom}
	f := Fanout{a, b}

	if err := f.Publish(3, []byte{1}); !errors.Is(err, boom) {
		t.Fatalf("expected the failing sink's error, got %v", err)
	}
	if len(a.records) != 1 || len(b.records) != 1 {
		t.Fatalf("expected every sink to receive the frame")
	}
	if err := f.Close(); err != nil || !a.closed || !b.closed {
		t.Fatalf("expected every sink closed, err=%v", err)
	}
}
