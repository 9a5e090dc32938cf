package tp

import (
	"bytes"
	"errors"
	"testing"
)

func seq(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(0xA0 + i)
	}
	return b
}

func TestEncodeFrameKinds(t *testing.T) {
	cases := []struct {
		name string
		ch   Channel
		conn *fakeConn
		want []byte
	}{
		{
			name: "single compact",
			ch:   Channel{AddressWidth: 1, PayloadSize: 8, Format: FormatCompact},
			conn: &fakeConn{data: true, kind: KindSingle, payload: seq(3)},
			want: []byte{0x20, 0x10, 0x03, 0xA0, 0xA1, 0xA2},
		},
		{
			name: "single extended two byte address",
			ch:   Channel{AddressWidth: 2, PayloadSize: 12, Format: FormatExtended},
			conn: &fakeConn{data: true, kind: KindSingle, payload: seq(3)},
			want: []byte{0x00, 0x20, 0x00, 0x10, 0x00, 0x03, 0xA0, 0xA1, 0xA2},
		},
		{
			name: "first compact",
			ch:   Channel{AddressWidth: 1, PayloadSize: 8, Format: FormatCompact},
			conn: &fakeConn{data: true, kind: KindFirst, payload: seq(10), total: 0x123},
			want: []byte{0x20, 0x10, 0x11, 0x23, 0xA0, 0xA1, 0xA2, 0xA3},
		},
		{
			name: "first extended",
			ch:   Channel{AddressWidth: 1, PayloadSize: 12, Format: FormatExtended},
			conn: &fakeConn{data: true, kind: KindFirst, payload: seq(10), total: 0x10000},
			want: []byte{0x20, 0x10, 0x10, 0x00, 0x01, 0x00, 0x00, 0xA0, 0xA1, 0xA2, 0xA3, 0xA4},
		},
		{
			name: "consecutive",
			ch:   Channel{AddressWidth: 1, PayloadSize: 8, Format: FormatExtended},
			conn: &fakeConn{data: true, kind: KindConsecutive, payload: seq(2), seq: 0x13},
			want: []byte{0x20, 0x10, 0x23, 0xA0, 0xA1},
		},
		{
			name: "flow control",
			ch:   Channel{AddressWidth: 2, PayloadSize: 16, Format: FormatCompact},
			conn: &fakeConn{fc: true, fcParams: FlowControl{Status: FlowStatusWait, BlockSize: 8, STmin: 0x14}},
			want: []byte{0x00, 0x20, 0x00, 0x10, 0x31, 0x08, 0x14},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			topo := testTopology(1, 1)
			topo.Channels[0] = tc.ch
			state := newRecordingState()
			e := newTestEncoder(topo, state, newRecordingMedia())
			state.set(0, tc.conn)
			e.MainFunction()

			buf := make([]byte, 64)
			n, err := e.TriggerTransmit(0, buf)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !bytes.Equal(buf[:n], tc.want) {
				t.Fatalf("got % X, want % X", buf[:n], tc.want)
			}
			if n > tc.ch.PayloadSize {
				t.Fatalf("frame of %d bytes exceeds payload size %d", n, tc.ch.PayloadSize)
			}
		})
	}
}

func TestPayloadCapacity(t *testing.T) {
	compact := Channel{AddressWidth: 1, PayloadSize: 8, Format: FormatCompact}
	extended := Channel{AddressWidth: 2, PayloadSize: 64, Format: FormatExtended}

	cases := []struct {
		ch   Channel
		kind SegmentKind
		want int
	}{
		{compact, KindSingle, 5},
		{compact, KindFirst, 4},
		{compact, KindConsecutive, 5},
		{extended, KindSingle, 58},
		{extended, KindFirst, 55},
		{extended, KindConsecutive, 59},
	}
	for _, tc := range cases {
		if got := PayloadCapacity(tc.ch, tc.kind); got != tc.want {
			t.Errorf("%v/%v: expected %d, got %d", tc.ch.Format, tc.kind, tc.want, got)
		}
	}
}

func TestDecodeSingleFrame(t *testing.T) {
	pdu, err := Decode([]byte{0x10, 0x20, 0x03, 1, 2, 3, 0xCC}, 1, FormatCompact)
	if err != nil {
		t.Fatalf("unexpected error parsing PDU: %v", err)
	}
	if pdu.Kind != KindSingle || pdu.Length != 3 {
		t.Fatalf("expected SINGLE_FRAME of 3 bytes, got %v/%d", pdu.Kind, pdu.Length)
	}
	if pdu.Target != 0x10 || pdu.Source != 0x20 {
		t.Fatalf("unexpected addresses %X/%X", pdu.Target, pdu.Source)
	}
	if !bytes.Equal(pdu.Data, []byte{1, 2, 3}) {
		t.Fatalf("unexpected data: %v", pdu.Data)
	}
}

func TestDecodeFirstFrameExtended(t *testing.T) {
	frame := []byte{0x00, 0x10, 0x00, 0x20, 0x10, 0x00, 0x00, 0x01, 0x00, 0xAA, 0xBB}
	pdu, err := Decode(frame, 2, FormatExtended)
	if err != nil {
		t.Fatalf("unexpected error parsing first frame: %v", err)
	}
	if pdu.Kind != KindFirst || pdu.Length != 256 {
		t.Fatalf("expected FIRST_FRAME of 256 bytes, got %v/%d", pdu.Kind, pdu.Length)
	}
	if !bytes.Equal(pdu.Data, []byte{0xAA, 0xBB}) {
		t.Fatalf("unexpected payload bytes: %v", pdu.Data)
	}
}

func TestDecodeFlowControlSTmin(t *testing.T) {
	cases := []struct {
		in, want byte
	}{
		{0x00, 0x00},
		{0x7F, 0x7F},
		{0x80, 0x7F},
		{0xF0, 0x7F},
		{0xF1, 0xF1},
		{0xF9, 0xF9},
		{0xFA, 0x7F},
		{0xFF, 0x7F},
	}
	for _, tc := range cases {
		pdu, err := Decode([]byte{0x10, 0x20, 0x30, 0x04, tc.in}, 1, FormatCompact)
		if err != nil {
			t.Fatalf("STmin 0x%02X: %v", tc.in, err)
		}
		if pdu.STmin != tc.want || pdu.BlockSize != 4 || pdu.FlowStatus != FlowStatusContinueToSend {
			t.Fatalf("STmin 0x%02X: got %+v", tc.in, pdu)
		}
	}
}

func TestDecodeRejectsMalformedFrames(t *testing.T) {
	cases := []struct {
		name   string
		frame  []byte
		format HeaderFormat
	}{
		{"address only", []byte{0x10, 0x20}, FormatCompact},
		{"single zero length", []byte{0x10, 0x20, 0x00, 0x01}, FormatCompact},
		{"single longer than frame", []byte{0x10, 0x20, 0x05, 1, 2}, FormatCompact},
		{"extended single reserved nibble", []byte{0x10, 0x20, 0x01, 0x01, 0xAA}, FormatExtended},
		{"extended single truncated", []byte{0x10, 0x20, 0x00}, FormatExtended},
		{"first truncated", []byte{0x10, 0x20, 0x10}, FormatCompact},
		{"first fits single", []byte{0x10, 0x20, 0x10, 0x02, 1, 2}, FormatCompact},
		{"extended first reserved nibble", []byte{0x10, 0x20, 0x12, 0, 0, 1, 0, 1}, FormatExtended},
		{"flow control truncated", []byte{0x10, 0x20, 0x30, 0x00}, FormatCompact},
		{"unknown kind", []byte{0x10, 0x20, 0x40, 0x00}, FormatCompact},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(tc.frame, 1, tc.format)
			var decodeErr DecodeError
			if !errors.As(err, &decodeErr) {
				t.Fatalf("expected DecodeError, got %v", err)
			}
		})
	}
}
