package tp

import (
	"errors"
	"strings"
	"testing"
)

const sampleTopology = `{
  "channels": [
    {"addressWidth": 1, "payloadSize": 8, "format": 0, "pool": 0},
    {"addressWidth": 2, "payloadSize": 32, "format": 1, "pool": 1}
  ],
  "connections": [
    {"channel": 0, "localAddress": 16, "remoteAddress": 32},
    {"channel": 1, "localAddress": 4096, "remoteAddress": 8192}
  ],
  "pools": [
    {"firstSlot": 0, "slotCount": 2},
    {"firstSlot": 2, "slotCount": 3}
  ],
  "slots": [
    {"mediaId": 10}, {"mediaId": 11}, {"mediaId": 20}, {"mediaId": 21}, {"mediaId": 22}
  ]
}`

func TestLoadTopology(t *testing.T) {
	topo, err := LoadTopology(strings.NewReader(sampleTopology))
	if err != nil {
		t.Fatalf("LoadTopology: %v", err)
	}
	if p, ok := topo.PoolOfSlot(3); !ok || p != 1 {
		t.Fatalf("slot 3: expected pool 1, got %d/%v", p, ok)
	}
	if _, ok := topo.PoolOfSlot(5); ok {
		t.Fatalf("slot 5 must not belong to a pool")
	}
	ch, ok := topo.ConnectionChannel(1)
	if !ok || ch.Format != FormatExtended || ch.Pool != 1 {
		t.Fatalf("connection 1: unexpected channel %+v", ch)
	}
	if c, ok := topo.FindConnection(1, 4096, 8192); !ok || c != 1 {
		t.Fatalf("expected connection 1, got %d/%v", c, ok)
	}
	if _, ok := topo.FindConnection(0, 32, 16); ok {
		t.Fatalf("swapped addresses must not match")
	}
	last := topo.ConfirmationSlots()
	if len(last) != 2 || last[0] != 1 || last[1] != 4 {
		t.Fatalf("unexpected confirmation slots %v", last)
	}
}

func TestLoadTopologyUnknownField(t *testing.T) {
	_, err := LoadTopology(strings.NewReader(`{"pools": [], "extra": 1}`))
	if err == nil {
		t.Fatal("expected an error for an unknown field")
	}
}

func TestTopologyValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Topology)
	}{
		{"no pools", func(t *Topology) { t.Pools = nil }},
		{"empty pool", func(t *Topology) { t.Pools[0].SlotCount = 0 }},
		{"pool past slots", func(t *Topology) { t.Pools[0].SlotCount = 9 }},
		{"overlapping pools", func(t *Topology) {
			t.Pools = append(t.Pools, Pool{FirstSlot: 1, SlotCount: 1})
		}},
		{"address width", func(t *Topology) { t.Channels[0].AddressWidth = 3 }},
		{"payload too small", func(t *Topology) { t.Channels[0].PayloadSize = 4 }},
		{"payload too large", func(t *Topology) { t.Channels[0].PayloadSize = 256 }},
		{"unknown format", func(t *Topology) { t.Channels[0].Format = 7 }},
		{"unknown pool", func(t *Topology) { t.Channels[0].Pool = 4 }},
		{"unknown channel", func(t *Topology) { t.Connections[0].Channel = 2 }},
		{"wide address", func(t *Topology) { t.Connections[0].LocalAddress = 0x100 }},
	}
	if err := testTopology(2, 1).Validate(); err != nil {
		t.Fatalf("base topology invalid: %v", err)
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			topo := testTopology(2, 1)
			tc.mutate(topo)
			var invalid InvalidTopologyError
			if err := topo.Validate(); !errors.As(err, &invalid) {
				t.Fatalf("expected InvalidTopologyError, got %v", err)
			}
		})
	}
}
