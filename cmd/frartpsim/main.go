// Command frartpsim runs two transport nodes over the simulated FlexRay bus
// and pushes an image from node A to node B.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/getlantern/golog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/LoveWonYoung/frartp/driver"
	"github.com/LoveWonYoung/frartp/logrecorder"
	"github.com/LoveWonYoung/frartp/mirror"
	"github.com/LoveWonYoung/frartp/payload"
	"github.com/LoveWonYoung/frartp/session"
	"github.com/LoveWonYoung/frartp/tp"
)

var log = golog.LoggerFor("frartpsim")

type options struct {
	topology string
	image    string
	size     int
	key      string
	count    int
	metrics  string
	nats     string
	mqtt     string
	logDir   string
	period   time.Duration
	timeout  time.Duration
}

func parseFlags() options {
	var o options
	flag.StringVar(&o.topology, "topology", "", "JSON topology file (default: built-in two channel layout)")
	flag.StringVar(&o.image, "image", "", "image to send, Intel HEX or raw (default: random bytes)")
	flag.IntVar(&o.size, "size", 1024, "bytes per transport message")
	flag.StringVar(&o.key, "key", "", "AES-128 key as 32 hex characters; signs every message")
	flag.IntVar(&o.count, "count", 8192, "random image size when -image is not given")
	flag.StringVar(&o.metrics, "metrics", "", "serve Prometheus metrics on this address, e.g. :9100")
	flag.StringVar(&o.nats, "nats", "", "mirror bus traffic to this NATS server")
	flag.StringVar(&o.mqtt, "mqtt", "", "mirror bus traffic to this MQTT broker, e.g. tcp://localhost:1883")
	flag.StringVar(&o.logDir, "log", "", "write logs below this directory")
	flag.DurationVar(&o.period, "period", driver.DefaultPeriod, "bus cycle period")
	flag.DurationVar(&o.timeout, "timeout", time.Minute, "give up after this long")
	flag.Parse()
	return o
}

func main() {
	o := parseFlags()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, o); err != nil {
		fmt.Fprintln(os.Stderr, "frartpsim:", err)
		os.Exit(1)
	}
}

// defaultTopology has a compact channel on a two slot pool and an extended
// channel with two byte addresses on a three slot pool.
func defaultTopology() *tp.Topology {
	return &tp.Topology{
		Channels: []tp.Channel{
			{AddressWidth: 1, PayloadSize: 32, Format: tp.FormatCompact, Pool: 0},
			{AddressWidth: 2, PayloadSize: 64, Format: tp.FormatExtended, Pool: 1},
		},
		Connections: []tp.Connection{
			{Channel: 0, LocalAddress: 0x10, RemoteAddress: 0x20},
			{Channel: 1, LocalAddress: 0x0100, RemoteAddress: 0x0200},
		},
		Pools: []tp.Pool{
			{FirstSlot: 0, SlotCount: 2},
			{FirstSlot: 2, SlotCount: 3},
		},
		Slots: []tp.Slot{{MediaID: 1}, {MediaID: 2}, {MediaID: 3}, {MediaID: 4}, {MediaID: 5}},
	}
}

func loadTopology(path string) (*tp.Topology, error) {
	if path == "" {
		return defaultTopology(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return tp.LoadTopology(f)
}

// peerTopology is the same layout seen from the other end of every
// connection.
func peerTopology(t *tp.Topology) *tp.Topology {
	peer := *t
	peer.Connections = make([]tp.Connection, len(t.Connections))
	for i, c := range t.Connections {
		peer.Connections[i] = tp.Connection{Channel: c.Channel, LocalAddress: c.RemoteAddress, RemoteAddress: c.LocalAddress}
	}
	return &peer
}

type node struct {
	name string
	topo *tp.Topology
	enc  *tp.Encoder
	tab  *session.Table
	bus  *driver.Bus
}

func newNode(name string, topo *tp.Topology, reg prometheus.Registerer) (*node, error) {
	scfg := session.DefaultConfig()
	tab, err := session.New(scfg, topo)
	if err != nil {
		return nil, err
	}
	bus := driver.NewBus(topo)

	cfg := tp.DefaultConfig()
	cfg.MaxActive = scfg.MaxActive
	cfg.Topology = topo
	cfg.Logger = golog.LoggerFor("frartp-" + name)
	cfg.Registerer = prometheus.WrapRegistererWith(prometheus.Labels{"node": name}, reg)
	enc, err := tp.New(cfg, tab, bus)
	if err != nil {
		return nil, err
	}
	tab.Bind(enc)
	bus.Attach(enc)
	bus.Every(tab.MainFunction)
	return &node{name: name, topo: topo, enc: enc, tab: tab, bus: bus}, nil
}

// link routes every slot of a to the channel of the same pool on b.
func link(a, b *node) {
	for ch, c := range a.topo.Channels {
		p := a.topo.Pools[c.Pool]
		for s := p.FirstSlot; s <= p.LastSlot(); s++ {
			a.bus.Route(a.topo.Slots[s].MediaID, b.tab, tp.ChannelID(ch))
		}
	}
}

func openMirror(o options) (mirror.Sink, error) {
	var sinks mirror.Fanout
	if o.nats != "" {
		s, err := mirror.NewNATSSink(o.nats, "frartp")
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if o.mqtt != "" {
		s, err := mirror.NewMQTTSink(o.mqtt, "frartpsim", "frartp")
		if err != nil {
			sinks.Close()
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if len(sinks) == 0 {
		return nil, nil
	}
	return sinks, nil
}

func loadImage(o options) ([]byte, error) {
	if o.image != "" {
		return payload.Load(o.image)
	}
	data := make([]byte, o.count)
	rand.New(rand.NewSource(time.Now().UnixNano())).Read(data)
	return data, nil
}

func run(ctx context.Context, o options) error {
	if o.logDir != "" {
		rec, err := logrecorder.InitAndRotate(ctx, o.logDir, "frartp_", os.Stderr)
		if err != nil {
			return err
		}
		defer rec.Close()
	}

	topo, err := loadTopology(o.topology)
	if err != nil {
		return err
	}
	if len(topo.Connections) == 0 {
		return fmt.Errorf("topology has no connections")
	}

	reg := prometheus.NewRegistry()
	a, err := newNode("A", topo, reg)
	if err != nil {
		return err
	}
	b, err := newNode("B", peerTopology(topo), reg)
	if err != nil {
		return err
	}
	link(a, b)
	link(b, a)

	if o.metrics != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: o.metrics, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Errorf("metrics server: %v", err)
			}
		}()
		defer srv.Close()
	}

	sink, err := openMirror(o)
	if err != nil {
		return err
	}
	if sink != nil {
		defer sink.Close()
		a.bus.Mirror(sink)
		b.bus.Mirror(sink)
	}

	var auth *payload.Authenticator
	if o.key != "" {
		key, err := payload.HexStringToByteSlice(o.key)
		if err != nil {
			return err
		}
		if auth, err = payload.NewAuthenticator(key, 8); err != nil {
			return err
		}
	}

	image, err := loadImage(o)
	if err != nil {
		return err
	}
	blocks := payload.SplitBlock(image, o.size)
	if auth != nil {
		for i := range blocks {
			blocks[i] = auth.Sign(blocks[i])
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	go func() {
		ticker := time.NewTicker(o.period)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case now := <-ticker.C:
				a.bus.Tick(now)
				b.bus.Tick(now)
			}
		}
	}()

	start := time.Now()
	st, err := transfer(runCtx, a, b, blocks, auth)
	fmt.Printf("sent %d/%d messages, received %d (%d bytes), %d rejected, %d errors in %v\n",
		st.sent, len(blocks), st.received, st.bytes, st.rejected, st.errors, time.Since(start).Round(time.Millisecond))
	return err
}

type stats struct {
	sent, received, bytes, rejected, errors int
}

// transfer spreads blocks over every connection of a, one message in
// flight per connection, and waits until b received all of them.
func transfer(ctx context.Context, a, b *node, blocks [][]byte, auth *payload.Authenticator) (stats, error) {
	var st stats
	conns := len(a.topo.Connections)
	queues := make([][][]byte, conns)
	for i, blk := range blocks {
		queues[i%conns] = append(queues[i%conns], blk)
	}

	// a message the table refuses outright is counted as rejected
	next := func(conn tp.ConnID) {
		for len(queues[conn]) > 0 {
			msg := queues[conn][0]
			queues[conn] = queues[conn][1:]
			err := a.tab.Transmit(conn, msg)
			if err == nil {
				return
			}
			log.Errorf("connection %d: %v", conn, err)
			st.rejected++
		}
	}
	for c := 0; c < conns; c++ {
		next(tp.ConnID(c))
	}

	poll := time.NewTicker(time.Millisecond)
	defer poll.Stop()
	for st.received+st.rejected < len(blocks) {
		select {
		case <-ctx.Done():
			return st, fmt.Errorf("transfer incomplete: %w", ctx.Err())
		case conn := <-a.tab.Sent:
			st.sent++
			next(conn)
		case err := <-a.tab.ErrorChan:
			st.errors++
			log.Debugf("node A: %v", err)
		case err := <-b.tab.ErrorChan:
			st.errors++
			log.Debugf("node B: %v", err)
		case <-poll.C:
			for {
				data, conn, ok := b.tab.Recv()
				if !ok {
					break
				}
				n := len(data)
				if auth != nil {
					plain, err := auth.Verify(data)
					if err != nil {
						log.Errorf("connection %d: %v", conn, err)
						st.rejected++
						continue
					}
					n = len(plain)
				}
				st.bytes += n
				st.received++
			}
		}
	}
	return st, nil
}
