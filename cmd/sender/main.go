package main

import (
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ventosilenzioso/go-reliable-transport/internal/faultinject"
	"github.com/ventosilenzioso/go-reliable-transport/internal/send"
	"github.com/ventosilenzioso/go-reliable-transport/internal/transport"
	"github.com/ventosilenzioso/go-reliable-transport/internal/wire"
	"github.com/ventosilenzioso/go-reliable-transport/pkg/connid"
	"github.com/ventosilenzioso/go-reliable-transport/pkg/logger"
	"github.com/ventosilenzioso/go-reliable-transport/pkg/metrics"
)

const version = "1.0.0"

func main() {
	addr := flag.String("addr", "127.0.0.1:9000", "receiver address to dial")
	protocol := flag.String("protocol", "gbn", "requested retransmission discipline: gbn or sr")
	total := flag.Uint("total", 10, "number of data packets to send")
	wmax := flag.Uint("wmax", 8, "sender window ceiling")
	mode := flag.String("mode", "batch", "send mode: batch or single")
	dataErrorSeqs := flag.String("data-error-seqs", "", "comma-separated seqs corrupted on first send")
	timeout := flag.Duration("timeout", send.DefaultTimeout, "per-packet retransmission deadline")
	maxRetries := flag.Int("max-retries", send.DefaultMaxRetries, "retry ceiling per sequence number")
	metricsAddr := flag.String("metrics-addr", "", "if set, serve Prometheus metrics on this address")
	flag.Parse()

	logger.Banner("Reliable Transport Sender", version)

	reg := metrics.NewCollector("transport")
	if *metricsAddr != "" {
		prometheus.MustRegister(reg)
		go serveMetrics(*metricsAddr)
	}

	raddr, err := net.ResolveUDPAddr("udp", *addr)
	if err != nil {
		logger.Fatal("resolve %s: %v", *addr, err)
	}
	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		logger.Fatal("listen: %v", err)
	}
	defer conn.Close()

	logger.Info("dialing receiver at %s (protocol=%s, total=%d, wmax=%d)", *addr, *protocol, *total, *wmax)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		defer close(done)
		runSession(sessionConfig{
			conn:          conn,
			raddr:         raddr,
			protocol:      *protocol,
			total:         uint32(*total),
			wmax:          uint32(*wmax),
			mode:          *mode,
			dataErrorSeqs: *dataErrorSeqs,
			timeout:       *timeout,
			maxRetries:    *maxRetries,
			reg:           reg,
		})
	}()

	select {
	case sig := <-sigChan:
		logger.Warn("received signal %v, shutting down", sig)
		conn.Close()
		<-done
	case <-done:
		logger.Success("sender finished")
	}
}

func serveMetrics(addr string) {
	logger.Info("metrics listening on %s", addr)
	if err := http.ListenAndServe(addr, promhttp.Handler()); err != nil {
		logger.Error("metrics server: %v", err)
	}
}

type sessionConfig struct {
	conn          *net.UDPConn
	raddr         *net.UDPAddr
	protocol      string
	total         uint32
	wmax          uint32
	mode          string
	dataErrorSeqs string
	timeout       time.Duration
	maxRetries    int
	reg           *metrics.Collector
}

// runSession drives one connection start-to-finish. It has exactly
// three suspension points per iteration: a short-timeout read for
// incoming ACK/NAK traffic, a write drain of outgoing frames, and a
// short poll sleep — mirroring the engine's cooperative concurrency
// model of one goroutine per connection with no internal locking.
func runSession(cfg sessionConfig) {
	peer := &transport.Peer{Conn: cfg.conn, Addr: cfg.raddr}

	want := wire.ParseProtocol(cfg.protocol)
	agreed, rwnd, err := wire.DialHandshake(peer, want)
	if err != nil {
		logger.Error("handshake: %v", err)
		return
	}

	id := connid.New()
	log := logger.WithConn(id)
	log.Success("connection established: protocol=%s initial_rwnd=%d", agreed, rwnd)

	mode := send.Batch
	if cfg.mode == "single" {
		mode = send.Single
	}

	engine := send.NewEngine(send.Config{
		Protocol:   agreed,
		Total:      cfg.total,
		Wmax:       cfg.wmax,
		Mode:       mode,
		Timeout:    cfg.timeout,
		MaxRetries: cfg.maxRetries,
		Hooks:      faultinject.Hooks{DataErrorSeqs: transport.ParseSeqSet(cfg.dataErrorSeqs)},
	}, rwnd)

	cfg.reg.Track(id, func() metrics.Snapshot {
		return metrics.Snapshot{
			Cwnd:         engine.Cwnd(),
			Ssthresh:     engine.Ssthresh(),
			Rwnd:         float64(engine.Rwnd()),
			WindowBase:   float64(engine.Base()),
			NextSeq:      float64(engine.NextSeq()),
			PacketsSent:  float64(engine.PacketsSent),
			Retransmits:  float64(engine.Retransmits),
			NaksReceived: float64(engine.NaksReceived),
		}
	})
	defer cfg.reg.Untrack(id)

	buf := make([]byte, 65535)
	for !engine.Done() && !engine.Failed() {
		now := time.Now()

		var frames [][]byte
		if mode == send.Batch {
			frames = engine.FillWindow(now)
		} else if frame, ok := engine.SendOne(now); ok {
			frames = [][]byte{frame}
		}
		for _, f := range frames {
			if _, err := peer.Write(f); err != nil {
				log.Error("write: %v", err)
				return
			}
		}

		cfg.conn.SetReadDeadline(now.Add(100 * time.Millisecond))
		n, _, err := cfg.conn.ReadFromUDP(buf)
		if err == nil {
			raw := append([]byte(nil), buf[:n]...)
			out, fatal := engine.HandleIncoming(time.Now(), raw)
			for _, f := range out {
				log.Warn("retransmitting after NAK")
				peer.Write(f)
			}
			if fatal {
				log.Error("connection aborted: retry ceiling exceeded")
				return
			}
		} else if ne, ok := err.(net.Error); !ok || !ne.Timeout() {
			log.Error("read: %v", err)
			return
		}

		if out, fatal := engine.CheckTimers(time.Now()); len(out) > 0 || fatal {
			for _, f := range out {
				log.Warn("retransmitting after timeout")
				peer.Write(f)
			}
			if fatal {
				log.Error("connection aborted: retry ceiling exceeded")
				return
			}
		}

		time.Sleep(10 * time.Millisecond)
	}

	if engine.Done() {
		log.Success("transfer complete: %d sent, %d retransmits, %d naks",
			engine.PacketsSent, engine.Retransmits, engine.NaksReceived)
	}
}
