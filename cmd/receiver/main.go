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
	"github.com/ventosilenzioso/go-reliable-transport/internal/recv"
	"github.com/ventosilenzioso/go-reliable-transport/internal/transport"
	"github.com/ventosilenzioso/go-reliable-transport/internal/wire"
	"github.com/ventosilenzioso/go-reliable-transport/pkg/connid"
	"github.com/ventosilenzioso/go-reliable-transport/pkg/logger"
	"github.com/ventosilenzioso/go-reliable-transport/pkg/metrics"
)

const version = "1.0.0"

func main() {
	addr := flag.String("addr", "0.0.0.0:9000", "address to listen on")
	window := flag.Uint("window", 8, "initial receive window advertised to the sender")
	ackMode := flag.String("ack-mode", "cumulative", "GBN ack mode: individual or cumulative")
	ackLossSeqs := flag.String("ack-loss-seqs", "", "comma-separated data seqs whose ack/nak is dropped")
	ackErrorSeqs := flag.String("ack-error-seqs", "", "comma-separated data seqs whose ack/nak is corrupted")
	windowSchedule := flag.String("window-schedule", "", "comma-separated offset:size steps for the dynamic receive window, e.g. \"10s:1,20s:3\"")
	processingDelay := flag.Duration("processing-delay", 0, "simulated per-packet processing delay before a received packet is handled")
	metricsAddr := flag.String("metrics-addr", "", "if set, serve Prometheus metrics on this address")
	flag.Parse()

	logger.Banner("Reliable Transport Receiver", version)

	reg := metrics.NewCollector("transport")
	if *metricsAddr != "" {
		prometheus.MustRegister(reg)
		go serveMetrics(*metricsAddr)
	}

	conn, err := net.ListenUDP("udp", mustResolve(*addr))
	if err != nil {
		logger.Fatal("listen: %v", err)
	}
	defer conn.Close()
	logger.Info("listening on %s (initial_window=%d, ack_mode=%s, processing_delay=%s)", *addr, *window, *ackMode, *processingDelay)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		defer close(done)
		runSession(sessionConfig{
			conn:            conn,
			window:          uint32(*window),
			ackMode:         *ackMode,
			ackLossSeqs:     *ackLossSeqs,
			ackErrorSeqs:    *ackErrorSeqs,
			windowSchedule:  *windowSchedule,
			processingDelay: *processingDelay,
			reg:             reg,
		})
	}()

	select {
	case sig := <-sigChan:
		logger.Warn("received signal %v, shutting down", sig)
		conn.Close()
		<-done
	case <-done:
		logger.Success("receiver finished")
	}
}

func mustResolve(addr string) *net.UDPAddr {
	a, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		logger.Fatal("resolve %s: %v", addr, err)
	}
	return a
}

func serveMetrics(addr string) {
	logger.Info("metrics listening on %s", addr)
	if err := http.ListenAndServe(addr, promhttp.Handler()); err != nil {
		logger.Error("metrics server: %v", err)
	}
}

type sessionConfig struct {
	conn            *net.UDPConn
	window          uint32
	ackMode         string
	ackLossSeqs     string
	ackErrorSeqs    string
	windowSchedule  string
	processingDelay time.Duration
	reg             *metrics.Collector
}

// runSession accepts exactly one peer (learned from the first
// datagram it receives) and drives that connection to completion.
// Like the sender, each iteration reads with a short timeout and then
// writes any responses (after the optional processing delay); there is
// no send-side timer here since the receiver never retransmits on its
// own initiative.
func runSession(cfg sessionConfig) {
	peer := &transport.Peer{Conn: cfg.conn}
	start := time.Now()

	agreed, err := wire.AcceptHandshake(peer, cfg.window)
	if err != nil {
		logger.Error("handshake: %v", err)
		return
	}

	id := connid.New()
	log := logger.WithConn(id)
	log.Success("connection established: protocol=%s peer=%s", agreed, peer.Addr)

	ackMode := recv.Individual
	if cfg.ackMode == "cumulative" {
		ackMode = recv.Cumulative
	}

	engine := recv.NewEngine(recv.Config{
		Protocol:      agreed,
		InitialWindow: cfg.window,
		AckMode:       ackMode,
		Schedule:      transport.ParseWindowSchedule(cfg.windowSchedule),
		Hooks: faultinject.Hooks{
			AckLossSeqs:  transport.ParseSeqSet(cfg.ackLossSeqs),
			AckErrorSeqs: transport.ParseSeqSet(cfg.ackErrorSeqs),
		},
	}, start)

	cfg.reg.Track(id, func() metrics.Snapshot {
		return metrics.Snapshot{
			Rwnd:           float64(engine.Rwnd()),
			WindowBase:     float64(engine.RecvBase()),
			BytesDelivered: float64(engine.BytesDelivered),
		}
	})
	defer cfg.reg.Untrack(id)

	buf := make([]byte, 65535)
	for {
		cfg.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		n, from, err := cfg.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			log.Error("read: %v", err)
			return
		}
		if peer.Addr == nil {
			peer.Addr = from
		}
		if from.String() != peer.Addr.String() {
			continue
		}

		raw := append([]byte(nil), buf[:n]...)
		if cfg.processingDelay > 0 {
			time.Sleep(cfg.processingDelay)
		}
		delivered, responses := engine.HandleData(time.Now(), raw)
		for _, payload := range delivered {
			log.Info("delivered %d bytes", len(payload))
		}
		for _, resp := range responses {
			if _, err := peer.Write(resp); err != nil {
				log.Error("write response: %v", err)
			}
		}
	}
}
