// Command edgelinkd wires the MQTT client, RPC node tree, and an
// optional Prometheus exporter together behind a single run loop, the
// way cmd/minimega's main.go wires meshage, the plumber, and the
// command socket around one shutdown channel.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/edgelink/core/internal/provider"
	"github.com/edgelink/core/pkg/errs"
	"github.com/edgelink/core/pkg/metrics"
	log "github.com/edgelink/core/pkg/minilog"
	"github.com/edgelink/core/pkg/mqtt"
	"github.com/edgelink/core/pkg/rpc"
)

var (
	f_logLevel     = flag.String("log-level", "info", "log level: debug, info, warn, error")
	f_mqttBroker   = flag.String("mqtt-broker", "", "host:port of an MQTT 3.1.1 broker to connect to; empty disables the client")
	f_mqttClientID = flag.String("mqtt-client-id", "edgelinkd", "MQTT client id")
	f_mqttKeepalive = flag.Uint("mqtt-keepalive", 30, "MQTT keepalive interval, seconds")
	f_rpcNodeName  = flag.String("rpc-node-name", "edgelinkd", "this process's RPC node tree name")
	f_metricsAddr  = flag.String("metrics-listen", "", "address to serve Prometheus metrics on, e.g. :9191; empty disables it")
	f_tickMs       = flag.Uint("tick-ms", 20, "run loop tick interval, milliseconds")
)

type wallClock struct{}

func (wallClock) NowMs() uint64 { return uint64(time.Now().UnixMilli()) }

// tcpStream adapts a plain net.Conn to provider.ByteStream -- the bit
// of conventional TCP glue spec.md §1 calls out-of-scope for the
// engines themselves but that a runnable binary still needs one
// concrete instance of.
type tcpStream struct {
	conn net.Conn
}

func dialTCP(addr string) (*tcpStream, error) {
	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return nil, err
	}
	return &tcpStream{conn: conn}, nil
}

func (s *tcpStream) ReadByte() (provider.ReadResult, byte) {
	s.conn.SetReadDeadline(time.Now().Add(time.Millisecond))
	var b [1]byte
	n, err := s.conn.Read(b[:])
	if n == 1 {
		return provider.GotData, b[0]
	}
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return provider.NoData, 0
		}
		return provider.ReadError, 0
	}
	return provider.NoData, 0
}

func (s *tcpStream) WriteBytes(p []byte) bool {
	_, err := s.conn.Write(p)
	return err == nil
}

func (s *tcpStream) IsBound() bool { return s.conn != nil }

type mqttLogListener struct {
	m *metrics.Metrics
}

func (l mqttLogListener) OnConnected(sessionPresent bool) {
	log.InfoNamed("edgelinkd", "mqtt connected, session_present=%v", sessionPresent)
}

func (l mqttLogListener) OnConnectFailed(kind errs.Kind, reason mqtt.ConnectFailReason) {
	log.ErrorNamed("edgelinkd", "mqtt connect failed: kind=%s reason=%s", kind, reason)
}

func (l mqttLogListener) OnDisconnected() {
	log.WarnNamed("edgelinkd", "mqtt disconnected")
	if l.m != nil {
		l.m.MqttReconnects.Inc()
	}
}

func (l mqttLogListener) OnKeepaliveWarning() {
	log.WarnNamed("edgelinkd", "mqtt keepalive warning: peer missed PINGRESP")
}

func usage() {
	fmt.Println("edgelinkd: MQTT client + RPC node tree run loop")
	fmt.Println("usage: edgelinkd [option]...")
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	level, err := log.ParseLevel(*f_logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log.AddLogger("stderr", os.Stderr, level)

	clock := wallClock{}
	met := metrics.New(nil)

	root := rpc.NewNode(*f_rpcNodeName, true, true)
	log.InfoNamed("edgelinkd", "rpc node %q ready", root.Name())

	var mqttClient *mqtt.Client
	if *f_mqttBroker != "" {
		stream, err := dialTCP(*f_mqttBroker)
		if err != nil {
			log.ErrorNamed("edgelinkd", "dialing mqtt broker %s: %v", *f_mqttBroker, err)
			os.Exit(1)
		}
		mqttClient = mqtt.NewClient(stream, clock, mqtt.ClientOptions{
			ClientID:     *f_mqttClientID,
			KeepaliveSec: uint16(*f_mqttKeepalive),
			CleanSession: true,
		})
		mqttClient.AddListener(mqttLogListener{m: met})
		mqttClient.Connect("", nil)
	}

	var metricsServer *http.Server
	if *f_metricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(met)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsServer = &http.Server{Addr: *f_metricsAddr, Handler: mux}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.ErrorNamed("edgelinkd", "metrics server: %v", err)
			}
		}()
		log.InfoNamed("edgelinkd", "metrics listening on %s", *f_metricsAddr)
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(time.Duration(*f_tickMs) * time.Millisecond)
	defer ticker.Stop()

	var lastFramesParsed, lastMalformed int

runLoop:
	for {
		select {
		case <-shutdown:
			log.InfoNamed("edgelinkd", "caught shutdown signal")
			break runLoop
		case <-ticker.C:
			now := clock.NowMs()
			if mqttClient != nil {
				mqttClient.Service(now)

				if framesParsed := mqttClient.FramesParsed(); framesParsed > lastFramesParsed {
					met.FramesParsed.WithLabelValues("mqtt").Add(float64(framesParsed - lastFramesParsed))
					lastFramesParsed = framesParsed
				}
				if malformed := mqttClient.MalformedPackets(); malformed > lastMalformed {
					met.MalformedPackets.WithLabelValues("mqtt").Add(float64(malformed - lastMalformed))
					lastMalformed = malformed
				}
			}
			met.InflightRPCRequests.Set(float64(root.InflightCount()))
		}
	}

	if mqttClient != nil {
		mqttClient.Disconnect()
	}
	if metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		metricsServer.Shutdown(ctx)
	}
}
