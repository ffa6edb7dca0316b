// Command relay is the process entry point: load configuration, open the
// peer directory and broker, then run one outbound (client-role) connection
// to the configured peer and one inbound (server-role) listener for that
// same peer, until signalled to stop. TLS context construction and
// certificate loading are the external-collaborator contract spec.md
// states out of scope; this file only wires the loaded material together.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
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

	"github.com/ledgerline/stomp-relay/broker"
	"github.com/ledgerline/stomp-relay/cmn/nlog"
	"github.com/ledgerline/stomp-relay/peerdir"
	"github.com/ledgerline/stomp-relay/protocol"
	"github.com/ledgerline/stomp-relay/rconfig"
	"github.com/ledgerline/stomp-relay/relay"
	"github.com/ledgerline/stomp-relay/rstats"
	"github.com/ledgerline/stomp-relay/stompf"
	"github.com/ledgerline/stomp-relay/tlsident"
	"github.com/ledgerline/stomp-relay/xlate"
)

// Exit codes, per the process-wiring contract spec §6 leaves to this layer.
const (
	exitOK               = 0
	exitConfigError      = 1
	exitDirectoryError   = 2
	exitConnectionFailed = 3
)

var configPath string

func init() {
	flag.StringVar(&configPath, "config", "", "relay process configuration file")
}

// relayConfig is the process-level wiring configuration: directory and
// broker locations, the one peer this process relays to, and the TLS
// material loading is left to (cert/key file paths, not their parsing).
type relayConfig struct {
	DirectoryURL  string `json:"directory_url"`
	PeerNodeID    string `json:"peer_node_id"`
	AMQPURL       string `json:"amqp_url"`
	AMQPExchange  string `json:"amqp_exchange"`
	OutboundQueue string `json:"outbound_queue"`
	ListenAddr    string `json:"listen_addr"`
	DialAddr      string `json:"dial_addr"` // overrides the peer directory's servers list when set
	CertFile      string `json:"cert_file"` // this node's server cert, concatenated with the peer's sub-CA
	KeyFile       string `json:"key_file"`
	MetricsAddr   string `json:"metrics_addr"`
}

func loadConfig(path string) (*relayConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := &relayConfig{}
	if err := json.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

func main() {
	flag.Parse()
	if configPath == "" {
		nlog.Errorln("missing -config")
		os.Exit(exitConfigError)
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		nlog.Errorf("config: %v", err)
		os.Exit(exitConfigError)
	}

	dir, err := peerdir.NewFSDirectory(cfg.DirectoryURL)
	if err != nil {
		nlog.Errorf("peer directory: %v", err)
		os.Exit(exitConfigError)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	node, err := dir.NodeInfo(ctx)
	if err != nil {
		nlog.Errorf("load node info: %v", err)
		os.Exit(exitDirectoryError)
	}
	peer, err := dir.PeerInfo(ctx, cfg.PeerNodeID)
	if err != nil || peer == nil {
		nlog.Errorf("load peer info for %s: %v", cfg.PeerNodeID, err)
		os.Exit(exitDirectoryError)
	}

	rcfg := rconfig.Default()
	translator := xlate.New(node, peer, rcfg)

	brokerAdapter, err := broker.DialAMQP(cfg.AMQPURL, cfg.AMQPExchange)
	if err != nil {
		nlog.Errorf("broker: %v", err)
		os.Exit(exitDirectoryError)
	}
	defer brokerAdapter.Close()

	metrics := rstats.New(prometheus.DefaultRegisterer)
	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr)
	}

	ownCert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		nlog.Errorf("load TLS certificate: %v", err)
		os.Exit(exitConfigError)
	}

	installSignalHandler(cancel)

	dialAddr := cfg.DialAddr
	if dialAddr == "" && len(peer.Servers) > 0 {
		dialAddr = fmt.Sprintf("%s:%d", peer.Servers[0].Host, peer.Servers[0].Port)
	}

	done := make(chan struct{}, 2)
	go func() {
		defer func() { done <- struct{}{} }()
		runOutbound(ctx, dialAddr, ownCert, node, peer, rcfg, translator, brokerAdapter, metrics, cfg)
	}()
	go func() {
		defer func() { done <- struct{}{} }()
		runInbound(ctx, cfg.ListenAddr, ownCert, node, peer, rcfg, translator, brokerAdapter, metrics)
	}()

	<-done
	<-done
	nlog.Flush(true)
	os.Exit(exitOK)
}

func installSignalHandler(cancel context.CancelFunc) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-c
		cancel()
	}()
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		nlog.Errorf("metrics server: %v", err)
	}
}

// clientTLSConfig verifies the peer's presented chain against peer.RootCert
// and, once the chain is trusted, checks the leaf's subject against
// peer.NodeID via tlsident (hostname verification is disabled per spec §6).
func clientTLSConfig(ownCert tls.Certificate, peer *peerdir.PeerInfo) (*tls.Config, error) {
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(peer.RootCert) {
		return nil, fmt.Errorf("parse peer root-ca.crt")
	}
	return &tls.Config{
		Certificates:       []tls.Certificate{ownCert},
		InsecureSkipVerify: true, // chain + identity verified manually below
		MinVersion:         tls.VersionTLS13,
		VerifyPeerCertificate: verifyAgainstPool(pool, peer.NodeID),
	}, nil
}

// serverTLSConfig mirrors clientTLSConfig for the accept side: any client
// cert is accepted by the stdlib handshake, then verified the same way.
func serverTLSConfig(ownCert tls.Certificate, peer *peerdir.PeerInfo) (*tls.Config, error) {
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(peer.RootCert) {
		return nil, fmt.Errorf("parse peer root-ca.crt")
	}
	return &tls.Config{
		Certificates:          []tls.Certificate{ownCert},
		ClientAuth:            tls.RequireAnyClientCert,
		MinVersion:            tls.VersionTLS13,
		VerifyPeerCertificate: verifyAgainstPool(pool, peer.NodeID),
	}, nil
}

func verifyAgainstPool(pool *x509.CertPool, expectNodeID string) func([][]byte, [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return fmt.Errorf("no peer certificate presented")
		}
		leaf, err := x509.ParseCertificate(rawCerts[0])
		if err != nil {
			return err
		}
		intermediates := x509.NewCertPool()
		for _, raw := range rawCerts[1:] {
			if c, err := x509.ParseCertificate(raw); err == nil {
				intermediates.AddCert(c)
			}
		}
		if _, err := leaf.Verify(x509.VerifyOptions{Roots: pool, Intermediates: intermediates}); err != nil {
			return fmt.Errorf("verify peer chain: %w", err)
		}
		return tlsident.VerifyPeer(tls.ConnectionState{PeerCertificates: []*x509.Certificate{leaf}}, expectNodeID)
	}
}

func runOutbound(
	ctx context.Context, dialAddr string, ownCert tls.Certificate,
	node *peerdir.NodeInfo, peer *peerdir.PeerInfo, rcfg *rconfig.Config,
	translator *xlate.Translator, brokerAdapter broker.Adapter, metrics *rstats.Registry,
	cfg *relayConfig,
) {
	if dialAddr == "" {
		nlog.Errorln("outbound: no dial address configured or found in peer directory")
		return
	}
	tlsCfg, err := clientTLSConfig(ownCert, peer)
	if err != nil {
		nlog.Errorf("outbound: %v", err)
		return
	}

	backoff := time.Second
	for ctx.Err() == nil {
		conn, err := tls.DialWithDialer(&net.Dialer{Timeout: rcfg.TLSHandshakeTimeout}, "tcp", dialAddr, tlsCfg)
		if err != nil {
			nlog.Warningf("outbound: dial %s: %v", dialAddr, err)
			if !sleepOrDone(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}
		backoff = time.Second

		codec := stompf.NewCodec(stompf.WithMaxHeaderBytes(rcfg.MaxHeaderBytes), stompf.WithMaxBodyBytes(rcfg.MaxBodyBytes))
		engine := protocol.NewClient(conn, codec, protocol.ClientConfig{
			Host:              peer.StompHost,
			Destination:       peer.StompDestination,
			HeartBeatSendMin:  rcfg.HeartbeatSend,
			HeartBeatRecvWant: rcfg.HeartbeatRecv,
			MaxNetworkDelay:   rcfg.MaxNetworkDelay,
			QueueCapacity:     rcfg.QueueCapacity,
		})
		engine.Metrics = metrics

		side := &relay.ClientSide{
			Broker:     brokerAdapter,
			Queue:      cfg.OutboundQueue,
			Translator: translator,
			Engine:     engine,
			Metrics:    metrics,
		}

		runErr := runConnection(ctx, engine.Run, side.Run)
		if runErr != nil && ctx.Err() == nil {
			nlog.Warningf("outbound: connection lost: %v", runErr)
		}
		if !sleepOrDone(ctx, backoff) {
			return
		}
	}
}

func runInbound(
	ctx context.Context, listenAddr string, ownCert tls.Certificate,
	node *peerdir.NodeInfo, peer *peerdir.PeerInfo, rcfg *rconfig.Config,
	translator *xlate.Translator, brokerAdapter broker.Adapter, metrics *rstats.Registry,
) {
	if listenAddr == "" {
		nlog.Errorln("inbound: no listen address configured")
		return
	}
	tlsCfg, err := serverTLSConfig(ownCert, peer)
	if err != nil {
		nlog.Errorf("inbound: %v", err)
		return
	}

	ln, err := tls.Listen("tcp", listenAddr, tlsCfg)
	if err != nil {
		nlog.Errorf("inbound: listen %s: %v", listenAddr, err)
		return
	}
	go func() { <-ctx.Done(); ln.Close() }()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			nlog.Warningf("inbound: accept: %v", err)
			continue
		}
		go func() {
			codec := stompf.NewCodec(stompf.WithMaxHeaderBytes(rcfg.MaxHeaderBytes), stompf.WithMaxBodyBytes(rcfg.MaxBodyBytes))
			engine := protocol.NewServer(conn, codec, protocol.ServerConfig{
				HeartBeatSendMin:  rcfg.HeartbeatSend,
				HeartBeatRecvWant: rcfg.HeartbeatRecv,
				MaxNetworkDelay:   rcfg.MaxNetworkDelay,
				ConnectTimeout:    rcfg.TLSHandshakeTimeout,
				QueueCapacity:     rcfg.QueueCapacity,
			})
			engine.Metrics = metrics

			side := &relay.ServerSide{Broker: brokerAdapter, Translator: translator, Engine: engine, Metrics: metrics}

			if err := runConnection(ctx, engine.Run, side.Run); err != nil && ctx.Err() == nil {
				nlog.Warningf("inbound: connection %s lost: %v", conn.RemoteAddr(), err)
			}
		}()
	}
}

// runConnection runs the protocol engine and its relay loop side by side,
// returning the first error from either (spec §4.6: engine and relay loop
// share one connection's lifetime).
func runConnection(ctx context.Context, engineRun, sideRun func(context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	errc := make(chan error, 2)
	go func() { errc <- engineRun(ctx) }()
	go func() { errc <- sideRun(ctx) }()
	err := <-errc
	cancel() // whichever returns first ends the other
	<-errc
	return err
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > 30*time.Second {
		return 30 * time.Second
	}
	return d
}
