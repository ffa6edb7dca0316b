package protocol

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ledgerline/stomp-relay/cmn/cos"
	"github.com/ledgerline/stomp-relay/cmn/nlog"
	"github.com/ledgerline/stomp-relay/rstats"
	"github.com/ledgerline/stomp-relay/stompf"
	"github.com/ledgerline/stomp-relay/wqueue"
)

// ServerConfig parameterises a ServerEngine connection (spec §4.4).
type ServerConfig struct {
	HeartBeatSendMin  time.Duration
	HeartBeatRecvWant time.Duration
	MaxNetworkDelay   time.Duration
	ConnectTimeout    time.Duration // how long to wait for the initial CONNECT
	QueueCapacity     int
}

// ServerEngine drives the STOMP 1.2 server-side handshake and steady state
// (spec §4.4): accept CONNECT, reply CONNECTED, then shuttle SEND frames
// to the recv-queue and RECEIPT/ERROR frames from the send-queue.
type ServerEngine struct {
	cfg   ServerConfig
	conn  net.Conn
	codec *stompf.Codec

	Send *wqueue.Queue[SendItem]
	Recv *wqueue.Queue[RecvItem]

	// Metrics is optional; when set, frame and connection counters are
	// reported to it. Nil is safe.
	Metrics *rstats.Registry

	mu     sync.Mutex
	state  State
	hbSend time.Duration
	hbRecv time.Duration
	byteCh chan struct{}
}

func NewServer(conn net.Conn, codec *stompf.Codec, cfg ServerConfig) *ServerEngine {
	if cfg.MaxNetworkDelay == 0 {
		cfg.MaxNetworkDelay = 30 * time.Second
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = cfg.MaxNetworkDelay
	}
	if cfg.QueueCapacity == 0 {
		cfg.QueueCapacity = 1000
	}
	e := &ServerEngine{
		cfg:   cfg,
		conn:  conn,
		codec: codec,
		Send:  wqueue.New[SendItem](cfg.QueueCapacity),
		Recv:  wqueue.New[RecvItem](cfg.QueueCapacity),
		state: StateInit,
	}
	e.Recv.OnHigh(func() { nlog.Warningln("server engine: recv-queue reached high watermark") })
	e.Recv.OnLow(func() { nlog.Infoln("server engine: recv-queue dropped to low watermark") })
	return e
}

func (e *ServerEngine) noteFrameSent(cmd stompf.Command) {
	if e.Metrics != nil {
		e.Metrics.FramesSent.WithLabelValues(frameLabel(cmd)).Inc()
	}
}

func (e *ServerEngine) noteFrameReceived(cmd stompf.Command) {
	if e.Metrics != nil {
		e.Metrics.FramesReceived.WithLabelValues(frameLabel(cmd)).Inc()
	}
}

func (e *ServerEngine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *ServerEngine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// Run waits for CONNECT, replies CONNECTED, then runs the writer and
// reader tasks until the connection closes (spec §4.4).
func (e *ServerEngine) Run(ctx context.Context) error {
	group, gctx := errgroup.WithContext(ctx)

	if err := e.handshake(gctx); err != nil {
		e.setState(StateClosing)
		e.closeConn()
		e.setState(StateClosed)
		if e.Metrics != nil {
			e.Metrics.ConnectionsLost.WithLabelValues("server", "handshake").Inc()
		}
		return err
	}
	e.setState(StateConnected)
	if e.Metrics != nil {
		e.Metrics.Connections.WithLabelValues("server").Inc()
	}

	group.Go(func() error { return e.writerLoop(gctx) })
	group.Go(func() error { return e.readerLoop(gctx) })
	group.Go(func() error {
		<-gctx.Done()
		e.closeConn()
		return nil
	})

	err := group.Wait()
	e.setState(StateClosing)
	e.closeConn()
	e.Send.Close()
	e.Recv.Close()
	e.setState(StateClosed)
	if e.Metrics != nil {
		e.Metrics.ConnectionsLost.WithLabelValues("server", "closed").Inc()
	}
	return err
}

func (e *ServerEngine) closeConn() { _ = e.conn.Close() }

func (e *ServerEngine) writeFrame(f stompf.Frame) error {
	if err := writeFrame(e.conn, f); err != nil {
		return err
	}
	e.noteFrameSent(f.Command)
	return nil
}

func (e *ServerEngine) handshake(ctx context.Context) error {
	deadline := time.Now().Add(e.cfg.ConnectTimeout)
	_ = e.conn.SetReadDeadline(deadline)
	defer e.conn.SetReadDeadline(time.Time{})

	buf := make([]byte, 4096)
	for {
		n, err := e.conn.Read(buf)
		if err != nil {
			return cos.NewTimeoutError("waiting for CONNECT: %v", err)
		}
		frames, err := e.codec.Feed(buf[:n])
		if err != nil {
			return err
		}
		for _, f := range frames {
			e.noteFrameReceived(f.Command)
			if f.IsHeartbeat() {
				continue
			}
			if f.Command != stompf.CmdCONNECT {
				return cos.NewProtocolError("expected CONNECT, got %s", f.Command)
			}
			av, _ := f.Get("accept-version")
			if !acceptsVersion12(av) {
				return cos.NewProtocolError("peer does not accept STOMP 1.2: %q", av)
			}
			hbv, _ := f.Get("heart-beat")
			peerHB, err := parseHeartBeat(hbv)
			if err != nil {
				return err
			}
			hbSend, hbRecv := negotiate(e.cfg.HeartBeatSendMin, e.cfg.HeartBeatRecvWant, peerHB)
			e.mu.Lock()
			e.hbSend, e.hbRecv = hbSend, hbRecv
			e.mu.Unlock()

			reply := stompf.New(stompf.CmdCONNECTED,
				stompf.H("version", "1.2"),
				stompf.H("heart-beat", formatHeartBeat(HeartBeat{SX: e.cfg.HeartBeatSendMin, SY: e.cfg.HeartBeatRecvWant})),
				stompf.H("session", uuid.NewString()),
			)
			return e.writeFrame(reply)
		}
	}
}

func acceptsVersion12(header string) bool {
	for _, v := range splitCommaList(header) {
		if v == "1.2" {
			return true
		}
	}
	return false
}

func splitCommaList(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ',' {
			out = append(out, trimSpace(s[start:i]))
			start = i + 1
		}
	}
	out = append(out, trimSpace(s[start:]))
	return out
}

func trimSpace(s string) string {
	for len(s) > 0 && s[0] == ' ' {
		s = s[1:]
	}
	for len(s) > 0 && s[len(s)-1] == ' ' {
		s = s[:len(s)-1]
	}
	return s
}

// writerLoop implements spec §4.4 step 3: emit RECEIPT and ERROR frames as
// the relay loop above pushes them, and stop (without writing a frame) on
// SendDone.
func (e *ServerEngine) writerLoop(ctx context.Context) error {
	for {
		item, err := e.Send.Get(ctx)
		if err != nil {
			if err == wqueue.ErrClosed {
				return nil
			}
			return err
		}
		switch item.kind {
		case sendReceipt:
			f := stompf.New(stompf.CmdRECEIPT, stompf.H("receipt-id", item.Receipt))
			if err := e.writeFrame(f); err != nil {
				return err
			}
		case sendServerError:
			f := stompf.New(stompf.CmdERROR, stompf.H("message", item.Err.Msg))
			if item.Err.ReceiptID != "" {
				f.Add("receipt-id", item.Err.ReceiptID)
			}
			if item.Err.ContextType != "" {
				f.Add("message-type", item.Err.ContextType)
			}
			if item.Err.ContextEncoding != "" {
				f.Add("content-type", item.Err.ContextEncoding)
			}
			f.Body = item.Err.ContextBody
			if err := e.writeFrame(f); err != nil {
				return err
			}
			e.setState(StateClosing)
			return nil
		case sendDone:
			e.setState(StateClosing)
			return nil
		default:
			return cos.NewProtocolError("server engine: unexpected send item")
		}
	}
}

// readerLoop implements spec §4.4 step 2: every SEND with a receipt header
// becomes an InboundMessage on the recv-queue. Reads stall only while a Put
// blocks on a full recv-queue; the watermark callbacks set in NewServer log
// the crossing and do not pause the transport.
func (e *ServerEngine) readerLoop(ctx context.Context) error {
	buf := make([]byte, 32*1024)
	for {
		n, err := e.conn.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return cos.NewTimeoutError("connection lost: %v", err)
		}
		frames, ferr := e.codec.Feed(buf[:n])
		for _, f := range frames {
			e.noteFrameReceived(f.Command)
			if f.IsHeartbeat() {
				continue
			}
			if err := e.handleInbound(ctx, f); err != nil {
				return err
			}
		}
		if ferr != nil {
			return ferr
		}
	}
}

func (e *ServerEngine) handleInbound(ctx context.Context, f stompf.Frame) error {
	switch f.Command {
	case stompf.CmdSUBSCRIBE:
		return nil // SUBSCRIBE frames are ignored; repeated ones are not counted or rejected
	case stompf.CmdSEND:
		receipt, ok := f.Get("receipt")
		if !ok {
			return cos.NewProtocolError("SEND without receipt header")
		}
		msgType, ok := f.Get("message-type")
		if !ok {
			dest, _ := f.Get("destination")
			msgType = dest
		}
		contentType, _ := f.Get("content-type")
		return e.Recv.Put(ctx, RecvMessage(InboundMessage{
			ID:          receipt,
			Type:        msgType,
			ContentType: contentType,
			Body:        f.Body,
		}))
	case stompf.CmdDISCONNECT:
		return nil
	default:
		return cos.NewProtocolError("unexpected command on server side: %s", f.Command)
	}
}
