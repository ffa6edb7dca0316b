package protocol

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ledgerline/stomp-relay/cmn/cos"
	"github.com/ledgerline/stomp-relay/cmn/nlog"
	"github.com/ledgerline/stomp-relay/rstats"
	"github.com/ledgerline/stomp-relay/stompf"
	"github.com/ledgerline/stomp-relay/wqueue"
)

// ClientConfig parameterises a ClientEngine connection (spec §4.3).
type ClientConfig struct {
	Host              string // sent as the CONNECT "host" header
	Destination       string // sent as the SEND "destination" header
	HeartBeatSendMin  time.Duration
	HeartBeatRecvWant time.Duration
	MaxNetworkDelay   time.Duration // default 30s; handshake + watchdog slack
	QueueCapacity     int
}

// ClientEngine drives the STOMP 1.2 client-side handshake and steady state
// over a single net.Conn (spec §4.3). Construct with NewClient, then Run.
type ClientEngine struct {
	cfg   ClientConfig
	conn  net.Conn
	codec *stompf.Codec

	Send *wqueue.Queue[SendItem]
	Recv *wqueue.Queue[RecvItem]

	// Metrics is optional; when set, frame and connection counters are
	// reported to it (spec's ambient metrics concern). Nil is safe.
	Metrics *rstats.Registry

	mu     sync.Mutex
	state  State
	hbSend time.Duration
	hbRecv time.Duration

	writable   chan struct{} // closed/reopened to gate the writer on backpressure
	writableMu sync.Mutex

	byteCh chan struct{} // pinged by readerLoop, consumed by watchdogLoop
}

func NewClient(conn net.Conn, codec *stompf.Codec, cfg ClientConfig) *ClientEngine {
	if cfg.MaxNetworkDelay == 0 {
		cfg.MaxNetworkDelay = 30 * time.Second
	}
	if cfg.QueueCapacity == 0 {
		cfg.QueueCapacity = 1000
	}
	e := &ClientEngine{
		cfg:   cfg,
		conn:  conn,
		codec: codec,
		Send:  wqueue.New[SendItem](cfg.QueueCapacity),
		Recv:  wqueue.New[RecvItem](cfg.QueueCapacity),
		state: StateInit,
	}
	e.Recv.OnHigh(func() { nlog.Warningln("client engine: recv-queue reached high watermark") })
	e.Recv.OnLow(func() { nlog.Infoln("client engine: recv-queue dropped to low watermark") })
	e.setWritable(true)
	return e
}

func (e *ClientEngine) noteFrameSent(cmd stompf.Command) {
	if e.Metrics != nil {
		e.Metrics.FramesSent.WithLabelValues(frameLabel(cmd)).Inc()
	}
}

func (e *ClientEngine) noteFrameReceived(cmd stompf.Command) {
	if e.Metrics != nil {
		e.Metrics.FramesReceived.WithLabelValues(frameLabel(cmd)).Inc()
	}
}

func frameLabel(cmd stompf.Command) string {
	if cmd == "" {
		return "heartbeat"
	}
	return string(cmd)
}

func (e *ClientEngine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *ClientEngine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

func (e *ClientEngine) setWritable(ok bool) {
	e.writableMu.Lock()
	defer e.writableMu.Unlock()
	if ok {
		if e.writable == nil {
			e.writable = make(chan struct{})
		}
		select {
		case <-e.writable:
		default:
			close(e.writable)
		}
	} else {
		e.writable = make(chan struct{})
	}
}

func (e *ClientEngine) awaitWritable(ctx context.Context) error {
	e.writableMu.Lock()
	ch := e.writable
	e.writableMu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run performs the CONNECT handshake and then runs the writer, watchdog,
// and reader tasks until the connection closes or ctx is cancelled. It
// returns the first error observed by any task (spec §5: one errgroup tree
// per connection, failure in any task cancels the rest).
func (e *ClientEngine) Run(ctx context.Context) error {
	group, gctx := errgroup.WithContext(ctx)

	if err := e.handshake(gctx); err != nil {
		e.setState(StateClosing)
		e.closeConn()
		e.setState(StateClosed)
		if e.Metrics != nil {
			e.Metrics.ConnectionsLost.WithLabelValues("client", "handshake").Inc()
		}
		return err
	}
	if e.Metrics != nil {
		e.Metrics.Connections.WithLabelValues("client").Inc()
	}

	group.Go(func() error { return e.writerLoop(gctx) })
	group.Go(func() error { return e.watchdogLoop(gctx) })
	group.Go(func() error { return e.readerLoop(gctx) })
	// net.Conn.Read has no context support; closing the transport on
	// cancellation is what actually unblocks readerLoop (spec §5:
	// cancellation closes the transport, which triggers connection_lost).
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
		e.Metrics.ConnectionsLost.WithLabelValues("client", "closed").Inc()
	}
	return err
}

func (e *ClientEngine) closeConn() {
	_ = e.conn.Close()
}

// handshake implements spec §4.3 step 1-2: send CONNECT, arm the
// max_network_delay timer, and wait for CONNECTED.
func (e *ClientEngine) handshake(ctx context.Context) error {
	e.setState(StateConnecting)

	connect := stompf.New(stompf.CmdCONNECT,
		stompf.H("accept-version", "1.2"),
		stompf.H("host", e.cfg.Host),
		stompf.H("heart-beat", formatHeartBeat(HeartBeat{SX: e.cfg.HeartBeatSendMin, SY: e.cfg.HeartBeatRecvWant})),
	)
	if err := e.writeFrame(connect); err != nil {
		return err
	}

	deadline := time.Now().Add(e.cfg.MaxNetworkDelay)
	_ = e.conn.SetReadDeadline(deadline)
	defer e.conn.SetReadDeadline(time.Time{})

	buf := make([]byte, 4096)
	for {
		n, err := e.conn.Read(buf)
		if err != nil {
			return cos.NewTimeoutError("handshake: %v", err)
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
			if f.Command != stompf.CmdCONNECTED {
				return cos.NewProtocolError("expected CONNECTED, got %s", f.Command)
			}
			if v, _ := f.Get("version"); v != "1.2" {
				return cos.NewProtocolError("unsupported STOMP version: %s", v)
			}
			hbv, _ := f.Get("heart-beat")
			peerHB, err := parseHeartBeat(hbv)
			if err != nil {
				return err
			}
			hbSend, hbRecv := negotiate(e.cfg.HeartBeatSendMin, e.cfg.HeartBeatRecvWant, peerHB)
			e.mu.Lock()
			e.hbSend, e.hbRecv = hbSend, hbRecv
			e.state = StateConnected
			e.mu.Unlock()
			return nil
		}
	}
}

// HeartBeats returns the negotiated (hb_send, hb_recv) intervals, valid
// once the engine has reached StateConnected.
func (e *ClientEngine) HeartBeats() (send, recv time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hbSend, e.hbRecv
}

// writerLoop implements spec §4.3 step 3's writer task: drain the
// send-queue, emitting SEND/ERROR/DISCONNECT frames, idling into a
// heartbeat after hb_send of silence.
func (e *ClientEngine) writerLoop(ctx context.Context) error {
	idle := e.hbSend
	var timer *time.Timer
	if idle > 0 {
		timer = time.NewTimer(idle)
		defer timer.Stop()
	}

	// A single dedicated goroutine feeds the queue's output into itemCh so
	// the select loop below never has more than one outstanding Get per
	// queue item (re-spawning a Get per loop iteration would risk two
	// concurrent waiters racing for the same item across a heartbeat tick).
	itemCh := make(chan SendItem)
	errCh := make(chan error, 1)
	go func() {
		for {
			item, err := e.Send.Get(ctx)
			if err != nil {
				errCh <- err
				return
			}
			select {
			case itemCh <- item:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		var waitCh <-chan time.Time
		if timer != nil {
			waitCh = timer.C
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			if err == wqueue.ErrClosed {
				return nil
			}
			return err
		case <-waitCh:
			if err := e.awaitWritable(ctx); err != nil {
				return err
			}
			if err := e.writeFrame(stompf.Heartbeat); err != nil {
				return err
			}
			timer.Reset(idle)
		case item := <-itemCh:
			if timer != nil {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
			}
			done, err := e.handleSendItem(ctx, item)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
			if timer != nil {
				timer.Reset(idle)
			}
		}
	}
}

func (e *ClientEngine) handleSendItem(ctx context.Context, item SendItem) (done bool, err error) {
	if err := e.awaitWritable(ctx); err != nil {
		return false, err
	}
	switch item.kind {
	case sendMessage:
		m := item.Message
		f := stompf.New(stompf.CmdSEND,
			stompf.H("destination", e.cfg.Destination),
			stompf.H("content-type", m.ContentType),
			stompf.H("receipt", m.ID),
		)
		f.Body = m.Body
		return false, e.writeFrame(f)
	case sendDone:
		f := stompf.New(stompf.CmdDISCONNECT, stompf.H("receipt", "close"))
		if err := e.writeFrame(f); err != nil {
			return false, err
		}
		e.setState(StateClosing)
		return true, nil
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
			return false, err
		}
		e.setState(StateClosing)
		return true, nil
	default:
		return false, fmt.Errorf("protocol: unexpected send item kind %d", item.kind)
	}
}

// watchdogLoop implements spec §4.3 step 3's watchdog task: abort if no
// byte arrives within hb_recv + max_network_delay.
func (e *ClientEngine) watchdogLoop(ctx context.Context) error {
	if e.hbRecv == 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	limit := e.hbRecv + e.cfg.MaxNetworkDelay
	timer := time.NewTimer(limit)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return cos.NewTimeoutError("no bytes from peer within %s", limit)
		case <-e.byteArrived():
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(limit)
		}
	}
}

// byteArrived is a placeholder signal channel; readerLoop pings it via
// noteByte whenever a Read succeeds. Implemented as a buffered channel so a
// burst of reads never blocks the reader.
func (e *ClientEngine) byteArrived() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.byteCh == nil {
		e.byteCh = make(chan struct{}, 1)
	}
	return e.byteCh
}

func (e *ClientEngine) noteByte() {
	e.mu.Lock()
	if e.byteCh == nil {
		e.byteCh = make(chan struct{}, 1)
	}
	ch := e.byteCh
	e.mu.Unlock()
	select {
	case ch <- struct{}{}:
	default:
	}
}

// readerLoop implements spec §4.3 step 3's inbound handling: RECEIPT pushes
// to recv-queue, ERROR closes, anything else is a protocol error. Reads
// stall only while a Put blocks on a full recv-queue; the watermark
// callbacks set in NewClient log the crossing and do not pause the transport.
func (e *ClientEngine) readerLoop(ctx context.Context) error {
	buf := make([]byte, 32*1024)
	for {
		if err := e.conn.SetReadDeadline(time.Time{}); err != nil {
			return err
		}
		n, err := e.conn.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return cos.NewTimeoutError("connection lost: %v", err)
		}
		e.noteByte()
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

func (e *ClientEngine) handleInbound(ctx context.Context, f stompf.Frame) error {
	switch f.Command {
	case stompf.CmdRECEIPT:
		id, ok := f.Get("receipt-id")
		if !ok {
			return cos.NewProtocolError("RECEIPT without receipt-id")
		}
		return e.Recv.Put(ctx, RecvReceipt(id))
	case stompf.CmdERROR:
		msg, _ := f.Get("message")
		_ = e.Recv.Put(ctx, RecvErr(cos.NewServerError(msg)))
		e.setState(StateClosing)
		return cos.NewServerError(msg)
	default:
		return cos.NewProtocolError("unexpected command on client side: %s", f.Command)
	}
}

func (e *ClientEngine) writeFrame(f stompf.Frame) error {
	if err := writeFrame(e.conn, f); err != nil {
		return err
	}
	e.noteFrameSent(f.Command)
	return nil
}

func writeFrame(conn net.Conn, f stompf.Frame) error {
	_, err := f.WriteTo(conn)
	return err
}
