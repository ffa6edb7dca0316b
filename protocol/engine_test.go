package protocol_test

import (
	"bufio"
	"context"
	"net"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/ledgerline/stomp-relay/protocol"
	"github.com/ledgerline/stomp-relay/stompf"
)

// fakePeer reads/writes raw STOMP bytes over one side of a net.Pipe, acting
// as a scripted peer for the engine under test.
type fakePeer struct {
	conn net.Conn
	r    *bufio.Reader
}

func newFakePeer(conn net.Conn) *fakePeer {
	return &fakePeer{conn: conn, r: bufio.NewReader(conn)}
}

func (p *fakePeer) readFrame() stompf.Frame {
	codec := stompf.NewCodec()
	buf := make([]byte, 4096)
	for {
		n, err := p.conn.Read(buf)
		Expect(err).NotTo(HaveOccurred())
		frames, err := codec.Feed(buf[:n])
		Expect(err).NotTo(HaveOccurred())
		for _, f := range frames {
			if !f.IsHeartbeat() {
				return f
			}
		}
	}
}

func (p *fakePeer) writeFrame(f stompf.Frame) {
	_, err := f.WriteTo(p.conn)
	Expect(err).NotTo(HaveOccurred())
}

var _ = Describe("ClientEngine", func() {
	It("negotiates heartbeats and completes the CONNECT handshake (spec scenario 1)", func() {
		clientConn, peerConn := net.Pipe()
		defer clientConn.Close()
		defer peerConn.Close()

		engine := protocol.NewClient(clientConn, stompf.NewCodec(), protocol.ClientConfig{
			Host:              "my",
			Destination:       "dest",
			HeartBeatSendMin:  1000 * time.Millisecond,
			HeartBeatRecvWant: 90 * time.Millisecond,
		})

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		peer := newFakePeer(peerConn)
		done := make(chan struct{})
		go func() {
			defer close(done)
			connect := peer.readFrame()
			Expect(connect.Command).To(Equal(stompf.CmdCONNECT))
			av, _ := connect.Get("accept-version")
			Expect(av).To(Equal("1.2"))
			hb, _ := connect.Get("heart-beat")
			Expect(hb).To(Equal("1000,90"))

			peer.writeFrame(stompf.New(stompf.CmdCONNECTED,
				stompf.H("version", "1.2"),
				stompf.H("heart-beat", "500,8000"),
			))
		}()

		runErr := make(chan error, 1)
		go func() { runErr <- engine.Run(ctx) }()

		Eventually(done, time.Second).Should(BeClosed())
		Eventually(func() protocol.State { return engine.State() }).Should(Equal(protocol.StateConnected))

		send, recv := engine.HeartBeats()
		Expect(send).To(Equal(8000 * time.Millisecond))
		Expect(recv).To(Equal(500 * time.Millisecond))

		cancel()
		Eventually(runErr, time.Second).Should(Receive())
	})

	It("emits SEND with receipt and observes RECEIPT on the recv-queue (spec scenario 2)", func() {
		clientConn, peerConn := net.Pipe()
		defer clientConn.Close()
		defer peerConn.Close()

		engine := protocol.NewClient(clientConn, stompf.NewCodec(), protocol.ClientConfig{
			Host:        "my",
			Destination: "dest",
		})

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		peer := newFakePeer(peerConn)
		go func() {
			connect := peer.readFrame()
			Expect(connect.Command).To(Equal(stompf.CmdCONNECT))
			peer.writeFrame(stompf.New(stompf.CmdCONNECTED,
				stompf.H("version", "1.2"),
				stompf.H("heart-beat", "0,0"),
			))

			send := peer.readFrame()
			Expect(send.Command).To(Equal(stompf.CmdSEND))
			dest, _ := send.Get("destination")
			Expect(dest).To(Equal("dest"))
			ct, _ := send.Get("content-type")
			Expect(ct).To(Equal("text/plain"))
			receipt, _ := send.Get("receipt")
			Expect(receipt).To(Equal("m1"))
			Expect(send.Body).To(Equal([]byte("1")))

			peer.writeFrame(stompf.New(stompf.CmdRECEIPT, stompf.H("receipt-id", "m1")))
		}()

		go func() { _ = engine.Run(ctx) }()

		Eventually(func() protocol.State { return engine.State() }).Should(Equal(protocol.StateConnected))

		err := engine.Send.Put(ctx, protocol.SendMessage(protocol.Message{
			ID:          "m1",
			ContentType: "text/plain",
			Body:        []byte("1"),
		}))
		Expect(err).NotTo(HaveOccurred())

		item, err := engine.Recv.Get(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(item.ReceiptID).To(Equal("m1"))
	})
})

var _ = Describe("ServerEngine", func() {
	It("replies CONNECTED and forwards SEND as an InboundMessage", func() {
		serverConn, peerConn := net.Pipe()
		defer serverConn.Close()
		defer peerConn.Close()

		engine := protocol.NewServer(serverConn, stompf.NewCodec(), protocol.ServerConfig{})

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		peer := newFakePeer(peerConn)
		go func() {
			peer.writeFrame(stompf.New(stompf.CmdCONNECT,
				stompf.H("accept-version", "1.2"),
				stompf.H("host", "peer"),
				stompf.H("heart-beat", "0,0"),
			))
			connected := peer.readFrame()
			Expect(connected.Command).To(Equal(stompf.CmdCONNECTED))
			v, _ := connected.Get("version")
			Expect(v).To(Equal("1.2"))

			f := stompf.New(stompf.CmdSEND,
				stompf.H("destination", "dest"),
				stompf.H("content-type", "application/json"),
				stompf.H("receipt", "r1"),
				stompf.H("message-type", "AccountPurge"),
			)
			f.Body = []byte(`{}`)
			peer.writeFrame(f)
		}()

		go func() { _ = engine.Run(ctx) }()

		item, err := engine.Recv.Get(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(item.Message).NotTo(BeNil())
		Expect(item.Message.ID).To(Equal("r1"))
		Expect(item.Message.Type).To(Equal("AccountPurge"))
	})
})
