package stompf_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/ledgerline/stomp-relay/cmn/cos"
	"github.com/ledgerline/stomp-relay/stompf"
)

func TestCodecRoundTrip(t *testing.T) {
	f := stompf.New(stompf.CmdSEND,
		stompf.H("destination", "/exchange/x"),
		stompf.H("weird", "a:b\\c\r\n"),
	)
	f.Body = []byte(`{"type":"AccountPurge"}`)

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}

	c := stompf.NewCodec()
	frames, err := c.Feed(buf.Bytes())
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	got := frames[0]
	if got.Command != stompf.CmdSEND {
		t.Fatalf("command = %q", got.Command)
	}
	if v, _ := got.Get("weird"); v != "a:b\\c\r\n" {
		t.Fatalf("weird header round-trip failed: %q", v)
	}
	if !bytes.Equal(got.Body, f.Body) {
		t.Fatalf("body mismatch: %q", got.Body)
	}
}

func TestCodecHeartbeat(t *testing.T) {
	c := stompf.NewCodec()
	frames, err := c.Feed([]byte("\n"))
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(frames) != 1 || !frames[0].IsHeartbeat() {
		t.Fatalf("expected single heartbeat frame, got %+v", frames)
	}
}

func TestCodecIncrementalFeed(t *testing.T) {
	raw := "CONNECTED\nversion:1.2\n\n\x00"
	c := stompf.NewCodec()

	var all []stompf.Frame
	for i := 0; i < len(raw); i++ {
		got, err := c.Feed([]byte{raw[i]})
		if err != nil {
			t.Fatalf("Feed byte %d: %v", i, err)
		}
		all = append(all, got...)
	}
	if len(all) != 1 || all[0].Command != stompf.CmdCONNECTED {
		t.Fatalf("expected 1 CONNECTED frame fed one byte at a time, got %+v", all)
	}
}

func TestCodecUnknownCommand(t *testing.T) {
	c := stompf.NewCodec()
	_, err := c.Feed([]byte("BEGIN\n\n\x00"))
	if !cos.IsProtocolError(err) {
		t.Fatalf("expected ProtocolError for BEGIN, got %v", err)
	}
}

func TestCodecOversizeBody(t *testing.T) {
	c := stompf.NewCodec(stompf.WithMaxBodyBytes(8))
	body := strings.Repeat("x", 9)
	raw := "SEND\ncontent-length:9\n\n" + body + "\x00"
	_, err := c.Feed([]byte(raw))
	if !cos.IsProtocolError(err) {
		t.Fatalf("expected ProtocolError for oversize body, got %v", err)
	}
}

func TestCodecResyncBetweenFrames(t *testing.T) {
	// Servers commonly pad a NUL-terminated frame with an extra EOL before
	// the next frame; the decoder must skip it rather than treating it as
	// a heartbeat-then-garbage sequence.
	raw := "RECEIPT\nreceipt-id:1\n\n\x00\r\nRECEIPT\nreceipt-id:2\n\n\x00"
	c := stompf.NewCodec()
	frames, err := c.Feed([]byte(raw))
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d: %+v", len(frames), frames)
	}
	id0, _ := frames[0].Get("receipt-id")
	id1, _ := frames[1].Get("receipt-id")
	if id0 != "1" || id1 != "2" {
		t.Fatalf("receipt ids = %q, %q", id0, id1)
	}
}
