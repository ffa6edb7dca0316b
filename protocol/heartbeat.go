package protocol

import (
	"strconv"
	"strings"
	"time"

	"github.com/ledgerline/stomp-relay/cmn/cos"
)

// parseHeartBeat parses a STOMP "heart-beat:sx,sy" header value (both sides
// in milliseconds) into a HeartBeat of time.Duration.
func parseHeartBeat(s string) (HeartBeat, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return HeartBeat{}, cos.NewProtocolError("malformed heart-beat header: %q", s)
	}
	sx, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || sx < 0 {
		return HeartBeat{}, cos.NewProtocolError("malformed heart-beat header: %q", s)
	}
	sy, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || sy < 0 {
		return HeartBeat{}, cos.NewProtocolError("malformed heart-beat header: %q", s)
	}
	return HeartBeat{
		SX: time.Duration(sx) * time.Millisecond,
		SY: time.Duration(sy) * time.Millisecond,
	}, nil
}

func formatHeartBeat(hb HeartBeat) string {
	return strconv.FormatInt(hb.SX.Milliseconds(), 10) + "," + strconv.FormatInt(hb.SY.Milliseconds(), 10)
}

// negotiate implements spec §4.3 step 2's hb_send/hb_recv formula. sendMin
// and recvDesired are this side's own settings; peer is the heart-beat
// header the other side advertised.
func negotiate(sendMin, recvDesired time.Duration, peer HeartBeat) (hbSend, hbRecv time.Duration) {
	if sendMin == 0 || peer.SY == 0 {
		hbSend = 0
	} else {
		hbSend = max(sendMin, peer.SY)
	}
	if recvDesired == 0 || peer.SX == 0 {
		hbRecv = 0
	} else {
		hbRecv = max(recvDesired, peer.SX)
	}
	return hbSend, hbRecv
}
