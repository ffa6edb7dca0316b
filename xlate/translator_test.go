package xlate_test

import (
	"encoding/json"
	"fmt"
	"reflect"
	"testing"

	"github.com/ledgerline/stomp-relay/cmn/cos"
	"github.com/ledgerline/stomp-relay/peerdir"
	"github.com/ledgerline/stomp-relay/rconfig"
	"github.com/ledgerline/stomp-relay/xlate"
)

func subnet(t *testing.T, hex string) peerdir.Subnet {
	t.Helper()
	s, err := peerdir.ParseSubnet(hex)
	if err != nil {
		t.Fatalf("ParseSubnet(%q): %v", hex, err)
	}
	return s
}

func accountPurgeBody(debtorID, creditorID int64) []byte {
	return []byte(fmt.Sprintf(`{
		"type": "AccountPurge",
		"debtor_id": %d,
		"creditor_id": %d,
		"creation_date": "2001-01-01",
		"ts": "2023-01-01T12:00:00+00:00"
	}`, debtorID, creditorID))
}

func prepareTransferBody(debtorID, creditorID int64, coordinatorType string, coordinatorID int64) []byte {
	return []byte(fmt.Sprintf(`{
		"type": "PrepareTransfer",
		"debtor_id": %d,
		"creditor_id": %d,
		"min_locked_amount": 1000,
		"max_locked_amount": 2000,
		"recipient": "RECIPIENT",
		"final_interest_rate_ts": "9999-12-31T23:59:59+00:00",
		"max_commit_delay": 100000,
		"coordinator_type": "%s",
		"coordinator_id": %d,
		"coordinator_request_id": 1111,
		"ts": "2023-01-01T12:00:00+00:00"
	}`, debtorID, creditorID, coordinatorType, coordinatorID))
}

func rejectedTransferBody(debtorID, creditorID int64, coordinatorType string, coordinatorID int64) []byte {
	return []byte(fmt.Sprintf(`{
		"type": "RejectedTransfer",
		"debtor_id": %d,
		"creditor_id": %d,
		"coordinator_type": "%s",
		"coordinator_id": %d,
		"coordinator_request_id": 1111,
		"status_code": "TEST_ERROR",
		"total_locked_amount": 0,
		"ts": "2023-01-01T12:00:00+00:00"
	}`, debtorID, creditorID, coordinatorType, coordinatorID))
}

func assertJSONEqual(t *testing.T, got, want []byte) {
	t.Helper()
	var g, w any
	if err := json.Unmarshal(got, &g); err != nil {
		t.Fatalf("unmarshal got: %v", err)
	}
	if err := json.Unmarshal(want, &w); err != nil {
		t.Fatalf("unmarshal want: %v", err)
	}
	if !reflect.DeepEqual(g, w) {
		t.Fatalf("bodies differ:\ngot:  %s\nwant: %s", got, want)
	}
}

// TestTransformAAtoCA reproduces spec §8 scenario 3.
func TestTransformAAtoCA(t *testing.T) {
	node := &peerdir.NodeInfo{Role: peerdir.RoleAA}
	peer := &peerdir.PeerInfo{
		CreditorsSubnet: subnet(t, "000001"),
		DebtorsSubnet:   subnet(t, "1234ABCD"),
	}
	tr := xlate.New(node, peer, rconfig.Default())

	body := accountPurgeBody(0x1234ABCD00000001, 0x0000010000000ABC)
	out, err := tr.Transform(xlate.BrokerMessage{ID: "1", Type: "AccountPurge", ContentType: "application/json", Body: body})
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	assertJSONEqual(t, out.Body, body)

	badDebtor := accountPurgeBody(0x1234ABCE00000001, 0x0000010000000ABC)
	if _, err := tr.Transform(xlate.BrokerMessage{ID: "1", Type: "AccountPurge", ContentType: "application/json", Body: badDebtor}); !cos.IsProcessingError(err) {
		t.Fatalf("expected ProcessingError for invalid debtor ID, got %v", err)
	}
}

// TestTransformCARewrite reproduces spec §8 scenario 4.
func TestTransformCARewrite(t *testing.T) {
	node := &peerdir.NodeInfo{Role: peerdir.RoleCA, CreditorsSubnet: subnet(t, "000008")}
	peer := &peerdir.PeerInfo{
		CreditorsSubnet: subnet(t, "000001"),
		DebtorsSubnet:   subnet(t, "1234ABCD"),
	}
	tr := xlate.New(node, peer, rconfig.Default())

	body := prepareTransferBody(0x1234ABCD00000001, 0x0000080000000ABC, "direct", 0x0000080000000002)
	out, err := tr.Transform(xlate.BrokerMessage{ID: "1", Type: "PrepareTransfer", ContentType: "application/json", Body: body})
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	want := prepareTransferBody(0x1234ABCD00000001, 0x0000010000000ABC, "direct", 0x0000010000000002)
	assertJSONEqual(t, out.Body, want)
}

// TestPreprocessCA reproduces the CA inbound scenario from the retrieval
// pack's test suite (RejectedTransfer, both "direct" and "agent" cases).
func TestPreprocessCA(t *testing.T) {
	node := &peerdir.NodeInfo{Role: peerdir.RoleCA, CreditorsSubnet: subnet(t, "000008")}
	peer := &peerdir.PeerInfo{
		CreditorsSubnet: subnet(t, "000001"),
		DebtorsSubnet:   subnet(t, "1234ABCD"),
	}
	tr := xlate.New(node, peer, rconfig.Default())

	body := rejectedTransferBody(0x1234ABCD00000001, 0x0000010100000ABC, "direct", 0x0000010100000ABC)
	out, err := tr.Preprocess(xlate.Message{ID: "1", Type: "RejectedTransfer", ContentType: "application/json", Body: body})
	if err != nil {
		t.Fatalf("Preprocess: %v", err)
	}
	wantHeaders := map[string]any{
		"message-type":     "RejectedTransfer",
		"debtor-id":        int64(0x1234ABCD00000001),
		"creditor-id":      int64(0x0000080100000ABC),
		"coordinator-id":   int64(0x0000080100000ABC),
		"coordinator-type": "direct",
		"ca-creditors":     true,
		"ca-trade":         false,
	}
	if !reflect.DeepEqual(out.Headers, wantHeaders) {
		t.Fatalf("headers = %#v, want %#v", out.Headers, wantHeaders)
	}
	if want := xlate.BinRoutingKey(0x0000080100000ABC); out.RoutingKey != want {
		t.Fatalf("routing key = %q, want %q", out.RoutingKey, want)
	}
	assertJSONEqual(t, out.Body, rejectedTransferBody(0x1234ABCD00000001, 0x0000080100000ABC, "direct", 0x0000080100000ABC))

	agentBody := rejectedTransferBody(0x1234ABCD00000001, 0x0000010100000ABC, "agent", 0x0000010100000002)
	out, err = tr.Preprocess(xlate.Message{ID: "1", Type: "RejectedTransfer", ContentType: "application/json", Body: agentBody})
	if err != nil {
		t.Fatalf("Preprocess agent case: %v", err)
	}
	if want := xlate.BinRoutingKey(0x0000080100000002); out.RoutingKey != want {
		t.Fatalf("routing key = %q, want %q", out.RoutingKey, want)
	}
	assertJSONEqual(t, out.Body, rejectedTransferBody(0x1234ABCD00000001, 0x0000080100000ABC, "agent", 0x0000080100000002))
}

// TestPreprocessDA reproduces the DA inbound AccountPurge scenario.
func TestPreprocessDA(t *testing.T) {
	node := &peerdir.NodeInfo{Role: peerdir.RoleDA, DebtorsSubnet: subnet(t, "1234ABCD")}
	peer := &peerdir.PeerInfo{CreditorsSubnet: subnet(t, "")}
	tr := xlate.New(node, peer, rconfig.Default())

	body := accountPurgeBody(0x1234ABCD00000001, 0x0000000000000000)
	out, err := tr.Preprocess(xlate.Message{ID: "1", Type: "AccountPurge", ContentType: "application/json", Body: body})
	if err != nil {
		t.Fatalf("Preprocess: %v", err)
	}
	wantHeaders := map[string]any{
		"message-type": "AccountPurge",
		"debtor-id":    int64(0x1234ABCD00000001),
		"creditor-id":  int64(0),
	}
	if !reflect.DeepEqual(out.Headers, wantHeaders) {
		t.Fatalf("headers = %#v, want %#v", out.Headers, wantHeaders)
	}
	if want := xlate.BinRoutingKey(0x1234ABCD00000001); out.RoutingKey != want {
		t.Fatalf("routing key = %q, want %q", out.RoutingKey, want)
	}
}

func TestPreprocessRejectsUnknownCoordinatorType(t *testing.T) {
	node := &peerdir.NodeInfo{Role: peerdir.RoleAA}
	peer := &peerdir.PeerInfo{
		CreditorsSubnet: subnet(t, "000001"),
		DebtorsSubnet:   subnet(t, "1234ABCD"),
	}
	tr := xlate.New(node, peer, rconfig.Default())

	body := prepareTransferBody(0x1234ABCD00000001, 0x0000010000000ABC, "invalid", 0x0000020000000ABC)
	_, err := tr.Preprocess(xlate.Message{ID: "1", Type: "PrepareTransfer", ContentType: "application/json", Body: body})
	if !cos.IsServerError(err) {
		t.Fatalf("expected ServerError for invalid coordinator_type, got %v", err)
	}
}
