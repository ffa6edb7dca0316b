package tlsident_test

import (
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"testing"

	"github.com/ledgerline/stomp-relay/cmn/cos"
	"github.com/ledgerline/stomp-relay/tlsident"
)

func certWithCN(cn string) *x509.Certificate {
	return &x509.Certificate{Subject: pkix.Name{CommonName: cn}}
}

func TestVerifyPeerMatches(t *testing.T) {
	state := tls.ConnectionState{PeerCertificates: []*x509.Certificate{certWithCN("node-1234")}}
	if err := tlsident.VerifyPeer(state, "node-1234"); err != nil {
		t.Fatalf("VerifyPeer: %v", err)
	}
}

func TestVerifyPeerMismatch(t *testing.T) {
	state := tls.ConnectionState{PeerCertificates: []*x509.Certificate{certWithCN("node-1234")}}
	err := tlsident.VerifyPeer(state, "node-9999")
	if !cos.IsServerError(err) {
		t.Fatalf("expected ServerError, got %v", err)
	}
}

func TestVerifyPeerNoCertificate(t *testing.T) {
	err := tlsident.VerifyPeer(tls.ConnectionState{}, "node-1234")
	if !cos.IsServerError(err) {
		t.Fatalf("expected ServerError, got %v", err)
	}
}
