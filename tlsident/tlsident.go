// Package tlsident implements the one piece of the TLS contract spec §6
// leaves in scope: post-handshake identity verification. Hostname
// verification is disabled (mutual-TLS peers are named by node_id, not
// DNS); instead the peer certificate's subject common-name is matched
// against the configured node_id after the handshake completes.
package tlsident

import (
	"crypto/tls"

	"github.com/ledgerline/stomp-relay/cmn/cos"
)

// VerifyPeer checks that state's first peer certificate identifies nodeID:
// its subject CommonName must equal nodeID exactly. The subject's
// serialNumber attribute is not consulted.
func VerifyPeer(state tls.ConnectionState, nodeID string) error {
	if len(state.PeerCertificates) == 0 {
		return cos.NewServerError("Invalid certificate subject: no peer certificate presented")
	}
	cn := state.PeerCertificates[0].Subject.CommonName
	if cn != nodeID {
		return cos.NewServerError("Invalid certificate subject: CN " + cn + " does not match node_id " + nodeID)
	}
	return nil
}
