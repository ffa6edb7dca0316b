// Package peerdir implements lookup of the owning node's and its peers'
// metadata (spec §6 PeerDirectory), with a file:// directory-backed
// concrete implementation. Ported from the original Python database
// abstraction (original_source/swpt_stomp/peer_data.py) into Go idiom:
// error returns instead of exceptions, os.ReadFile instead of aiofiles.
package peerdir

import (
	"context"
	"fmt"
)

// NodeRole is the three-variant tagged union spec §3 requires: Accounting
// Authority, Creditors Agent, or Debtors Agent.
type NodeRole int

const (
	RoleAA NodeRole = iota + 1
	RoleCA
	RoleDA
)

func (r NodeRole) String() string {
	switch r {
	case RoleAA:
		return "Accounting Authorities"
	case RoleCA:
		return "Creditors Agents"
	case RoleDA:
		return "Debtors Agents"
	default:
		return fmt.Sprintf("NodeRole(%d)", int(r))
	}
}

// ParseNodeRole parses the db/nodetype file contents.
func ParseNodeRole(s string) (NodeRole, error) {
	switch s {
	case "Accounting Authorities":
		return RoleAA, nil
	case "Creditors Agents":
		return RoleCA, nil
	case "Debtors Agents":
		return RoleDA, nil
	default:
		return 0, fmt.Errorf("invalid node type: %s", s)
	}
}

// HostPort is one entry from a peer's servers file.
type HostPort struct {
	Host string
	Port int
}

// NodeInfo describes the local node that owns this relay instance.
type NodeInfo struct {
	Role            NodeRole
	NodeID          string
	RootCert        []byte
	CreditorsSubnet Subnet
	DebtorsSubnet   Subnet
}

// PeerInfo describes one peer of the owning node.
type PeerInfo struct {
	Role              NodeRole
	NodeID            string
	Servers           []HostPort
	StompHost         string
	StompDestination  string
	RootCert          []byte
	PeerCert          []byte
	SubCert           []byte // optional; nil if the peer has none
	CreditorsSubnet   Subnet
	DebtorsSubnet     Subnet
}

// Directory is the PeerDirectory capability of spec §6: lookup of local-node
// and peer metadata. The file:// implementation is FSDirectory; an AMQP- or
// database-backed implementation would satisfy the same interface.
type Directory interface {
	NodeInfo(ctx context.Context) (*NodeInfo, error)
	PeerInfo(ctx context.Context, nodeID string) (*PeerInfo, error)
}
