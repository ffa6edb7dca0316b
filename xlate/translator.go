package xlate

import (
	"github.com/ledgerline/stomp-relay/cmn/cos"
	"github.com/ledgerline/stomp-relay/cmn/debug"
	"github.com/ledgerline/stomp-relay/peerdir"
	"github.com/ledgerline/stomp-relay/rconfig"
)

// Translator implements transform/preprocess for one connection. It is
// pure and stateless beyond the (node, peer, config) it was built with,
// so a single instance can be shared across concurrent calls.
type Translator struct {
	Node   *peerdir.NodeInfo
	Peer   *peerdir.PeerInfo
	Config *rconfig.Config
}

func New(node *peerdir.NodeInfo, peer *peerdir.PeerInfo, cfg *rconfig.Config) *Translator {
	return &Translator{Node: node, Peer: peer, Config: cfg}
}

// subnets returns, for the owning node's role, which subnet validates the
// debtor_id and which validates the creditor_id of a message (spec §4.5's
// subnet-routing table). debtor_id is never rewritten, so its owning
// subnet doesn't depend on direction. creditor_id, for a CA node, *is*
// rewritten, so before the rewrite it must still be expressed in whichever
// side currently owns it: the node's own allocation when the node is
// transforming a message for the peer, the peer's allocation when
// preprocessing one just received from the peer — i.e. the rewrite's
// `from` subnet in each direction.
func (t *Translator) subnets(outbound bool) (creditorSubnet, debtorSubnet peerdir.Subnet) {
	switch t.Node.Role {
	case peerdir.RoleAA:
		return t.Peer.CreditorsSubnet, t.Peer.DebtorsSubnet
	case peerdir.RoleCA:
		if outbound {
			return t.Node.CreditorsSubnet, t.Peer.DebtorsSubnet
		}
		return t.Peer.CreditorsSubnet, t.Peer.DebtorsSubnet
	case peerdir.RoleDA:
		return t.Peer.CreditorsSubnet, t.Node.DebtorsSubnet
	default:
		return peerdir.Subnet{}, peerdir.Subnet{}
	}
}

func (t *Translator) checkIDs(data map[string]any, outbound bool) (creditorID, debtorID int64, err error) {
	creditorID, err = requiredInt64(data, "creditor_id")
	if err != nil {
		return 0, 0, err
	}
	debtorID, err = requiredInt64(data, "debtor_id")
	if err != nil {
		return 0, 0, err
	}
	creditorSubnet, debtorSubnet := t.subnets(outbound)
	if !creditorSubnet.Match(creditorID) {
		return 0, 0, cos.NewProcessingError("invalid creditor ID: %s", asHex(creditorID))
	}
	if !debtorSubnet.Match(debtorID) {
		return 0, 0, cos.NewProcessingError("invalid debtor ID: %s", asHex(debtorID))
	}
	return creditorID, debtorID, nil
}

// rewriteCreditorSpace applies change_subnet to creditor_id and, when
// present, coordinator_id — both live in the creditor identifier space —
// moving them from one CA's allocation to the other's. Only CA rewrites;
// AA and DA pass identifiers through unchanged (spec §4.5 step 6).
func (t *Translator) rewriteCreditorSpace(data map[string]any, from, to peerdir.Subnet) error {
	if t.Node.Role != peerdir.RoleCA {
		return nil
	}
	creditorID, err := requiredInt64(data, "creditor_id")
	if err != nil {
		return err
	}
	newCreditorID, err := peerdir.ChangeSubnet(creditorID, from, to)
	if err != nil {
		return cos.NewProcessingError("creditor ID subnet mismatch: %v", err)
	}
	debug.Assert(to.Match(newCreditorID), "rewritten creditor_id does not belong to destination subnet")
	data["creditor_id"] = newCreditorID

	coordinatorID, present, err := optionalInt64(data, "coordinator_id")
	if err != nil {
		return err
	}
	if present {
		newCoordinatorID, err := peerdir.ChangeSubnet(coordinatorID, from, to)
		if err != nil {
			return cos.NewProcessingError("coordinator ID subnet mismatch: %v", err)
		}
		debug.Assert(to.Match(newCoordinatorID), "rewritten coordinator_id does not belong to destination subnet")
		data["coordinator_id"] = newCoordinatorID
	}
	return nil
}

// Transform converts a broker-side message into the STOMP-side Message to
// send to the peer (spec §4.5 transform).
func (t *Translator) Transform(msg BrokerMessage) (Message, error) {
	allowClient := t.Node.Role != peerdir.RoleAA
	allowServer := t.Node.Role == peerdir.RoleAA

	data, err := parseMessageBody(msg.Type, msg.ContentType, msg.Body, allowClient, allowServer)
	if err != nil {
		return Message{}, err
	}
	if _, _, err := t.checkIDs(data, true); err != nil {
		return Message{}, err
	}
	if err := t.rewriteCreditorSpace(data, t.Node.CreditorsSubnet, t.Peer.CreditorsSubnet); err != nil {
		return Message{}, err
	}

	body, err := numberConfig.Marshal(data)
	if err != nil {
		return Message{}, cos.NewProcessingError("re-encode failed: %v", err)
	}
	return Message{
		ID:          msg.ID,
		Type:        msg.Type,
		Body:        body,
		ContentType: "application/json",
	}, nil
}

// Preprocess converts a STOMP-side Message just received from the peer
// into the broker-side message to publish (spec §4.5 preprocess). Any
// ProcessingError is wrapped as a ServerError carrying the original
// id/type/body as context, per spec §7.
func (t *Translator) Preprocess(msg Message) (BrokerMessage, error) {
	out, err := t.preprocess(msg)
	if err != nil {
		if pe, ok := err.(*cos.ProcessingError); ok {
			return BrokerMessage{}, pe.AsServerError(msg.ID, msg.Type, msg.Body)
		}
		return BrokerMessage{}, err
	}
	return out, nil
}

func (t *Translator) preprocess(msg Message) (BrokerMessage, error) {
	allowClient := t.Node.Role == peerdir.RoleAA
	allowServer := t.Node.Role != peerdir.RoleAA

	data, err := parseMessageBody(msg.Type, msg.ContentType, msg.Body, allowClient, allowServer)
	if err != nil {
		return BrokerMessage{}, err
	}
	if _, _, err := t.checkIDs(data, false); err != nil {
		return BrokerMessage{}, err
	}
	if err := t.rewriteCreditorSpace(data, t.Peer.CreditorsSubnet, t.Node.CreditorsSubnet); err != nil {
		return BrokerMessage{}, err
	}

	creditorID, err := requiredInt64(data, "creditor_id")
	if err != nil {
		return BrokerMessage{}, err
	}
	debtorID, err := requiredInt64(data, "debtor_id")
	if err != nil {
		return BrokerMessage{}, err
	}
	coordinatorID, hasCoordinator, err := optionalInt64(data, "coordinator_id")
	if err != nil {
		return BrokerMessage{}, err
	}
	coordinatorType, _ := optionalString(data, "coordinator_type")

	if hasCoordinator && !t.Config.AllowsCoordinatorType(t.Node.Role, coordinatorType) {
		return BrokerMessage{}, cos.NewProcessingError("invalid coordinator type: %s", coordinatorType)
	}

	headers := map[string]any{
		"message-type": msg.Type,
		"debtor-id":    debtorID,
		"creditor-id":  creditorID,
	}
	if hasCoordinator {
		headers["coordinator-id"] = coordinatorID
		headers["coordinator-type"] = coordinatorType
	}
	if t.Node.Role == peerdir.RoleCA {
		headers["ca-creditors"] = coordinatorType == "direct"
		headers["ca-trade"] = coordinatorType == "agent"
	}

	var routingKey string
	switch t.Node.Role {
	case peerdir.RoleAA:
		routingKey = BinRoutingKey(debtorID, creditorID)
	case peerdir.RoleCA:
		if hasCoordinator {
			routingKey = BinRoutingKey(coordinatorID)
		} else {
			routingKey = BinRoutingKey(creditorID)
		}
	case peerdir.RoleDA:
		routingKey = BinRoutingKey(debtorID)
	}

	body, err := numberConfig.Marshal(data)
	if err != nil {
		return BrokerMessage{}, cos.NewProcessingError("re-encode failed: %v", err)
	}
	return BrokerMessage{
		ID:          msg.ID,
		Type:        msg.Type,
		Body:        body,
		ContentType: "application/json",
		Headers:     headers,
		RoutingKey:  routingKey,
	}, nil
}

func asHex(n int64) string {
	u := uint64(n)
	const hexdigits = "0123456789abcdef"
	b := make([]byte, 18)
	b[0], b[1] = '0', 'x'
	for i := 0; i < 16; i++ {
		shift := uint(60 - 4*i)
		b[2+i] = hexdigits[(u>>shift)&0xf]
	}
	return string(b)
}
