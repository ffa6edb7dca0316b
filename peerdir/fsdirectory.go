package peerdir

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// dnPartRE matches a single valid DNS label: 1-63 characters, alphanumeric
// or hyphen, no leading/trailing hyphen. Mirrors original_source's
// _DN_PART_RE.
var dnPartRE = regexp.MustCompile(`(?i)^(?:[a-z0-9]|[a-z0-9][a-z0-9-]{0,61}[a-z0-9])$`)

// FSDirectory implements Directory over a file:// scheme directory laid
// out per spec §6:
//
//	<root>/root-ca.crt
//	<root>/db/nodeid
//	<root>/db/nodetype
//	<root>/creditors-subnet.txt       (optional)
//	<root>/debtors-subnet.txt         (optional)
//	<root>/peers/<node_id>/root-ca.crt
//	<root>/peers/<node_id>/peercert.crt
//	<root>/peers/<node_id>/sub.crt    (optional)
//	<root>/peers/<node_id>/servers
//	<root>/peers/<node_id>/stomp.host
//	<root>/peers/<node_id>/stomp.destination
//	<root>/peers/<node_id>/creditors-subnet.txt  (optional)
//	<root>/peers/<node_id>/debtors-subnet.txt    (optional)
type FSDirectory struct {
	root string
}

// NewFSDirectory opens url, which must start with "file:///" and refer to
// a local directory.
func NewFSDirectory(url string) (*FSDirectory, error) {
	const prefix = "file:///"
	if !strings.HasPrefix(url, prefix) {
		return nil, fmt.Errorf("invalid database URL: %s", url)
	}
	return &FSDirectory{root: filepath.Clean("/" + url[len(prefix):])}, nil
}

func (d *FSDirectory) NodeInfo(_ context.Context) (*NodeInfo, error) {
	rootCert, err := os.ReadFile(filepath.Join(d.root, "root-ca.crt"))
	if err != nil {
		return nil, fmt.Errorf("read root-ca.crt: %w", err)
	}
	nodeID, err := readLine(filepath.Join(d.root, "db", "nodeid"))
	if err != nil {
		return nil, fmt.Errorf("read db/nodeid: %w", err)
	}
	nodeTypeStr, err := readLine(filepath.Join(d.root, "db", "nodetype"))
	if err != nil {
		return nil, fmt.Errorf("read db/nodetype: %w", err)
	}
	role, err := ParseNodeRole(nodeTypeStr)
	if err != nil {
		return nil, err
	}
	creditorsSubnet, err := readSubnetFile(filepath.Join(d.root, "creditors-subnet.txt"))
	if err != nil {
		return nil, err
	}
	debtorsSubnet, err := readSubnetFile(filepath.Join(d.root, "debtors-subnet.txt"))
	if err != nil {
		return nil, err
	}
	return &NodeInfo{
		Role:            role,
		NodeID:          nodeID,
		RootCert:        rootCert,
		CreditorsSubnet: creditorsSubnet,
		DebtorsSubnet:   debtorsSubnet,
	}, nil
}

func (d *FSDirectory) PeerInfo(_ context.Context, nodeID string) (*PeerInfo, error) {
	dir := filepath.Join(d.root, "peers", nodeID)
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	rootCert, err := os.ReadFile(filepath.Join(dir, "root-ca.crt"))
	if err != nil {
		return nil, fmt.Errorf("read peer root-ca.crt: %w", err)
	}
	peerCert, err := os.ReadFile(filepath.Join(dir, "peercert.crt"))
	if err != nil {
		return nil, fmt.Errorf("read peer peercert.crt: %w", err)
	}
	var subCert []byte
	if b, err := os.ReadFile(filepath.Join(dir, "sub.crt")); err == nil {
		subCert = b
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read peer sub.crt: %w", err)
	}

	serversLine, err := readLine(filepath.Join(dir, "servers"))
	if err != nil {
		return nil, fmt.Errorf("read peer servers: %w", err)
	}
	servers, err := parseServers(serversLine)
	if err != nil {
		return nil, err
	}

	stompHost, err := readLine(filepath.Join(dir, "stomp.host"))
	if err != nil {
		return nil, fmt.Errorf("read peer stomp.host: %w", err)
	}
	stompDestination, err := readLine(filepath.Join(dir, "stomp.destination"))
	if err != nil {
		return nil, fmt.Errorf("read peer stomp.destination: %w", err)
	}

	creditorsSubnet, err := readSubnetFile(filepath.Join(dir, "creditors-subnet.txt"))
	if err != nil {
		return nil, err
	}
	debtorsSubnet, err := readSubnetFile(filepath.Join(dir, "debtors-subnet.txt"))
	if err != nil {
		return nil, err
	}

	return &PeerInfo{
		NodeID:            nodeID,
		Servers:           servers,
		StompHost:         stompHost,
		StompDestination:  stompDestination,
		RootCert:          rootCert,
		PeerCert:          peerCert,
		SubCert:           subCert,
		CreditorsSubnet:   creditorsSubnet,
		DebtorsSubnet:     debtorsSubnet,
	}, nil
}

func readLine(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

func readSubnetFile(path string) (Subnet, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Subnet{}, nil
		}
		return Subnet{}, err
	}
	return ParseSubnet(strings.TrimSpace(string(b)))
}

func parseServers(line string) ([]HostPort, error) {
	var out []HostPort
	for _, tok := range strings.Fields(line) {
		host, portStr, found := strings.Cut(tok, ":")
		if !found {
			return nil, fmt.Errorf("invalid server: %s", tok)
		}
		if !isValidHostname(host) {
			return nil, fmt.Errorf("invalid host: %s", host)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil || port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid port: %s", portStr)
		}
		out = append(out, HostPort{Host: host, Port: port})
	}
	return out, nil
}

func isValidHostname(hostname string) bool {
	hostname = strings.TrimSuffix(hostname, ".")
	if len(hostname) > 253 {
		return false
	}
	for _, label := range strings.Split(hostname, ".") {
		if !dnPartRE.MatchString(label) {
			return false
		}
	}
	return true
}
