// Package rconfig centralizes the relay's tunables: frame size limits,
// timeouts, queue capacities, and the per-role coordinator-type allow-list
// (spec §4.5, §5, §6 all reference values that live here).
package rconfig

import (
	"time"

	"github.com/ledgerline/stomp-relay/peerdir"
)

type Config struct {
	// Wire limits (spec §4.1).
	MaxHeaderBytes int
	MaxBodyBytes   int

	// Timeouts (spec §5).
	TLSHandshakeTimeout time.Duration
	MaxNetworkDelay     time.Duration
	HeartbeatSend       time.Duration
	HeartbeatRecv       time.Duration

	// Queue capacity (spec §4.2); high/low watermarks are derived from it.
	QueueCapacity int

	// CoordinatorTypes is the per-role allow-list gating the
	// coordinator_type field of PrepareTransfer/RejectedTransfer messages
	// (spec §9 Open Question, resolved as configuration).
	CoordinatorTypes map[peerdir.NodeRole][]string
}

// Default returns the configuration spec.md's defaults describe, with the
// AA/CA coordinator-type allow-lists pinned by the original test suite and
// DA defaulted to AA's set (undocumented upstream, caller-overridable).
func Default() *Config {
	return &Config{
		MaxHeaderBytes:      64 * 1024,
		MaxBodyBytes:        10 * 1024 * 1024,
		TLSHandshakeTimeout: 15 * time.Second,
		MaxNetworkDelay:     30 * time.Second,
		HeartbeatSend:       5 * time.Second,
		HeartbeatRecv:       5 * time.Second,
		QueueCapacity:       1000,
		CoordinatorTypes: map[peerdir.NodeRole][]string{
			peerdir.RoleAA: {"direct", "issuing"},
			peerdir.RoleCA: {"direct", "agent"},
			peerdir.RoleDA: {"direct", "issuing"},
		},
	}
}

// AllowsCoordinatorType reports whether coordinatorType is in role's
// allow-list.
func (c *Config) AllowsCoordinatorType(role peerdir.NodeRole, coordinatorType string) bool {
	for _, t := range c.CoordinatorTypes[role] {
		if t == coordinatorType {
			return true
		}
	}
	return false
}
