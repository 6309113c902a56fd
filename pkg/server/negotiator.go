package server

import (
	"log/slog"
	"sync"

	"github.com/marquee-dev/marquee/pkg/protocol"
)

// negotiation is the cached outcome for one device identity: the
// classification plus the parsed version, so later feature checks never
// re-parse the version string.
type negotiation struct {
	compat  protocol.Compat
	version protocol.Version
}

// Negotiator classifies client protocol versions against the supported
// range and remembers the outcome per device identity, so a chatty
// device with a mismatched version is logged once rather than on every
// message and feature gating is a map lookup.
type Negotiator struct {
	log *slog.Logger

	mu   sync.Mutex
	seen map[string]negotiation
}

// NewNegotiator creates a negotiator.
func NewNegotiator(log *slog.Logger) *Negotiator {
	if log == nil {
		log = slog.Default()
	}
	return &Negotiator{log: log, seen: make(map[string]negotiation)}
}

// Negotiate parses and classifies a device's announced version string.
// An empty string is treated as the oldest supported version, matching
// legacy devices that predate the version tag. Unparseable strings are
// incompatible. The outcome is logged on first sight per device.
func (n *Negotiator) Negotiate(deviceID, raw string) protocol.Compat {
	outcome := negotiation{compat: protocol.CompatIncompatible}
	switch {
	case raw == "":
		outcome.version = protocol.MinSupported
		outcome.compat = protocol.Check(outcome.version)
	default:
		if parsed, err := protocol.ParseVersion(raw); err == nil {
			outcome.version = parsed
			outcome.compat = protocol.Check(parsed)
		}
	}

	metricVersionChecks.WithLabelValues(outcome.compat.String()).Inc()

	n.mu.Lock()
	prev, ok := n.seen[deviceID]
	n.seen[deviceID] = outcome
	n.mu.Unlock()
	if ok && prev == outcome {
		return outcome.compat
	}

	switch outcome.compat {
	case protocol.CompatClientBehind:
		n.log.Info("device protocol version behind coordinator, client should upgrade",
			"device_id", deviceID, "device_version", raw, "current", protocol.Current.String())
	case protocol.CompatServerBehind:
		n.log.Warn("device protocol version ahead of coordinator, coordinator should upgrade",
			"device_id", deviceID, "device_version", raw, "current", protocol.Current.String())
	case protocol.CompatIncompatible:
		n.log.Error("device protocol version incompatible",
			"device_id", deviceID, "device_version", raw,
			"min_supported", protocol.MinSupported.String(), "current", protocol.Current.String())
	}
	return outcome.compat
}

// Forget drops the cached outcome for a device, so its next negotiation
// logs again.
func (n *Negotiator) Forget(deviceID string) {
	n.mu.Lock()
	delete(n.seen, deviceID)
	n.mu.Unlock()
}

// SupportsFeature reports whether a negotiated device's version is at
// or above the given major.minor, answered from the cache. Identities
// that never negotiated, or negotiated an unparseable version, support
// nothing.
func (n *Negotiator) SupportsFeature(deviceID string, major, minor int) bool {
	n.mu.Lock()
	outcome, ok := n.seen[deviceID]
	n.mu.Unlock()
	if !ok || !outcome.compat.Compatible() {
		return false
	}
	return outcome.version.AtLeast(major, minor)
}
