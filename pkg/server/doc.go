// Package server implements the coordinator's device-facing WebSocket
// endpoint: session lifecycle, the hub that maps logical device
// identities to live sessions, protocol version negotiation, and the
// HTTP surface (upgrade endpoint, health, metrics).
//
// A Session is one WebSocket connection. The Hub indexes sessions by
// the logical device identity announced in the registration message; a
// device reconnecting under the same identity atomically displaces its
// previous session. Outbound messages are framed by pkg/protocol, which
// gzip-compresses large payloads into binary frames.
package server
