// Package protocol implements the wire protocol spoken between the
// coordinator and player devices.
//
// Messages travel over WebSocket connections as JSON envelopes. Every
// envelope carries a kind tag first so a decoder can dispatch to the
// correct parser before touching the payload:
//
//	{"kind": "register", "version": "2.1.0", "data": {...}}
//
// # Message Kinds
//
// Device → coordinator:
//
//   - register: declare identity, capabilities, protocol version
//   - heartbeat: liveness keep-alive
//   - status_report: hardware and resource metrics
//   - log: remote log line
//   - screenshot_data: captured frame as base64-encoded bytes
//   - config_update_ack: acknowledges a config push
//
// Coordinator → device:
//
//   - registration_ack: confirms registration, may reassign identity
//   - display_update: full resolved layout payload
//   - command: remote action directive (restart, screenshot, volume, power)
//   - config_update: push new device configuration
//   - layout_assigned: lightweight notice that a new layout id is active
//   - data_update: incremental data-only refresh
//
// # Compression
//
// Outbound payloads at or above CompressionThreshold are gzip-compressed
// and sent as a binary WebSocket message; smaller payloads go out as
// text. The frame type itself is the compression signal, so no flag is
// needed on the wire. EncodeFrame and DecodeFrame handle both directions.
//
// # Versioning
//
// The protocol version is a (major, minor, patch) triple. Majors must
// match the supported range exactly; minors are tolerated in both
// directions. A message without a version field is treated as the oldest
// supported version rather than an error, so legacy senders keep working.
package protocol
