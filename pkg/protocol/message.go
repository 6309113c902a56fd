package protocol

import (
	"time"

	"github.com/marquee-dev/marquee/pkg/layout"
)

// MessageKind identifies the concrete type of a protocol message.
// The kind tag is always the first field on the wire so decoders can
// dispatch before parsing the payload.
type MessageKind string

const (
	// Device → coordinator.
	KindRegister        MessageKind = "register"
	KindHeartbeat       MessageKind = "heartbeat"
	KindStatusReport    MessageKind = "status_report"
	KindLog             MessageKind = "log"
	KindScreenshotData  MessageKind = "screenshot_data"
	KindConfigUpdateAck MessageKind = "config_update_ack"

	// Coordinator → device.
	KindRegistrationAck MessageKind = "registration_ack"
	KindDisplayUpdate   MessageKind = "display_update"
	KindCommand         MessageKind = "command"
	KindConfigUpdate    MessageKind = "config_update"
	KindLayoutAssigned  MessageKind = "layout_assigned"
	KindDataUpdate      MessageKind = "data_update"
)

// Message is the interface implemented by all protocol message payloads.
type Message interface {
	// Kind returns the wire kind tag for this message.
	Kind() MessageKind
}

// Register is sent by a device immediately after connecting. DeviceID is
// the device-chosen logical identity; if empty, the coordinator assigns
// one and returns it in the RegistrationAck.
type Register struct {
	DeviceID     string   `json:"device_id"`
	Name         string   `json:"name,omitempty"`
	OS           string   `json:"os,omitempty"`
	Arch         string   `json:"arch,omitempty"`
	ScreenWidth  int      `json:"screen_width,omitempty"`
	ScreenHeight int      `json:"screen_height,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`

	// Version is the device's protocol version string. Absent means the
	// oldest supported version.
	Version string `json:"version,omitempty"`
}

func (Register) Kind() MessageKind { return KindRegister }

// RegistrationAck confirms a registration. DeviceID echoes the logical
// identity, or carries a coordinator-assigned one when the device
// registered without an id.
type RegistrationAck struct {
	DeviceID       string    `json:"device_id"`
	AssignedLayout string    `json:"assigned_layout,omitempty"`
	ServerTime     time.Time `json:"server_time"`
}

func (RegistrationAck) Kind() MessageKind { return KindRegistrationAck }

// Heartbeat is a liveness keep-alive.
type Heartbeat struct {
	UptimeMillis int64 `json:"uptime_ms"`
}

func (Heartbeat) Kind() MessageKind { return KindHeartbeat }

// StatusReport carries hardware and resource metrics from a device.
type StatusReport struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	DiskPercent   float64 `json:"disk_percent"`
	TemperatureC  float64 `json:"temperature_c,omitempty"`
	UptimeMillis  int64   `json:"uptime_ms"`
}

func (StatusReport) Kind() MessageKind { return KindStatusReport }

// Log is a remote log line forwarded by a device.
type Log struct {
	Level    string    `json:"level"`
	Message  string    `json:"message"`
	LoggedAt time.Time `json:"logged_at"`
}

func (Log) Kind() MessageKind { return KindLog }

// ScreenshotData carries a captured frame as base64-encoded bytes.
type ScreenshotData struct {
	Format     string    `json:"format"`
	Data       string    `json:"data"`
	CapturedAt time.Time `json:"captured_at"`
}

func (ScreenshotData) Kind() MessageKind { return KindScreenshotData }

// CommandAction names a remote action a device should perform.
type CommandAction string

const (
	ActionRestart    CommandAction = "restart"
	ActionScreenshot CommandAction = "screenshot"
	ActionSetVolume  CommandAction = "set_volume"
	ActionScreenOn   CommandAction = "screen_on"
	ActionScreenOff  CommandAction = "screen_off"
)

// Command is a remote action directive from the coordinator.
type Command struct {
	Action CommandAction     `json:"action"`
	Args   map[string]string `json:"args,omitempty"`
}

func (Command) Kind() MessageKind { return KindCommand }

// DisplayUpdate carries a fully resolved layout payload: the layout
// definition tree plus the flattened key→value data map the device needs
// to render it. Binary assets are already inlined on the elements.
type DisplayUpdate struct {
	Layout *layout.Definition `json:"layout"`
	Data   map[string]string  `json:"data,omitempty"`
}

func (DisplayUpdate) Kind() MessageKind { return KindDisplayUpdate }

// DeviceConfig is the device-side configuration pushed via ConfigUpdate.
type DeviceConfig struct {
	Brightness       int    `json:"brightness,omitempty"`
	Volume           int    `json:"volume,omitempty"`
	Orientation      string `json:"orientation,omitempty"`
	HeartbeatSeconds int    `json:"heartbeat_seconds,omitempty"`
	DebugLogging     bool   `json:"debug_logging,omitempty"`
}

// ConfigUpdate pushes a new configuration to a device.
type ConfigUpdate struct {
	Config DeviceConfig `json:"config"`
}

func (ConfigUpdate) Kind() MessageKind { return KindConfigUpdate }

// ConfigUpdateAck acknowledges a config push.
type ConfigUpdateAck struct {
	Applied bool   `json:"applied"`
	Error   string `json:"error,omitempty"`
}

func (ConfigUpdateAck) Kind() MessageKind { return KindConfigUpdateAck }

// LayoutAssigned notifies a device that a new layout id is active.
// The resolved content follows in a separate DisplayUpdate.
type LayoutAssigned struct {
	LayoutID string `json:"layout_id"`
}

func (LayoutAssigned) Kind() MessageKind { return KindLayoutAssigned }

// DataUpdate is an incremental data-only refresh for the current layout.
type DataUpdate struct {
	Data map[string]string `json:"data"`
}

func (DataUpdate) Kind() MessageKind { return KindDataUpdate }
