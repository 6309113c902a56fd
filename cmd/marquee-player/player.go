package main

import (
	"context"
	"encoding/base64"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/marquee-dev/marquee/pkg/protocol"
)

type playerOptions struct {
	serverURL    string
	deviceID     string
	name         string
	os           string
	arch         string
	screenWidth  int
	screenHeight int
	heartbeat    time.Duration
	statusEvery  time.Duration
}

// player is one device-side connection lifecycle. A new player is built
// for every (re)connection attempt.
type player struct {
	opts    playerOptions
	log     *slog.Logger
	started time.Time

	conn    *websocket.Conn
	writeMu sync.Mutex

	// config is the last device configuration pushed by the coordinator.
	configMu sync.Mutex
	config   protocol.DeviceConfig
}

const maxBackoff = 60 * time.Second

// runPlayer connects and reconnects forever with capped exponential
// backoff, until the context is cancelled.
func runPlayer(ctx context.Context, opts playerOptions) error {
	log := slog.New(slog.NewTextHandler(os.Stdout, nil)).With("device_id", opts.deviceID)
	started := time.Now()

	backoff := time.Second
	for {
		p := &player{opts: opts, log: log, started: started}
		err := p.runOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		log.Warn("connection lost, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (p *player) runOnce(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, p.opts.serverURL, nil)
	cancel()
	if err != nil {
		return err
	}
	p.conn = conn
	defer conn.Close()

	if err := p.send(&protocol.Register{
		DeviceID:     p.opts.deviceID,
		Name:         p.opts.name,
		OS:           p.opts.os,
		Arch:         p.opts.arch,
		ScreenWidth:  p.opts.screenWidth,
		ScreenHeight: p.opts.screenHeight,
		Capabilities: []string{"screenshot", "volume"},
		Version:      protocol.Current.String(),
	}); err != nil {
		return err
	}

	loopCtx, stop := context.WithCancel(ctx)
	defer stop()
	go p.heartbeatLoop(loopCtx)
	go p.statusLoop(loopCtx)

	for {
		frameType, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if frameType != websocket.TextMessage && frameType != websocket.BinaryMessage {
			continue
		}
		msg, err := protocol.DecodeFrame(data, frameType == websocket.BinaryMessage)
		if err != nil {
			p.log.Warn("dropping undecodable message", "error", err)
			continue
		}
		p.handle(msg)
	}
}

func (p *player) send(msg protocol.Message) error {
	data, binary, err := protocol.EncodeFrame(msg, 0)
	if err != nil {
		return err
	}
	frameType := websocket.TextMessage
	if binary {
		frameType = websocket.BinaryMessage
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	p.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return p.conn.WriteMessage(frameType, data)
}

func (p *player) handle(msg protocol.Message) {
	switch m := msg.(type) {
	case *protocol.RegistrationAck:
		p.log.Info("registered", "assigned_layout", m.AssignedLayout, "server_time", m.ServerTime)

	case *protocol.DisplayUpdate:
		// A real player renders to the screen; this one renders to the log.
		p.log.Info("display update",
			"layout_id", m.Layout.ID, "elements", len(m.Layout.Elements), "data_keys", len(m.Data))

	case *protocol.LayoutAssigned:
		p.log.Info("layout assigned", "layout_id", m.LayoutID)

	case *protocol.DataUpdate:
		p.log.Info("data update", "keys", len(m.Data))

	case *protocol.ConfigUpdate:
		p.configMu.Lock()
		p.config = m.Config
		p.configMu.Unlock()
		p.log.Info("config applied", "brightness", m.Config.Brightness, "volume", m.Config.Volume)
		if err := p.send(&protocol.ConfigUpdateAck{Applied: true}); err != nil {
			p.log.Warn("config ack failed", "error", err)
		}

	case *protocol.Command:
		p.runCommand(m)
	}
}

func (p *player) runCommand(cmd *protocol.Command) {
	p.log.Info("command received", "action", cmd.Action, "args", cmd.Args)
	switch cmd.Action {
	case protocol.ActionScreenshot:
		// Nothing to capture headlessly; send a 1x1 placeholder so the
		// round trip is exercised end to end.
		if err := p.send(&protocol.ScreenshotData{
			Format:     "png",
			Data:       base64.StdEncoding.EncodeToString(placeholderPNG),
			CapturedAt: time.Now(),
		}); err != nil {
			p.log.Warn("screenshot send failed", "error", err)
		}
	case protocol.ActionRestart:
		p.log.Info("restart requested, closing connection")
		p.conn.Close()
	}
}

func (p *player) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(p.opts.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := p.send(&protocol.Heartbeat{
				UptimeMillis: time.Since(p.started).Milliseconds(),
			}); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (p *player) statusLoop(ctx context.Context) {
	ticker := time.NewTicker(p.opts.statusEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := p.send(p.collectStatus()); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// collectStatus samples host metrics. Individual probes can fail on
// exotic platforms; a failed probe reports zero.
func (p *player) collectStatus() *protocol.StatusReport {
	st := &protocol.StatusReport{
		UptimeMillis: time.Since(p.started).Milliseconds(),
	}
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		st.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		st.MemoryPercent = vm.UsedPercent
	}
	if du, err := disk.Usage("/"); err == nil {
		st.DiskPercent = du.UsedPercent
	}
	if temps, err := host.SensorsTemperatures(); err == nil {
		for _, t := range temps {
			if t.Temperature > st.TemperatureC {
				st.TemperatureC = t.Temperature
			}
		}
	}
	return st
}

// placeholderPNG is a 1x1 transparent PNG.
var placeholderPNG = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89, 0x00, 0x00, 0x00,
	0x0a, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x63, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00, 0x00, 0x00, 0x00, 0x49,
	0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}
