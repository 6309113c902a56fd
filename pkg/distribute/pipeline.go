// Package distribute implements the layout distribution pipeline: it
// assembles a device-ready display payload from a layout definition,
// its external data feeds, and its media assets, then delivers it over
// the device's live session.
//
// Assembly is tolerant of partial failure. A dead data feed, an
// unrenderable template, or a missing asset degrades the payload and is
// reported as a warning; the delivery still happens. Only a missing
// target, a missing layout, or a failed send aborts the distribution.
package distribute

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/marquee-dev/marquee/pkg/layout"
	"github.com/marquee-dev/marquee/pkg/protocol"
	"github.com/marquee-dev/marquee/pkg/registry"
)

const tracerName = "marquee/distribute"

// Sender delivers a protocol message to a connected device. The session
// hub implements it.
type Sender interface {
	SendTo(deviceID string, msg protocol.Message) error
}

// Report describes a completed distribution. Warnings list the assembly
// steps that degraded the payload without preventing delivery.
type Report struct {
	DeviceID    string    `json:"device_id"`
	LayoutID    string    `json:"layout_id"`
	Warnings    []string  `json:"warnings,omitempty"`
	DeliveredAt time.Time `json:"delivered_at"`
}

// Distributor runs the distribution pipeline.
type Distributor struct {
	layouts  layout.Store
	data     layout.DataProvider
	media    layout.MediaStore
	registry *registry.Registry
	sender   Sender
	renderer Renderer
	log      *slog.Logger
	tracer   trace.Tracer
}

// New creates a distributor. media and data may be nil when the
// deployment has no asset store or external feeds; the corresponding
// steps are skipped.
func New(layouts layout.Store, data layout.DataProvider, media layout.MediaStore, reg *registry.Registry, sender Sender, log *slog.Logger) *Distributor {
	if log == nil {
		log = slog.Default()
	}
	return &Distributor{
		layouts:  layouts,
		data:     data,
		media:    media,
		registry: reg,
		sender:   sender,
		renderer: MapRenderer{},
		log:      log.With("component", "distribute"),
		tracer:   otel.Tracer(tracerName),
	}
}

// Distribute assembles and delivers a layout to one device. The
// pipeline runs five steps: resolve the target, fetch the layout, fetch
// its data feeds, render templates and inline assets, deliver. Steps
// three and four tolerate partial failure and add warnings to the
// report instead of aborting.
func (d *Distributor) Distribute(ctx context.Context, deviceID, layoutID string) (*Report, error) {
	ctx, span := d.tracer.Start(ctx, "distribute.Distribute", trace.WithAttributes(
		attribute.String("device.id", deviceID),
		attribute.String("layout.id", layoutID),
	))
	defer span.End()

	report, err := d.distribute(ctx, deviceID, layoutID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("distribute.warnings", len(report.Warnings)))
	return report, nil
}

func (d *Distributor) distribute(ctx context.Context, deviceID, layoutID string) (*Report, error) {
	if _, err := d.registry.Get(deviceID); err != nil {
		return nil, newError(TargetNotFound, deviceID, layoutID, err)
	}

	def, err := d.layouts.GetLayout(ctx, layoutID)
	if err != nil {
		return nil, newError(LayoutNotFound, deviceID, layoutID, err)
	}

	report := &Report{DeviceID: deviceID, LayoutID: layoutID}

	data := d.fetchData(ctx, def, report)
	d.renderTemplates(def, data, report)
	d.inlineAssets(ctx, def, report)

	if err := d.sender.SendTo(deviceID, &protocol.DisplayUpdate{Layout: def, Data: data}); err != nil {
		return nil, newError(DeliveryFailed, deviceID, layoutID, err)
	}
	report.DeliveredAt = time.Now()

	d.log.Info("layout distributed",
		"device_id", deviceID, "layout_id", layoutID, "warnings", len(report.Warnings))
	return report, nil
}

// fetchData pulls every declared data source. Sources fail
// independently; a failure logs a warning and contributes nothing.
// Later sources override earlier keys.
func (d *Distributor) fetchData(ctx context.Context, def *layout.Definition, report *Report) map[string]string {
	merged := make(map[string]string)
	if d.data == nil {
		return merged
	}
	for _, ref := range def.DataSources {
		values, err := d.data.FetchData(ctx, ref)
		if err != nil {
			report.warn("data source %q failed: %v", ref.Name, err)
			d.log.Warn("data source fetch failed", "source", ref.Name, "error", err)
			continue
		}
		for k, v := range values {
			merged[k] = v
		}
	}
	return merged
}

// renderTemplates substitutes data into text element content. An
// element whose template fails keeps its original content.
func (d *Distributor) renderTemplates(def *layout.Definition, data map[string]string, report *Report) {
	def.Walk(func(el *layout.Element) {
		if el.Kind != layout.KindText || el.Content == "" {
			return
		}
		rendered, err := d.renderer.Render(el.Content, data)
		if err != nil {
			report.warn("element %q render failed: %v", el.ID, err)
			return
		}
		el.Content = rendered
	})
}

// inlineAssets embeds media bytes into image elements as base64. An
// element whose asset cannot be loaded is delivered without AssetData.
func (d *Distributor) inlineAssets(ctx context.Context, def *layout.Definition, report *Report) {
	if d.media == nil {
		return
	}
	def.Walk(func(el *layout.Element) {
		if el.AssetName == "" {
			return
		}
		raw, err := d.media.GetAsset(ctx, el.AssetName)
		if err != nil {
			report.warn("asset %q failed: %v", el.AssetName, err)
			d.log.Warn("asset load failed", "asset", el.AssetName, "element", el.ID, "error", err)
			return
		}
		el.AssetData = base64.StdEncoding.EncodeToString(raw)
	})
}

// AssignAndDistribute records the layout assignment in the registry and
// then distributes it. The assignment persists even when delivery
// fails, so a disconnected device picks it up at its next registration.
func (d *Distributor) AssignAndDistribute(ctx context.Context, deviceID, layoutID string) (*Report, error) {
	if err := d.registry.AssignLayout(deviceID, layoutID); err != nil {
		return nil, newError(TargetNotFound, deviceID, layoutID, err)
	}
	if err := d.NotifyAssigned(deviceID, layoutID); err != nil {
		d.log.Debug("assignment notify skipped", "device_id", deviceID, "error", err)
	}
	return d.Distribute(ctx, deviceID, layoutID)
}

// PushData refreshes a device's data without resending the layout. The
// device must have an assigned layout; its data sources are fetched and
// the merged map is sent as an incremental update.
func (d *Distributor) PushData(ctx context.Context, deviceID string) error {
	ctx, span := d.tracer.Start(ctx, "distribute.PushData", trace.WithAttributes(
		attribute.String("device.id", deviceID),
	))
	defer span.End()

	rec, err := d.registry.Get(deviceID)
	if err != nil {
		return newError(TargetNotFound, deviceID, "", err)
	}
	if rec.AssignedLayout == "" {
		return newError(LayoutNotFound, deviceID, "", fmt.Errorf("device has no assigned layout"))
	}
	def, err := d.layouts.GetLayout(ctx, rec.AssignedLayout)
	if err != nil {
		return newError(LayoutNotFound, deviceID, rec.AssignedLayout, err)
	}

	report := &Report{DeviceID: deviceID, LayoutID: rec.AssignedLayout}
	data := d.fetchData(ctx, def, report)
	for _, w := range report.Warnings {
		d.log.Warn("data push degraded", "device_id", deviceID, "warning", w)
	}

	if err := d.sender.SendTo(deviceID, &protocol.DataUpdate{Data: data}); err != nil {
		return newError(DeliveryFailed, deviceID, rec.AssignedLayout, err)
	}
	return nil
}

// NotifyAssigned tells a connected device which layout id is now
// active. The resolved content follows separately via Distribute.
func (d *Distributor) NotifyAssigned(deviceID, layoutID string) error {
	if err := d.sender.SendTo(deviceID, &protocol.LayoutAssigned{LayoutID: layoutID}); err != nil {
		return newError(DeliveryFailed, deviceID, layoutID, err)
	}
	return nil
}

func (r *Report) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}
