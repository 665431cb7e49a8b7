package chunk

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jmylchreest/chunkstream/internal/observability"
)

// EventListener receives fire-and-forget telemetry from a SampleSource.
// No buffering behavior depends on these notifications being observed.
type EventListener interface {
	// OnLoadStarted is emitted when a fetch begins. mediaStart/mediaEnd are
	// unset for non-media chunks.
	OnLoadStarted(sourceID uuid.UUID, length int64, typ Type, trigger Trigger, format Format, mediaStart, mediaEnd Timestamp)
	// OnLoadCompleted is emitted when a fetch finishes successfully.
	OnLoadCompleted(sourceID uuid.UUID, bytesLoaded int64, typ Type, trigger Trigger, format Format, mediaStart, mediaEnd Timestamp, loadDuration time.Duration)
	// OnLoadCanceled is emitted once a cancellation takes effect.
	OnLoadCanceled(sourceID uuid.UUID, bytesLoaded int64)
	// OnLoadError is emitted for every failed load attempt.
	OnLoadError(sourceID uuid.UUID, err error)
	// OnDownstreamFormatChanged is emitted when the read path crosses into
	// a chunk with a different format.
	OnDownstreamFormatChanged(sourceID uuid.UUID, format Format, trigger Trigger, mediaTimeUs int64)
	// OnUpstreamDiscarded is emitted when retention drops buffered chunks
	// covering [startTimeUs, endTimeUs).
	OnUpstreamDiscarded(sourceID uuid.UUID, startTimeUs, endTimeUs int64)
}

// eventDispatcher forwards events to an optional listener.
type eventDispatcher struct {
	listener EventListener
	sourceID uuid.UUID
}

func (d *eventDispatcher) loadStarted(length int64, typ Type, trigger Trigger, format Format, mediaStart, mediaEnd Timestamp) {
	if d.listener != nil {
		d.listener.OnLoadStarted(d.sourceID, length, typ, trigger, format, mediaStart, mediaEnd)
	}
}

func (d *eventDispatcher) loadCompleted(bytesLoaded int64, typ Type, trigger Trigger, format Format, mediaStart, mediaEnd Timestamp, loadDuration time.Duration) {
	if d.listener != nil {
		d.listener.OnLoadCompleted(d.sourceID, bytesLoaded, typ, trigger, format, mediaStart, mediaEnd, loadDuration)
	}
}

func (d *eventDispatcher) loadCanceled(bytesLoaded int64) {
	if d.listener != nil {
		d.listener.OnLoadCanceled(d.sourceID, bytesLoaded)
	}
}

func (d *eventDispatcher) loadError(err error) {
	if d.listener != nil {
		d.listener.OnLoadError(d.sourceID, err)
	}
}

func (d *eventDispatcher) downstreamFormatChanged(format Format, trigger Trigger, mediaTimeUs int64) {
	if d.listener != nil {
		d.listener.OnDownstreamFormatChanged(d.sourceID, format, trigger, mediaTimeUs)
	}
}

func (d *eventDispatcher) upstreamDiscarded(startTimeUs, endTimeUs int64) {
	if d.listener != nil {
		d.listener.OnUpstreamDiscarded(d.sourceID, startTimeUs, endTimeUs)
	}
}

// LogEventListener logs every event through slog.
type LogEventListener struct {
	logger *slog.Logger
}

// NewLogEventListener returns a listener logging to the given logger, or
// slog.Default when logger is nil.
func NewLogEventListener(logger *slog.Logger) *LogEventListener {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEventListener{logger: observability.WithComponent(logger, "chunk-events")}
}

func timeRangeAttrs(mediaStart, mediaEnd Timestamp) []any {
	if !mediaStart.IsSet() {
		return nil
	}
	return []any{
		slog.Int64("media_start_us", mediaStart.Us()),
		slog.Int64("media_end_us", mediaEnd.Us()),
	}
}

// OnLoadStarted implements EventListener.
func (l *LogEventListener) OnLoadStarted(sourceID uuid.UUID, length int64, typ Type, trigger Trigger, format Format, mediaStart, mediaEnd Timestamp) {
	attrs := []any{
		slog.String("source_id", sourceID.String()),
		slog.Int64("length", length),
		slog.String("type", typ.String()),
		slog.String("trigger", trigger.String()),
		slog.String("format", format.ID),
	}
	l.logger.Debug("load started", append(attrs, timeRangeAttrs(mediaStart, mediaEnd)...)...)
}

// OnLoadCompleted implements EventListener.
func (l *LogEventListener) OnLoadCompleted(sourceID uuid.UUID, bytesLoaded int64, typ Type, trigger Trigger, format Format, mediaStart, mediaEnd Timestamp, loadDuration time.Duration) {
	attrs := []any{
		slog.String("source_id", sourceID.String()),
		slog.Int64("bytes_loaded", bytesLoaded),
		slog.String("type", typ.String()),
		slog.String("trigger", trigger.String()),
		slog.String("format", format.ID),
		slog.Duration("load_duration", loadDuration),
	}
	l.logger.Debug("load completed", append(attrs, timeRangeAttrs(mediaStart, mediaEnd)...)...)
}

// OnLoadCanceled implements EventListener.
func (l *LogEventListener) OnLoadCanceled(sourceID uuid.UUID, bytesLoaded int64) {
	l.logger.Debug("load canceled",
		slog.String("source_id", sourceID.String()),
		slog.Int64("bytes_loaded", bytesLoaded),
	)
}

// OnLoadError implements EventListener.
func (l *LogEventListener) OnLoadError(sourceID uuid.UUID, err error) {
	observability.WithError(l.logger, err).Warn("load error",
		slog.String("source_id", sourceID.String()),
	)
}

// OnDownstreamFormatChanged implements EventListener.
func (l *LogEventListener) OnDownstreamFormatChanged(sourceID uuid.UUID, format Format, trigger Trigger, mediaTimeUs int64) {
	l.logger.Info("downstream format changed",
		slog.String("source_id", sourceID.String()),
		slog.String("format", format.ID),
		slog.Int("bitrate", format.Bitrate),
		slog.String("trigger", trigger.String()),
		slog.Int64("media_time_us", mediaTimeUs),
	)
}

// OnUpstreamDiscarded implements EventListener.
func (l *LogEventListener) OnUpstreamDiscarded(sourceID uuid.UUID, startTimeUs, endTimeUs int64) {
	l.logger.Debug("upstream discarded",
		slog.String("source_id", sourceID.String()),
		slog.Int64("start_us", startTimeUs),
		slog.Int64("end_us", endTimeUs),
	)
}
