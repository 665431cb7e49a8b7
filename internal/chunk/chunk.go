// Package chunk implements chunk-based buffering and loading for a single
// elementary media track. A SampleSource maintains a forward window of
// downloaded chunks, feeds decodable samples to a downstream consumer, and
// drives a background fetch pipeline subject to an admission controller.
package chunk

import (
	"context"
	"sync/atomic"
)

// LengthUnset indicates an unknown transfer length in a DataSpec.
const LengthUnset int64 = -1

// Timestamp is a presentation time in microseconds that may be absent.
// The zero value is unset.
type Timestamp struct {
	us  int64
	set bool
}

// TimeUs returns a set Timestamp for the given microsecond value.
func TimeUs(us int64) Timestamp {
	return Timestamp{us: us, set: true}
}

// UnsetTime returns an unset Timestamp.
func UnsetTime() Timestamp {
	return Timestamp{}
}

// IsSet reports whether the timestamp carries a value.
func (t Timestamp) IsSet() bool {
	return t.set
}

// Us returns the microsecond value. It is only meaningful when IsSet.
func (t Timestamp) Us() int64 {
	return t.us
}

// Type tags a chunk for diagnostics.
type Type int

const (
	// TypeUnspecified is a chunk of unknown purpose.
	TypeUnspecified Type = iota
	// TypeMedia is a chunk carrying decodable samples.
	TypeMedia
	// TypeMediaInit is an initialization chunk (codec config, moov, etc.).
	TypeMediaInit
	// TypeDRM is a chunk carrying DRM initialization data.
	TypeDRM
	// TypeManifest is a manifest or playlist chunk.
	TypeManifest
)

func (t Type) String() string {
	switch t {
	case TypeMedia:
		return "media"
	case TypeMediaInit:
		return "media-init"
	case TypeDRM:
		return "drm"
	case TypeManifest:
		return "manifest"
	default:
		return "unspecified"
	}
}

// Trigger records why a chunk was selected for loading.
type Trigger int

const (
	// TriggerUnspecified is an unknown selection reason.
	TriggerUnspecified Trigger = iota
	// TriggerInitial is the first selection after enabling a track.
	TriggerInitial
	// TriggerManual is an explicit user-driven selection.
	TriggerManual
	// TriggerAdaptive is a selection made by an adaptation strategy.
	TriggerAdaptive
	// TriggerTrickPlay is a selection made for trick-play modes.
	TriggerTrickPlay
)

func (t Trigger) String() string {
	switch t {
	case TriggerInitial:
		return "initial"
	case TriggerManual:
		return "manual"
	case TriggerAdaptive:
		return "adaptive"
	case TriggerTrickPlay:
		return "trick-play"
	default:
		return "unspecified"
	}
}

// Format describes an elementary stream variant. Formats are compared by
// value; two chunks carry the same format iff their Format fields are equal.
type Format struct {
	// ID uniquely identifies the format within its track group.
	ID string
	// MimeType is the sample MIME type.
	MimeType string
	// Bitrate is the average bandwidth in bits per second.
	Bitrate int
	// Width and Height are the video dimensions, or zero for audio.
	Width  int
	Height int
	// SampleRate and ChannelCount describe audio formats, or zero for video.
	SampleRate   int
	ChannelCount int
}

// DataSpec describes the byte range a chunk transfers.
type DataSpec struct {
	// URI locates the data.
	URI string
	// Offset is the byte offset at which the transfer starts.
	Offset int64
	// Length is the number of bytes to transfer, or LengthUnset.
	Length int64
}

// LoadFunc performs the transfer for a chunk. Implementations must observe
// ctx cancellation and return promptly with a ctx-derived error when the
// load is canceled. Media loads write their samples through
// Chunk.Media().WriteSample and report progress via Chunk.AddBytesLoaded.
type LoadFunc func(ctx context.Context, c *Chunk) error

// Chunk is one fetchable unit of work produced by a Source. A chunk either
// carries a media payload (see MediaInfo) contributing samples over a known
// time range, or is auxiliary data such as codec initialization. Chunks are
// immutable once constructed, except for the sample-queue linkage a media
// chunk acquires when loading begins.
type Chunk struct {
	// Spec describes the bytes this chunk transfers.
	Spec DataSpec
	// Type tags the chunk for diagnostics.
	Type Type
	// Trigger records why this chunk was selected.
	Trigger Trigger
	// Format is the format of the data in this chunk.
	Format Format

	media *MediaInfo
	load  LoadFunc

	bytesLoaded atomic.Int64
}

// New creates a non-media chunk.
func New(spec DataSpec, typ Type, trigger Trigger, format Format, load LoadFunc) *Chunk {
	return &Chunk{
		Spec:    spec,
		Type:    typ,
		Trigger: trigger,
		Format:  format,
		load:    load,
	}
}

// NewMedia creates a media chunk covering [startTimeUs, endTimeUs).
// drmInitData is an opaque payload attached to format records read
// downstream; it may be nil.
func NewMedia(spec DataSpec, trigger Trigger, format Format, startTimeUs, endTimeUs int64, drmInitData []byte, load LoadFunc) *Chunk {
	return &Chunk{
		Spec:    spec,
		Type:    TypeMedia,
		Trigger: trigger,
		Format:  format,
		load:    load,
		media: &MediaInfo{
			StartTimeUs: startTimeUs,
			EndTimeUs:   endTimeUs,
			DRMInitData: drmInitData,
		},
	}
}

// IsMedia reports whether the chunk carries a media payload. This is the
// single discriminant between the two chunk variants.
func (c *Chunk) IsMedia() bool {
	return c.media != nil
}

// Media returns the media payload, or nil for non-media chunks.
func (c *Chunk) Media() *MediaInfo {
	return c.media
}

// Load runs the chunk's transfer.
func (c *Chunk) Load(ctx context.Context) error {
	return c.load(ctx, c)
}

// BytesLoaded returns the number of bytes transferred so far.
func (c *Chunk) BytesLoaded() int64 {
	return c.bytesLoaded.Load()
}

// AddBytesLoaded records transfer progress. Safe to call from the load
// goroutine while the control goroutine reads BytesLoaded.
func (c *Chunk) AddBytesLoaded(n int64) {
	c.bytesLoaded.Add(n)
}

// MediaInfo is the media-specific payload of a media chunk.
type MediaInfo struct {
	// StartTimeUs is the presentation time of the first sample, inclusive.
	StartTimeUs int64
	// EndTimeUs is the presentation time at which the chunk ends, exclusive.
	EndTimeUs int64
	// DRMInitData is opaque DRM initialization data, or nil.
	DRMInitData []byte

	queue            SampleQueue
	firstSampleIndex int
	bound            bool
}

// bindWriter fixes the chunk's first contributed sample index and directs
// subsequent WriteSample calls into q. Called once, on the control
// goroutine, immediately before loading starts.
func (m *MediaInfo) bindWriter(q SampleQueue) {
	m.queue = q
	m.firstSampleIndex = q.WriteIndex()
	m.bound = true
}

// FirstSampleIndex returns the absolute index of the first sample this
// chunk contributes to its sample queue. Only valid once loading has begun.
func (m *MediaInfo) FirstSampleIndex() int {
	return m.firstSampleIndex
}

// WriteSample appends a sample to the bound queue. Called by the load
// implementation as samples are demultiplexed.
func (m *MediaInfo) WriteSample(s Sample) {
	m.queue.WriteSample(s)
}

// WriteFormat records an upstream format change on the bound queue.
func (m *MediaInfo) WriteFormat(f Format) {
	m.queue.WriteFormat(f)
}
