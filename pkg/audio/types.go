package audio

import "time"

// Sample rates used by the live voice pipeline.
const (
	// CaptureSampleRate is the rate at which microphone audio is captured and
	// streamed to the remote model.
	CaptureSampleRate = 16000

	// PlaybackSampleRate is the rate of the synthesized speech delivered by
	// the remote model.
	PlaybackSampleRate = 24000
)

var (
	// CaptureFormat is the mono 16 kHz format of microphone frames.
	CaptureFormat = Format{SampleRate: CaptureSampleRate, Channels: 1}

	// PlaybackFormat is the mono 24 kHz format of model speech.
	PlaybackFormat = Format{SampleRate: PlaybackSampleRate, Channels: 1}
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// IsValid reports whether both the sample rate and the channel count are positive.
func (f Format) IsValid() bool {
	return f.SampleRate > 0 && f.Channels > 0
}

// Chunk is a block of float32 samples in [-1, 1]. Multi-channel samples are
// interleaved. A Chunk is treated as immutable once created: producers must
// not retain and modify Samples after handing the chunk on.
type Chunk struct {
	// Samples holds interleaved float32 PCM.
	Samples []float32

	// SampleRate in Hz (16000 for capture, 24000 for playback).
	SampleRate int

	// Channels is 1 for mono. Values below 1 are treated as mono.
	Channels int
}

// NewChunk copies samples into a new Chunk of the given format.
func NewChunk(samples []float32, f Format) Chunk {
	cp := make([]float32, len(samples))
	copy(cp, samples)
	return Chunk{Samples: cp, SampleRate: f.SampleRate, Channels: f.Channels}
}

// Format returns the chunk's sample rate and channel count.
func (c Chunk) Format() Format {
	return Format{SampleRate: c.SampleRate, Channels: c.channels()}
}

// Frames returns the number of sample frames (samples per channel).
func (c Chunk) Frames() int {
	return len(c.Samples) / c.channels()
}

// Duration returns the playback length of the chunk. A chunk without a valid
// sample rate has zero duration.
func (c Chunk) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(c.Frames()) * time.Second / time.Duration(c.SampleRate)
}

func (c Chunk) channels() int {
	if c.Channels < 1 {
		return 1
	}
	return c.Channels
}

// EncodedFrame is a captured chunk in wire form: base64 text of 16-bit
// little-endian PCM tagged with its MIME type.
type EncodedFrame struct {
	// MIMEType is e.g. "audio/pcm;rate=16000".
	MIMEType string

	// Data is the standard base64 encoding (with padding) of the PCM bytes.
	Data string
}
