// Package audio defines the audio types, wire codec, and device interfaces
// used by the live voice pipeline.
//
// The device abstractions are:
//
//   - [Platform]: opens output and input devices in a requested [Format].
//   - [OutputDevice]: a clock plus sample-accurate scheduling of [Chunk]s.
//   - [InputDevice]: grants access to a microphone [InputStream].
//
// Implementations live in sub-packages (audio/portaudio for real hardware,
// audio/mock for tests). This package lives under pkg/ because external code
// is expected to provide its own platform adapters.
package audio

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrPermission is returned when microphone access is denied or no
	// capture device is available.
	ErrPermission = errors.New("audio: microphone access denied")

	// ErrUnsupported is returned when the host lacks the requested audio
	// facility (no output device, format not supported).
	ErrUnsupported = errors.New("audio: audio facility not supported")

	// ErrStreamStopped is returned by [InputStream.Read] once the stream has
	// been stopped.
	ErrStreamStopped = errors.New("audio: stream stopped")

	// ErrDeviceClosed is returned by operations on a closed device.
	ErrDeviceClosed = errors.New("audio: device closed")
)

// Source is a handle to one scheduled chunk on an [OutputDevice].
type Source interface {
	// Stop silences the source immediately if it is playing, or cancels it if
	// it has not started yet. Stop is idempotent.
	Stop()
}

// OutputDevice renders scheduled chunks against its own monotonic clock.
//
// Implementations must be safe for concurrent use.
type OutputDevice interface {
	// Format returns the format the device was opened with.
	Format() Format

	// Now returns the device clock: the amount of audio rendered since the
	// device was opened. It never decreases.
	Now() time.Duration

	// Play schedules c to start at device time at. A start time in the past
	// starts playback immediately. onEnded, if non-nil, is invoked exactly
	// once when the source finishes or is stopped. It is never invoked from
	// within Play or Stop, so callers may hold their own locks around those
	// calls.
	Play(c Chunk, at time.Duration, onEnded func()) (Source, error)

	// Close stops all sources and releases the device. Close is idempotent.
	Close() error
}

// InputStream delivers captured samples in the input device's format.
type InputStream interface {
	// Read blocks until len(buf) samples have been captured, then copies them
	// into buf. After Stop, Read returns [ErrStreamStopped].
	Read(buf []float32) (int, error)

	// Stop ends capture. Stop is idempotent and unblocks a pending Read.
	Stop() error
}

// InputDevice is an opened capture context.
type InputDevice interface {
	// Format returns the format samples are delivered in.
	Format() Format

	// Microphone requests access to the default microphone. It returns an
	// error wrapping [ErrPermission] when access is denied.
	Microphone(ctx context.Context) (InputStream, error)

	// Close releases the capture context. Close is idempotent.
	Close() error
}

// Platform opens audio devices.
//
// Implementations must be safe for concurrent use.
type Platform interface {
	// OpenOutput opens a playback context in format f. It returns an error
	// wrapping [ErrUnsupported] if no output facility exists.
	OpenOutput(ctx context.Context, f Format) (OutputDevice, error)

	// OpenInput opens a capture context in format f.
	OpenInput(ctx context.Context, f Format) (InputDevice, error)
}
