package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
)

// pcmScale is the int16 full-scale factor used in both directions, so a
// decoded sample never exceeds magnitude 1 by more than one LSB.
const pcmScale = 32767

// CodecError reports a failure to decode wire audio.
type CodecError struct {
	Op  string
	Err error
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("audio: %s: %v", e.Op, e.Err)
}

func (e *CodecError) Unwrap() error { return e.Err }

// PCMMIMEType returns the MIME type announced for raw 16-bit PCM at rate.
func PCMMIMEType(rate int) string {
	return fmt.Sprintf("audio/pcm;rate=%d", rate)
}

// EncodePCM16 converts float samples to 16-bit little-endian PCM. Each sample
// is clamped to [-1, 1], scaled by 32767 and truncated toward zero. NaN
// encodes as silence.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(floatToInt16(s)))
	}
	return out
}

func floatToInt16(s float32) int16 {
	switch {
	case math.IsNaN(float64(s)):
		return 0
	case s > 1:
		s = 1
	case s < -1:
		s = -1
	}
	return int16(s * pcmScale)
}

// Encode converts a chunk into its wire form. The MIME type carries the
// chunk's sample rate.
func Encode(c Chunk) EncodedFrame {
	return EncodedFrame{
		MIMEType: PCMMIMEType(c.SampleRate),
		Data:     base64.StdEncoding.EncodeToString(EncodePCM16(c.Samples)),
	}
}

// Decode reverses the base64 step of [Encode]. Input outside the standard
// alphabet yields a *[CodecError].
func Decode(data string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, &CodecError{Op: "decode base64", Err: err}
	}
	return b, nil
}

// DecodeAudioData interprets pcm as interleaved 16-bit little-endian samples
// and returns them as a float chunk of the given format. Each sample is
// divided by 32767. A trailing odd byte is ignored.
func DecodeAudioData(pcm []byte, sampleRate, channels int) Chunk {
	n := len(pcm) / 2
	samples := make([]float32, n)
	for i := range n {
		v := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		samples[i] = float32(v) / pcmScale
	}
	return Chunk{Samples: samples, SampleRate: sampleRate, Channels: channels}
}
