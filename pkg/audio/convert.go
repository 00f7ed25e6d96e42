package audio

import (
	"fmt"
	"log/slog"
	"sync"
)

// Converter converts chunks to a target format. It logs a warning on the
// first format mismatch. Create one per stream; not designed for shared use
// across goroutines.
type Converter struct {
	Target         Format
	warnedMismatch sync.Once
}

// Convert returns c in the target format. If c already matches, it is
// returned unchanged (zero allocation). Channels are mixed down or up first,
// then the result is resampled.
func (cv *Converter) Convert(c Chunk) Chunk {
	from := c.Format()
	if from == cv.Target || !cv.Target.IsValid() {
		return c
	}

	cv.warnedMismatch.Do(func() {
		slog.Warn("audio format mismatch: converting",
			"from", formatString(from.SampleRate, from.Channels),
			"to", formatString(cv.Target.SampleRate, cv.Target.Channels),
		)
	})

	samples := c.Samples
	channels := from.Channels
	switch {
	case channels != 1 && cv.Target.Channels == 1:
		samples = Downmix(samples, channels)
		channels = 1
	case channels == 1 && cv.Target.Channels > 1:
		samples = Upmix(samples, cv.Target.Channels)
		channels = cv.Target.Channels
	}
	if from.SampleRate != cv.Target.SampleRate {
		samples = Resample(samples, channels, from.SampleRate, cv.Target.SampleRate)
	}
	return Chunk{Samples: samples, SampleRate: cv.Target.SampleRate, Channels: channels}
}

// Downmix averages each interleaved frame of the given channel count into a
// single mono sample.
func Downmix(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]float32, frames)
	for i := range frames {
		var sum float32
		for ch := range channels {
			sum += samples[i*channels+ch]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// Upmix duplicates each mono sample into the given number of channels.
func Upmix(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	out := make([]float32, len(samples)*channels)
	for i, s := range samples {
		for ch := range channels {
			out[i*channels+ch] = s
		}
	}
	return out
}

// Resample converts interleaved samples from srcRate to dstRate using linear
// interpolation. If the rates are equal or invalid, samples is returned
// unchanged.
func Resample(samples []float32, channels, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate {
		return samples
	}
	if channels < 1 {
		channels = 1
	}
	srcFrames := len(samples) / channels
	if srcFrames == 0 {
		return nil
	}
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]float32, dstFrames*channels)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstFrames {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := float32(srcPos - float64(srcIdx))
		next := srcIdx + 1
		if next >= srcFrames {
			next = srcIdx
		}
		for ch := range channels {
			s0 := samples[srcIdx*channels+ch]
			s1 := samples[next*channels+ch]
			out[i*channels+ch] = s0*(1-frac) + s1*frac
		}
	}
	return out
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "24000Hz mono".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
