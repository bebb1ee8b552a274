package audio

import (
	"errors"
	"fmt"
	"time"
)

// AudioFrame is one chunk of raw PCM captured in a single device callback.
// Frames are the atomic unit flowing from the capture source through the
// [FrameQueue] to the transport. A frame is never mutated after creation.
type AudioFrame struct {
	// Data holds little-endian PCM samples. Its length is always a multiple
	// of the sample size of the capture format.
	Data []byte

	// Seq is the capture sequence number. It strictly increases per capture
	// handle, starting at zero.
	Seq uint64

	// Timestamp is the wall-clock time the frame was handed over by the device.
	Timestamp time.Time
}

// Encoding names the sample encoding of a [CaptureFormat].
type Encoding string

// EncodingLinearPCM is signed integer linear PCM.
const EncodingLinearPCM Encoding = "pcm_s16le"

// CaptureFormat describes the audio the pipeline captures and transmits.
type CaptureFormat struct {
	SampleRate int
	Channels   int
	BitDepth   int
	Encoding   Encoding
	BigEndian  bool
}

// DefaultFormat is the only format the pipeline supports: 16 kHz mono
// 16-bit little-endian linear PCM. Both the capture device and the service
// handshake are configured from it.
var DefaultFormat = CaptureFormat{
	SampleRate: 16000,
	Channels:   1,
	BitDepth:   16,
	Encoding:   EncodingLinearPCM,
}

// Validate reports whether f is the fixed [DefaultFormat].
func (f CaptureFormat) Validate() error {
	var errs []error
	if f.SampleRate != DefaultFormat.SampleRate {
		errs = append(errs, fmt.Errorf("sample rate %d Hz, want %d", f.SampleRate, DefaultFormat.SampleRate))
	}
	if f.Channels != DefaultFormat.Channels {
		errs = append(errs, fmt.Errorf("%d channels, want %d", f.Channels, DefaultFormat.Channels))
	}
	if f.BitDepth != DefaultFormat.BitDepth {
		errs = append(errs, fmt.Errorf("bit depth %d, want %d", f.BitDepth, DefaultFormat.BitDepth))
	}
	if f.Encoding != DefaultFormat.Encoding {
		errs = append(errs, fmt.Errorf("encoding %q, want %q", f.Encoding, DefaultFormat.Encoding))
	}
	if f.BigEndian {
		errs = append(errs, errors.New("big-endian samples are not supported"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrUnsupportedFormat, errors.Join(errs...))
	}
	return nil
}

// SampleSize is the number of bytes per sample frame (all channels).
func (f CaptureFormat) SampleSize() int {
	return f.Channels * f.BitDepth / 8
}

// BytesPerSecond is the data rate of a stream in this format.
func (f CaptureFormat) BytesPerSecond() int {
	return f.SampleRate * f.SampleSize()
}

// Duration returns the playback length of n bytes in this format.
func (f CaptureFormat) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(bps)
}

// String returns a compact description such as "16000Hz/1ch/16bit pcm_s16le".
func (f CaptureFormat) String() string {
	return fmt.Sprintf("%dHz/%dch/%dbit %s", f.SampleRate, f.Channels, f.BitDepth, f.Encoding)
}
