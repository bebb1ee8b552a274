// Package pcmfile provides an [audio.Source] that replays a recording from
// disk instead of a live microphone. It accepts 16-bit linear PCM WAV files
// at any sample rate and channel count, converting them to the capture format
// on open, and headerless little-endian PCM already in the capture format.
// Delivery is paced in real time so the rest of the pipeline behaves exactly
// as with a device.
package pcmfile

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/MrWong99/livescribe/pkg/audio"
)

const defaultFramesPerBuffer = 160

// Option is a functional option for configuring the Source.
type Option func(*Source)

// WithFramesPerBuffer sets how many samples are delivered per frame.
func WithFramesPerBuffer(n int) Option {
	return func(s *Source) {
		if n > 0 {
			s.framesPerBuffer = n
		}
	}
}

// WithLoop restarts playback from the beginning at end of file instead of
// ending the capture.
func WithLoop(loop bool) Option {
	return func(s *Source) { s.loop = loop }
}

// WithPacing controls real-time pacing. Disabled pacing delivers frames as
// fast as the sink accepts them.
func WithPacing(paced bool) Option {
	return func(s *Source) { s.paced = paced }
}

// Source implements audio.Source backed by a file.
type Source struct {
	path            string
	framesPerBuffer int
	loop            bool
	paced           bool
}

// New creates a file Source for path.
func New(path string, opts ...Option) *Source {
	s := &Source{
		path:            path,
		framesPerBuffer: defaultFramesPerBuffer,
		paced:           true,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Open implements audio.Source. The capture ends cleanly (Err() == nil) at
// end of file unless looping is enabled.
func (s *Source) Open(ctx context.Context, format audio.CaptureFormat, sink audio.FrameSink) (audio.Capture, error) {
	if err := format.Validate(); err != nil {
		return nil, &audio.CaptureError{Device: s.path, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &audio.CaptureError{Device: s.path, Err: fmt.Errorf("%w: %w", audio.ErrDeviceNotFound, err)}
		}
		return nil, &audio.CaptureError{Device: s.path, Err: err}
	}

	data, err := pcmSection(f, format)
	if err == nil && s.loop && data.Size() < int64(format.SampleSize()) {
		err = errors.New("cannot loop a recording without samples")
	}
	if err != nil {
		f.Close()
		return nil, &audio.CaptureError{Device: s.path, Err: err}
	}

	stop := make(chan struct{})
	finished := make(chan struct{})
	h := audio.NewCaptureHandle(s.path, format, sink, func() error {
		close(stop)
		<-finished
		return f.Close()
	})

	go func() {
		err := s.pump(data, format, h, stop)
		close(finished)
		switch {
		case err != nil:
			h.Fail(err)
		default:
			_ = h.Close()
		}
	}()

	return h, nil
}

// pump reads the PCM section chunk by chunk and delivers it through h. It
// returns nil at end of input or when stop is closed.
func (s *Source) pump(data *io.SectionReader, format audio.CaptureFormat, h *audio.CaptureHandle, stop <-chan struct{}) error {
	chunk := s.framesPerBuffer * format.SampleSize()

	var tick <-chan time.Time
	if s.paced {
		ticker := time.NewTicker(format.Duration(chunk))
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		if tick != nil {
			select {
			case <-stop:
				return nil
			case <-tick:
			}
		} else {
			select {
			case <-stop:
				return nil
			default:
			}
		}

		buf := make([]byte, chunk)
		n, err := io.ReadFull(data, buf)
		// Trim a trailing partial sample.
		n -= n % format.SampleSize()
		if n > 0 {
			ok, derr := h.Deliver(buf[:n], time.Now())
			if derr != nil {
				return derr
			}
			if !ok {
				return nil
			}
		}

		switch {
		case err == nil:
		case errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF):
			if !s.loop {
				return nil
			}
			if _, err := data.Seek(0, io.SeekStart); err != nil {
				return fmt.Errorf("rewind: %w", err)
			}
		default:
			return fmt.Errorf("read: %w", err)
		}
	}
}

// wavFormat mirrors the fields of a WAV "fmt " chunk that matter here.
type wavFormat struct {
	AudioFormat   uint16
	Channels      uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
}

// pcmSection returns a reader over the raw samples in f. WAV files are
// checked against format; anything without a RIFF header is treated as raw
// PCM already in format.
func pcmSection(f *os.File, format audio.CaptureFormat) (*io.SectionReader, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := info.Size()

	var magic [12]byte
	n, err := io.ReadFull(f, magic[:])
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if n < 12 || string(magic[0:4]) != "RIFF" || string(magic[8:12]) != "WAVE" {
		return io.NewSectionReader(f, 0, size), nil
	}

	var (
		fmtChunk *wavFormat
		offset   int64 = 12
	)
	for offset+8 <= size {
		var hdr [8]byte
		if _, err := f.ReadAt(hdr[:], offset); err != nil {
			return nil, fmt.Errorf("wav: read chunk header: %w", err)
		}
		id := string(hdr[0:4])
		chunkSize := int64(binary.LittleEndian.Uint32(hdr[4:8]))
		body := offset + 8

		switch id {
		case "fmt ":
			var wf wavFormat
			if err := binary.Read(io.NewSectionReader(f, body, chunkSize), binary.LittleEndian, &wf); err != nil {
				return nil, fmt.Errorf("wav: read fmt chunk: %w", err)
			}
			fmtChunk = &wf
		case "data":
			if fmtChunk == nil {
				return nil, errors.New("wav: data chunk before fmt chunk")
			}
			if chunkSize == 0 || body+chunkSize > size {
				// Streaming writers leave the size unset.
				chunkSize = size - body
			}
			data := io.NewSectionReader(f, body, chunkSize)
			convert, err := checkWAV(*fmtChunk, format)
			if err != nil {
				return nil, err
			}
			if !convert {
				return data, nil
			}
			return convertSection(data, *fmtChunk, format)
		}

		offset = body + chunkSize + chunkSize%2
	}
	return nil, errors.New("wav: no data chunk")
}

// checkWAV reports whether a file in wf must be converted to format. Only
// 16-bit linear PCM can be converted.
func checkWAV(wf wavFormat, format audio.CaptureFormat) (convert bool, err error) {
	got := audio.CaptureFormat{
		SampleRate: int(wf.SampleRate),
		Channels:   int(wf.Channels),
		BitDepth:   int(wf.BitsPerSample),
		Encoding:   audio.EncodingLinearPCM,
	}
	if wf.AudioFormat != 1 {
		got.Encoding = audio.Encoding(fmt.Sprintf("wav_format_%d", wf.AudioFormat))
	}
	switch {
	case got == format:
		return false, nil
	case got.Encoding == audio.EncodingLinearPCM && got.BitDepth == 16:
		return true, nil
	default:
		return false, fmt.Errorf("%w: file is %s, want %s", audio.ErrUnsupportedFormat, got, format)
	}
}

// convertSection reads the whole data chunk and converts it to format in
// memory.
func convertSection(data *io.SectionReader, wf wavFormat, format audio.CaptureFormat) (*io.SectionReader, error) {
	pcm, err := io.ReadAll(data)
	if err != nil {
		return nil, fmt.Errorf("wav: read data chunk: %w", err)
	}
	out, err := audio.ConvertPCM16(pcm, int(wf.SampleRate), int(wf.Channels), format)
	if err != nil {
		return nil, err
	}
	return io.NewSectionReader(bytes.NewReader(out), 0, int64(len(out))), nil
}

// Ensure Source implements audio.Source at compile time.
var _ audio.Source = (*Source)(nil)
