// Package portaudio provides the microphone [audio.Source] backed by the
// PortAudio C library via github.com/gordonklaus/portaudio.
//
// The backend opens a callback stream in the fixed pipeline format and
// converts each callback buffer into a little-endian PCM [audio.AudioFrame].
// A device that disappears mid-stream usually just stops calling back, so
// every capture is watched for stalls.
package portaudio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/livescribe/pkg/audio"
)

const (
	defaultFramesPerBuffer = 160
	defaultStallTimeout    = 2 * time.Second
)

// Option is a functional option for configuring the Source.
type Option func(*Source)

// WithDevice selects the input device by name. A case-insensitive substring
// match is accepted when no device has exactly that name. The empty string
// selects the system default input.
func WithDevice(name string) Option {
	return func(s *Source) { s.device = name }
}

// WithFramesPerBuffer sets the number of samples per callback.
func WithFramesPerBuffer(n int) Option {
	return func(s *Source) {
		if n > 0 {
			s.framesPerBuffer = n
		}
	}
}

// WithStallTimeout sets how long the device may stay silent before the
// capture is reported as interrupted. Zero disables stall detection.
func WithStallTimeout(d time.Duration) Option {
	return func(s *Source) { s.stallTimeout = d }
}

// Source implements audio.Source on a PortAudio input device.
type Source struct {
	device          string
	framesPerBuffer int
	stallTimeout    time.Duration
}

// New creates a PortAudio Source.
func New(opts ...Option) *Source {
	s := &Source{
		framesPerBuffer: defaultFramesPerBuffer,
		stallTimeout:    defaultStallTimeout,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Open implements audio.Source.
func (s *Source) Open(ctx context.Context, format audio.CaptureFormat, sink audio.FrameSink) (audio.Capture, error) {
	if err := format.Validate(); err != nil {
		return nil, &audio.CaptureError{Device: s.device, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := pa.Initialize(); err != nil {
		return nil, &audio.CaptureError{Device: s.device, Err: fmt.Errorf("initialize portaudio: %w", err)}
	}

	c, err := s.open(format, sink)
	if err != nil {
		_ = pa.Terminate()
		return nil, &audio.CaptureError{Device: s.device, Err: err}
	}
	return c, nil
}

func (s *Source) open(format audio.CaptureFormat, sink audio.FrameSink) (*audio.CaptureHandle, error) {
	dev, err := findDevice(s.device)
	if err != nil {
		return nil, err
	}
	if dev.MaxInputChannels < format.Channels {
		return nil, fmt.Errorf("%w: %q has %d input channels", audio.ErrUnsupportedFormat, dev.Name, dev.MaxInputChannels)
	}

	params := pa.LowLatencyParameters(dev, nil)
	params.Input.Channels = format.Channels
	params.SampleRate = float64(format.SampleRate)
	params.FramesPerBuffer = s.framesPerBuffer

	var h *audio.CaptureHandle
	callback := func(in []int16) {
		// in is reused by PortAudio after the callback returns.
		buf := make([]byte, len(in)*2)
		for i, v := range in {
			binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
		}
		_, _ = h.Deliver(buf, time.Now())
	}

	if err := pa.IsFormatSupported(params, callback); err != nil {
		return nil, mapError(err)
	}
	stream, err := pa.OpenStream(params, callback)
	if err != nil {
		return nil, mapError(err)
	}

	h = audio.NewCaptureHandle(s.device, format, sink, func() error {
		return errors.Join(stream.Stop(), stream.Close(), pa.Terminate())
	})
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, mapError(err)
	}
	h.Watch(s.stallTimeout)
	return h, nil
}

// findDevice resolves name to an input device. PortAudio must be
// initialised.
func findDevice(name string) (*pa.DeviceInfo, error) {
	if name == "" {
		dev, err := pa.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("%w: no default input: %w", audio.ErrDeviceNotFound, err)
		}
		return dev, nil
	}

	devices, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	var partial *pa.DeviceInfo
	for _, d := range devices {
		if d.MaxInputChannels == 0 {
			continue
		}
		if d.Name == name {
			return d, nil
		}
		if partial == nil && strings.Contains(strings.ToLower(d.Name), strings.ToLower(name)) {
			partial = d
		}
	}
	if partial != nil {
		return partial, nil
	}
	return nil, audio.ErrDeviceNotFound
}

// mapError translates PortAudio error codes into the audio sentinels.
func mapError(err error) error {
	var paErr pa.Error
	if !errors.As(err, &paErr) {
		return err
	}
	switch paErr {
	case pa.InvalidDevice, pa.DeviceUnavailable:
		return fmt.Errorf("%w: %w", audio.ErrDeviceNotFound, err)
	case pa.InvalidSampleRate, pa.SampleFormatNotSupported, pa.InvalidChannelCount:
		return fmt.Errorf("%w: %w", audio.ErrUnsupportedFormat, err)
	default:
		return err
	}
}

// Device describes an input device as reported by PortAudio.
type Device struct {
	Name              string
	HostAPI           string
	MaxInputChannels  int
	DefaultSampleRate float64
	IsDefault         bool
}

// Devices lists the available input devices.
func Devices() ([]Device, error) {
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}
	defer pa.Terminate()

	all, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	var defName string
	if def, err := pa.DefaultInputDevice(); err == nil {
		defName = def.Name
	}

	out := make([]Device, 0, len(all))
	for _, d := range all {
		if d.MaxInputChannels == 0 {
			continue
		}
		dev := Device{
			Name:              d.Name,
			MaxInputChannels:  d.MaxInputChannels,
			DefaultSampleRate: d.DefaultSampleRate,
			IsDefault:         d.Name == defName,
		}
		if d.HostApi != nil {
			dev.HostAPI = d.HostApi.Name
		}
		out = append(out, dev)
	}
	return out, nil
}

// Ensure Source implements audio.Source at compile time.
var _ audio.Source = (*Source)(nil)
