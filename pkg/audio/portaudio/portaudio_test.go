package portaudio

import (
	"errors"
	"testing"
	"time"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/livescribe/pkg/audio"
)

func TestMapError(t *testing.T) {
	t.Parallel()

	other := errors.New("boom")
	tests := []struct {
		name string
		in   error
		want error
	}{
		{"invalid device", pa.InvalidDevice, audio.ErrDeviceNotFound},
		{"device unavailable", pa.DeviceUnavailable, audio.ErrDeviceNotFound},
		{"sample rate", pa.InvalidSampleRate, audio.ErrUnsupportedFormat},
		{"sample format", pa.SampleFormatNotSupported, audio.ErrUnsupportedFormat},
		{"channel count", pa.InvalidChannelCount, audio.ErrUnsupportedFormat},
		{"unrelated", other, other},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := mapError(tc.in)
			if !errors.Is(got, tc.want) {
				t.Errorf("mapError(%v) = %v, want wrapping %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestNew_Options(t *testing.T) {
	t.Parallel()

	s := New()
	if s.framesPerBuffer != defaultFramesPerBuffer {
		t.Errorf("framesPerBuffer = %d, want %d", s.framesPerBuffer, defaultFramesPerBuffer)
	}
	if s.stallTimeout != defaultStallTimeout {
		t.Errorf("stallTimeout = %v, want %v", s.stallTimeout, defaultStallTimeout)
	}

	s = New(WithDevice("USB"), WithFramesPerBuffer(320), WithStallTimeout(0), WithFramesPerBuffer(-1))
	if s.device != "USB" {
		t.Errorf("device = %q, want USB", s.device)
	}
	if s.framesPerBuffer != 320 {
		t.Errorf("framesPerBuffer = %d, want 320", s.framesPerBuffer)
	}
	if s.stallTimeout != 0 {
		t.Errorf("stallTimeout = %v, want 0", s.stallTimeout)
	}
}

func TestOpen_RejectsUnsupportedFormat(t *testing.T) {
	t.Parallel()

	// Format validation happens before PortAudio is touched.
	stereo := audio.DefaultFormat
	stereo.Channels = 2
	_, err := New(WithStallTimeout(time.Second)).Open(t.Context(), stereo, func(audio.AudioFrame) {})
	if !errors.Is(err, audio.ErrUnsupportedFormat) {
		t.Fatalf("Open err = %v, want ErrUnsupportedFormat", err)
	}
}
