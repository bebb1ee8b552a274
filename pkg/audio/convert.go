package audio

import "fmt"

// ConvertPCM16 converts little-endian 16-bit PCM with the given sample rate
// and interleaved channel count to target. Channels are downmixed first so
// that only one channel is resampled. The target must be mono 16-bit linear
// PCM. Input already in the target format is returned unchanged.
func ConvertPCM16(pcm []byte, sampleRate, channels int, target CaptureFormat) ([]byte, error) {
	if target.Channels != 1 || target.BitDepth != 16 || target.Encoding != EncodingLinearPCM {
		return nil, fmt.Errorf("%w: conversion target %s", ErrUnsupportedFormat, target)
	}
	if sampleRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("%w: %d Hz, %d channels", ErrUnsupportedFormat, sampleRate, channels)
	}
	out := Downmix16(pcm, channels)
	return ResampleMono16(out, sampleRate, target.SampleRate), nil
}

// Downmix16 averages each interleaved frame of channels int16 samples into a
// single mono sample. A trailing partial frame is dropped. Mono input is
// returned unchanged.
func Downmix16(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	stride := channels * 2
	frames := len(pcm) / stride
	out := make([]byte, frames*2)
	for i := range frames {
		var sum int32
		for c := range channels {
			j := i*stride + c*2
			sum += int32(int16(pcm[j]) | int16(pcm[j+1])<<8)
		}
		// The mean of int16 values always fits in int16.
		avg := int16(sum / int32(channels))
		out[i*2] = byte(avg)
		out[i*2+1] = byte(avg >> 8)
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using linear
// interpolation. The input must be little-endian int16 samples. If srcRate ==
// dstRate, the input is returned unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := int16(pcm[srcIdx*2]) | int16(pcm[srcIdx*2+1])<<8
		s1 := s0
		if srcIdx+1 < srcSamples {
			s1 = int16(pcm[(srcIdx+1)*2]) | int16(pcm[(srcIdx+1)*2+1])<<8
		}

		v := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}
