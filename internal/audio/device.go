package audio

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"
)

// Sample rates fixed by the speech service contract: 16 kHz mono up,
// 24 kHz mono down.
const (
	CaptureSampleRate  = 16000
	PlaybackSampleRate = 24000
)

// DeviceContext owns the miniaudio context shared by the microphone and
// speaker devices.
type DeviceContext struct {
	ctx *malgo.AllocatedContext
}

// NewDeviceContext initializes the platform audio backend.
func NewDeviceContext() (*DeviceContext, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	return &DeviceContext{ctx: ctx}, nil
}

// Close releases the audio backend.
func (d *DeviceContext) Close() {
	_ = d.ctx.Uninit()
	d.ctx.Free()
}

// Microphone is a CaptureDevice producing 16 kHz mono PCM blocks of
// blockSamples frames each.
type Microphone struct {
	parent *DeviceContext

	mu     sync.Mutex
	device *malgo.Device
	block  uint32
}

// NewMicrophone prepares a capture device with a fixed block size.
func NewMicrophone(parent *DeviceContext, blockSamples int) *Microphone {
	if blockSamples <= 0 {
		blockSamples = 512
	}
	return &Microphone{parent: parent, block: uint32(blockSamples)}
}

// Start opens the default microphone and begins delivering blocks. The error
// distinguishes a denied device from a missing one where the backend lets us.
func (m *Microphone) Start(onBlock func(pcm []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.device != nil {
		return nil
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = 1
	cfg.SampleRate = CaptureSampleRate
	cfg.PeriodSizeInFrames = m.block

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, in []byte, frameCount uint32) {
			if frameCount == 0 || len(in) == 0 {
				return
			}
			block := make([]byte, len(in))
			copy(block, in)
			onBlock(block)
		},
	}

	device, err := malgo.InitDevice(m.parent.ctx.Context, cfg, callbacks)
	if err != nil {
		return classifyDeviceError(err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return classifyDeviceError(err)
	}
	m.device = device
	return nil
}

// Stop releases the microphone. Safe to call when not started.
func (m *Microphone) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.device == nil {
		return
	}
	_ = m.device.Stop()
	m.device.Uninit()
	m.device = nil
}

func classifyDeviceError(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "access denied") || strings.Contains(msg, "permission") {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
}

// Speaker is a PCMWriter feeding the default output device at 24 kHz mono.
// Decoded chunks are appended to an internal buffer that the device callback
// drains at the hardware rate; Reset drops whatever has not been consumed so
// an interruption is inaudible immediately.
type Speaker struct {
	parent *DeviceContext

	mu     sync.Mutex
	device *malgo.Device
	buf    []byte
}

// NewSpeaker opens the default playback device.
func NewSpeaker(parent *DeviceContext) (*Speaker, error) {
	s := &Speaker{parent: parent}

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = 1
	cfg.SampleRate = PlaybackSampleRate

	callbacks := malgo.DeviceCallbacks{
		Data: func(out, _ []byte, frameCount uint32) {
			s.fill(out)
		},
	}

	device, err := malgo.InitDevice(parent.ctx.Context, cfg, callbacks)
	if err != nil {
		return nil, classifyDeviceError(err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, classifyDeviceError(err)
	}
	s.device = device
	return s, nil
}

// WritePCM queues decoded 24 kHz mono PCM for playback.
func (s *Speaker) WritePCM(pcm []byte) {
	s.mu.Lock()
	s.buf = append(s.buf, pcm...)
	s.mu.Unlock()
}

// Reset drops queued audio immediately.
func (s *Speaker) Reset() {
	s.mu.Lock()
	s.buf = s.buf[:0]
	s.mu.Unlock()
}

// Close stops the output device.
func (s *Speaker) Close() {
	s.mu.Lock()
	device := s.device
	s.device = nil
	s.buf = nil
	s.mu.Unlock()
	if device != nil {
		_ = device.Stop()
		device.Uninit()
	}
}

func (s *Speaker) fill(out []byte) {
	s.mu.Lock()
	n := copy(out, s.buf)
	s.buf = s.buf[n:]
	s.mu.Unlock()
	for i := n; i < len(out); i++ {
		out[i] = 0
	}
}
