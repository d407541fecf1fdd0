package audio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Capture start failures.
var (
	ErrPermissionDenied  = errors.New("audio: microphone permission denied")
	ErrDeviceUnavailable = errors.New("audio: capture device unavailable")
)

// Sink receives non-silent PCM blocks for transmission. Implementations must
// not retain the slice past the call.
type Sink interface {
	SendAudio(pcm []byte) error
}

// CaptureDevice abstracts the platform microphone. Start begins delivering
// fixed-size 16-bit little-endian mono PCM blocks to onBlock; Stop releases
// the device and must be safe to call when not started.
type CaptureDevice interface {
	Start(onBlock func(pcm []byte)) error
	Stop()
}

// CaptureConfig tunes the capture pipeline.
type CaptureConfig struct {
	// SilenceRMS is the normalized RMS amplitude below which a block is
	// considered near-silent and dropped instead of transmitted. This is a
	// traffic-reduction heuristic, not voice-activity detection.
	SilenceRMS float64
	// MaxSendFailures is the number of consecutive transmission failures
	// tolerated before the failure callback fires.
	MaxSendFailures int
}

// DefaultCaptureConfig mirrors the tunables of the capture pipeline: 512
// sample blocks are configured on the device, blocks quieter than 0.001 RMS
// are skipped.
func DefaultCaptureConfig() CaptureConfig {
	return CaptureConfig{SilenceRMS: 0.001, MaxSendFailures: 5}
}

// Capture turns a microphone device into a stream of PCM blocks handed to a
// sink. Capture and transmission are decoupled: a send error never tears down
// the device by itself, it only bumps a failure counter surfaced through
// onFailure so the owner can decide to stop.
type Capture struct {
	dev       CaptureDevice
	sink      Sink
	cfg       CaptureConfig
	onFailure func(error)
	log       zerolog.Logger

	mu        sync.Mutex
	recording bool
	failures  int
}

// NewCapture constructs a capture channel. onFailure may be nil.
func NewCapture(dev CaptureDevice, sink Sink, cfg CaptureConfig, onFailure func(error), log zerolog.Logger) *Capture {
	if cfg.MaxSendFailures <= 0 {
		cfg.MaxSendFailures = DefaultCaptureConfig().MaxSendFailures
	}
	return &Capture{
		dev:       dev,
		sink:      sink,
		cfg:       cfg,
		onFailure: onFailure,
		log:       log.With().Str("component", "capture").Logger(),
	}
}

// Start acquires the microphone and begins emitting blocks. Calling Start
// while already recording is a no-op.
func (c *Capture) Start() error {
	c.mu.Lock()
	if c.recording {
		c.mu.Unlock()
		return nil
	}
	c.recording = true
	c.failures = 0
	c.mu.Unlock()

	if err := c.dev.Start(c.onBlock); err != nil {
		c.mu.Lock()
		c.recording = false
		c.mu.Unlock()
		return fmt.Errorf("start capture: %w", err)
	}
	c.log.Info().Msg("recording started")
	return nil
}

// Stop tears down the capture pipe and releases the device. Idempotent.
func (c *Capture) Stop() {
	c.mu.Lock()
	if !c.recording {
		c.mu.Unlock()
		return
	}
	c.recording = false
	c.mu.Unlock()

	c.dev.Stop()
	c.log.Info().Msg("recording stopped")
}

// Recording reports whether the capture pipe is active.
func (c *Capture) Recording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recording
}

func (c *Capture) onBlock(pcm []byte) {
	c.mu.Lock()
	active := c.recording
	c.mu.Unlock()
	if !active || len(pcm) == 0 {
		return
	}

	if RMS(pcm) < c.cfg.SilenceRMS {
		return
	}

	if err := c.sink.SendAudio(pcm); err != nil {
		c.mu.Lock()
		c.failures++
		failures := c.failures
		c.mu.Unlock()
		c.log.Warn().Err(err).Int("consecutive", failures).Msg("audio send failed")
		if failures >= c.cfg.MaxSendFailures && c.onFailure != nil {
			c.onFailure(err)
		}
		return
	}

	c.mu.Lock()
	c.failures = 0
	c.mu.Unlock()
}
