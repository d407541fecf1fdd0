package audio

import (
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Clock is the playback timeline. Now is monotonic from an arbitrary origin;
// AfterFunc schedules f on that timeline and returns a cancellable handle.
type Clock interface {
	Now() time.Duration
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a cancellable scheduled callback.
type Timer interface {
	Stop() bool
}

// PCMWriter delivers decoded PCM to the output device. Reset drops anything
// queued but not yet played.
type PCMWriter interface {
	WritePCM(pcm []byte)
	Reset()
}

// scheduleEpsilon absorbs scheduling slack so chunks enqueued against a
// cursor that has fallen behind the clock still start without an audible gap.
const scheduleEpsilon = 10 * time.Millisecond

// Playback decodes inbound base64 PCM chunks and schedules them for gapless,
// in-order playback. A monotonically non-decreasing cursor marks the next
// playback instant; each chunk starts at max(cursor, now+epsilon) and the
// cursor advances by the chunk's decoded duration, so chunks arriving at
// arbitrary times never overlap and never queue behind an unbounded gap.
type Playback struct {
	clock Clock
	out   PCMWriter
	log   zerolog.Logger

	mu        sync.Mutex
	cursor    time.Duration
	scheduled map[*scheduledChunk]struct{}
}

type scheduledChunk struct {
	timer Timer
}

// NewPlayback constructs a playback channel on the given clock and output.
func NewPlayback(clock Clock, out PCMWriter, log zerolog.Logger) *Playback {
	return &Playback{
		clock:     clock,
		out:       out,
		log:       log.With().Str("component", "playback").Logger(),
		cursor:    clock.Now(),
		scheduled: make(map[*scheduledChunk]struct{}),
	}
}

// Enqueue decodes a base64 PCM chunk at the given source sample rate and
// schedules it after everything already queued. A malformed chunk is logged
// and skipped; it does not abort the channel or move the cursor.
func (p *Playback) Enqueue(data string, sampleRate int) {
	pcm, err := decodeChunk(data)
	if err != nil {
		p.log.Warn().Err(err).Msg("dropping undecodable audio chunk")
		return
	}
	duration := PCMDuration(pcm, sampleRate)
	if duration <= 0 {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	start := now + scheduleEpsilon
	if p.cursor > start {
		start = p.cursor
	}

	sc := &scheduledChunk{}
	sc.timer = p.clock.AfterFunc(start-now, func() {
		// Write under the lock, and only while still pending: a timer that
		// fires in the window between Interrupt's Stop and the output reset
		// must not slip its chunk past the flush.
		p.mu.Lock()
		defer p.mu.Unlock()
		if _, ok := p.scheduled[sc]; !ok {
			return
		}
		delete(p.scheduled, sc)
		p.out.WritePCM(pcm)
	})
	p.scheduled[sc] = struct{}{}
	p.cursor = start + duration
}

// Interrupt stops every scheduled chunk immediately, clears the pending set,
// and resets the cursor to the current playback clock. Audio queued but not
// yet played is discarded, never played late.
func (p *Playback) Interrupt() {
	p.mu.Lock()
	for sc := range p.scheduled {
		sc.timer.Stop()
	}
	p.scheduled = make(map[*scheduledChunk]struct{})
	p.cursor = p.clock.Now()
	// Reset inside the critical section so no stale chunk can be written
	// after the flush.
	p.out.Reset()
	p.mu.Unlock()

	p.log.Debug().Msg("playback interrupted, pending audio flushed")
}

// ScheduledCount reports how many chunks are queued but not yet played.
func (p *Playback) ScheduledCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.scheduled)
}

// Cursor returns the next playback instant on the channel's clock.
func (p *Playback) Cursor() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor
}

func decodeChunk(data string) ([]byte, error) {
	pcm, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("decode audio chunk: %w", err)
	}
	if len(pcm) == 0 || len(pcm)%2 != 0 {
		return nil, fmt.Errorf("decode audio chunk: %d bytes is not whole 16-bit samples", len(pcm))
	}
	return pcm, nil
}

// WallClock is the real-time Clock used in production, measuring from the
// moment it was created.
type WallClock struct {
	origin time.Time
}

// NewWallClock returns a Clock backed by the system monotonic clock.
func NewWallClock() *WallClock { return &WallClock{origin: time.Now()} }

func (w *WallClock) Now() time.Duration { return time.Since(w.origin) }

func (w *WallClock) AfterFunc(d time.Duration, f func()) Timer {
	if d < 0 {
		d = 0
	}
	return time.AfterFunc(d, f)
}
