package audio

import (
	"encoding/base64"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced playback timeline.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*fakeTimer
}

type fakeTimer struct {
	at      time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.stopped = true
	return !t.fired
}

func (c *fakeClock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{at: c.now + d, f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves the clock forward, firing due timers in schedule order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	due := make([]*fakeTimer, 0)
	for _, t := range c.timers {
		if !t.stopped && !t.fired && t.at <= c.now {
			due = append(due, t)
		}
	}
	sort.SliceStable(due, func(i, j int) bool { return due[i].at < due[j].at })
	c.mu.Unlock()

	for _, t := range due {
		t.fired = true
		t.f()
	}
}

type fakeWriter struct {
	mu     sync.Mutex
	writes [][]byte
	resets int
}

func (w *fakeWriter) WritePCM(pcm []byte) {
	w.mu.Lock()
	w.writes = append(w.writes, pcm)
	w.mu.Unlock()
}

func (w *fakeWriter) Reset() {
	w.mu.Lock()
	w.resets++
	w.mu.Unlock()
}

func (w *fakeWriter) written() [][]byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([][]byte, len(w.writes))
	copy(out, w.writes)
	return out
}

// chunk encodes n zero samples as a base64 payload.
func chunk(samples int) string {
	return base64.StdEncoding.EncodeToString(make([]byte, samples*2))
}

func TestPlaybackSchedulesSequentially(t *testing.T) {
	clock := &fakeClock{}
	out := &fakeWriter{}
	p := NewPlayback(clock, out, zerolog.Nop())

	// Two 100 ms chunks at 24 kHz.
	p.Enqueue(chunk(2400), PlaybackSampleRate)
	first := p.Cursor()
	p.Enqueue(chunk(2400), PlaybackSampleRate)
	second := p.Cursor()

	require.Equal(t, scheduleEpsilon+100*time.Millisecond, first)
	require.Equal(t, first+100*time.Millisecond, second, "second chunk queues after the first, never overlapping")
	require.Equal(t, 2, p.ScheduledCount())

	clock.Advance(scheduleEpsilon + 200*time.Millisecond)
	require.Len(t, out.written(), 2)
	require.Zero(t, p.ScheduledCount())
}

func TestPlaybackCursorNeverDecreasesOnEnqueue(t *testing.T) {
	clock := &fakeClock{}
	p := NewPlayback(clock, &fakeWriter{}, zerolog.Nop())

	p.Enqueue(chunk(2400), PlaybackSampleRate)
	before := p.Cursor()

	// Arrival long after the queue drained restarts near now, not at the
	// stale cursor and not before it.
	clock.Advance(5 * time.Second)
	p.Enqueue(chunk(2400), PlaybackSampleRate)
	after := p.Cursor()
	require.Greater(t, after, before)
	require.Equal(t, clock.Now()+scheduleEpsilon+100*time.Millisecond, after)
}

func TestPlaybackInterruptFlushesPending(t *testing.T) {
	clock := &fakeClock{}
	out := &fakeWriter{}
	p := NewPlayback(clock, out, zerolog.Nop())

	p.Enqueue(chunk(2400), PlaybackSampleRate)
	p.Enqueue(chunk(2400), PlaybackSampleRate)
	require.Equal(t, 2, p.ScheduledCount())

	p.Interrupt()
	require.Zero(t, p.ScheduledCount())
	require.Equal(t, 1, out.resets)
	require.Equal(t, clock.Now(), p.Cursor(), "cursor resets to now so new audio starts immediately")

	clock.Advance(time.Second)
	require.Empty(t, out.written(), "flushed chunks are never played late")

	// The channel keeps accepting audio after an interruption.
	p.Enqueue(chunk(2400), PlaybackSampleRate)
	clock.Advance(time.Second)
	require.Len(t, out.written(), 1)
}

func TestPlaybackInterruptBeatsFiredTimer(t *testing.T) {
	clock := &fakeClock{}
	out := &fakeWriter{}
	p := NewPlayback(clock, out, zerolog.Nop())

	p.Enqueue(chunk(2400), PlaybackSampleRate)

	// The timer fires concurrently with the interrupt: Stop reports it as
	// already fired, but its callback has not delivered the chunk yet.
	timer := clock.timers[0]
	timer.fired = true

	p.Interrupt()
	timer.f()

	require.Empty(t, out.written(), "chunk stopped too late must not play after the flush")
	require.Equal(t, 1, out.resets)
}

func TestPlaybackSkipsMalformedChunk(t *testing.T) {
	clock := &fakeClock{}
	out := &fakeWriter{}
	p := NewPlayback(clock, out, zerolog.Nop())

	before := p.Cursor()
	p.Enqueue("not base64!!", PlaybackSampleRate)
	require.Equal(t, before, p.Cursor(), "bad chunk leaves the cursor untouched")
	require.Zero(t, p.ScheduledCount())

	// Odd byte count is not whole samples.
	p.Enqueue(base64.StdEncoding.EncodeToString([]byte{1, 2, 3}), PlaybackSampleRate)
	require.Zero(t, p.ScheduledCount())

	p.Enqueue(chunk(2400), PlaybackSampleRate)
	clock.Advance(time.Second)
	require.Len(t, out.written(), 1, "channel keeps working after malformed input")
}

func TestPlaybackLateChunkStartsNearNow(t *testing.T) {
	clock := &fakeClock{}
	out := &fakeWriter{}
	p := NewPlayback(clock, out, zerolog.Nop())

	clock.Advance(time.Minute)
	p.Enqueue(chunk(2400), PlaybackSampleRate)

	// Fires within epsilon of now rather than waiting out the initial
	// cursor origin.
	clock.Advance(scheduleEpsilon)
	require.Len(t, out.written(), 1)
}
