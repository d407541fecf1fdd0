package interview

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ddoriboo/ourstory/internal/live"
	"github.com/ddoriboo/ourstory/internal/transcript"
)

// ErrSessionOutOfRange is returned by SelectSession for numbers outside the
// catalog. The current session is left untouched.
var ErrSessionOutOfRange = errors.New("interview: session number out of range")

// LiveConnection is the streaming session the orchestrator drives.
type LiveConnection interface {
	Connect(ctx context.Context, instruction string) error
	SendText(text string) error
	Close()
	State() live.State
}

// Recorder is the microphone capture pipeline.
type Recorder interface {
	Start() error
	Stop()
	Recording() bool
}

// Player is the outbound audio channel.
type Player interface {
	Enqueue(data string, sampleRate int)
	Interrupt()
}

// Persister mirrors interview progress to the story backend. Both methods are
// called off the hot path and their failures are logged, never propagated.
type Persister interface {
	StartUserSession(ctx context.Context, sessionNumber int) (runID int, err error)
	SaveTurn(ctx context.Context, runID int, speaker, text string, questionIndex int) error
}

// Config tunes the orchestrator's timing.
type Config struct {
	// ResetCooldown is the pause between tearing a session down and dialing
	// the replacement, giving the service time to release the old one.
	ResetCooldown time.Duration
	// GreetingDelay is how long after a successful connect the greeting
	// nudge is sent so the interviewer speaks first.
	GreetingDelay time.Duration
	// ConnectTimeout bounds one connect attempt end to end.
	ConnectTimeout time.Duration
}

// DefaultConfig returns the production timing.
func DefaultConfig() Config {
	return Config{
		ResetCooldown:  time.Second,
		GreetingDelay:  time.Second,
		ConnectTimeout: 30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConfig().ConnectTimeout
	}
	return c
}

// Orchestrator runs the guided interview: it owns the current session and
// question position, drives the live connection through session changes and
// resets, routes inbound model output into the transcript and the player, and
// mirrors progress to the backend. Changing session or resetting always means
// a full reconnect because the service fixes the system instruction at
// connect time.
type Orchestrator struct {
	catalog *Catalog
	conn    LiveConnection
	rec     Recorder
	player  Player
	persist Persister
	cfg     Config
	log     zerolog.Logger

	store *transcript.Store

	mu            sync.Mutex
	sessionNumber int
	questionIndex int
	runID         int
	connected     bool
	status        string
	greetTimer    *time.Timer
}

// NewOrchestrator wires an orchestrator positioned at session 1, question 1.
// persist may be nil to run without a backend.
func NewOrchestrator(catalog *Catalog, conn LiveConnection, rec Recorder, player Player, persist Persister, cfg Config, log zerolog.Logger) *Orchestrator {
	o := &Orchestrator{
		catalog:       catalog,
		conn:          conn,
		rec:           rec,
		player:        player,
		persist:       persist,
		cfg:           cfg.withDefaults(),
		log:           log.With().Str("component", "interview").Logger(),
		sessionNumber: 1,
	}
	o.store = transcript.NewStore(o.mirrorTurn)
	return o
}

// Store exposes the conversation transcript.
func (o *Orchestrator) Store() *transcript.Store { return o.store }

// State is a snapshot of the interview position for status surfaces.
type State struct {
	SessionNumber int    `json:"sessionNumber"`
	SessionTitle  string `json:"sessionTitle"`
	QuestionIndex int    `json:"questionIndex"`
	QuestionCount int    `json:"questionCount"`
	Question      string `json:"question"`
	Connected     bool   `json:"connected"`
	Recording     bool   `json:"recording"`
	Status        string `json:"status"`
	Turns         int    `json:"turns"`
}

// Snapshot returns the current interview position.
func (o *Orchestrator) Snapshot() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, _ := o.catalog.Session(o.sessionNumber)
	question := ""
	if o.questionIndex >= 0 && o.questionIndex < len(s.Questions) {
		question = s.Questions[o.questionIndex]
	}
	return State{
		SessionNumber: o.sessionNumber,
		SessionTitle:  s.Title,
		QuestionIndex: o.questionIndex,
		QuestionCount: len(s.Questions),
		Question:      question,
		Connected:     o.connected,
		Recording:     o.rec.Recording(),
		Status:        o.status,
		Turns:         o.store.Len(),
	}
}

// Catalog exposes the session catalog.
func (o *Orchestrator) Catalog() *Catalog { return o.catalog }

// Start connects the initial session.
func (o *Orchestrator) Start(ctx context.Context) error {
	return o.connect(ctx)
}

// SelectSession moves the interview to another catalog session. The question
// position resets to the first question and the live connection is rebuilt
// from scratch so the new session's instruction takes effect. Out-of-range
// numbers leave everything untouched.
func (o *Orchestrator) SelectSession(ctx context.Context, number int) error {
	if _, ok := o.catalog.Session(number); !ok {
		return fmt.Errorf("%w: %d", ErrSessionOutOfRange, number)
	}

	o.mu.Lock()
	o.sessionNumber = number
	o.questionIndex = 0
	o.mu.Unlock()
	o.setStatus(fmt.Sprintf("세션 %d 준비 중", number))

	return o.reconnect(ctx)
}

// NextQuestion advances to the following question and nudges the live
// conversation toward it. At the last question it is a no-op. Returns the
// resulting 0-based index.
func (o *Orchestrator) NextQuestion() int {
	o.mu.Lock()
	s, _ := o.catalog.Session(o.sessionNumber)
	if o.questionIndex >= len(s.Questions)-1 {
		idx := o.questionIndex
		o.mu.Unlock()
		return idx
	}
	o.questionIndex++
	idx := o.questionIndex
	o.mu.Unlock()

	o.nudge(nextQuestionNudge(s, idx))
	return idx
}

// PreviousQuestion steps back one question and nudges the conversation.
// At the first question it is a no-op.
func (o *Orchestrator) PreviousQuestion() int {
	o.mu.Lock()
	s, _ := o.catalog.Session(o.sessionNumber)
	if o.questionIndex <= 0 {
		o.mu.Unlock()
		return 0
	}
	o.questionIndex--
	idx := o.questionIndex
	o.mu.Unlock()

	o.nudge(previousQuestionNudge(s, idx))
	return idx
}

// Reset rebuilds the live connection in place: same session, same question,
// transcript preserved. Queued playback is flushed and recording stops.
func (o *Orchestrator) Reset(ctx context.Context) error {
	o.setStatus("세션을 다시 연결하는 중")
	return o.reconnect(ctx)
}

// StartRecording opens the microphone. Fails when the session is not
// connected, since captured audio would have nowhere to go.
func (o *Orchestrator) StartRecording() error {
	o.mu.Lock()
	connected := o.connected
	o.mu.Unlock()
	if !connected {
		return live.ErrNotConnected
	}
	if err := o.rec.Start(); err != nil {
		o.setStatus(fmt.Sprintf("녹음 시작 실패: %v", err))
		return err
	}
	o.setStatus("녹음 중")
	return nil
}

// StopRecording closes the microphone. Idempotent.
func (o *Orchestrator) StopRecording() {
	o.rec.Stop()
	o.setStatus("녹음 중지")
}

// Close tears the interview down.
func (o *Orchestrator) Close() {
	o.stopGreeting()
	o.rec.Stop()
	o.player.Interrupt()
	o.conn.Close()
}

// HandleModelText records interviewer speech in the transcript.
func (o *Orchestrator) HandleModelText(text string) {
	o.store.Append(transcript.SpeakerAI, text, o.currentQuestionIndex())
}

// HandleUserText records the user's transcribed speech.
func (o *Orchestrator) HandleUserText(text string) {
	o.store.Append(transcript.SpeakerUser, text, o.currentQuestionIndex())
}

func (o *Orchestrator) currentQuestionIndex() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.questionIndex
}

// HandleAudio queues one inbound audio chunk for playback.
func (o *Orchestrator) HandleAudio(data string, sampleRate int) {
	o.player.Enqueue(data, sampleRate)
}

// HandleInterrupted flushes queued playback when the user talks over the
// interviewer.
func (o *Orchestrator) HandleInterrupted() {
	o.player.Interrupt()
}

// HandleStateChange tracks the connection lifecycle. A drop stops recording
// immediately so capture never feeds a dead session.
func (o *Orchestrator) HandleStateChange(s live.State, detail string) {
	o.mu.Lock()
	o.connected = s == live.StateConnected
	connected := o.connected
	o.mu.Unlock()

	o.setStatus(detail)
	if !connected && s == live.StateDisconnected {
		o.stopGreeting()
		o.rec.Stop()
	}
}

// HandleCaptureFailure reacts to repeated send failures from the capture
// pipeline by stopping the recording.
func (o *Orchestrator) HandleCaptureFailure(err error) {
	o.log.Warn().Err(err).Msg("stopping recording after repeated send failures")
	o.rec.Stop()
	o.setStatus("오디오 전송 실패로 녹음을 중지했습니다")
}

// Status returns the latest human-readable status line.
func (o *Orchestrator) Status() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

func (o *Orchestrator) connect(ctx context.Context) error {
	o.mu.Lock()
	s, _ := o.catalog.Session(o.sessionNumber)
	idx := o.questionIndex
	o.mu.Unlock()

	cctx, cancel := context.WithTimeout(ctx, o.cfg.ConnectTimeout)
	defer cancel()
	if err := o.conn.Connect(cctx, buildInstruction(s, idx)); err != nil {
		o.setStatus(fmt.Sprintf("연결 실패: %v", err))
		return fmt.Errorf("connect session %d: %w", s.Number, err)
	}

	o.startRun(s.Number)
	o.scheduleGreeting()
	o.setStatus(fmt.Sprintf("세션 %d: %s", s.Number, s.Title))
	return nil
}

func (o *Orchestrator) reconnect(ctx context.Context) error {
	o.stopGreeting()
	o.rec.Stop()
	o.player.Interrupt()
	o.conn.Close()

	if o.cfg.ResetCooldown > 0 {
		select {
		case <-time.After(o.cfg.ResetCooldown):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return o.connect(ctx)
}

// startRun registers the session run with the backend off the hot path.
func (o *Orchestrator) startRun(sessionNumber int) {
	if o.persist == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		runID, err := o.persist.StartUserSession(ctx, sessionNumber)
		if err != nil {
			o.log.Warn().Err(err).Int("session", sessionNumber).Msg("failed to register session run")
			return
		}
		o.mu.Lock()
		o.runID = runID
		o.mu.Unlock()
	}()
}

// mirrorTurn persists one transcript turn. Runs on the store's mirror
// goroutine; errors are logged and dropped so the local transcript is never
// affected by backend trouble. The question index travels with the turn, so
// a question change racing the mirror cannot mislabel it.
func (o *Orchestrator) mirrorTurn(t transcript.Turn) {
	if o.persist == nil {
		return
	}
	o.mu.Lock()
	runID := o.runID
	o.mu.Unlock()
	if runID == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.persist.SaveTurn(ctx, runID, string(t.Speaker), t.Text, t.QuestionIndex); err != nil {
		o.log.Warn().Err(err).Msg("failed to mirror transcript turn")
	}
}

func (o *Orchestrator) nudge(text string) {
	if err := o.conn.SendText(text); err != nil {
		o.log.Warn().Err(err).Msg("question nudge not delivered")
	}
}

func (o *Orchestrator) scheduleGreeting() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.greetTimer != nil {
		o.greetTimer.Stop()
	}
	o.greetTimer = time.AfterFunc(o.cfg.GreetingDelay, func() {
		if err := o.conn.SendText(greetingNudge); err != nil {
			o.log.Warn().Err(err).Msg("greeting nudge not delivered")
		}
	})
}

func (o *Orchestrator) stopGreeting() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.greetTimer != nil {
		o.greetTimer.Stop()
		o.greetTimer = nil
	}
}

func (o *Orchestrator) setStatus(s string) {
	o.mu.Lock()
	o.status = s
	o.mu.Unlock()
	o.log.Debug().Str("status", s).Msg("status")
}
