package live

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// State is the connection lifecycle. Transitions happen only on a connect
// attempt, the service's open/close/error callbacks, and explicit Close.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// ErrNotConnected is returned by SendText/SendAudio whenever the connection
// is not in the Connected state.
var ErrNotConnected = errors.New("live: not connected")

// ConnectError wraps the transport failure behind an unsuccessful Connect.
type ConnectError struct {
	Err error
}

func (e *ConnectError) Error() string { return fmt.Sprintf("live: connect: %v", e.Err) }
func (e *ConnectError) Unwrap() error { return e.Err }

// Audio chunk rates fixed by the service contract.
const (
	sendAudioMimeType = "audio/pcm;rate=16000"
	recvAudioRate     = 24000
)

// Config describes one streaming session's connect-time parameters. The
// service only accepts configuration at connect time, so changing any of
// these requires a full reconnect.
type Config struct {
	Endpoint           string
	APIKey             string
	Model              string
	VoiceName          string
	LanguageCode       string
	ResponseModalities []string
	HandshakeTimeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if len(c.ResponseModalities) == 0 {
		c.ResponseModalities = []string{"AUDIO"}
	}
	return c
}

// Sinks fan inbound traffic out to the rest of the system. All callbacks run
// on the connection's single reader goroutine, in strict receipt order, and
// may be nil.
type Sinks struct {
	// OnModelText receives trimmed text produced by the remote model.
	OnModelText func(text string)
	// OnUserText receives the service's transcription of the user's speech.
	OnUserText func(text string)
	// OnAudio receives one base64 PCM chunk and its sample rate.
	OnAudio func(data string, sampleRate int)
	// OnInterrupted fires when the service detects the user speaking over
	// the model (barge-in); pending playback should be flushed.
	OnInterrupted func()
	// OnStateChange observes lifecycle transitions with a display string.
	OnStateChange func(s State, detail string)
}

// Connection owns one streaming session to the speech service. It is safe
// for concurrent use; writes are serialized on the transport.
type Connection struct {
	cfg   Config
	sinks Sinks
	log   zerolog.Logger

	mu    sync.Mutex
	state State
	conn  *websocket.Conn
	epoch int

	writeMu sync.Mutex
}

// New constructs a disconnected Connection.
func New(cfg Config, sinks Sinks, log zerolog.Logger) *Connection {
	return &Connection{
		cfg:   cfg.withDefaults(),
		sinks: sinks,
		log:   log.With().Str("component", "live").Logger(),
	}
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect dials the service, sends the session configuration (model, voice,
// language, response modality, system instruction), and waits for the
// service's setup acknowledgement before reporting Connected. On failure the
// state returns to Disconnected and no retry is attempted; reconnecting is
// the caller's responsibility. The context bounds the whole dial+setup wait.
func (c *Connection) Connect(ctx context.Context, instruction string) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		state := c.state
		c.mu.Unlock()
		return &ConnectError{fmt.Errorf("connection is %s", state)}
	}
	c.state = StateConnecting
	epoch := c.epoch
	c.mu.Unlock()
	c.notify(StateConnecting, "connecting to speech service")

	conn, err := c.dial(ctx, instruction)
	if err != nil {
		c.abandon(epoch, err.Error())
		return &ConnectError{err}
	}

	c.mu.Lock()
	if c.epoch != epoch {
		// Closed while the dial was in flight.
		c.mu.Unlock()
		_ = conn.Close()
		return &ConnectError{errors.New("closed during connect")}
	}
	c.conn = conn
	c.mu.Unlock()

	ready := make(chan error, 1)
	go c.readLoop(conn, epoch, ready)

	select {
	case err := <-ready:
		if err != nil {
			return &ConnectError{err}
		}
		return nil
	case <-ctx.Done():
		c.Close()
		return &ConnectError{ctx.Err()}
	}
}

func (c *Connection) dial(ctx context.Context, instruction string) (*websocket.Conn, error) {
	endpoint := c.cfg.Endpoint
	if c.cfg.APIKey != "" {
		endpoint += "?key=" + url.QueryEscape(c.cfg.APIKey)
	}
	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial failed: %w", err)
	}

	setup := clientMessage{Setup: &setupPayload{
		Model: c.cfg.Model,
		GenerationConfig: &generationConfig{
			ResponseModalities: c.cfg.ResponseModalities,
			SpeechConfig: &speechConfig{
				VoiceConfig:  &voiceConfig{PrebuiltVoiceConfig: &prebuiltVoiceConfig{VoiceName: c.cfg.VoiceName}},
				LanguageCode: c.cfg.LanguageCode,
			},
		},
		SystemInstruction: &content{Parts: []part{{Text: instruction}}},
	}}
	if err := conn.WriteJSON(setup); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send session setup: %w", err)
	}
	return conn, nil
}

// SendText streams a text input over the live session. Valid only while
// Connected.
func (c *Connection) SendText(text string) error {
	return c.send(clientMessage{RealtimeInput: &realtimeInput{Text: text}}, "text")
}

// SendAudio streams one capture chunk of 16 kHz mono PCM. Valid only while
// Connected.
func (c *Connection) SendAudio(pcm []byte) error {
	msg := clientMessage{RealtimeInput: &realtimeInput{Audio: &inlineData{
		MimeType: sendAudioMimeType,
		Data:     base64.StdEncoding.EncodeToString(pcm),
	}}}
	return c.send(msg, "audio")
}

func (c *Connection) send(msg clientMessage, kind string) error {
	c.mu.Lock()
	if c.state != StateConnected || c.conn == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	conn := c.conn
	c.mu.Unlock()

	c.writeMu.Lock()
	err := conn.WriteJSON(msg)
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("live: send %s: %w", kind, err)
	}
	return nil
}

// Close releases the transport. Idempotent; safe when never connected.
func (c *Connection) Close() {
	c.mu.Lock()
	if c.state == StateDisconnected {
		c.mu.Unlock()
		return
	}
	conn := c.conn
	c.conn = nil
	c.state = StateClosing
	c.epoch++
	c.mu.Unlock()
	c.notify(StateClosing, "closing connection")

	if conn != nil {
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = conn.Close()
	}

	c.mu.Lock()
	c.state = StateDisconnected
	c.mu.Unlock()
	c.notify(StateDisconnected, "disconnected")
}

// abandon rolls a failed connect attempt back to Disconnected.
func (c *Connection) abandon(epoch int, detail string) {
	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return
	}
	c.state = StateDisconnected
	c.conn = nil
	c.epoch++
	c.mu.Unlock()
	c.notify(StateDisconnected, detail)
}

// readLoop consumes the ordered inbound stream. It is the only reader, so
// sinks observe messages in exact receipt order.
func (c *Connection) readLoop(conn *websocket.Conn, epoch int, ready chan<- error) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Interface("panic", r).Msg("recovered in read loop")
			c.abandon(epoch, "internal error on inbound stream")
		}
	}()

	settingUp := true
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if settingUp {
				ready <- fmt.Errorf("connection closed during setup: %w", err)
			}
			c.abandon(epoch, closeDetail(err))
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Warn().Err(err).Msg("unparseable server message")
			continue
		}

		if msg.SetupComplete != nil && settingUp {
			settingUp = false
			c.mu.Lock()
			if c.epoch != epoch {
				c.mu.Unlock()
				return
			}
			c.state = StateConnected
			c.mu.Unlock()
			c.notify(StateConnected, "connected")
			ready <- nil
			continue
		}

		if msg.ServerContent != nil {
			c.dispatch(msg.ServerContent)
		}
	}
}

// dispatch fans one server content frame out to the sinks. Text, audio, and
// the interruption flag are independent and optional per frame.
func (c *Connection) dispatch(sc *serverContent) {
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if text := strings.TrimSpace(p.Text); text != "" && c.sinks.OnModelText != nil {
				c.sinks.OnModelText(text)
			}
			if p.InlineData != nil && p.InlineData.Data != "" && c.sinks.OnAudio != nil {
				c.sinks.OnAudio(p.InlineData.Data, recvAudioRate)
			}
		}
	}
	if sc.InputTranscription != nil {
		if text := strings.TrimSpace(sc.InputTranscription.Text); text != "" && c.sinks.OnUserText != nil {
			c.sinks.OnUserText(text)
		}
	}
	if sc.Interrupted && c.sinks.OnInterrupted != nil {
		c.sinks.OnInterrupted()
	}
}

func (c *Connection) notify(s State, detail string) {
	c.log.Debug().Stringer("state", s).Str("detail", detail).Msg("state change")
	if c.sinks.OnStateChange != nil {
		c.sinks.OnStateChange(s, detail)
	}
}

func closeDetail(err error) string {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return "connection closed by service"
	}
	return fmt.Sprintf("connection lost: %v", err)
}
