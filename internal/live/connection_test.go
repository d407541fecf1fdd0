package live

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// fakeService is an in-process speech service endpoint. It acknowledges the
// setup frame and then plays back a scripted list of server frames.
type fakeService struct {
	t        *testing.T
	upgrader websocket.Upgrader
	script   []string

	mu        sync.Mutex
	setups    []setupPayload
	inbound   []clientMessage
	ackSetup  bool
	connected chan *websocket.Conn
}

func newFakeService(t *testing.T, ackSetup bool, script ...string) *fakeService {
	return &fakeService{
		t:         t,
		ackSetup:  ackSetup,
		script:    script,
		connected: make(chan *websocket.Conn, 4),
	}
}

func (s *fakeService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	require.NoError(s.t, err)
	s.connected <- conn

	var setup clientMessage
	require.NoError(s.t, conn.ReadJSON(&setup))
	require.NotNil(s.t, setup.Setup)
	s.mu.Lock()
	s.setups = append(s.setups, *setup.Setup)
	s.mu.Unlock()

	if s.ackSetup {
		require.NoError(s.t, conn.WriteJSON(map[string]any{"setupComplete": map[string]any{}}))
	}
	for _, frame := range s.script {
		require.NoError(s.t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
	}

	for {
		var msg clientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		s.mu.Lock()
		s.inbound = append(s.inbound, msg)
		s.mu.Unlock()
	}
}

func (s *fakeService) lastSetup() setupPayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(s.t, s.setups)
	return s.setups[len(s.setups)-1]
}

func (s *fakeService) received() []clientMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]clientMessage, len(s.inbound))
	copy(out, s.inbound)
	return out
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func testConfig(endpoint string) Config {
	return Config{
		Endpoint:     endpoint,
		APIKey:       "test-key",
		Model:        "models/test-dialog",
		VoiceName:    "Leda",
		LanguageCode: "ko-KR",
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestConnectSendsSetupAndReportsConnected(t *testing.T) {
	svc := newFakeService(t, true)
	srv := httptest.NewServer(svc)
	defer srv.Close()

	var states []State
	var mu sync.Mutex
	conn := New(testConfig(wsURL(srv)), Sinks{
		OnStateChange: func(s State, _ string) {
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
		},
	}, zerolog.Nop())

	require.NoError(t, conn.Connect(context.Background(), "당신은 인터뷰어입니다"))
	require.Equal(t, StateConnected, conn.State())

	setup := svc.lastSetup()
	require.Equal(t, "models/test-dialog", setup.Model)
	require.Equal(t, []string{"AUDIO"}, setup.GenerationConfig.ResponseModalities)
	require.Equal(t, "Leda", setup.GenerationConfig.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName)
	require.Equal(t, "ko-KR", setup.GenerationConfig.SpeechConfig.LanguageCode)
	require.Equal(t, "당신은 인터뷰어입니다", setup.SystemInstruction.Parts[0].Text)

	mu.Lock()
	require.Equal(t, []State{StateConnecting, StateConnected}, states)
	mu.Unlock()

	conn.Close()
	require.Equal(t, StateDisconnected, conn.State())
}

func TestConnectWhileNotDisconnectedFails(t *testing.T) {
	svc := newFakeService(t, true)
	srv := httptest.NewServer(svc)
	defer srv.Close()

	conn := New(testConfig(wsURL(srv)), Sinks{}, zerolog.Nop())
	require.NoError(t, conn.Connect(context.Background(), "x"))
	defer conn.Close()

	err := conn.Connect(context.Background(), "x")
	var ce *ConnectError
	require.ErrorAs(t, err, &ce)
}

func TestConnectDialFailure(t *testing.T) {
	conn := New(testConfig("ws://127.0.0.1:1"), Sinks{}, zerolog.Nop())
	err := conn.Connect(context.Background(), "x")
	var ce *ConnectError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, StateDisconnected, conn.State(), "failed connect rolls back to disconnected")

	// A later attempt is allowed.
	err = conn.Connect(context.Background(), "x")
	require.Error(t, err)
	require.Equal(t, StateDisconnected, conn.State())
}

func TestConnectTimesOutWithoutSetupAck(t *testing.T) {
	svc := newFakeService(t, false)
	srv := httptest.NewServer(svc)
	defer srv.Close()

	conn := New(testConfig(wsURL(srv)), Sinks{}, zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := conn.Connect(ctx, "x")
	var ce *ConnectError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, StateDisconnected, conn.State())
}

func TestSendRequiresConnected(t *testing.T) {
	conn := New(testConfig("ws://unused"), Sinks{}, zerolog.Nop())
	require.ErrorIs(t, conn.SendText("hello"), ErrNotConnected)
	require.ErrorIs(t, conn.SendAudio([]byte{0, 0}), ErrNotConnected)
}

func TestSendAfterCloseFails(t *testing.T) {
	svc := newFakeService(t, true)
	srv := httptest.NewServer(svc)
	defer srv.Close()

	conn := New(testConfig(wsURL(srv)), Sinks{}, zerolog.Nop())
	require.NoError(t, conn.Connect(context.Background(), "x"))
	conn.Close()
	require.ErrorIs(t, conn.SendText("hello"), ErrNotConnected)
}

func TestSendTextAndAudioFrames(t *testing.T) {
	svc := newFakeService(t, true)
	srv := httptest.NewServer(svc)
	defer srv.Close()

	conn := New(testConfig(wsURL(srv)), Sinks{}, zerolog.Nop())
	require.NoError(t, conn.Connect(context.Background(), "x"))
	defer conn.Close()

	require.NoError(t, conn.SendText("다음 질문으로 넘어가세요"))
	pcm := []byte{1, 0, 2, 0, 3, 0}
	require.NoError(t, conn.SendAudio(pcm))

	waitFor(t, func() bool { return len(svc.received()) == 2 })
	got := svc.received()
	require.Equal(t, "다음 질문으로 넘어가세요", got[0].RealtimeInput.Text)
	require.Equal(t, "audio/pcm;rate=16000", got[1].RealtimeInput.Audio.MimeType)
	require.Equal(t, base64.StdEncoding.EncodeToString(pcm), got[1].RealtimeInput.Audio.Data)
}

func TestInboundDispatchOrderAndKinds(t *testing.T) {
	audioData := base64.StdEncoding.EncodeToString([]byte{1, 0, 2, 0})
	frames := []string{
		`{"serverContent":{"modelTurn":{"parts":[{"text":"안녕하세요, 어르신!"}]}}}`,
		`{"serverContent":{"modelTurn":{"parts":[{"inlineData":{"mimeType":"audio/pcm;rate=24000","data":"` + audioData + `"}}]}}}`,
		`{"serverContent":{"inputTranscription":{"text":"네, 반갑습니다"}}}`,
		`{"serverContent":{"interrupted":true}}`,
		`{"serverContent":{"modelTurn":{"parts":[{"text":"  "}]},"turnComplete":true}}`,
	}
	svc := newFakeService(t, true, frames...)
	srv := httptest.NewServer(svc)
	defer srv.Close()

	var mu sync.Mutex
	var events []string
	record := func(kind string) {
		mu.Lock()
		events = append(events, kind)
		mu.Unlock()
	}

	conn := New(testConfig(wsURL(srv)), Sinks{
		OnModelText: func(text string) { record("model:" + text) },
		OnUserText:  func(text string) { record("user:" + text) },
		OnAudio: func(data string, rate int) {
			require.Equal(t, 24000, rate)
			record("audio:" + data)
		},
		OnInterrupted: func() { record("interrupted") },
	}, zerolog.Nop())

	require.NoError(t, conn.Connect(context.Background(), "x"))
	defer conn.Close()

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 4
	})
	mu.Lock()
	require.Equal(t, []string{
		"model:안녕하세요, 어르신!",
		"audio:" + audioData,
		"user:네, 반갑습니다",
		"interrupted",
	}, events, "callbacks fire in receipt order; whitespace-only text is dropped")
	mu.Unlock()
}

func TestServerCloseMovesToDisconnected(t *testing.T) {
	svc := newFakeService(t, true)
	srv := httptest.NewServer(svc)
	defer srv.Close()

	var mu sync.Mutex
	var last State
	conn := New(testConfig(wsURL(srv)), Sinks{
		OnStateChange: func(s State, _ string) {
			mu.Lock()
			last = s
			mu.Unlock()
		},
	}, zerolog.Nop())
	require.NoError(t, conn.Connect(context.Background(), "x"))

	peer := <-svc.connected
	require.NoError(t, peer.Close())

	waitFor(t, func() bool { return conn.State() == StateDisconnected })
	mu.Lock()
	require.Equal(t, StateDisconnected, last)
	mu.Unlock()

	// Reconnect works after a remote drop.
	require.NoError(t, conn.Connect(context.Background(), "y"))
	conn.Close()
}

func TestUnparseableFrameIsIgnored(t *testing.T) {
	svc := newFakeService(t, true,
		`this is not json`,
		`{"serverContent":{"modelTurn":{"parts":[{"text":"계속"}]}}}`,
	)
	srv := httptest.NewServer(svc)
	defer srv.Close()

	var mu sync.Mutex
	var texts []string
	conn := New(testConfig(wsURL(srv)), Sinks{
		OnModelText: func(text string) {
			mu.Lock()
			texts = append(texts, text)
			mu.Unlock()
		},
	}, zerolog.Nop())
	require.NoError(t, conn.Connect(context.Background(), "x"))
	defer conn.Close()

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(texts) == 1
	})
	mu.Lock()
	require.Equal(t, []string{"계속"}, texts)
	mu.Unlock()
}

func TestCloseIsIdempotent(t *testing.T) {
	conn := New(testConfig("ws://unused"), Sinks{}, zerolog.Nop())
	conn.Close()
	conn.Close()
	require.Equal(t, StateDisconnected, conn.State())
}
