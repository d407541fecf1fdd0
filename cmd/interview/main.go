package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ddoriboo/ourstory/internal/api"
	"github.com/ddoriboo/ourstory/internal/audio"
	"github.com/ddoriboo/ourstory/internal/config"
	"github.com/ddoriboo/ourstory/internal/httpserver"
	"github.com/ddoriboo/ourstory/internal/interview"
	"github.com/ddoriboo/ourstory/internal/live"
	"github.com/ddoriboo/ourstory/internal/llm"
	"github.com/ddoriboo/ourstory/internal/story"
)

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("configuration")
	}

	catalog, err := interview.LoadCatalog()
	if err != nil {
		log.Fatal().Err(err).Msg("session catalog")
	}

	devices, err := audio.NewDeviceContext()
	if err != nil {
		log.Fatal().Err(err).Msg("audio backend")
	}
	defer devices.Close()

	speaker, err := audio.NewSpeaker(devices)
	if err != nil {
		log.Fatal().Err(err).Msg("playback device")
	}
	defer speaker.Close()
	player := audio.NewPlayback(audio.NewWallClock(), speaker, log)

	// The orchestrator is wired after the connection, so the sinks close
	// over this pointer and guard against the brief window before it is set.
	var orch *interview.Orchestrator
	conn := live.New(live.Config{
		Endpoint:     cfg.LiveEndpoint,
		APIKey:       cfg.GeminiAPIKey,
		Model:        cfg.LiveModel,
		VoiceName:    cfg.VoiceName,
		LanguageCode: cfg.LanguageCode,
	}, live.Sinks{
		OnModelText: func(text string) {
			if orch != nil {
				orch.HandleModelText(text)
			}
		},
		OnUserText: func(text string) {
			if orch != nil {
				orch.HandleUserText(text)
			}
		},
		OnAudio: func(data string, sampleRate int) {
			if orch != nil {
				orch.HandleAudio(data, sampleRate)
			}
		},
		OnInterrupted: func() {
			if orch != nil {
				orch.HandleInterrupted()
			}
		},
		OnStateChange: func(s live.State, detail string) {
			if orch != nil {
				orch.HandleStateChange(s, detail)
			}
		},
	}, log)

	mic := audio.NewMicrophone(devices, cfg.CaptureBlockSamples)
	captureCfg := audio.DefaultCaptureConfig()
	captureCfg.SilenceRMS = cfg.SilenceRMS
	capture := audio.NewCapture(mic, conn, captureCfg, func(err error) {
		if orch != nil {
			orch.HandleCaptureFailure(err)
		}
	}, log)

	var persist interview.Persister
	var archive story.Archive
	var history story.History
	if cfg.APIBaseURL != "" {
		backend := api.NewClient(cfg.APIBaseURL, cfg.APIToken, log)
		if cfg.APIUsername != "" {
			loginCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			user, err := backend.Login(loginCtx, cfg.APIUsername, cfg.APIPassword)
			cancel()
			if err != nil {
				log.Error().Err(err).Msg("backend login failed, persistence disabled until a token is provided")
			} else {
				log.Info().Str("username", user.Username).Msg("logged in to story backend")
			}
		}
		persist = backendPersister{backend}
		archive = backendArchive{backend}
		history = backendHistory{backend, log}
	}

	orch = interview.NewOrchestrator(catalog, conn, capture, player, persist, interview.Config{
		ResetCooldown:  cfg.ResetCooldown,
		GreetingDelay:  cfg.GreetingDelay,
		ConnectTimeout: cfg.ConnectTimeout,
	}, log)
	defer orch.Close()

	writer := story.NewGenerator(
		llm.NewGeminiClient(cfg.GeminiAPIKey, cfg.StoryModel),
		history, archive, "gemini", cfg.StoryModel, log)

	srv := httpserver.New(orch, writer, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := orch.Start(ctx); err != nil {
		log.Error().Err(err).Msg("initial session connect failed, control API still available")
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(cfg.HTTPAddress)
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("server")
	}
	log.Info().Msg("shut down cleanly")
}

// backendPersister adapts the REST client to the orchestrator's mirror hooks.
type backendPersister struct {
	client *api.Client
}

func (p backendPersister) StartUserSession(ctx context.Context, sessionNumber int) (int, error) {
	run, err := p.client.StartUserSession(ctx, sessionNumber)
	if err != nil {
		return 0, err
	}
	return run.ID, nil
}

func (p backendPersister) SaveTurn(ctx context.Context, runID int, speaker, text string, questionIndex int) error {
	_, err := p.client.SaveConversation(ctx, api.Conversation{
		UserSessionID: runID,
		Speaker:       speaker,
		MessageText:   text,
		QuestionIndex: questionIndex,
	})
	return err
}

// backendHistory assembles the full persisted interview history for the
// story generator: every saved conversation turn across every session run,
// labelled with its catalog session title.
type backendHistory struct {
	client *api.Client
	log    zerolog.Logger
}

func (h backendHistory) SavedTurns(ctx context.Context) ([]story.SavedTurn, error) {
	sessions, err := h.client.Sessions(ctx)
	if err != nil {
		return nil, err
	}
	titles := make(map[int]string, len(sessions))
	for _, s := range sessions {
		titles[s.ID] = s.Title
	}

	runs, err := h.client.UserSessions(ctx)
	if err != nil {
		return nil, err
	}

	var out []story.SavedTurn
	for _, run := range runs {
		turns, err := h.client.Conversations(ctx, run.ID)
		if err != nil {
			// One broken run should not sink the whole draft.
			h.log.Warn().Err(err).Int("userSessionId", run.ID).Msg("skipping session run")
			continue
		}
		title := titles[run.SessionID]
		for _, t := range turns {
			out = append(out, story.SavedTurn{
				SessionTitle: title,
				Speaker:      t.Speaker,
				Text:         t.MessageText,
			})
		}
	}
	return out, nil
}

// backendArchive adapts the REST client to the story generator.
type backendArchive struct {
	client *api.Client
}

func (a backendArchive) SaveAutobiography(ctx context.Context, title, content, provider, model string) (int, error) {
	doc, err := a.client.SaveAutobiography(ctx, api.Autobiography{
		Title:        title,
		Content:      content,
		APIProvider:  provider,
		ModelVersion: model,
	})
	if err != nil {
		return 0, err
	}
	return doc.ID, nil
}
