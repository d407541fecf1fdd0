package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Live session defaults matching the speech service the interviewer was
// tuned on.
const (
	defaultEndpoint = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"
	defaultModel    = "models/gemini-2.5-flash-preview-native-audio-dialog"
	defaultVoice    = "Leda"
	defaultLanguage = "ko-KR"

	defaultStoryModel = "gemini-2.5-flash"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress string

	GeminiAPIKey string
	LiveEndpoint string
	LiveModel    string
	VoiceName    string
	LanguageCode string
	StoryModel   string

	APIBaseURL  string
	APIToken    string
	APIUsername string
	APIPassword string

	SilenceRMS          float64
	CaptureBlockSamples int

	ResetCooldown  time.Duration
	GreetingDelay  time.Duration
	ConnectTimeout time.Duration
}

// Load reads environment variables (with .env overlay) and returns Config
// with sane defaults. Only the speech service API key is mandatory.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		HTTPAddress:         envOr("HTTP_ADDRESS", ":8080"),
		GeminiAPIKey:        os.Getenv("GEMINI_API_KEY"),
		LiveEndpoint:        envOr("LIVE_ENDPOINT", defaultEndpoint),
		LiveModel:           envOr("LIVE_MODEL", defaultModel),
		VoiceName:           envOr("VOICE_NAME", defaultVoice),
		LanguageCode:        envOr("LANGUAGE_CODE", defaultLanguage),
		StoryModel:          envOr("STORY_MODEL", defaultStoryModel),
		APIBaseURL:          os.Getenv("API_BASE_URL"),
		APIToken:            os.Getenv("API_TOKEN"),
		APIUsername:         os.Getenv("API_USERNAME"),
		APIPassword:         os.Getenv("API_PASSWORD"),
		SilenceRMS:          0.001,
		CaptureBlockSamples: 512,
		ResetCooldown:       time.Second,
		GreetingDelay:       time.Second,
		ConnectTimeout:      30 * time.Second,
	}

	if cfg.GeminiAPIKey == "" {
		return Config{}, fmt.Errorf("config: GEMINI_API_KEY is required")
	}

	var err error
	if cfg.SilenceRMS, err = envFloat("SILENCE_RMS_THRESHOLD", cfg.SilenceRMS); err != nil {
		return Config{}, err
	}
	if cfg.CaptureBlockSamples, err = envInt("CAPTURE_BLOCK_SAMPLES", cfg.CaptureBlockSamples); err != nil {
		return Config{}, err
	}
	if cfg.ResetCooldown, err = envMillis("RESET_COOLDOWN_MS", cfg.ResetCooldown); err != nil {
		return Config{}, err
	}
	if cfg.GreetingDelay, err = envMillis("GREETING_DELAY_MS", cfg.GreetingDelay); err != nil {
		return Config{}, err
	}
	if cfg.ConnectTimeout, err = envMillis("CONNECT_TIMEOUT_MS", cfg.ConnectTimeout); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return f, nil
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func envMillis(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	ms, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return time.Duration(ms) * time.Millisecond, nil
}
