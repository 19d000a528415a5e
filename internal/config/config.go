package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"github.com/go-playground/validator/v10"
)

const bytesPerMB = 1024 * 1024

// Config aggregates every setting the service reads at start-up.
type Config struct {
	Server  ServerConfig  `validate:"required"`
	Audio   AudioConfig   `validate:"required"`
	Speech  SpeechConfig  `validate:"required"`
	Whisper WhisperConfig `validate:"required"`
	Auth    AuthConfig    `validate:"required"`
	AI      AIConfig
	Log     LogConfig `validate:"required"`
	Trace   TraceConfig
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	audio, err := loadAudioConfig()
	if err != nil {
		return nil, err
	}

	whisper, err := loadWhisperConfig()
	if err != nil {
		return nil, err
	}

	auth, err := loadAuthConfig()
	if err != nil {
		return nil, err
	}

	trace, err := loadTraceConfig()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server:  server,
		Audio:   audio,
		Speech:  loadSpeechConfig(),
		Whisper: whisper,
		Auth:    auth,
		AI:      loadAIConfig(),
		Log:     loadLogConfig(),
		Trace:   trace,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Speech.Engine == EngineVolcengine && !c.Speech.Volcengine.Enabled() {
		return errors.New("invalid configuration: SPEECH_ENGINE=volcengine needs VOLC_APP_ID and VOLC_ACCESS_TOKEN")
	}
	if c.Auth.Required && c.Auth.SecretKey == "" {
		return errors.New("invalid configuration: AUTH_REQUIRED needs SECRET_KEY")
	}
	return nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr        string `validate:"required"`
	CORSOrigins []string
}

// loadServerConfig resolves the listen address.
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	origins := splitList(os.Getenv("CORS_ORIGINS"))
	if len(origins) == 0 {
		origins = []string{
			"http://localhost:5173",
			"http://localhost:3000",
			"http://localhost:8080",
			"http://127.0.0.1:5173",
			"http://127.0.0.1:3000",
		}
	}

	if strings.Contains(port, ":") {
		// ":8080" or "127.0.0.1:8080" are used as-is.
		return ServerConfig{Addr: port, CORSOrigins: origins}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, CORSOrigins: origins}, nil
}

// AudioConfig bounds per-utterance audio.
type AudioConfig struct {
	MaxAudioSizeMB int `validate:"gte=1,lte=1024"`
}

// MaxAudioBytes is the utterance limit in bytes.
func (c AudioConfig) MaxAudioBytes() int {
	return c.MaxAudioSizeMB * bytesPerMB
}

func loadAudioConfig() (AudioConfig, error) {
	size, err := parseOptionalIntEnv("MAX_AUDIO_SIZE_MB")
	if err != nil {
		return AudioConfig{}, err
	}
	mb := 25
	if size != nil {
		mb = *size
	}
	return AudioConfig{MaxAudioSizeMB: mb}, nil
}

// Speech engines selectable with SPEECH_ENGINE.
const (
	EngineWhisper    = "whisper"
	EngineVolcengine = "volcengine"
	EngineMock       = "mock"
)

// SpeechConfig selects the speech-to-text backend.
type SpeechConfig struct {
	Engine     string `validate:"oneof=whisper volcengine mock"`
	Volcengine VolcengineConfig
}

// VolcengineConfig holds credentials for the Volcengine big-model ASR service.
type VolcengineConfig struct {
	AppID       string
	AccessToken string
	ResourceID  string
	URL         string `validate:"omitempty,url"`
	Format      string
	Language    string
}

// Enabled reports whether credentials are present.
func (c VolcengineConfig) Enabled() bool {
	return c.AppID != "" && c.AccessToken != ""
}

func loadSpeechConfig() SpeechConfig {
	return SpeechConfig{
		Engine: strings.ToLower(getEnvOrDefault("SPEECH_ENGINE", EngineWhisper)),
		Volcengine: VolcengineConfig{
			AppID:       strings.TrimSpace(os.Getenv("VOLC_APP_ID")),
			AccessToken: strings.TrimSpace(os.Getenv("VOLC_ACCESS_TOKEN")),
			ResourceID:  getEnvOrDefault("VOLC_RESOURCE_ID", "volc.bigasr.sauc.duration"),
			URL:         getEnvOrDefault("VOLC_ASR_URL", "wss://openspeech.bytedance.com/api/v3/sauc/bigmodel_nostream"),
			Format:      getEnvOrDefault("VOLC_AUDIO_FORMAT", "wav"),
			Language:    strings.TrimSpace(os.Getenv("VOLC_LANGUAGE")),
		},
	}
}

// WhisperConfig describes the whisper.cpp speech-to-text server.
type WhisperConfig struct {
	// ServerURL is the whisper.cpp server. Empty disables transcription.
	ServerURL   string `validate:"omitempty,url"`
	ModelSize   string `validate:"required"`
	Language    string `validate:"required"`
	Timeout     time.Duration
	Concurrency int `validate:"gte=1,lte=64"`
}

// Enabled reports whether a speech backend is configured.
func (c WhisperConfig) Enabled() bool {
	return c.ServerURL != ""
}

func loadWhisperConfig() (WhisperConfig, error) {
	timeout, err := parseOptionalIntEnv("TRANSCRIPTION_TIMEOUT")
	if err != nil {
		return WhisperConfig{}, err
	}
	timeoutSeconds := 120
	if timeout != nil {
		timeoutSeconds = *timeout
	}

	concurrency, err := parseOptionalIntEnv("TRANSCRIPTION_CONCURRENCY")
	if err != nil {
		return WhisperConfig{}, err
	}
	workers := 4
	if concurrency != nil {
		workers = *concurrency
	}

	return WhisperConfig{
		ServerURL:   strings.TrimSpace(os.Getenv("WHISPER_SERVER_URL")),
		ModelSize:   getEnvOrDefault("WHISPER_MODEL_SIZE", "base"),
		Language:    getEnvOrDefault("WHISPER_LANGUAGE", "en"),
		Timeout:     time.Duration(timeoutSeconds) * time.Second,
		Concurrency: workers,
	}, nil
}

// AuthConfig describes how operator identity is established.
type AuthConfig struct {
	SecretKey string
	Algorithm string `validate:"oneof=HS256 HS384 HS512"`
	// Required rejects connections without a valid token. When false,
	// anonymous callers are attributed to the "default" operator.
	Required bool
}

func loadAuthConfig() (AuthConfig, error) {
	required, err := parseBoolEnv("AUTH_REQUIRED", false)
	if err != nil {
		return AuthConfig{}, err
	}
	return AuthConfig{
		SecretKey: strings.TrimSpace(os.Getenv("SECRET_KEY")),
		Algorithm: getEnvOrDefault("JWT_ALGORITHM", "HS256"),
		Required:  required,
	}, nil
}

// AIConfig describes the chat model used for transcript summaries.
type AIConfig struct {
	APIKey    string
	AccessKey string
	SecretKey string
	Model     string
	BaseURL   string
	Region    string
}

// Enabled reports whether the required credentials are present.
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel creates a chat model from the configuration.
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, errors.New("ark credentials or model missing: set ARK_API_KEY and ARK_MODEL, or ARK_ACCESS_KEY/ARK_SECRET_KEY")
	}

	temperature := float32(0.1)
	maxTokens := 2048
	return ark.NewChatModel(ctx, &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   &maxTokens,
		Temperature: &temperature,
	})
}

func loadAIConfig() AIConfig {
	return AIConfig{
		APIKey:    strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey: strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey: strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:     strings.TrimSpace(os.Getenv("ARK_MODEL")),
		BaseURL:   getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:    getEnvOrDefault("ARK_REGION", "cn-beijing"),
	}
}

// LogConfig describes log output.
type LogConfig struct {
	Level  string `validate:"oneof=trace debug info warn error fatal panic disabled"`
	Format string `validate:"oneof=json console"`
}

func loadLogConfig() LogConfig {
	return LogConfig{
		Level:  strings.ToLower(getEnvOrDefault("LOG_LEVEL", "info")),
		Format: strings.ToLower(getEnvOrDefault("LOG_FORMAT", "console")),
	}
}

// TraceConfig describes span export. Without an endpoint spans stay in
// process and are dropped.
type TraceConfig struct {
	Endpoint   string
	Insecure   bool
	SampleRate float64 `validate:"gte=0,lte=1"`
}

// Enabled reports whether spans are exported.
func (c TraceConfig) Enabled() bool { return c.Endpoint != "" }

func loadTraceConfig() (TraceConfig, error) {
	insecure, err := parseBoolEnv("OTEL_TRACE_INSECURE", false)
	if err != nil {
		return TraceConfig{}, err
	}
	rate := 1.0
	if raw := strings.TrimSpace(os.Getenv("OTEL_TRACE_SAMPLE_RATE")); raw != "" {
		rate, err = strconv.ParseFloat(raw, 64)
		if err != nil {
			return TraceConfig{}, fmt.Errorf("invalid OTEL_TRACE_SAMPLE_RATE value %q: %w", raw, err)
		}
	}
	return TraceConfig{
		Endpoint:   strings.TrimSpace(os.Getenv("OTEL_TRACE_ENDPOINT")),
		Insecure:   insecure,
		SampleRate: rate,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
