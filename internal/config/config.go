package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fortisvoice/backend/internal/model/chat"
)

// Reply strategies.
const (
	StrategyRules = "rules"
	StrategyLLM   = "llm"
)

// Config aggregates the service configuration.
type Config struct {
	Server ServerConfig
	Chat   ChatConfig
	Reply  ReplyConfig
	AI     AIConfig
	Speech SpeechConfig
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	chatCfg, err := loadChatConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	reply, err := loadReplyConfig(ai)
	if err != nil {
		return nil, err
	}

	speech, err := loadSpeechConfig(ai)
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, Chat: chatCfg, Reply: reply, AI: ai, Speech: speech}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr        string
	CORSOrigins []string
}

func loadServerConfig() (ServerConfig, error) {
	addr, err := ParseAddr(os.Getenv("PORT"))
	if err != nil {
		return ServerConfig{}, err
	}

	origins := splitList(os.Getenv("CORS_ORIGINS"))
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	return ServerConfig{Addr: addr, CORSOrigins: origins}, nil
}

// ParseAddr turns a PORT value into a listen address. "8080", ":8080" and
// "127.0.0.1:8080" are accepted; empty means ":8080".
func ParseAddr(port string) (string, error) {
	port = strings.TrimSpace(port)
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		return port, nil
	}

	if strings.Contains(port, " ") {
		return "", fmt.Errorf("invalid PORT value: %q", port)
	}

	if _, err := strconv.Atoi(port); err != nil {
		return "", fmt.Errorf("invalid PORT value %q: %w", port, err)
	}

	return ":" + port, nil
}

// ChatConfig holds defaults applied to new sessions. Sessions left
// untouched for IdleTTL are dropped; zero keeps them until their tab closes.
type ChatConfig struct {
	DefaultLocale string
	AutoSpeak     bool
	IdleTTL       time.Duration
}

func loadChatConfig() (ChatConfig, error) {
	locale := getEnvOrDefault("DEFAULT_LOCALE", chat.DefaultLocale)
	if !chat.ValidLocale(locale) {
		return ChatConfig{}, fmt.Errorf("invalid DEFAULT_LOCALE value %q", locale)
	}

	autoSpeak, err := parseBoolEnv("AUTO_SPEAK", false)
	if err != nil {
		return ChatConfig{}, err
	}

	idleTTL := 30 * time.Minute
	if raw := strings.TrimSpace(os.Getenv("SESSION_IDLE_TTL")); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			return ChatConfig{}, fmt.Errorf("invalid SESSION_IDLE_TTL value %q", raw)
		}
		idleTTL = d
	}

	return ChatConfig{DefaultLocale: locale, AutoSpeak: autoSpeak, IdleTTL: idleTTL}, nil
}

// ReplyConfig selects and bounds the reply engine.
type ReplyConfig struct {
	Strategy     string
	Timeout      time.Duration
	HistoryLimit int
}

func loadReplyConfig(ai AIConfig) (ReplyConfig, error) {
	strategy := strings.ToLower(strings.TrimSpace(os.Getenv("REPLY_STRATEGY")))
	switch strategy {
	case "":
		strategy = StrategyRules
		if ai.Enabled() {
			strategy = StrategyLLM
		}
	case StrategyRules, StrategyLLM:
	default:
		return ReplyConfig{}, fmt.Errorf("invalid REPLY_STRATEGY value %q", strategy)
	}

	timeout := 30 * time.Second
	if raw := strings.TrimSpace(os.Getenv("REPLY_TIMEOUT")); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return ReplyConfig{}, fmt.Errorf("invalid REPLY_TIMEOUT value %q: %w", raw, err)
		}
		timeout = d
	}

	historyLimit := 12
	if override, err := parseOptionalIntEnv("REPLY_HISTORY_LIMIT"); err != nil {
		return ReplyConfig{}, err
	} else if override != nil {
		historyLimit = *override
		if historyLimit < 0 {
			historyLimit = 0
		}
	}

	return ReplyConfig{Strategy: strategy, Timeout: timeout, HistoryLimit: historyLimit}, nil
}

// AIConfig describes the hosted chat-completion provider.
type AIConfig struct {
	Provider    string
	Model       string
	APIKey      string
	AccessKey   string
	SecretKey   string
	BaseURL     string
	Region      string
	Temperature *float64
	MaxTokens   *int
}

// Enabled reports whether the configured provider has a credential and a
// model to call.
func (c AIConfig) Enabled() bool {
	if c.Model == "" {
		return false
	}
	if c.Provider == "ark" {
		return c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != "")
	}
	return c.APIKey != ""
}

var defaultModels = map[string]string{
	"openai":    "gpt-4o-mini",
	"anthropic": "claude-3-5-haiku-latest",
	"gemini":    "gemini-2.0-flash",
}

var apiKeyEnv = map[string]string{
	"openai":    "OPENAI_API_KEY",
	"anthropic": "ANTHROPIC_API_KEY",
	"gemini":    "GEMINI_API_KEY",
	"ark":       "ARK_API_KEY",
}

func loadAIConfig() (AIConfig, error) {
	provider := strings.ToLower(getEnvOrDefault("LLM_PROVIDER", "openai"))
	keyEnv, ok := apiKeyEnv[provider]
	if !ok {
		return AIConfig{}, fmt.Errorf("invalid LLM_PROVIDER value %q", provider)
	}

	temperature, err := parseOptionalFloatEnv("LLM_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("LLM_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	cfg := AIConfig{
		Provider:    provider,
		Model:       getEnvOrDefault("LLM_MODEL", defaultModels[provider]),
		APIKey:      strings.TrimSpace(os.Getenv(keyEnv)),
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}

	switch provider {
	case "openai":
		cfg.BaseURL = strings.TrimSpace(os.Getenv("OPENAI_BASE_URL"))
	case "ark":
		cfg.AccessKey = strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY"))
		cfg.SecretKey = strings.TrimSpace(os.Getenv("ARK_SECRET_KEY"))
		cfg.BaseURL = getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3")
		cfg.Region = getEnvOrDefault("ARK_REGION", "cn-beijing")
	}

	return cfg, nil
}

// SpeechConfig describes the upstream speech-to-text provider used for
// uploaded audio.
type SpeechConfig struct {
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string
	AppID       string
	AccessToken string
	Timeout     time.Duration
}

// Enabled reports whether uploaded audio can be transcribed.
func (c SpeechConfig) Enabled() bool {
	switch c.Provider {
	case "openai":
		return c.APIKey != ""
	case "volcengine":
		return c.AppID != "" && c.AccessToken != ""
	default:
		return false
	}
}

func loadSpeechConfig(ai AIConfig) (SpeechConfig, error) {
	provider := strings.ToLower(getEnvOrDefault("STT_PROVIDER", "openai"))
	if provider != "openai" && provider != "volcengine" && provider != "none" {
		return SpeechConfig{}, fmt.Errorf("invalid STT_PROVIDER value %q", provider)
	}

	timeoutSeconds := 30
	if timeout, err := parseOptionalIntEnv("STT_TIMEOUT"); err != nil {
		return SpeechConfig{}, err
	} else if timeout != nil && *timeout > 0 {
		timeoutSeconds = *timeout
	}

	cfg := SpeechConfig{
		Provider: provider,
		Model:    getEnvOrDefault("STT_MODEL", "whisper-1"),
		Timeout:  time.Duration(timeoutSeconds) * time.Second,
	}

	switch provider {
	case "openai":
		cfg.APIKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
		cfg.BaseURL = strings.TrimSpace(os.Getenv("OPENAI_BASE_URL"))
		if cfg.APIKey == "" && ai.Provider == "openai" {
			cfg.APIKey = ai.APIKey
		}
	case "volcengine":
		cfg.AppID = strings.TrimSpace(os.Getenv("SPEECH_APP_ID"))
		cfg.AccessToken = strings.TrimSpace(os.Getenv("SPEECH_ACCESS_TOKEN"))
		cfg.BaseURL = getEnvOrDefault("SPEECH_BASE_URL", "wss://openspeech.bytedance.com/api/v3/sauc/bigmodel_nostream")
	}

	return cfg, nil
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

func parseOptionalFloatEnv(key string) (*float64, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
