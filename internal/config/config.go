package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"

	"github.com/zhouzirui/zen-companion/backend/internal/provider/gemini"
)

const (
	ProviderArk    = "ark"
	ProviderGemini = "gemini"

	defaultMaxDuration = 30 * time.Second
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server ServerConfig
	AI     AIConfig
	Relay  RelayConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	relay, err := loadRelayConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, AI: ai, Relay: relay}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// AIConfig 描述大模型相关配置。Provider 决定使用 Ark 还是 Gemini。
type AIConfig struct {
	Provider       string
	APIKey         string
	AccessKey      string
	SecretKey      string
	Model          string
	BaseURL        string
	Region         string
	Temperature    *float64
	TopP           *float64
	MaxTokens      *int
	StreamResponse bool
	Gemini         GeminiConfig
}

// GeminiConfig 描述 Gemini 提供方的凭证、模型与采样参数。
// 采样参数读取 GEMINI_TEMPERATURE/GEMINI_TOP_P/GEMINI_MAX_TOKENS，未设置时沿用 ARK_* 的共享值。
type GeminiConfig struct {
	APIKey      string
	Model       string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// RelayConfig 描述聊天中继的行为。
type RelayConfig struct {
	MaxDuration  time.Duration
	PersonaID    string
	SystemPrompt string
}

// Enabled 表示是否提供了所选模型提供方的必需密钥。
func (c AIConfig) Enabled() bool {
	switch c.Provider {
	case ProviderGemini:
		return c.Gemini.APIKey != "" && c.Gemini.Model != ""
	default:
		return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
	}
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.BaseChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("%s 凭证或模型配置缺失", c.Provider)
	}

	if c.Provider == ProviderGemini {
		cm, err := gemini.NewChatModel(ctx, &gemini.Config{
			APIKey:      c.Gemini.APIKey,
			Model:       c.Gemini.Model,
			Temperature: toFloat32(c.Gemini.Temperature),
			TopP:        toFloat32(c.Gemini.TopP),
			MaxTokens:   c.Gemini.MaxTokens,
		})
		if err != nil {
			return nil, err
		}
		return cm, nil
	}

	cm, err := ark.NewChatModel(ctx, &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: toFloat32(c.Temperature),
		TopP:        toFloat32(c.TopP),
	})
	if err != nil {
		return nil, err
	}
	return cm, nil
}

func loadAIConfig() (AIConfig, error) {
	provider := strings.ToLower(getEnvOrDefault("AI_PROVIDER", ProviderArk))
	if provider != ProviderArk && provider != ProviderGemini {
		return AIConfig{}, fmt.Errorf("invalid AI_PROVIDER value %q", provider)
	}

	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	stream, err := parseBoolEnv("ARK_STREAM", true)
	if err != nil {
		return AIConfig{}, err
	}

	geminiCfg, err := loadGeminiConfig(temperature, topP, maxTokens)
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		Provider:       provider,
		APIKey:         strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:      strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:      strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:          strings.TrimSpace(os.Getenv("Model")),
		BaseURL:        getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:         getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature:    temperature,
		TopP:           topP,
		MaxTokens:      maxTokens,
		StreamResponse: stream,
		Gemini:         geminiCfg,
	}, nil
}

// loadGeminiConfig 读取 Gemini 配置，采样参数缺省时回退到共享的 ARK_* 值。
func loadGeminiConfig(temperature, topP *float64, maxTokens *int) (GeminiConfig, error) {
	geminiTemperature, err := parseOptionalFloatEnv("GEMINI_TEMPERATURE")
	if err != nil {
		return GeminiConfig{}, err
	}
	if geminiTemperature == nil {
		geminiTemperature = temperature
	}

	geminiTopP, err := parseOptionalFloatEnv("GEMINI_TOP_P")
	if err != nil {
		return GeminiConfig{}, err
	}
	if geminiTopP == nil {
		geminiTopP = topP
	}

	geminiMaxTokens, err := parseOptionalIntEnv("GEMINI_MAX_TOKENS")
	if err != nil {
		return GeminiConfig{}, err
	}
	if geminiMaxTokens == nil {
		geminiMaxTokens = maxTokens
	}

	return GeminiConfig{
		APIKey:      strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		Model:       getEnvOrDefault("GEMINI_MODEL", "gemini-2.5-flash"),
		Temperature: geminiTemperature,
		TopP:        geminiTopP,
		MaxTokens:   geminiMaxTokens,
	}, nil
}

func toFloat32(v *float64) *float32 {
	if v == nil {
		return nil
	}
	val := float32(*v)
	return &val
}

func loadRelayConfig() (RelayConfig, error) {
	maxDuration, err := parseDurationEnv("RELAY_MAX_DURATION", defaultMaxDuration)
	if err != nil {
		return RelayConfig{}, err
	}
	if maxDuration <= 0 {
		return RelayConfig{}, fmt.Errorf("RELAY_MAX_DURATION must be positive, got %s", maxDuration)
	}

	return RelayConfig{
		MaxDuration:  maxDuration,
		PersonaID:    getEnvOrDefault("RELAY_PERSONA", "zen"),
		SystemPrompt: strings.TrimSpace(os.Getenv("RELAY_SYSTEM_PROMPT")),
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
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

// parseDurationEnv 接受纯数字（秒）或 Go duration 字符串，例如 "30" 或 "1m30s"。
func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
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
