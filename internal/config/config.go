package config

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"github.com/pkg/errors"
)

// Config 聚合服务端的配置项。
type Config struct {
	Server ServerConfig
	AI     AIConfig
}

// Load 从环境变量加载服务端配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, AI: ai}, nil
}

// ServerConfig 描述 HTTP 服务与聊天通道配置。
type ServerConfig struct {
	Addr string
	// Tokens maps bearer tokens to user names.
	Tokens       map[string]string
	HistoryLimit int
}

// loadServerConfig 解析服务器监听地址与凭证。
func loadServerConfig() (ServerConfig, error) {
	addr, err := parseAddr(os.Getenv("PORT"))
	if err != nil {
		return ServerConfig{}, err
	}

	tokens, err := parseTokens(os.Getenv("SERVER_TOKENS"))
	if err != nil {
		return ServerConfig{}, err
	}

	limit := 20
	if override, err := parseOptionalIntEnv("CHAT_HISTORY_LIMIT"); err != nil {
		return ServerConfig{}, err
	} else if override != nil {
		if *override < 2 {
			limit = 2
		} else {
			limit = *override
		}
	}

	return ServerConfig{Addr: addr, Tokens: tokens, HistoryLimit: limit}, nil
}

func parseAddr(raw string) (string, error) {
	port := strings.TrimSpace(raw)
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return port, nil
	}

	if strings.Contains(port, " ") {
		return "", errors.Errorf("invalid PORT value: %q", port)
	}

	return ":" + port, nil
}

// parseTokens reads "user:token,user2:token2".
func parseTokens(raw string) (map[string]string, error) {
	tokens := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		user, token, ok := strings.Cut(pair, ":")
		user, token = strings.TrimSpace(user), strings.TrimSpace(token)
		if !ok || user == "" || token == "" {
			return nil, errors.Errorf("invalid SERVER_TOKENS entry %q, expected user:token", pair)
		}
		tokens[token] = user
	}
	return tokens, nil
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, errors.New("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + Model 或 AK/SK 组合")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
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

	return AIConfig{
		APIKey:      strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:   strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:   strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:       strings.TrimSpace(os.Getenv("Model")),
		BaseURL:     getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:      getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature: temperature,
		TopP:        topP,
		MaxTokens:   maxTokens,
	}, nil
}

// ClientConfig 描述终端客户端的连接配置。
type ClientConfig struct {
	// BaseURL roots the REST API, e.g. http://localhost:8080/api.
	BaseURL string
	// WebSocketURL is the persistent channel endpoint, e.g. ws://localhost:8080/ws.
	WebSocketURL string
	// StreamURL roots the HTTP fallback transport, e.g. http://localhost:8080.
	StreamURL        string
	Transports       []string
	HistoryWindow    int
	ComposingTimeout time.Duration
	Reconnect        bool
	CredentialsPath  string
}

// LoadClient 从环境变量加载客户端配置。
func LoadClient() (ClientConfig, error) {
	baseURL := strings.TrimRight(getEnvOrDefault("ASSISTANT_BASE_URL", "http://localhost:8080/api"), "/")
	origin := strings.TrimSuffix(baseURL, "/api")

	wsURL := getEnvOrDefault("ASSISTANT_WS_URL", "")
	if wsURL == "" {
		wsURL = websocketURL(origin) + "/ws"
	}

	transports := splitList(getEnvOrDefault("ASSISTANT_TRANSPORTS", "websocket,http"))
	for _, name := range transports {
		if name != "websocket" && name != "http" {
			return ClientConfig{}, errors.Errorf("invalid ASSISTANT_TRANSPORTS entry %q", name)
		}
	}

	window := 10
	if override, err := parseOptionalIntEnv("ASSISTANT_HISTORY_WINDOW"); err != nil {
		return ClientConfig{}, err
	} else if override != nil && *override > 0 {
		window = *override
	}

	composing, err := parseDurationEnv("ASSISTANT_COMPOSING_TIMEOUT", 45*time.Second)
	if err != nil {
		return ClientConfig{}, err
	}

	reconnect, err := parseBoolEnv("ASSISTANT_RECONNECT", false)
	if err != nil {
		return ClientConfig{}, err
	}

	credentials := getEnvOrDefault("ASSISTANT_CREDENTIALS", "")
	if credentials == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			dir = "."
		}
		credentials = filepath.Join(dir, "productivity-assistant", "credentials.yaml")
	}

	return ClientConfig{
		BaseURL:          baseURL,
		WebSocketURL:     wsURL,
		StreamURL:        origin,
		Transports:       transports,
		HistoryWindow:    window,
		ComposingTimeout: composing,
		Reconnect:        reconnect,
		CredentialsPath:  credentials,
	}, nil
}

func websocketURL(httpURL string) string {
	switch {
	case strings.HasPrefix(httpURL, "https://"):
		return "wss://" + strings.TrimPrefix(httpURL, "https://")
	case strings.HasPrefix(httpURL, "http://"):
		return "ws://" + strings.TrimPrefix(httpURL, "http://")
	default:
		return httpURL
	}
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.ToLower(strings.TrimSpace(item)); item != "" {
			out = append(out, item)
		}
	}
	return out
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
		return false, errors.Wrapf(err, "invalid %s value %q", key, raw)
	}
	return val, nil
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s value %q", key, raw)
	}
	if val <= 0 {
		return 0, errors.Errorf("invalid %s value %q: must be positive", key, raw)
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
		return nil, errors.Wrapf(err, "invalid %s value %q", key, value)
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
		return nil, errors.Wrapf(err, "invalid %s value %q", key, value)
	}
	return &val, nil
}
