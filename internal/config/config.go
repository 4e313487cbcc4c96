package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// ErrNoBackend 表示没有任何可用的大模型后端配置。
var ErrNoBackend = errors.New("no chat-completions backend configured: set AZURE_OPENAI_ENDPOINT+AZURE_OPENAI_API_KEY, ARK_API_KEY (or ARK_ACCESS_KEY+ARK_SECRET_KEY) with ARK_MODEL, OPENAI_BASE_URL or OPENAI_API_KEY")

// Config 聚合整个服务的配置项。
type Config struct {
	Server  ServerConfig
	AI      AIConfig
	Storage StorageConfig
	Agent   AgentConfig
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

	storage, err := loadStorageConfig()
	if err != nil {
		return nil, err
	}

	agent, err := loadAgentConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, AI: ai, Storage: storage, Agent: agent}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr            string
	AllowedOrigins  []string
	ShutdownTimeout time.Duration
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	var addr string
	switch {
	case strings.Contains(port, ":"):
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		addr = port
	case strings.Contains(port, " "):
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	default:
		addr = ":" + port
	}

	shutdown, err := parseDurationEnv("SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return ServerConfig{}, err
	}

	return ServerConfig{
		Addr:            addr,
		AllowedOrigins:  parseListEnv("CORS_ALLOWED_ORIGINS", []string{"*"}),
		ShutdownTimeout: shutdown,
	}, nil
}

// Backend 标识选中的大模型后端。
type Backend string

const (
	BackendNone             Backend = ""
	BackendAzure            Backend = "azure"
	BackendArk              Backend = "ark"
	BackendOpenAICompatible Backend = "openai-compatible"
	BackendOpenAI           Backend = "openai"
)

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	Backend Backend

	// Azure OpenAI
	AzureEndpoint   string
	AzureAPIKey     string
	AzureDeployment string
	AzureAPIVersion string

	// Volcengine Ark
	ArkAPIKey    string
	ArkAccessKey string
	ArkSecretKey string
	ArkModel     string
	ArkBaseURL   string
	ArkRegion    string

	// OpenAI 及兼容端点
	OpenAIBaseURL string
	OpenAIAPIKey  string
	OpenAIModel   string

	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// Enabled 表示是否找到了可用后端。
func (c AIConfig) Enabled() bool {
	return c.Backend != BackendNone
}

// selectBackend 按固定优先级选择后端：托管云（Azure，其次 Ark）> 兼容端点 > OpenAI。
func (c AIConfig) selectBackend() Backend {
	switch {
	case c.AzureEndpoint != "" && c.AzureAPIKey != "":
		return BackendAzure
	case c.ArkModel != "" && (c.ArkAPIKey != "" || (c.ArkAccessKey != "" && c.ArkSecretKey != "")):
		return BackendArk
	case c.OpenAIBaseURL != "":
		return BackendOpenAICompatible
	case c.OpenAIAPIKey != "":
		return BackendOpenAI
	default:
		return BackendNone
	}
}

// ModelName 返回当前后端使用的模型或部署名。
func (c AIConfig) ModelName() string {
	switch c.Backend {
	case BackendAzure:
		return c.AzureDeployment
	case BackendArk:
		return c.ArkModel
	default:
		return c.OpenAIModel
	}
}

// NewChatModel 使用配置创建模型实例并绑定工具目录。
func (c AIConfig) NewChatModel(ctx context.Context, tools []*schema.ToolInfo) (model.BaseChatModel, error) {
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

	var maxTokens *int
	if c.MaxTokens != nil {
		val := *c.MaxTokens
		maxTokens = &val
	}

	switch c.Backend {
	case BackendAzure:
		chatModel, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
			ByAzure:     true,
			BaseURL:     c.AzureEndpoint,
			APIKey:      c.AzureAPIKey,
			APIVersion:  c.AzureAPIVersion,
			Model:       c.AzureDeployment,
			MaxTokens:   maxTokens,
			Temperature: temperature,
			TopP:        topP,
		})
		if err != nil {
			return nil, fmt.Errorf("create %s chat model: %w", c.Backend, err)
		}
		return withTools(chatModel, tools)
	case BackendArk:
		// Ark 模型只支持原地绑定工具（BindTools）。
		chatModel, err := ark.NewChatModel(ctx, &ark.ChatModelConfig{
			BaseURL:     c.ArkBaseURL,
			Region:      c.ArkRegion,
			APIKey:      c.ArkAPIKey,
			AccessKey:   c.ArkAccessKey,
			SecretKey:   c.ArkSecretKey,
			Model:       c.ArkModel,
			MaxTokens:   maxTokens,
			Temperature: temperature,
			TopP:        topP,
		})
		if err != nil {
			return nil, fmt.Errorf("create %s chat model: %w", c.Backend, err)
		}
		if err := chatModel.BindTools(tools); err != nil {
			return nil, fmt.Errorf("bind tools: %w", err)
		}
		return chatModel, nil
	case BackendOpenAICompatible, BackendOpenAI:
		chatModel, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL:     c.OpenAIBaseURL,
			APIKey:      c.OpenAIAPIKey,
			Model:       c.OpenAIModel,
			MaxTokens:   maxTokens,
			Temperature: temperature,
			TopP:        topP,
		})
		if err != nil {
			return nil, fmt.Errorf("create %s chat model: %w", c.Backend, err)
		}
		return withTools(chatModel, tools)
	default:
		return nil, ErrNoBackend
	}
}

// withTools 为支持 ToolCallingChatModel 的后端绑定工具目录。
func withTools(chatModel model.ToolCallingChatModel, tools []*schema.ToolInfo) (model.BaseChatModel, error) {
	bound, err := chatModel.WithTools(tools)
	if err != nil {
		return nil, fmt.Errorf("bind tools: %w", err)
	}
	return bound, nil
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("AI_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("AI_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("AI_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	cfg := AIConfig{
		AzureEndpoint:   strings.TrimSpace(os.Getenv("AZURE_OPENAI_ENDPOINT")),
		AzureAPIKey:     strings.TrimSpace(os.Getenv("AZURE_OPENAI_API_KEY")),
		AzureDeployment: getEnvOrDefault("AZURE_OPENAI_DEPLOYMENT", "gpt-4o-mini"),
		AzureAPIVersion: getEnvOrDefault("AZURE_OPENAI_API_VERSION", "2024-06-01"),
		ArkAPIKey:       strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		ArkAccessKey:    strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		ArkSecretKey:    strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		ArkModel:        strings.TrimSpace(os.Getenv("ARK_MODEL")),
		ArkBaseURL:      getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		ArkRegion:       getEnvOrDefault("ARK_REGION", "cn-beijing"),
		OpenAIBaseURL:   strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")),
		OpenAIAPIKey:    strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		OpenAIModel:     getEnvOrDefault("OPENAI_MODEL", "gpt-4o-mini"),
		Temperature:     temperature,
		TopP:            topP,
		MaxTokens:       maxTokens,
	}
	cfg.Backend = cfg.selectBackend()
	return cfg, nil
}

// StorageMode 决定会话的存储方式。
type StorageMode string

const (
	StorageFile   StorageMode = "file"
	StorageMemory StorageMode = "memory"
)

// StorageConfig 描述会话与记忆的持久化位置。
type StorageConfig struct {
	Mode         StorageMode
	SessionsRoot string
	MemoriesRoot string
	// MemoryFile 非空时所有用户共用一个记忆文件（控制台模式）。
	MemoryFile   string
	CachedOwners int64
}

func loadStorageConfig() (StorageConfig, error) {
	mode := StorageMode(strings.ToLower(getEnvOrDefault("STORAGE_MODE", string(StorageFile))))
	if mode != StorageFile && mode != StorageMemory {
		return StorageConfig{}, fmt.Errorf("invalid STORAGE_MODE value %q: want file or memory", mode)
	}

	dataDir := getEnvOrDefault("DATA_DIR", "data")

	cached := int64(256)
	if override, err := parseOptionalIntEnv("MEMORY_CACHE_OWNERS"); err != nil {
		return StorageConfig{}, err
	} else if override != nil && *override > 0 {
		cached = int64(*override)
	}

	return StorageConfig{
		Mode:         mode,
		SessionsRoot: getEnvOrDefault("SESSIONS_DIR", filepath.Join(dataDir, "sessions")),
		MemoriesRoot: getEnvOrDefault("MEMORIES_DIR", filepath.Join(dataDir, "memories")),
		MemoryFile:   strings.TrimSpace(os.Getenv("MEMORY_FILE")),
		CachedOwners: cached,
	}, nil
}

// AgentConfig 描述对话编排循环与上游调用的限制。
type AgentConfig struct {
	MaxIterations  int
	WindowSize     int
	RequestTimeout time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func loadAgentConfig() (AgentConfig, error) {
	cfg := AgentConfig{
		MaxIterations: 10,
		WindowSize:    20,
		MaxRetries:    3,
	}

	if v, err := parseOptionalIntEnv("AGENT_MAX_ITERATIONS"); err != nil {
		return AgentConfig{}, err
	} else if v != nil {
		if *v < 1 {
			return AgentConfig{}, fmt.Errorf("invalid AGENT_MAX_ITERATIONS value %d: must be at least 1", *v)
		}
		cfg.MaxIterations = *v
	}

	if v, err := parseOptionalIntEnv("AGENT_WINDOW_SIZE"); err != nil {
		return AgentConfig{}, err
	} else if v != nil && *v > 0 {
		cfg.WindowSize = *v
	}

	if v, err := parseOptionalIntEnv("AI_MAX_RETRIES"); err != nil {
		return AgentConfig{}, err
	} else if v != nil && *v >= 0 {
		cfg.MaxRetries = *v
	}

	var err error
	if cfg.RequestTimeout, err = parseDurationEnv("AI_REQUEST_TIMEOUT", 60*time.Second); err != nil {
		return AgentConfig{}, err
	}
	if cfg.InitialBackoff, err = parseDurationEnv("AI_RETRY_INITIAL_BACKOFF", time.Second); err != nil {
		return AgentConfig{}, err
	}
	if cfg.MaxBackoff, err = parseDurationEnv("AI_RETRY_MAX_BACKOFF", 30*time.Second); err != nil {
		return AgentConfig{}, err
	}

	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseListEnv(key string, defaultValue []string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue
	}

	var values []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			values = append(values, part)
		}
	}
	if len(values) == 0 {
		return defaultValue
	}
	return values
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
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


