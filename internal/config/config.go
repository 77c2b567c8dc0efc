package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// Provider names the hosted model backend.
type Provider string

const (
	ProviderAzure Provider = "azure"
	ProviderArk   Provider = "ark"
)

// Config 聚合整个服务的配置项。加载后不再修改，按值传递给各组件。
type Config struct {
	Server ServerConfig
	AI     AIConfig
	Crew   CrewConfig
	Log    LogConfig
}

// Load 从环境变量加载配置。
func Load() (Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	// viper treats an empty env value as unset; here empty means "every turn".
	if raw, ok := os.LookupEnv("CREW_TERMINATION_AGENTS"); ok && strings.TrimSpace(raw) == "" {
		v.Set("CREW_TERMINATION_AGENTS", "")
	}
	return LoadFrom(v)
}

// LoadFrom builds a Config from the supplied viper instance. Tests pass an
// instance populated with Set instead of mutating the process environment.
func LoadFrom(v *viper.Viper) (Config, error) {
	setDefaults(v)

	server, err := loadServerConfig(v)
	if err != nil {
		return Config{}, err
	}

	ai, err := loadAIConfig(v)
	if err != nil {
		return Config{}, err
	}

	crew, err := loadCrewConfig(v)
	if err != nil {
		return Config{}, err
	}

	return Config{
		Server: server,
		AI:     ai,
		Crew:   crew,
		Log: LogConfig{
			Level:  v.GetString("LOG_LEVEL"),
			Format: v.GetString("LOG_FORMAT"),
		},
	}, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("CREW_PROVIDER", string(ProviderAzure))
	v.SetDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3")
	v.SetDefault("ARK_REGION", "cn-beijing")
	v.SetDefault("CREW_MAX_ITERATIONS", 20)
	v.SetDefault("CREW_APPROVAL_KEYWORD", "APPROVED")
	v.SetDefault("CREW_USER_ROLE", "user")
	v.SetDefault("CREW_PRODUCER", "SoftwareEngineerAgent")
	v.SetDefault("CREW_ARTIFACT_LANGUAGE", "html")
	v.SetDefault("CREW_ARTIFACT_PATH", "index.html")
	v.SetDefault("CREW_PUBLISH_ENABLED", true)
	v.SetDefault("CREW_PUBLISH_INTERPRETER", "bash")
	v.SetDefault("CREW_PUBLISH_SCRIPT", "push_to_github.sh")
	v.SetDefault("CREW_SELECTION", "sequential")
	v.SetDefault("CREW_TERMINATION_AGENTS", "ProductOwnerAgent")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "console")
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig(v *viper.Viper) (ServerConfig, error) {
	port := strings.TrimSpace(v.GetString("PORT"))
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

// AIConfig 描述大模型相关配置。
//
// Credentials are deliberately not validated here: a missing endpoint or key
// surfaces as a failure of the first remote call.
type AIConfig struct {
	Provider Provider

	// Azure OpenAI
	Deployment string
	Endpoint   string
	APIKey     string
	APIVersion string

	// Ark
	ArkAPIKey    string
	ArkAccessKey string
	ArkSecretKey string
	ArkModel     string
	ArkBaseURL   string
	ArkRegion    string

	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// NewChatModel 使用配置创建一个模型实例，同一进程内的所有 agent 共用该实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
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

	switch c.Provider {
	case ProviderArk:
		return ark.NewChatModel(ctx, &ark.ChatModelConfig{
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
	case ProviderAzure, "":
		return openai.NewChatModel(ctx, &openai.ChatModelConfig{
			ByAzure:     true,
			BaseURL:     c.Endpoint,
			APIKey:      c.APIKey,
			APIVersion:  c.APIVersion,
			Model:       c.Deployment,
			MaxTokens:   maxTokens,
			Temperature: temperature,
			TopP:        topP,
		})
	default:
		return nil, fmt.Errorf("unsupported model provider %q", c.Provider)
	}
}

func loadAIConfig(v *viper.Viper) (AIConfig, error) {
	temperature, err := parseOptionalFloat(v, "AI_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloat(v, "AI_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalInt(v, "AI_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	provider := Provider(strings.ToLower(getString(v, "CREW_PROVIDER")))
	if provider != ProviderAzure && provider != ProviderArk {
		return AIConfig{}, fmt.Errorf("invalid CREW_PROVIDER value %q", provider)
	}

	return AIConfig{
		Provider:     provider,
		Deployment:   getString(v, "AZURE_OPENAI_CHAT_DEPLOYMENT_NAME"),
		Endpoint:     getString(v, "AZURE_OPENAI_ENDPOINT"),
		APIKey:       getString(v, "AZURE_OPENAI_API_KEY"),
		APIVersion:   getString(v, "AZURE_OPENAI_API_VERSION"),
		ArkAPIKey:    getString(v, "ARK_API_KEY"),
		ArkAccessKey: getString(v, "ARK_ACCESS_KEY"),
		ArkSecretKey: getString(v, "ARK_SECRET_KEY"),
		ArkModel:     getString(v, "ARK_MODEL"),
		ArkBaseURL:   getString(v, "ARK_BASE_URL"),
		ArkRegion:    getString(v, "ARK_REGION"),
		Temperature:  temperature,
		TopP:         topP,
		MaxTokens:    maxTokens,
	}, nil
}

// CrewConfig 描述多智能体协作流程的配置。
type CrewConfig struct {
	MaxIterations     int
	ApprovalKeyword   string
	UserRole          string
	Producer          string
	ArtifactLanguage  string
	ArtifactPath      string
	PublishEnabled    bool
	PublishCommand    string
	PublishScript     string
	Selection         string
	AgentsFile        string
	TerminationAgents []string
}

func loadCrewConfig(v *viper.Viper) (CrewConfig, error) {
	maxIterations, err := cast.ToIntE(v.Get("CREW_MAX_ITERATIONS"))
	if err != nil {
		return CrewConfig{}, fmt.Errorf("invalid CREW_MAX_ITERATIONS value %q: %w", v.GetString("CREW_MAX_ITERATIONS"), err)
	}
	if maxIterations < 1 {
		return CrewConfig{}, fmt.Errorf("invalid CREW_MAX_ITERATIONS value %d: must be positive", maxIterations)
	}

	publishEnabled, err := cast.ToBoolE(v.Get("CREW_PUBLISH_ENABLED"))
	if err != nil {
		return CrewConfig{}, fmt.Errorf("invalid CREW_PUBLISH_ENABLED value %q: %w", v.GetString("CREW_PUBLISH_ENABLED"), err)
	}

	selection := strings.ToLower(getString(v, "CREW_SELECTION"))
	if selection != "sequential" && selection != "model" {
		return CrewConfig{}, fmt.Errorf("invalid CREW_SELECTION value %q", selection)
	}

	keyword := getString(v, "CREW_APPROVAL_KEYWORD")
	if keyword == "" {
		return CrewConfig{}, fmt.Errorf("invalid CREW_APPROVAL_KEYWORD value: empty")
	}

	return CrewConfig{
		MaxIterations:     maxIterations,
		ApprovalKeyword:   keyword,
		UserRole:          getString(v, "CREW_USER_ROLE"),
		Producer:          getString(v, "CREW_PRODUCER"),
		ArtifactLanguage:  getString(v, "CREW_ARTIFACT_LANGUAGE"),
		ArtifactPath:      getString(v, "CREW_ARTIFACT_PATH"),
		PublishEnabled:    publishEnabled,
		PublishCommand:    getString(v, "CREW_PUBLISH_INTERPRETER"),
		PublishScript:     getString(v, "CREW_PUBLISH_SCRIPT"),
		Selection:         selection,
		AgentsFile:        getString(v, "CREW_AGENTS_FILE"),
		TerminationAgents: splitList(getString(v, "CREW_TERMINATION_AGENTS")),
	}, nil
}

// LogConfig 描述日志输出。
type LogConfig struct {
	Level  string
	Format string
}

func getString(v *viper.Viper, key string) string {
	return strings.TrimSpace(v.GetString(key))
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var items []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			items = append(items, part)
		}
	}
	return items
}

func parseOptionalFloat(v *viper.Viper, key string) (*float64, error) {
	value := getString(v, key)
	if value == "" {
		return nil, nil
	}

	val, err := cast.ToFloat64E(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalInt(v *viper.Viper, key string) (*int, error) {
	value := getString(v, key)
	if value == "" {
		return nil, nil
	}

	val, err := cast.ToIntE(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
