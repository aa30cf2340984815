// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Database() DatabaseConfig
	Engine() EngineConfig
	Analysis() AnalysisConfig
	Context() ContextConfig
	Prompts() PromptsConfig
	LLM() LLMRouterConfig
	Cache() CacheConfig
	Report() ReportConfig

	// CLI flag overrides.
	SetEngineWorkerConcurrency(int)
	SetEngineMaxRetries(int)
	SetAnalysisReportPath(string)
	SetAnalysisProjectRoot(string)
	SetReportOutputPath(string)
	SetCacheSnapshotPath(string)
}

// Config holds the entire application configuration. Fields are accessed
// through the Interface's getter methods; the Cfg suffix keeps the exported
// fields (required by viper's unmarshal) from colliding with the getters.
type Config struct {
	LoggerCfg   LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	DatabaseCfg DatabaseConfig  `mapstructure:"database" yaml:"database"`
	EngineCfg   EngineConfig    `mapstructure:"engine" yaml:"engine"`
	AnalysisCfg AnalysisConfig  `mapstructure:"analysis" yaml:"analysis"`
	ContextCfg  ContextConfig   `mapstructure:"context" yaml:"context"`
	PromptsCfg  PromptsConfig   `mapstructure:"prompts" yaml:"prompts"`
	LLMCfg      LLMRouterConfig `mapstructure:"llm" yaml:"llm"`
	CacheCfg    CacheConfig     `mapstructure:"cache" yaml:"cache"`
	ReportCfg   ReportConfig    `mapstructure:"report" yaml:"report"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig     { return c.LoggerCfg }
func (c *Config) Database() DatabaseConfig { return c.DatabaseCfg }
func (c *Config) Engine() EngineConfig     { return c.EngineCfg }
func (c *Config) Analysis() AnalysisConfig { return c.AnalysisCfg }
func (c *Config) Context() ContextConfig   { return c.ContextCfg }
func (c *Config) Prompts() PromptsConfig   { return c.PromptsCfg }
func (c *Config) LLM() LLMRouterConfig     { return c.LLMCfg }
func (c *Config) Cache() CacheConfig       { return c.CacheCfg }
func (c *Config) Report() ReportConfig     { return c.ReportCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetEngineWorkerConcurrency(w int) { c.EngineCfg.WorkerConcurrency = w }
func (c *Config) SetEngineMaxRetries(n int)        { c.EngineCfg.MaxRetries = n }
func (c *Config) SetAnalysisReportPath(p string)   { c.AnalysisCfg.ReportPath = p }
func (c *Config) SetAnalysisProjectRoot(p string)  { c.AnalysisCfg.ProjectRoot = p }
func (c *Config) SetReportOutputPath(p string)     { c.ReportCfg.OutputPath = p }
func (c *Config) SetCacheSnapshotPath(p string)    { c.CacheCfg.SnapshotPath = p }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// DatabaseConfig holds the database connection details. An empty URL runs
// the engine with the in-memory cache only.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// EngineConfig configures the remediation engine's worker pool and retry
// budget per incident.
type EngineConfig struct {
	QueueSize          int           `mapstructure:"queue_size" yaml:"queue_size"`
	WorkerConcurrency  int           `mapstructure:"worker_concurrency" yaml:"worker_concurrency"`
	MaxRetries         int           `mapstructure:"max_retries" yaml:"max_retries"`
	DefaultTaskTimeout time.Duration `mapstructure:"default_task_timeout" yaml:"default_task_timeout"`
}

// AnalysisConfig locates the analyzer report and the source tree it refers to.
type AnalysisConfig struct {
	ReportPath  string `mapstructure:"report_path" yaml:"report_path"`
	ProjectRoot string `mapstructure:"project_root" yaml:"project_root"`
}

// ContextConfig tunes AST context extraction.
type ContextConfig struct {
	// FallbackRadiusLines bounds the window when no enclosing declaration
	// can be found around the incident.
	FallbackRadiusLines int `mapstructure:"fallback_radius_lines" yaml:"fallback_radius_lines"`
	// MaxSliceBytes caps the code slice handed to the prompt renderer.
	MaxSliceBytes int `mapstructure:"max_slice_bytes" yaml:"max_slice_bytes"`
}

// PromptsConfig selects the prompt template set.
type PromptsConfig struct {
	TemplateVersion string `mapstructure:"template_version" yaml:"template_version"`
	// TemplateDir optionally overrides the embedded templates.
	TemplateDir string `mapstructure:"template_dir" yaml:"template_dir"`
}

// CacheConfig controls the response cache snapshot.
type CacheConfig struct {
	SnapshotPath string `mapstructure:"snapshot_path" yaml:"snapshot_path"`
	Preload      bool   `mapstructure:"preload" yaml:"preload"`
}

// ReportConfig controls the final remediation report.
type ReportConfig struct {
	OutputPath string `mapstructure:"output_path" yaml:"output_path"`
	Format     string `mapstructure:"format" yaml:"format"`
}

// LLMProvider defines the supported LLM providers.
type LLMProvider string

const (
	ProviderGemini LLMProvider = "gemini"
	ProviderOpenAI LLMProvider = "openai"
	ProviderOllama LLMProvider = "ollama"
)

// LLMRouterConfig configures the model routing logic. FallbackOrder lists
// model names (keys into Models) tried in sequence after the primary model
// exhausts its retry budget.
type LLMRouterConfig struct {
	DefaultFastModel     string                    `mapstructure:"default_fast_model" yaml:"default_fast_model"`
	DefaultPowerfulModel string                    `mapstructure:"default_powerful_model" yaml:"default_powerful_model"`
	FallbackOrder        []string                  `mapstructure:"fallback_order" yaml:"fallback_order"`
	Models               map[string]LLMModelConfig `mapstructure:"models" yaml:"models"`
	Retry                RetryConfig               `mapstructure:"retry" yaml:"retry"`
}

// LLMModelConfig defines the configuration for a single LLM backend.
type LLMModelConfig struct {
	Provider    LLMProvider   `mapstructure:"provider" yaml:"provider"`
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"-"`
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature float32       `mapstructure:"temperature" yaml:"temperature"`
	TopP        float32       `mapstructure:"top_p" yaml:"top_p"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	// RequestsPerSecond rate-limits calls to this backend; zero disables
	// the limiter.
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
}

// RetryConfig bounds the gateway's exponential backoff per backend.
type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval" yaml:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval" yaml:"max_interval"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time" yaml:"max_elapsed_time"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "chisel-cli")
	v.SetDefault("logger.log_file", "chisel.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Engine --
	v.SetDefault("engine.queue_size", 256)
	v.SetDefault("engine.worker_concurrency", 4)
	v.SetDefault("engine.max_retries", 2)
	v.SetDefault("engine.default_task_timeout", "5m")

	// -- Context --
	v.SetDefault("context.fallback_radius_lines", 15)
	v.SetDefault("context.max_slice_bytes", 32768)

	// -- Prompts --
	v.SetDefault("prompts.template_version", "v1")

	// -- Cache --
	v.SetDefault("cache.snapshot_path", "chisel-cache.json")
	v.SetDefault("cache.preload", true)

	// -- Report --
	v.SetDefault("report.output_path", "chisel-report.json")
	v.SetDefault("report.format", "json")

	// -- LLM --
	v.SetDefault("llm.default_fast_model", "gemini-flash")
	v.SetDefault("llm.default_powerful_model", "gemini-pro")
	v.SetDefault("llm.retry.max_attempts", 4)
	v.SetDefault("llm.retry.initial_interval", "500ms")
	v.SetDefault("llm.retry.max_interval", "10s")
	v.SetDefault("llm.retry.max_elapsed_time", "60s")
	// Model defaults are set per leaf key. A single typed default for
	// llm.models stops viper from merging env-bound keys (such as the
	// api_key binding below) into the map, which drops the defaults
	// entirely as soon as the env var is set.
	v.SetDefault("llm.models.gemini-flash.provider", string(ProviderGemini))
	v.SetDefault("llm.models.gemini-flash.model", "gemini-2.5-flash")
	v.SetDefault("llm.models.gemini-flash.api_timeout", "60s")
	v.SetDefault("llm.models.gemini-flash.temperature", 0.1)
	v.SetDefault("llm.models.gemini-flash.max_tokens", 8192)
	v.SetDefault("llm.models.gemini-pro.provider", string(ProviderGemini))
	v.SetDefault("llm.models.gemini-pro.model", "gemini-2.5-pro")
	v.SetDefault("llm.models.gemini-pro.api_timeout", "120s")
	v.SetDefault("llm.models.gemini-pro.temperature", 0.1)
	v.SetDefault("llm.models.gemini-pro.max_tokens", 8192)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data.
	v.BindEnv("llm.models.gemini-flash.api_key", "CHISEL_GEMINI_API_KEY", "GEMINI_API_KEY")
	v.BindEnv("llm.models.gemini-pro.api_key", "CHISEL_GEMINI_API_KEY", "GEMINI_API_KEY")
	v.BindEnv("database.url", "CHISEL_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.EngineCfg.WorkerConcurrency <= 0 {
		return fmt.Errorf("engine.worker_concurrency must be a positive integer")
	}
	if c.EngineCfg.MaxRetries < 0 {
		return fmt.Errorf("engine.max_retries must not be negative")
	}
	if c.ContextCfg.FallbackRadiusLines <= 0 {
		return fmt.Errorf("context.fallback_radius_lines must be a positive integer")
	}
	if err := c.LLMCfg.Validate(); err != nil {
		return fmt.Errorf("llm configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the LLM routing configuration.
func (l *LLMRouterConfig) Validate() error {
	if len(l.Models) == 0 {
		return fmt.Errorf("llm.models must define at least one backend")
	}
	if _, ok := l.Models[l.DefaultFastModel]; !ok {
		return fmt.Errorf("llm.default_fast_model %q is not defined in llm.models", l.DefaultFastModel)
	}
	if _, ok := l.Models[l.DefaultPowerfulModel]; !ok {
		return fmt.Errorf("llm.default_powerful_model %q is not defined in llm.models", l.DefaultPowerfulModel)
	}
	for _, name := range l.FallbackOrder {
		if _, ok := l.Models[name]; !ok {
			return fmt.Errorf("llm.fallback_order entry %q is not defined in llm.models", name)
		}
	}
	if l.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("llm.retry.max_attempts must be greater than 0")
	}
	return nil
}
