package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 全局配置
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	LLM       LLMConfig       `yaml:"llm"`
	Tutor     TutorConfig     `yaml:"tutor"`
	Retriever RetrieverConfig `yaml:"retriever"`
	Session   SessionConfig   `yaml:"session"`
	Logging   LoggingConfig   `yaml:"logging"`
	Paths     PathsConfig     `yaml:"paths"`
}

type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// LLMConfig LLM 生成能力配置（用于出题、评估、苏格拉底追问与总结）
type LLMConfig struct {
	Provider  string            `yaml:"provider"` // "openai" or "anthropic"
	OpenAI    LLMProviderConfig `yaml:"openai"`
	Anthropic LLMProviderConfig `yaml:"anthropic"`
}

// LLMProviderConfig LLM 提供商配置
type LLMProviderConfig struct {
	APIKey      string  `yaml:"api_key"`
	APIURL      string  `yaml:"api_url"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// TutorConfig 辅导引擎配置
type TutorConfig struct {
	// ResolutionThreshold 是判定“该问题已被理解”的分数阈值。
	ResolutionThreshold float64 `yaml:"resolution_threshold"`
	// MaxStarterQuestions 每个目标最多保留的开场问题数。
	MaxStarterQuestions int `yaml:"max_starter_questions"`
	// MaxContextPassages 每次 prompt 携带的支撑材料上限。
	MaxContextPassages int `yaml:"max_context_passages"`

	QuestionMaxTokens   int `yaml:"question_max_tokens"`
	EvaluationMaxTokens int `yaml:"evaluation_max_tokens"`
	DialogueMaxTokens   int `yaml:"dialogue_max_tokens"`
	SummaryMaxTokens    int `yaml:"summary_max_tokens"`
}

// RetrieverConfig 支撑材料检索配置
type RetrieverConfig struct {
	// MaxResults 是每个目标预取的片段数量。
	MaxResults int `yaml:"max_results"`
}

// SessionConfig 会话存储配置
type SessionConfig struct {
	// Backend 取值：memory | badger
	Backend string `yaml:"backend"`
	// BadgerPath 是 badger 数据目录（backend=badger 时必填）。
	BadgerPath string `yaml:"badger_path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type PathsConfig struct {
	// Modules 是模块目录文件（模块、学习目标与课程材料片段）。
	Modules string `yaml:"modules"`
}

// Load 从文件加载配置
func Load(path string) (*Config, error) {
	fmt.Printf("📋 Loading config from: %s\n", path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// 从环境变量覆盖敏感信息
	if llmKey := os.Getenv("LLM_API_KEY"); llmKey != "" {
		fmt.Printf("🔑 Using LLM_API_KEY from environment variable\n")
		switch cfg.LLM.Provider {
		case "anthropic":
			cfg.LLM.Anthropic.APIKey = llmKey
		default:
			cfg.LLM.OpenAI.APIKey = llmKey
		}
	}
	if anthropicKey := os.Getenv("ANTHROPIC_API_KEY"); anthropicKey != "" {
		cfg.LLM.Anthropic.APIKey = anthropicKey
	}

	cfg.applyDefaults()

	// 打印关键配置
	fmt.Printf("\n📊 Configuration Summary:\n")
	fmt.Printf("   Server: %s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("   LLM Provider: %s\n", cfg.LLM.Provider)
	fmt.Printf("   Session Backend: %s\n", cfg.Session.Backend)
	fmt.Printf("   Modules Path: %s\n", cfg.Paths.Modules)
	fmt.Printf("   Resolution Threshold: %.2f\n", cfg.Tutor.ResolutionThreshold)
	fmt.Printf("\n")

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// applyDefaults 填充缺省值，保证零配置也能跑通核心流程。
func (c *Config) applyDefaults() {
	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.Tutor.ResolutionThreshold == 0 {
		c.Tutor.ResolutionThreshold = 0.7
	}
	if c.Tutor.MaxStarterQuestions == 0 {
		c.Tutor.MaxStarterQuestions = 5
	}
	if c.Tutor.MaxContextPassages == 0 {
		c.Tutor.MaxContextPassages = 5
	}
	if c.Tutor.QuestionMaxTokens == 0 {
		c.Tutor.QuestionMaxTokens = 2000
	}
	if c.Tutor.EvaluationMaxTokens == 0 {
		c.Tutor.EvaluationMaxTokens = 1000
	}
	if c.Tutor.DialogueMaxTokens == 0 {
		c.Tutor.DialogueMaxTokens = 1500
	}
	if c.Tutor.SummaryMaxTokens == 0 {
		c.Tutor.SummaryMaxTokens = 1000
	}
	if c.Retriever.MaxResults == 0 {
		c.Retriever.MaxResults = 8
	}
	if c.Session.Backend == "" {
		c.Session.Backend = "memory"
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Paths.Modules == "" {
		return fmt.Errorf("modules path is required")
	}
	if c.Session.Backend != "memory" && c.Session.Backend != "badger" {
		return fmt.Errorf("unsupported session backend: %s", c.Session.Backend)
	}
	if c.Session.Backend == "badger" && c.Session.BadgerPath == "" {
		return fmt.Errorf("badger_path is required when session backend is badger")
	}
	return nil
}
