package config

import (
	"errors"
	"time"
)

// Config 应用配置根结构
type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Ollama OllamaConfig `mapstructure:"ollama"`
	Search SearchConfig `mapstructure:"search"`
	Prompt PromptConfig `mapstructure:"prompt"`
	Log    LogConfig    `mapstructure:"log"`
	Mongo  MongoConfig  `mapstructure:"mongo"`
	Redis  RedisConfig  `mapstructure:"redis"`
}

// ServerConfig HTTP 服务器配置
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// OllamaConfig 推理引擎配置
type OllamaConfig struct {
	BaseURL      string        `mapstructure:"base_url"`      // Ollama 服务地址
	DefaultModel string        `mapstructure:"default_model"` // 请求未指定模型时使用的默认模型
	Timeout      time.Duration `mapstructure:"timeout"`       // 单次调用超时
}

// SearchConfig 网络搜索配置
type SearchConfig struct {
	BaseURL       string        `mapstructure:"base_url"`       // 搜索服务地址（空则使用内置默认）
	EnableDefault bool          `mapstructure:"enable_default"` // 请求未指定 enable_search 时的默认值
	MaxResults    int           `mapstructure:"max_results"`    // 取前 K 条结果
	SnippetLength int           `mapstructure:"snippet_length"` // 每条摘要截断长度
	Timeout       time.Duration `mapstructure:"timeout"`        // 单次调用超时
}

// PromptConfig 提示词配置
type PromptConfig struct {
	MaxChars int `mapstructure:"max_chars"` // 提示词总字符预算，超出时从最旧历史开始丢弃
}

// LogConfig 日志配置 (Zerolog)
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	FilePath   string `mapstructure:"file_path"`
	TimeFormat string `mapstructure:"time_format"`
}

// MongoConfig MongoDB 配置
type MongoConfig struct {
	URI         string `mapstructure:"uri"`
	Database    string `mapstructure:"database"`
	MaxPoolSize uint64 `mapstructure:"max_pool_size"`
	MinPoolSize uint64 `mapstructure:"min_pool_size"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Validate 验证配置有效性
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.New("invalid server port")
	}

	validModes := map[string]bool{"debug": true, "release": true, "test": true}
	if !validModes[c.Server.Mode] {
		return errors.New("invalid server mode, must be debug/release/test")
	}

	if c.Ollama.BaseURL == "" {
		return errors.New("ollama base_url is required")
	}
	if c.Ollama.DefaultModel == "" {
		return errors.New("ollama default_model is required")
	}
	if c.Prompt.MaxChars <= 0 {
		return errors.New("prompt max_chars must be positive")
	}

	return nil
}
