// Package config 负责加载和验证 YAML 配置文件。
// 加载顺序: 内置默认值 → YAML 文件 → FDM_ 前缀环境变量，最后统一校验。
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix 环境变量前缀
const EnvPrefix = "FDM_"

// Config 应用配置根结构
type Config struct {
	// App 应用基础配置
	App AppConfig `yaml:"app" envPrefix:"APP_"`
	// Source 数据源配置
	Source SourceConfig `yaml:"source" envPrefix:"SOURCE_"`
	// Book 聚合与刷新配置
	Book BookConfig `yaml:"book" envPrefix:"BOOK_"`
	// Alerts 告警存储配置
	Alerts AlertsConfig `yaml:"alerts" envPrefix:"ALERTS_"`
	// Server HTTP 服务配置
	Server ServerConfig `yaml:"server" envPrefix:"SERVER_"`
	// Output 周期记录输出配置
	Output OutputConfig `yaml:"output" envPrefix:"OUTPUT_"`
}

// AppConfig 应用基础配置
type AppConfig struct {
	// Name 应用名称，用于日志标识
	Name string `yaml:"name" env:"NAME"`
	// LogLevel 日志级别: debug, info, warn, error
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL"`
}

// SourceConfig 数据源配置
type SourceConfig struct {
	// BaseURL 公共 API 地址
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// Symbol 资金币种，如 fUSD
	Symbol string `yaml:"symbol" env:"SYMBOL"`
	// Length 每个快照返回的档位数: 1, 25, 100
	Length int `yaml:"length" env:"LENGTH"`
	// Schema 元组字段顺序: v2 [rate, period, count, amount] 或 legacy [rate, period, amount, count]
	Schema string `yaml:"schema" env:"SCHEMA"`
	// TimeoutMs 单次 HTTP 请求超时（毫秒）
	TimeoutMs int `yaml:"timeout_ms" env:"TIMEOUT_MS"`
}

// BookConfig 聚合与刷新配置
type BookConfig struct {
	// PeriodIDs 每个周期需要抓取并合并的快照标识
	PeriodIDs []int `yaml:"period_ids" env:"PERIOD_IDS" envSeparator:","`
	// DisplayPrecision 展示精度（百分比利率的小数位数，0-6）
	DisplayPrecision int `yaml:"display_precision" env:"DISPLAY_PRECISION"`
	// AlertPrecision 告警评估精度
	AlertPrecision int `yaml:"alert_precision" env:"ALERT_PRECISION"`
	// RefreshIntervalSeconds 刷新间隔（秒）
	RefreshIntervalSeconds float64 `yaml:"refresh_interval_seconds" env:"REFRESH_INTERVAL_SECONDS"`
	// FetchTimeoutMs 单个周期标识的抓取超时（毫秒）
	FetchTimeoutMs int `yaml:"fetch_timeout_ms" env:"FETCH_TIMEOUT_MS"`
}

// AlertsConfig 告警存储配置
type AlertsConfig struct {
	// Backend 存储后端: file 或 redis
	Backend string `yaml:"backend" env:"BACKEND"`
	// Path 文件后端的 YAML 路径
	Path string `yaml:"path" env:"PATH"`
	// RedisURL Redis 连接地址
	RedisURL string `yaml:"redis_url" env:"REDIS_URL"`
	// RedisPassword Redis 密码（覆盖 URL 中的密码）
	RedisPassword string `yaml:"redis_password" env:"REDIS_PASSWORD"`
	// RedisKey 存放告警的 hash 键
	RedisKey string `yaml:"redis_key" env:"REDIS_KEY"`
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	// Enabled 是否启动 HTTP 服务
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// Port 监听端口
	Port int `yaml:"port" env:"PORT"`
}

// OutputConfig 周期记录输出配置
type OutputConfig struct {
	// Dir 输出目录
	Dir string `yaml:"dir" env:"DIR"`
	// CyclesEnabled 是否把每个周期写入 cycles.jsonl
	CyclesEnabled bool `yaml:"cycles_enabled" env:"CYCLES_ENABLED"`
	// BufferSize 异步写入缓冲区大小
	BufferSize int `yaml:"buffer_size" env:"BUFFER_SIZE"`
}

// Default 返回全部默认值
// 默认值在解析 YAML 前写入，显式配置的 0 值（如 display_precision: 0）不会被覆盖。
func Default() *Config {
	return &Config{
		App: AppConfig{
			Name:     "funding-depth-monitor",
			LogLevel: "info",
		},
		Source: SourceConfig{
			BaseURL:   "https://api-pub.bitfinex.com",
			Symbol:    "fUSD",
			Length:    25,
			Schema:    "v2",
			TimeoutMs: 4000,
		},
		Book: BookConfig{
			PeriodIDs:              []int{0},
			DisplayPrecision:       3,
			AlertPrecision:         8,
			RefreshIntervalSeconds: 5,
			FetchTimeoutMs:         4000,
		},
		Alerts: AlertsConfig{
			Backend:  "file",
			Path:     "./data/alerts.yaml",
			RedisKey: "fdm:alerts",
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8086,
		},
		Output: OutputConfig{
			Dir:        "./output",
			BufferSize: 1000,
		},
	}
}

// Load 从文件加载配置，应用环境变量覆盖并验证
// 参数 path: 配置文件路径；为空时只使用默认值和环境变量
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("解析配置文件失败: %w", err)
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("解析环境变量失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}
	return cfg, nil
}

// Validate 验证配置合法性
// 收集全部错误后一并返回
func (c *Config) Validate() error {
	var errs []string

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.App.LogLevel)] {
		errs = append(errs, fmt.Sprintf("app.log_level: 无效的日志级别 '%s'，有效值: debug, info, warn, error", c.App.LogLevel))
	}

	// 数据源
	if c.Source.BaseURL == "" {
		errs = append(errs, "source.base_url: API 地址不能为空")
	}
	if c.Source.Symbol == "" {
		errs = append(errs, "source.symbol: 币种不能为空")
	}
	switch c.Source.Length {
	case 1, 25, 100:
	default:
		errs = append(errs, fmt.Sprintf("source.length: 档位数必须为 1, 25 或 100，当前值: %d", c.Source.Length))
	}
	switch strings.ToLower(c.Source.Schema) {
	case "v2", "legacy":
	default:
		errs = append(errs, fmt.Sprintf("source.schema: 无效的元组格式 '%s'，有效值: v2, legacy", c.Source.Schema))
	}
	if c.Source.TimeoutMs <= 0 {
		errs = append(errs, "source.timeout_ms: 超时时间必须为正数")
	}

	// 聚合
	if len(c.Book.PeriodIDs) == 0 {
		errs = append(errs, "book.period_ids: 至少需要配置一个周期标识")
	}
	seen := make(map[int]bool, len(c.Book.PeriodIDs))
	for i, p := range c.Book.PeriodIDs {
		if p < 0 {
			errs = append(errs, fmt.Sprintf("book.period_ids[%d]: 周期标识不能为负数", i))
		}
		if seen[p] {
			errs = append(errs, fmt.Sprintf("book.period_ids[%d]: 周期标识 %d 重复", i, p))
		}
		seen[p] = true
	}
	if c.Book.DisplayPrecision < 0 || c.Book.DisplayPrecision > 6 {
		errs = append(errs, fmt.Sprintf("book.display_precision: 展示精度必须在 0-6 之间，当前值: %d", c.Book.DisplayPrecision))
	}
	if c.Book.AlertPrecision < 0 || c.Book.AlertPrecision > 12 {
		errs = append(errs, fmt.Sprintf("book.alert_precision: 告警精度必须在 0-12 之间，当前值: %d", c.Book.AlertPrecision))
	}
	if c.Book.RefreshIntervalSeconds <= 0 {
		errs = append(errs, "book.refresh_interval_seconds: 刷新间隔必须为正数")
	}
	if c.Book.FetchTimeoutMs <= 0 {
		errs = append(errs, "book.fetch_timeout_ms: 抓取超时必须为正数")
	}

	// 告警存储
	switch strings.ToLower(c.Alerts.Backend) {
	case "file":
		if c.Alerts.Path == "" {
			errs = append(errs, "alerts.path: 文件后端需要配置路径")
		}
	case "redis":
		if c.Alerts.RedisURL == "" {
			errs = append(errs, "alerts.redis_url: redis 后端需要配置连接地址")
		}
		if c.Alerts.RedisKey == "" {
			errs = append(errs, "alerts.redis_key: redis 键不能为空")
		}
	default:
		errs = append(errs, fmt.Sprintf("alerts.backend: 无效的存储后端 '%s'，有效值: file, redis", c.Alerts.Backend))
	}

	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Sprintf("server.port: 无效端口 %d", c.Server.Port))
	}

	if c.Output.CyclesEnabled {
		if c.Output.Dir == "" {
			errs = append(errs, "output.dir: 输出目录不能为空")
		}
		if c.Output.BufferSize <= 0 {
			errs = append(errs, "output.buffer_size: 缓冲区大小必须为正数")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("配置验证错误:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// RefreshInterval 刷新间隔
func (b *BookConfig) RefreshInterval() time.Duration {
	return time.Duration(b.RefreshIntervalSeconds * float64(time.Second))
}

// FetchTimeout 单次抓取超时
func (b *BookConfig) FetchTimeout() time.Duration {
	return time.Duration(b.FetchTimeoutMs) * time.Millisecond
}

// Timeout HTTP 请求超时
func (s *SourceConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutMs) * time.Millisecond
}
