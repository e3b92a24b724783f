// Package config 配置模块测试
package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 3, cfg.Book.DisplayPrecision)
	assert.Equal(t, 8, cfg.Book.AlertPrecision)
	assert.Equal(t, 5.0, cfg.Book.RefreshIntervalSeconds)
	assert.Equal(t, "v2", cfg.Source.Schema)
}

func TestLoad_YAML(t *testing.T) {
	path := writeConfig(t, `
app:
  log_level: debug
source:
  symbol: fEUR
  length: 100
  schema: legacy
book:
  period_ids: [2, 30, 120]
  display_precision: 0
  refresh_interval_seconds: 2.5
alerts:
  backend: redis
  redis_url: redis://localhost:6379/0
server:
  enabled: false
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, "fEUR", cfg.Source.Symbol)
	assert.Equal(t, 100, cfg.Source.Length)
	assert.Equal(t, "legacy", cfg.Source.Schema)
	assert.Equal(t, []int{2, 30, 120}, cfg.Book.PeriodIDs)
	// 显式 0 不被默认值覆盖
	assert.Equal(t, 0, cfg.Book.DisplayPrecision)
	assert.Equal(t, 8, cfg.Book.AlertPrecision)
	assert.Equal(t, 2500, int(cfg.Book.RefreshInterval().Milliseconds()))
	assert.Equal(t, "redis", cfg.Alerts.Backend)
	assert.Equal(t, "fdm:alerts", cfg.Alerts.RedisKey)
	assert.False(t, cfg.Server.Enabled)
	// 未配置的字段保留默认值
	assert.Equal(t, "https://api-pub.bitfinex.com", cfg.Source.BaseURL)
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	path := writeConfig(t, `
book:
  period_ids: [2]
  display_precision: 2
`)
	t.Setenv("FDM_BOOK_PERIOD_IDS", "2,7,30")
	t.Setenv("FDM_BOOK_DISPLAY_PRECISION", "4")
	t.Setenv("FDM_SOURCE_SYMBOL", "fBTC")
	t.Setenv("FDM_SERVER_PORT", "9090")
	t.Setenv("FDM_OUTPUT_CYCLES_ENABLED", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 7, 30}, cfg.Book.PeriodIDs)
	assert.Equal(t, 4, cfg.Book.DisplayPrecision)
	assert.Equal(t, "fBTC", cfg.Source.Symbol)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.True(t, cfg.Output.CyclesEnabled)
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, []int{0}, cfg.Book.PeriodIDs)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "book: [unclosed"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "book:\n  display_precision: 9\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "book.display_precision")
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.App.LogLevel = "verbose"
	cfg.Source.Length = 10
	cfg.Source.Schema = "v3"
	cfg.Book.PeriodIDs = []int{2, 2, -1}
	cfg.Alerts.Backend = "sqlite"

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	for _, want := range []string{
		"app.log_level",
		"source.length",
		"source.schema",
		"book.period_ids[1]",
		"book.period_ids[2]",
		"alerts.backend",
	} {
		assert.Contains(t, msg, want)
	}
}

func TestValidate_BackendRequirements(t *testing.T) {
	cfg := Default()
	cfg.Alerts.Backend = "redis"
	cfg.Alerts.RedisURL = ""
	assert.ErrorContains(t, cfg.Validate(), "alerts.redis_url")

	cfg = Default()
	cfg.Alerts.Path = ""
	assert.ErrorContains(t, cfg.Validate(), "alerts.path")

	cfg = Default()
	cfg.Server.Enabled = false
	cfg.Server.Port = 0
	assert.NoError(t, cfg.Validate())

	cfg = Default()
	cfg.Output.CyclesEnabled = true
	cfg.Output.BufferSize = 0
	assert.ErrorContains(t, cfg.Validate(), "output.buffer_size")
}

// TestValidate_Precision_Property 精度范围校验
func TestValidate_Precision_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("展示精度在 0-6 内通过验证", prop.ForAll(
		func(p int) bool {
			cfg := Default()
			cfg.Book.DisplayPrecision = p
			return cfg.Validate() == nil
		},
		gen.IntRange(0, 6),
	))

	properties.Property("展示精度超出范围验证失败", prop.ForAll(
		func(p int) bool {
			cfg := Default()
			cfg.Book.DisplayPrecision = p
			return cfg.Validate() != nil
		},
		gen.OneGenOf(gen.IntRange(-100, -1), gen.IntRange(7, 100)),
	))

	properties.Property("告警精度超出范围验证失败", prop.ForAll(
		func(p int) bool {
			cfg := Default()
			cfg.Book.AlertPrecision = p
			return cfg.Validate() != nil
		},
		gen.OneGenOf(gen.IntRange(-100, -1), gen.IntRange(13, 100)),
	))

	properties.TestingRun(t)
}

// TestValidate_Intervals_Property 刷新间隔与超时必须为正数
func TestValidate_Intervals_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("非正刷新间隔验证失败", prop.ForAll(
		func(sec float64) bool {
			cfg := Default()
			cfg.Book.RefreshIntervalSeconds = sec
			return cfg.Validate() != nil
		},
		gen.Float64Range(-1000, 0),
	))

	properties.Property("正刷新间隔通过验证", prop.ForAll(
		func(sec float64) bool {
			cfg := Default()
			cfg.Book.RefreshIntervalSeconds = sec
			return cfg.Validate() == nil
		},
		gen.Float64Range(0.001, 3600),
	))

	properties.Property("非正抓取超时验证失败", prop.ForAll(
		func(ms int) bool {
			cfg := Default()
			cfg.Book.FetchTimeoutMs = ms
			return cfg.Validate() != nil
		},
		gen.IntRange(-1000, 0),
	))

	properties.Property("不重复的非负周期标识通过验证", prop.ForAll(
		func(ids []int) bool {
			uniq := make([]int, 0, len(ids))
			seen := map[int]bool{}
			for _, id := range ids {
				if !seen[id] {
					seen[id] = true
					uniq = append(uniq, id)
				}
			}
			if len(uniq) == 0 {
				return true
			}
			cfg := Default()
			cfg.Book.PeriodIDs = uniq
			return cfg.Validate() == nil
		},
		gen.SliceOf(gen.IntRange(0, 120)),
	))

	properties.TestingRun(t)
}
