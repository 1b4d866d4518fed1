// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"github.com/poiesic/ragjobs/ai"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "RAGJOBS_"

// Config is the complete application configuration.
type Config struct {
	Log       LogConfig       `toml:"log"`
	Storage   StorageConfig   `toml:"storage"`
	AI        AIConfig        `toml:"ai"`
	Workers   WorkersConfig   `toml:"workers"`
	Jobs      JobsConfig      `toml:"jobs"`
	Ingestion IngestionConfig `toml:"ingestion"`
	Query     QueryConfig     `toml:"query"`
	Cleanup   CleanupConfig   `toml:"cleanup"`
	Metrics   MetricsConfig   `toml:"metrics"`
}

type LogConfig struct {
	Level string `toml:"level" validate:"required,loglevel"`
	// File, when set, receives a JSON copy of every log record.
	File string `toml:"file"`
}

type StorageConfig struct {
	Backend  string         `toml:"backend" validate:"oneof=badger postgres"`
	Badger   BadgerConfig   `toml:"badger"`
	Postgres PostgresConfig `toml:"postgres"`
}

type BadgerConfig struct {
	Dir string `toml:"dir" validate:"required_if=InMemory false"`
	// InMemory discards all data on exit. Useful for trying things out.
	InMemory bool `toml:"in_memory"`
}

type PostgresConfig struct {
	// DSN overrides the individual connection fields when set.
	DSN      string `toml:"dsn"`
	Host     string `toml:"host"`
	Port     int    `toml:"port" validate:"gte=0,lte=65535"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	DBName   string `toml:"dbname"`
	SSL      bool   `toml:"ssl"`
}

// AIConfig mirrors ai.Config in file form.
type AIConfig struct {
	EmbeddingProvider string `toml:"embedding_provider" validate:"oneof=openai ollama"`
	LLMProvider       string `toml:"llm_provider" validate:"oneof=openai ollama anthropic"`
	EmbeddingHost     string `toml:"embedding_host" validate:"required"`
	LLMHost           string `toml:"llm_host"`
	EmbeddingModel    string `toml:"embedding_model" validate:"required"`
	// LLMModel is the default generation model. Reranking always uses it.
	LLMModel string `toml:"llm_model" validate:"required"`
	APIKey   string `toml:"api_key"`
}

type WorkersConfig struct {
	// Count of pool goroutines. Zero means half the CPUs, at least one.
	Count     int `toml:"count" validate:"gte=0"`
	QueueSize int `toml:"queue_size" validate:"gte=1"`
}

type JobsConfig struct {
	// Timeout bounds one job execution. Empty or "0" disables it.
	Timeout string `toml:"timeout" validate:"omitempty,duration"`
}

type IngestionConfig struct {
	RenderDir             string `toml:"render_dir"`
	DedupBeforeConversion bool   `toml:"dedup_before_conversion"`
	RemoveUploads         bool   `toml:"remove_uploads"`
	ChunkMaxChars         int    `toml:"chunk_max_chars" validate:"gt=0"`
	ChunkOverlap          int    `toml:"chunk_overlap" validate:"gte=0,ltfield=ChunkMaxChars"`
}

type QueryConfig struct {
	TopK          int `toml:"top_k" validate:"gte=1"`
	ParseAttempts int `toml:"parse_attempts" validate:"gte=1"`
}

type CleanupConfig struct {
	Interval      string `toml:"interval" validate:"required,duration"`
	RetryBackoff  string `toml:"retry_backoff" validate:"required,duration"`
	RetentionDays int    `toml:"retention_days" validate:"gte=1"`
}

type MetricsConfig struct {
	// Addr is where `serve` exposes /metrics. Empty disables the endpoint.
	Addr string `toml:"addr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	aiDefaults := ai.DefaultConfig()
	return &Config{
		Log: LogConfig{Level: "info"},
		Storage: StorageConfig{
			Backend: "badger",
			Badger:  BadgerConfig{Dir: "./data"},
		},
		AI: AIConfig{
			EmbeddingProvider: string(aiDefaults.EmbeddingProvider),
			LLMProvider:       string(aiDefaults.LLMProvider),
			EmbeddingHost:     aiDefaults.EmbeddingHost,
			LLMHost:           aiDefaults.LLMHost,
			EmbeddingModel:    aiDefaults.EmbeddingModel,
			LLMModel:          aiDefaults.LLMModel,
		},
		Workers: WorkersConfig{QueueSize: 1024},
		Ingestion: IngestionConfig{
			RenderDir:     "./rendered",
			ChunkMaxChars: 2000,
			ChunkOverlap:  200,
		},
		Query: QueryConfig{TopK: 5, ParseAttempts: 3},
		Cleanup: CleanupConfig{
			Interval:      "24h",
			RetryBackoff:  "60s",
			RetentionDays: 7,
		},
	}
}

// Load builds the configuration. path may be empty, in which case only
// defaults and the environment apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		dec := toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			var strict *toml.StrictMissingError
			if errors.As(err, &strict) {
				return nil, fmt.Errorf("config %s: %s", path, strict.String())
			}
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides fields from RAGJOBS_* variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"LOG_LEVEL":             &c.Log.Level,
		"LOG_FILE":              &c.Log.File,
		"STORAGE_BACKEND":       &c.Storage.Backend,
		"BADGER_DIR":            &c.Storage.Badger.Dir,
		"POSTGRES_DSN":          &c.Storage.Postgres.DSN,
		"POSTGRES_HOST":         &c.Storage.Postgres.Host,
		"POSTGRES_USER":         &c.Storage.Postgres.User,
		"POSTGRES_PASSWORD":     &c.Storage.Postgres.Password,
		"POSTGRES_DBNAME":       &c.Storage.Postgres.DBName,
		"AI_EMBEDDING_PROVIDER": &c.AI.EmbeddingProvider,
		"AI_LLM_PROVIDER":       &c.AI.LLMProvider,
		"AI_EMBEDDING_HOST":     &c.AI.EmbeddingHost,
		"AI_LLM_HOST":           &c.AI.LLMHost,
		"AI_EMBEDDING_MODEL":    &c.AI.EmbeddingModel,
		"AI_LLM_MODEL":          &c.AI.LLMModel,
		"AI_API_KEY":            &c.AI.APIKey,
		"JOBS_TIMEOUT":          &c.Jobs.Timeout,
		"INGESTION_RENDER_DIR":  &c.Ingestion.RenderDir,
		"CLEANUP_INTERVAL":      &c.Cleanup.Interval,
		"CLEANUP_RETRY_BACKOFF": &c.Cleanup.RetryBackoff,
		"METRICS_ADDR":          &c.Metrics.Addr,
	}
	ints := map[string]*int{
		"POSTGRES_PORT":          &c.Storage.Postgres.Port,
		"WORKERS_COUNT":          &c.Workers.Count,
		"WORKERS_QUEUE_SIZE":     &c.Workers.QueueSize,
		"QUERY_TOP_K":            &c.Query.TopK,
		"CLEANUP_RETENTION_DAYS": &c.Cleanup.RetentionDays,
	}
	bools := map[string]*bool{
		"BADGER_IN_MEMORY":                  &c.Storage.Badger.InMemory,
		"INGESTION_DEDUP_BEFORE_CONVERSION": &c.Ingestion.DedupBeforeConversion,
		"INGESTION_REMOVE_UPLOADS":          &c.Ingestion.RemoveUploads,
	}

	for name, dst := range strs {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	for name, dst := range ints {
		if v, ok := lookup(EnvPrefix + name); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
			}
			*dst = n
		}
	}
	for name, dst := range bools {
		if v, ok := lookup(EnvPrefix + name); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
			}
			*dst = b
		}
	}
	return nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		_, err := time.ParseDuration(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("loglevel", func(fl validator.FieldLevel) bool {
		_, err := ParseLevel(fl.Field().String())
		return err == nil
	})
	return v
}

// Validate checks every section and normalizes the AI settings.
func (c *Config) Validate() error {
	c.AI.EmbeddingProvider = strings.ToLower(c.AI.EmbeddingProvider)
	c.AI.LLMProvider = strings.ToLower(c.AI.LLMProvider)
	c.Storage.Backend = strings.ToLower(c.Storage.Backend)

	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := c.AIConfig().Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// AIConfig converts the [ai] section for the provider constructors.
func (c *Config) AIConfig() *ai.Config {
	cfg := ai.NewConfig(
		ai.WithEmbeddingHost(c.AI.EmbeddingHost),
		ai.WithLLMHost(c.AI.LLMHost),
		ai.WithEmbeddingModel(c.AI.EmbeddingModel),
		ai.WithLLMModel(c.AI.LLMModel),
		ai.WithAPIKey(c.AI.APIKey),
		ai.WithLLMProvider(ai.Provider(c.AI.LLMProvider)),
	)
	cfg.EmbeddingProvider = ai.Provider(c.AI.EmbeddingProvider)
	cfg.Normalize()
	return cfg
}

// WorkerCount resolves the pool size.
func (c WorkersConfig) WorkerCount() int {
	if c.Count > 0 {
		return c.Count
	}
	return max(runtime.NumCPU()/2, 1)
}

// TimeoutDuration returns the per-job timeout, zero when disabled.
func (c JobsConfig) TimeoutDuration() time.Duration {
	return parseDuration(c.Timeout)
}

func (c CleanupConfig) IntervalDuration() time.Duration     { return parseDuration(c.Interval) }
func (c CleanupConfig) RetryBackoffDuration() time.Duration { return parseDuration(c.RetryBackoff) }

// Retention converts RetentionDays to a duration.
func (c CleanupConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// parseDuration assumes the value passed validation.
func parseDuration(s string) time.Duration {
	if s == "" {
		return 0
	}
	d, _ := time.ParseDuration(s)
	return d
}
