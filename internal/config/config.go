package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPrompt is the instruction sent alongside every image.
const DefaultPrompt = "Provide a valid JSON output. Please tell me whether the photo captures a restaurant menu, receipt, or something similar that contains a dish name. If so, please also list all the dish names in the photo using English. The output should be in dictionary format {“menu_photo”: “yes”/”no”, “receipt_photo”: “yes”/”no”, “dish_names”: [dishname1, dishname2, …] } and saved in JSON file"

// Config holds every tunable of the labeler.
type Config struct {
	ImageFolder     string   `yaml:"image_folder"`
	OutputFile      string   `yaml:"output_file"`
	ModelID         string   `yaml:"model_id"`
	PromptText      string   `yaml:"prompt_text"`
	Extensions      []string `yaml:"extensions"`
	CaseInsensitive bool     `yaml:"case_insensitive"`
	RecordFailures  bool     `yaml:"record_failures"`

	Inference InferenceConfig `yaml:"inference"`
	Log       LogConfig       `yaml:"log"`
	Redis     RedisConfig     `yaml:"redis"`
	Database  DatabaseConfig  `yaml:"database"`
	Server    ServerConfig    `yaml:"server"`
}

// InferenceConfig configures the remote completion service.
type InferenceConfig struct {
	APIKey            string        `yaml:"api_key"`
	BaseURL           string        `yaml:"base_url"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// RedisConfig configures the reply cache. An empty Addr disables it.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// DatabaseConfig configures result persistence. An empty DSN disables it.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// ServerConfig configures the HTTP surface used in serve mode.
type ServerConfig struct {
	Addr          string `yaml:"addr"`
	JWTSecret     string `yaml:"jwt_secret"`
	JWTAudience   string `yaml:"jwt_audience"`
	MaxUploadSize int64  `yaml:"max_upload_size"`
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		ImageFolder: "images",
		OutputFile:  "image_labels.json",
		ModelID:     "gpt-4o-mini",
		PromptText:  DefaultPrompt,
		Extensions:  []string{".jpg"},
		Inference: InferenceConfig{
			Timeout: 2 * time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Redis: RedisConfig{
			TTL: 24 * time.Hour,
		},
		Server: ServerConfig{
			Addr:          ":8080",
			MaxUploadSize: 10 << 20,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file, an
// optional .env file and LABELER_* environment variables, in that order.
func Load() (*Config, error) {
	cfg := Default()

	path := getEnv("LABELER_CONFIG", "labeler.yaml")
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.ImageFolder = getEnv("LABELER_IMAGE_FOLDER", c.ImageFolder)
	c.OutputFile = getEnv("LABELER_OUTPUT_FILE", c.OutputFile)
	c.ModelID = getEnv("LABELER_MODEL_ID", c.ModelID)
	c.PromptText = getEnv("LABELER_PROMPT_TEXT", c.PromptText)
	if value := os.Getenv("LABELER_EXTENSIONS"); value != "" {
		c.Extensions = splitList(value)
	}
	c.CaseInsensitive = getEnvAsBool("LABELER_CASE_INSENSITIVE", c.CaseInsensitive)
	c.RecordFailures = getEnvAsBool("LABELER_RECORD_FAILURES", c.RecordFailures)

	c.Inference.APIKey = getEnv("OPENAI_API_KEY", c.Inference.APIKey)
	c.Inference.APIKey = getEnv("LABELER_API_KEY", c.Inference.APIKey)
	c.Inference.BaseURL = getEnv("LABELER_BASE_URL", c.Inference.BaseURL)
	c.Inference.Timeout = getEnvAsDuration("LABELER_TIMEOUT", c.Inference.Timeout)
	c.Inference.RequestsPerSecond = getEnvAsFloat("LABELER_REQUESTS_PER_SECOND", c.Inference.RequestsPerSecond)

	c.Log.Level = getEnv("LABELER_LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LABELER_LOG_FORMAT", c.Log.Format)

	c.Redis.Addr = getEnv("LABELER_REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("LABELER_REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvAsInt("LABELER_REDIS_DB", c.Redis.DB)
	c.Redis.TTL = getEnvAsDuration("LABELER_REDIS_TTL", c.Redis.TTL)

	c.Database.DSN = getEnv("LABELER_DATABASE_DSN", c.Database.DSN)

	c.Server.Addr = getEnv("LABELER_SERVER_ADDR", c.Server.Addr)
	c.Server.JWTSecret = getEnv("LABELER_JWT_SECRET", c.Server.JWTSecret)
	c.Server.JWTAudience = getEnv("LABELER_JWT_AUDIENCE", c.Server.JWTAudience)
	c.Server.MaxUploadSize = int64(getEnvAsInt("LABELER_MAX_UPLOAD_SIZE", int(c.Server.MaxUploadSize)))
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.ImageFolder) == "":
		return errors.New("image folder is required")
	case strings.TrimSpace(c.OutputFile) == "":
		return errors.New("output file is required")
	case strings.TrimSpace(c.ModelID) == "":
		return errors.New("model id is required")
	case strings.TrimSpace(c.PromptText) == "":
		return errors.New("prompt text is required")
	case len(c.Extensions) == 0:
		return errors.New("at least one extension is required")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
