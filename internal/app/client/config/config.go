package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	defaultServerAddress    = "localhost:8080"
	defaultLogLevel         = "info"
	defaultEnv              = "local"
	defaultConfigDir        = ".reliefsync"
	defaultBatchSize        = 50
	maxBatchSize            = 100
	defaultRetryBaseDelay   = 2 * time.Second
	defaultRetryMaxDelay    = 5 * time.Minute
	defaultConflictStrategy = "last_write_wins"
	defaultProbeSeconds     = 15
	defaultSettleDelayMS    = 1000
)

type Config struct {
	Env              string        `mapstructure:"app_env" yaml:"app_env" json:"app_env"`
	ServerAddress    string        `mapstructure:"server_address" yaml:"server_address" json:"server_address"`
	EnableTLS        bool          `mapstructure:"enable_tls" yaml:"enable_tls" json:"enable_tls"`
	LogLevel         string        `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	ConfigDir        string        `mapstructure:"config_dir" yaml:"config_dir" json:"config_dir"`
	DataPath         string        `mapstructure:"data_path" yaml:"data_path" json:"data_path"`
	LogFile          string        `mapstructure:"log_file" yaml:"log_file" json:"log_file"`
	AutoSync         bool          `mapstructure:"auto_sync" yaml:"auto_sync" json:"auto_sync"`
	SyncInterval     int           `mapstructure:"sync_interval_seconds" yaml:"sync_interval_seconds" json:"sync_interval_seconds"`
	BatchSize        int           `mapstructure:"batch_size" yaml:"batch_size" json:"batch_size"`
	RetryBaseDelay   time.Duration `mapstructure:"retry_base_delay" yaml:"retry_base_delay" json:"retry_base_delay"`
	RetryMaxDelay    time.Duration `mapstructure:"retry_max_delay" yaml:"retry_max_delay" json:"retry_max_delay"`
	ConflictStrategy string        `mapstructure:"conflict_strategy" yaml:"conflict_strategy" json:"conflict_strategy"`
	ProbeInterval    int           `mapstructure:"connectivity_probe_seconds" yaml:"connectivity_probe_seconds" json:"connectivity_probe_seconds"`
	SettleDelayMS    int           `mapstructure:"settle_delay_ms" yaml:"settle_delay_ms" json:"settle_delay_ms"`
}

// MustLoad загружает конфигурацию клиента и завершает работу при ошибке
func MustLoad(configFile string) *Config {
	cfg, err := Load(viper.New(), configFile)
	if err != nil {
		panic(fmt.Sprintf("Ошибка конфигурации: %v", err))
	}
	return cfg
}

// Load собирает конфигурацию из .env, необязательного YAML-файла и переменных окружения.
// Переменные окружения имеют приоритет над файлом.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	loadDotEnv()

	v.AutomaticEnv()

	// Устанавливаем значения по умолчанию
	v.SetDefault("APP_ENV", defaultEnv)
	v.SetDefault("SERVER_ADDRESS", defaultServerAddress)
	v.SetDefault("ENABLE_TLS", false)
	v.SetDefault("LOG_LEVEL", defaultLogLevel)
	v.SetDefault("CONFIG_DIR", defaultConfigDir)
	v.SetDefault("AUTO_SYNC", true)
	v.SetDefault("SYNC_INTERVAL_SECONDS", 0)
	v.SetDefault("BATCH_SIZE", defaultBatchSize)
	v.SetDefault("RETRY_BASE_DELAY", defaultRetryBaseDelay)
	v.SetDefault("RETRY_MAX_DELAY", defaultRetryMaxDelay)
	v.SetDefault("CONFLICT_STRATEGY", defaultConflictStrategy)
	v.SetDefault("CONNECTIVITY_PROBE_SECONDS", defaultProbeSeconds)
	v.SetDefault("SETTLE_DELAY_MS", defaultSettleDelayMS)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", configFile, err)
		}
	}

	// Вычисляем пути для хранения данных
	configDir := v.GetString("CONFIG_DIR")
	if configDir == defaultConfigDir {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			homeDir = "."
		}
		configDir = filepath.Join(homeDir, configDir)
	}

	dataPath := v.GetString("DATA_PATH")
	if dataPath == "" {
		dataPath = filepath.Join(configDir, "reliefsync.db")
	}
	logFile := v.GetString("LOG_FILE")
	if logFile == "" {
		logFile = filepath.Join(configDir, "reliefsync.log")
	}

	batchSize := v.GetInt("BATCH_SIZE")
	if batchSize <= 0 || batchSize > maxBatchSize {
		batchSize = maxBatchSize
	}

	config := &Config{
		Env:              v.GetString("APP_ENV"),
		ServerAddress:    strings.TrimSpace(v.GetString("SERVER_ADDRESS")),
		EnableTLS:        v.GetBool("ENABLE_TLS"),
		LogLevel:         v.GetString("LOG_LEVEL"),
		ConfigDir:        configDir,
		DataPath:         dataPath,
		LogFile:          logFile,
		AutoSync:         v.GetBool("AUTO_SYNC"),
		SyncInterval:     v.GetInt("SYNC_INTERVAL_SECONDS"),
		BatchSize:        batchSize,
		RetryBaseDelay:   v.GetDuration("RETRY_BASE_DELAY"),
		RetryMaxDelay:    v.GetDuration("RETRY_MAX_DELAY"),
		ConflictStrategy: v.GetString("CONFLICT_STRATEGY"),
		ProbeInterval:    v.GetInt("CONNECTIVITY_PROBE_SECONDS"),
		SettleDelayMS:    v.GetInt("SETTLE_DELAY_MS"),
	}

	// Валидация конфигурации
	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadDotEnv() {
	// Определяем путь к .env файлу (относительно места запуска)
	envPath := ".env"
	if _, err := os.Stat(envPath); os.IsNotExist(err) {
		envPath = "../.env"
	}
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			fmt.Fprintf(os.Stderr, "Ошибка загрузки .env файла: %v\n", err)
		}
	}
}

func (c *Config) validate() error {
	if c.ServerAddress == "" {
		return fmt.Errorf("server_address не может быть пустым")
	}
	switch c.ConflictStrategy {
	case "last_write_wins", "merge":
	default:
		return fmt.Errorf("conflict_strategy должна быть last_write_wins или merge, получено %q", c.ConflictStrategy)
	}
	if c.RetryBaseDelay <= 0 || c.RetryMaxDelay < c.RetryBaseDelay {
		return fmt.Errorf("retry_base_delay должна быть положительной и не больше retry_max_delay")
	}
	if c.SettleDelayMS < 0 {
		return fmt.Errorf("settle_delay_ms не может быть отрицательной")
	}
	return nil
}

// EnsureDirs создает каталог конфигурации и каталоги файлов данных
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.ConfigDir, filepath.Dir(c.DataPath), filepath.Dir(c.LogFile)} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// ServerURL возвращает базовый адрес сервера с учетом TLS
func (c *Config) ServerURL() string {
	if strings.HasPrefix(c.ServerAddress, "http://") || strings.HasPrefix(c.ServerAddress, "https://") {
		return strings.TrimRight(c.ServerAddress, "/")
	}
	scheme := "http"
	if c.EnableTLS {
		scheme = "https"
	}
	return scheme + "://" + strings.TrimRight(c.ServerAddress, "/")
}

// SettleDelay возвращает паузу перед сбросом флагов синхронизации
func (c *Config) SettleDelay() time.Duration {
	return time.Duration(c.SettleDelayMS) * time.Millisecond
}

// IsProd проверяет, prod ли окружение
func (c *Config) IsProd() bool {
	return c.Env == "prod"
}

// IsDev проверяет, dev ли окружение
func (c *Config) IsDev() bool {
	return c.Env == "dev"
}

// IsLocal проверяет, local ли окружение
func (c *Config) IsLocal() bool {
	return c.Env == "local" || c.Env == ""
}
