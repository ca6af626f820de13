package config

import (
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	envPath  = ".env"
	EnvLocal = "local"
	EnvDev   = "dev"
	EnvProd  = "prod"

	defaultRunAddress     = ":8080"
	defaultMigrationsPath = "migrations"
	defaultMaxBatchSize   = 100
)

type Config struct {
	Env    string
	DB     DB
	Server Server
	Logger Logger
	Sync   Sync
}

type DB struct {
	DatabaseURI string `env:"DATABASE_URI"`
	Migrations  string `env:"MIGRATIONS_PATH"`
}

type Server struct {
	RunAddress string `env:"RUN_ADDRESS"`
}

type Logger struct {
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Sync - ограничения пакетной синхронизации
type Sync struct {
	MaxBatchSize int `env:"SYNC_MAX_BATCH_SIZE" envDefault:"100"`
}

// MustLoad загружает конфигурацию сервера из .env и переменных окружения
func MustLoad() *Config {
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			log.Printf("failed to load %s: %v", envPath, err)
		}
	} else {
		log.Println("No .env file found, relying on environment variables")
	}

	return Load(viper.New())
}

// Load собирает конфигурацию из переданного экземпляра viper
func Load(v *viper.Viper) *Config {
	v.AutomaticEnv()
	v.SetDefault("APP_ENV", EnvLocal)
	v.SetDefault("RUN_ADDRESS", defaultRunAddress)
	v.SetDefault("MIGRATIONS_PATH", defaultMigrationsPath)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("SYNC_MAX_BATCH_SIZE", defaultMaxBatchSize)

	maxBatch := v.GetInt("SYNC_MAX_BATCH_SIZE")
	if maxBatch <= 0 || maxBatch > defaultMaxBatchSize {
		maxBatch = defaultMaxBatchSize
	}

	return &Config{
		Env: v.GetString("APP_ENV"),
		DB: DB{
			DatabaseURI: v.GetString("DATABASE_URI"),
			Migrations:  v.GetString("MIGRATIONS_PATH"),
		},
		Server: Server{RunAddress: v.GetString("RUN_ADDRESS")},
		Logger: Logger{LogLevel: v.GetString("LOG_LEVEL")},
		Sync:   Sync{MaxBatchSize: maxBatch},
	}
}
