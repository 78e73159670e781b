package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTP     HTTP     `yaml:"http"`
	Log      Log      `yaml:"log"`
	Store    Store    `yaml:"store"`
	Postgres Postgres `yaml:"postgres"`
	Firebase Firebase `yaml:"firebase"`
	Redis    Redis    `yaml:"redis"`
	Kafka    Kafka    `yaml:"kafka"`
	Auth     Auth     `yaml:"auth"`
	Storage  Storage  `yaml:"storage"`
}

type HTTP struct {
	Port        string   `yaml:"port" env:"PORT" env-default:"8080"`
	CORSOrigins []string `yaml:"cors_origins" env:"CORS_ORIGINS" env-default:"*"`
}

type Log struct {
	Level  string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"json"`
}

// Store selects the document-store backend: memory, postgres or firestore.
type Store struct {
	Backend string `yaml:"backend" env:"STORE_BACKEND" env-default:"postgres"`
}

type Postgres struct {
	Host     string `yaml:"host" env:"DB_HOST" env-default:"localhost"`
	Port     string `yaml:"port" env:"DB_PORT" env-default:"5432"`
	User     string `yaml:"user" env:"DB_USER" env-default:"postgres"`
	Password string `yaml:"password" env:"DB_PASSWORD"`
	DBName   string `yaml:"dbname" env:"DB_NAME" env-default:"unipool"`
	SSLMode  string `yaml:"sslmode" env:"DB_SSLMODE" env-default:"disable"`

	MaxIdleConns int `yaml:"max_idle_conns" env:"DB_MAX_IDLE_CONNS" env-default:"10"`
	MaxOpenConns int `yaml:"max_open_conns" env:"DB_MAX_OPEN_CONNS" env-default:"100"`
}

func (p Postgres) DSN() string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		p.Host, p.User, p.Password, p.DBName, p.Port, p.SSLMode,
	)
}

type Firebase struct {
	ProjectID          string `yaml:"project_id" env:"FIREBASE_PROJECT_ID"`
	ServiceAccountPath string `yaml:"service_account_path" env:"FIREBASE_SERVICE_ACCOUNT_PATH"`
}

type Redis struct {
	URL string `yaml:"url" env:"REDIS_URL"`
}

type Kafka struct {
	Brokers []string `yaml:"brokers" env:"KAFKA_BROKERS"`
	Topic   string   `yaml:"topic" env:"KAFKA_TOPIC" env-default:"unipool-notifications"`
}

// Auth selects how bearer tokens are verified: "firebase" or "jwt".
type Auth struct {
	Provider  string `yaml:"provider" env:"AUTH_PROVIDER" env-default:"jwt"`
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`
}

type Storage struct {
	AWSRegion    string `yaml:"aws_region" env:"AWS_REGION"`
	AWSAccessKey string `yaml:"aws_access_key_id" env:"AWS_ACCESS_KEY_ID"`
	AWSSecretKey string `yaml:"aws_secret_access_key" env:"AWS_SECRET_ACCESS_KEY"`
	S3Bucket     string `yaml:"s3_bucket" env:"AWS_S3_BUCKET"`
	LocalDir     string `yaml:"local_dir" env:"UPLOAD_DIR" env-default:"./uploads"`
	BaseURL      string `yaml:"base_url" env:"BASE_URL" env-default:"http://localhost:8080"`
}

// Load reads .env (if present), then the YAML file at path (if present),
// then lets environment variables override both.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	cfg := &Config{}
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := cleanenv.ReadConfig(path, cfg); err != nil {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
			return cfg, cfg.validate()
		}
	}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("config: read env: %w", err)
	}
	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	switch c.Store.Backend {
	case "memory", "postgres", "firestore":
	default:
		return fmt.Errorf("config: unknown store backend %q", c.Store.Backend)
	}
	switch c.Auth.Provider {
	case "firebase":
	case "jwt":
		if c.Auth.JWTSecret == "" {
			return errors.New("config: JWT_SECRET is required when AUTH_PROVIDER=jwt")
		}
	default:
		return fmt.Errorf("config: unknown auth provider %q", c.Auth.Provider)
	}
	if c.Store.Backend == "firestore" && c.Firebase.ProjectID == "" {
		return errors.New("config: FIREBASE_PROJECT_ID is required for the firestore backend")
	}
	return nil
}
