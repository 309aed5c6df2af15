package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Port         string
	UploadFolder string
	MaxUploadMB  int
	KeepUploads  bool
	RequireAuth  bool
	LogLevel     string
	LogFormat    string

	// Flat file written by the exporter and read by the loader
	CSVFilename string

	// Document store configuration
	DocStoreType        string // mongo, sql
	MongoURI            string
	MongoDBName         string
	MongoCollectionName string
	DocDBType           string
	DocDBDSN            string

	// Relational destination configuration
	DBType            string // postgres, mysql, sqlite, sqlserver
	DBHost            string
	DBPort            string
	DBDatabase        string
	DBUser            string
	DBPassword        string
	DBConnectionLimit int
	DBSchema          string
	TableName         string

	// Superset configuration
	SupersetURL      string
	SupersetUsername string
	SupersetPassword string
	SupersetProvider string
	SupersetDBName   string
	SupersetDBHost   string
	SupersetTimeout  time.Duration
	SupersetRPS      float64
	SupersetPageSize int
	SupersetBearer   string

	// Local signing secret for re-signed BI tokens
	TokenSecret string
}

// Load loads configuration from an optional .env file and the environment
func Load() (*Config, error) {
	envFile := getEnv("ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
		log.Debugf("No env file at %s, using process environment", envFile)
	}

	cfg := &Config{
		Port:                getEnv("PORT", "5000"),
		UploadFolder:        getEnv("UPLOAD_FOLDER", "uploads"),
		MaxUploadMB:         getEnvAsInt("MAX_UPLOAD_MB", 32),
		KeepUploads:         getEnvAsBool("KEEP_UPLOADS", false),
		RequireAuth:         getEnvAsBool("REQUIRE_AUTH", false),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		LogFormat:           getEnv("LOG_FORMAT", "text"),
		CSVFilename:         getEnv("CSV_FILENAME", "export.csv"),
		DocStoreType:        getEnv("DOC_STORE_TYPE", "mongo"),
		MongoURI:            getEnv("MONGO_URI", ""),
		MongoDBName:         getEnv("MONGO_DB_NAME", "tablebridge"),
		MongoCollectionName: getEnv("MONGO_COLLECTION_NAME", "uploads"),
		DocDBType:           getEnv("DOC_DB_TYPE", "sqlite"),
		DocDBDSN:            getEnv("DOC_DB_DSN", "documents.db"),
		DBType:              getEnv("DB_TYPE", "postgres"),
		DBHost:              getEnv("DB_HOST", "localhost"),
		DBPort:              getEnv("DB_PORT", "5432"),
		DBDatabase:          getEnv("DB_DATABASE", getEnv("DB_NAME", "")),
		DBUser:              getEnv("DB_USER", ""),
		DBPassword:          getEnv("DB_PASSWORD", ""),
		DBConnectionLimit:   getEnvAsInt("DB_CONNECTION_LIMIT", 5),
		DBSchema:            getEnv("DB_SCHEMA", "public"),
		TableName:           getEnv("TABLE_NAME", ""),
		SupersetURL:         getEnv("SUPERSET_URL", getEnv("BASE_URL", "")),
		SupersetUsername:    getEnv("SUPERSET_USERNAME", ""),
		SupersetPassword:    getEnv("SUPERSET_PASSWORD", ""),
		SupersetProvider:    getEnv("SUPERSET_PROVIDER", "db"),
		SupersetDBName:      getEnv("SUPERSET_DB_NAME", ""),
		SupersetDBHost:      getEnv("SUPERSET_DB_HOST", ""),
		SupersetTimeout:     getEnvAsDuration("SUPERSET_TIMEOUT", 30*time.Second),
		SupersetRPS:         getEnvAsFloat("SUPERSET_RPS", 5),
		SupersetPageSize:    getEnvAsInt("SUPERSET_PAGE_SIZE", 100),
		SupersetBearer:      getEnv("SUPERSET_BEARER", "signed"),
		TokenSecret:         getEnv("TOKEN_SECRET", getEnv("SECRET_KEY", "")),
	}

	if cfg.SupersetDBName == "" {
		cfg.SupersetDBName = cfg.DBDatabase
	}
	if cfg.SupersetDBHost == "" {
		cfg.SupersetDBHost = cfg.DBHost
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks required fields and value formats
func (cfg *Config) Validate() error {
	if cfg.TableName == "" {
		return fmt.Errorf("TABLE_NAME is required")
	}
	if !identifierPattern.MatchString(cfg.TableName) {
		return fmt.Errorf("TABLE_NAME %q must be a plain identifier", cfg.TableName)
	}
	if cfg.DBSchema != "" && !identifierPattern.MatchString(cfg.DBSchema) {
		return fmt.Errorf("DB_SCHEMA %q must be a plain identifier", cfg.DBSchema)
	}
	if cfg.DBDatabase == "" {
		return fmt.Errorf("DB_DATABASE is required")
	}
	if cfg.SupersetURL == "" {
		return fmt.Errorf("SUPERSET_URL is required")
	}
	if cfg.SupersetUsername == "" {
		return fmt.Errorf("SUPERSET_USERNAME is required")
	}
	if cfg.TokenSecret == "" {
		return fmt.Errorf("TOKEN_SECRET is required")
	}

	switch cfg.DocStoreType {
	case "mongo":
		if cfg.MongoURI == "" {
			return fmt.Errorf("MONGO_URI is required when DOC_STORE_TYPE=mongo")
		}
	case "sql":
		if cfg.DocDBDSN == "" {
			return fmt.Errorf("DOC_DB_DSN is required when DOC_STORE_TYPE=sql")
		}
	default:
		return fmt.Errorf("unsupported document store type: %s", cfg.DocStoreType)
	}

	switch cfg.SupersetBearer {
	case "signed", "access":
	default:
		return fmt.Errorf("SUPERSET_BEARER must be 'signed' or 'access', got %q", cfg.SupersetBearer)
	}

	if cfg.SupersetPageSize <= 0 {
		return fmt.Errorf("SUPERSET_PAGE_SIZE must be positive")
	}

	return nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	value, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := strings.TrimSpace(os.Getenv(key))
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration accepts Go durations ("45s") or whole seconds ("45")
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(valueStr); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
