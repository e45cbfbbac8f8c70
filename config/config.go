package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"opsvantage/models"
)

var (
	DB        *gorm.DB
	AppConfig Config
)

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"-"`
	DB       int    `json:"db"`
}

type Config struct {
	Environment string `json:"environment"`
	ServerPort  string `json:"server_port"`

	DBHost         string `json:"db_host"`
	DBPort         string `json:"db_port"`
	DBUser         string `json:"db_user"`
	DBPassword     string `json:"-"`
	DBName         string `json:"db_name"`
	DBSSLMode      string `json:"db_ssl_mode"`
	DBMaxIdleConns int    `json:"db_max_idle_conns"`
	DBMaxOpenConns int    `json:"db_max_open_conns"`

	// Mail transport collaborator. When SMTPHost is empty the engine falls
	// back to a logging transport.
	SMTPHost     string `json:"smtp_host"`
	SMTPPort     int    `json:"smtp_port"`
	SMTPUsername string `json:"smtp_username"`
	SMTPPassword string `json:"-"`
	FromEmail    string `json:"from_email"`
	FromName     string `json:"from_name"`

	SentryDSN string      `json:"-"`
	Redis     RedisConfig `json:"redis"`

	// Scheduler tuning
	SchedulerInterval  time.Duration `json:"scheduler_interval"`
	SchedulerWorkers   int           `json:"scheduler_workers"`
	SchedulerBatchSize int           `json:"scheduler_batch_size"`
	SendMaxAttempts    int           `json:"send_max_attempts"`

	// Inbound event webhook rate limit (requests/minute, 0 disables)
	RateLimitEvents int `json:"rate_limit_events"`

	// Lead scoring policy. Weights are per-interaction increments applied on
	// each interaction append; MaxLeadScore caps the derived score.
	ScoreWeights map[string]int `json:"score_weights"`
	MaxLeadScore int            `json:"max_lead_score"`
}

func init() {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()
}

// DefaultScoreWeights documents the default scoring policy: monotone
// non-negative increments per interaction type. Every weight can be
// overridden with SCORE_WEIGHT_<TYPE> environment variables.
func DefaultScoreWeights() map[string]int {
	return map[string]int{
		models.InteractionEmailSent:        1,
		models.InteractionEmailOpened:      2,
		models.InteractionEmailClicked:     5,
		models.InteractionWebsiteVisit:     3,
		models.InteractionNoteAdded:        1,
		models.InteractionMeetingScheduled: 10,
		models.InteractionPhoneCall:        8,
		models.InteractionStatusChanged:    0,
	}
}

func LoadConfig() error {
	AppConfig = Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		ServerPort:  getEnv("SERVER_PORT", "5000"),

		DBHost:         getEnv("DB_HOST", "localhost"),
		DBPort:         getEnv("DB_PORT", "5432"),
		DBUser:         getEnv("DB_USER", "postgres"),
		DBPassword:     getEnv("DB_PASSWORD", ""),
		DBName:         getEnv("DB_NAME", "opsvantage"),
		DBSSLMode:      getEnv("DB_SSL_MODE", "disable"),
		DBMaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
		DBMaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 100),

		SMTPHost:     getEnv("SMTP_HOST", ""),
		SMTPPort:     getEnvAsInt("SMTP_PORT", 587),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		FromEmail:    getEnv("FROM_EMAIL", "crm@opsvantage.local"),
		FromName:     getEnv("FROM_NAME", "OpsVantage Digital"),

		SentryDSN: getEnv("SENTRY_DSN", ""),
		Redis: RedisConfig{
			Enabled:  getEnv("REDIS_ENABLED", "false") == "true",
			Address:  getEnv("REDIS_ADDRESS", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},

		SchedulerInterval:  time.Duration(getEnvAsInt("SCHEDULER_INTERVAL_SECONDS", 60)) * time.Second,
		SchedulerWorkers:   getEnvAsInt("SCHEDULER_WORKERS", 4),
		SchedulerBatchSize: getEnvAsInt("SCHEDULER_BATCH_SIZE", 100),
		SendMaxAttempts:    getEnvAsInt("SEND_MAX_ATTEMPTS", 3),

		RateLimitEvents: getEnvAsInt("RATE_LIMIT_EVENTS", 0),

		ScoreWeights: loadScoreWeights(),
		MaxLeadScore: getEnvAsInt("MAX_LEAD_SCORE", 100),
	}

	if AppConfig.DBPassword == "" && AppConfig.Environment == "production" {
		return fmt.Errorf("DB_PASSWORD is required in production")
	}

	logConfig()
	return nil
}

func loadScoreWeights() map[string]int {
	weights := DefaultScoreWeights()
	for typ, def := range weights {
		key := "SCORE_WEIGHT_" + strings.ToUpper(typ)
		weights[typ] = getEnvAsInt(key, def)
	}
	return weights
}

func ConnectDB() error {
	log.Println("Attempting to connect to database...")

	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		AppConfig.DBHost,
		AppConfig.DBPort,
		AppConfig.DBUser,
		AppConfig.DBPassword,
		AppConfig.DBName,
		AppConfig.DBSSLMode,
	)
	log.Println("Using connection string:", maskPassword(dsn))

	var err error
	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get DB instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(AppConfig.DBMaxIdleConns)
	sqlDB.SetMaxOpenConns(AppConfig.DBMaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(30 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	log.Println("Starting database migration...")
	if err := Migrate(DB); err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}
	log.Println("Database migration completed")
	return nil
}

// Migrate creates the schema. Exported so tests can run it against their own
// database handle.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Contact{},
		&models.Interaction{},
		&models.EmailTemplate{},
		&models.Campaign{},
		&models.EmailSequence{},
		&models.SequenceStep{},
		&models.SequenceEnrollment{},
		&models.EmailEvent{},
	); err != nil {
		return err
	}

	// A contact has at most one active enrollment per sequence. The partial
	// index enforces it under concurrent trigger evaluation; terminal
	// enrollments stay around as the re-trigger guard.
	return db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_enrollments_single_active
		ON sequence_enrollments (contact_id, sequence_id) WHERE state = 'active'`).Error
}

// Helper functions
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	var value int
	_, err := fmt.Sscanf(valueStr, "%d", &value)
	if err != nil {
		return fallback
	}
	return value
}

func maskPassword(dsn string) string {
	const passwordMarker = "password="
	startIdx := strings.Index(dsn, passwordMarker)
	if startIdx == -1 {
		return dsn
	}

	startIdx += len(passwordMarker)
	endIdx := strings.IndexAny(dsn[startIdx:], " ")
	if endIdx == -1 {
		return dsn[:startIdx] + "*****"
	}
	return dsn[:startIdx] + "*****" + dsn[startIdx+endIdx:]
}

func logConfig() {
	log.Println("Loaded configuration:")
	log.Printf("Environment: %s", AppConfig.Environment)
	log.Printf("Server Port: %s", AppConfig.ServerPort)
	log.Printf("Database: %s@%s:%s/%s",
		AppConfig.DBUser,
		AppConfig.DBHost,
		AppConfig.DBPort,
		AppConfig.DBName)
	log.Printf("SMTP configured: %t, Redis enabled: %t",
		AppConfig.SMTPHost != "",
		AppConfig.Redis.Enabled)
}
