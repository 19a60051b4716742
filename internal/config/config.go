package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port        string
	Environment string
	LogLevel    string
	AdminToken  string

	// Storage
	StoreDriver string // sqlite3, postgres, memory
	DatabaseURL string
	SeedDemo    bool

	// Voice
	VoiceMode             string // google, console
	GoogleCredentialsPath string
	LanguageCode          string
	CaptureFile           string
	SampleRate            int
	SilenceThreshold      float64
	SilenceDuration       time.Duration
	MaxRecordSeconds      int
	ListenTimeout         time.Duration

	// Intent classification
	IntentProvider string // gemini, openai
	GoogleAPIKey   string
	GeminiModel    string
	OpenAIAPIKey   string
	OpenAIModel    string
	SocksProxy     string

	// Pillbox
	PillboxEnabled bool
	SerialPort     string
	BaudRate       int

	// Reminder cycle
	MaxReminders       int
	MaxDelays          int
	DelayWait          time.Duration
	NoResponseGrace    time.Duration
	LedgerRetries      int
	LedgerRetryBackoff time.Duration

	// Scheduler
	SchedulerMode     string // demo, scheduled
	SchedulerInterval time.Duration
	PatientGap        time.Duration
	RoundInterval     time.Duration
	CloseoutInterval  time.Duration
	CloseoutLookback  int // days

	// Alert System
	AlertFeedSize        int
	AlertDeliveryTimeout time.Duration
	EnablePushAlerts     bool
	EnableEmailAlerts    bool

	// Firebase
	FirebaseCredentialsPath string
	CaregiverDeviceTokens   []string

	// Caregiver
	CaregiverName  string
	CaregiverEmail string

	// SMTP Configuration
	SMTPHost      string
	SMTPPort      int
	SMTPUsername  string
	SMTPPassword  string
	SMTPFromName  string
	SMTPFromEmail string
}

// Load reads envFile (if present) and then the process environment.
func Load(envFile string) (*Config, error) {
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil {
		slog.Info("ℹ️ env file not loaded, reading system environment", "file", envFile)
	}

	return &Config{
		// Server
		Port:        getEnvWithDefault("PORT", "8080"),
		Environment: getEnvWithDefault("ENVIRONMENT", "development"),
		LogLevel:    getEnvWithDefault("LOG_LEVEL", "info"),
		AdminToken:  os.Getenv("ADMIN_TOKEN"),

		// Storage
		StoreDriver: getEnvWithDefault("STORE_DRIVER", "sqlite3"),
		DatabaseURL: getEnvWithDefault("DATABASE_URL", "medication_manager.db"),
		SeedDemo:    getEnvBool("SEED_DEMO", true),

		// Voice
		VoiceMode:             getEnvWithDefault("VOICE_MODE", "google"),
		GoogleCredentialsPath: getEnvWithDefault("GOOGLE_APPLICATION_CREDENTIALS", "google_credentials.json"),
		LanguageCode:          getEnvWithDefault("LANGUAGE_CODE", "en-US"),
		CaptureFile:           os.Getenv("CAPTURE_FILE"),
		SampleRate:            getEnvInt("SAMPLE_RATE", 16000),
		SilenceThreshold:      getEnvFloat("SILENCE_THRESHOLD", 0.015),
		SilenceDuration:       getEnvDuration("SILENCE_DURATION", 2*time.Second),
		MaxRecordSeconds:      getEnvInt("MAX_RECORD_SECONDS", 10),
		ListenTimeout:         getEnvDuration("LISTEN_TIMEOUT", 30*time.Second),

		// Intent
		IntentProvider: getEnvWithDefault("INTENT_PROVIDER", "gemini"),
		GoogleAPIKey:   os.Getenv("GOOGLE_API_KEY"),
		GeminiModel:    getEnvWithDefault("GEMINI_MODEL", "gemini-2.5-flash"),
		OpenAIAPIKey:   os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:    getEnvWithDefault("OPENAI_MODEL", "gpt-5-nano"),
		SocksProxy:     os.Getenv("SOCKS_PROXY"),

		// Pillbox
		PillboxEnabled: getEnvBool("PILLBOX_ENABLED", true),
		SerialPort:     getEnvWithDefault("SERIAL_PORT", "/dev/ttyACM0"),
		BaudRate:       getEnvInt("BAUD_RATE", 9600),

		// Reminder cycle
		MaxReminders:       getEnvInt("MAX_REMINDERS", 3),
		MaxDelays:          getEnvInt("MAX_DELAYS", 3),
		DelayWait:          getEnvDuration("DELAY_WAIT", 5*time.Minute),
		NoResponseGrace:    getEnvDuration("NO_RESPONSE_GRACE", 5*time.Second),
		LedgerRetries:      getEnvInt("LEDGER_RETRIES", 3),
		LedgerRetryBackoff: getEnvDuration("LEDGER_RETRY_BACKOFF", 500*time.Millisecond),

		// Scheduler
		SchedulerMode:     getEnvWithDefault("SCHEDULER_MODE", "scheduled"),
		SchedulerInterval: getEnvDuration("SCHEDULER_INTERVAL", 30*time.Second),
		PatientGap:        getEnvDuration("PATIENT_GAP", 3*time.Second),
		RoundInterval:     getEnvDuration("ROUND_INTERVAL", 60*time.Second),
		CloseoutInterval:  getEnvDuration("CLOSEOUT_INTERVAL", time.Hour),
		CloseoutLookback:  getEnvInt("CLOSEOUT_LOOKBACK_DAYS", 7),

		// Alert System
		AlertFeedSize:        getEnvInt("ALERT_FEED_SIZE", 50),
		AlertDeliveryTimeout: getEnvDuration("ALERT_DELIVERY_TIMEOUT", 15*time.Second),
		EnablePushAlerts:     getEnvBool("ENABLE_PUSH_ALERTS", false),
		EnableEmailAlerts:    getEnvBool("ENABLE_EMAIL_ALERTS", false),

		// Firebase
		FirebaseCredentialsPath: os.Getenv("FIREBASE_CREDENTIALS_PATH"),
		CaregiverDeviceTokens:   getEnvList("CAREGIVER_DEVICE_TOKENS"),

		// Caregiver
		CaregiverName:  getEnvWithDefault("CAREGIVER_NAME", "Caregiver"),
		CaregiverEmail: os.Getenv("CAREGIVER_EMAIL"),

		// SMTP
		SMTPHost:      getEnvWithDefault("SMTP_HOST", "smtp.gmail.com"),
		SMTPPort:      getEnvInt("SMTP_PORT", 587),
		SMTPUsername:  os.Getenv("SMTP_USERNAME"),
		SMTPPassword:  os.Getenv("SMTP_PASSWORD"),
		SMTPFromName:  getEnvWithDefault("SMTP_FROM_NAME", "Medication Manager"),
		SMTPFromEmail: os.Getenv("SMTP_FROM_EMAIL"),
	}, nil
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intValue int
		if _, err := fmt.Sscanf(value, "%d", &intValue); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var f float64
		if _, err := fmt.Sscanf(value, "%g", &f); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ConsoleMode switches the device to typed input and printed output with no
// serial pillbox, for running without the Pi hardware.
func (c *Config) ConsoleMode() {
	c.VoiceMode = "console"
	c.PillboxEnabled = false
}

// Validate checks that everything the selected modes need is present.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case "sqlite3", "postgres", "memory":
	default:
		return fmt.Errorf("STORE_DRIVER must be sqlite3, postgres or memory, got %q", c.StoreDriver)
	}
	if c.StoreDriver != "memory" && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	switch c.VoiceMode {
	case "google":
		if c.GoogleCredentialsPath == "" {
			return fmt.Errorf("GOOGLE_APPLICATION_CREDENTIALS is required for VOICE_MODE=google")
		}
	case "console":
	default:
		return fmt.Errorf("VOICE_MODE must be google or console, got %q", c.VoiceMode)
	}

	switch c.IntentProvider {
	case "gemini":
		if c.GoogleAPIKey == "" {
			return fmt.Errorf("GOOGLE_API_KEY is required for INTENT_PROVIDER=gemini")
		}
	case "openai":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required for INTENT_PROVIDER=openai")
		}
	default:
		return fmt.Errorf("INTENT_PROVIDER must be gemini or openai, got %q", c.IntentProvider)
	}

	switch c.SchedulerMode {
	case "demo", "scheduled":
	default:
		return fmt.Errorf("SCHEDULER_MODE must be demo or scheduled, got %q", c.SchedulerMode)
	}

	if c.MaxReminders < 1 || c.MaxDelays < 0 {
		return fmt.Errorf("MAX_REMINDERS must be >= 1 and MAX_DELAYS >= 0")
	}
	if c.DelayWait <= 0 {
		return fmt.Errorf("DELAY_WAIT must be positive")
	}

	if c.EnablePushAlerts && c.FirebaseCredentialsPath == "" {
		slog.Warn("⚠️ push alerts enabled but FIREBASE_CREDENTIALS_PATH not set")
	}
	if c.EnableEmailAlerts && (c.SMTPUsername == "" || c.SMTPPassword == "" || c.CaregiverEmail == "") {
		slog.Warn("⚠️ email alerts enabled but SMTP credentials or CAREGIVER_EMAIL not set")
	}

	return nil
}
