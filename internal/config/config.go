package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all process-level settings. Per-client settings (realm ID,
// refresh token, workbook IDs) live in the master workbook, not here.
type Config struct {
	// Master workbook listing onboarded clients.
	MasterSpreadsheetID string
	MasterTab           string

	// Tab name of the jobs control table inside each client's control workbook.
	ControlTab string

	// Optional path to a Google service-account key file. When empty the
	// sheets client falls back to application default credentials.
	GoogleCredentialsFile string

	// QBO app credentials, shared by all client companies.
	QBOClientID     string
	QBOClientSecret string
	QBOBaseURL      string
	QBOTokenURL     string
	QBOMinorVersion string

	// Number of record write-backs buffered before flushing to the workbook.
	WriteBatchSize int

	// Webhook listener.
	HTTPAddr      string
	WebhookSecret string
	QueueBuffer   int
	Workers       int
}

// Load reads configuration from the environment, loading .env first if
// present. A missing .env is not an error; missing required variables are.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		MasterSpreadsheetID:   os.Getenv("MASTER_SPREADSHEET_ID"),
		MasterTab:             getEnv("MASTER_TAB", "Clients"),
		ControlTab:            getEnv("CONTROL_TAB", "JOBS CONTROL"),
		GoogleCredentialsFile: os.Getenv("GOOGLE_CREDENTIALS_FILE"),
		QBOClientID:           os.Getenv("QBO_CLIENT_ID"),
		QBOClientSecret:       os.Getenv("QBO_CLIENT_SECRET"),
		QBOBaseURL:            getEnv("QBO_BASE_URL", "https://quickbooks.api.intuit.com"),
		QBOTokenURL:           getEnv("QBO_TOKEN_URL", "https://oauth.platform.intuit.com/oauth2/v1/tokens/bearer"),
		QBOMinorVersion:       getEnv("QBO_MINOR_VERSION", "75"),
		WriteBatchSize:        getEnvInt("WRITE_BATCH_SIZE", 50),
		HTTPAddr:              getEnv("HTTP_ADDR", ":8080"),
		WebhookSecret:         os.Getenv("WEBHOOK_SECRET"),
		QueueBuffer:           getEnvInt("QUEUE_BUFFER", 100),
		Workers:               getEnvInt("WORKERS", 3),
	}

	if cfg.MasterSpreadsheetID == "" {
		return Config{}, fmt.Errorf("config: MASTER_SPREADSHEET_ID is required")
	}
	if cfg.QBOClientID == "" || cfg.QBOClientSecret == "" {
		return Config{}, fmt.Errorf("config: QBO_CLIENT_ID and QBO_CLIENT_SECRET are required")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return defaultValue
	}
	return n
}
