package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/busdash/bus-dashboard-service/internal/models"
)

// Config holds all configuration for the application
type Config struct {
	Storage  StorageConfig
	Scrape   ScrapeConfig
	Server   ServerConfig
	Schedule ScheduleConfig
}

// StorageConfig holds storage-related configuration
type StorageConfig struct {
	Type        string // "memory", "dynamodb", "mongodb", "postgresql"
	Region      string // For AWS DynamoDB
	TableName   string
	Endpoint    string // Custom endpoint for local testing
	MongoDBURI  string
	PostgresURI string
	Database    string
}

// ScrapeConfig holds everything the fetch pipeline needs: the destination
// set, browser timeouts, retry policy and the deployment-specific selectors.
type ScrapeConfig struct {
	Destinations      []models.Destination
	UserAgent         string
	RetryCount        int
	RetryDelay        time.Duration
	NavigationTimeout time.Duration
	WaitTimeout       time.Duration
	SettleDelay       time.Duration
	ContainerSelector string
	EntrySelector     string
	BusNumberSelector string
	StopSelector      string
	DepartureSelector string
	ArrivalSelector   string
	RemainingSelector string
	MinutesUnitMarker string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int
}

// ScheduleConfig holds the two fetch cadences as cron expressions.
type ScheduleConfig struct {
	DaytimeSpec   string
	NighttimeSpec string
}

// destinationsFile is the YAML shape of an external destinations file.
type destinationsFile struct {
	Destinations []models.Destination `yaml:"destinations" validate:"required,min=1,dive"`
}

// defaultDestinations covers the current deployment: four terminals reachable
// from the monitored stop.
func defaultDestinations() []models.Destination {
	return []models.Destination{
		{Name: "三鷹駅", URL: "https://transfer.odakyubus.co.jp/blsys/navi?dest=mitaka"},
		{Name: "吉祥寺駅", URL: "https://transfer.odakyubus.co.jp/blsys/navi?dest=kichijoji"},
		{Name: "武蔵境駅南口", URL: "https://transfer.odakyubus.co.jp/blsys/navi?dest=musashisakai-south"},
		{Name: "調布駅北口", URL: "https://transfer.odakyubus.co.jp/blsys/navi?dest=chofu-north"},
	}
}

// Load loads configuration from environment variables with defaults. When
// DESTINATIONS_FILE is set, the destination set is read from that YAML file
// instead of the built-in defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Storage: StorageConfig{
			Type:        getEnv("STORAGE_TYPE", "memory"),
			Region:      getEnv("AWS_REGION", "us-west-2"),
			TableName:   getEnv("TABLE_NAME", "bus_records"),
			Endpoint:    getEnv("DYNAMODB_ENDPOINT", ""), // For local DynamoDB
			MongoDBURI:  getEnv("MONGODB_URI", ""),
			PostgresURI: getEnv("POSTGRES_URI", ""),
			Database:    getEnv("DATABASE_NAME", "bus_dashboard"),
		},
		Scrape: ScrapeConfig{
			Destinations:      defaultDestinations(),
			UserAgent:         getEnv("SCRAPE_USER_AGENT", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"),
			RetryCount:        getEnvInt("RETRY_COUNT", 3),
			RetryDelay:        getEnvDuration("RETRY_DELAY", 2*time.Second),
			NavigationTimeout: getEnvDuration("NAVIGATION_TIMEOUT", 30*time.Second),
			WaitTimeout:       getEnvDuration("ELEMENT_WAIT_TIMEOUT", 20*time.Second),
			SettleDelay:       getEnvDuration("SETTLE_DELAY", 3*time.Second),
			ContainerSelector: getEnv("CONTAINER_SELECTOR", ".bus-results"),
			EntrySelector:     getEnv("ENTRY_SELECTOR", ".bus-entry"),
			BusNumberSelector: getEnv("BUS_NUMBER_SELECTOR", ".bus-number"),
			StopSelector:      getEnv("STOP_SELECTOR", ".stop-number"),
			DepartureSelector: getEnv("DEPARTURE_SELECTOR", ".scheduled-departure"),
			ArrivalSelector:   getEnv("ARRIVAL_SELECTOR", ".scheduled-arrival"),
			RemainingSelector: getEnv("REMAINING_SELECTOR", ".remaining-time"),
			MinutesUnitMarker: getEnv("MINUTES_UNIT_MARKER", "分"),
		},
		Server: ServerConfig{
			Port: getEnvInt("SERVER_PORT", 8080),
		},
		Schedule: ScheduleConfig{
			DaytimeSpec:   getEnv("DAYTIME_CRON", "*/5 6-23 * * *"),
			NighttimeSpec: getEnv("NIGHTTIME_CRON", "*/15 0-5 * * *"),
		},
	}

	if path := os.Getenv("DESTINATIONS_FILE"); path != "" {
		destinations, err := loadDestinations(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load destinations from %s: %w", path, err)
		}
		cfg.Scrape.Destinations = destinations
	}

	return cfg, nil
}

func loadDestinations(path string) ([]models.Destination, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file destinationsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}

	if err := validator.New().Struct(file); err != nil {
		return nil, err
	}

	return file.Destinations, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
