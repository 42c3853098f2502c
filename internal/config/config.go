package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	// Database
	DatabaseURL string
	StoreDriver string // gorm | mongo

	// MongoDB
	MongoURI        string
	MongoDatabase   string
	MongoCollection string

	// Redis
	RedisURL string

	// Kafka
	KafkaBrokers       string
	KafkaEventsTopic   string
	KafkaCommandsTopic string
	KafkaGroupID       string

	// API Configuration
	APIPort     string
	APIHost     string
	CORSOrigins []string

	Shopify  ShopifyConfig
	Ingest   IngestConfig
	Images   ImagesConfig
	AutoSync AutoSyncConfig

	MetricsEnabled bool

	// Environment
	Env      string
	LogLevel string
}

type ShopifyConfig struct {
	ShopDomain    string
	AccessToken   string
	APIVersion    string
	WebhookSecret string
	Vendor        string
	SyncDelay     time.Duration
}

type IngestConfig struct {
	SourcePath string
	LockTTL    time.Duration
}

type ImagesConfig struct {
	// Root is a local directory, or s3://bucket/prefix.
	Root        string
	URLPrefix   string
	Extensions  []string
	FrontPolicy string
	BackPolicy  string
	UploadDir   string
	S3Region    string
}

type AutoSyncConfig struct {
	Enabled  bool
	Interval time.Duration
	Watch    bool
}

func Load() (*Config, error) {
	// Load .env file
	godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v)

	return &Config{
		DatabaseURL:        v.GetString("DATABASE_URL"),
		StoreDriver:        v.GetString("STORE_DRIVER"),
		MongoURI:           v.GetString("MONGO_URI"),
		MongoDatabase:      v.GetString("MONGO_DATABASE"),
		MongoCollection:    v.GetString("MONGO_COLLECTION"),
		RedisURL:           getEnv("REDIS_URL", ""),
		KafkaBrokers:       getEnv("KAFKA_BROKERS", ""),
		KafkaEventsTopic:   v.GetString("KAFKA_EVENTS_TOPIC"),
		KafkaCommandsTopic: v.GetString("KAFKA_COMMANDS_TOPIC"),
		KafkaGroupID:       v.GetString("KAFKA_GROUP_ID"),
		APIPort:            v.GetString("API_PORT"),
		APIHost:            v.GetString("API_HOST"),
		CORSOrigins:        splitList(v.GetString("CORS_ORIGINS")),
		Shopify: ShopifyConfig{
			ShopDomain:    getEnv("SHOPIFY_SHOP_DOMAIN", ""),
			AccessToken:   getEnv("SHOPIFY_ACCESS_TOKEN", ""),
			APIVersion:    v.GetString("SHOPIFY_API_VERSION"),
			WebhookSecret: getEnv("SHOPIFY_WEBHOOK_SECRET", ""),
			Vendor:        v.GetString("SHOPIFY_VENDOR"),
			SyncDelay:     v.GetDuration("SHOPIFY_SYNC_DELAY"),
		},
		Ingest: IngestConfig{
			SourcePath: v.GetString("INGEST_SOURCE_PATH"),
			LockTTL:    v.GetDuration("INGEST_LOCK_TTL"),
		},
		Images: ImagesConfig{
			Root:        v.GetString("IMAGES_ROOT"),
			URLPrefix:   v.GetString("IMAGES_URL_PREFIX"),
			Extensions:  splitList(v.GetString("IMAGES_EXTENSIONS")),
			FrontPolicy: v.GetString("IMAGES_FRONT_POLICY"),
			BackPolicy:  v.GetString("IMAGES_BACK_POLICY"),
			UploadDir:   v.GetString("IMAGES_UPLOAD_DIR"),
			S3Region:    getEnv("AWS_REGION", ""),
		},
		AutoSync: AutoSyncConfig{
			Enabled:  getEnvAsBool("AUTOSYNC_ENABLED", false),
			Interval: v.GetDuration("AUTOSYNC_INTERVAL"),
			Watch:    getEnvAsBool("AUTOSYNC_WATCH", false),
		},
		MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
		Env:            v.GetString("ENV"),
		LogLevel:       v.GetString("LOG_LEVEL"),
	}, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("DATABASE_URL", "sqlite://catalog.db")
	v.SetDefault("STORE_DRIVER", "gorm")
	v.SetDefault("MONGO_URI", "mongodb://localhost:27017")
	v.SetDefault("MONGO_DATABASE", "catalog")
	v.SetDefault("MONGO_COLLECTION", "products")
	v.SetDefault("KAFKA_EVENTS_TOPIC", "catalog-events")
	v.SetDefault("KAFKA_COMMANDS_TOPIC", "catalog-commands")
	v.SetDefault("KAFKA_GROUP_ID", "catalogsync-worker")
	v.SetDefault("API_PORT", "8080")
	v.SetDefault("API_HOST", "0.0.0.0")
	v.SetDefault("CORS_ORIGINS", "*")
	v.SetDefault("SHOPIFY_API_VERSION", "2023-10")
	v.SetDefault("SHOPIFY_VENDOR", "OG")
	v.SetDefault("SHOPIFY_SYNC_DELAY", "500ms")
	v.SetDefault("INGEST_SOURCE_PATH", "out/ai_products.ndjson")
	v.SetDefault("INGEST_LOCK_TTL", "10m")
	v.SetDefault("IMAGES_ROOT", "public/uploads")
	v.SetDefault("IMAGES_URL_PREFIX", "/uploads")
	v.SetDefault("IMAGES_EXTENSIONS", ".jpg,.jpeg")
	v.SetDefault("IMAGES_FRONT_POLICY", "replace")
	v.SetDefault("IMAGES_BACK_POLICY", "append")
	v.SetDefault("IMAGES_UPLOAD_DIR", "public/uploads/products")
	v.SetDefault("AUTOSYNC_INTERVAL", "5m")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
}

// ShopifyConfigured reports whether admin API credentials are present.
func (c *Config) ShopifyConfigured() bool {
	return c.Shopify.ShopDomain != "" && c.Shopify.AccessToken != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
