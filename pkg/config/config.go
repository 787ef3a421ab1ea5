package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Operating configuration broadcast to the sensing nodes
	Operating Operating

	// MQTT Configuration
	MQTTBroker      string `validate:"required"`
	MQTTClientID    string `validate:"required"`
	MQTTUsername    string
	MQTTPassword    string
	MQTTTopicPrefix string `validate:"required"`
	MQTTQoS         int    `validate:"min=0,max=2"`

	// Listener Configuration
	BindAddress string
	CoAPPort    int    `validate:"min=1,max=65535"`
	HTTPPort    int    `validate:"min=1,max=65535"`
	DataPath    string `validate:"required"`

	// Store Configuration
	Store Store

	// Forecast Configuration
	ModelDir        string        `validate:"required"`
	ForecastHorizon int           `validate:"min=1"`
	ForecastStep    time.Duration `validate:"min=1s"`
	ForecastSpace   string        `validate:"oneof=log1p none"`
	ModelPolicy     string        `validate:"oneof=skip-field fail-request"`

	// Ingestion Configuration
	StrictIngest bool
	Workers      int `validate:"min=1"`
	QueueSize    int `validate:"min=1"`

	// Metrics endpoint, empty disables it
	MetricsAddr string
}

// Store holds the time-series store connection settings
type Store struct {
	Backend      string `validate:"oneof=influx clickhouse kafka"`
	CredsFile    string
	WriteTimeout time.Duration `validate:"min=1ms"`

	// Circuit breaker around the store
	BreakerFailures uint32        `validate:"min=1"`
	BreakerCooldown time.Duration `validate:"min=1s"`

	// InfluxDB
	InfluxHost   string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string

	// ClickHouse
	ClickHouseAddr string
	ClickHouseDB   string
	ClickHouseUser string
	ClickHousePass string

	// Kafka
	KafkaBrokers []string
	KafkaTopic   string
}

// Default returns the configuration used when nothing is set in the environment
func Default() *Config {
	return &Config{
		Operating: DefaultOperating(),

		MQTTBroker:      "tcp://localhost:1883",
		MQTTClientID:    "DataProxy",
		MQTTTopicPrefix: "config/",
		MQTTQoS:         1,

		BindAddress: "0.0.0.0",
		CoAPPort:    5683,
		HTTPPort:    8080,
		DataPath:    "sensors",

		Store: Store{
			Backend:         "influx",
			CredsFile:       "influx_config.yaml",
			WriteTimeout:    5 * time.Second,
			BreakerFailures: 5,
			BreakerCooldown: 30 * time.Second,
			ClickHouseAddr:  "localhost:9000",
			ClickHouseDB:    "iot",
			ClickHouseUser:  "default",
			KafkaBrokers:    []string{"localhost:9092"},
			KafkaTopic:      "sensor-telemetry",
		},

		ModelDir:        "forecasting_models",
		ForecastHorizon: 288,
		ForecastStep:    5 * time.Minute,
		ForecastSpace:   "log1p",
		ModelPolicy:     "skip-field",

		Workers:   8,
		QueueSize: 256,

		MetricsAddr: ":9100",
	}
}

// Load reads the process configuration from the environment (.env included)
// and the store credentials file, then corrects invalid values.
func Load(op Operating) *Config {
	// Load .env file if it exists
	_ = godotenv.Load()

	def := Default()
	cfg := &Config{
		Operating: op,

		// MQTT Configuration
		MQTTBroker:      getEnv("MQTT_BROKER", def.MQTTBroker),
		MQTTClientID:    getEnv("MQTT_CLIENT_ID", def.MQTTClientID),
		MQTTUsername:    getEnv("MQTT_USERNAME", ""),
		MQTTPassword:    getEnv("MQTT_PASSWORD", ""),
		MQTTTopicPrefix: getEnv("MQTT_TOPIC_PREFIX", def.MQTTTopicPrefix),
		MQTTQoS:         getEnvInt("MQTT_QOS", def.MQTTQoS),

		// Listener Configuration
		BindAddress: getEnv("BIND_ADDRESS", def.BindAddress),
		CoAPPort:    getEnvInt("COAP_PORT", def.CoAPPort),
		HTTPPort:    getEnvInt("HTTP_PORT", def.HTTPPort),
		DataPath:    getEnv("DATA_PATH", def.DataPath),

		// Forecast Configuration
		ModelDir:        getEnv("MODEL_DIR", def.ModelDir),
		ForecastHorizon: getEnvInt("FORECAST_HORIZON", def.ForecastHorizon),
		ForecastStep:    getEnvDuration("FORECAST_STEP", def.ForecastStep),
		ForecastSpace:   getEnv("FORECAST_SPACE", def.ForecastSpace),
		ModelPolicy:     getEnv("FORECAST_MODEL_POLICY", def.ModelPolicy),

		// Ingestion Configuration
		StrictIngest: getEnvBool("INGEST_STRICT", false),
		Workers:      getEnvInt("INGEST_WORKERS", def.Workers),
		QueueSize:    getEnvInt("INGEST_QUEUE_SIZE", def.QueueSize),

		MetricsAddr: getEnv("METRICS_ADDR", def.MetricsAddr),
	}

	cfg.Store = def.Store
	cfg.Store.CredsFile = getEnv("STORE_CREDENTIALS_FILE", def.Store.CredsFile)
	if err := loadStoreFile(cfg.Store.CredsFile, &cfg.Store); err != nil {
		log.Printf("Config: %v", err)
	}
	cfg.Store.Backend = getEnv("STORE_BACKEND", def.Store.Backend)
	cfg.Store.WriteTimeout = getEnvDuration("STORE_WRITE_TIMEOUT", def.Store.WriteTimeout)
	cfg.Store.BreakerFailures = uint32(getEnvInt("STORE_BREAKER_FAILURES", int(def.Store.BreakerFailures)))
	cfg.Store.BreakerCooldown = getEnvDuration("STORE_BREAKER_COOLDOWN", def.Store.BreakerCooldown)
	cfg.Store.InfluxHost = getEnv("IDB_HOST", cfg.Store.InfluxHost)
	cfg.Store.InfluxToken = getEnv("IDB_TOKEN", cfg.Store.InfluxToken)
	cfg.Store.InfluxOrg = getEnv("IDB_ORG", cfg.Store.InfluxOrg)
	cfg.Store.InfluxBucket = getEnv("IDB_BUCKET", cfg.Store.InfluxBucket)
	cfg.Store.ClickHouseAddr = getEnv("CLICKHOUSE_ADDR", def.Store.ClickHouseAddr)
	cfg.Store.ClickHouseDB = getEnv("CLICKHOUSE_DB", def.Store.ClickHouseDB)
	cfg.Store.ClickHouseUser = getEnv("CLICKHOUSE_USER", def.Store.ClickHouseUser)
	cfg.Store.ClickHousePass = getEnv("CLICKHOUSE_PASS", "")
	cfg.Store.KafkaBrokers = getEnvList("KAFKA_BROKERS", def.Store.KafkaBrokers)
	cfg.Store.KafkaTopic = getEnv("KAFKA_TOPIC", def.Store.KafkaTopic)

	cfg.Normalize()
	return cfg
}

// ListenAddr returns the address the active protocol listener binds to
func (c *Config) ListenAddr() string {
	port := c.CoAPPort
	if c.Operating.Protocol == ProtocolHTTP {
		port = c.HTTPPort
	}
	return c.BindAddress + ":" + strconv.Itoa(port)
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("Warning: failed to parse %s as int, using default: %v", key, err)
		return defaultValue
	}
	return intValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	boolValue, err := strconv.ParseBool(value)
	if err != nil {
		log.Printf("Warning: failed to parse %s as bool, using default: %v", key, err)
		return defaultValue
	}
	return boolValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("Warning: failed to parse %s as duration, using default: %v", key, err)
		return defaultValue
	}
	return d
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(value, ",") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
