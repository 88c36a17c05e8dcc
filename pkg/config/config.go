// Package config loads the krc20bot configuration from a YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/illmade-knight/go-krc20bot/pkg/microservice"
	"gopkg.in/yaml.v3"
)

// Env names that override file values.
const (
	EnvPort                = "PORT"
	EnvLogLevel            = "LOG_LEVEL"
	EnvAPIBaseURL          = "API_BASE_URL"
	EnvCacheBackend        = "CACHE_BACKEND"
	EnvCacheDir            = "CACHE_DIR"
	EnvRedisAddr           = "REDIS_ADDR"
	EnvRedisPassword       = "REDIS_PASSWORD"
	EnvProjectID           = "GCP_PROJECT_ID"
	EnvTransport           = "TRANSPORT"
	EnvPubsubSubscription  = "PUBSUB_COMMAND_SUBSCRIPTION"
	EnvPubsubReplyTopic    = "PUBSUB_REPLY_TOPIC"
	EnvMQTTBrokerURL       = "MQTT_BROKER_URL"
	EnvMQTTUsername        = "MQTT_USERNAME"
	EnvMQTTPassword        = "MQTT_PASSWORD"
	EnvDispatcherWorkers   = "DISPATCHER_WORKERS"
	EnvStatusTTLSeconds    = "STATUS_TTL_SECONDS"
	EnvHolderTTLSeconds    = "HOLDER_TTL_SECONDS"
	EnvTracingExporter     = "TRACING_EXPORTER"
	EnvFirestoreCollection = "FIRESTORE_COLLECTION"
	EnvGCSBucket           = "GCS_BUCKET"
)

// Cache backends.
const (
	BackendFile      = "file"
	BackendMemory    = "memory"
	BackendRistretto = "ristretto"
	BackendRedis     = "redis"
	BackendFirestore = "firestore"
	BackendGCS       = "gcs"
)

// Command transports.
const (
	TransportPubsub = "pubsub"
	TransportMQTT   = "mqtt"
)

// Config is the complete service configuration. It is read once at start.
type Config struct {
	microservice.BaseConfig `yaml:",inline"`

	API        APIConfig         `yaml:"api"`
	TTL        TTLConfig         `yaml:"ttl"`
	Cache      CacheConfig       `yaml:"cache"`
	Transport  TransportConfig   `yaml:"transport"`
	Dispatcher DispatcherConfig  `yaml:"dispatcher"`
	Tracing    TracingConfig     `yaml:"tracing"`
	Content    map[string]string `yaml:"content"`
}

type APIConfig struct {
	BaseURL           string        `yaml:"base_url"`
	Timeout           time.Duration `yaml:"timeout"`
	RetryMax          int           `yaml:"retry_max"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	UserAgent         string        `yaml:"user_agent"`
}

type TTLConfig struct {
	Status time.Duration `yaml:"status"`
	Holder time.Duration `yaml:"holder"`
}

type CacheConfig struct {
	Backend      string        `yaml:"backend"`
	Dir          string        `yaml:"dir"`
	MaxEntries   int           `yaml:"max_entries"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`

	Ristretto RistrettoConfig `yaml:"ristretto"`
	Redis     RedisConfig     `yaml:"redis"`
	Firestore FirestoreConfig `yaml:"firestore"`
	GCS       GCSConfig       `yaml:"gcs"`
}

type RistrettoConfig struct {
	// Retention expires records from memory. Zero keeps them until evicted.
	Retention time.Duration `yaml:"retention"`
}

type RedisConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	KeyPrefix string        `yaml:"key_prefix"`
	Retention time.Duration `yaml:"retention"`
}

type FirestoreConfig struct {
	Collection string `yaml:"collection"`
}

type GCSConfig struct {
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
}

type TransportConfig struct {
	Kind   string       `yaml:"kind"`
	Pubsub PubsubConfig `yaml:"pubsub"`
	MQTT   MQTTConfig   `yaml:"mqtt"`
}

type PubsubConfig struct {
	CommandSubscription    string `yaml:"command_subscription"`
	ReplyTopic             string `yaml:"reply_topic"`
	MaxOutstandingMessages int    `yaml:"max_outstanding_messages"`
	NumGoroutines          int    `yaml:"num_goroutines"`
}

type MQTTConfig struct {
	BrokerURL      string `yaml:"broker_url"`
	CommandTopic   string `yaml:"command_topic"`
	ReplyTopic     string `yaml:"reply_topic"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	ClientIDPrefix string `yaml:"client_id_prefix"`
	CACertFile     string `yaml:"ca_cert_file"`
}

type DispatcherConfig struct {
	Workers       int           `yaml:"workers"`
	HandleTimeout time.Duration `yaml:"handle_timeout"`
}

type TracingConfig struct {
	// Exporter is "none" or "stdout".
	Exporter string `yaml:"exporter"`
}

// Default returns a configuration that runs locally against the Kasplex
// testnet with a file cache.
func Default() *Config {
	return &Config{
		BaseConfig: microservice.BaseConfig{
			LogLevel:    "info",
			LogFormat:   "json",
			HTTPPort:    ":8080",
			ServiceName: "krc20bot",
		},
		API: APIConfig{
			BaseURL:           "https://tn11api.kasplex.org/v1/krc20",
			Timeout:           10 * time.Second,
			RetryMax:          2,
			RequestsPerSecond: 5,
			Burst:             5,
			UserAgent:         "krc20bot/1.0",
		},
		TTL: TTLConfig{
			Status: 300 * time.Second,
			Holder: 600 * time.Second,
		},
		Cache: CacheConfig{
			Backend:      BackendFile,
			Dir:          "data_storage",
			MaxEntries:   10000,
			FetchTimeout: 15 * time.Second,
			WriteTimeout: 5 * time.Second,
			Redis:        RedisConfig{Addr: "localhost:6379", KeyPrefix: "krc20bot:"},
			Firestore:    FirestoreConfig{Collection: "krc20bot-cache"},
		},
		Transport: TransportConfig{
			Kind: TransportPubsub,
			Pubsub: PubsubConfig{
				CommandSubscription:    "krc20bot-commands",
				ReplyTopic:             "krc20bot-replies",
				MaxOutstandingMessages: 100,
				NumGoroutines:          5,
			},
			MQTT: MQTTConfig{
				CommandTopic:   "krc20bot/commands",
				ReplyTopic:     "krc20bot/replies",
				ClientIDPrefix: "krc20bot-",
			},
		},
		Dispatcher: DispatcherConfig{
			Workers:       5,
			HandleTimeout: 30 * time.Second,
		},
		Tracing: TracingConfig{Exporter: "none"},
		Content: map[string]string{},
	}
}

// Load reads path (if not empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString := func(name string, dst *string) {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			*dst = v
		}
	}
	setSeconds := func(name string, dst *time.Duration) error {
		v, ok := os.LookupEnv(name)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, v, err)
		}
		*dst = time.Duration(n) * time.Second
		return nil
	}

	if port, ok := os.LookupEnv(EnvPort); ok && port != "" {
		c.HTTPPort = ":" + port
	}
	setString(EnvLogLevel, &c.LogLevel)
	setString(EnvAPIBaseURL, &c.API.BaseURL)
	setString(EnvCacheBackend, &c.Cache.Backend)
	setString(EnvCacheDir, &c.Cache.Dir)
	setString(EnvRedisAddr, &c.Cache.Redis.Addr)
	setString(EnvRedisPassword, &c.Cache.Redis.Password)
	setString(EnvProjectID, &c.ProjectID)
	setString(EnvFirestoreCollection, &c.Cache.Firestore.Collection)
	setString(EnvGCSBucket, &c.Cache.GCS.Bucket)
	setString(EnvTransport, &c.Transport.Kind)
	setString(EnvPubsubSubscription, &c.Transport.Pubsub.CommandSubscription)
	setString(EnvPubsubReplyTopic, &c.Transport.Pubsub.ReplyTopic)
	setString(EnvMQTTBrokerURL, &c.Transport.MQTT.BrokerURL)
	setString(EnvMQTTUsername, &c.Transport.MQTT.Username)
	setString(EnvMQTTPassword, &c.Transport.MQTT.Password)
	setString(EnvTracingExporter, &c.Tracing.Exporter)

	if v, ok := os.LookupEnv(EnvDispatcherWorkers); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", EnvDispatcherWorkers, v, err)
		}
		c.Dispatcher.Workers = n
	}
	if err := setSeconds(EnvStatusTTLSeconds, &c.TTL.Status); err != nil {
		return err
	}
	return setSeconds(EnvHolderTTLSeconds, &c.TTL.Holder)
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return errors.New("api.base_url is required")
	}
	if c.TTL.Status <= 0 || c.TTL.Holder <= 0 {
		return errors.New("ttl.status and ttl.holder must be positive")
	}
	if c.HTTPPort == "" {
		return errors.New("http_port is required")
	}

	switch c.Cache.Backend {
	case BackendFile:
		if c.Cache.Dir == "" {
			return errors.New("cache.dir is required for the file backend")
		}
	case BackendMemory:
	case BackendRistretto:
		if c.Cache.MaxEntries <= 0 {
			return errors.New("cache.max_entries must be positive for the ristretto backend")
		}
		if c.Cache.Ristretto.Retention < 0 {
			return errors.New("cache.ristretto.retention cannot be negative")
		}
	case BackendRedis:
		if c.Cache.Redis.Addr == "" {
			return errors.New("cache.redis.addr is required for the redis backend")
		}
	case BackendFirestore:
		if c.ProjectID == "" || c.Cache.Firestore.Collection == "" {
			return errors.New("project_id and cache.firestore.collection are required for the firestore backend")
		}
	case BackendGCS:
		if c.Cache.GCS.Bucket == "" {
			return errors.New("cache.gcs.bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("unknown cache backend '%s'", c.Cache.Backend)
	}

	switch c.Transport.Kind {
	case TransportPubsub:
		if c.ProjectID == "" {
			return errors.New("project_id is required for the pubsub transport")
		}
		if c.Transport.Pubsub.CommandSubscription == "" || c.Transport.Pubsub.ReplyTopic == "" {
			return errors.New("transport.pubsub.command_subscription and reply_topic are required")
		}
	case TransportMQTT:
		m := c.Transport.MQTT
		if m.BrokerURL == "" || m.CommandTopic == "" || m.ReplyTopic == "" {
			return errors.New("transport.mqtt.broker_url, command_topic and reply_topic are required")
		}
	default:
		return fmt.Errorf("unknown transport '%s'", c.Transport.Kind)
	}

	switch c.Tracing.Exporter {
	case "", "none", "stdout":
	default:
		return fmt.Errorf("unknown tracing exporter '%s'", c.Tracing.Exporter)
	}
	return nil
}
