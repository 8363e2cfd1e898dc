package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the service configuration.
type Config struct {
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"logLevel"`
	Server      struct {
		Port         int           `mapstructure:"port"`
		ReadTimeout  time.Duration `mapstructure:"readTimeout"`
		WriteTimeout time.Duration `mapstructure:"writeTimeout"`
	} `mapstructure:"server"`
	NATS struct {
		URL            string             `mapstructure:"url"`
		Messages       ConsumerNatsConfig `mapstructure:"messages"`
		OutboundStream string             `mapstructure:"outboundStream"`
		// Base subjects for outbound system messages and admin notifications; company id is appended.
		OutboundSubject     string `mapstructure:"outboundSubject"`
		NotificationSubject string `mapstructure:"notificationSubject"`
	} `mapstructure:"nats"`
	Database struct {
		PostgresDSN         string `mapstructure:"postgresDSN"`
		PostgresAutoMigrate bool   `mapstructure:"postgresAutoMigrate"`
	} `mapstructure:"database"`
	Redis struct {
		Enabled  bool   `mapstructure:"enabled"`
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
		Prefix   string `mapstructure:"prefix"`
	} `mapstructure:"redis"`
	Company struct {
		ID string `mapstructure:"id"`
	} `mapstructure:"company"`
	AI      AIConfig      `mapstructure:"ai"`
	CRM     CRMConfig     `mapstructure:"crm"`
	SMTP    SMTPConfig    `mapstructure:"smtp"`
	Engine  EngineConfig  `mapstructure:"engine"`
	Webhook WebhookConfig `mapstructure:"webhook"`
	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
	} `mapstructure:"metrics"`
	WorkerPools struct {
		Scheduler WorkerPoolConfig `mapstructure:"scheduler"`
	} `mapstructure:"workerPools"`
}

// AIConfig configures the OpenAI-compatible collaborator.
type AIConfig struct {
	APIKey      string        `mapstructure:"apiKey"`
	BaseURL     string        `mapstructure:"baseURL"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// CRMConfig lists the CRM providers reachable through the REST adapter.
type CRMConfig struct {
	Timeout   time.Duration                `mapstructure:"timeout"`
	Providers map[string]CRMProviderConfig `mapstructure:"providers"`
}

// CRMProviderConfig holds connection data for a single CRM provider.
type CRMProviderConfig struct {
	BaseURL string `mapstructure:"baseURL"`
	Token   string `mapstructure:"token"`
}

// SMTPConfig configures outgoing email.
type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

// EngineConfig holds the execution-engine tunables.
type EngineConfig struct {
	HistoryWindow       int           `mapstructure:"historyWindow"`       // Number of recent turns sent to extraction
	IntentThreshold     float64       `mapstructure:"intentThreshold"`     // Default confidence threshold for intent/sentiment triggers
	ActionHTTPTimeout   time.Duration `mapstructure:"actionHTTPTimeout"`   // Timeout for outbound webhook actions
	ScheduleTick        time.Duration `mapstructure:"scheduleTick"`        // How often due schedules are checked
	DeliveryDedupWindow time.Duration `mapstructure:"deliveryDedupWindow"` // TTL for outbound message dedup keys
}

// WebhookConfig holds inbound webhook defaults.
type WebhookConfig struct {
	CacheSize         int           `mapstructure:"cacheSize"`
	CacheTTL          time.Duration `mapstructure:"cacheTTL"`
	RateLimit         int           `mapstructure:"rateLimit"`
	RateWindowSeconds int           `mapstructure:"rateWindowSeconds"`
	MaxBodyBytes      int64         `mapstructure:"maxBodyBytes"`
}

// WorkerPoolConfig sizes an ants pool. QueueSize caps blocked submitters.
type WorkerPoolConfig struct {
	PoolSize   int           `mapstructure:"poolSize"`
	QueueSize  int           `mapstructure:"queueSize"`
	MaxBlock   time.Duration `mapstructure:"maxBlock"`
	ExpiryTime time.Duration `mapstructure:"expiryTime"`
}

// ConsumerNatsConfig describes a JetStream stream and its push consumer.
// Consumer and group names get the company id appended per tenant.
type ConsumerNatsConfig struct {
	MaxAge       int64         `mapstructure:"maxAge"` // days
	Stream       string        `mapstructure:"stream"`
	Consumer     string        `mapstructure:"consumer"`
	QueueGroup   string        `mapstructure:"group"`
	SubjectList  []string      `mapstructure:"subjectList"`
	MaxDeliver   int           `mapstructure:"maxDeliver"`
	NakBaseDelay time.Duration `mapstructure:"nakBaseDelay"`
	NakMaxDelay  time.Duration `mapstructure:"nakMaxDelay"`
}

// envAliases are the short variable names deployments set, next to the
// automatic DATABASE_POSTGRESDSN style bindings.
var envAliases = map[string]string{
	"POSTGRES_DSN":   "database.postgresDSN",
	"LOG_LEVEL":      "logLevel",
	"NATS_URL":       "nats.url",
	"REDIS_ADDR":     "redis.addr",
	"OPENAI_API_KEY": "ai.apiKey",
	"COMPANY_ID":     "company.id",
}

// LoadConfig layers defaults, an optional default.yaml found under path or
// the usual locations, and environment variables.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("environment", "development")
	v.SetDefault("logLevel", "info")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 15*time.Second)
	v.SetDefault("server.writeTimeout", 60*time.Second)
	v.SetDefault("metrics.enabled", true)

	v.SetDefault("nats.messages.stream", "conversation_messages")
	v.SetDefault("nats.messages.consumer", "function_engine_")
	v.SetDefault("nats.messages.group", "function_engine_")
	v.SetDefault("nats.messages.subjectList", []string{"v1.conversations.message", "v1.functions.changed"})
	v.SetDefault("nats.messages.maxAge", 7)
	v.SetDefault("nats.messages.maxDeliver", 5)
	v.SetDefault("nats.messages.nakBaseDelay", time.Second)
	v.SetDefault("nats.messages.nakMaxDelay", time.Minute)
	v.SetDefault("nats.outboundStream", "function_engine_outbound")
	v.SetDefault("nats.outboundSubject", "v1.conversations.outbound")
	v.SetDefault("nats.notificationSubject", "v1.notifications.admin")

	v.SetDefault("redis.prefix", "fnengine:")

	v.SetDefault("ai.model", "gpt-4o-mini")
	v.SetDefault("ai.temperature", 0.1)
	v.SetDefault("ai.timeout", 30*time.Second)

	v.SetDefault("crm.timeout", 20*time.Second)
	v.SetDefault("smtp.port", 587)

	v.SetDefault("engine.historyWindow", 10)
	v.SetDefault("engine.intentThreshold", 0.7)
	v.SetDefault("engine.actionHTTPTimeout", 10*time.Second)
	v.SetDefault("engine.scheduleTick", time.Minute)
	v.SetDefault("engine.deliveryDedupWindow", 24*time.Hour)

	v.SetDefault("webhook.cacheSize", 1024)
	v.SetDefault("webhook.cacheTTL", 5*time.Minute)
	v.SetDefault("webhook.rateLimit", 60)
	v.SetDefault("webhook.rateWindowSeconds", 60)
	v.SetDefault("webhook.maxBodyBytes", 1<<20)

	v.SetDefault("workerPools.scheduler.poolSize", 10)
	v.SetDefault("workerPools.scheduler.queueSize", 1000)
	v.SetDefault("workerPools.scheduler.maxBlock", time.Second)
	v.SetDefault("workerPools.scheduler.expiryTime", time.Minute)

	v.SetConfigName("default")
	v.SetConfigType("yaml")

	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("./internal/config")
	v.AddConfigPath("$HOME/.daisi-function-engine")
	v.AddConfigPath("/etc/daisi-function-engine")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindEnvs(v, reflect.TypeOf(Config{}))

	for env, key := range envAliases {
		if val := os.Getenv(env); val != "" {
			v.Set(key, val)
		}
	}
	// a Redis address alone is enough to switch the shared counter store on
	if os.Getenv("REDIS_ADDR") != "" {
		v.Set("redis.enabled", true)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// bindEnvs registers every mapstructure key so AutomaticEnv also fills keys
// that have no default.
func bindEnvs(v *viper.Viper, t reflect.Type, prefix ...string) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}
		path := append(append([]string(nil), prefix...), tag)
		if f.Type.Kind() == reflect.Struct {
			bindEnvs(v, f.Type, path...)
			continue
		}
		_ = v.BindEnv(strings.Join(path, "."))
	}
}
