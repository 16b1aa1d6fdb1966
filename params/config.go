package params

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/uhyunpark/orderrelay/pkg/api"
	"github.com/uhyunpark/orderrelay/pkg/broker"
	"github.com/uhyunpark/orderrelay/pkg/executor"
	"github.com/uhyunpark/orderrelay/pkg/hub"
	"github.com/uhyunpark/orderrelay/pkg/relay"
)

// ErrInvalidConfig wraps every Validate failure.
var ErrInvalidConfig = errors.New("invalid config")

type Server struct {
	Addr           string        `mapstructure:"addr"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	RateLimit      float64       `mapstructure:"rate_limit"` // orders/sec accepted by POST /order, 0 = unlimited
	RateBurst      int           `mapstructure:"rate_burst"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	ShutdownGrace  time.Duration `mapstructure:"shutdown_grace"`
}

// Topics names the two pub/sub channels. Orders flow in on one, execution
// reports flow back out on the other.
type Topics struct {
	Orders  string `mapstructure:"orders"`
	Reports string `mapstructure:"reports"`
}

type Relay struct {
	Mode        string        `mapstructure:"mode"` // targeted | broadcast
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

type Executor struct {
	Enabled bool `mapstructure:"enabled"`
}

type Log struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"` // empty: stdout only
}

type Config struct {
	Server   Server           `mapstructure:"server"`
	Broker   broker.Config    `mapstructure:"broker"`
	Topics   Topics           `mapstructure:"topics"`
	Relay    Relay            `mapstructure:"relay"`
	Executor Executor         `mapstructure:"executor"`
	WS       hub.ClientConfig `mapstructure:"ws"`
	Log      Log              `mapstructure:"log"`
}

func Default() Config {
	apiCfg := api.DefaultConfig()
	relayCfg := relay.DefaultConfig()
	return Config{
		Server: Server{
			Addr:           apiCfg.Addr,
			AllowedOrigins: apiCfg.AllowedOrigins,
			ReadTimeout:    apiCfg.ReadTimeout,
			WriteTimeout:   apiCfg.WriteTimeout,
			ShutdownGrace:  10 * time.Second,
		},
		Broker: broker.Config{
			Kind:               broker.KindRedis,
			Redis:              broker.DefaultRedisConfig(),
			Kafka:              broker.DefaultKafkaConfig(),
			Gossip:             broker.GossipConfig{ListenAddr: "/ip4/0.0.0.0/tcp/0"},
			SubscriptionBuffer: 256,
		},
		Topics: Topics{
			Orders:  "order-events",
			Reports: "execution-reports",
		},
		Relay: Relay{
			Mode:        string(relayCfg.Mode),
			MaxAttempts: relayCfg.Retry.MaxAttempts,
			BaseDelay:   relayCfg.Retry.BaseDelay,
			MaxDelay:    relayCfg.Retry.MaxDelay,
		},
		WS:  hub.DefaultClientConfig(),
		Log: Log{Level: "info"},
	}
}

// Aliases for the variable names the deployment scripts already use.
var envAliases = map[string][]string{
	"broker.redis.addrs":        {"REDIS_ADDR", "REDIS_ADDRS"},
	"broker.redis.password":     {"REDIS_PASSWORD"},
	"broker.kafka.brokers":      {"KAFKA_BROKERS"},
	"broker.kafka.group_id":     {"KAFKA_GROUP_ID"},
	"broker.gossip.listen_addr": {"GOSSIP_LISTEN"},
	"broker.gossip.bootstrap":   {"GOSSIP_BOOTSTRAP"},
}

// Load reads configuration. Priority: ENV > .env file > configs/relay.yaml
// (or CONFIG_FILE) > defaults.
func Load(envPath string) (Config, error) {
	// .env is optional
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	v := viper.New()
	setDefaults(v, Default())

	if file := os.Getenv("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("relay")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range envAliases {
		if err := v.BindEnv(append([]string{key, strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}, names...)...); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.allowed_origins", d.Server.AllowedOrigins)
	v.SetDefault("server.rate_limit", d.Server.RateLimit)
	v.SetDefault("server.rate_burst", d.Server.RateBurst)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.shutdown_grace", d.Server.ShutdownGrace)

	v.SetDefault("broker.kind", d.Broker.Kind)
	v.SetDefault("broker.subscription_buffer", d.Broker.SubscriptionBuffer)
	v.SetDefault("broker.redis.addrs", d.Broker.Redis.Addrs)
	v.SetDefault("broker.redis.password", d.Broker.Redis.Password)
	v.SetDefault("broker.redis.db", d.Broker.Redis.DB)
	v.SetDefault("broker.redis.master_name", d.Broker.Redis.MasterName)
	v.SetDefault("broker.redis.pool_size", d.Broker.Redis.PoolSize)
	v.SetDefault("broker.redis.max_retries", d.Broker.Redis.MaxRetries)
	v.SetDefault("broker.redis.dial_timeout", d.Broker.Redis.DialTimeout)
	v.SetDefault("broker.redis.read_timeout", d.Broker.Redis.ReadTimeout)
	v.SetDefault("broker.redis.write_timeout", d.Broker.Redis.WriteTimeout)
	v.SetDefault("broker.kafka.brokers", d.Broker.Kafka.Brokers)
	v.SetDefault("broker.kafka.group_id", d.Broker.Kafka.GroupID)
	v.SetDefault("broker.kafka.batch_timeout", d.Broker.Kafka.BatchTimeout)
	v.SetDefault("broker.kafka.write_timeout", d.Broker.Kafka.WriteTimeout)
	v.SetDefault("broker.kafka.required_acks", d.Broker.Kafka.RequiredAcks)
	v.SetDefault("broker.kafka.min_bytes", d.Broker.Kafka.MinBytes)
	v.SetDefault("broker.kafka.max_bytes", d.Broker.Kafka.MaxBytes)
	v.SetDefault("broker.gossip.listen_addr", d.Broker.Gossip.ListenAddr)
	v.SetDefault("broker.gossip.bootstrap", d.Broker.Gossip.Bootstrap)

	v.SetDefault("topics.orders", d.Topics.Orders)
	v.SetDefault("topics.reports", d.Topics.Reports)

	v.SetDefault("relay.mode", d.Relay.Mode)
	v.SetDefault("relay.max_attempts", d.Relay.MaxAttempts)
	v.SetDefault("relay.base_delay", d.Relay.BaseDelay)
	v.SetDefault("relay.max_delay", d.Relay.MaxDelay)

	v.SetDefault("executor.enabled", d.Executor.Enabled)

	v.SetDefault("ws.send_buffer", d.WS.SendBuffer)
	v.SetDefault("ws.write_wait", d.WS.WriteWait)
	v.SetDefault("ws.pong_wait", d.WS.PongWait)
	v.SetDefault("ws.ping_period", d.WS.PingPeriod)
	v.SetDefault("ws.max_message_bytes", d.WS.MaxMessageBytes)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", d.Log.File)
}

// Validate rejects settings the server cannot start with.
func (c Config) Validate() error {
	var problems []string

	if c.Server.Addr == "" {
		problems = append(problems, "server.addr is empty")
	}
	if c.Server.RateLimit < 0 {
		problems = append(problems, "server.rate_limit is negative")
	}
	switch c.Broker.Kind {
	case broker.KindRedis, broker.KindKafka, broker.KindGossip, broker.KindMemory:
	default:
		problems = append(problems, fmt.Sprintf("broker.kind %q is not one of redis, kafka, gossip, memory", c.Broker.Kind))
	}
	if c.Broker.Kind == broker.KindKafka && len(c.Broker.Kafka.Brokers) == 0 {
		problems = append(problems, "broker.kafka.brokers is empty")
	}
	if c.Topics.Orders == "" || c.Topics.Reports == "" {
		problems = append(problems, "topics.orders and topics.reports are required")
	}
	switch relay.Mode(c.Relay.Mode) {
	case relay.ModeTargeted, relay.ModeBroadcast:
	default:
		problems = append(problems, fmt.Sprintf("relay.mode %q is not targeted or broadcast", c.Relay.Mode))
	}
	if c.Relay.MaxAttempts < 1 {
		problems = append(problems, "relay.max_attempts must be at least 1")
	}
	if c.WS.PingPeriod >= c.WS.PongWait {
		problems = append(problems, "ws.ping_period must be shorter than ws.pong_wait")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

func (c Config) API() api.Config {
	return api.Config{
		Addr:           c.Server.Addr,
		OrderTopic:     c.Topics.Orders,
		AllowedOrigins: c.Server.AllowedOrigins,
		RateLimit:      c.Server.RateLimit,
		RateBurst:      c.Server.RateBurst,
		ReadTimeout:    c.Server.ReadTimeout,
		WriteTimeout:   c.Server.WriteTimeout,
	}
}

func (c Config) RelayConfig() relay.Config {
	return relay.Config{
		Topic: c.Topics.Reports,
		Mode:  relay.Mode(c.Relay.Mode),
		Retry: relay.RetryConfig{
			MaxAttempts: c.Relay.MaxAttempts,
			BaseDelay:   c.Relay.BaseDelay,
			MaxDelay:    c.Relay.MaxDelay,
		},
	}
}

func (c Config) ExecutorConfig() executor.Config {
	return executor.Config{
		Enabled:     c.Executor.Enabled,
		OrderTopic:  c.Topics.Orders,
		ReportTopic: c.Topics.Reports,
	}
}
