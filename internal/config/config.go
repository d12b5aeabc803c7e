package config

import (
	"time"

	"github.com/spf13/viper"

	pkgconfig "github.com/dongzzi101/chat-sevice/pkg/config"
)

type Config struct {
	Server    ServerConfig
	WebSocket WebSocketConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Cassandra CassandraConfig
	HotRoom   HotRoomConfig `mapstructure:"hot_room"`
	Forward   ForwardConfig
	Auth      AuthConfig
	Log       LogConfig
}

type ServerConfig struct {
	Host string
	Port int
	// AdvertiseAddress is what other nodes and the directory store see.
	AdvertiseAddress string `mapstructure:"advertise_address"`
	// NodeID feeds the snowflake generator; 0 derives one from the
	// advertise address.
	NodeID int64 `mapstructure:"node_id"`
}

type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
}

type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers    string
	Topic      string
	Partitions int
}

// CassandraConfig lists one cluster per physical message shard. The shard
// router picks sessions by index, so order matters and must match across
// nodes. Room metadata lives on shard 0.
type CassandraConfig struct {
	Shards         []ShardConfig
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	Timeout        time.Duration
	Consistency    string
}

type ShardConfig struct {
	Hosts    []string
	Keyspace string
}

type HotRoomConfig struct {
	Window         time.Duration `mapstructure:"window"`
	ModeTTL        time.Duration `mapstructure:"mode_ttl"`
	Debounce       time.Duration `mapstructure:"debounce"`
	EnterThreshold int64         `mapstructure:"enter_threshold"`
	ExitThreshold  int64         `mapstructure:"exit_threshold"`
	PendingTTL     time.Duration `mapstructure:"pending_ttl"`
}

type ForwardConfig struct {
	MaxRetries  int           `mapstructure:"max_retries"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	CallTimeout time.Duration `mapstructure:"call_timeout"`
}

type AuthConfig struct {
	// Secret enables token verification on connect when non-empty.
	Secret string
}

type LogConfig struct {
	Level string
}

func Load() (*Config, error) {
	v, err := pkgconfig.Load("./config", "config")
	if err != nil {
		return nil, err
	}

	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.advertise_address", "localhost:8080")
	v.SetDefault("server.node_id", 0)
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.max_message_size", 4096)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.topic", "chat-messages")
	v.SetDefault("kafka.partitions", 8)
	v.SetDefault("cassandra.shards", []map[string]interface{}{
		{"hosts": []string{"127.0.0.1"}, "keyspace": "chat_shard0"},
		{"hosts": []string{"127.0.0.1"}, "keyspace": "chat_shard1"},
	})
	v.SetDefault("cassandra.connect_timeout", "10s")
	v.SetDefault("cassandra.timeout", "5s")
	v.SetDefault("cassandra.consistency", "LOCAL_QUORUM")
	v.SetDefault("hot_room.window", "5s")
	v.SetDefault("hot_room.mode_ttl", "30s")
	v.SetDefault("hot_room.debounce", "3s")
	v.SetDefault("hot_room.enter_threshold", 5)
	v.SetDefault("hot_room.exit_threshold", 2)
	v.SetDefault("hot_room.pending_ttl", "10m")
	v.SetDefault("forward.max_retries", 3)
	v.SetDefault("forward.base_delay", "500ms")
	v.SetDefault("forward.call_timeout", "3s")
	v.SetDefault("auth.secret", "")
	v.SetDefault("log.level", "info")

	// Override from environment
	v.BindEnv("server.port", "PORT")
	v.BindEnv("server.advertise_address", "ADVERTISE_ADDRESS")
	v.BindEnv("server.node_id", "NODE_ID")
	v.BindEnv("redis.address", "REDIS_ADDRESS")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("kafka.topic", "KAFKA_TOPIC")
	v.BindEnv("auth.secret", "AUTH_SECRET")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Parse durations
	cfg.WebSocket.PingInterval = parseDuration(v, "websocket.ping_interval", 30*time.Second)
	cfg.WebSocket.PongWait = parseDuration(v, "websocket.pong_wait", 60*time.Second)
	cfg.WebSocket.WriteWait = parseDuration(v, "websocket.write_wait", 10*time.Second)
	cfg.Cassandra.ConnectTimeout = parseDuration(v, "cassandra.connect_timeout", 10*time.Second)
	cfg.Cassandra.Timeout = parseDuration(v, "cassandra.timeout", 5*time.Second)
	cfg.HotRoom.Window = parseDuration(v, "hot_room.window", 5*time.Second)
	cfg.HotRoom.ModeTTL = parseDuration(v, "hot_room.mode_ttl", 30*time.Second)
	cfg.HotRoom.Debounce = parseDuration(v, "hot_room.debounce", 3*time.Second)
	cfg.HotRoom.PendingTTL = parseDuration(v, "hot_room.pending_ttl", 10*time.Minute)
	cfg.Forward.BaseDelay = parseDuration(v, "forward.base_delay", 500*time.Millisecond)
	cfg.Forward.CallTimeout = parseDuration(v, "forward.call_timeout", 3*time.Second)

	return &cfg, nil
}

func parseDuration(v *viper.Viper, key string, defaultVal time.Duration) time.Duration {
	str := v.GetString(key)
	d, err := time.ParseDuration(str)
	if err != nil {
		return defaultVal
	}
	return d
}
