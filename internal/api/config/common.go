package config

// Config 配置主体
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	DB       DBConfig       `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Mongo    MongoConfig    `mapstructure:"mongo"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Logstash LogstashConfig `mapstructure:"logstash"`
	Chat     ChatConfig     `mapstructure:"chat"`
}

// ServerConfig Server配置
type ServerConfig struct {
	Port   int `mapstructure:"port"`
	WsPort int `mapstructure:"ws_port"` // 旧版 WebSocket 通道独立端口
}

// DBConfig 数据库配置
type DBConfig struct {
	DSN         string `mapstructure:"dsn"`
	MaxIdle     int    `mapstructure:"max_idle"`
	MaxOpen     int    `mapstructure:"max_open"`
	MaxLifetime int    `mapstructure:"max_lifetime"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// MongoConfig Mongo配置
type MongoConfig struct {
	URL      string `mapstructure:"url"`
	Database string `mapstructure:"database"`
}

type KafkaConfig struct {
	Enable  bool       `mapstructure:"enable"`
	Brokers []string   `mapstructure:"brokers"`
	Topic   string     `mapstructure:"topic"`
	Sasl    SaslConfig `mapstructure:"sasl"`
}

type SaslConfig struct {
	Enable   bool   `mapstructure:"enable"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// LogstashConfig 日志远程上报
type LogstashConfig struct {
	Address string `mapstructure:"address"`
	Index   string `mapstructure:"index"`
	Token   string `mapstructure:"token"`
}

// ChatConfig 聊天核心调优项
type ChatConfig struct {
	SupportAdminID  uint64 `mapstructure:"support_admin_id"` // 顾客首次发起会话时指派的客服
	ClientBuffer    int    `mapstructure:"client_buffer"`    // 每个连接的事件缓冲条数
	PresenceTTL     int    `mapstructure:"presence_ttl"`     // 秒，超过未活跃视为掉线
	StatsCacheTTL   int    `mapstructure:"stats_cache_ttl"`  // 秒
	HistoryPageSize int    `mapstructure:"history_page_size"`
}
