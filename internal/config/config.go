package config

import (
	"github.com/blues/tds/internal/logger"
	"github.com/spf13/viper"
)

type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Chain        ChainConfig        `mapstructure:"chain"`
	Distribution DistributionConfig `mapstructure:"distribution"`
	Scheduler    SchedulerConfig    `mapstructure:"scheduler"`
	Log          LogConfig          `mapstructure:"log"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// RedisConfig 任务队列使用的Redis配置
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// ChainConfig 链配置
type ChainConfig struct {
	ChainId       int64  `mapstructure:"chain_id"`      // 链ID
	RpcUrl        string `mapstructure:"rpc_url"`       // RPC节点URL
	PrivateKey    string `mapstructure:"private_key"`   // 发放账户私钥
	Confirmations uint64 `mapstructure:"confirmations"` // 交易确认区块数
}

// DistributionConfig 批量发放配置
type DistributionConfig struct {
	BatchSize           int `mapstructure:"batch_size"`            // 每批接收者数量
	MaxAttempts         int `mapstructure:"max_attempts"`          // 单批次最大尝试次数
	RateIntervalSeconds int `mapstructure:"rate_interval_seconds"` // 两个任务之间的最小间隔(秒)
	BreakerThreshold    int `mapstructure:"breaker_threshold"`     // 熔断器连续失败阈值
	BreakerResetSeconds int `mapstructure:"breaker_reset_seconds"` // 熔断器恢复超时(秒)
}

type SchedulerConfig struct {
	Interval int `mapstructure:"interval"` // 秒
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // 日志级别: debug, info, warn, error, fatal
	Output string `mapstructure:"output"` // 输出目标: stdout, file
	File   string `mapstructure:"file"`   // 日志文件路径（当output为file时使用）
}

func Load() *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/tds")

	// 设置默认值
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.mode", "debug")
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "")
	viper.SetDefault("database.dbname", "tds")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("chain.chain_id", 8453)
	viper.SetDefault("chain.rpc_url", "https://mainnet.base.org")
	viper.SetDefault("chain.confirmations", 2)
	viper.SetDefault("distribution.batch_size", 100)
	viper.SetDefault("distribution.max_attempts", 3)
	viper.SetDefault("distribution.rate_interval_seconds", 5)
	viper.SetDefault("distribution.breaker_threshold", 5)
	viper.SetDefault("distribution.breaker_reset_seconds", 30)
	viper.SetDefault("scheduler.interval", 60)
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.output", "stdout")
	viper.SetDefault("log.file", "logs/app.log")

	// 自动读取环境变量
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		logger.Warn("Warning: Could not read config file: %v", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		logger.Fatal("Unable to decode config into struct: %v", err)
	}

	return &config
}
