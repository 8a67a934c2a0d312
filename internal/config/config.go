package config

import (
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config 配置
type Config struct {
	Service  ServiceConfig  `yaml:"service" json:"service"`
	Postgres PostgresConfig `yaml:"postgres" json:"postgres"`
	Redis    RedisConfig    `yaml:"redis" json:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka" json:"kafka"`
	Ledger   LedgerConfig   `yaml:"ledger" json:"ledger"`
	Ingest   IngestConfig   `yaml:"ingest" json:"ingest"`
	Approval ApprovalConfig `yaml:"approval" json:"approval"`
	Log      LogConfig      `yaml:"log" json:"log"`
}

// ServiceConfig 服务配置
type ServiceConfig struct {
	Name     string `yaml:"name" json:"name"`
	HTTPPort int    `yaml:"http_port" json:"http_port"`
	Env      string `yaml:"env" json:"env"`
}

// PostgresConfig PostgreSQL 配置
type PostgresConfig struct {
	Host            string `yaml:"host" json:"host"`
	Port            int    `yaml:"port" json:"port"`
	Database        string `yaml:"database" json:"database"`
	User            string `yaml:"user" json:"user"`
	Password        string `yaml:"password" json:"password"`
	MaxConnections  int    `yaml:"max_connections" json:"max_connections"`
	MaxIdleConns    int    `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addresses []string `yaml:"addresses" json:"addresses"`
	Password  string   `yaml:"password" json:"password"`
	DB        int      `yaml:"db" json:"db"`
	PoolSize  int      `yaml:"pool_size" json:"pool_size"`
}

// KafkaConfig Kafka 配置
type KafkaConfig struct {
	Brokers  []string `yaml:"brokers" json:"brokers"`
	ClientID string   `yaml:"client_id" json:"client_id"`
}

// LedgerConfig 账本接入配置
type LedgerConfig struct {
	RPCURL          string `yaml:"rpc_url" json:"rpc_url"`
	ChainID         int64  `yaml:"chain_id" json:"chain_id"`
	ContractAddress string `yaml:"contract_address" json:"contract_address"`
	InitialPosition uint64 `yaml:"initial_position" json:"initial_position"`
	BatchSize       int    `yaml:"batch_size" json:"batch_size"`
	PollInterval    int    `yaml:"poll_interval" json:"poll_interval"` // 秒
}

// IngestConfig 事件摄取配置
type IngestConfig struct {
	ConsumerName string `yaml:"consumer_name" json:"consumer_name"`
	MaxAttempts  int    `yaml:"max_attempts" json:"max_attempts"`
	RetryBackoff int    `yaml:"retry_backoff" json:"retry_backoff"` // 毫秒
}

// ApprovalConfig 审批配置
type ApprovalConfig struct {
	SweepCron    string `yaml:"sweep_cron" json:"sweep_cron"`
	SweepLockTTL int    `yaml:"sweep_lock_ttl" json:"sweep_lock_ttl"` // 秒
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Load 加载配置
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// 环境变量替换
	content := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(content), &cfg); err != nil {
		return nil, err
	}

	// 设置默认值
	setDefaults(&cfg)

	return &cfg, nil
}

// expandEnvVars 展开环境变量 ${VAR:default}
func expandEnvVars(s string) string {
	result := s
	for {
		start := strings.Index(result, "${")
		if start == -1 {
			break
		}
		end := strings.Index(result[start:], "}")
		if end == -1 {
			break
		}
		end += start

		expr := result[start+2 : end]
		parts := strings.SplitN(expr, ":", 2)
		varName := parts[0]
		defaultVal := ""
		if len(parts) > 1 {
			defaultVal = parts[1]
		}

		value := os.Getenv(varName)
		if value == "" {
			value = defaultVal
		}

		result = result[:start] + value + result[end+1:]
	}
	return result
}

// setDefaults 设置默认值
func setDefaults(cfg *Config) {
	if cfg.Service.Name == "" {
		cfg.Service.Name = "fundvault-chain"
	}
	if cfg.Service.HTTPPort == 0 {
		cfg.Service.HTTPPort = 8085
	}
	if cfg.Service.Env == "" {
		cfg.Service.Env = "dev"
	}

	if cfg.Postgres.Port == 0 {
		cfg.Postgres.Port = 5432
	}
	if cfg.Postgres.MaxConnections == 0 {
		cfg.Postgres.MaxConnections = 50
	}
	if cfg.Postgres.MaxIdleConns == 0 {
		cfg.Postgres.MaxIdleConns = 10
	}
	if cfg.Postgres.ConnMaxLifetime == 0 {
		cfg.Postgres.ConnMaxLifetime = 3600
	}

	if cfg.Redis.PoolSize == 0 {
		cfg.Redis.PoolSize = 50
	}

	if cfg.Ledger.ChainID == 0 {
		cfg.Ledger.ChainID = 31337 // 本地开发
	}
	if cfg.Ledger.BatchSize == 0 {
		cfg.Ledger.BatchSize = 100
	}
	if cfg.Ledger.PollInterval == 0 {
		cfg.Ledger.PollInterval = 1
	}

	if cfg.Ingest.ConsumerName == "" {
		cfg.Ingest.ConsumerName = cfg.Service.Name
	}
	if cfg.Ingest.MaxAttempts == 0 {
		cfg.Ingest.MaxAttempts = 4
	}
	if cfg.Ingest.RetryBackoff == 0 {
		cfg.Ingest.RetryBackoff = 500
	}

	if cfg.Approval.SweepCron == "" {
		cfg.Approval.SweepCron = "0 * * * * *" // 每分钟
	}
	if cfg.Approval.SweepLockTTL == 0 {
		cfg.Approval.SweepLockTTL = 60
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
}

// GetEnvInt 获取环境变量整数值
func GetEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// GetEnvString 获取环境变量字符串值
func GetEnvString(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
