package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/spf13/viper"
)

// Config 保存应用程序配置。
type Config struct {
	App      AppConfig      `json:"app"`
	MySQL    MySQLConfig    `json:"mysql"`
	Redis    RedisConfig    `json:"redis"`
	Email    EmailConfig    `json:"email"`
	Media    MediaConfig    `json:"media"`
	Security SecurityConfig `json:"security"`
	Admin    AdminConfig    `json:"admin"`
}

// AppConfig 应用程序基础配置。
type AppConfig struct {
	Env            string        `json:"env"`             // 运行环境: local / prod
	LogLevel       string        `json:"log_level"`       // 日志级别: debug / info / warn / error
	HTTPAddr       string        `json:"http_addr"`       // API 服务监听地址
	TokenTTL       time.Duration `json:"token_ttl"`       // 登录令牌有效期（如 "12h"）
	ResetTTL       time.Duration `json:"reset_ttl"`       // 密码重置令牌有效期（如 "1h"）
	DigestInterval time.Duration `json:"digest_interval"` // 订阅摘要推送间隔（0 表示关闭）
	RateLimit      float64       `json:"rate_limit"`      // 认证接口限流速率（token/s，按客户端 IP）
	RateBurst      float64       `json:"rate_burst"`      // 限流桶容量
	QueueWorkers   int           `json:"queue_workers"`   // 邮件队列 worker 数
	QueueCapacity  int           `json:"queue_capacity"`  // 邮件队列容量
	TrendingSize   int           `json:"trending_size"`   // 热门新闻榜单长度
}

// MySQLConfig MySQL 数据库配置。
type MySQLConfig struct {
	DSN string `json:"dsn"` // 数据库连接字符串
}

// RedisConfig Redis 配置。
type RedisConfig struct {
	Addr     string `json:"addr"`     // Redis 地址 (host:port)
	Password string `json:"password"` // Redis 密码
}

// EmailConfig 邮件通知配置。
type EmailConfig struct {
	SMTPHost  string `json:"smtp_host"`
	SMTPPort  int    `json:"smtp_port"`
	SMTPUser  string `json:"smtp_user"`
	SMTPPass  string `json:"smtp_pass"`
	FromEmail string `json:"from_email"`
}

// MediaConfig 对象存储（S3 兼容）配置。
type MediaConfig struct {
	Bucket        string `json:"bucket"`          // 存储桶名称
	Region        string `json:"region"`          // 区域
	Endpoint      string `json:"endpoint"`        // 自定义端点（MinIO 等 S3 兼容存储；为空走 AWS）
	AccessKey     string `json:"access_key"`      // Access Key
	SecretKey     string `json:"secret_key"`      // Secret Key
	PublicBaseURL string `json:"public_base_url"` // 公开访问前缀（如 CDN 域名）
}

// SecurityConfig 安全相关配置。
//
// JWTSecret 没有默认值：未配置时 Load 直接失败，避免带着可预测的
// 签名密钥上线。
type SecurityConfig struct {
	JWTSecret string `json:"jwt_secret"` // JWT 签名密钥（必填）
}

// AdminConfig 初始管理员账号配置（用于种子数据）。
type AdminConfig struct {
	Email    string `json:"email"`    // 管理员邮箱
	Password string `json:"password"` // 管理员初始密码
	Name     string `json:"name"`     // 管理员昵称
}

// Load 从 JSON 文件加载配置。
//
// 它会尝试读取 configs/config.json 文件，如果不存在则使用默认值。
// 环境变量优先于文件内容。JWT 密钥与 MySQL DSN 为必填项。
//
// 参数:
//
//	configPath: 配置文件路径（如果为空则使用默认路径 "configs/config.json")
//
// 返回值:
//
//	*Config: 加载完成的配置对象
//	error: 加载失败返回错误
func Load(configPath ...string) (*Config, error) {
	path := "configs/config.json"
	if len(configPath) > 0 && configPath[0] != "" {
		path = configPath[0]
	}

	cfg := getDefaultConfig()

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		cfg = &Config{}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
		applyDefaults(cfg)
	}

	// 环境变量优先覆盖配置
	applyEnvOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save 保存配置到 JSON 文件。
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// getDefaultConfig 返回默认配置。
func getDefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Env:            "local",
			LogLevel:       "info",
			HTTPAddr:       ":8082",
			TokenTTL:       12 * time.Hour,
			ResetTTL:       time.Hour,
			DigestInterval: 0,
			RateLimit:      3,
			RateBurst:      10,
			QueueWorkers:   4,
			QueueCapacity:  256,
			TrendingSize:   10,
		},
		MySQL: MySQLConfig{
			DSN: "root:password@tcp(localhost:3306)/shotnews?parseTime=true&loc=Local",
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
		},
		Email: EmailConfig{
			SMTPHost:  "smtp.gmail.com",
			SMTPPort:  587,
			SMTPUser:  "",
			SMTPPass:  "",
			FromEmail: "",
		},
		Media: MediaConfig{
			Region: "us-east-1",
		},
		Admin: AdminConfig{
			Email: "admin@shotnews.local",
			Name:  "Administrator",
		},
	}
}

// applyDefaults 对未设置的字段应用默认值。
func applyDefaults(cfg *Config) {
	defaults := getDefaultConfig()

	if cfg.App.Env == "" {
		cfg.App.Env = defaults.App.Env
	}
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = defaults.App.LogLevel
	}
	if cfg.App.HTTPAddr == "" {
		cfg.App.HTTPAddr = defaults.App.HTTPAddr
	}
	if cfg.App.TokenTTL == 0 {
		cfg.App.TokenTTL = defaults.App.TokenTTL
	}
	if cfg.App.ResetTTL == 0 {
		cfg.App.ResetTTL = defaults.App.ResetTTL
	}
	if cfg.App.RateLimit == 0 {
		cfg.App.RateLimit = defaults.App.RateLimit
	}
	if cfg.App.RateBurst == 0 {
		cfg.App.RateBurst = defaults.App.RateBurst
	}
	if cfg.App.QueueWorkers == 0 {
		cfg.App.QueueWorkers = defaults.App.QueueWorkers
	}
	if cfg.App.QueueCapacity == 0 {
		cfg.App.QueueCapacity = defaults.App.QueueCapacity
	}
	if cfg.App.TrendingSize == 0 {
		cfg.App.TrendingSize = defaults.App.TrendingSize
	}
	if cfg.MySQL.DSN == "" {
		cfg.MySQL.DSN = defaults.MySQL.DSN
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = defaults.Redis.Addr
	}
	if cfg.Email.SMTPHost == "" {
		cfg.Email.SMTPHost = defaults.Email.SMTPHost
	}
	if cfg.Email.SMTPPort == 0 {
		cfg.Email.SMTPPort = defaults.Email.SMTPPort
	}
	if cfg.Media.Region == "" {
		cfg.Media.Region = defaults.Media.Region
	}
	if cfg.Admin.Email == "" {
		cfg.Admin.Email = defaults.Admin.Email
	}
	if cfg.Admin.Name == "" {
		cfg.Admin.Name = defaults.Admin.Name
	}
}

func applyEnvOverrides(cfg *Config) {
	viper.AutomaticEnv()

	_ = viper.BindEnv("db_dsn", "DB_DSN")
	_ = viper.BindEnv("redis_addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis_password", "REDIS_PASSWORD")
	_ = viper.BindEnv("smtp_pass", "SMTP_PASS")
	_ = viper.BindEnv("jwt_secret", "JWT_SECRET")
	_ = viper.BindEnv("s3_access_key", "S3_ACCESS_KEY")
	_ = viper.BindEnv("s3_secret_key", "S3_SECRET_KEY")
	_ = viper.BindEnv("admin_password", "ADMIN_PASSWORD")

	if v := viper.GetString("db_dsn"); v != "" {
		cfg.MySQL.DSN = v
	}
	if v := viper.GetString("redis_addr"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := viper.GetString("redis_password"); v != "" {
		cfg.Redis.Password = v
	}
	if v := viper.GetString("smtp_pass"); v != "" {
		cfg.Email.SMTPPass = v
	}
	if v := viper.GetString("jwt_secret"); v != "" {
		cfg.Security.JWTSecret = v
	}
	if v := viper.GetString("s3_access_key"); v != "" {
		cfg.Media.AccessKey = v
	}
	if v := viper.GetString("s3_secret_key"); v != "" {
		cfg.Media.SecretKey = v
	}
	if v := viper.GetString("admin_password"); v != "" {
		cfg.Admin.Password = v
	}
}

// UnmarshalJSON 自定义 JSON 解析，时长字段接受 "12h" 这类字符串。
func (a *AppConfig) UnmarshalJSON(data []byte) error {
	type Alias AppConfig
	aux := &struct {
		TokenTTL       string `json:"token_ttl"`
		ResetTTL       string `json:"reset_ttl"`
		DigestInterval string `json:"digest_interval"`
		*Alias
	}{
		Alias: (*Alias)(a),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if aux.TokenTTL != "" {
		d, err := time.ParseDuration(aux.TokenTTL)
		if err != nil {
			return fmt.Errorf("invalid token_ttl format: %w", err)
		}
		a.TokenTTL = d
	}
	if aux.ResetTTL != "" {
		d, err := time.ParseDuration(aux.ResetTTL)
		if err != nil {
			return fmt.Errorf("invalid reset_ttl format: %w", err)
		}
		a.ResetTTL = d
	}
	if aux.DigestInterval != "" {
		d, err := time.ParseDuration(aux.DigestInterval)
		if err != nil {
			return fmt.Errorf("invalid digest_interval format: %w", err)
		}
		a.DigestInterval = d
	}

	return nil
}

// MarshalJSON 自定义 JSON 序列化，将时长转为字符串。
func (a AppConfig) MarshalJSON() ([]byte, error) {
	type Alias AppConfig
	return json.Marshal(&struct {
		TokenTTL       string `json:"token_ttl"`
		ResetTTL       string `json:"reset_ttl"`
		DigestInterval string `json:"digest_interval"`
		*Alias
	}{
		TokenTTL:       a.TokenTTL.String(),
		ResetTTL:       a.ResetTTL.String(),
		DigestInterval: a.DigestInterval.String(),
		Alias:          (*Alias)(&a),
	})
}

// validate 校验必填项。
func validate(cfg *Config) error {
	if cfg.Security.JWTSecret == "" {
		return fmt.Errorf("jwt secret is required (set security.jwt_secret or JWT_SECRET)")
	}
	if _, err := mysql.ParseDSN(cfg.MySQL.DSN); err != nil {
		return fmt.Errorf("invalid mysql dsn: %w", err)
	}
	return nil
}
