package core

import (
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const minSecretKeyLen = 32

var (
	ErrMissingSecretKey = errors.New("SECRET_KEY must be set to at least 32 characters")
	ErrInvalidProxyCIDR = errors.New("TRUSTED_PROXIES contains an invalid CIDR")
)

// Environments
const (
	EnvDev  = "DEV"
	EnvTest = "TEST"
	EnvQA   = "QA"
	EnvProd = "PROD"
)

type (
	Config struct {
		AppName       string
		Env           string
		Build         string
		Debug         bool
		SecretKey     string
		SessionSecret string
		RollbarToken  string

		Server    ServerConfig
		Session   SessionConfig
		RateLimit map[string]RateLimitRule
		Lockout   LockoutConfig
		Upload    UploadConfig
		Database  DatabaseConfig
		Email     EmailConfig
		RedisURL  string
	}

	ServerConfig struct {
		Host               string
		Address            string
		DebugHost          string
		ShutdownTimeout    time.Duration
		JWTExpirationDelta time.Duration
		TrustedProxies     []*net.IPNet
	}

	SessionConfig struct {
		CookieName string
		MaxAge     time.Duration
		Secure     bool
	}

	RateLimitRule struct {
		Window  time.Duration
		Max     int
		Message string
	}

	LockoutConfig struct {
		MaxAttempts int
		Duration    time.Duration
	}

	UploadConfig struct {
		MaxSize        int64
		AllowedExts    []string
		AllowedMIMEs   []string
		SniffContent   bool
		MaterialsDir   string
		AssignmentsDir string
	}

	DatabaseConfig struct {
		Engine        string
		Host          string
		Port          string
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
	}

	EmailConfig struct {
		DefaultFrom    string
		SendgridAPIKey string
	}
)

func (c *Config) IsLocal() bool {
	return c.Env == EnvDev || c.Env == EnvTest
}

func (dc DatabaseConfig) Address() string {
	return net.JoinHostPort(dc.Host, dc.Port)
}

// Rate limit categories
const (
	RateLimitAuth           = "auth"
	RateLimitAPI            = "api"
	RateLimitStrict         = "strict"
	RateLimitPasswordChange = "password-change"
)

var RateLimitCategories = []string{RateLimitAuth, RateLimitAPI, RateLimitStrict, RateLimitPasswordChange}

func setDefaults(v *viper.Viper) {
	v.SetTypeByDefaultValue(true)
	v.SetDefault("app_name", "Chuo")
	v.SetDefault("build", "develop")
	v.SetDefault("debug", false)
	v.SetDefault("secret_key", "")
	v.SetDefault("session_secret", "")
	v.SetDefault("rollbar_token", "")
	v.SetDefault("redis_url", "")

	v.SetDefault("server_host", "localhost")
	v.SetDefault("server_address", ":8000")
	v.SetDefault("debug_host", ":4000")
	v.SetDefault("shutdown_timeout", 5*time.Second)
	v.SetDefault("jwt_expiration_delta", 24*time.Hour)
	v.SetDefault("trusted_proxies", "")

	v.SetDefault("session_cookie_name", "chuo_session")
	v.SetDefault("session_max_age", 24*time.Hour)

	v.SetDefault("rate_limit_auth_window", 15*time.Minute)
	v.SetDefault("rate_limit_auth_max", 5)
	v.SetDefault("rate_limit_api_window", 15*time.Minute)
	v.SetDefault("rate_limit_api_max", 100)
	v.SetDefault("rate_limit_strict_window", time.Hour)
	v.SetDefault("rate_limit_strict_max", 10)
	v.SetDefault("rate_limit_password_change_window", time.Hour)
	v.SetDefault("rate_limit_password_change_max", 3)

	v.SetDefault("lockout_max_attempts", 5)
	v.SetDefault("lockout_duration", 30*time.Minute)

	v.SetDefault("upload_max_size", int64(10<<20))
	v.SetDefault("upload_allowed_exts", ".pdf,.doc,.docx,.ppt,.pptx,.xls,.xlsx,.txt,.zip,.png,.jpg,.jpeg")
	v.SetDefault("upload_allowed_mimes", strings.Join([]string{
		"application/pdf",
		"application/msword",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		"application/vnd.ms-powerpoint",
		"application/vnd.openxmlformats-officedocument.presentationml.presentation",
		"application/vnd.ms-excel",
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		"text/plain",
		"application/zip",
		"image/png",
		"image/jpeg",
	}, ","))
	v.SetDefault("upload_sniff_content", true)
	v.SetDefault("materials_dir", "uploads/materials")
	v.SetDefault("assignments_dir", "uploads/assignments")

	v.SetDefault("database_engine", "postgres")
	v.SetDefault("database_host", "localhost")
	v.SetDefault("database_port", "5432")
	v.SetDefault("database_name", "chuo")
	v.SetDefault("database_user", "")
	v.SetDefault("database_password", "")
	v.SetDefault("database_admin_user", "")
	v.SetDefault("database_admin_password", "")
	v.SetDefault("database_disable_tls", false)

	v.SetDefault("default_from_email", "noreply@localhost")
	v.SetDefault("sendgrid_api_key", "")
}

// NewConfig loads the configuration from the environment.
// Variables are prefixed with the ENV name (DEV_SECRET_KEY, PROD_SECRET_KEY...);
// config/.env.<env> is loaded first if it exists.
func NewConfig() (*Config, error) {
	env := strings.ToUpper(os.Getenv("ENV")) // DEV (local; default), TEST, QA, PROD
	if env == "" {
		env = EnvDev
	}

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join("config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err = godotenv.Load(dotEnvPath); err != nil {
			return nil, errors.Wrapf(err, "loading %s", dotEnvPath)
		}
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "checking %s", dotEnvPath)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(env)
	v.AutomaticEnv()
	if env == EnvDev || env == EnvTest {
		v.SetDefault("debug", true)
	}
	return configFromViper(env, v)
}

// DefaultConfig returns the default configuration for env, ignoring the environment.
func DefaultConfig(env string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	if env == EnvDev || env == EnvTest {
		v.SetDefault("debug", true)
	}
	return configFromViper(env, v)
}

func configFromViper(env string, v *viper.Viper) (*Config, error) {
	conf := &Config{
		AppName:       v.GetString("app_name"),
		Env:           env,
		Build:         v.GetString("build"),
		Debug:         v.GetBool("debug"),
		SecretKey:     v.GetString("secret_key"),
		SessionSecret: v.GetString("session_secret"),
		RollbarToken:  v.GetString("rollbar_token"),
		RedisURL:      v.GetString("redis_url"),
		Server: ServerConfig{
			Host:               v.GetString("server_host"),
			Address:            v.GetString("server_address"),
			DebugHost:          v.GetString("debug_host"),
			ShutdownTimeout:    v.GetDuration("shutdown_timeout"),
			JWTExpirationDelta: v.GetDuration("jwt_expiration_delta"),
		},
		Session: SessionConfig{
			CookieName: v.GetString("session_cookie_name"),
			MaxAge:     v.GetDuration("session_max_age"),
		},
		RateLimit: map[string]RateLimitRule{
			RateLimitAuth: {
				Window:  v.GetDuration("rate_limit_auth_window"),
				Max:     v.GetInt("rate_limit_auth_max"),
				Message: "Too many authentication attempts, please try again later.",
			},
			RateLimitAPI: {
				Window:  v.GetDuration("rate_limit_api_window"),
				Max:     v.GetInt("rate_limit_api_max"),
				Message: "Too many requests from this IP, please try again later.",
			},
			RateLimitStrict: {
				Window:  v.GetDuration("rate_limit_strict_window"),
				Max:     v.GetInt("rate_limit_strict_max"),
				Message: "Too many requests for this operation, please try again later.",
			},
			RateLimitPasswordChange: {
				Window:  v.GetDuration("rate_limit_password_change_window"),
				Max:     v.GetInt("rate_limit_password_change_max"),
				Message: "Too many password change attempts, please try again later.",
			},
		},
		Lockout: LockoutConfig{
			MaxAttempts: v.GetInt("lockout_max_attempts"),
			Duration:    v.GetDuration("lockout_duration"),
		},
		Upload: UploadConfig{
			MaxSize:        v.GetInt64("upload_max_size"),
			AllowedExts:    SplitList(v.GetString("upload_allowed_exts"), true /* lower */),
			AllowedMIMEs:   SplitList(v.GetString("upload_allowed_mimes"), true /* lower */),
			SniffContent:   v.GetBool("upload_sniff_content"),
			MaterialsDir:   v.GetString("materials_dir"),
			AssignmentsDir: v.GetString("assignments_dir"),
		},
		Database: DatabaseConfig{
			Engine:        v.GetString("database_engine"),
			Host:          v.GetString("database_host"),
			Port:          v.GetString("database_port"),
			Name:          v.GetString("database_name"),
			User:          v.GetString("database_user"),
			Password:      v.GetString("database_password"),
			AdminUser:     v.GetString("database_admin_user"),
			AdminPassword: v.GetString("database_admin_password"),
			DisableTLS:    v.GetBool("database_disable_tls"),
		},
		Email: EmailConfig{
			DefaultFrom:    v.GetString("default_from_email"),
			SendgridAPIKey: v.GetString("sendgrid_api_key"),
		},
	}
	conf.Session.Secure = !conf.IsLocal()

	for _, cidr := range SplitList(v.GetString("trusted_proxies"), false) {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, errors.Wrap(ErrInvalidProxyCIDR, cidr)
		}
		conf.Server.TrustedProxies = append(conf.Server.TrustedProxies, ipNet)
	}

	if err := conf.validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// validate refuses to start outside DEV/TEST without a proper signing secret.
// Locally a throwaway secret is used when none is set.
func (c *Config) validate() error {
	if c.SecretKey == "" && c.IsLocal() {
		c.SecretKey = "insecure-local-secret-key-change-me-0123456789"
	}
	if len(c.SecretKey) < minSecretKeyLen {
		return ErrMissingSecretKey
	}
	if c.SessionSecret == "" {
		c.SessionSecret = c.SecretKey
	}
	if c.Session.MaxAge <= 0 {
		return errors.New("SESSION_MAX_AGE must be positive")
	}
	for _, cat := range RateLimitCategories {
		if rule := c.RateLimit[cat]; rule.Window <= 0 || rule.Max <= 0 {
			return errors.Errorf("rate limit %q needs a positive window and max", cat)
		}
	}
	return nil
}
