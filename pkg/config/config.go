package config

import (
	"context"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/vault-client-go"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	_ "github.com/spf13/viper/remote"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	config       = viper.New()
	configHolder atomic.Value
	backend      = "consul"
	backendAddr  = "127.0.0.1:8500"
	backendPath  = "development" // e.g., app/<env>/<service_name>
	configType   = "yaml"
)

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	TLS        struct {
		Enable   bool   `mapstructure:"ENABLE"`
		CertPath string `mapstructure:"CERT_PATH"`
		KeyPath  string `mapstructure:"KEY_PATH"`
	} `mapstructure:"TLS"`
	Otel struct {
		Addr     string `mapstructure:"ADDR"`
		Protocol string `mapstructure:"PROTOCOL"` // grpc | http
	} `mapstructure:"OTEL"`
	Pyroscope struct {
		Addr string `mapstructure:"ADDR"`
	} `mapstructure:"PYROSCOPE"`
	Server struct {
		Addr         string        `mapstructure:"ADDR"`
		ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
		IdleTimeout  time.Duration `mapstructure:"IDLE_TIMEOUT"`
	} `mapstructure:"HTTP_SERVER"`
	Database struct {
		Type           string `mapstructure:"TYPE"` // postgres | mysql | sqlite
		Host           string `mapstructure:"HOST"`
		Port           string `mapstructure:"PORT"`
		DBNAME         string `mapstructure:"DBNAME"`
		User           string `mapstructure:"USER"`
		Password       string `mapstructure:"PASSWORD"`
		SSLMode        string `mapstructure:"SSLMODE"`
		Timezone       string `mapstructure:"TIMEZONE"`
		ConnectionPool struct {
			MaxIdleConn     int           `mapstructure:"MAX_IDLE_CONN"`
			MaxOpenConns    int           `mapstructure:"MAX_OPEN_CONNS"`
			ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
			ConnMaxIdleTime time.Duration `mapstructure:"CONN_MAX_IDLE_TIME"`
		} `mapstructure:"CONNECTION_POOL"`
	} `mapstructure:"DATABASE"`
	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`
	Storage struct {
		Driver string `mapstructure:"DRIVER" validate:"omitempty,oneof=minio cloudinary"`
	} `mapstructure:"STORAGE"`
	Minio struct {
		Endpoint   string `mapstructure:"ENDPOINT"`
		AccessKey  string `mapstructure:"ACCESS_KEY"`
		SecretKey  string `mapstructure:"SECRET_KEY"`
		Secure     bool   `mapstructure:"SECURE"`
		BucketName string `mapstructure:"BUCKET_NAME"`
	} `mapstructure:"MINIO"`
	Cloudinary struct {
		URL    string `mapstructure:"URL"`
		Folder string `mapstructure:"FOLDER"`
	} `mapstructure:"CLOUDINARY"`
	Admin struct {
		APIKey string `mapstructure:"API_KEY"`
	} `mapstructure:"ADMIN"`
	Conversion Conversion `mapstructure:"CONVERSION"`
	Sweep      Sweep      `mapstructure:"SWEEP"`
	Flagsmith  struct {
		Addr   string `mapstructure:"ADDR"`
		ApiKey string `mapstructure:"API_KEY"`
	} `mapstructure:"FLAGSMITH"`
	Consul struct {
		Addr        string `mapstructure:"ADDR"`
		ServiceHost string `mapstructure:"SERVICE_HOST"`
	} `mapstructure:"CONSUL"`
}

// Conversion holds the billing and quota policy of the conversion pipeline.
type Conversion struct {
	CostPerConversion int64         `mapstructure:"COST_PER_CONVERSION" validate:"gte=1"`
	ReferralBonus     int64         `mapstructure:"REFERRAL_BONUS" validate:"gte=0"`
	InitialCredits    int64         `mapstructure:"INITIAL_CREDITS" validate:"gte=0"`
	MaxFileSizeBytes  int64         `mapstructure:"MAX_FILE_SIZE_BYTES" validate:"gt=0"`
	RetentionWindow   time.Duration `mapstructure:"RETENTION_WINDOW" validate:"gt=0"`
	DailyLimit        int64         `mapstructure:"DAILY_LIMIT" validate:"gte=0"`
	SessionTTL        time.Duration `mapstructure:"SESSION_TTL" validate:"gt=0"`
	Timeout           time.Duration `mapstructure:"TIMEOUT"`
	Timezone          string        `mapstructure:"TIMEZONE"`
	WorkDir           string        `mapstructure:"WORK_DIR"`
	// SourceHosts lists the hosts http(s) sources may be fetched from.
	SourceHosts []string `mapstructure:"SOURCE_HOSTS"`
	// UploadRoot is the only directory local sources may be read from.
	// Empty disables local sources.
	UploadRoot string `mapstructure:"UPLOAD_ROOT"`
}

// Location is the zone daily limits are counted in. Unknown zones fall back
// to UTC.
func (c Conversion) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		zap.L().Warn("unknown conversion timezone, using UTC", zap.String("timezone", c.Timezone), zap.Error(err))
		return time.UTC
	}
	return loc
}

type Sweep struct {
	Schedule    string `mapstructure:"SCHEDULE"`
	BatchSize   int    `mapstructure:"BATCH_SIZE" validate:"gte=0"`
	Concurrency int    `mapstructure:"CONCURRENCY" validate:"gte=0"`
}

var Module = fx.Module("config", fx.Provide(LoadConfig))
var RemoteModule = fx.Module("remote.config", fx.Provide(LoadRemote))

type Params struct {
	fx.In
	Vault *vault.Client `optional:"true"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_NAME", "mediaconv")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("HTTP_SERVER.ADDR", "8080")
	v.SetDefault("DATABASE.TYPE", "postgres")
	v.SetDefault("STORAGE.DRIVER", "minio")
	v.SetDefault("CONVERSION.COST_PER_CONVERSION", 1)
	v.SetDefault("CONVERSION.REFERRAL_BONUS", 3)
	v.SetDefault("CONVERSION.INITIAL_CREDITS", 10)
	v.SetDefault("CONVERSION.MAX_FILE_SIZE_BYTES", 20<<20)
	v.SetDefault("CONVERSION.RETENTION_WINDOW", 24*time.Hour)
	v.SetDefault("CONVERSION.DAILY_LIMIT", 10)
	v.SetDefault("CONVERSION.SESSION_TTL", 15*time.Minute)
	v.SetDefault("CONVERSION.TIMEOUT", 10*time.Minute)
	v.SetDefault("CONVERSION.TIMEZONE", "UTC")
	v.SetDefault("CONVERSION.SOURCE_HOSTS", []string{})
	v.SetDefault("CONVERSION.UPLOAD_ROOT", "")
	v.SetDefault("SWEEP.SCHEDULE", "@hourly")
	v.SetDefault("SWEEP.BATCH_SIZE", 500)
	v.SetDefault("SWEEP.CONCURRENCY", 4)
}

// Validate checks the policy values the services rely on.
func (c *Config) Validate() error {
	return validator.New().Struct(c)
}

func LoadConfig(p Params) *Config {
	if err := godotenv.Load(); err != nil {
		zap.L().Debug("no .env file loaded", zap.Error(err))
	}

	config.SetConfigName("config")
	config.SetConfigType("yaml")
	config.AddConfigPath(".")

	config.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	config.AutomaticEnv()
	setDefaults(config)

	if err := config.ReadInConfig(); err != nil {
		zap.L().Error("failed to read config", zap.Error(err))
		os.Exit(1)
	}

	var cfg Config
	if err := config.Unmarshal(&cfg); err != nil {
		zap.L().Error("failed to unmarshal config", zap.Error(err))
		os.Exit(1)
	}

	if p.Vault != nil {
		applySecrets(p.Vault, &cfg)
	}

	if err := cfg.Validate(); err != nil {
		zap.L().Error("invalid config", zap.Error(err))
		os.Exit(1)
	}

	return &cfg
}

func LoadRemote(p Params) *Config {
	if p.Vault == nil {
		zap.L().Error("vault can't provide")
		os.Exit(1)
	}

	if v, ok := os.LookupEnv("REMOTE_CONFIG_PROVIDER"); ok {
		backend = v
	}

	if v, ok := os.LookupEnv("REMOTE_CONFIG_ADDR"); ok {
		backendAddr = v
	}

	if v, ok := os.LookupEnv("REMOTE_CONFIG_PATH"); ok {
		backendPath = v
	}

	setDefaults(config)
	config.SetConfigType(configType)
	if err := config.AddRemoteProvider(backend, backendAddr, backendPath); err != nil {
		os.Exit(1)
	}

	if err := config.ReadRemoteConfig(); err != nil {
		os.Exit(1)
	}

	var cfg Config
	if err := config.Unmarshal(&cfg); err != nil {
		os.Exit(1)
	}
	configHolder.Store(&cfg)

	go func() {
		for {
			time.Sleep(time.Second * 5)

			if err := config.WatchRemoteConfig(); err != nil {
				zap.L().Error("unable to read remote config", zap.Error(err))
				continue
			}

			var newcfg Config
			if err := config.Unmarshal(&newcfg); err != nil {
				zap.L().Error("unable to unmarshal remote config", zap.Error(err))
				continue
			}
			configHolder.Store(&newcfg)
		}
	}()

	applySecrets(p.Vault, &cfg)

	if err := cfg.Validate(); err != nil {
		zap.L().Error("invalid remote config", zap.Error(err))
		os.Exit(1)
	}

	return &cfg
}

// Current returns the latest remote config snapshot, if remote loading is in use.
func Current() *Config {
	if cfg, ok := configHolder.Load().(*Config); ok {
		return cfg
	}
	return nil
}

func applySecrets(client *vault.Client, cfg *Config) {
	ctx := context.Background()

	zap.L().Info("Starting Get Secrets", zap.String("path", cfg.AppEnv))
	secret, err := client.Secrets.KvV2Read(ctx, cfg.AppEnv, vault.WithMountPath("secret"))
	if err != nil {
		zap.L().Error("failed get secret from vault", zap.Error(err))
		os.Exit(1)
	}
	zap.L().Info("Success Get Secret")

	get := func(key string) string {
		if val, ok := secret.Data.Data[key].(string); ok {
			return val
		}
		return ""
	}

	cfg.Database.User = get("postgres_user")
	cfg.Database.Password = get("postgres_password")
	cfg.Redis.Password = get("redis_password")
	cfg.Minio.AccessKey = get("minio_access_key")
	cfg.Minio.SecretKey = get("minio_secret_key")
	cfg.Admin.APIKey = get("admin_api_key")
	if url := get("cloudinary_url"); url != "" {
		cfg.Cloudinary.URL = url
	}
}
