// pdfconvapi/config/config.go
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

type Config struct {
	Environment string `mapstructure:"ENVIRONMENT"`
	Port        string `mapstructure:"PORT"`
	BaseURL     string `mapstructure:"BASE"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`

	WorkDir           string        `mapstructure:"WORK_DIR"`
	MaxUploadSize     int64         `mapstructure:"MAX_UPLOAD_SIZE"`
	RetentionHours    int           `mapstructure:"RETENTION_HOURS"`
	ConversionTimeout time.Duration `mapstructure:"CONVERSION_TIMEOUT"`
	SweepInterval     time.Duration `mapstructure:"SWEEP_INTERVAL"`
	MaxConcurrency    int           `mapstructure:"MAX_CONCURRENCY"`
	QueueSize         int           `mapstructure:"QUEUE_SIZE"`
	JPEGParallelism   int           `mapstructure:"JPEG_PARALLELISM"`

	ThrottleEnable   bool    `mapstructure:"THROTTLE_ENABLE"`
	ThrottleCPU      float64 `mapstructure:"THROTTLE_CPU"`
	ThrottleFreeMem  int64   `mapstructure:"THROTTLE_FREEMEM"`
	ThrottleFreeDisk int64   `mapstructure:"THROTTLE_FREEDISK"`

	StoreDriver   string `mapstructure:"STORE_DRIVER"`
	DatabaseURL   string `mapstructure:"DATABASE_URL"`
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`
	RedisPrefix   string `mapstructure:"REDIS_PREFIX"`

	APIKeyHashes []string `mapstructure:"API_KEY_HASHES"`

	OfficeCommand string `mapstructure:"OFFICE_COMMAND"`
	DocxFilter    string `mapstructure:"DOCX_FILTER"`
	PPTFilter     string `mapstructure:"PPT_FILTER"`
	HTMLCommand   string `mapstructure:"HTML_COMMAND"`
	RasterCommand string `mapstructure:"RASTER_COMMAND"`
}

// Retention is the lifetime of a task from its creation.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionHours) * time.Hour
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, EnvProduction)
}

// Validate checks ranges and cross-field rules that decoding cannot express.
func (c *Config) Validate() error {
	switch {
	case c.MaxUploadSize <= 0:
		return fmt.Errorf("MAX_UPLOAD_SIZE must be positive")
	case c.RetentionHours <= 0:
		return fmt.Errorf("RETENTION_HOURS must be positive")
	case c.ConversionTimeout <= 0:
		return fmt.Errorf("CONVERSION_TIMEOUT must be positive")
	case c.SweepInterval <= 0:
		return fmt.Errorf("SWEEP_INTERVAL must be positive")
	case c.MaxConcurrency < 1:
		return fmt.Errorf("MAX_CONCURRENCY must be at least 1")
	case c.QueueSize < 1:
		return fmt.Errorf("QUEUE_SIZE must be at least 1")
	case c.JPEGParallelism < 1:
		return fmt.Errorf("JPEG_PARALLELISM must be at least 1")
	case c.WorkDir == "":
		return fmt.Errorf("WORK_DIR must be set")
	}

	switch c.StoreDriver {
	case StoreMemory:
		if c.IsProduction() {
			return fmt.Errorf("STORE_DRIVER %q is not durable and cannot be used in production", c.StoreDriver)
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for STORE_DRIVER %q", c.StoreDriver)
		}
	case StoreRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required for STORE_DRIVER %q", c.StoreDriver)
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}

	if c.IsProduction() && len(c.APIKeyHashes) == 0 {
		return fmt.Errorf("API_KEY_HASHES must contain at least one hash in production")
	}

	// Without BASE, result links are built from the client's Host header.
	if c.IsProduction() && c.BaseURL == "" {
		return fmt.Errorf("BASE must be set in production")
	}
	if c.BaseURL != "" {
		u, err := url.Parse(c.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("BASE must be an absolute http(s) URL, got %q", c.BaseURL)
		}
	}
	return nil
}

// stringToDurationHookFunc parses Go duration strings.
func stringToDurationHookFunc() mapstructure.DecodeHookFunc {
	return func(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		return time.ParseDuration(data.(string))
	}
}

// stringToByteSizeHookFunc parses human-readable size strings such as "10MB".
func stringToByteSizeHookFunc() mapstructure.DecodeHookFunc {
	return func(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
		if f.Kind() != reflect.String || t.Kind() != reflect.Int64 {
			return data, nil
		}

		var size datasize.ByteSize
		if err := size.UnmarshalText([]byte(data.(string))); err != nil {
			// Not a size string, let the default conversion have a go.
			return data, nil
		}
		return int64(size.Bytes()), nil
	}
}

func Load() (*Config, error) {
	vp := viper.New()

	vp.SetDefault("ENVIRONMENT", EnvDevelopment)
	vp.SetDefault("PORT", "8000")
	vp.SetDefault("BASE", "")
	vp.SetDefault("LOG_LEVEL", "info")

	vp.SetDefault("WORK_DIR", filepath.Join(os.TempDir(), "pdfconvapi"))
	vp.SetDefault("MAX_UPLOAD_SIZE", "10MB")
	vp.SetDefault("RETENTION_HOURS", 24)
	vp.SetDefault("CONVERSION_TIMEOUT", "5m")
	vp.SetDefault("SWEEP_INTERVAL", "1h")
	vp.SetDefault("MAX_CONCURRENCY", 2)
	vp.SetDefault("QUEUE_SIZE", 100)
	vp.SetDefault("JPEG_PARALLELISM", 4)

	vp.SetDefault("THROTTLE_ENABLE", false)
	vp.SetDefault("THROTTLE_CPU", 10.0)
	vp.SetDefault("THROTTLE_FREEMEM", "200MB")
	vp.SetDefault("THROTTLE_FREEDISK", "200MB")

	vp.SetDefault("STORE_DRIVER", StoreMemory)
	vp.SetDefault("DATABASE_URL", "")
	vp.SetDefault("REDIS_ADDR", "localhost:6379")
	vp.SetDefault("REDIS_PASSWORD", "")
	vp.SetDefault("REDIS_DB", 0)
	vp.SetDefault("REDIS_PREFIX", "pdfconv:")

	vp.SetDefault("API_KEY_HASHES", "")

	vp.SetDefault("OFFICE_COMMAND", "soffice -env:UserInstallation=file://${TMPDIR}/lo-profile --headless --norestore --infilter=${FILTER} --convert-to ${EXT} --outdir ${OUTDIR} ${INPUT}")
	vp.SetDefault("DOCX_FILTER", "writer_pdf_import")
	vp.SetDefault("PPT_FILTER", "impress_pdf_import")
	vp.SetDefault("HTML_COMMAND", "pdftohtml -q -s -noframes ${LAYOUT} ${INPUT} ${OUTBASE}")
	vp.SetDefault("RASTER_COMMAND", "pdftoppm -png -singlefile -r ${DPI} -f ${PAGE} -l ${PAGE} ${INPUT} ${OUTBASE}")

	vp.SetConfigName("pdfconvapi_config")
	vp.SetConfigType("yaml")
	vp.AddConfigPath(".")
	vp.AddConfigPath("/etc/pdfconvapi/")

	if err := vp.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	vp.SetEnvPrefix("PDFCONV")
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	var cfg Config
	// The first hook that converts a value wins.
	err := vp.Unmarshal(&cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			stringToDurationHookFunc(),
			stringToByteSizeHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	))
	if err != nil {
		return nil, err
	}
	cfg.APIKeyHashes = compact(cfg.APIKeyHashes)

	return &cfg, nil
}

// compact trims entries and drops empty ones; an unset list decodes as [""].
func compact(in []string) []string {
	out := in[:0]
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
