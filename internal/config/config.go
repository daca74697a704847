// Package config loads addresskit configuration from environment and file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// AllStates is the closed set of G-NAF administrative regions.
var AllStates = []string{"ACT", "NSW", "NT", "OT", "QLD", "SA", "TAS", "VIC", "WA"}

// DefaultPackageURL is the data.gov.au registry entry for the quarterly G-NAF release.
const DefaultPackageURL = "https://data.gov.au/api/3/action/package_show?id=19432f89-dc3a-4ef3-b943-5326ef1dbecc"

// Config holds the full application configuration.
type Config struct {
	GNAF    GNAFConfig    `yaml:"gnaf" mapstructure:"gnaf"`
	Elastic ElasticConfig `yaml:"elastic" mapstructure:"elastic"`
	Index   IndexConfig   `yaml:"index" mapstructure:"index"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// GNAFConfig configures the ingestion pipeline.
type GNAFConfig struct {
	// PackageURL is the data.gov.au package_show endpoint for the G-NAF release.
	PackageURL string `yaml:"package_url" mapstructure:"package_url"`
	// Dir is the extraction root for archives and unpacked trees.
	Dir string `yaml:"dir" mapstructure:"dir"`
	// CacheDir holds the package manifest and HTTP response caches.
	CacheDir string `yaml:"cache_dir" mapstructure:"cache_dir"`
	// CoveredStates is the raw COVERED_STATES value (comma-separated codes).
	CoveredStates string `yaml:"covered_states" mapstructure:"covered_states"`
	// EnableGeo switches geocode mapping and indexing.
	EnableGeo bool `yaml:"enable_geo" mapstructure:"enable_geo"`
	// ChunkSizeMB bounds bytes of source read per CSV chunk.
	ChunkSizeMB int `yaml:"chunk_size_mb" mapstructure:"chunk_size_mb"`
}

// ElasticConfig configures the search backend connection.
type ElasticConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	Protocol string `yaml:"protocol" mapstructure:"protocol"`
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
	// IndexName is the backend index documents are written to.
	IndexName string `yaml:"index_name" mapstructure:"index_name"`
}

// Addresses returns the backend address list for the client.
func (e ElasticConfig) Addresses() []string {
	return []string{fmt.Sprintf("%s://%s:%d", e.Protocol, e.Host, e.Port)}
}

// IndexConfig configures bulk submission behaviour.
type IndexConfig struct {
	// Timeout bounds a single bulk request.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
	// Backoff is the initial retry delay after a failed bulk submit.
	Backoff time.Duration `yaml:"backoff" mapstructure:"backoff"`
	// BackoffIncrement is added to the delay after each failure.
	BackoffIncrement time.Duration `yaml:"backoff_increment" mapstructure:"backoff_increment"`
	// BackoffMax caps the retry delay.
	BackoffMax time.Duration `yaml:"backoff_max" mapstructure:"backoff_max"`
}

// ServerConfig configures the query API server.
type ServerConfig struct {
	Port     int `yaml:"port" mapstructure:"port"`
	PageSize int `yaml:"page_size" mapstructure:"page_size"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from environment and optional config file.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("addresskit")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.AutomaticEnv()

	// The published environment surface predates this tool and does not share
	// a prefix, so each key is bound explicitly.
	bindings := map[string]string{
		"gnaf.package_url":        "GNAF_PACKAGE_URL",
		"gnaf.dir":                "GNAF_DIR",
		"gnaf.cache_dir":          "ADDRESSKIT_CACHE_DIR",
		"gnaf.covered_states":     "COVERED_STATES",
		"gnaf.enable_geo":         "ADDRESSKIT_ENABLE_GEO",
		"gnaf.chunk_size_mb":      "ADDRESSKIT_LOADING_CHUNK_SIZE",
		"elastic.host":            "ELASTIC_HOST",
		"elastic.port":            "ELASTIC_PORT",
		"elastic.protocol":        "ELASTIC_PROTOCOL",
		"elastic.username":        "ELASTIC_USERNAME",
		"elastic.password":        "ELASTIC_PASSWORD",
		"elastic.index_name":      "ES_INDEX_NAME",
		"index.timeout":           "ADDRESSKIT_INDEX_TIMEOUT",
		"index.backoff":           "ADDRESSKIT_INDEX_BACKOFF",
		"index.backoff_increment": "ADDRESSKIT_INDEX_BACKOFF_INCREMENT",
		"index.backoff_max":       "ADDRESSKIT_INDEX_BACKOFF_MAX",
		"server.port":             "ADDRESSKIT_PORT",
		"server.page_size":        "PAGE_SIZE",
		"log.level":               "ADDRESSKIT_LOG_LEVEL",
		"log.format":              "ADDRESSKIT_LOG_FORMAT",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, eris.Wrapf(err, "config: bind %s", env)
		}
	}

	v.SetDefault("gnaf.package_url", DefaultPackageURL)
	v.SetDefault("gnaf.dir", "target/gnaf")
	v.SetDefault("gnaf.cache_dir", "target")
	v.SetDefault("gnaf.covered_states", "")
	v.SetDefault("gnaf.enable_geo", false)
	v.SetDefault("gnaf.chunk_size_mb", 10)
	v.SetDefault("elastic.host", "localhost")
	v.SetDefault("elastic.port", 9200)
	v.SetDefault("elastic.protocol", "http")
	v.SetDefault("elastic.index_name", "addresskit")
	v.SetDefault("index.timeout", 30*time.Second)
	v.SetDefault("index.backoff", 30*time.Second)
	v.SetDefault("index.backoff_increment", 30*time.Second)
	v.SetDefault("index.backoff_max", 600*time.Second)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.page_size", 8)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Covered resolves the region filter. All codes must belong to the closed
// region set; any invalid entry collapses the filter to full coverage.
func (g GNAFConfig) Covered() []string {
	raw := strings.TrimSpace(g.CoveredStates)
	if raw == "" {
		return AllStates
	}

	valid := make(map[string]bool, len(AllStates))
	for _, s := range AllStates {
		valid[s] = true
	}

	var covered []string
	for _, part := range strings.Split(raw, ",") {
		code := strings.ToUpper(strings.TrimSpace(part))
		if code == "" {
			continue
		}
		if !valid[code] {
			zap.L().Warn("invalid state in COVERED_STATES, falling back to all states",
				zap.String("state", code),
			)
			return AllStates
		}
		covered = append(covered, code)
	}
	if len(covered) == 0 {
		return AllStates
	}
	return covered
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
