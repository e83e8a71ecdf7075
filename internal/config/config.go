package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/tagwatch/tagwatch/internal/model"
)

const DefaultConfigPath = "/app/config/config.yaml"

type Config struct {
	//Application config
	LogLevel          string `mapstructure:"LogLevel"`
	APIPort           string `mapstructure:"API_PORT"`
	MetricsEnabled    bool   `mapstructure:"METRICS_ENABLED"`
	PrometheusPort    string `mapstructure:"PROMETHEUS_PORT"`
	AnnotationPrefix  string `mapstructure:"ANNOTATION_PREFIX"`
	WatchNamespace    string `mapstructure:"WATCH_NAMESPACE"`
	ReadHeaderTimeout int    `mapstructure:"READ_HEADER_TIMEOUT"`

	// Database config
	DBDriver string `mapstructure:"DB_DRIVER" validate:"oneof=sqlite postgres"`
	DBDSN    string `mapstructure:"DB_DSN"`

	// Registry and git network bounds
	RegistryTimeout time.Duration `mapstructure:"REGISTRY_TIMEOUT"`
	GitopsTimeout   time.Duration `mapstructure:"GITOPS_TIMEOUT"`
	GitopsWorkspace string        `mapstructure:"GITOPS_WORKSPACE"`

	// History export
	ExportBucket string `mapstructure:"EXPORT_S3_BUCKET"`
	ExportRegion string `mapstructure:"EXPORT_S3_REGION"`

	System        System         `mapstructure:"system"`
	Notifications Notifications  `mapstructure:"notifications"`
	Gitops        []GitopsConfig `mapstructure:"gitops" validate:"unique=Name,dive"`
}

type System struct {
	Schedule      string `mapstructure:"schedule" json:"schedule" validate:"required"`
	DataDir       string `mapstructure:"data_dir" json:"data_dir"`
	RunAtStartup  bool   `mapstructure:"run_at_startup" json:"run_at_startup"`
	AutoRemediate bool   `mapstructure:"auto_remediate" json:"auto_remediate"`
}

// GitopsConfig describes one repository that remediation may push to. The
// access token is read from the environment variable named by
// AccessTokenEnvName and is never part of the configuration itself.
type GitopsConfig struct {
	Name               string `mapstructure:"name" json:"name" validate:"required"`
	RepositoryURL      string `mapstructure:"repository_url" json:"repository_url" validate:"required,url"`
	Branch             string `mapstructure:"branch" json:"branch" validate:"required"`
	CommitName         string `mapstructure:"commit_name" json:"commit_name" validate:"required"`
	CommitEmail        string `mapstructure:"commit_email" json:"commit_email" validate:"required,email"`
	AccessTokenEnvName string `mapstructure:"access_token_env_name" json:"access_token_env_name" validate:"required"`
	CommitMessage      string `mapstructure:"commit_message" json:"commit_message" validate:"required"`
}

type Notifications struct {
	Ntfy   Ntfy   `mapstructure:"ntfy" json:"ntfy"`
	Kafka  Kafka  `mapstructure:"kafka" json:"kafka"`
	PubSub PubSub `mapstructure:"pubsub" json:"pubsub"`
}

type Ntfy struct {
	URL      string `mapstructure:"url" json:"url"`
	Topic    string `mapstructure:"topic" json:"topic"`
	Token    string `mapstructure:"token" json:"-"`
	Priority int    `mapstructure:"priority" json:"priority"`
}

type Kafka struct {
	BootstrapServers string `mapstructure:"bootstrap_servers" json:"bootstrap_servers"`
	Topic            string `mapstructure:"topic" json:"topic"`
	SASLMechanism    string `mapstructure:"sasl_mechanism" json:"sasl_mechanism"`
	SecurityProtocol string `mapstructure:"security_protocol" json:"security_protocol"`
	Username         string `mapstructure:"username" json:"-"`
	Password         string `mapstructure:"password" json:"-"`
	CA               string `mapstructure:"ca" json:"-"`
}

type PubSub struct {
	// Full topic path: projects/<project>/topics/<topic>
	Topic string `mapstructure:"topic" json:"topic"`
}

var cfg *Config = nil

func setDefaults(v *viper.Viper) {
	v.SetDefault("LogLevel", "INFO")
	v.SetDefault("API_PORT", "8080")
	v.SetDefault("METRICS_ENABLED", false)
	v.SetDefault("PROMETHEUS_PORT", "9000")
	v.SetDefault("ANNOTATION_PREFIX", "tagwatch")
	v.SetDefault("WATCH_NAMESPACE", "")
	v.SetDefault("READ_HEADER_TIMEOUT", 10)
	v.SetDefault("DB_DRIVER", "sqlite")
	v.SetDefault("DB_DSN", "")
	v.SetDefault("REGISTRY_TIMEOUT", "30s")
	v.SetDefault("GITOPS_TIMEOUT", "5m")
	v.SetDefault("GITOPS_WORKSPACE", filepath.Join(os.TempDir(), "tagwatch", "repos"))
	v.SetDefault("EXPORT_S3_BUCKET", "")
	v.SetDefault("EXPORT_S3_REGION", "us-east-1")

	v.SetDefault("system.schedule", "0 0 */2 * * *")
	v.SetDefault("system.data_dir", "/app/tagwatch/data")
	v.SetDefault("system.run_at_startup", false)
	v.SetDefault("system.auto_remediate", false)

	v.SetDefault("notifications.ntfy.url", "")
	v.SetDefault("notifications.ntfy.topic", "")
	v.SetDefault("notifications.ntfy.token", "")
	v.SetDefault("notifications.ntfy.priority", 4)
	v.SetDefault("notifications.kafka.bootstrap_servers", "")
	v.SetDefault("notifications.kafka.topic", "tagwatch.updates")
	v.SetDefault("notifications.kafka.sasl_mechanism", "")
	v.SetDefault("notifications.kafka.security_protocol", "")
	v.SetDefault("notifications.kafka.username", "")
	v.SetDefault("notifications.kafka.password", "")
	v.SetDefault("notifications.kafka.ca", "")
	v.SetDefault("notifications.pubsub.topic", "")
}

// Load builds a Config from defaults, the optional YAML file named by
// TAGWATCH_CONFIG (or DefaultConfigPath) and the environment. Nested keys are
// overridden by their upper-cased, underscore-joined form, e.g. SYSTEM_SCHEDULE.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Hack till viper issue get fix - https://github.com/spf13/viper/issues/761
	envKeysMap := &map[string]interface{}{}
	if err := mapstructure.Decode(Config{}, &envKeysMap); err != nil {
		return nil, err
	}
	for k := range *envKeysMap {
		if bindErr := v.BindEnv(k); bindErr != nil {
			return nil, bindErr
		}
	}

	path := os.Getenv("TAGWATCH_CONFIG")
	if path == "" {
		path = DefaultConfigPath
	}
	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("unable to read config file %s: %w", path, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("can not unmarshal config: %w", err)
	}
	if c.DBDSN == "" && c.DBDriver == "sqlite" {
		c.DBDSN = filepath.Join(c.System.DataDir, "data.db")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

var ErrInvalidConfig = fmt.Errorf("%w: invalid settings", model.ErrConfiguration)

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// GitopsByName returns the repository entry joined against a workload's
// git_ops_repo annotation.
func (c *Config) GitopsByName(name string) (GitopsConfig, bool) {
	for _, g := range c.Gitops {
		if g.Name == name {
			return g, true
		}
	}
	return GitopsConfig{}, false
}

// GetConfig returns the process-wide configuration, loading it on first use.
// Only entrypoints call it; components receive *Config explicitly.
func GetConfig() *Config {
	if cfg == nil {
		c, err := Load()
		if err != nil {
			fmt.Println("Can not load config. Exiting.. ", err)
			os.Exit(1)
		}
		cfg = c
	}
	return cfg
}
