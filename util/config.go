package util

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const Name = "vidfed"
const ConfigFileName = "config.yaml"
const EnvPrefix = "VIDFED"

//go:embed config_default.yaml
var embeddedConfig []byte

type ServerConfig struct {
	Host         string `mapstructure:"host" yaml:"host"`
	HttpPort     int    `mapstructure:"httpPort" yaml:"httpPort"`
	Domain       string `mapstructure:"domain" yaml:"domain"`
	Scheme       string `mapstructure:"scheme" yaml:"scheme"`
	InstanceName string `mapstructure:"instanceName" yaml:"instanceName"`
	SecretKey    string `mapstructure:"secretKey" yaml:"secretKey"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

type KeysConfig struct {
	Private string `mapstructure:"private" yaml:"private"`
	Public  string `mapstructure:"public" yaml:"public"`
}

// RedisConfig selects the task broker. An empty URL keeps tasks in memory.
type RedisConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
	Key string `mapstructure:"key" yaml:"key"`
}

type TasksConfig struct {
	Workers     int `mapstructure:"workers" yaml:"workers"`
	MaxAttempts int `mapstructure:"maxAttempts" yaml:"maxAttempts"`
}

type FederationConfig struct {
	PageSize          int           `mapstructure:"pageSize" yaml:"pageSize"`
	VerifySignatures  bool          `mapstructure:"verifySignatures" yaml:"verifySignatures"`
	FetchTimeout      time.Duration `mapstructure:"fetchTimeout" yaml:"fetchTimeout"`
	DeliveryTimeout   time.Duration `mapstructure:"deliveryTimeout" yaml:"deliveryTimeout"`
	DeliveryInterval  time.Duration `mapstructure:"deliveryInterval" yaml:"deliveryInterval"`
	BroadcastInterval time.Duration `mapstructure:"broadcastInterval" yaml:"broadcastInterval"`
	ReindexInterval   time.Duration `mapstructure:"reindexInterval" yaml:"reindexInterval"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	Prometheus  bool   `mapstructure:"prometheus" yaml:"prometheus"`
	JaegerURL   string `mapstructure:"jaegerURL" yaml:"jaegerURL"`
	ServiceName string `mapstructure:"serviceName" yaml:"serviceName"`
}

// AppConfig is loaded once at startup and passed explicitly to every component.
type AppConfig struct {
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
	Database   DatabaseConfig   `mapstructure:"database" yaml:"database"`
	Keys       KeysConfig       `mapstructure:"keys" yaml:"keys"`
	Redis      RedisConfig      `mapstructure:"redis" yaml:"redis"`
	Tasks      TasksConfig      `mapstructure:"tasks" yaml:"tasks"`
	Federation FederationConfig `mapstructure:"federation" yaml:"federation"`
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry" yaml:"telemetry"`
}

// ReadConf layers the embedded defaults, the config file and VIDFED_* environment
// variables, in that order. An empty path resolves config.yaml locally first and
// then in the user config directory; a missing file is not an error.
func ReadConf(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(embeddedConfig)); err != nil {
		return nil, fmt.Errorf("in embedded config: %w", err)
	}

	if path == "" {
		path = ResolveFilePath(ConfigFileName)
	}
	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("in config file %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	c := &AppConfig{}
	if err := v.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return c, nil
}

// Validate validates the configuration
func (c *AppConfig) Validate() error {
	if c.Server.Domain == "" {
		return fmt.Errorf("server.domain is required")
	}
	if c.Server.Scheme != "http" && c.Server.Scheme != "https" {
		return fmt.Errorf("server.scheme must be http or https, got %q", c.Server.Scheme)
	}
	if c.Server.HttpPort <= 0 || c.Server.HttpPort > 65535 {
		return fmt.Errorf("server.httpPort must be between 1 and 65535")
	}
	if c.Server.SecretKey == "" {
		return fmt.Errorf("server.secretKey is required")
	}
	if c.Keys.Private == "" || c.Keys.Public == "" {
		return fmt.Errorf("keys.private and keys.public are required")
	}
	if c.Federation.PageSize <= 0 || c.Federation.PageSize > 100 {
		return fmt.Errorf("federation.pageSize must be between 1 and 100")
	}
	if c.Tasks.Workers <= 0 || c.Tasks.Workers > 64 {
		return fmt.Errorf("tasks.workers must be between 1 and 64")
	}
	if c.Tasks.MaxAttempts <= 0 {
		return fmt.Errorf("tasks.maxAttempts must be positive")
	}
	return nil
}

// BaseURL is the scheme and domain every local IRI is built from.
func (c *AppConfig) BaseURL() string {
	return fmt.Sprintf("%s://%s", c.Server.Scheme, c.Server.Domain)
}

// DumpConf renders the effective configuration as YAML.
func DumpConf(c *AppConfig) (string, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
