package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/configcat/configcat-experiment-hook/log"
	"gopkg.in/yaml.v3"
)

const (
	FirehoseDelivery = "firehose"
	RedisDelivery    = "redis"
	PubSubDelivery   = "pubsub"

	defaultFlagKey = "default-flag-key"
)

var allowedTlsVersions = map[float64]uint16{
	1.0: tls.VersionTLS10,
	1.1: tls.VersionTLS11,
	1.2: tls.VersionTLS12,
	1.3: tls.VersionTLS13,
}

type Config struct {
	Log       LogConfig
	SDK       SDKConfig       `yaml:"sdk"`
	OFREP     OFREPConfig     `yaml:"ofrep"`
	FlagKey   string          `yaml:"flag_key"`
	Context   string          `yaml:"context"`
	Delivery  DeliveryConfig  `yaml:"delivery"`
	Hook      HookConfig      `yaml:"hook"`
	Diag      DiagConfig      `yaml:"diag"`
	HttpProxy HttpProxyConfig `yaml:"http_proxy"`
	CI        bool            `yaml:"ci"`
}

type SDKConfig struct {
	Key            string `yaml:"key"`
	BaseUrl        string `yaml:"base_url"`
	PollInterval   int    `yaml:"poll_interval"`
	DataGovernance string `yaml:"data_governance"`
	Log            LogConfig
}

type OFREPConfig struct {
	Url     string            `yaml:"url"`
	ApiKey  string            `yaml:"api_key"`
	Headers map[string]string `yaml:"headers"`
}

type HookConfig struct {
	Log LogConfig
}

type DeliveryConfig struct {
	Type       string `yaml:"type"`
	StreamName string `yaml:"stream_name"`
	Firehose   FirehoseConfig
	Redis      RedisConfig
	PubSub     PubSubConfig `yaml:"pubsub"`
	Log        LogConfig
}

type FirehoseConfig struct {
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
}

type RedisConfig struct {
	Addresses []string `yaml:"addresses"`
	DB        int      `yaml:"db"`
	User      string   `yaml:"user"`
	Password  string   `yaml:"password"`
	MaxLen    int64    `yaml:"max_len"`
	Tls       TlsConfig
}

type PubSubConfig struct {
	ProjectID string `yaml:"project_id"`
}

type DiagConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
	Metrics MetricsConfig
	Traces  TraceConfig
	Status  StatusConfig
}

type MetricsConfig struct {
	Enabled    bool `yaml:"enabled"`
	Prometheus PrometheusExporterConfig
	Otlp       OtlpExporterConfig
}

type TraceConfig struct {
	Enabled bool `yaml:"enabled"`
	Otlp    OtlpExporterConfig
}

type PrometheusExporterConfig struct {
	Enabled bool `yaml:"enabled"`
}

type OtlpExporterConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Protocol string `yaml:"protocol"`
	Endpoint string `yaml:"endpoint"`
}

type StatusConfig struct {
	Enabled bool `yaml:"enabled"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type HttpProxyConfig struct {
	Url string `yaml:"url"`
}

type CertConfig struct {
	Key  string `yaml:"key"`
	Cert string `yaml:"cert"`
}

type TlsConfig struct {
	Enabled      bool    `yaml:"enabled"`
	MinVersion   float64 `yaml:"min_version"`
	ServerName   string  `yaml:"server_name"`
	Certificates []CertConfig
}

func LoadConfigFromFileAndEnvironment(filePath string) (Config, error) {
	var config Config
	config.setDefaults()

	if filePath != "" {
		_, err := os.Stat(filePath)
		if errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("config file %s does not exist: %s", filePath, err)
		}
		realPath, err := filepath.EvalSymlinks(filePath)
		if err != nil {
			return Config{}, fmt.Errorf("failed to eval symlink for %s: %s", filePath, err)
		}
		data, err := os.ReadFile(realPath)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file %s: %s", realPath, err)
		}

		err = yaml.Unmarshal(data, &config)
		if err != nil {
			return Config{}, fmt.Errorf("failed to parse YAML from config file %s: %s", realPath, err)
		}
	}

	config.loadEnv()
	eventLevel := config.Log.Level
	if config.Log.GetLevel() == log.None {
		config.Log.Level = "warn"
		eventLevel = "info"
	}
	config.fixupLogLevels(config.Log.Level, eventLevel)
	return config, nil
}

func (l *LogConfig) GetLevel() log.Level {
	return log.ParseLevel(l.Level)
}

func (c *DiagConfig) IsMetricsEnabled() bool {
	return c.Enabled && c.Metrics.Enabled
}

func (c *DiagConfig) IsTracesEnabled() bool {
	return c.Enabled && c.Traces.Enabled
}

func (c *DiagConfig) IsStatusEnabled() bool {
	return c.Enabled && c.Status.Enabled
}

func (o *OFREPConfig) IsSet() bool {
	return o.Url != ""
}

func (t *TlsConfig) GetVersion() uint16 {
	if ver, ok := allowedTlsVersions[t.MinVersion]; ok {
		return ver
	}
	return tls.VersionTLS12
}

func (t *TlsConfig) LoadTlsOptions() (*tls.Config, error) {
	conf := &tls.Config{
		MinVersion: t.GetVersion(),
		ServerName: t.ServerName,
	}
	for _, c := range t.Certificates {
		if cert, err := tls.LoadX509KeyPair(c.Cert, c.Key); err == nil {
			conf.Certificates = append(conf.Certificates, cert)
		} else {
			return nil, fmt.Errorf("failed to load certificate and key files: %s", err)
		}
	}
	return conf, nil
}

func (c *Config) setDefaults() {
	c.FlagKey = defaultFlagKey

	c.SDK.PollInterval = 30

	c.Delivery.Type = FirehoseDelivery
	c.Delivery.Redis.Addresses = []string{"localhost:6379"}
	c.Delivery.Redis.Tls.MinVersion = 1.2

	c.Diag.Port = 8051
	c.Diag.Metrics.Enabled = true
	c.Diag.Metrics.Prometheus.Enabled = true
	c.Diag.Metrics.Otlp.Protocol = "http"
	c.Diag.Metrics.Otlp.Endpoint = "localhost:4318"
	c.Diag.Traces.Otlp.Protocol = "http"
	c.Diag.Traces.Otlp.Endpoint = "localhost:4318"
	c.Diag.Status.Enabled = true
}

// fixupLogLevels fills the unset component levels. The hook and delivery
// components report each experiment event on info, so they default to
// eventLevel.
func (c *Config) fixupLogLevels(defLevel string, eventLevel string) {
	if c.SDK.Log.GetLevel() == log.None {
		c.SDK.Log.Level = defLevel
	}
	if c.Delivery.Log.GetLevel() == log.None {
		c.Delivery.Log.Level = eventLevel
	}
	if c.Hook.Log.GetLevel() == log.None {
		c.Hook.Log.Level = eventLevel
	}
}
