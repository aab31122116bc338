package config

import (
	"encoding/json"
	"os"
	"strconv"
)

var envPrefix = "CONFIGCAT"

// ciEnv skips the wait loop of the demo when set to any value.
const ciEnv = "CI"

var toInt = func(s string) (int, error) { return strconv.Atoi(s) }
var toInt64 = func(s string) (int64, error) { return strconv.ParseInt(s, 10, 64) }
var toBool = func(s string) (bool, error) { return strconv.ParseBool(s) }
var toFloat = func(s string) (float64, error) { return strconv.ParseFloat(s, 64) }
var toStringSlice = func(s string) ([]string, error) {
	var r []string
	if err := json.Unmarshal([]byte(s), &r); err != nil {
		return nil, err
	}
	return r, nil
}
var toCertConfigSlice = func(s string) ([]CertConfig, error) {
	var r []CertConfig
	if err := json.Unmarshal([]byte(s), &r); err != nil {
		return nil, err
	}
	return r, nil
}
var toStringMap = func(s string) (map[string]string, error) {
	var r map[string]string
	if err := json.Unmarshal([]byte(s), &r); err != nil {
		return nil, err
	}
	return r, nil
}

func (c *Config) loadEnv() {
	readEnvString(envPrefix, "FLAG_KEY", &c.FlagKey)
	readEnvString(envPrefix, "CONTEXT", &c.Context)
	if _, ok := os.LookupEnv(ciEnv); ok {
		c.CI = true
	}
	c.SDK.loadEnv(envPrefix)
	c.OFREP.loadEnv(envPrefix)
	c.Delivery.loadEnv(envPrefix)
	c.Hook.loadEnv(envPrefix)
	c.Diag.loadEnv(envPrefix)
	c.HttpProxy.loadEnv(envPrefix)
	c.Log.loadEnv(envPrefix)
}

func (s *SDKConfig) loadEnv(prefix string) {
	prefix = concatPrefix(prefix, "SDK")
	readEnvString(prefix, "KEY", &s.Key)
	readEnvString(prefix, "BASE_URL", &s.BaseUrl)
	readEnvString(prefix, "DATA_GOVERNANCE", &s.DataGovernance)
	readEnv(prefix, "POLL_INTERVAL", &s.PollInterval, toInt)
	s.Log.loadEnv(prefix)
}

func (o *OFREPConfig) loadEnv(prefix string) {
	prefix = concatPrefix(prefix, "OFREP")
	readEnvString(prefix, "URL", &o.Url)
	readEnvString(prefix, "API_KEY", &o.ApiKey)
	readEnv(prefix, "HEADERS", &o.Headers, toStringMap)
}

func (d *DeliveryConfig) loadEnv(prefix string) {
	prefix = concatPrefix(prefix, "DELIVERY")
	readEnvString(prefix, "TYPE", &d.Type)
	readEnvString(prefix, "STREAM_NAME", &d.StreamName)
	d.Firehose.loadEnv(prefix)
	d.Redis.loadEnv(prefix)
	d.PubSub.loadEnv(prefix)
	d.Log.loadEnv(prefix)
}

func (h *HookConfig) loadEnv(prefix string) {
	h.Log.loadEnv(concatPrefix(prefix, "HOOK"))
}

func (f *FirehoseConfig) loadEnv(prefix string) {
	prefix = concatPrefix(prefix, "FIREHOSE")
	readEnvString(prefix, "REGION", &f.Region)
	readEnvString(prefix, "ENDPOINT", &f.Endpoint)
}

func (r *RedisConfig) loadEnv(prefix string) {
	prefix = concatPrefix(prefix, "REDIS")
	readEnvString(prefix, "USER", &r.User)
	readEnvString(prefix, "PASSWORD", &r.Password)
	readEnv(prefix, "DB", &r.DB, toInt)
	readEnv(prefix, "MAX_LEN", &r.MaxLen, toInt64)
	readEnv(prefix, "ADDRESSES", &r.Addresses, toStringSlice)
	r.Tls.loadEnv(prefix)
}

func (p *PubSubConfig) loadEnv(prefix string) {
	prefix = concatPrefix(prefix, "PUBSUB")
	readEnvString(prefix, "PROJECT_ID", &p.ProjectID)
}

func (d *DiagConfig) loadEnv(prefix string) {
	prefix = concatPrefix(prefix, "DIAG")
	readEnv(prefix, "ENABLED", &d.Enabled, toBool)
	readEnv(prefix, "PORT", &d.Port, toInt)
	readEnv(concatPrefix(prefix, "STATUS"), "ENABLED", &d.Status.Enabled, toBool)
	d.Metrics.loadEnv(prefix)
	d.Traces.loadEnv(prefix)
}

func (m *MetricsConfig) loadEnv(prefix string) {
	prefix = concatPrefix(prefix, "METRICS")
	readEnv(prefix, "ENABLED", &m.Enabled, toBool)
	readEnv(concatPrefix(prefix, "PROMETHEUS"), "ENABLED", &m.Prometheus.Enabled, toBool)
	m.Otlp.loadEnv(prefix)
}

func (t *TraceConfig) loadEnv(prefix string) {
	prefix = concatPrefix(prefix, "TRACES")
	readEnv(prefix, "ENABLED", &t.Enabled, toBool)
	t.Otlp.loadEnv(prefix)
}

func (o *OtlpExporterConfig) loadEnv(prefix string) {
	prefix = concatPrefix(prefix, "OTLP")
	readEnv(prefix, "ENABLED", &o.Enabled, toBool)
	readEnvString(prefix, "PROTOCOL", &o.Protocol)
	readEnvString(prefix, "ENDPOINT", &o.Endpoint)
}

func (h *HttpProxyConfig) loadEnv(prefix string) {
	prefix = concatPrefix(prefix, "HTTP_PROXY")
	readEnvString(prefix, "URL", &h.Url)
}

func (t *TlsConfig) loadEnv(prefix string) {
	prefix = concatPrefix(prefix, "TLS")
	readEnvString(prefix, "SERVER_NAME", &t.ServerName)
	readEnv(prefix, "MIN_VERSION", &t.MinVersion, toFloat)
	readEnv(prefix, "ENABLED", &t.Enabled, toBool)
	readEnv(prefix, "CERTIFICATES", &t.Certificates, toCertConfigSlice)
}

func (l *LogConfig) loadEnv(prefix string) {
	prefix = concatPrefix(prefix, "LOG")
	readEnvString(prefix, "LEVEL", &l.Level)
}

func readEnv[T any](prefix string, key string, in *T, conv func(string) (T, error)) {
	if env := os.Getenv(prefix + "_" + key); env != "" {
		if r, err := conv(env); err == nil {
			*in = r
		}
	}
}

func readEnvString(prefix string, key string, in *string) {
	if env := os.Getenv(prefix + "_" + key); env != "" {
		*in = env
	}
}

func concatPrefix(p1 string, p2 string) string {
	return p1 + "_" + p2
}
