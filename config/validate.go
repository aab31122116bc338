package config

import (
	"fmt"
)

func (c *Config) Validate() error {
	if c.FlagKey == "" {
		return fmt.Errorf("flag: flag key is required")
	}
	if !c.OFREP.IsSet() {
		if err := c.SDK.validate(); err != nil {
			return err
		}
	}
	if err := c.Delivery.validate(); err != nil {
		return err
	}
	if err := c.Diag.validate(); err != nil {
		return err
	}
	return nil
}

func (s *SDKConfig) validate() error {
	if s.Key == "" {
		return fmt.Errorf("sdk: SDK key is required")
	}
	if s.DataGovernance != "" && s.DataGovernance != "global" && s.DataGovernance != "eu" {
		return fmt.Errorf("sdk: invalid data governance value, it must be 'global' or 'eu'")
	}
	if s.PollInterval < 1 {
		return fmt.Errorf("sdk: poll interval must be greater than 1 seconds")
	}
	return nil
}

// validate doesn't check the stream name, a missing name only disables
// delivery.
func (d *DeliveryConfig) validate() error {
	switch d.Type {
	case FirehoseDelivery, PubSubDelivery:
	case RedisDelivery:
		if err := d.Redis.validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("delivery: invalid type '%s', it must be 'firehose', 'redis' or 'pubsub'", d.Type)
	}
	return nil
}

func (r *RedisConfig) validate() error {
	if len(r.Addresses) == 0 {
		return fmt.Errorf("redis: at least 1 server address required")
	}
	if r.MaxLen < 0 {
		return fmt.Errorf("redis: max stream length can't be negative")
	}
	if err := r.Tls.validate(); err != nil {
		return err
	}
	return nil
}

func (t *TlsConfig) validate() error {
	if !t.Enabled {
		return nil
	}
	for _, cert := range t.Certificates {
		if (cert.Cert != "" && cert.Key == "") || (cert.Key != "" && cert.Cert == "") {
			return fmt.Errorf("tls: both TLS cert and key file required")
		}
	}
	return nil
}

func (d *DiagConfig) validate() error {
	if !d.Enabled {
		return nil
	}
	if d.Port < 1 || d.Port > 65535 {
		return fmt.Errorf("diag: invalid port %d", d.Port)
	}
	if d.Metrics.Enabled {
		if err := d.Metrics.Otlp.validate("metrics"); err != nil {
			return err
		}
	}
	if d.Traces.Enabled {
		if err := d.Traces.Otlp.validate("traces"); err != nil {
			return err
		}
	}
	return nil
}

func (o *OtlpExporterConfig) validate(signal string) error {
	if !o.Enabled {
		return nil
	}
	if o.Protocol != "grpc" && o.Protocol != "http" && o.Protocol != "https" {
		return fmt.Errorf("diag: invalid %s OTLP protocol '%s', it must be 'grpc', 'http' or 'https'", signal, o.Protocol)
	}
	return nil
}
