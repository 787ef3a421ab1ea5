package config

import (
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// Normalize validates the configuration and resets every invalid setting to
// its default, logging each correction. Invalid configuration is never fatal.
func (c *Config) Normalize() {
	c.Operating = c.Operating.Validated()

	err := validate.Struct(c)
	if err == nil {
		return
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		log.Printf("ConfigError: validation failed: %v", err)
		return
	}

	def := Default()
	for _, fe := range verrs {
		if reset, ok := resetters[fe.StructNamespace()]; ok {
			reset(c, def)
			log.Printf("ConfigError: %s=%v failed %q check. Set to default value.", fe.StructNamespace(), fe.Value(), fe.Tag())
			continue
		}
		log.Printf("ConfigError: %s=%v failed %q check", fe.StructNamespace(), fe.Value(), fe.Tag())
	}
}

var resetters = map[string]func(c, def *Config){
	"Config.MQTTBroker":            func(c, def *Config) { c.MQTTBroker = def.MQTTBroker },
	"Config.MQTTClientID":          func(c, def *Config) { c.MQTTClientID = def.MQTTClientID },
	"Config.MQTTTopicPrefix":       func(c, def *Config) { c.MQTTTopicPrefix = def.MQTTTopicPrefix },
	"Config.MQTTQoS":               func(c, def *Config) { c.MQTTQoS = def.MQTTQoS },
	"Config.CoAPPort":              func(c, def *Config) { c.CoAPPort = def.CoAPPort },
	"Config.HTTPPort":              func(c, def *Config) { c.HTTPPort = def.HTTPPort },
	"Config.DataPath":              func(c, def *Config) { c.DataPath = def.DataPath },
	"Config.ModelDir":              func(c, def *Config) { c.ModelDir = def.ModelDir },
	"Config.ForecastHorizon":       func(c, def *Config) { c.ForecastHorizon = def.ForecastHorizon },
	"Config.ForecastStep":          func(c, def *Config) { c.ForecastStep = def.ForecastStep },
	"Config.ForecastSpace":         func(c, def *Config) { c.ForecastSpace = def.ForecastSpace },
	"Config.ModelPolicy":           func(c, def *Config) { c.ModelPolicy = def.ModelPolicy },
	"Config.Workers":               func(c, def *Config) { c.Workers = def.Workers },
	"Config.QueueSize":             func(c, def *Config) { c.QueueSize = def.QueueSize },
	"Config.Store.Backend":         func(c, def *Config) { c.Store.Backend = def.Store.Backend },
	"Config.Store.WriteTimeout":    func(c, def *Config) { c.Store.WriteTimeout = def.Store.WriteTimeout },
	"Config.Store.BreakerFailures": func(c, def *Config) { c.Store.BreakerFailures = def.Store.BreakerFailures },
	"Config.Store.BreakerCooldown": func(c, def *Config) { c.Store.BreakerCooldown = def.Store.BreakerCooldown },
}

// storeFile mirrors influx_config.yaml
type storeFile struct {
	Host   string `yaml:"IDB_HOST"`
	Token  string `yaml:"IDB_TOKEN"`
	Org    string `yaml:"IDB_ORG"`
	Bucket string `yaml:"IDB_BUCKET"`
}

// loadStoreFile fills the InfluxDB credentials from a YAML file.
// A missing file is not an error; the environment may carry the credentials.
func loadStoreFile(path string, s *Store) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read store credentials file: %w", err)
	}

	var f storeFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse store credentials file %s: %w", path, err)
	}

	s.InfluxHost = f.Host
	s.InfluxToken = f.Token
	s.InfluxOrg = f.Org
	s.InfluxBucket = f.Bucket
	return nil
}
