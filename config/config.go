// Package config loads the module configuration file.
package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/niclabs/p11nethsm/nethsm"
)

// EnvConfigFile names an explicit configuration file.
const EnvConfigFile = "P11NETHSM_CONFIG_FILE"

type Config struct {
	Log      LogConfig
	Storage  StorageConfig
	HTTP     HTTPConfig
	Metrics  MetricsConfig
	Criptoki CriptokiConfig
	Slots    []*SlotsConfig
}

type LogConfig struct {
	File  string
	Level string
}

type StorageConfig struct {
	Type string
	TTL  time.Duration
}

type HTTPConfig struct {
	Timeout time.Duration
	Retries int
	Rate    float64
	Burst   int
}

type MetricsConfig struct {
	Listen string
}

type CriptokiConfig struct {
	ManufacturerID string `mapstructure:"manufacturer_id"`
	Model          string
	Description    string
	VersionMajor   uint8 `mapstructure:"version_major"`
	VersionMinor   uint8 `mapstructure:"version_minor"`
	MaxSessions    uint  `mapstructure:"max_sessions"`
}

type SlotsConfig struct {
	Label         string
	Description   string
	URL           string
	Operator      nethsm.Credentials
	Administrator nethsm.Credentials
	TLSInsecure   bool `mapstructure:"tls_insecure"`
	Sparse        bool
}

// Client returns the backend configuration of a slot, using the operator
// credentials.
func (c *Config) Client(slot *SlotsConfig) nethsm.Config {
	return nethsm.Config{
		URL:         slot.URL,
		Credentials: slot.Operator,
		Timeout:     c.HTTP.Timeout,
		Retries:     c.HTTP.Retries,
		Rate:        c.HTTP.Rate,
		Burst:       c.HTTP.Burst,
		TLSInsecure: slot.TLSInsecure,
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("storage.type", "sqlite3")
	v.SetDefault("storage.ttl", 30*time.Second)
	v.SetDefault("sqlite3.path", "file::memory:?cache=shared")
	v.SetDefault("http.timeout", 10*time.Second)
	v.SetDefault("http.retries", 2)
	v.SetDefault("http.burst", 1)
	v.SetDefault("criptoki.manufacturer_id", "Nitrokey GmbH")
	v.SetDefault("criptoki.model", "NetHSM")
	v.SetDefault("criptoki.description", "NetHSM PKCS#11 module")
	v.SetDefault("criptoki.version_major", 1)
	v.SetDefault("criptoki.version_minor", 0)
}

// Load reads the configuration file into the global viper instance and
// decodes it. The file named by P11NETHSM_CONFIG_FILE wins over the
// search path.
func Load() (*Config, error) {
	setDefaults(viper.GetViper())
	if file := os.Getenv(EnvConfigFile); file != "" {
		viper.SetConfigFile(file)
	} else {
		viper.SetConfigName("p11nethsm")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("./")
		viper.AddConfigPath("$HOME/.config/nitrokey")
		viper.AddConfigPath("/etc/nitrokey/")
	}
	if err := viper.ReadInConfig(); err != nil {
		return nil, errors.Wrap(err, "config file not found")
	}
	return GetConfig()
}

// GetConfig decodes the configuration already loaded in viper.
func GetConfig() (*Config, error) {
	var conf Config
	if err := viper.Unmarshal(&conf); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	if len(conf.Slots) == 0 {
		return nil, errors.New("no slots configured")
	}
	for i, slot := range conf.Slots {
		if slot.URL == "" {
			return nil, errors.Errorf("slot %d has no url", i)
		}
		if slot.Label == "" {
			slot.Label = "NetHSM"
		}
	}
	return &conf, nil
}
