package sqlite3

import "github.com/spf13/viper"

// DefaultPath keeps the cache in memory, shared by the connections of
// the process.
const DefaultPath = "file::memory:?cache=shared"

type Config struct {
	Path string
}

func GetConfig() (*Config, error) {
	var conf Config
	err := viper.UnmarshalKey("sqlite3", &conf)
	if err != nil {
		return nil, err
	}
	if conf.Path == "" {
		conf.Path = DefaultPath
	}
	return &conf, nil
}
