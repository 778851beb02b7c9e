package store

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultMaxQueue bounds each async notification subscriber's queue when the
// config does not say otherwise.
const DefaultMaxQueue = 25000

// Config tunes the optional store facilities. The zero value is usable:
// no seed state, no journal, default queue bound.
type Config struct {
	Seed        map[string]any `yaml:"seed"`        // applied as an EventInit delta before module handlers
	MaxQueue    int            `yaml:"maxQueue"`    // per-subscriber async notification queue bound
	JournalSize int            `yaml:"journalSize"` // entries kept in the dispatch journal, 0 disables it
}

// set default values for Config
func (c *Config) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type rawConfig Config
	defaults := rawConfig{
		MaxQueue: DefaultMaxQueue,
	}

	if err := unmarshal(&defaults); err != nil {
		return err
	}

	*c = Config(defaults)
	return nil
}

func LoadConfig(path string) (Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer file.Close()
	return LoadConfigFromReader(file)
}

func LoadConfigFromReader(r io.Reader) (Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Config{}, err
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return Config{}, err
	}

	if config.MaxQueue < 1 {
		return Config{}, fmt.Errorf("maxQueue must be greater than 0")
	}
	if config.JournalSize < 0 {
		return Config{}, fmt.Errorf("journalSize must not be negative")
	}

	return config, nil
}
