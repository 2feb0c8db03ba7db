package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/wolplus/ua2f/log"
)

const EnvPrefix = "UA2F"

func (c *Config) SaveToFile(path string) error {
	if path == "" {
		log.Tracef("config path is not defined")
		return nil
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return log.Errorf("failed to marshal config: %v", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return log.Errorf("failed to write config file: %v", err)
	}
	return nil
}

// LoadFromFile overlays the file at path and UA2F_* environment variables on
// top of the current values. Keys absent from the file keep their value.
func (c *Config) LoadFromFile(path string) error {
	v, err := c.viper()
	if err != nil {
		return err
	}

	if path == "" {
		log.Tracef("config path is not defined")
	} else {
		info, err := os.Stat(path)
		if err != nil {
			return log.Errorf("failed to stat config file: %v", err)
		}
		if info.IsDir() {
			return log.Errorf("config path is a directory, not a file: %s", path)
		}

		v.SetConfigFile(path)
		v.SetConfigType(configType(path))
		if err := v.MergeInConfig(); err != nil {
			return log.Errorf("failed to parse config file: %v", err)
		}
	}

	configPath := c.ConfigPath
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(c, hook); err != nil {
		return log.Errorf("failed to decode config: %v", err)
	}
	c.ConfigPath = configPath
	return nil
}

// Load reads path and the environment, then reapplies the command-line flags
// that were set explicitly so they keep the highest priority.
func (c *Config) Load(path string, fs *pflag.FlagSet) error {
	overrides := changedFlags(fs)
	if err := c.LoadFromFile(path); err != nil {
		return err
	}
	return applyFlags(fs, overrides)
}

// viper seeds a fresh instance with the current values, so every key is known
// to AutomaticEnv.
func (c *Config) viper() (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	seed, err := json.Marshal(c)
	if err != nil {
		return nil, log.Errorf("failed to marshal config: %v", err)
	}
	v.SetConfigType("json")
	if err := v.ReadConfig(bytes.NewReader(seed)); err != nil {
		return nil, log.Errorf("failed to seed config: %v", err)
	}
	return v, nil
}

func configType(path string) string {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")) {
	case "yaml", "yml":
		return "yaml"
	case "toml":
		return "toml"
	default:
		return "json"
	}
}

type flagValue struct {
	slice []string
	value string
}

func changedFlags(fs *pflag.FlagSet) map[string]flagValue {
	out := map[string]flagValue{}
	if fs == nil {
		return out
	}
	fs.Visit(func(f *pflag.Flag) {
		if f.Name == "config" {
			return
		}
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			out[f.Name] = flagValue{slice: append([]string{}, sv.GetSlice()...)}
			return
		}
		out[f.Name] = flagValue{value: f.Value.String()}
	})
	return out
}

func applyFlags(fs *pflag.FlagSet, values map[string]flagValue) error {
	for name, fv := range values {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			if err := sv.Replace(fv.slice); err != nil {
				return log.Errorf("failed to reapply --%s: %v", name, err)
			}
			continue
		}
		if err := f.Value.Set(fv.value); err != nil {
			return log.Errorf("failed to reapply --%s: %v", name, err)
		}
	}
	return nil
}
