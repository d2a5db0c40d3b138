package qsdk

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Host string `mapstructure:"host"`

	v *viper.Viper // instance-specific viper
}

const (
	EnvPrefix      = "JOBMAN"
	ConfigFileName = ".jobmanrc.yaml"

	HostKey     = "host"
	DefaultHost = "http://localhost:6000"
)

// Scope selects which config file a read or write targets.
type Scope string

const (
	ScopeGlobal Scope = "global" // ~/.jobmanrc.yaml
	ScopeLocal  Scope = "local"  // ./.jobmanrc.yaml
)

// ConfigPath returns the file backing scope.
func ConfigPath(scope Scope) (string, error) {
	switch scope {
	case ScopeGlobal:
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("locating home directory: %w", err)
		}
		return filepath.Join(home, ConfigFileName), nil
	case ScopeLocal:
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("locating working directory: %w", err)
		}
		return filepath.Join(wd, ConfigFileName), nil
	default:
		return "", fmt.Errorf("unknown config scope %q", scope)
	}
}

// LoadConfig creates a new Config instance with its own viper.
// The global file is read first and the local file merged over it, so local
// values win. JOBMAN_* environment variables override both. A non-empty
// cfgFile replaces the two files.
func LoadConfig(cfgFile string) (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", cfgFile, err)
		}
	} else {
		for _, scope := range []Scope{ScopeGlobal, ScopeLocal} {
			path, err := ConfigPath(scope)
			if err != nil {
				continue
			}
			if _, err := os.Stat(path); err != nil {
				continue
			}
			v.SetConfigFile(path)
			if err := v.MergeInConfig(); err != nil {
				return nil, fmt.Errorf("merging %s config: %w", scope, err)
			}
		}
	}

	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.v = v
	return &cfg, nil
}

// Get returns a value from the underlying viper instance
func (c *Config) Get(key string) interface{} {
	if c.v == nil {
		return nil
	}
	return c.v.Get(key)
}

// GetString returns a string value from the underlying viper instance
func (c *Config) GetString(key string) string {
	if c.v == nil {
		return ""
	}
	return c.v.GetString(key)
}

// WithHost returns a copy of the config pointing at host, as used by --host.
func (c *Config) WithHost(host string) *Config {
	out := *c
	out.Host = NormalizeHost(host)
	return &out
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(HostKey, DefaultHost)
	if v.IsSet(HostKey) {
		v.Set(HostKey, NormalizeHost(v.GetString(HostKey)))
	}
}

// GetValue reads key from a single scope's file, ignoring the other scope and
// the environment.
func GetValue(scope Scope, key string) (any, bool, error) {
	v, _, err := scopeViper(scope)
	if err != nil {
		return nil, false, err
	}
	if !v.IsSet(key) {
		return nil, false, nil
	}
	return v.Get(key), true, nil
}

// SetValue writes key=value to a single scope's file, creating it if needed.
// It returns the path written.
func SetValue(scope Scope, key string, value any) (string, error) {
	v, path, err := scopeViper(scope)
	if err != nil {
		return "", err
	}
	if key == HostKey {
		if s, ok := value.(string); ok {
			value = NormalizeHost(s)
		}
	}
	v.Set(key, value)
	if err := v.WriteConfigAs(path); err != nil {
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	return path, nil
}

func scopeViper(scope Scope) (*viper.Viper, string, error) {
	path, err := ConfigPath(scope)
	if err != nil {
		return nil, "", err
	}
	v := viper.New()
	v.SetConfigFile(path)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return v, path, nil
	}
	if err := v.ReadInConfig(); err != nil {
		return nil, "", fmt.Errorf("reading %s: %w", path, err)
	}
	return v, path, nil
}

// ConfigFileUsed returns the last config file that was read (if any)
func (c *Config) ConfigFileUsed() string {
	if c.v == nil {
		return ""
	}
	return c.v.ConfigFileUsed()
}
