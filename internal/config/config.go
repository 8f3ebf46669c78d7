package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Mode        string        `mapstructure:"mode"`
	Port        int           `mapstructure:"port"`
	Secret      string        `mapstructure:"secret"`
	ReadLimit   int64         `mapstructure:"read_limit"`
	PingPeriod  time.Duration `mapstructure:"ping_period"`
	SendBuffer  int           `mapstructure:"send_buffer"`
	RingTimeout time.Duration `mapstructure:"ring_timeout"`
}

// Load merges defaults, the yaml config file for CONFIG_ENV, and command
// line flags (highest precedence).
func Load(args []string) (*Config, error) {
	fs := pflag.NewFlagSet("huddle", pflag.ContinueOnError)
	fs.String("mode", "release", "gin mode: release or debug")
	fs.Int("port", 8080, "listen port")
	fs.String("config", "", "path to config file")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}

	fileName, _ := fs.GetString("config")
	if fileName == "" {
		env := os.Getenv("CONFIG_ENV")
		if env == "" {
			env = "dev"
		}
		fileName = fmt.Sprintf("config/config.%s.yaml", env)
	}
	v.SetConfigFile(fileName)

	v.SetDefault("secret", "")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("send_buffer", 32)
	v.SetDefault("ring_timeout", "30s")

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		fileLoaded = false
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if !fileLoaded {
		fmt.Fprintf(os.Stderr, "config file not found (%s), using defaults\n", fileName)
	}
	return &cfg, nil
}
