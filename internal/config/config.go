package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Mode      string        `mapstructure:"mode"`
	Port      int           `mapstructure:"port"`
	ReadLimit int64         `mapstructure:"read_limit"`
	Secret    string        `mapstructure:"secret"`
	Shutdown  time.Duration `mapstructure:"shutdown_timeout"`

	// Media engine surface.
	Workers          int           `mapstructure:"workers"` // 0 means host parallelism
	RTCMinPort       int           `mapstructure:"rtc_min_port"`
	RTCMaxPort       int           `mapstructure:"rtc_max_port"`
	AnnouncedIP      string        `mapstructure:"announced_ip"`
	WorkerDeathGrace time.Duration `mapstructure:"worker_death_grace"`

	// Room constants, fixed at room creation.
	SpeakingThreshold int `mapstructure:"speaking_threshold"`
	ObserverInterval  int `mapstructure:"observer_interval_ms"`
	InitialBitrate    int `mapstructure:"initial_bitrate"`
}

// Flags registers the command line surface; call before Load.
func Flags(fs *pflag.FlagSet) {
	fs.String("config", "", "path to config file")
	fs.Int("port", 4001, "listen port")
}

func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	fileName := ""
	if fs != nil {
		if err := v.BindPFlag("port", fs.Lookup("port")); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
		fileName, _ = fs.GetString("config")
	}
	if fileName == "" {
		env := os.Getenv("CONFIG_ENV")
		if env == "" {
			env = "dev"
		}
		fileName = fmt.Sprintf("config/config.%s.yaml", env)
	}

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 4001)
	v.SetDefault("read_limit", 65536)
	v.SetDefault("shutdown_timeout", "10s")
	v.SetDefault("workers", 0)
	v.SetDefault("rtc_min_port", 40000)
	v.SetDefault("rtc_max_port", 49999)
	v.SetDefault("announced_ip", "127.0.0.1")
	v.SetDefault("worker_death_grace", "2s")
	v.SetDefault("speaking_threshold", -60)
	v.SetDefault("observer_interval_ms", 800)
	v.SetDefault("initial_bitrate", 800000)

	v.SetEnvPrefix("huddle")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.RTCMinPort >= cfg.RTCMaxPort {
		return nil, fmt.Errorf("rtc port range is empty: %d..%d", cfg.RTCMinPort, cfg.RTCMaxPort)
	}
	return &cfg, nil
}
