package config

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/loganszeto/respkv/internal/persistence"
)

const EnvPrefix = "respkv"

// Flag and environment keys. RESPKV_DATA_DIR maps to KeyDataDir.
const (
	KeyAddr        = "addr"
	KeyDataDir     = "data-dir"
	KeyAOFName     = "aof-name"
	KeyFsync       = "fsync"
	KeyLogDeletes  = "log-deletes"
	KeyLogLevel    = "log-level"
	KeyMetricsAddr = "metrics-addr"
)

type Config struct {
	Addr        string
	DataDir     string
	AOFName     string
	Fsync       bool
	LogDeletes  bool
	LogLevel    string
	MetricsAddr string
}

func Default() Config {
	return Config{
		Addr:     "127.0.0.1:6379",
		DataDir:  "./data",
		AOFName:  persistence.DefaultFileName,
		Fsync:    true,
		LogLevel: "info",
	}
}

func (c Config) AOFPath() string {
	return persistence.Path(c.DataDir, c.AOFName)
}

func (c Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Addr); err != nil {
		return fmt.Errorf("invalid addr %q: %w", c.Addr, err)
	}
	if c.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(c.MetricsAddr); err != nil {
			return fmt.Errorf("invalid metrics-addr %q: %w", c.MetricsAddr, err)
		}
	}
	if c.DataDir == "" {
		return errors.New("data-dir must not be empty")
	}
	if c.AOFName == "" || strings.ContainsAny(c.AOFName, `/\`) {
		return fmt.Errorf("invalid aof-name %q", c.AOFName)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// NewViper loads .env files and returns a viper instance that reads
// RESPKV_* environment variables, with Default() as fallback values.
func NewViper() *viper.Viper {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	d := Default()
	v.SetDefault(KeyAddr, d.Addr)
	v.SetDefault(KeyDataDir, d.DataDir)
	v.SetDefault(KeyAOFName, d.AOFName)
	v.SetDefault(KeyFsync, d.Fsync)
	v.SetDefault(KeyLogDeletes, d.LogDeletes)
	v.SetDefault(KeyLogLevel, d.LogLevel)
	v.SetDefault(KeyMetricsAddr, d.MetricsAddr)
	return v
}

func Load(v *viper.Viper) (Config, error) {
	c := Config{
		Addr:        v.GetString(KeyAddr),
		DataDir:     v.GetString(KeyDataDir),
		AOFName:     v.GetString(KeyAOFName),
		Fsync:       v.GetBool(KeyFsync),
		LogDeletes:  v.GetBool(KeyLogDeletes),
		LogLevel:    strings.ToLower(v.GetString(KeyLogLevel)),
		MetricsAddr: v.GetString(KeyMetricsAddr),
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// String renders the startup banner.
func (c Config) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(strings.ToUpper(title) + "\n")
	}
	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-16s: %s\n", name, value))
	}

	addSection("Server")
	addField("Address", c.Addr)
	addField("Metrics", orNone(c.MetricsAddr))

	addSection("Persistence")
	addField("AOF", c.AOFPath())
	addField("Fsync", fmt.Sprintf("%t", c.Fsync))
	addField("Log Deletes", fmt.Sprintf("%t", c.LogDeletes))

	addSection("Logging")
	addField("Log Level", c.LogLevel)
	return sb.String()
}

func orNone(s string) string {
	if s == "" {
		return "disabled"
	}
	return s
}
