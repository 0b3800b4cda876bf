package conf

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kr/pretty"
	"github.com/spf13/viper"

	"github.com/rosschurchill/zeroconfdlna/consts"
	"github.com/rosschurchill/zeroconfdlna/log"
)

type configOptions struct {
	Directory    string
	Port         int
	Address      string
	FriendlyName string
	Verbose      bool

	Prometheus prometheusOptions
}

type prometheusOptions struct {
	Enabled     bool
	MetricsPath string
}

// Server holds the resolved configuration for the whole process.
var Server = &configOptions{}

// Validation errors. The CLI maps each to a distinct exit code.
var (
	ErrInvalidPort      = errors.New("port out of range")
	ErrInvalidDirectory = errors.New("served directory missing or not a directory")
)

// Load resolves the configuration into the Server singleton. Precedence
// is flags over environment over defaults; flag binding happens in cmd.
func Load() error {
	if err := viper.Unmarshal(&Server); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	if Server.Verbose {
		log.SetLevel(log.LevelDebug)
	}
	if abs, err := filepath.Abs(Server.Directory); err == nil {
		Server.Directory = abs
	}
	if Server.FriendlyName == "" {
		Server.FriendlyName = fmt.Sprintf("%s on %s", consts.ProductName, hostname())
	}
	if log.IsGreaterOrEqualTo(log.LevelDebug) {
		prettyConf := pretty.Sprintf("Loaded configuration: %# v", Server)
		log.Debug(prettyConf)
	}
	return nil
}

// Validate checks the resolved configuration, returning one of the
// sentinel errors above.
func Validate() error {
	if Server.Port < 1 || Server.Port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, Server.Port)
	}
	fi, err := os.Stat(Server.Directory)
	if err != nil || !fi.IsDir() {
		return fmt.Errorf("%w: %s", ErrInvalidDirectory, Server.Directory)
	}
	return nil
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "localhost"
	}
	return name
}

func init() {
	viper.SetDefault("directory", ".")
	viper.SetDefault("port", consts.DefaultPort)
	viper.SetDefault("address", "")
	viper.SetDefault("friendlyname", "")
	viper.SetDefault("verbose", false)

	viper.SetDefault("prometheus.enabled", false)
	viper.SetDefault("prometheus.metricspath", "/metrics")

	viper.SetEnvPrefix("ZCD")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}
