// Package config parses the command-line flags and optional TOML config
// file that configure a vitolink run, mirroring the original tool's
// argparse surface.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	flag "github.com/spf13/pflag"
)

// Config holds every knob the original CLI exposed.
type Config struct {
	Device      string        `toml:"device"`
	VarlistDir  string        `toml:"varlist"`
	Sleep       time.Duration `toml:"sleep"`
	BatchSize   int           `toml:"batch_submit"`
	Measurement string        `toml:"influxdb_measurement"`

	Webserver   bool   `toml:"webserver"`
	MetricsAddr string `toml:"metrics_addr"`

	InfluxURL       string `toml:"influxdb_url"`
	InfluxTokenFile string `toml:"influxdb_token_file"`
	InfluxOrg       string `toml:"influxdb_org"`
	InfluxBucket    string `toml:"influxdb_bucket"`

	Verbose bool `toml:"verbose"`
}

// Default returns a Config populated with the original tool's defaults.
func Default() Config {
	return Config{
		Device:      "/dev/ttyUSB0",
		Sleep:       15 * time.Second,
		BatchSize:   5,
		Measurement: "optolink",
		MetricsAddr: ":8080",
	}
}

// Parse builds a Config from a TOML file (if --config names one) layered
// under command-line flags, which always take precedence. args is the
// argument list to parse, typically os.Args[1:].
func Parse(args []string) (Config, error) {
	cfg := Default()

	fs := flag.NewFlagSet("vitolink", flag.ContinueOnError)

	configPath := fs.String("config", "", "path to a TOML configuration file")
	device := fs.StringP("device", "t", cfg.Device, "serial device the Optolink adapter is attached to")
	sleep := fs.DurationP("sleep", "s", cfg.Sleep, "time between polling passes")
	batch := fs.IntP("batch-submit", "B", cfg.BatchSize, "polling passes per sink flush")
	webserver := fs.BoolP("webserver", "w", false, "serve the ad-hoc query and metrics endpoints")
	metricsAddr := fs.String("metrics-addr", cfg.MetricsAddr, "address for the HTTP query and metrics server")
	influxURL := fs.StringP("influxdb-url", "i", "", "InfluxDB v2 base URL (empty disables the sink)")
	influxTokenFile := fs.StringP("influxdb-token-file", "T", "", "file containing the InfluxDB API token")
	influxOrg := fs.StringP("influxdb-org", "o", "", "InfluxDB organization")
	influxBucket := fs.StringP("influxdb-bucket", "b", "", "InfluxDB bucket")
	measurement := fs.StringP("influxdb-measurement", "m", cfg.Measurement, "InfluxDB measurement name")
	verbose := fs.BoolP("verbose", "v", false, "enable debug logging")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if *configPath != "" {
		if _, err := toml.DecodeFile(*configPath, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: reading %s: %w", *configPath, err)
		}
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "device":
			cfg.Device = *device
		case "sleep":
			cfg.Sleep = *sleep
		case "batch-submit":
			cfg.BatchSize = *batch
		case "webserver":
			cfg.Webserver = *webserver
		case "metrics-addr":
			cfg.MetricsAddr = *metricsAddr
		case "influxdb-url":
			cfg.InfluxURL = *influxURL
		case "influxdb-token-file":
			cfg.InfluxTokenFile = *influxTokenFile
		case "influxdb-org":
			cfg.InfluxOrg = *influxOrg
		case "influxdb-bucket":
			cfg.InfluxBucket = *influxBucket
		case "influxdb-measurement":
			cfg.Measurement = *measurement
		case "verbose":
			cfg.Verbose = *verbose
		}
	})

	rest := fs.Args()
	if len(rest) < 1 {
		return Config{}, fmt.Errorf("config: missing required variable-list path argument")
	}
	cfg.VarlistDir = rest[0]

	return cfg, nil
}

// InfluxToken reads the API token named by InfluxTokenFile. It returns an
// empty string, no error, when no token file was configured.
func (c Config) InfluxToken() (string, error) {
	if c.InfluxTokenFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(c.InfluxTokenFile)
	if err != nil {
		return "", fmt.Errorf("config: reading influx token file: %w", err)
	}
	return string(trimNewline(data)), nil
}

func trimNewline(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}

// SinkEnabled reports whether enough InfluxDB configuration was supplied
// to construct a sink.
func (c Config) SinkEnabled() bool {
	return c.InfluxURL != "" && c.InfluxOrg != "" && c.InfluxBucket != ""
}
