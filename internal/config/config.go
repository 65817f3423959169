// Package config builds the CLI surface (spec §6) with
// github.com/spf13/cobra and layers a hand-rolled "Key Value" configuration
// file on top of it. The file format is a protocol detail of spec.md, not a
// place to reach for a generic format library (see DESIGN.md).
package config

import (
	"bufio"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Config holds every value the CLI surface in spec §6 names.
type Config struct {
	ConfigFile string
	Foreground bool
	Debug      bool
	PIDFile    string

	ConsoleAddr string
	DaemonAddr  string
	MasterAddr  string

	VCLFile    string
	ParamFile  string
	SecretFile string

	InstanceID  string
	AnnounceURL string
	TLSCAFile   string
}

func defaults() Config {
	return Config{
		PIDFile:     "/var/run/varnish-agent.pid",
		ConsoleAddr: ":6083",
		DaemonAddr:  "localhost:6082",
		MasterAddr:  "localhost:6084",
	}
}

// fileBinding associates a config-file key and a flag name with the
// destination field, so a file value is only applied when the
// corresponding flag was not explicitly set on the command line.
type fileBinding struct {
	key  string
	flag string
	dest *string
}

// NewRootCommand builds the "varnish-agent" root command. run is invoked
// with the fully resolved configuration once flags are parsed and any
// config file is merged in (flags take precedence over the file, the file
// takes precedence over built-in defaults).
func NewRootCommand(run func(*Config) error) *cobra.Command {
	cfg := defaults()

	cmd := &cobra.Command{
		Use:   "varnish-agent",
		Short: "Administrative-protocol gateway between a cache daemon and its consoles",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.ConfigFile != "" {
				fileValues, err := parseConfigFile(cfg.ConfigFile)
				if err != nil {
					return err
				}
				applyFileOverrides(&cfg, fileValues, cmd.Flags())
			}
			return run(&cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfg.ConfigFile, "config", "", "path to a Key Value configuration file")
	flags.BoolVar(&cfg.Foreground, "foreground", false, "accepted for compatibility; the process always runs in the foreground")
	flags.BoolVar(&cfg.Debug, "debug", false, "enable debug-level logging")
	flags.StringVar(&cfg.PIDFile, "pid-file", cfg.PIDFile, "PID file path")
	flags.StringVar(&cfg.ConsoleAddr, "console-addr", cfg.ConsoleAddr, "console listen address")
	flags.StringVar(&cfg.DaemonAddr, "daemon-addr", cfg.DaemonAddr, "cache daemon address")
	flags.StringVar(&cfg.MasterAddr, "master-addr", cfg.MasterAddr, "master call-in listen address")
	flags.StringVar(&cfg.VCLFile, "vcl-file", "", "persisted VCL file path")
	flags.StringVar(&cfg.ParamFile, "param-file", "", "persisted parameter file path")
	flags.StringVar(&cfg.SecretFile, "secret-file", "", "shared secret file path")
	flags.StringVar(&cfg.InstanceID, "agent-id", "", "instance identifier reported to the announcement URL")
	flags.StringVar(&cfg.AnnounceURL, "announce-url", "", "one-shot outbound call-home URL")
	flags.StringVar(&cfg.TLSCAFile, "tls-ca-file", "", "CA bundle for TLS to the cache daemon")

	return cmd
}

func fileBindings(cfg *Config) []fileBinding {
	return []fileBinding{
		{"PidFile", "pid-file", &cfg.PIDFile},
		{"ConsoleAddr", "console-addr", &cfg.ConsoleAddr},
		{"DaemonAddr", "daemon-addr", &cfg.DaemonAddr},
		{"MasterAddr", "master-addr", &cfg.MasterAddr},
		{"VclFile", "vcl-file", &cfg.VCLFile},
		{"ParamFile", "param-file", &cfg.ParamFile},
		{"SecretFile", "secret-file", &cfg.SecretFile},
		{"AgentId", "agent-id", &cfg.InstanceID},
		{"AnnounceUrl", "announce-url", &cfg.AnnounceURL},
		{"TlsCaFile", "tls-ca-file", &cfg.TLSCAFile},
	}
}

func applyFileOverrides(cfg *Config, fileValues map[string]string, flags *pflag.FlagSet) {
	for _, b := range fileBindings(cfg) {
		if flags.Changed(b.flag) {
			continue
		}
		if v, ok := fileValues[b.key]; ok {
			*b.dest = v
		}
	}
}

// parseConfigFile reads a "Key Value" line format file: the first
// whitespace-delimited token on a line is the key, the remainder (with
// leading whitespace trimmed) is the value. Blank lines and lines starting
// with '#' are skipped. A missing file is not an error — it simply
// contributes no overrides.
func parseConfigFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	defer f.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.IndexAny(line, " \t")
		if idx < 0 {
			continue
		}
		values[line[:idx]] = strings.TrimSpace(line[idx+1:])
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return values, nil
}

// LoadSecret reads a shared-secret file, trimming a single trailing
// newline. An empty path means no secret is configured.
func LoadSecret(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return []byte(strings.TrimSuffix(string(data), "\n")), nil
}
