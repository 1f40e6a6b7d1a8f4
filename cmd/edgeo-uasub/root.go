// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package main

import (
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/edgeo-scada/uasub/config"
)

var (
	configFile string
	logLevel   string
	eventLog   string
)

var rootCmd = &cobra.Command{
	Use:   "edgeo-uasub",
	Short: "OPC UA subscription engine",
	Long: `Run and inspect the OPC UA subscription engine.

Examples:
  edgeo-uasub simulate -n "ns=2;i=1" -i 500
  edgeo-uasub console --config uasub.yaml
  edgeo-uasub events /var/log/uasub/events.cbor --bad-only`,
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to a YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&eventLog, "event-log", "", "Append service events to this CBOR file")

	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("event-log", rootCmd.PersistentFlags().Lookup("event-log"))

	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(consoleCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	viper.SetEnvPrefix("UASUB")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// loadConfig reads the configuration file, if any, and applies flag and
// environment overrides on top.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if path := viper.GetString("config"); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}
	if lvl := viper.GetString("log-level"); lvl != "" {
		cfg.LogLevel = lvl
	}
	if path := viper.GetString("event-log"); path != "" {
		cfg.EventLog = path
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: cfg.Level()}))
}
