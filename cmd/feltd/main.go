// Copyright 2025 The go-felt Authors
// This file is part of go-felt.
//
// go-felt is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// go-felt is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with go-felt. If not, see <http://www.gnu.org/licenses/>.

// feltd is the card-table transaction daemon. It serves the betting write
// path over HTTP and exposes health and Prometheus endpoints.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/feltlabs/go-felt/params"
)

var (
	configFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file",
	}
	httpAddrFlag = &cli.StringFlag{
		Name:  "http.addr",
		Usage: "HTTP listen address (overrides config)",
	}
	verbosityFlag = &cli.StringFlag{
		Name:  "verbosity",
		Usage: "log level (overrides config)",
	}
)

func main() {
	app := &cli.App{
		Name:  "feltd",
		Usage: "card-table transaction daemon",
		Commands: []*cli.Command{
			runCommand,
			dlqCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig merges defaults, the optional config file and CLI overrides.
func loadConfig(c *cli.Context) (params.Config, error) {
	cfg := params.DefaultConfig()
	if path := c.String(configFlag.Name); path != "" {
		var err error
		cfg, err = params.Load(path)
		if err != nil {
			return cfg, err
		}
	}
	if addr := c.String(httpAddrFlag.Name); addr != "" {
		cfg.HTTPAddr = addr
	}
	if level := c.String(verbosityFlag.Name); level != "" {
		cfg.LogLevel = level
	}
	return cfg, nil
}

func setupLogging(cfg params.Config) error {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("bad log level %q: %w", cfg.LogLevel, err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if cfg.LogFile != "" {
		logrus.SetOutput(&lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    100, // megabytes
			MaxBackups: 10,
			MaxAge:     28, // days
			Compress:   true,
		})
	}
	return nil
}
