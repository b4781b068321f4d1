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

package main

import (
	"encoding/json"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/feltlabs/go-felt/kvstore"
	"github.com/feltlabs/go-felt/params"
	"github.com/feltlabs/go-felt/wallet"
)

var dlqLimitFlag = &cli.Int64Flag{
	Name:  "limit",
	Usage: "maximum entries to print, newest first",
	Value: 100,
}

var dlqCommand = &cli.Command{
	Name:   "dlq",
	Usage:  "print failed-refund queue entries for manual resolution",
	Flags:  []cli.Flag{configFlag, dlqLimitFlag},
	Action: dumpDLQ,
}

func dumpDLQ(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	kv, err := kvstore.NewValkey(kvstore.ValkeyConfig{
		Addr:           cfg.Valkey.Addr,
		Password:       cfg.Valkey.Password,
		DB:             cfg.Valkey.DB,
		CommandTimeout: cfg.Valkey.CommandTimeout,
	})
	if err != nil {
		return err
	}
	defer kv.Close()

	entries, err := wallet.NewKVDLQ(kv, params.DLQKey).Entries(c.Context, c.Int64(dlqLimitFlag.Name))
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return err
		}
	}
	return nil
}
