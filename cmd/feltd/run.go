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
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/feltlabs/go-felt/betting"
	"github.com/feltlabs/go-felt/budget"
	"github.com/feltlabs/go-felt/gamestate"
	"github.com/feltlabs/go-felt/health"
	"github.com/feltlabs/go-felt/kvstore"
	"github.com/feltlabs/go-felt/ledger"
	"github.com/feltlabs/go-felt/lockmgr"
	"github.com/feltlabs/go-felt/params"
	"github.com/feltlabs/go-felt/rollout"
	"github.com/feltlabs/go-felt/wallet"
)

var runCommand = &cli.Command{
	Name:   "run",
	Usage:  "start the daemon",
	Flags:  []cli.Flag{configFlag, httpAddrFlag, verbosityFlag},
	Action: runDaemon,
}

// constantsPollInterval is how often the system_constants document is
// re-read in addition to explicit reload triggers.
const constantsPollInterval = 30 * time.Second

func runDaemon(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if err := setupLogging(cfg); err != nil {
		return err
	}
	log := logrus.WithField("component", "feltd")

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	var repo ledger.Repository
	if cfg.LedgerDSN != "" {
		sqlRepo, err := ledger.OpenSQL(ctx, cfg.LedgerDSN)
		if err != nil {
			return err
		}
		defer sqlRepo.Close()
		repo = sqlRepo
	} else {
		log.Warn("no ledger DSN configured, using volatile in-memory ledger")
		repo = ledger.NewMemory()
	}

	w := wallet.New(repo, kv, nil, cfg.Wallet, wallet.NewKVDLQ(kv, params.DLQKey))
	defer w.Close()

	locks := lockmgr.New(cfg.Lock, nil, kv)
	locks.Start()
	defer locks.Stop()

	gate := rollout.New(kv, false, 0)
	gate.Subscribe(func(con rollout.Constants) {
		locks.UpdateRetryConfig(con.RetryMaxAttempts, con.RetryBackoffDelays, con.RetryGraceBuffer)
	})
	if err := gate.Reload(ctx); err != nil {
		log.WithError(err).Warn("initial constants load failed, using defaults")
	}

	monitor := health.NewMonitor(cfg.Health, nil, gate)
	monitor.Start()
	defer monitor.Stop()

	states := gamestate.NewStore(kv, params.GameStateKeyPrefix, 0)
	orch := betting.NewOrchestrator(w, locks, states, gate, monitor, nil, cfg.Lock.WriteTimeout)
	budgets := budget.NewTracker(cfg.Budget.Limit)

	// Reservations that survived a restart: re-arm or roll back.
	if live, err := w.RecoverPending(ctx); err != nil {
		log.WithError(err).Error("pending reservation recovery failed")
	} else {
		log.WithField("live", live).Info("pending reservation recovery done")
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/health", monitor.Handler())
	mux.Handle("/v1/action", actionHandler(orch, budgets))
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: mux}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("addr", cfg.HTTPAddr).Info("http server up")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		ticker := time.NewTicker(constantsPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
			if err := gate.Reload(ctx); err != nil && ctx.Err() == nil {
				log.WithError(err).Warn("constants reload failed")
			}
		}
	})
	if path := c.String(configFlag.Name); path != "" {
		g.Go(func() error {
			return params.Watch(ctx, path, func(next params.Config) {
				if level, err := logrus.ParseLevel(next.LogLevel); err == nil {
					logrus.SetLevel(level)
				}
				log.Info("configuration reloaded")
			})
		})
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// actionRequest is the wire form of one betting action.
type actionRequest struct {
	UserID  int64  `json:"user_id"`
	ChatID  int64  `json:"chat_id"`
	RoundID int64  `json:"round_id"`
	Action  string `json:"action"`
	Amount  *int64 `json:"amount,omitempty"`
}

type actionResponse struct {
	betting.Result
	Notify bool `json:"notify"`
}

// actionHandler serves the one write path. The notify flag tells the caller
// whether the round's message budget still has room for a turn announcement.
func actionHandler(orch *betting.Orchestrator, budgets *budget.Tracker) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		var req actionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		res := orch.Handle(r.Context(), req.UserID, req.ChatID, betting.Action(req.Action), req.Amount)

		resp := actionResponse{Result: res}
		if res.Success {
			resp.Notify = budgets.TryConsume(req.ChatID, req.RoundID, budget.CategoryTurn)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})
}
