// Copyright (C) 2020 The restraint Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Root command restraint reads a recipe config file and runs its tasks to completion, streaming
// output to any configured observers and reporting status/results to the lab controller.
//
// Usage:
//
//	restraint --config /path/to/config
package root

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/beakerlab/restraint/internal/config"
	"github.com/beakerlab/restraint/internal/console"
	"github.com/beakerlab/restraint/internal/engine"
	"github.com/beakerlab/restraint/internal/eventloop"
	"github.com/beakerlab/restraint/internal/fetchexec"
	"github.com/beakerlab/restraint/internal/metrics"
	"github.com/beakerlab/restraint/internal/observer"
	"github.com/beakerlab/restraint/internal/session"
	"github.com/beakerlab/restraint/internal/statusclient"
	"github.com/beakerlab/restraint/internal/store"
)

// noopMetadataMerger leaves a task's metadata exactly as its config loaded it. A real merger
// would parse the fetched tree's testinfo.desc, but that format is explicitly out of scope here.
type noopMetadataMerger struct{}

func (noopMetadataMerger) MergeMetadata(task *engine.Task) error { return nil }

// noopDependencyInstaller treats a task's Dependencies as already satisfied by the host image.
type noopDependencyInstaller struct{}

func (noopDependencyInstaller) InstallDependencies(ctx context.Context, task *engine.Task) error {
	return nil
}

// shutdownGrace mirrors the original's wait for in-flight child processes to receive their
// SIGKILL and exit before the process itself exits.
const shutdownGrace = 2 * time.Second

// Handler holds the sub-command's flags.
type Handler struct {
	ConfigPath  string
	MetricsAddr string
	StoreFile   string
	SessionFile string
	Console     bool
}

// BindFlags registers the command's flags against h's fields.
func (h *Handler) BindFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&h.ConfigPath, "config", "c", "", "viper-readable recipe config file")
	cmd.Flags().StringVar(&h.MetricsAddr, "metrics-addr", "", "address to serve /metrics on (disabled if empty)")
	cmd.Flags().StringVar(&h.StoreFile, "store", "", "sqlite file to record task results to (disabled if empty)")
	cmd.Flags().StringVar(&h.SessionFile, "session", "", "file to write an observer-facing session snapshot to (disabled if empty)")
	cmd.Flags().BoolVar(&h.Console, "console", false, "show an interactive console instead of logging only")
	_ = cmd.MarkFlagRequired("config")
}

// Run performs the sub-command logic.
func (h *Handler) Run(ctx context.Context, log *zap.Logger) error {
	cfg, err := config.ReadConfigFile(h.ConfigPath)
	if err != nil {
		return errors.Wrapf(err, "failed to read config file [%s]", h.ConfigPath)
	}

	recipe, err := cfg.ToEngine()
	if err != nil {
		return errors.Wrap(err, "failed to build recipe from config")
	}

	loop := eventloop.New()
	e := engine.New(loop, log)
	e.Config = engine.Config{
		EnvPrefix:             cfg.Global.EnvPrefix,
		ExternalWatchdogGrace: cfg.Global.GetEWDTime(),
		HeartbeatInterval:     cfg.Global.GetHeartbeatInterval(),
	}
	e.StatusClient = statusclient.New(log)
	e.Fetcher = fetchexec.New()
	e.MetadataMerger = noopMetadataMerger{}
	e.DependencyInstaller = noopDependencyInstaller{}

	registry := observer.NewRegistry(log)
	e.Observers = registry

	var con *console.Console
	if h.Console {
		con = console.New(log)
		con.SetTasks(recipe.Tasks)
		con.Init()
		registry.AddConnection(con)
	}

	var st *store.Store
	if h.StoreFile != "" {
		st, err = store.Open(ctx, h.StoreFile)
		if err != nil {
			return errors.Wrap(err, "failed to open result store")
		}
		defer st.Close()
	}

	if h.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		srv := &http.Server{Addr: h.MetricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Warn("metrics server stopped", zap.Error(err))
			}
		}()
		defer srv.Close()
	}

	if h.SessionFile != "" {
		go h.maintainSession(ctx, e, log)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, os.Interrupt)
	go func() {
		sig := <-sigCh
		fmt.Printf("Received signal (%v).\n", sig)
		e.Cancel()
		time.Sleep(shutdownGrace)
		loop.Stop()
		if con != nil {
			con.Stop()
		}
	}()

	go func() {
		<-e.Done()
		h.recordFinalResults(ctx, e, st)
		loop.Stop()
		if con != nil {
			con.Stop()
		}
	}()

	if con != nil {
		go func() {
			<-con.ExitCh()
			e.Cancel()
			loop.Stop()
		}()
		go loop.Run()
		e.Start(recipe)
		return con.Start()
	}

	e.Start(recipe)
	loop.Run()
	return nil
}

func (h *Handler) maintainSession(ctx context.Context, e *engine.Engine, log *zap.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.Done():
			h.saveSession(e, log)
			return
		case <-ticker.C:
			h.saveSession(e, log)
		}
	}
}

func (h *Handler) saveSession(e *engine.Engine, log *zap.Logger) {
	recipe := e.Recipe()
	if recipe == nil {
		return
	}
	snap := session.FromRecipe(recipe, time.Now())
	if err := session.Save(h.SessionFile, snap); err != nil {
		log.Warn("failed to save session", zap.Error(err))
	}
}

func (h *Handler) recordFinalResults(ctx context.Context, e *engine.Engine, st *store.Store) {
	if st == nil {
		return
	}
	recipe := e.Recipe()
	if recipe == nil {
		return
	}
	for _, task := range recipe.Tasks {
		errText := ""
		if task.Error != nil {
			errText = task.Error.Error()
		}
		_ = st.RecordResult(ctx, store.Result{
			RecipeID: recipe.RecipeID,
			TaskID:   task.TaskID,
			Name:     task.Name,
			State:    string(task.State),
			Error:    errText,
			EndedAt:  time.Now(),
		})
	}
}

// NewCommand returns a cobra command instance based on Handler.
func NewCommand() *cobra.Command {
	h := &Handler{}
	cmd := &cobra.Command{
		Use:   "restraint",
		Short: "Run a recipe's tasks under a pty-based supervisor",
		Example: strings.Join([]string{
			"restraint --config /path/to/config",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := zap.NewProduction()
			if err != nil {
				return errors.Wrap(err, "failed to init logger")
			}
			defer log.Sync()
			return h.Run(context.Background(), log)
		},
	}
	h.BindFlags(cmd)
	return cmd
}
