package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/sdpcontroller/pkg/api"
	"github.com/cuemby/sdpcontroller/pkg/config"
	"github.com/cuemby/sdpcontroller/pkg/engine/argo"
	"github.com/cuemby/sdpcontroller/pkg/events"
	"github.com/cuemby/sdpcontroller/pkg/health"
	"github.com/cuemby/sdpcontroller/pkg/log"
	"github.com/cuemby/sdpcontroller/pkg/manager"
	"github.com/cuemby/sdpcontroller/pkg/metrics"
	"github.com/cuemby/sdpcontroller/pkg/reconciler"
	"github.com/cuemby/sdpcontroller/pkg/storage"
	"github.com/cuemby/sdpcontroller/pkg/types"
	"github.com/cuemby/sdpcontroller/pkg/workflow"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the controller",
	Long: `Run the controller: load and validate the configuration, restore
persisted pipeline instances, and serve the activation API until interrupted.

Any configuration error stops startup before anything is served.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringP("config", "c", "/etc/sdpcontroller/config.yaml", "Configuration file")
	serveCmd.Flags().String("api-addr", "", "Override server.apiAddr")
	serveCmd.Flags().String("data-dir", "", "Override server.dataDir")
}

func runServe(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if addr, _ := cmd.Flags().GetString("api-addr"); addr != "" {
		cfg.Server.APIAddr = addr
	}
	if dir, _ := cmd.Flags().GetString("data-dir"); dir != "" {
		cfg.Server.DataDir = dir
	}
	built, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("invalid configuration %s: %w", path, err)
	}

	log.Init(log.Config{Level: log.ParseLevel(cfg.Log.Level), JSONOutput: cfg.Log.JSON})
	logger := log.WithComponent("serve")
	metrics.SetVersion(Version)
	api.Version = Version

	store, err := storage.NewBoltStore(cfg.Server.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()
	metrics.ReportComponent("store", true, cfg.Server.DataDir)

	restCfg, err := argo.RESTConfig(cfg.Argo.Kubeconfig)
	if err != nil {
		return fmt.Errorf("failed to load kubernetes credentials: %w", err)
	}
	engine, err := argo.NewForConfig(restCfg, built.Argo)
	if err != nil {
		return err
	}
	metrics.ReportComponent("engine", true, restCfg.Host)
	monitor := health.NewMonitor(health.DefaultConfig(), metrics.ReportComponent,
		health.NewFuncChecker("engine", engine.Ping))
	monitor.Start()
	defer monitor.Stop()

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	mgr, err := manager.New(manager.Options{
		Registry:   built.Registry,
		Templates:  built.Templates,
		Capacity:   built.Capacity,
		Translator: workflow.NewTranslator(built.Translator),
		Client:     engine,
		Store:      store,
		Broker:     broker,
		Config:     built.Manager,
	})
	if err != nil {
		return err
	}
	defer mgr.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := mgr.Restore(ctx); err != nil {
		return err
	}
	fmt.Println("✓ Lifecycle state restored")

	rec := reconciler.NewReconciler(mgr, cfg.Lifecycle.SweepInterval)
	rec.Start()
	defer rec.Stop()
	fmt.Println("✓ Reconciler started")

	collector := metrics.NewCollector(mgr, 0)
	collector.Start()
	defer collector.Stop()

	apiServer := api.NewServer(mgr, broker)
	healthServer := api.NewHealthServer(mgr)
	updates := make(chan types.StatusUpdate, 64)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		metrics.ReportComponent("api", true, cfg.Server.APIAddr)
		if err := apiServer.Start(cfg.Server.APIAddr); err != nil {
			metrics.ReportComponent("api", false, err.Error())
			return fmt.Errorf("API server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := apiServer.StartUnix(cfg.Server.SocketPath); err != nil {
			return fmt.Errorf("local API socket error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return healthServer.Start(cfg.Server.HealthAddr)
	})
	g.Go(func() error {
		return engine.Watch(gctx, updates)
	})
	g.Go(func() error {
		return mgr.Run(gctx, updates)
	})
	g.Go(func() error {
		<-gctx.Done()
		apiServer.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return healthServer.Shutdown(shutdownCtx)
	})

	fmt.Printf("✓ API listening on %s (read-only socket %s)\n", cfg.Server.APIAddr, cfg.Server.SocketPath)
	fmt.Printf("✓ Health and metrics on %s\n", cfg.Server.HealthAddr)
	fmt.Println()
	fmt.Println("Controller is running. Press Ctrl+C to stop.")

	err = g.Wait()
	if err != nil {
		logger.Error().Err(err).Msg("controller stopped on error")
	}
	fmt.Println("\nShutting down...")
	return err
}
