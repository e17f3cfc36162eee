package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/javanstorm/vmhost/internal/config"
	"github.com/javanstorm/vmhost/internal/console"
	"github.com/javanstorm/vmhost/internal/disk"
	"github.com/javanstorm/vmhost/internal/hostcmd"
	"github.com/javanstorm/vmhost/internal/logging"
	"github.com/javanstorm/vmhost/internal/metrics"
	"github.com/javanstorm/vmhost/internal/rpc"
	"github.com/javanstorm/vmhost/internal/version"
	"github.com/javanstorm/vmhost/internal/vm"
	"github.com/javanstorm/vmhost/pkg/hypervisor"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestrator",
	Long: `Run the orchestrator in the foreground, accepting requests on the
configured loopback address until interrupted.

Instances are tracked in memory only. Stopping the orchestrator leaves
running hypervisors running; they are not adopted by the next run.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Global
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	opts := logging.DefaultOptions()
	opts.Format = cfg.LogFormat
	opts.Level = level
	logger := logging.Setup(opts)

	if problems := config.ValidateConfig(cfg); len(problems) > 0 {
		fmt.Fprint(os.Stderr, config.FormatValidationErrors(problems))
		if config.HasFatal(problems) {
			return errors.New("invalid configuration")
		}
	}
	if err := cfg.Paths().EnsureDirectories(); err != nil {
		return fmt.Errorf("create data directories: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("vmhost starting",
		"version", version.Version,
		"config", config.ConfigFileUsed(),
		"data_dir", cfg.DataDir,
		"address", cfg.ListenAddress)

	return serve(ctx, cfg, logger)
}

// orchestrator is the wired lifecycle and its metrics.
type orchestrator struct {
	manager *vm.Manager
	metrics *metrics.Metrics
}

// newOrchestrator wires the real disk tool, hypervisor and console channel.
func newOrchestrator(cfg *config.Config, logger *slog.Logger) *orchestrator {
	paths := cfg.Paths()

	channel := console.NewChannel(cfg.ConsoleDir, logger.With("component", "console"))
	channel.Attempts = cfg.AddressAttempts
	channel.Interval = cfg.AddressInterval

	o := &orchestrator{}
	o.metrics = metrics.New(func() int { return o.manager.Registry().Len() })
	o.manager = vm.NewManager(vm.ManagerConfig{
		Kernel:      cfg.KernelPath(),
		Initrd:      cfg.InitrdPath(),
		Cmdline:     cfg.Cmdline,
		StopTimeout: cfg.StopTimeout,
		Disks:       disk.NewManager(cfg.DiskBinary, hostcmd.ExecRunner{}, logger.With("component", "disk")),
		Images:      disk.NewImages(paths.VMsDir, cfg.BaseImagePath()),
		Launcher:    hypervisor.NewHyperkitLauncher(cfg.HypervisorBinary, logger.With("component", "hypervisor")),
		Console:     channel,
		Observer:    o.metrics,
		Logger:      logger.With("component", "vm"),
	})
	return o
}

// serve runs the RPC server, and the metrics endpoint when configured,
// until ctx is done.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	o := newOrchestrator(cfg, logger)

	ln, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.ListenAddress, err)
	}

	g, ctx := errgroup.WithContext(ctx)

	srv := rpc.NewServer(o.manager, rpc.ServerOptions{
		ReadTimeout: cfg.RequestTimeout,
		Observer:    o.metrics,
		Logger:      logger,
	})
	g.Go(func() error {
		return srv.Serve(ctx, ln)
	})

	if cfg.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", o.metrics.Handler())
		httpSrv := &http.Server{
			Addr:              cfg.MetricsAddress,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}

		g.Go(func() error {
			logger.Info("serving metrics", "address", cfg.MetricsAddress)
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpSrv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	if n := o.manager.Registry().Len(); n > 0 {
		logger.Warn("exiting with VMs still running", "count", n)
	}
	return err
}
