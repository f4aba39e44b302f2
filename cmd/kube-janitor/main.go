package main

import (
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/dschaaff/kube-janitor/pkg/janitor"
	"github.com/dschaaff/kube-janitor/pkg/janitor/hooks"
	"github.com/dschaaff/kube-janitor/pkg/janitor/logging"
	"github.com/dschaaff/kube-janitor/pkg/janitor/shutdown"
)

var (
	version   = "dev"     // Will be set during build with -ldflags
	buildDate = "unknown" // Will be set during build with -ldflags
	gitCommit = "unknown" // Will be set during build with -ldflags
)

func newRootCmd() *cobra.Command {
	config := janitor.NewConfig()

	cmd := &cobra.Command{
		Use:           "kube-janitor",
		Short:         "Clean up expired or orphaned Kubernetes resources",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(config)
		},
	}
	cmd.CompletionOptions.DisableDefaultCmd = true
	config.AddFlags(cmd.Flags())

	return cmd
}

func run(config *janitor.Config) error {
	log := logging.New()
	log.Infof("Kubernetes Janitor %s (built: %s, commit: %s) starting up...", version, buildDate, gitCommit)

	config.ParseStringFlags()

	if config.Parallelism == 0 {
		config.Parallelism = runtime.NumCPU()
	}

	if config.DryRun {
		log.Info("running in dry-run mode")
	}

	log.Infof("performance settings: parallelism=%d", config.Parallelism)

	if err := config.Validate(); err != nil {
		log.WithError(err).Error("invalid configuration")
		os.Exit(1)
	}

	if hookName := os.Getenv("RESOURCE_CONTEXT_HOOK"); hookName != "" {
		hookFunc, err := hooks.GetHook(hookName)
		if err != nil {
			log.WithError(err).Error("failed to get resource context hook")
			os.Exit(1)
		}
		config.ResourceContextHook = func(resource interface{}, cache map[string]interface{}) map[string]interface{} {
			return hookFunc(resource, cache)
		}
	}

	if err := config.LoadRules(); err != nil {
		log.WithError(err).Error("failed to load rules")
		os.Exit(1)
	}

	j, err := janitor.New(config)
	if err != nil {
		log.WithError(err).Error("failed to create janitor")
		os.Exit(1)
	}

	if config.MetricsAddr != "" {
		go serveMetrics(config.MetricsAddr, log)
	}

	ctx, gs := shutdown.ShutdownWithContext()
	defer gs.SetSafeToExit(true)

	if config.Once {
		startTime := janitor.Now()
		if err := j.CleanUp(ctx); err != nil {
			log.WithError(err).Error("error during cleanup")
			os.Exit(1)
		}
		log.Infof("cleanup completed in %v", janitor.Now().Sub(startTime))
		return nil
	}

	ticker := time.NewTicker(time.Duration(config.Interval) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			startTime := janitor.Now()
			if err := j.CleanUp(ctx); err != nil {
				log.WithError(err).Error("error during cleanup")
			} else {
				log.Infof("cleanup completed in %v", janitor.Now().Sub(startTime))
			}
		}
	}
}

// serveMetrics runs a Prometheus metrics endpoint on addr until the process
// exits. A bind failure is logged, not fatal: metrics are ambient
// observability and must never block cleanup cycles from running.
func serveMetrics(addr string, log *logging.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.WithError(err).Error("metrics server stopped")
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logging.New().WithError(err).Error("kube-janitor exited with error")
		os.Exit(1)
	}
}
