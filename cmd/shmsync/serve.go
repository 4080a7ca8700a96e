package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/srediag/shmsync/adapter"
	"github.com/srediag/shmsync/pkg/shm"
)

var serveAddr string

var rmCmd = &cobra.Command{
	Use:   "rm NAME",
	Short: "Remove a segment and its mutex left behind by crashed processes",
	Long: `Remove a segment and its mutex by name. Processes that still have them
open keep working on the old objects; the next open creates fresh ones.`,
	Args: cobra.ExactArgs(1),
	RunE: runRm,
}

var serveCmd = &cobra.Command{
	Use:   "serve NAME",
	Short: "Keep a segment open and expose health checks and metrics",
	Long: `Open a segment and its mutex and serve /live, /ready and /metrics until
SIGINT or SIGTERM. A segment created by serve is removed on shutdown.`,
	Args: cobra.ExactArgs(1),
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8086", "listen address")
	rootCmd.AddCommand(rmCmd, serveCmd)
}

func runRm(cmd *cobra.Command, args []string) error {
	name := args[0]
	return errors.Join(factory.RemoveSegment(name), factory.RemoveMutex(mutexName(name)))
}

func runServe(cmd *cobra.Command, args []string) error {
	name := args[0]
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := shm.RegisterMetrics(reg); err != nil {
		return err
	}

	config := factory.Config()
	adapter.Instrument(&config, nil, nil)
	f, err := shm.NewFactory(&config)
	if err != nil {
		return err
	}
	mu, err := f.OpenMutex(mutexName(name))
	if err != nil {
		return err
	}
	seg, err := f.OpenSegment(name)
	if err != nil {
		return errors.Join(err, shm.CloseAll())
	}

	health := adapter.NewHandler(reg)
	adapter.Register(health, f, mu, name)

	mux := http.NewServeMux()
	mux.HandleFunc("/live", health.LiveEndpoint)
	mux.HandleFunc("/ready", health.ReadyEndpoint)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: serveAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	fmt.Fprintf(cmd.OutOrStdout(), "serving %s (created=%t, %d bytes) on %s\n", name, seg.Created(), seg.Size(), serveAddr)

	select {
	case <-ctx.Done():
	case err = <-errc:
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	return errors.Join(err, shm.CloseAll())
}
