package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/recera/fiberpool/internal/config"
	"github.com/recera/fiberpool/internal/introspect"
	"github.com/recera/fiberpool/pkg/fiberpool"
)

func newServeCommand() *cobra.Command {
	var port int
	var host string
	var cwd string
	var watch bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a scheduler and expose a live WebSocket introspection feed",
		Long:  `Starts a Scheduler sized from fiberpool.yaml and serves its live Snapshot() over a WebSocket at /introspect/<id>, reloading tunables on config changes when --watch is set.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(host, port, cwd, watch)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 4891, "Port to serve the introspection feed on")
	cmd.Flags().StringVarP(&host, "host", "H", "localhost", "Host to bind to")
	cmd.Flags().StringVar(&cwd, "cwd", ".", "Project directory containing fiberpool.yaml")
	cmd.Flags().BoolVar(&watch, "watch", true, "Hot-reload fiberpool.yaml on change")

	return cmd
}

func runServe(host string, port int, cwd string, watch bool) error {
	cfg, err := config.Load(cwd)
	if err != nil {
		log.Printf("failed to load fiberpool.yaml: %v (using defaults)", err)
		cfg = config.DefaultConfig()
	}
	applyDebugConfig(cfg)

	workers := cfg.Workers.Count
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	sched := fiberpool.NewSchedulerWithConfig(workers, tuningFromConfig(cfg))
	defer sched.Close()

	if watch {
		w, err := config.NewWatcher(cwd, func(c *config.Config) {
			if c.Workers != nil && c.Workers.Count > 0 {
				sched.SetWorkerThreadCount(c.Workers.Count)
				log.Printf("fiberpool.yaml changed: resized to %d workers", c.Workers.Count)
			}
			sched.SetTuning(tuningFromConfig(c))
			log.Printf("fiberpool.yaml changed: reloaded spin/steal/pool tuning")
		})
		if err != nil {
			log.Printf("failed to start config watcher: %v", err)
		} else {
			defer w.Close()
		}
	}

	introSrv := introspect.NewServer(sched, 250*time.Millisecond)
	defer introSrv.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/introspect/", func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.URL.Path[len("/introspect/"):]
		introSrv.HandleWebSocket(w, r, sessionID)
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	addr := fmt.Sprintf("%s:%d", host, port)
	httpSrv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		log.Printf("introspection server listening on http://%s", addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("http server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Println("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpSrv.Shutdown(ctx)
}
