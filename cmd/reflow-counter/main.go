// Command reflow-counter runs a small demonstration app: a counter state
// with synchronous, multi-step, and background handlers, served over a
// websocket endpoint.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	reflow "github.com/joeycumines/go-reflow"
	"github.com/joeycumines/go-reflow/internal/config"
	"github.com/joeycumines/go-reflow/storage"
	"github.com/joeycumines/go-reflow/wsbridge"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	configVar := flag.String("config", "", "path to a YAML config file")
	addrVar := flag.String("addr", "", "the address to listen on (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configVar)
	if err != nil {
		return err
	}
	if *addrVar != "" {
		cfg.Addr = *addrVar
	}

	store, err := storage.Open(cfg.Backend, cfg.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	app, err := reflow.New(counterDefinition(), reflow.WithStore(store))
	if err != nil {
		return err
	}

	r := mux.NewRouter()
	r.Methods(http.MethodGet).Path("/ws").Handler(wsbridge.New(app))
	r.Methods(http.MethodGet).Path("/healthz").HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	httpServer := &http.Server{Addr: cfg.Addr, Handler: r}
	wg := new(sync.WaitGroup)
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("listening", "addr", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server listen failed", "err", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown", "err", err)
	}
	if err := app.Close(shutdownCtx); err != nil {
		slog.Warn("app shutdown", "err", err)
	}
	wg.Wait()
	return nil
}

// counterDefinition declares the demo state tree: a counter with a cached
// computed double, a slow multi-step reset, and a background ticker that
// mutates under exclusive brackets.
func counterDefinition() *reflow.Definition {
	timer := reflow.NewDefinition("timer").
		Var("ticks", 0).
		Handler("tick", func(ctx context.Context, c *reflow.Call) ([]reflow.Event, error) {
			for i := 0; i < 5; i++ {
				select {
				case <-time.After(200 * time.Millisecond):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
				err := c.Exclusive(ctx, func(n *reflow.Node) error {
					n.Set("ticks", n.Int("ticks")+1)
					return nil
				})
				if err != nil {
					return nil, err
				}
			}
			return nil, nil
		}, reflow.Background())

	return reflow.NewDefinition("counter").
		Var("value", 0).
		Var("status", "idle").
		Var("theme", "light", reflow.FromClientStorage(reflow.StorageLocal)).
		Computed("double", "value * 2", reflow.Cached()).
		Handler("increment", func(_ context.Context, c *reflow.Call) ([]reflow.Event, error) {
			amount, err := c.Args().Int("amount")
			if err != nil {
				return nil, err
			}
			c.State().Set("value", c.State().Int("value")+amount)
			return nil, nil
		}, reflow.WithOptionalArg("amount", 1)).
		Handler("reset", func(ctx context.Context, c *reflow.Call) ([]reflow.Event, error) {
			c.State().Set("status", "resetting")
			if err := c.Flush(ctx); err != nil {
				return nil, err
			}
			c.State().Set("value", 0)
			c.State().Set("status", "idle")
			return nil, nil
		}).
		Child(timer)
}
