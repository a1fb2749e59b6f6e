package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	. "nyiyui.ca/hato/junkan"
	"nyiyui.ca/hato/junkan/config"
	"nyiyui.ca/hato/junkan/kujo"
	"nyiyui.ca/hato/junkan/sakuragi"
	"nyiyui.ca/hato/junkan/tal"
	"nyiyui.ca/hato/junkan/trace"
	"nyiyui.ca/hato/junkan/ui"
)

const shutdownTimeout = 5 * time.Second

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the trains in a terminal UI",
		Long: `Runs every train and draws them in the terminal until q is pressed.

Keys: 1-9 select a train, + and - change its speed, q quits.
The HTTP servers enabled in the config run alongside. Logs go to junkan.log
unless --log says otherwise.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("log") {
				level, _ := cmd.Flags().GetString("log-level")
				if err := setupLogging(level, "junkan.log"); err != nil {
					return err
				}
			}
			c, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return run(ctx, c, true)
		},
	}
	return cmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the trains with only the HTTP servers, until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if c.Kujo == "" && c.Sakuragi == "" {
				zap.S().Warn("no servers enabled; trains will run unobserved")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return run(ctx, c, false)
		},
	}
}

func run(ctx context.Context, c config.Config, withUI bool) error {
	gc, err := c.GuideConf()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	gc.RunID = uuid.New()
	store, err := trace.Open(gc.RunID, c.History)
	if err != nil {
		return fmt.Errorf("trace: %w", err)
	}
	defer store.Close()
	gc.Tracer = store
	g, err := tal.NewGuide(gc)
	if err != nil {
		return err
	}
	defer g.Close()
	zap.S().Infof("run %s: %d trains on %d segments", g.RunID, g.Len(), len(g.Network.Segments))

	var servers []*http.Server
	var ks *kujo.Server
	if c.Kujo != "" {
		ks = kujo.NewServer(g, store)
		servers = append(servers, &http.Server{Addr: c.Kujo, Handler: ks})
	}
	if c.Sakuragi != "" {
		servers = append(servers, &http.Server{Addr: c.Sakuragi, Handler: sakuragi.New(g)})
	}
	errs := make(chan error, len(servers))
	for _, s := range servers {
		go func(s *http.Server) {
			zap.S().Infof("listening on %s", s.Addr)
			if err := s.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				errs <- fmt.Errorf("serve %s: %w", s.Addr, err)
			}
		}(s)
	}

	g.Start(ctx)
	if withUI {
		err = ui.Main(ctx, g)
	} else {
		select {
		case <-ctx.Done():
		case err = <-errs:
		}
	}
	g.Stop()

	// event streams never end on their own, so disconnect them before shutting down
	if ks != nil {
		ks.Close()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, s := range servers {
		if err := s.Shutdown(shutdownCtx); err != nil {
			zap.S().Errorf("shutdown %s: %s", s.Addr, err)
		}
	}

	vs, aerr := store.Audit()
	if aerr != nil {
		zap.S().Errorf("audit: %s", aerr)
	}
	for _, v := range vs {
		zap.S().Errorf("audit: %s", v)
	}
	for i := 0; i < g.Len(); i++ {
		r, _ := g.Runtime(TrainID(i))
		zap.S().Infof("train %d: %d laps, %s", i, r.Laps(), r.State())
	}
	return err
}
