package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/urfave/cli/v2"

	"volview.dev/internal/config"
	"volview.dev/internal/fetch"
	"volview.dev/internal/registry"
	"volview.dev/internal/store"
	"volview.dev/internal/tracelog"
	"volview.dev/internal/transport/ws"
	"volview.dev/internal/worker"
)

func main() {
	app := &cli.App{
		Name:        "volviewd",
		Description: "slice-view chunk streaming worker",
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Action: commandServe,
				Flags: []cli.Flag{
					&cli.PathFlag{
						Name:  "config",
						Usage: "path to the configuration file",
						Value: "volview.yaml",
					},
				},
			},
			{
				Name:      "trace",
				Action:    commandTrace,
				Usage:     "dump a compressed request trace file",
				ArgsUsage: "<trace.jsonl.zst>",
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func commandServe(c *cli.Context) error {
	cfg, err := config.Load(c.Path("config"))
	if err != nil {
		return err
	}

	logger := log.New(os.Stdout, "[volviewd] ", log.LstdFlags|log.Lmicroseconds)

	st, err := store.Open(cfg.DataDir)
	if err != nil {
		return err
	}
	defer st.Close()

	reg := registry.New()
	manifest, err := worker.RegisterVolumes(reg, st.Index(), cfg.Volumes)
	if err != nil {
		return err
	}
	logger.Printf("registered %d volumes", len(manifest))

	var trace *tracelog.Writer
	if cfg.TraceRequests {
		trace = tracelog.NewWriter(filepath.Join(cfg.DataDir, "traces"), "requests")
		defer trace.Close()
	}

	var loop *worker.Loop
	sched := fetch.New(st, cfg.FetchWorkers, cfg.CacheChunks, func() {
		loop.ScheduleUpdate()
	}, logger)
	defer sched.Close()

	loop = worker.New(sched, reg, trace, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	loopErr := make(chan error, 1)
	go func() { loopErr <- loop.Run(ctx) }()

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/ws", ws.NewServer(loop, manifest, logger).Handler())

	srv := &http.Server{Addr: cfg.Listen, Handler: mux}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	logger.Printf("listening on %s", cfg.Listen)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	if err := <-loopErr; err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func commandTrace(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return fmt.Errorf("usage: volviewd trace <trace.jsonl.zst>")
	}
	entries, err := tracelog.Read(path)
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Printf("%s %s/%s %s tier=%s score=%.3f\n",
			e.Time, e.Volume, e.ScaleKey, e.ChunkKey, e.Tier, e.Score)
	}
	return nil
}
