package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pi-parallel/parallel/internal/dispatch"
	"github.com/pi-parallel/parallel/internal/metrics"
	"github.com/pi-parallel/parallel/internal/types"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Read one JSON tool-invocation request from stdin, write one JSON Result object to stdout.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		mustLogger(cfg)

		ctx, cancel := context.WithCancel(context.Background())
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-sigCh
			cancel()
		}()
		defer cancel()

		d := dispatch.New(cfg)
		if cfg.MetricsAddr != "" {
			m := metrics.New()
			d.Metrics = m
			go func() {
				if err := metrics.Serve(ctx, cfg.MetricsAddr, m); err != nil {
					fmt.Fprintln(os.Stderr, "metrics server stopped:", err)
				}
			}()
		}

		var req dispatch.Request
		dec := json.NewDecoder(os.Stdin)
		if err := dec.Decode(&req); err != nil {
			resp := dispatch.Response{
				Content: []dispatch.ContentItem{{Type: "text", Text: fmt.Sprintf("invalid request: %v", err)}},
				IsError: true,
			}
			return json.NewEncoder(os.Stdout).Encode(resp)
		}

		resp := d.Dispatch(ctx, req, func(*types.TaskProgress) {}, nil)
		return json.NewEncoder(os.Stdout).Encode(resp)
	},
}
