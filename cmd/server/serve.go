package main

import (
	"context"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/docspark/api/internal/reaper"
	"github.com/docspark/api/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and the TTL reaper",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := build(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	r := reaper.New(c.service, c.cfg.Jobs.ReaperSchedule, c.logger, c.guard)
	if err := r.Start(context.WithoutCancel(ctx)); err != nil {
		return err
	}
	defer r.Stop()

	app := server.New(server.Deps{
		Config:    c.cfg,
		Service:   c.service,
		Files:     c.files,
		Guard:     c.guard,
		Challenge: c.challenge,
		Validator: c.validator,
		Logger:    c.logger,
		AccessLog: true,
	})

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		c.logger.Info("shutting down server")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			c.logger.Error("server shutdown error", zap.Error(err))
		}
	}()

	addr := net.JoinHostPort(c.cfg.Server.Host, c.cfg.Server.Port)
	c.logger.Info("server starting",
		zap.String("addr", addr),
		zap.String("store", c.cfg.Store.Driver),
		zap.String("abuseBackend", c.cfg.Abuse.Backend),
		zap.String("challenge", c.cfg.Challenge.Provider),
	)
	return app.Listen(addr)
}
