package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.io/infrasutra/flatmail/internal/config"
	"github.io/infrasutra/flatmail/internal/mailbox"
	"github.io/infrasutra/flatmail/internal/popserver"
	"github.io/infrasutra/flatmail/internal/smtpserver"
	"github.io/infrasutra/flatmail/internal/userdb"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if _, err := os.Stat(cfg.UsersFile); err != nil {
		logger.Warn("user listing not readable; every lookup will fail until it exists",
			"path", cfg.UsersFile, "error", err)
	}

	users := userdb.New(cfg.UsersFile)
	boxes := mailbox.NewStore(cfg.MailDir)

	smtpAddr := fmt.Sprintf(":%d", cfg.SMTPPort)
	smtpSrv := smtpserver.New(users, boxes, logger, smtpAddr, cfg.LocalDomain)

	popAddr := fmt.Sprintf(":%d", cfg.POP3Port)
	popSrv := popserver.New(users, boxes, logger, popAddr)

	go func() {
		if err := smtpSrv.ListenAndServe(); err != nil {
			logger.Error("smtp server stopped", "error", err)
		}
	}()

	go func() {
		if err := popSrv.ListenAndServe(); err != nil {
			logger.Error("pop3 server stopped", "error", err)
		}
	}()

	var metricsSrv *http.Server
	if cfg.MetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.MetricsPort),
			Handler: mux,
		}
		go func() {
			logger.Info("metrics listening", "addr", metricsSrv.Addr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server stopped", "error", err)
			}
		}()
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	<-shutdown

	if err := smtpSrv.Close(); err != nil {
		logger.Error("shutdown smtp", "error", err)
	}
	if err := popSrv.Close(); err != nil {
		logger.Error("shutdown pop3", "error", err)
	}
	if metricsSrv != nil {
		if err := metricsSrv.Close(); err != nil {
			logger.Error("shutdown metrics", "error", err)
		}
	}
}
