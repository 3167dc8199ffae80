package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/gluk-w/claworc/sshgate/internal/config"
	"github.com/gluk-w/claworc/sshgate/internal/database"
	"github.com/gluk-w/claworc/sshgate/internal/gateway"
	"github.com/gluk-w/claworc/sshgate/internal/healthmonitor"
	"github.com/gluk-w/claworc/sshgate/internal/history"
	"github.com/gluk-w/claworc/sshgate/internal/hostregistry"
	"github.com/gluk-w/claworc/sshgate/internal/httpapi"
	"github.com/gluk-w/claworc/sshgate/internal/logging"
	"github.com/gluk-w/claworc/sshgate/internal/sessionlock"
	"github.com/gluk-w/claworc/sshgate/internal/taskregistry"
)

func main() {
	config.Load()
	logging.Init()

	if err := database.Init(); err != nil {
		log.Fatalf("Database init: %v", err)
	}

	recorder, err := history.NewRecorder(database.DB, config.Cfg.HistoryRetentionDays)
	if err != nil {
		log.Fatalf("History recorder init: %v", err)
	}
	history.InitGlobal(recorder)

	registry, err := hostregistry.Load(config.Cfg.HostsFile)
	if err != nil {
		log.Fatalf("Host registry load (%s): %v", config.Cfg.HostsFile, err)
	}
	log.Printf("Host registry loaded: %d hosts", len(registry.AllHosts()))

	monitor := healthmonitor.New(
		registry,
		time.Duration(config.Cfg.ProbeIntervalSeconds)*time.Second,
		time.Duration(config.Cfg.ProbeTimeoutSeconds)*time.Second,
		config.Cfg.FailureThreshold,
		config.Cfg.SuccessThreshold,
	)
	httpapi.Monitor = monitor

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	monitor.Start(sigCtx)
	defer monitor.Stop()

	lock := sessionlock.New()
	tasks := taskregistry.New()
	gw := gateway.New(registry, monitor, lock, tasks)

	retentionSchedule := cron.New()
	if _, err := retentionSchedule.AddFunc("@daily", func() {
		recorder.RunRetentionOnce(sigCtx)
	}); err != nil {
		log.Fatalf("Retention schedule: %v", err)
	}
	retentionSchedule.Start()
	defer retentionSchedule.Stop()

	srv := &http.Server{
		Addr:    config.Cfg.ListenAddr,
		Handler: httpapi.NewRouter(gw),
	}

	go func() {
		log.Printf("Server starting on %s", config.Cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-sigCtx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Shutdown error: %v", err)
	}
	log.Println("Server stopped")
}
