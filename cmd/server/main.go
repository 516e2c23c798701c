package main

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	chatwidget "github.com/qadrigroup/chat-widget"
	"github.com/qadrigroup/chat-widget/internal/handlers"
	"github.com/qadrigroup/chat-widget/internal/services"
	"github.com/rs/cors"
)

func main() {
	cfgDir, err := os.UserConfigDir()
	if err != nil {
		log.Fatal(fmt.Errorf("error getting user config dir: %w", err))
	}
	cfgPath := filepath.Join(cfgDir, "/chat-widget")
	if err := os.MkdirAll(cfgPath, 0755); err != nil {
		log.Fatal(fmt.Errorf("error creating config directory: %w", err))
	}

	cfg, err := loadConfig(filepath.Join(cfgPath, "config.yaml"))
	if err != nil {
		log.Fatal(err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	resolver := services.NewResolver(cfg.Endpoints, cfg.AskTimeout.Duration, logger)
	monitor := services.NewMonitor(cfg.Endpoints, cfg.ProbeTimeout.Duration, logger)
	session := services.NewSession(resolver, monitor, cfg.LoadingMessage, logger)

	m, err := handlers.NewMain(session, monitor, services.NewStateLogger(logger), cfg.WelcomeMessage, logger)
	if err != nil {
		log.Fatal(err)
	}
	session.OnUpdate(m.PublishMessages)
	monitor.OnChange(m.PublishStatus)

	monitorCtx, monitorCancel := context.WithCancel(context.Background())
	monitor.Start(monitorCtx, cfg.StartupProbeDelay.Duration)

	// Serve static files
	staticFS, err := fs.Sub(chatwidget.StaticFS, "static")
	if err != nil {
		log.Fatal(err)
	}
	fileServer := http.FileServer(http.FS(staticFS))

	router := mux.NewRouter()
	router.PathPrefix("/static/").Handler(http.StripPrefix("/static/", fileServer))
	router.HandleFunc("/", m.HandleWidget).Methods(http.MethodGet)
	router.HandleFunc("/messages", m.HandleSnapshot).Methods(http.MethodGet)
	router.HandleFunc("/messages", m.HandleSend).Methods(http.MethodPost)
	router.HandleFunc("/status", m.HandleStatus).Methods(http.MethodGet)
	router.HandleFunc("/status/check", m.HandleStatusCheck).Methods(http.MethodPost)
	router.HandleFunc("/widget/state", m.HandleWidgetState).Methods(http.MethodPost)
	router.HandleFunc("/sse", m.HandleSSE).Methods(http.MethodGet)

	// The widget is embedded cross-origin, so its endpoints must answer preflights.
	c := cors.New(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           c.Handler(router),
		ReadHeaderTimeout: 5 * time.Second,
	}

	srv.RegisterOnShutdown(func() {
		monitorCancel()

		if err := m.Shutdown(context.Background()); err != nil {
			log.Printf("Failed to shutdown sse server: %v", err)
		}
	})

	// Channel to listen for errors coming from the listener
	serverErrors := make(chan error, 1)

	// Start server in goroutine
	go func() {
		log.Println("Server starting on :" + cfg.Port)
		serverErrors <- srv.ListenAndServe()
	}()

	// Channel to listen for interrupt/terminate signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Blocking select waiting for either interrupt or server error
	select {
	case err := <-serverErrors:
		log.Printf("Server error: %v", err)

	case sig := <-shutdown:
		log.Printf("Start shutdown, signal: %v", sig)

		// Create context with timeout for shutdown
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// Gracefully shutdown the server
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("Graceful shutdown failed: %v", err)
			if err := srv.Close(); err != nil {
				log.Printf("Forcing server close: %v", err)
			}
		}
	}
}
