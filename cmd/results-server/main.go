// Command results-server serves a terrain results database over HTTP: the
// JSON and chart endpoints of internal/api plus the /debug/ admin pages.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/terrain.report/internal/api"
	"github.com/banshee-data/terrain.report/internal/db"
	"github.com/banshee-data/terrain.report/internal/version"
)

var (
	listen      = flag.String("listen", ":8080", "Listen address")
	dbPath      = flag.String("db", "results.db", "Path to the sqlite results database")
	showVersion = flag.Bool("version", false, "Print version information and exit")
)

// newHandler mounts the API and admin routes for database.
func newHandler(database *db.DB) (http.Handler, error) {
	mux := api.NewServer(database).ServeMux()
	if err := database.AttachAdminRoutes(mux); err != nil {
		return nil, err
	}
	return api.LoggingMiddleware(mux), nil
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("results-server %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}
	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	database, err := db.NewDB(*dbPath)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	handler, err := newHandler(database)
	if err != nil {
		log.Fatalf("Failed to mount routes: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := &http.Server{
		Addr:    *listen,
		Handler: handler,
	}

	// Start server in a goroutine so it doesn't block
	go func() {
		log.Printf("Serving %s on %s", *dbPath, *listen)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}
	log.Printf("Graceful shutdown complete")
}
