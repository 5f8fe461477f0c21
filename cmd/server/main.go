package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/npezzotti/go-drawboard/internal/api"
	"github.com/npezzotti/go-drawboard/internal/config"
	"github.com/npezzotti/go-drawboard/internal/server"
	"github.com/npezzotti/go-drawboard/internal/stats"
)

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	addr           string
	signingKey     string
	allowedOrigins stringSliceFlag
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	// .env is optional; flags override it
	godotenv.Load()

	flag.StringVar(&addr, "addr", envOr("DRAWBOARD_ADDR", "localhost:8000"), "server address")
	flag.StringVar(&signingKey, "signing-key", os.Getenv("DRAWBOARD_SIGNING_KEY"), "base64 encoded identity token signing key (optional)")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	logger := log.New(os.Stderr, "[go-drawboard] ", log.LstdFlags)

	cfg, err := config.NewConfig(addr, signingKey, allowedOrigins)
	if err != nil {
		logger.Fatal("config:", err)
	}

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	drawServer, err := server.NewDrawServer(logger, statsUpdater)
	if err != nil {
		logger.Fatal("new draw server:", err)
	}

	srv := api.NewDrawboardApp(mux, logger, drawServer, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	go drawServer.Run()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("HTTP server shutdown:", err)
	}

	logger.Println("shutting down draw server...")
	if err := drawServer.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("draw server shutdown:", err)
	}

	logger.Println("shutdown complete")
}
