// Command catteryd is the admin API server for the cattery catalog: it
// stores the catalog, issues signed upload capabilities, and keeps the
// rendered site and CDN consistent with every mutation.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/lmittmann/tint"

	"github.com/meadowfold/cattery/server"
	"github.com/meadowfold/cattery/telemetry"
)

var version = "dev"

type cli struct {
	Address     string `help:"Address to listen on." default:":8080"`
	DBPath      string `help:"Path to the catalog database file." default:"./catalog.db" name:"db-path"`
	StoragePath string `help:"Root directory for the local object store." default:"./objects"`

	AuthToken string `help:"Bearer token protecting the admin API." env:"CATTERY_AUTH_TOKEN"`

	UploadBaseURL        string        `help:"Base URL clients PUT uploads to." default:"http://localhost:8080/objects"`
	PublicBaseURL        string        `help:"Base URL uploaded objects are served from." default:"http://localhost:8080/objects"`
	UploadSecret         string        `help:"Secret keying upload capability signatures." env:"CATTERY_UPLOAD_SECRET" required:""`
	UploadTTL            time.Duration `help:"Lifetime of issued upload URLs." default:"15m"`
	CredentialServiceURL string        `help:"Storage provider credential service URL (remote issuance)."`

	ObjectStoreURL   string `help:"External S3-style object store base URL."`
	ObjectStoreToken string `help:"Token for the external object store." env:"CATTERY_OBJECT_STORE_TOKEN"`

	RendererURL   string `help:"Base URL of the site renderer." default:"http://localhost:3000"`
	RendererToken string `help:"Bearer token for renderer requests." env:"CATTERY_RENDERER_TOKEN"`

	CDNAPIURL string `help:"CDN purge API base URL." name:"cdn-api-url"`
	CDNToken  string `help:"Token for CDN purge requests." env:"CATTERY_CDN_TOKEN" name:"cdn-token"`

	Production bool `help:"Enable CDN purging." env:"CATTERY_PRODUCTION"`

	OTLPEndpoint string `help:"OTLP gRPC endpoint for metric export." name:"otlp-endpoint"`
	Prometheus   bool   `help:"Expose Prometheus metrics at /metrics." default:"true"`

	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info" enum:"debug,info,warn,error"`
	LogFormat string `help:"Log format (text, json)." default:"text" enum:"text,json"`

	Version kong.VersionFlag `help:"Print version and exit."`
}

func main() {
	var flags cli
	kctx := kong.Parse(&flags,
		kong.Name("catteryd"),
		kong.Description("Cattery catalog admin server."),
		kong.Vars{"version": version},
	)

	kctx.FatalIfErrorf(run(flags))
}

func run(flags cli) error {
	logger, err := buildLogger(flags.LogLevel, flags.LogFormat)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownMetrics, err := telemetry.InitMetrics(ctx, telemetry.MetricsConfig{
		ServiceName:      "catteryd",
		ServiceVersion:   version,
		OTLPEndpoint:     flags.OTLPEndpoint,
		EnablePrometheus: flags.Prometheus,
	})
	if err != nil {
		return fmt.Errorf("initialising metrics: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = shutdownMetrics(shutdownCtx)
	}()

	srv, err := server.New(server.Config{
		Address:              flags.Address,
		DBPath:               flags.DBPath,
		StoragePath:          flags.StoragePath,
		AuthToken:            flags.AuthToken,
		UploadBaseURL:        flags.UploadBaseURL,
		PublicBaseURL:        flags.PublicBaseURL,
		UploadSecret:         flags.UploadSecret,
		UploadTTL:            flags.UploadTTL,
		CredentialServiceURL: flags.CredentialServiceURL,
		ObjectStoreURL:       flags.ObjectStoreURL,
		ObjectStoreToken:     flags.ObjectStoreToken,
		RendererURL:          flags.RendererURL,
		RendererToken:        flags.RendererToken,
		CDNAPIURL:            flags.CDNAPIURL,
		CDNToken:             flags.CDNToken,
		Production:           flags.Production,
		Logger:               logger,
	})
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func buildLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("invalid log level: %s", level)
	}

	var handler slog.Handler
	switch format {
	case "text":
		handler = tint.NewHandler(os.Stdout, &tint.Options{Level: lvl})
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		return nil, fmt.Errorf("invalid log format: %s", format)
	}

	return slog.New(handler), nil
}
