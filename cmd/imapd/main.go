// Command imapd runs the reference IMAP4rev1 server backed by an
// in-memory mailstore, wiring together config, logging, metrics, and the
// command dispatcher built in this module.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ternpost/imapd/internal/config"
	"github.com/ternpost/imapd/mailstore"
	"github.com/ternpost/imapd/middleware"
	"github.com/ternpost/imapd/server"
	_ "github.com/ternpost/imapd/server/commands"
)

func main() {
	configPath := flag.String("config", "imapd.toml", "Path to TOML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("imapd: loading config: %v", err)
	}

	logger, err := newLogger()
	if err != nil {
		log.Fatalf("imapd: initializing logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	sugar := logger.Sugar()

	idleTimeout, err := cfg.GetIdleTimeout()
	if err != nil {
		sugar.Fatalw("invalid idle timeout", "error", err)
	}

	ms := mailstore.New()
	ms.AddUser(cfg.Principal.Username, cfg.Principal.Password)

	opts := []server.Option{
		server.WithLogger(sugar),
		server.WithGreetingText(cfg.GreetingText),
		server.WithAllowInsecureAuth(cfg.InsecureAuth),
		server.WithIdleTimeout(idleTimeout),
	}

	if cfg.TLS.Enable {
		tlsConfig, err := loadTLSConfig(cfg.TLS)
		if err != nil {
			sugar.Fatalw("loading TLS config", "error", err)
		}
		opts = append(opts, server.WithStartTLS(tlsConfig))
	}

	srv := ms.NewServer(opts...)

	middleware.ApplyChain(srv,
		middleware.Recovery(),
		middleware.Logging(),
		middleware.MetricsMiddleware(middleware.NewMetrics()),
		middleware.Timeout(idleTimeout),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddr != "" {
		go serveMetrics(ctx, sugar, cfg.MetricsAddr)
	}

	errCh := make(chan error, 1)
	go func() {
		sugar.Infow("imap server listening", "addr", cfg.ListenAddr)
		errCh <- srv.ListenAndServe(cfg.ListenAddr)
	}()

	select {
	case <-ctx.Done():
		sugar.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			sugar.Errorw("shutdown error", "error", err)
		}
	case err := <-errCh:
		if err != nil {
			sugar.Fatalw("server error", "error", err)
		}
	}
}

func newLogger() (*zap.Logger, error) {
	if os.Getenv("IMAPD_ENV") == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func loadTLSConfig(tlsCfg config.TLSConfig) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(tlsCfg.CertFile, tlsCfg.KeyFile)
	if err != nil {
		return nil, err
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}}, nil
}

func serveMetrics(ctx context.Context, logger *zap.SugaredLogger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	httpSrv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpSrv.Shutdown(shutdownCtx) //nolint:errcheck
	}()

	logger.Infow("metrics server listening", "addr", addr)
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Errorw("metrics server error", "error", err)
	}
}
