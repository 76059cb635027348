package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/sonicgate/sonicgate/pkg/gateway/config"
	gatewayserver "github.com/sonicgate/sonicgate/pkg/gateway/server"
	"github.com/sonicgate/sonicgate/pkg/nova"
	"github.com/sonicgate/sonicgate/pkg/promptstore"
)

const envFile = "sonicgate.env"

type gatewayDeps struct {
	loadConfig   func() (config.Config, error)
	newOpener    func(ctx context.Context, region string) (nova.Opener, error)
	newPrompts   func(ctx context.Context, cfg config.Config) (promptstore.Store, error)
	newGateway   func(config.Config, *slog.Logger, nova.Opener, promptstore.Store) *gatewayserver.Server
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultGatewayDeps() gatewayDeps {
	return gatewayDeps{
		loadConfig: config.LoadFromEnv,
		newOpener: func(ctx context.Context, region string) (nova.Opener, error) {
			return nova.NewBedrockOpener(ctx, region)
		},
		newPrompts: newPromptStore,
		newGateway: gatewayserver.New,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

func newPromptStore(ctx context.Context, cfg config.Config) (promptstore.Store, error) {
	if cfg.DatabaseURL == "" {
		return promptstore.NewMemory(cfg.SystemPrompt), nil
	}
	return promptstore.NewPostgres(ctx, cfg.DatabaseURL, cfg.SystemPrompt)
}

// loadEnvFile reads credentials and region settings from a dotenv file
// next to the binary. A missing file is fine; variables already set in
// the environment win over file values.
func loadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load env file %q: %w", path, err)
	}
	return nil
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
	}
}

func runGateway(ctx context.Context, logger *slog.Logger, deps gatewayDeps) error {
	if deps.loadConfig == nil || deps.newOpener == nil || deps.newPrompts == nil || deps.newGateway == nil {
		return errors.New("missing gateway dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	opener, err := deps.newOpener(ctx, cfg.Region)
	if err != nil {
		return fmt.Errorf("init model client: %w", err)
	}

	prompts, err := deps.newPrompts(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init prompt store: %w", err)
	}
	defer prompts.Close()

	gw := deps.newGateway(cfg, logger, opener, prompts)
	httpSrv := buildHTTPServer(cfg, gw.Handler())

	logger.Info("starting gateway", "addr", cfg.Addr, "model_id", cfg.ModelID, "region", cfg.Region)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	gw.SetDraining()
	gw.WarnLiveSessionsDraining()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer waitCancel()
	if !gw.WaitLiveSessions(waitCtx) {
		gw.CancelLiveSessions()
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("gateway stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps gatewayDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	if err := loadEnvFile(envFile); err != nil {
		fmt.Fprintf(stderr, "sonicgate: %v\n", err)
		return 1
	}

	if err := runGateway(ctx, logger, deps); err != nil {
		fmt.Fprintf(stderr, "sonicgate: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultGatewayDeps()))
}
