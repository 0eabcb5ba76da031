package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/go-tg-session-gateway/auth"
	"github.com/jrsteele09/go-tg-session-gateway/internal/config"
	"github.com/jrsteele09/go-tg-session-gateway/internal/telegram"
	"github.com/jrsteele09/go-tg-session-gateway/server"
	"github.com/jrsteele09/go-tg-session-gateway/sessions"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Error running server")
	}
	log.Info().Msg("Server stopped")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("Recovered from panic")
			returnError = errors.New("panic recovered")
		}
	}()

	c, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(c.GetEnv())
	displayAppname(c.GetAppName())

	gateMode, err := sessions.ParseGateMode(c.GetGateMode())
	if err != nil {
		return err
	}
	store := sessions.NewStore(sessions.WithGateMode(gateMode))

	storage, closeStorage, err := telegram.NewStorageProvider(c, c.GetDataFolder())
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStorage(); err != nil {
			log.Warn().Err(err).Msg("closing session storage")
		}
	}()

	service, err := auth.NewService(store, telegram.NewFactory(storage),
		auth.WithFileSystem(afero.NewOsFs(), c.GetUploadDir()),
		auth.WithDefaultTarget(c.GetDefaultTarget()),
		auth.WithLogger(log.Logger),
	)
	if err != nil {
		return err
	}

	handler, err := server.New(c, service, store)
	if err != nil {
		return err
	}
	httpServer := &http.Server{
		Addr:              c.GetPort(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return listenAndServe(httpServer)
	})
	g.Go(func() error {
		return evictIdleSessions(ctx, store, c.GetSessionIdleTTL(), c.GetEvictionInterval())
	})
	g.Go(func() error {
		<-ctx.Done()
		return shutdown(httpServer, store, c.GetShutdownTimeout())
	})
	return g.Wait()
}

func setupLogging(env string) {
	zerolog.TimeFieldFormat = time.RFC3339
	if env == "DEV" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

func listenAndServe(server *http.Server) error {
	log.Info().Msgf("Server listening on %s", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

// evictIdleSessions drops sessions unused for longer than idleTTL until ctx
// is done. A zero idleTTL disables eviction.
func evictIdleSessions(ctx context.Context, store *sessions.Store, idleTTL, interval time.Duration) error {
	if idleTTL <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := store.EvictIdle(ctx, idleTTL)
			if err != nil && ctx.Err() == nil {
				log.Warn().Err(err).Msg("evicting idle sessions")
			}
			if n > 0 {
				log.Info().Int("evicted", n).Int("remaining", store.Len()).Msg("evicted idle sessions")
			}
		}
	}
}

func shutdown(server *http.Server, store *sessions.Store, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	if err := store.Close(ctx); err != nil {
		return fmt.Errorf("store.Close: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
