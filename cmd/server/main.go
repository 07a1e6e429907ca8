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
	"github.com/jrsteele09/aps-viewer-server/aps"
	"github.com/jrsteele09/aps-viewer-server/broker"
	"github.com/jrsteele09/aps-viewer-server/gateway"
	"github.com/jrsteele09/aps-viewer-server/internal/config"
	"github.com/jrsteele09/aps-viewer-server/server"
	"github.com/jrsteele09/aps-viewer-server/sessions"
	"github.com/rs/zerolog/log"
)

const sessionSweepInterval = 10 * time.Minute

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
		return fmt.Errorf("config.Load: %w", err)
	}
	closeLog := setupLogging(c)
	defer closeLog()

	if err := c.Validate(); err != nil {
		return err
	}
	displayAppname(c.GetAppName())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handler, err := newHandler(ctx, c)
	if err != nil {
		return err
	}

	srv := &http.Server{Addr: c.GetPort(), Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	errs := make(chan error, 1)
	go func() { errs <- listenAndServe(srv) }()

	select {
	case err := <-errs:
		return err
	case <-waitForStopSignal():
	}
	return shutdown(srv)
}

// newHandler wires the APS clients, the session store, the broker and the
// gateway behind the HTTP surface.
func newHandler(ctx context.Context, c config.Config) (http.Handler, error) {
	auth := aps.NewAuthClient(aps.AuthConfig{
		BaseURL:        c.GetAPSBaseURL(),
		ClientID:       c.GetClientID(),
		ClientSecret:   c.GetClientSecret(),
		CallbackURL:    c.GetCallbackURL(),
		UserInfoURL:    c.GetUserInfoURL(),
		InternalScopes: c.GetInternalScopes(),
	})

	repo, err := newSessionRepo(ctx, c)
	if err != nil {
		return nil, err
	}

	b := broker.New(auth, repo, c.GetInternalScopes(), c.GetPublicScopes())
	client := aps.NewClient(b.ServiceTokenSource(),
		aps.WithBaseURL(c.GetAPSBaseURL()),
		aps.WithRegion(c.GetRegion()),
		aps.WithRateLimit(c.GetAPSRateLimit()),
	)

	var opts []gateway.Option
	if bucket := c.GetDefaultBucket(); bucket != "" {
		log.Warn().Str("bucket", bucket).Msg("APS_BUCKET is set; requests without a bucket will use it. This fallback is deprecated")
		opts = append(opts, gateway.WithDefaultBucket(bucket))
	}

	s, err := server.New(c, b, gateway.New(client, opts...))
	if err != nil {
		return nil, fmt.Errorf("server.New: %w", err)
	}
	return s, nil
}

func newSessionRepo(ctx context.Context, c config.Config) (sessions.Repo, error) {
	if c.GetSessionStore() == config.SessionStoreRedis {
		repo, err := sessions.NewRedisRepo(ctx, c.GetRedisURL(), c.GetMaxSessionAge())
		if err != nil {
			return nil, fmt.Errorf("sessions.NewRedisRepo: %w", err)
		}
		go func() {
			<-ctx.Done()
			_ = repo.Close()
		}()
		log.Info().Msg("Sessions stored in Redis")
		return repo, nil
	}

	repo := sessions.NewInMemoryRepo()
	repo.StartCleanup(ctx, sessionSweepInterval, c.GetMaxSessionAge())
	return repo, nil
}

func listenAndServe(server *http.Server) error {
	log.Info().Str("addr", server.Addr).Msg("Server listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func waitForStopSignal() <-chan os.Signal {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	return stop
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
