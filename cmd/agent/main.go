package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/go-auth-session/apiclient"
	"github.com/jrsteele09/go-auth-session/clock"
	"github.com/jrsteele09/go-auth-session/cookiesync"
	"github.com/jrsteele09/go-auth-session/credentials"
	"github.com/jrsteele09/go-auth-session/internal/config"
	"github.com/jrsteele09/go-auth-session/internal/logging"
	"github.com/jrsteele09/go-auth-session/metrics"
	"github.com/jrsteele09/go-auth-session/session"
	"github.com/jrsteele09/go-auth-session/storage"
	"github.com/jrsteele09/go-auth-session/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// The agent keeps one session alive headlessly: it restores the persisted
// session or logs in with the configured credentials, then lets the token
// clock drive refreshes until it is stopped or the session ends.
func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("agent failed")
	}
	log.Info().Msg("Agent stopped")
}

type agent struct {
	storage    storage.Storage
	clock      *clock.Clock
	controller *session.Controller
	registry   *prometheus.Registry
	ended      chan struct{}
}

func run() error {
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := config.LoadFile(path); err != nil {
			return err
		}
	}
	c := config.New()
	logging.Setup(c)
	displayAppname(c.GetAppName() + " agent")

	a, err := build(c)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if addr := c.GetMetricsAddr(); addr != "" {
		srv := &http.Server{Addr: addr, Handler: promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}), ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("metrics endpoint stopped")
			}
		}()
		defer srv.Close()
	}

	if a.controller.Start(ctx) != session.StatusAuthenticated {
		email, password := c.GetLoginEmail(), c.GetLoginPassword()
		if email == "" || password == "" {
			return errors.New("no persisted session and AGENT_EMAIL/AGENT_PASSWORD not set")
		}
		if err := a.controller.Login(ctx, email, password); err != nil {
			return fmt.Errorf("login: %w", err)
		}
	}

	user, _ := a.controller.User()
	log.Info().Str("user_id", user.ID).Str("email", user.Email).Msg("session active")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	select {
	case <-stop:
		log.Info().Msg("stopping, session kept for the next run")
		return nil
	case <-a.ended:
		return errors.New("session ended, login required")
	}
}

func build(c config.Config) (*agent, error) {
	st, err := storage.Open(c)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	if err != nil {
		return nil, err
	}

	store := session.NewStore(st,
		session.WithStorageKey(c.GetStorageKey()),
		session.WithDefaultRefreshExpiry(c.GetDefaultRefreshExpiry()),
	)

	clk := clock.New(
		clock.WithPollInterval(c.GetPollInterval()),
		clock.WithRefreshThreshold(c.GetRefreshThreshold()),
		clock.WithStaleGrace(c.GetStaleGrace()),
	)

	auth := transport.New(store.TokenSource(), nil, transport.WithPublicEndpoints(c.GetPublicEndpoints()))
	api := apiclient.New(
		&http.Client{Transport: auth, Timeout: c.GetRequestTimeout()},
		c.GetAPIBaseURL(),
		apiclient.WithEndpoints(apiclient.EndpointsFromConfig(c)),
	)

	a := &agent{storage: st, clock: clk, registry: reg, ended: make(chan struct{}, 1)}
	hooks := session.Hooks{
		OnStateChange: func(s session.State) {
			log.Info().Str("state", s.String()).Msg("session state changed")
		},
		OnRedirectToLogin: func() {
			select {
			case a.ended <- struct{}{}:
			default:
			}
		},
	}

	ctrl, err := session.NewController(session.Dependencies{
		Store:     store,
		Clock:     clk,
		API:       api,
		Encryptor: credentials.New(api),
		Cookies:   cookiesync.New(&http.Client{Timeout: c.GetRequestTimeout()}, c.GetSetCookieURL()),
		Metrics:   m,
	}, append(session.OptionsFromConfig(c), session.WithHooks(hooks))...)
	if err != nil {
		clk.Close()
		return nil, err
	}
	auth.SetHandler(ctrl)
	a.controller = ctrl
	return a, nil
}

func (a *agent) close() {
	a.controller.Close()
	a.clock.Close()
	if err := storage.Close(a.storage); err != nil {
		log.Warn().Err(err).Msg("closing storage")
	}
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
