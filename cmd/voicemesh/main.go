package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/voicemesh/internal/adapters/http"
	"github.com/dkeye/voicemesh/internal/adapters/media"
	"github.com/dkeye/voicemesh/internal/adapters/rtc"
	sig "github.com/dkeye/voicemesh/internal/adapters/signal"
	"github.com/dkeye/voicemesh/internal/app/voice"
	"github.com/dkeye/voicemesh/internal/config"
	"github.com/dkeye/voicemesh/internal/domain"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.LoadClient()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	zerolog.SetGlobalLevel(cfg.Level())

	self, err := domain.NewUser(domain.UserID(cfg.UserID), cfg.Name)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid identity")
	}

	relayURL, err := withIdentity(cfg.RelayURL, *self)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid relay url")
	}
	client, err := sig.Dial(ctx, relayURL, sig.Config{
		SendBuffer: cfg.SendBuffer,
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("relay unreachable")
	}

	peers, err := rtc.NewConnector(rtc.Config{
		ICEServers:          rtc.ICEServers(cfg.STUNServers, cfg.TURNServers, cfg.TURNUsername, cfg.TURNCredential),
		DisconnectedTimeout: cfg.ICEDisconnectedTimeout,
		FailedTimeout:       cfg.ICEFailedTimeout,
		KeepAliveInterval:   cfg.ICEKeepAlive,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("webrtc setup")
	}

	mgr, err := voice.NewManager(voice.Options{
		Self:               *self,
		Signal:             client,
		Capture:            media.NewCapture(cfg.CaptureSource),
		Peers:              peers,
		Output:             media.NewOutput(cfg.RecordDir),
		NegotiationTimeout: cfg.NegotiationTimeout,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("voice manager")
	}
	defer mgr.Close()

	unsubscribe := mgr.Events().SubscribeAll(func(e voice.Event) {
		log.Info().Str("module", "ui").Str("event", e.Name()).Interface("data", e).Msg("event")
	})
	defer unsubscribe()

	// The client outlives ctx so the leave notice can still be sent on shutdown.
	clientCtx, stopClient := context.WithCancel(context.Background())
	defer stopClient()
	go func() {
		defer cancel()
		if err := client.Run(clientCtx, mgr); err != nil {
			log.Error().Err(err).Msg("relay connection lost")
		}
	}()

	r := router.SetupRouter(router.RouterConfig{Mode: cfg.Mode, StaticPath: cfg.StaticDir}, mgr)
	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Str("user", cfg.UserID).Msg("voice client started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	mgr.Close()
	client.Shutdown(shutdownCtx)
	stopClient()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Client exited gracefully")
}

// withIdentity adds the user and name query parameters the relay expects.
func withIdentity(raw string, u domain.User) (string, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	q := parsed.Query()
	q.Set("user", string(u.ID))
	q.Set("name", u.Username)
	parsed.RawQuery = q.Encode()
	return parsed.String(), nil
}
