package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/anurag-chakravarti/peerjs-video-call/internal/adapters/rtc"
	"github.com/anurag-chakravarti/peerjs-video-call/internal/app"
	"github.com/anurag-chakravarti/peerjs-video-call/internal/app/call"
	"github.com/anurag-chakravarti/peerjs-video-call/internal/client"
	"github.com/anurag-chakravarti/peerjs-video-call/internal/config"
	"github.com/anurag-chakravarti/peerjs-video-call/internal/core"
	"github.com/anurag-chakravarti/peerjs-video-call/internal/domain"
	"github.com/anurag-chakravarti/peerjs-video-call/internal/media"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.LoadPeer(os.Args[1:])
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && cfg.LogLevel != "" {
		zerolog.SetGlobalLevel(lvl)
	}

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("peer stopped")
	}
	log.Info().Msg("peer exited")
}

func run(ctx context.Context, cfg *config.Peer) error {
	cl, err := client.Dial(ctx, cfg.Server)
	if err != nil {
		return err
	}
	defer cl.Close()
	fmt.Printf("your id: %s\n", cl.ID())

	echo := media.NewEcho()
	engine, err := rtc.NewEngine(rtc.EngineConfig{
		STUNServers: cfg.STUNServers,
		OnTrack: func(remote domain.SessionID, mh core.MediaHandle, track *webrtc.TrackRemote) {
			if !cfg.Echo {
				return
			}
			h, ok := mh.(*media.Handle)
			if !ok {
				return
			}
			dst, ok := h.Track(domain.TrackKind(track.Kind().String()))
			if !ok {
				return
			}
			echo.Start(ctx, remote, track, dst)
		},
	})
	if err != nil {
		return err
	}

	ctl := &control{out: os.Stdout, autoAnswer: cfg.AutoAnswer, echo: echo}
	ep, err := call.NewEndpoint(ctx, call.Config{
		Local:          cl.ID(),
		Sender:         cl,
		Transports:     engine,
		Media:          media.NewSource("peer-"+string(cl.ID()), cfg.Audio, cfg.Video),
		Arbitrator:     app.SimplePolicy{AllowOverride: cfg.AllowOverride},
		Notifier:       ctl,
		ConnectTimeout: cfg.ConnectTimeout,
	})
	if err != nil {
		return err
	}
	defer ep.Close()
	ctl.ep = ep
	ctl.client = cl

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return cl.Run(gctx, ep.Deliver)
	})
	g.Go(func() error {
		return ctl.readCommands(gctx, os.Stdin)
	})
	if cfg.Call != "" {
		g.Go(func() error {
			if err := ctl.exec(gctx, "call "+cfg.Call); err != nil {
				ctl.printf("call failed: %v", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil && !errors.Is(err, errQuit) {
		return err
	}
	return nil
}
