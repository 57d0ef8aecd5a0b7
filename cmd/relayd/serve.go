package main

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"chatrelay/internal/adminapi"
	"chatrelay/internal/callctl"
	"chatrelay/internal/config"
	"chatrelay/internal/discovery"
	"chatrelay/internal/events"
	"chatrelay/internal/metrics"
	"chatrelay/internal/ratelimit"
	"chatrelay/internal/registry"
	"chatrelay/internal/session"
	"chatrelay/internal/tlsutil"
	"chatrelay/internal/voicerelay"

	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "start the relay's control channel, voice relay, and admin surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			return runServe(cfg)
		},
	}
	config.BindFlags(cmd.Flags())
	return cmd
}

func runServe(cfg config.Config) error {
	log := setupLogger(cfg.LogLevel)
	log.Info("starting relayd", "version", version, "control_addr", cfg.ControlAddr(), "voice_addr", cfg.VoiceAddr())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		s := <-sigCh
		log.Info("shutdown signal received", "signal", s.String())
		cancel()
	}()

	reg := registry.New()
	hub := events.NewHub()
	calls := callctl.NewWithHub(reg, hub)
	limiter := ratelimit.NewWithRate(cfg.RatePerSecond, cfg.RateBurst)
	handler := session.NewHandler(reg, calls, limiter, hub)

	listener, err := net.Listen("tcp", cfg.ControlAddr())
	if err != nil {
		return err
	}
	defer listener.Close()
	log.Info("control channel listening", "addr", listener.Addr())

	voice, err := voicerelay.Listen(cfg.VoiceAddr(), reg, calls)
	if err != nil {
		return err
	}
	defer voice.Close()
	log.Info("voice relay listening", "addr", cfg.VoiceAddr())

	go voice.Serve(ctx)
	go acceptLoop(ctx, listener, handler, log)
	go metrics.Run(ctx, cfg.MetricsLogInterval, func() metrics.Counters {
		return metrics.Counters{
			Clients: reg.Count(),
			Rooms:   len(reg.SnapshotRooms()),
			Calls:   len(calls.Snapshot()),
		}
	})

	if cfg.DiscoverEnable {
		if _, err := discovery.Run(ctx, cfg.DiscoverName, cfg.ControlPort, cfg.VoicePort); err != nil {
			log.Warn("mdns advertisement failed to start", "err", err)
		} else {
			log.Info("mdns advertisement started", "service", discovery.ServiceType)
		}
	}

	admin := adminapi.New(reg, calls, hub)
	var tlsCfg *tls.Config
	if cfg.AdminTLS {
		var fingerprint string
		var err error
		tlsCfg, fingerprint, err = tlsutil.GenerateConfig()
		if err != nil {
			return err
		}
		log.Info("admin tls certificate generated", "fingerprint", fingerprint)
	}

	return admin.Run(ctx, cfg.AdminAddr, tlsCfg)
}

func acceptLoop(ctx context.Context, ln net.Listener, h *session.Handler, log *slog.Logger) {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Warn("accept failed", "err", err)
			continue
		}
		go h.Serve(conn)
	}
}
