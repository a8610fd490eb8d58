// Package main provides the entry point for the chat broker.
// The broker accepts room lifecycle requests over TCP per PROTOCOL.md and
// relays in-room chat messages over UDP.
//
// Usage:
//
//	chat-broker [flags]
//
// Flags:
//
//	-tcp string        control channel listen address (default "127.0.0.1:8000")
//	-udp string        chat datagram listen address (default "127.0.0.1:8001")
//	-reap duration     liveness sweep interval (default 20s)
//	-idle duration     member inactivity timeout (default 5m)
//	-debug             enable debug logging
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/ocmchat/chat-broker/lib/auth"
	"github.com/ocmchat/chat-broker/lib/bridge"
	"github.com/ocmchat/chat-broker/lib/registry"
	"github.com/ocmchat/chat-broker/lib/relay"
)

var (
	// Version is set at build time via ldflags
	Version = "dev"

	// Build info
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	cfg, debug := parseFlags()

	// Configure logging
	log := logrus.New()
	log.SetOutput(os.Stdout)
	if debug {
		log.SetLevel(logrus.DebugLevel)
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	} else {
		log.SetLevel(logrus.InfoLevel)
	}

	log.WithFields(logrus.Fields{
		"version":   Version,
		"buildTime": BuildTime,
		"commit":    GitCommit,
	}).Info("Starting chat broker")

	// Room registry with its credential collaborators
	reg := registry.New(auth.NewBcryptHasher(), auth.UUIDSource{})

	// Outbound datagram sender, shared by the bridge, relay, and reaper
	sender, err := relay.NewSender()
	if err != nil {
		log.WithError(err).Error("Failed to create datagram sender")
		os.Exit(1)
	}
	defer sender.Close()

	// Datagram relay
	rel := relay.New(cfg.DatagramAddr, reg, sender, log)
	if err := rel.Start(); err != nil {
		log.WithError(err).Error("Failed to start datagram relay")
		os.Exit(1)
	}
	log.WithField("addr", rel.Addr().String()).Info("Datagram relay listening")

	// Liveness reaper
	reaper := relay.NewReaper(reg, sender, log, cfg.ReapInterval, cfg.InactivityTimeout)
	reaper.Start()

	// Control channel server
	server, err := bridge.NewServer(cfg, reg, sender, log)
	if err != nil {
		log.WithError(err).Error("Failed to create control server")
		os.Exit(1)
	}

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.ListenAddr).Info("Control channel listening")
		if err := server.ListenAndServe(); err != nil {
			errChan <- err
		}
	}()

	select {
	case sig := <-sigChan:
		log.WithField("signal", sig.String()).Info("Received shutdown signal")
	case err := <-errChan:
		log.WithError(err).Error("Server error")
	}

	// Graceful shutdown: stop accepting, drain the relay, halt the reaper.
	// Members are not notified.
	log.Info("Shutting down...")

	if err := server.Close(); err != nil {
		log.WithError(err).Warn("Error stopping control server")
	}
	if err := rel.Close(); err != nil {
		log.WithError(err).Warn("Error stopping relay")
	}
	reaper.Stop()

	log.Info("Chat broker stopped")
}

func parseFlags() (*bridge.Config, bool) {
	cfg := bridge.DefaultConfig()

	flag.StringVar(&cfg.ListenAddr, "tcp", bridge.DefaultListenAddr, "control channel listen address")
	flag.StringVar(&cfg.DatagramAddr, "udp", bridge.DefaultDatagramAddr, "chat datagram listen address")
	flag.DurationVar(&cfg.ReapInterval, "reap", bridge.DefaultReapInterval, "liveness sweep interval")
	flag.DurationVar(&cfg.InactivityTimeout, "idle", bridge.DefaultInactivityTimeout, "member inactivity timeout")
	debug := flag.Bool("debug", false, "Enable debug logging")

	showVersion := flag.Bool("version", false, "Show version information")
	showHelp := flag.Bool("help", false, "Show help message")

	flag.Parse()

	if *showVersion {
		fmt.Printf("chat-broker %s\n", Version)
		fmt.Printf("Build time: %s\n", BuildTime)
		fmt.Printf("Git commit: %s\n", GitCommit)
		os.Exit(0)
	}

	if *showHelp {
		fmt.Println("Chat Broker - multi-room chat over TCP control + UDP relay")
		fmt.Println()
		fmt.Println("Usage: chat-broker [flags]")
		fmt.Println()
		fmt.Println("Flags:")
		flag.PrintDefaults()
		fmt.Println()
		fmt.Println("Environment variables:")
		fmt.Println("  CHAT_TCP_ADDR   control channel address (overrides -tcp)")
		fmt.Println("  CHAT_UDP_ADDR   datagram address (overrides -udp)")
		fmt.Println("  CHAT_DEBUG      enable debug logging (overrides -debug)")
		os.Exit(0)
	}

	// Override with environment variables if set
	if envTCP := os.Getenv("CHAT_TCP_ADDR"); envTCP != "" {
		cfg.ListenAddr = envTCP
	}
	if envUDP := os.Getenv("CHAT_UDP_ADDR"); envUDP != "" {
		cfg.DatagramAddr = envUDP
	}
	if os.Getenv("CHAT_DEBUG") != "" {
		*debug = true
	}

	return cfg, *debug
}
