// ABOUTME: Entry point for the Resonate spatial audio mixer
// ABOUTME: Parses CLI flags, loads zone settings and starts the server
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/Resonate-Protocol/resonate-mixer/internal/mixer"
	"github.com/Resonate-Protocol/resonate-mixer/internal/server"
	"github.com/Resonate-Protocol/resonate-mixer/internal/version"
)

var (
	port         = flag.Int("port", 8928, "WebSocket server port")
	name         = flag.String("name", "", "Server friendly name (default: hostname-resonate-mixer)")
	logFile      = flag.String("log-file", "resonate-mixer.log", "Log file path")
	debug        = flag.Bool("debug", false, "Enable debug logging")
	noMDNS       = flag.Bool("no-mdns", false, "Disable mDNS advertisement")
	useTUI       = flag.Bool("tui", false, "Show the status TUI (logs go only to the log file)")
	settingsFile = flag.String("settings", "", "YAML file with zones, reverb and mixer tuning")
	workers      = flag.Int("workers", 0, "Mixing worker count (overrides settings)")
)

func main() {
	flag.Parse()

	f, err := os.OpenFile(*logFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		logrus.Fatalf("error opening log file: %v", err)
	}
	defer f.Close()

	if *useTUI {
		logrus.SetOutput(f)
	} else {
		logrus.SetOutput(io.MultiWriter(os.Stdout, f))
	}
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if *debug {
		logrus.SetLevel(logrus.DebugLevel)
	}

	serverName := *name
	if serverName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		serverName = fmt.Sprintf("%s-resonate-mixer", hostname)
	}

	settings := mixer.DefaultSettings()
	if *settingsFile != "" {
		settings, err = mixer.LoadSettings(*settingsFile)
		if err != nil {
			logrus.Fatalf("Failed to load settings: %v", err)
		}
		logrus.WithFields(logrus.Fields{
			"file":  *settingsFile,
			"zones": len(settings.Zones),
		}).Info("Loaded mixer settings")
	}
	if *workers > 0 {
		settings.PoolSize = *workers
	}

	logrus.WithFields(logrus.Fields{
		"name":    serverName,
		"port":    *port,
		"version": version.Version,
		"log":     *logFile,
	}).Infof("Starting %s", version.Product)
	logrus.Info("Press Ctrl-C to stop")

	srv, err := server.New(server.Config{
		Port:       *port,
		Name:       serverName,
		EnableMDNS: !*noMDNS,
		Debug:      *debug,
		UseTUI:     *useTUI,
		Settings:   settings,
	})
	if err != nil {
		logrus.Fatalf("Failed to create server: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logrus.WithField("signal", sig.String()).Info("Shutting down gracefully...")
		srv.Stop()
	}()

	if err := srv.Start(); err != nil {
		logrus.Fatalf("Server error: %v", err)
	}

	logrus.Info("Server stopped")
}
