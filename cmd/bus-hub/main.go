// ABOUTME: Entry point for the standalone control-bus hub
// ABOUTME: Serves the bus endpoint and advertises it over mDNS
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gametable/soundmodule-go/internal/bus"
	"github.com/gametable/soundmodule-go/internal/discovery"
	"github.com/gametable/soundmodule-go/internal/version"
)

var (
	port    = flag.Int("port", 8930, "Bus listen port")
	name    = flag.String("name", "", "Hub friendly name (default: hostname-bus-hub)")
	noMDNS  = flag.Bool("no-mdns", false, "Disable mDNS advertisement")
	logFile = flag.String("log-file", "", "Also log to this file")
)

func main() {
	flag.Parse()

	if *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			log.Fatalf("error opening log file: %v", err)
		}
		defer func() { _ = f.Close() }()
		log.SetOutput(io.MultiWriter(os.Stdout, f))
	}

	hubName := *name
	if hubName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		hubName = fmt.Sprintf("%s-bus-hub", hostname)
	}

	log.Printf("Starting bus hub %s (%s %s)", hubName, version.Product, version.Version)

	hub := bus.NewHub(bus.HubConfig{Port: *port, Name: hubName})
	if err := hub.Start(); err != nil {
		log.Fatalf("Failed to start hub: %v", err)
	}

	if !*noMDNS {
		disc := discovery.NewManager(discovery.Config{
			Name:    hubName,
			Port:    *port,
			HubMode: true,
		})
		if err := disc.Advertise(); err != nil {
			log.Printf("mDNS advertisement failed: %v", err)
		}
		defer disc.Stop()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Printf("Shutdown signal received")
	hub.Stop()
	log.Printf("Hub stopped")
}
