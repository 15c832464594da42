// ABOUTME: Entry point for the game-table sound module daemon
// ABOUTME: Parses CLI flags, wires the mixer, bridge, bus link and console
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/gametable/soundmodule-go/internal/bridge"
	"github.com/gametable/soundmodule-go/internal/bus"
	"github.com/gametable/soundmodule-go/internal/discovery"
	"github.com/gametable/soundmodule-go/internal/mixer"
	"github.com/gametable/soundmodule-go/internal/output"
	"github.com/gametable/soundmodule-go/internal/protocol"
	"github.com/gametable/soundmodule-go/internal/registry"
	"github.com/gametable/soundmodule-go/internal/ui"
	"github.com/gametable/soundmodule-go/internal/version"
)

var (
	hubAddr      = flag.String("hub", "", "Manual hub address (skip mDNS)")
	port         = flag.Int("port", 8931, "Port for mDNS advertisement")
	name         = flag.String("name", "", "Module friendly name (default: hostname-sound-module)")
	soundsDir    = flag.String("sounds", "sounds", "WAV asset directory")
	slots        = flag.Int("slots", mixer.DefaultSlots, "Concurrent source slots")
	masterVolume = flag.Int("master-volume", 100, "Master volume 0-100")
	outputMode   = flag.String("output", "speaker", "Output: speaker, null, or a raw PCM file path")
	idBlock      = flag.Int("id-block", 0x0600, "Assigned message-id block announced to the bus")
	logFile      = flag.String("log-file", "soundmodule.log", "Log file path")
	noTUI        = flag.Bool("no-tui", false, "Disable console, use streaming logs instead")
)

func main() {
	flag.Parse()

	useTUI := !*noTUI

	f, err := os.OpenFile(*logFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer func() { _ = f.Close() }()

	if useTUI {
		// Console mode: log only to file
		log.SetOutput(f)
	} else {
		log.SetOutput(io.MultiWriter(os.Stdout, f))
	}

	moduleName := *name
	if moduleName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		moduleName = fmt.Sprintf("%s-sound-module", hostname)
	}

	log.Printf("Starting %s %s: %s", version.Product, version.Version, moduleName)

	// Output sink
	sink, cleanup, err := buildSink(*outputMode)
	if err != nil {
		log.Fatalf("Failed to initialize output: %v", err)
	}
	defer cleanup()

	// Registry and mixer
	reg := registry.Load(*soundsDir)
	engine := mixer.New(mixer.Config{
		Slots:        *slots,
		MasterVolume: *masterVolume,
		Sink:         sink,
	})
	br := bridge.New(engine, reg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go engine.Run(ctx)
	go br.Run(ctx)

	// Find the hub via mDNS unless given one
	hubAddress := *hubAddr
	disc := discovery.NewManager(discovery.Config{
		Name:            moduleName,
		Port:            *port,
		ModuleType:      "audio",
		FirmwareVersion: version.Version,
		CapabilityBits:  protocol.AudioCapabilities,
		IDBlock:         uint16(*idBlock),
	})
	if err := disc.Advertise(); err != nil {
		// Discovery failure is survivable: a manual -hub still works
		log.Printf("mDNS advertisement failed: %v", err)
	}
	defer disc.Stop()

	if hubAddress == "" {
		log.Printf("Searching for bus hub...")
		disc.Browse()

		select {
		case hub := <-disc.Hubs():
			hubAddress = fmt.Sprintf("%s:%d", hub.Host, hub.Port)
			log.Printf("Discovered hub at %s", hubAddress)
		case <-time.After(10 * time.Second):
			log.Printf("No hub found after 10 seconds, running standalone")
		}
	}

	// Bus link (optional: the module works standalone from the console)
	var link *bus.Link
	if hubAddress != "" {
		link = bus.NewLink(bus.LinkConfig{
			HubAddr:         hubAddress,
			Name:            moduleName,
			FirmwareVersion: version.Version,
			CapabilityBits:  protocol.AudioCapabilities,
			IDBlock:         uint16(*idBlock),
		}, br)
		br.AttachEmitter(link)

		if err := link.Connect(); err != nil {
			log.Fatalf("Bus connection failed: %v", err)
		}
		defer link.Close()
	}

	// Console
	var tuiProg *tea.Program
	if useTUI {
		tuiProg, err = ui.Run(moduleName, &consoleCommander{engine: engine, bridge: br, reg: reg})
		if err != nil {
			log.Fatalf("Failed to start console: %v", err)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if tuiProg != nil {
		done := make(chan struct{})
		go func() {
			defer close(done)
			if _, err := tuiProg.Run(); err != nil {
				log.Printf("Console error: %v", err)
			}
		}()
		select {
		case <-done:
			log.Printf("Console exited")
		case <-sigChan:
			log.Printf("Shutdown signal received")
			tuiProg.Quit()
			<-done
		}
	} else {
		<-sigChan
		log.Printf("Shutdown signal received")
	}

	engine.Shutdown()
	log.Printf("Sound module stopped")
}

// buildSink creates the configured output sink
func buildSink(mode string) (mixer.Sink, func(), error) {
	switch mode {
	case "speaker":
		sink, err := output.NewOtoSink()
		if err != nil {
			return nil, nil, err
		}
		return sink, sink.Close, nil
	case "null":
		return output.NewNullSink(), func() {}, nil
	default:
		// Anything else is a raw PCM file path
		f, err := os.Create(mode)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create pcm file: %w", err)
		}
		return output.NewWriterSink(f), func() { f.Close() }, nil
	}
}

// consoleCommander adapts the bridge and engine to the console surface
type consoleCommander struct {
	engine *mixer.Engine
	bridge *bridge.Bridge
	reg    *registry.Registry
}

func (c *consoleCommander) Play(index uint16, volume uint8, loop bool) protocol.PlayAck {
	var flags uint8
	if loop {
		flags |= protocol.FlagLoop
	}
	return c.bridge.HandlePlay(protocol.PlaySound{
		SoundIndex: index,
		Flags:      flags,
		Volume:     volume,
	})
}

func (c *consoleCommander) Stop(queueID uint8) protocol.StopAck {
	return c.bridge.HandleStop(protocol.StopSound{QueueID: queueID})
}

func (c *consoleCommander) StopAll() int {
	return c.bridge.HandleStopAll()
}

func (c *consoleCommander) Pause(queueID uint8) bool {
	return c.bridge.PauseByQueueID(queueID)
}

func (c *consoleCommander) Resume(queueID uint8) bool {
	return c.bridge.ResumeByQueueID(queueID)
}

func (c *consoleCommander) SetVolume(queueID uint8, volume int) bool {
	return c.bridge.SetVolumeByQueueID(queueID, volume)
}

func (c *consoleCommander) SetMasterVolume(volume int) {
	c.engine.SetMasterVolume(volume)
}

func (c *consoleCommander) ToggleMute() bool {
	muted := !c.engine.Muted()
	c.engine.SetMuted(muted)
	return muted
}

func (c *consoleCommander) Status() protocol.Status {
	return c.bridge.Status()
}

func (c *consoleCommander) Slots() []mixer.SlotInfo {
	return c.engine.Snapshot()
}

func (c *consoleCommander) Sounds() []*registry.Entry {
	return c.reg.List()
}
