// ABOUTME: mDNS discovery for the game-table control bus
// ABOUTME: Hubs advertise the bus; modules browse for a hub to join
package discovery

import (
	"context"
	"fmt"
	"log"
	"net"

	"github.com/hashicorp/mdns"
)

// Service types on the local network
const (
	hubService    = "_gametable-bus._tcp"
	moduleService = "_gametable-module._tcp"
)

// Config holds discovery configuration
type Config struct {
	Name    string
	Port    int
	HubMode bool // advertise as the bus hub rather than a module

	// Module-side TXT metadata
	ModuleType      string
	FirmwareVersion string
	CapabilityBits  uint32
	IDBlock         uint16
}

// Manager handles mDNS advertisement and hub browsing
type Manager struct {
	config Config
	ctx    context.Context
	cancel context.CancelFunc
	hubs   chan *HubInfo
}

// HubInfo describes a discovered bus hub
type HubInfo struct {
	Name string
	Host string
	Port int
}

// NewManager creates a discovery manager
func NewManager(config Config) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		config: config,
		ctx:    ctx,
		cancel: cancel,
		hubs:   make(chan *HubInfo, 10),
	}
}

// Advertise announces this participant via mDNS
func (m *Manager) Advertise() error {
	ips, err := getLocalIPs()
	if err != nil {
		return fmt.Errorf("failed to get local IPs: %w", err)
	}

	serviceType := moduleService
	txt := []string{
		fmt.Sprintf("moduleType=%s", m.config.ModuleType),
		fmt.Sprintf("firmwareVersion=%s", m.config.FirmwareVersion),
		fmt.Sprintf("capabilityBits=%d", m.config.CapabilityBits),
		fmt.Sprintf("idBlock=%d", m.config.IDBlock),
	}
	if m.config.HubMode {
		serviceType = hubService
		txt = []string{"path=/bus"}
	}

	service, err := mdns.NewMDNSService(
		m.config.Name,
		serviceType,
		"",
		"",
		m.config.Port,
		ips,
		txt,
	)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("failed to create mdns server: %w", err)
	}

	log.Printf("Discovery: advertising %s on port %d (type: %s)", m.config.Name, m.config.Port, serviceType)

	go func() {
		<-m.ctx.Done()
		server.Shutdown()
	}()

	return nil
}

// Browse searches for bus hubs on the local network
func (m *Manager) Browse() error {
	go m.browseLoop()
	return nil
}

func (m *Manager) browseLoop() {
	for {
		select {
		case <-m.ctx.Done():
			return
		default:
		}

		entries := make(chan *mdns.ServiceEntry, 10)

		go func() {
			for entry := range entries {
				if entry.AddrV4 == nil {
					continue
				}
				hub := &HubInfo{
					Name: entry.Name,
					Host: entry.AddrV4.String(),
					Port: entry.Port,
				}

				log.Printf("Discovery: found hub %s at %s:%d", hub.Name, hub.Host, hub.Port)

				select {
				case m.hubs <- hub:
				case <-m.ctx.Done():
					return
				}
			}
		}()

		params := &mdns.QueryParam{
			Service: hubService,
			Domain:  "local",
			Timeout: 3,
			Entries: entries,
		}

		mdns.Query(params)
		close(entries)
	}
}

// Hubs returns the channel of discovered hubs
func (m *Manager) Hubs() <-chan *HubInfo {
	return m.hubs
}

// Stop stops advertisement and browsing
func (m *Manager) Stop() {
	m.cancel()
}

func getLocalIPs() ([]net.IP, error) {
	var ips []net.IP

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
				if ipnet.IP.To4() != nil {
					ips = append(ips, ipnet.IP)
				}
			}
		}
	}

	return ips, nil
}
