// ABOUTME: mDNS service discovery for the audio mixer
// ABOUTME: Advertises the mixer endpoint and lets injectors browse for it
package discovery

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
	"github.com/sirupsen/logrus"
)

// ServiceType is the DNS-SD service type of the mixer
const ServiceType = "_resonate-mixer._tcp"

// Config holds discovery configuration
type Config struct {
	ServiceName string
	Port        int
	Path        string // WebSocket path advertised in the TXT record
}

// Manager handles mDNS operations
type Manager struct {
	config  Config
	ctx     context.Context
	cancel  context.CancelFunc
	servers chan *ServerInfo
	server  *mdns.Server
}

// ServerInfo describes a discovered mixer
type ServerInfo struct {
	Name string
	Host string
	Port int
	Path string
}

// Addr returns host:port for dialing
func (s *ServerInfo) Addr() string {
	return net.JoinHostPort(s.Host, fmt.Sprint(s.Port))
}

// NewManager creates a discovery manager
func NewManager(config Config) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		config:  config,
		ctx:     ctx,
		cancel:  cancel,
		servers: make(chan *ServerInfo, 10),
	}
}

// Advertise publishes the mixer until Stop is called
func (m *Manager) Advertise() error {
	ips, err := getLocalIPs()
	if err != nil {
		return fmt.Errorf("failed to get local IPs: %w", err)
	}

	var txt []string
	if m.config.Path != "" {
		txt = append(txt, "path="+m.config.Path)
	}

	service, err := mdns.NewMDNSService(
		m.config.ServiceName,
		ServiceType,
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
	m.server = server

	logrus.WithFields(logrus.Fields{
		"name": m.config.ServiceName,
		"port": m.config.Port,
		"type": ServiceType,
	}).Info("Advertising mDNS service")

	go func() {
		<-m.ctx.Done()
		server.Shutdown()
	}()

	return nil
}

// Browse searches for mixers until Stop is called
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
				server := &ServerInfo{
					Name: entry.Name,
					Host: entry.AddrV4.String(),
					Port: entry.Port,
					Path: pathFromTXT(entry.InfoFields),
				}

				logrus.WithFields(logrus.Fields{
					"name": server.Name,
					"addr": server.Addr(),
				}).Info("Discovered mixer")

				select {
				case m.servers <- server:
				case <-m.ctx.Done():
					return
				}
			}
		}()

		params := mdns.DefaultParams(ServiceType)
		params.Entries = entries
		params.Timeout = 3 * time.Second
		params.DisableIPv6 = true

		if err := mdns.Query(params); err != nil {
			logrus.WithError(err).Debug("mDNS query failed")
		}
		close(entries)
	}
}

// Servers returns the channel of discovered mixers
func (m *Manager) Servers() <-chan *ServerInfo {
	return m.servers
}

// Stop ends advertisement and browsing
func (m *Manager) Stop() {
	m.cancel()
}

// pathFromTXT extracts the path= entry of a TXT record
func pathFromTXT(fields []string) string {
	for _, f := range fields {
		if v, ok := strings.CutPrefix(f, "path="); ok {
			return v
		}
	}
	return ""
}

// getLocalIPs returns the non-loopback IPv4 addresses of up interfaces
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
