package discovery

import (
	"fmt"
	"net"
	"os"

	"github.com/hashicorp/mdns"
)

// ServiceType is what clients browse for on the local network
const ServiceType = "_drawing._tcp"

type Options struct {
	// Instance name, defaults to the hostname
	Instance string
	// FQDN of this host ("name.local."), defaults to the hostname
	HostName string
	// Addresses to announce, defaults to whatever HostName resolves to
	IPs []net.IP
}

// NewService describes the drawing server at port as an mDNS service
func NewService(port int, opts Options) (*mdns.MDNSService, error) {
	instance := opts.Instance
	if instance == "" {
		host, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("could not get hostname: %w", err)
		}
		instance = host
	}

	info := []string{"protocol=lines", "commands=RRGGBB,x1 y1 x2 y2"}

	service, err := mdns.NewMDNSService(instance, ServiceType, "", opts.HostName, port, opts.IPs, info)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS service: %w", err)
	}
	return service, nil
}

// Advertise answers mDNS queries for the drawing server until the returned
// server is shut down.
func Advertise(port int, opts Options) (*mdns.Server, error) {
	service, err := NewService(port, opts)
	if err != nil {
		return nil, err
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, fmt.Errorf("failed to start mDNS server: %w", err)
	}
	return server, nil
}
