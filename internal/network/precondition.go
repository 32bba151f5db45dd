package network

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"time"

	"possync/internal/config"
	"possync/internal/domain"
	"possync/internal/models"

	"github.com/rs/zerolog"
)

const defaultDialTimeout = 3 * time.Second

// Always is the precondition for schedules that do not need the network.
type Always struct{}

func (Always) Met(context.Context) bool { return true }

// Probe reports connectivity by opening a TCP connection to a known address.
type Probe struct {
	address string
	timeout time.Duration
	dialer  net.Dialer
	logger  zerolog.Logger
}

func NewProbe(address string, timeout time.Duration, logger *zerolog.Logger) *Probe {
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	p := &Probe{address: address, timeout: timeout, logger: zerolog.Nop()}
	if logger != nil {
		p.logger = logger.With().Str("component", "network_probe").Str("address", address).Logger()
	}
	return p
}

func (p *Probe) Address() string { return p.address }

// Met dials the probe address and closes the connection right away.
func (p *Probe) Met(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	conn, err := p.dialer.DialContext(ctx, "tcp", p.address)
	if err != nil {
		p.logger.Debug().Err(err).Msg("network unavailable")
		return false
	}
	_ = conn.Close()
	return true
}

// HostPort derives a dialable address from a base URL.
func HostPort(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("url %q has no host", rawURL)
	}
	port := u.Port()
	if port == "" {
		switch u.Scheme {
		case "http":
			port = "80"
		case "https":
			port = "443"
		default:
			return "", fmt.Errorf("url %q has no port and unknown scheme %q", rawURL, u.Scheme)
		}
	}
	return net.JoinHostPort(u.Hostname(), port), nil
}

// FromConfig builds the precondition named by sync.required_network.
func FromConfig(cfg *config.Config, logger *zerolog.Logger) (domain.Precondition, error) {
	if cfg.Sync.RequiredNetwork == models.NetworkNotRequired {
		return Always{}, nil
	}

	address := cfg.Sync.ProbeAddress
	if address == "" {
		var err error
		address, err = HostPort(cfg.Gateway.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("probe address: %w", err)
		}
	}
	return NewProbe(address, defaultDialTimeout, logger), nil
}
