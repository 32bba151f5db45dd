package network

import (
	"context"
	"net"
	"testing"
	"time"

	"possync/internal/config"
	"possync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbe_Reachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	p := NewProbe(ln.Addr().String(), time.Second, nil)
	assert.True(t, p.Met(context.Background()))
}

func TestProbe_Unreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	p := NewProbe(addr, 200*time.Millisecond, nil)
	assert.False(t, p.Met(context.Background()))
}

func TestProbe_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewProbe("127.0.0.1:1", time.Second, nil)
	assert.False(t, p.Met(ctx))
}

func TestHostPort(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"http://pos.local:8000/api/", "pos.local:8000", false},
		{"https://backend.example.com/api", "backend.example.com:443", false},
		{"http://10.0.0.5/api", "10.0.0.5:80", false},
		{"http://[::1]:9000", "[::1]:9000", false},
		{"/relative/path", "", true},
		{"ftp://host/path", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := HostPort(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFromConfig(t *testing.T) {
	cfg := &config.Config{
		Gateway: config.GatewayConfig{BaseURL: "http://pos.local:8000/api/"},
		Sync:    config.SyncConfig{RequiredNetwork: models.NetworkConnected},
	}

	pre, err := FromConfig(cfg, nil)
	require.NoError(t, err)
	probe, ok := pre.(*Probe)
	require.True(t, ok)
	assert.Equal(t, "pos.local:8000", probe.Address())

	cfg.Sync.ProbeAddress = "1.1.1.1:53"
	pre, err = FromConfig(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, "1.1.1.1:53", pre.(*Probe).Address())

	cfg.Sync.RequiredNetwork = models.NetworkNotRequired
	pre, err = FromConfig(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, Always{}, pre)
	assert.True(t, pre.Met(context.Background()))

	cfg.Sync.RequiredNetwork = models.NetworkConnected
	cfg.Sync.ProbeAddress = ""
	cfg.Gateway.BaseURL = "not a url"
	_, err = FromConfig(cfg, nil)
	assert.Error(t, err)
}
