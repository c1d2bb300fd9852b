package app

import (
	"context"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reliefgrid/coordinator/config"
	"github.com/reliefgrid/coordinator/core/audit"
	"github.com/reliefgrid/coordinator/core/factory"
	"github.com/reliefgrid/coordinator/core/metrics"
	"github.com/reliefgrid/coordinator/core/model"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		Store:   config.StoreConfig{Backend: "sqlite", Path: filepath.Join(dir, "coordinator.db")},
		Audit:   audit.Config{Backend: "memory"},
		Metrics: metrics.Config{Sinks: []factory.ModuleConfig{
			{Type: "usage", Conf: map[string]any{"path": filepath.Join(dir, "usage.db")}},
		}},
		API: config.APIConfig{Address: freeAddr(t)},
	}
	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestServiceServesAPI(t *testing.T) {
	cfg := testConfig(t)
	svc, err := New(cfg)
	require.NoError(t, err)
	defer func() { assert.NoError(t, svc.Close()) }()
	require.NotNil(t, svc.usage, "usage sink exposes its store")

	_, err = svc.Engine.SubmitRequest(context.Background(), model.NormalizedRequest{Title: "Flooded basement", PeopleCount: 1, Needs: []string{"rescue"}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + cfg.API.Address + "/api/queue")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("service did not stop")
	}
}

func TestNewFailsOnBadStore(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store = config.StoreConfig{Backend: "sqlite", Path: filepath.Join(t.TempDir(), "missing", "dir", "c.db")}
	_, err := New(cfg)
	assert.Error(t, err)
}
