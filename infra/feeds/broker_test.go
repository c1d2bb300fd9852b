//go:build !no_containers

package feeds

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/reliefgrid/coordinator/config"
	"github.com/reliefgrid/coordinator/core/engine"
	"github.com/reliefgrid/coordinator/core/store"
	"github.com/reliefgrid/coordinator/infra/mqtt"
	"github.com/reliefgrid/coordinator/internal/testutil"
)

func TestFeedsAgainstMosquitto(t *testing.T) {
	if testing.Short() {
		t.Skip("container test")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	broker, cleanup, err := testutil.StartMosquitto(ctx)
	if err != nil {
		t.Skipf("mosquitto unavailable: %v", err)
	}
	defer cleanup()
	resetMetrics(t)

	eng, err := engine.New(engine.Config{}, engine.Deps{Store: store.NewMemoryStore()})
	require.NoError(t, err)

	feedCli, err := mqtt.NewPahoClient(mqtt.Config{Broker: broker, ClientID: "coordinator"})
	require.NoError(t, err)
	defer feedCli.Disconnect()
	dirCli, err := mqtt.NewPahoClient(mqtt.Config{Broker: broker, ClientID: "directory"})
	require.NoError(t, err)
	defer dirCli.Disconnect()

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		_ = NewDirectory(config.DirectoryConfig{QoS: 1}, feedCli, eng, nil).Start(runCtx)
	}()
	go func() {
		_ = NewIntake(config.IntakeConfig{QoS: 1}, feedCli, eng, nil).Start(runCtx)
	}()

	require.Eventually(t, func() bool {
		_ = dirCli.Publish(ctx, "coordination/responders/r1", 1, false, []byte(`{"skills":["rescue"],"location":"Rue A","available":true}`))
		rs, err := eng.Responders(ctx)
		return err == nil && len(rs) == 1
	}, 20*time.Second, 200*time.Millisecond)

	require.NoError(t, dirCli.Publish(ctx, "coordination/intake", 1, false,
		[]byte(`{"message_id":"c1","title":"Trapped family","location":"Rue A","people_count":4,"needs":["rescue"]}`)))
	require.Eventually(t, func() bool {
		q, err := eng.Queue(ctx)
		return err == nil && len(q) == 1
	}, 20*time.Second, 100*time.Millisecond)
}
