// Package testutil starts the disposable infrastructure used by the
// container tests.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	mosquittoImage = "eclipse-mosquitto:2.0"
	mqttPort       = "1883/tcp"
	brokerReady    = 10 * time.Second
	retryEvery     = 100 * time.Millisecond
)

// Retained messages live in memory for the container lifetime.
const mosquittoConf = `listener 1883
allow_anonymous true
persistence false
max_queued_messages 10000
log_dest stdout
log_type error
log_type warning
`

// StartMosquitto runs an anonymous Mosquitto broker and waits until it
// accepts MQTT connections. The returned function removes the container.
func StartMosquitto(ctx context.Context) (broker string, stop func(), err error) {
	dir, err := os.MkdirTemp("", "coordinator-mosquitto")
	if err != nil {
		return "", nil, err
	}
	confPath := filepath.Join(dir, "mosquitto.conf")
	if err := os.WriteFile(confPath, []byte(mosquittoConf), 0o644); err != nil {
		_ = os.RemoveAll(dir)
		return "", nil, fmt.Errorf("write mosquitto config: %w", err)
	}

	cont, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: tc.ContainerRequest{
			Image:        mosquittoImage,
			ExposedPorts: []string{mqttPort},
			WaitingFor:   wait.ForListeningPort(mqttPort),
			Files: []tc.ContainerFile{{
				HostFilePath:      confPath,
				ContainerFilePath: "/mosquitto/config/mosquitto.conf",
				FileMode:          0o644,
			}},
		},
		Started: true,
	})
	if err != nil {
		_ = os.RemoveAll(dir)
		return "", nil, fmt.Errorf("start mosquitto: %w", err)
	}
	stop = func() {
		_ = cont.Terminate(context.Background())
		_ = os.RemoveAll(dir)
	}

	endpoint, err := cont.PortEndpoint(ctx, mqttPort, "tcp")
	if err != nil {
		stop()
		return "", nil, fmt.Errorf("mosquitto endpoint: %w", err)
	}
	readyCtx, cancel := context.WithTimeout(ctx, brokerReady)
	defer cancel()
	if err := waitBroker(readyCtx, endpoint); err != nil {
		stop()
		return "", nil, err
	}
	return endpoint, stop, nil
}

// waitBroker retries an MQTT connect until the broker answers.
func waitBroker(ctx context.Context, broker string) error {
	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID("coordinator-readiness").
		SetConnectTimeout(time.Second)
	var lastErr error
	for {
		cli := paho.NewClient(opts)
		tok := cli.Connect()
		if tok.WaitTimeout(2*time.Second) && tok.Error() == nil {
			cli.Disconnect(50)
			return nil
		}
		lastErr = tok.Error()
		if err := sleep(ctx, retryEvery); err != nil {
			return fmt.Errorf("broker %s not ready: %w", broker, errors.Join(err, lastErr))
		}
	}
}

// WaitForEndpoint polls url until it answers 200 with a body containing
// want, or ctx ends.
func WaitForEndpoint(ctx context.Context, url, want string) error {
	var last string
	for {
		body, err := get(ctx, url)
		if err == nil && strings.Contains(body, want) {
			return nil
		}
		if err != nil {
			last = err.Error()
		} else {
			last = fmt.Sprintf("body without %q", want)
		}
		if err := sleep(ctx, retryEvery); err != nil {
			return fmt.Errorf("%s: %s: %w", url, last, err)
		}
	}
}

func get(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}
	return string(b), nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
