//go:build !no_containers

package e2e

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/reliefgrid/coordinator/app"
	"github.com/reliefgrid/coordinator/config"
	"github.com/reliefgrid/coordinator/core/audit"
	"github.com/reliefgrid/coordinator/core/factory"
	"github.com/reliefgrid/coordinator/core/metrics"
	"github.com/reliefgrid/coordinator/infra/mqtt"
	"github.com/reliefgrid/coordinator/internal/testutil"
)

const (
	influxOrg    = "e2e_org"
	influxBucket = "e2e_bucket"
	influxToken  = "e2e-token"
)

// junitReport is a minimal JUnit XML report so CI systems can display the
// results.
type junitReport struct {
	XMLName  xml.Name        `xml:"testsuite"`
	Name     string          `xml:"name,attr"`
	Tests    int             `xml:"tests,attr"`
	Failures int             `xml:"failures,attr"`
	Cases    []junitTestCase `xml:"testcase"`
}

type junitTestCase struct {
	Name    string  `xml:"name,attr"`
	Failure *string `xml:"failure,omitempty"`
	Time    float64 `xml:"time,attr"`
}

func writeJUnit(path string, rep junitReport) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := xml.NewEncoder(f)
	enc.Indent("", "  ")
	return enc.Encode(rep)
}

// startInflux starts an InfluxDB 2.7 container already onboarded with the
// e2e organisation, bucket and token.
func startInflux(ctx context.Context, t *testing.T) (tc.Container, string) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "influxdb:2.7",
		ExposedPorts: []string{"8086/tcp"},
		Env: map[string]string{
			"DOCKER_INFLUXDB_INIT_MODE":        "setup",
			"DOCKER_INFLUXDB_INIT_USERNAME":    "e2e",
			"DOCKER_INFLUXDB_INIT_PASSWORD":    "e2e-password",
			"DOCKER_INFLUXDB_INIT_ORG":         influxOrg,
			"DOCKER_INFLUXDB_INIT_BUCKET":      influxBucket,
			"DOCKER_INFLUXDB_INIT_ADMIN_TOKEN": influxToken,
		},
		WaitingFor: wait.ForHTTP("/health").WithPort("8086/tcp").WithStartupTimeout(60 * time.Second),
	}
	cont, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Skipf("unable to start influx container: %v", err)
	}
	host, _ := cont.Host(ctx)
	port, _ := cont.MappedPort(ctx, "8086")
	return cont, fmt.Sprintf("http://%s:%s", host, port.Port())
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	return l.Addr().String()
}

// Test_E2E_IntakeToInflux runs the whole service against real brokers: a
// request published on the intake topic is queued, announced on the event
// topics, visible through the API and recorded in InfluxDB.
func Test_E2E_IntakeToInflux(t *testing.T) {
	if testing.Short() {
		t.Skip("container test")
	}
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skipf("docker not installed: %v", err)
	}
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	influxCont, influxURL := startInflux(ctx, t)
	defer influxCont.Terminate(ctx) //nolint:errcheck
	broker, cleanup, err := testutil.StartMosquitto(ctx)
	if err != nil {
		t.Skipf("mosquitto unavailable: %v", err)
	}
	defer cleanup()

	influx := NewInfluxClient(influxURL, influxOrg, influxBucket, influxToken)
	defer influx.Close()
	if err := influx.SetupBucket(ctx); err != nil {
		t.Fatalf("setup bucket: %v", err)
	}

	dir := t.TempDir()
	cfg := &config.Config{
		Store: config.StoreConfig{Backend: "sqlite", Path: filepath.Join(dir, "coordinator.db")},
		Audit: audit.Config{Backend: "memory"},
		MQTT:  mqtt.Config{Broker: broker, ClientID: "coordinator-e2e"},
		Metrics: metrics.Config{Sinks: []factory.ModuleConfig{{Type: "influx", Conf: map[string]any{
			"url": influxURL, "token": influxToken, "org": influxOrg, "bucket": influxBucket,
		}}}},
		Notifier: config.NotifierConfig{Enabled: true, QoS: 1},
		Intake:   config.IntakeConfig{Enabled: true, ReplyTopic: "coordination/intake/replies", QoS: 1},
		API:      config.APIConfig{Address: freeAddr(t)},
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("config: %v", err)
	}
	svc, err := app.New(cfg)
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	defer svc.Close()
	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() { _ = svc.Run(runCtx) }()
	if err := testutil.WaitForEndpoint(ctx, "http://"+cfg.API.Address+"/api/stats", "awaiting_manual"); err != nil {
		t.Fatalf("api not ready: %v", err)
	}

	probe, err := mqtt.NewPahoClient(mqtt.Config{Broker: broker, ClientID: "probe-e2e"})
	if err != nil {
		t.Fatalf("probe client: %v", err)
	}
	defer probe.Disconnect()
	var (
		mu     sync.Mutex
		topics []string
	)
	if err := probe.Subscribe(cfg.Notifier.TopicPrefix+"/#", 1, func(topic string, _ []byte) {
		mu.Lock()
		topics = append(topics, topic)
		mu.Unlock()
	}); err != nil {
		t.Fatalf("subscribe events: %v", err)
	}
	replies := make(chan map[string]any, 1)
	if err := probe.Subscribe(cfg.Intake.ReplyTopic, 1, func(_ string, payload []byte) {
		var r map[string]any
		if json.Unmarshal(payload, &r) == nil {
			replies <- r
		}
	}); err != nil {
		t.Fatalf("subscribe replies: %v", err)
	}

	msg := `{"message_id":"e2e-1","title":"Family trapped on roof","location":"Quai Nord","people_count":5,"needs":["rescue"],"urgency_hint":"critical"}`
	// The service subscribes asynchronously; republish until a reply arrives.
	var reply map[string]any
	for reply == nil {
		if err := probe.Publish(ctx, cfg.Intake.Topic, 1, false, []byte(msg)); err != nil {
			t.Fatalf("publish intake: %v", err)
		}
		select {
		case reply = <-replies:
		case <-time.After(2 * time.Second):
		case <-ctx.Done():
			t.Fatal("no intake reply")
		}
	}
	if id, _ := reply["request_id"].(string); id == "" {
		t.Fatalf("intake rejected the request: %v", reply)
	}

	resp, err := http.Get("http://" + cfg.API.Address + "/api/queue")
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	var body struct {
		Data []map[string]any `json:"data"`
	}
	err = json.NewDecoder(resp.Body).Decode(&body)
	resp.Body.Close()
	if err != nil || len(body.Data) != 1 {
		t.Fatalf("expected one queued request, got %v (%v)", body.Data, err)
	}

	deadline := time.Now().Add(30 * time.Second)
	for {
		n, err := influx.CountPoints(ctx, "request_priority", "5m")
		if err == nil && n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("no request_priority points in influx (last error: %v)", err)
		}
		time.Sleep(500 * time.Millisecond)
	}

	mu.Lock()
	seen := strings.Join(topics, " ")
	mu.Unlock()
	if !strings.Contains(seen, "request_prioritized") {
		t.Errorf("no request_prioritized event published, saw %q", seen)
	}

	rep := junitReport{Name: "e2e", Tests: 1, Cases: []junitTestCase{{Name: t.Name(), Time: time.Since(start).Seconds()}}}
	if t.Failed() {
		rep.Failures = 1
	}
	if err := writeJUnit(filepath.Join(t.TempDir(), "e2e.xml"), rep); err != nil {
		t.Logf("write junit: %v", err)
	}
}
