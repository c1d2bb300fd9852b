package metrics

import (
	"context"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/reliefgrid/coordinator/core/metrics"
	"github.com/reliefgrid/coordinator/core/model"
	"github.com/reliefgrid/coordinator/infra/logger"
)

// InfluxSink writes coordination events to an InfluxDB instance using the
// official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
	now      func() time.Time
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	base := strings.TrimSuffix(url, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		log:      logger.New("influx-sink"),
		now:      time.Now,
	}
}

// NewInfluxSinkWithFallback tries to ping the InfluxDB instance and
// returns a NopSink if the health check fails.
func NewInfluxSinkWithFallback(url, token, org, bucket string) coremetrics.MetricsSink {
	sink := NewInfluxSink(url, token, org, bucket)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

func (s *InfluxSink) write(p *write.Point) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordAssignment writes one matching attempt.
func (s *InfluxSink) RecordAssignment(ev coremetrics.AssignmentEvent) error {
	p := write.NewPointWithMeasurement("assignment").
		AddTag("task_type", ev.TaskType).
		AddTag("outcome", ev.Outcome).
		AddTag("manual", strconv.FormatBool(ev.Manual)).
		AddTag("task_id", ev.TaskID).
		AddTag("request_id", ev.RequestID)
	if ev.ResponderID != "" {
		p = p.AddTag("responder_id", ev.ResponderID)
	}
	p = p.AddField("score", round3(ev.Score)).
		AddField("candidates", ev.Candidates).
		AddField("latency_ms", round3(ev.Latency.Seconds()*1000)).
		SetTime(ev.Time)
	return s.write(p)
}

// RecordPriority writes a request score.
func (s *InfluxSink) RecordPriority(ev coremetrics.PriorityEvent) error {
	p := write.NewPointWithMeasurement("request_priority").
		AddTag("request_id", ev.RequestID).
		AddTag("tier", string(ev.Tier)).
		AddField("score", round3(ev.Score)).
		SetTime(ev.Time)
	return s.write(p)
}

// RecordTransition writes a task status change.
func (s *InfluxSink) RecordTransition(ev coremetrics.TransitionEvent) error {
	p := write.NewPointWithMeasurement("task_transition").
		AddTag("task_id", ev.TaskID).
		AddTag("from", string(ev.From)).
		AddTag("to", string(ev.To)).
		AddField("count", 1).
		SetTime(ev.Time)
	return s.write(p)
}

// RecordLowStock writes a low stock alert.
func (s *InfluxSink) RecordLowStock(ev coremetrics.StockEvent) error {
	p := write.NewPointWithMeasurement("low_stock").
		AddTag("resource_id", ev.ResourceID).
		AddField("available", ev.Available).
		AddField("threshold", ev.Threshold).
		SetTime(ev.Time)
	return s.write(p)
}

// RecordConsumption writes a consumed quantity.
func (s *InfluxSink) RecordConsumption(ev coremetrics.ConsumptionEvent) error {
	p := write.NewPointWithMeasurement("resource_consumption").
		AddTag("resource_id", ev.ResourceID).
		AddTag("task_id", ev.TaskID).
		AddField("quantity", ev.Quantity).
		SetTime(ev.Time)
	return s.write(p)
}

// RecordQueueDepth writes one point per tier, in tier order.
func (s *InfluxSink) RecordQueueDepth(depth map[model.Tier]int) error {
	tiers := make([]model.Tier, 0, len(depth))
	for t := range depth {
		tiers = append(tiers, t)
	}
	sort.Slice(tiers, func(i, j int) bool { return tiers[i] < tiers[j] })
	now := s.now()
	for _, t := range tiers {
		p := write.NewPointWithMeasurement("queue_depth").
			AddTag("tier", string(t)).
			AddField("requests", depth[t]).
			SetTime(now)
		if err := s.write(p); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the client.
func (s *InfluxSink) Close() { s.client.Close() }

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
