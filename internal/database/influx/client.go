// Package influx writes hashrate, pool and share time series to InfluxDB.
package influx

import (
	"context"
	"fmt"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/bardlex/gominer/internal/stats"
	"github.com/bardlex/gominer/internal/submit"
)

// Client wraps the InfluxDB write APIs
type Client struct {
	client   influxdb2.Client
	blocking api.WriteAPIBlocking
	async    api.WriteAPI
	service  string
	bucket   string
	org      string
}

// Config holds InfluxDB connection configuration
type Config struct {
	URL     string
	Token   string
	Org     string
	Bucket  string
	Service string
}

// NewClient connects and checks the server health
func NewClient(cfg *Config) (*Client, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to check InfluxDB health: %w", err)
	}
	if health.Status != "pass" {
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		client.Close()
		return nil, fmt.Errorf("InfluxDB health check failed: %s", msg)
	}

	return &Client{
		client:   client,
		blocking: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		async:    client.WriteAPI(cfg.Org, cfg.Bucket),
		service:  cfg.Service,
		bucket:   cfg.Bucket,
		org:      cfg.Org,
	}, nil
}

// Close flushes pending writes and closes the client
func (c *Client) Close() {
	c.async.Flush()
	c.client.Close()
}

// Name implements stats.Sink
func (c *Client) Name() string { return "influx" }

// Publish implements stats.Sink
func (c *Client) Publish(ctx context.Context, snap *stats.Snapshot) error {
	points := SnapshotPoints(c.service, snap)
	if err := c.blocking.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

// RecordShare queues one share point. The write is asynchronous and
// failures surface on the Errors channel of the write API.
func (c *Client) RecordShare(_ context.Context, rep submit.Report) error {
	c.async.WritePoint(SharePoint(c.service, rep))
	return nil
}

// Errors returns the asynchronous write errors
func (c *Client) Errors() <-chan error {
	return c.async.Errors()
}

// SnapshotPoints renders a snapshot as hashrate, pool and network points
func SnapshotPoints(service string, snap *stats.Snapshot) []*write.Point {
	points := make([]*write.Point, 0, len(snap.Workers)+len(snap.Pools)+2)

	points = append(points, write.NewPoint("hashrate",
		map[string]string{"service": service, "algo": snap.Algorithm, "worker": "total"},
		map[string]interface{}{"hashrate": snap.Hashrate},
		snap.At))
	for i, rate := range snap.Workers {
		points = append(points, write.NewPoint("hashrate",
			map[string]string{"service": service, "algo": snap.Algorithm, "worker": strconv.Itoa(i)},
			map[string]interface{}{"hashrate": rate},
			snap.At))
	}

	for _, p := range snap.Pools {
		points = append(points, write.NewPoint("pool",
			map[string]string{
				"service": service,
				"pool":    strconv.Itoa(p.Index),
				"name":    poolName(p.Index, p.Config.Name),
				"current": strconv.FormatBool(p.Index == snap.Current),
			},
			map[string]interface{}{
				"accepted":   int64(p.Accepted),
				"rejected":   int64(p.Rejected),
				"solved":     int64(p.Solved),
				"best_share": p.BestShare,
				"wait_secs":  p.WaitTime.Seconds(),
				"on_hold":    p.OnHold,
			},
			snap.At))
	}

	points = append(points, write.NewPoint("network",
		map[string]string{"service": service, "algo": snap.Algorithm},
		map[string]interface{}{
			"difficulty":   snap.Network.Difficulty,
			"hashrate":     snap.Network.Hashrate,
			"height":       int64(snap.Network.Height),
			"stratum_diff": snap.Network.StratumDiff,
			"generation":   int64(snap.Generation),
		},
		snap.At))
	return points
}

// SharePoint renders one submission outcome
func SharePoint(service string, rep submit.Report) *write.Point {
	return write.NewPoint("shares",
		map[string]string{
			"service": service,
			"pool":    strconv.Itoa(rep.Pool),
			"outcome": rep.Outcome.String(),
			"block":   strconv.FormatBool(rep.Block),
		},
		map[string]interface{}{
			"share_diff":   rep.ShareDiff,
			"network_diff": rep.NetDiff,
			"height":       int64(rep.Height),
			"count":        1,
		},
		rep.At)
}

func poolName(index int, name string) string {
	if name != "" {
		return name
	}
	return "pool" + strconv.Itoa(index)
}
