package database

import (
	"context"
	"fmt"
	"log"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// InfluxDB writes points through the blocking write API. The client is
// shared by all requests.
type InfluxDB struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
}

// NewInfluxDB creates an InfluxDB store. It does not fail if the server is
// unreachable; writes report errors individually.
func NewInfluxDB(url, token, org, bucket string) *InfluxDB {
	client := influxdb2.NewClient(url, token)
	db := &InfluxDB{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if ok, err := client.Ping(ctx); err != nil || !ok {
		log.Printf("InfluxDB: Server at %s not reachable yet: %v", url, err)
	} else {
		log.Printf("Connected to InfluxDB at %s (org=%s, bucket=%s)", url, org, bucket)
	}
	return db
}

// WritePoint writes a single point
func (db *InfluxDB) WritePoint(ctx context.Context, series string, tags map[string]string, fields map[string]interface{}, ts time.Time) error {
	if err := db.writeAPI.WritePoint(ctx, write.NewPoint(series, tags, fields, ts)); err != nil {
		return fmt.Errorf("failed to write point to InfluxDB: %w", err)
	}
	return nil
}

// WriteBatch writes all rows in one request
func (db *InfluxDB) WriteBatch(ctx context.Context, series string, tags map[string]string, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	points := make([]*write.Point, 0, len(rows))
	for _, r := range rows {
		points = append(points, write.NewPoint(series, tags, r.Fields, r.Timestamp))
	}
	if err := db.writeAPI.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("failed to write %d points to InfluxDB: %w", len(points), err)
	}
	return nil
}

// Close releases the client
func (db *InfluxDB) Close() error {
	if db != nil && db.client != nil {
		db.client.Close()
		log.Println("InfluxDB client closed")
	}
	return nil
}
