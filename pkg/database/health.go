package database

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

// HealthStatus describes database reachability.
type HealthStatus struct {
	Reachable bool          `json:"reachable"`
	Latency   time.Duration `json:"latency"`
}

// Health pings the database and reports reachability with latency.
func Health(ctx context.Context, db *sqlx.DB) (HealthStatus, error) {
	start := time.Now()
	err := db.PingContext(ctx)
	status := HealthStatus{
		Reachable: err == nil,
		Latency:   time.Since(start),
	}
	return status, err
}
