package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// RegisterPgxPoolMetrics exposes pgx connection pool statistics as
// Prometheus gauges on the default registry.
func RegisterPgxPoolMetrics(pool *pgxpool.Pool) {
	gauges := []struct {
		name string
		help string
		read func(*pgxpool.Stat) float64
	}{
		{"pgxpool_acquired_conns", "Number of currently acquired connections in the pool",
			func(s *pgxpool.Stat) float64 { return float64(s.AcquiredConns()) }},
		{"pgxpool_idle_conns", "Number of idle connections in the pool",
			func(s *pgxpool.Stat) float64 { return float64(s.IdleConns()) }},
		{"pgxpool_total_conns", "Total number of connections in the pool",
			func(s *pgxpool.Stat) float64 { return float64(s.TotalConns()) }},
		{"pgxpool_max_conns", "Maximum number of connections in the pool",
			func(s *pgxpool.Stat) float64 { return float64(s.MaxConns()) }},
	}

	for _, g := range gauges {
		read := g.read
		prometheus.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: g.name,
			Help: g.help,
		}, func() float64 {
			return read(pool.Stat())
		}))
	}
}
