package analytics

import (
	"database/sql"
	"fmt"
	"math"
	"sort"
)

// DB is the interface for database queries used by analytics.
type DB interface {
	Conn() *sql.DB
}

// StageDuration holds duration stats for a stage.
type StageDuration struct {
	Stage string  `json:"stage"`
	Count int     `json:"count"`
	Avg   float64 `json:"avg_seconds"`
	P50   float64 `json:"p50_seconds"`
	P95   float64 `json:"p95_seconds"`
}

// QueryStageDurations returns average and percentile durations per stage
// from recorded stage results, optionally restricted to rows at or after
// the given timestamp ("YYYY-MM-DD HH:MM:SS").
func QueryStageDurations(database DB, since string) ([]StageDuration, error) {
	query := `SELECT stage, duration_ms FROM stage_results WHERE duration_ms IS NOT NULL`
	args := []interface{}{}
	if since != "" {
		query += ` AND timestamp >= ?`
		args = append(args, since)
	}

	rows, err := database.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query stage durations: %w", err)
	}
	defer rows.Close()

	durations := make(map[string][]float64)
	for rows.Next() {
		var stage string
		var ms int
		if err := rows.Scan(&stage, &ms); err != nil {
			return nil, fmt.Errorf("scan stage duration: %w", err)
		}
		durations[stage] = append(durations[stage], float64(ms)/1000)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var result []StageDuration
	for stage, ds := range durations {
		sort.Float64s(ds)
		result = append(result, StageDuration{
			Stage: stage,
			Count: len(ds),
			Avg:   round2(avg(ds)),
			P50:   round2(percentile(ds, 0.50)),
			P95:   round2(percentile(ds, 0.95)),
		})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Stage < result[j].Stage })
	return result, nil
}

func avg(ds []float64) float64 {
	if len(ds) == 0 {
		return 0
	}
	sum := 0.0
	for _, d := range ds {
		sum += d
	}
	return sum / float64(len(ds))
}

// percentile expects ds sorted ascending.
func percentile(ds []float64, p float64) float64 {
	if len(ds) == 0 {
		return 0
	}
	idx := int(math.Ceil(p*float64(len(ds)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(ds) {
		idx = len(ds) - 1
	}
	return ds[idx]
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
