package store

import (
	"context"
	"time"
)

// UpsertStatsWindow writes one rolling-window aggregate cell. It is
// idempotent on (window_start, subnetwork, strategy, content_type): a
// recomputed window simply replaces the previous figures, which is what
// lets the aggregator re-run a tick after a crash without double-counting.
func (s *Store) UpsertStatsWindow(ctx context.Context, w AuditStatsWindow) error {
	const q = `
		INSERT INTO audit_stats_windows
			(window_start, window_end, subnetwork, strategy, content_type,
			 total_audits, passes, failures, pass_percent, fail_percent, audits_per_minute,
			 latency_min_ms, latency_mean_ms, latency_median_ms, latency_p99_ms, latency_max_ms, error_count)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (window_start, subnetwork, strategy, content_type) DO UPDATE SET
			window_end = EXCLUDED.window_end,
			total_audits = EXCLUDED.total_audits,
			passes = EXCLUDED.passes,
			failures = EXCLUDED.failures,
			pass_percent = EXCLUDED.pass_percent,
			fail_percent = EXCLUDED.fail_percent,
			audits_per_minute = EXCLUDED.audits_per_minute,
			latency_min_ms = EXCLUDED.latency_min_ms,
			latency_mean_ms = EXCLUDED.latency_mean_ms,
			latency_median_ms = EXCLUDED.latency_median_ms,
			latency_p99_ms = EXCLUDED.latency_p99_ms,
			latency_max_ms = EXCLUDED.latency_max_ms,
			error_count = EXCLUDED.error_count`
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, q,
			w.WindowStart, w.WindowEnd, w.Subnetwork, w.Strategy, w.ContentType,
			w.TotalAudits, w.Passes, w.Failures, w.PassPercent, w.FailPercent, w.AuditsPerMinute,
			w.LatencyMinMs, w.LatencyMeanMs, w.LatencyMedianMs, w.LatencyP99Ms, w.LatencyMaxMs, w.ErrorCount,
		)
		return wrapErr(err)
	})
}

// AuditSample is the raw per-attempt data the aggregator reduces into an
// AuditStatsWindow cell.
type AuditSample struct {
	Outcome      AuditOutcome
	ContentType  string
	LatencyMs    float64
	IsClientErr  bool
}

// SamplesSince returns every audit attempt for subnet and strategy finishing
// at or after since, used by the aggregator to compute a rolling window cell.
func (s *Store) SamplesSince(ctx context.Context, subnet Subnetwork, strategy Strategy, since time.Time) ([]AuditSample, error) {
	const q = `
		SELECT
			a.outcome AS outcome,
			substr(a.content_key, 1, 1) AS content_type_byte,
			EXTRACT(EPOCH FROM (a.finished_at - a.started_at)) * 1000 AS latency_ms,
			(a.outcome = 'client_error') AS is_client_err
		FROM audit_attempts a
		JOIN content_items c ON c.content_key = a.content_key
		WHERE c.subnetwork = $1 AND a.strategy = $2 AND a.finished_at >= $3`
	type row struct {
		Outcome         AuditOutcome `db:"outcome"`
		ContentTypeByte []byte       `db:"content_type_byte"`
		LatencyMs       float64      `db:"latency_ms"`
		IsClientErr     bool         `db:"is_client_err"`
	}
	var rows []row
	if err := s.db.SelectContext(ctx, &rows, q, subnet, strategy, since); err != nil {
		return nil, wrapErr(err)
	}
	out := make([]AuditSample, 0, len(rows))
	for _, r := range rows {
		ct := "unknown"
		if len(r.ContentTypeByte) == 1 {
			ct = contentTypeName(r.ContentTypeByte[0])
		}
		out = append(out, AuditSample{
			Outcome:     r.Outcome,
			ContentType: ct,
			LatencyMs:   r.LatencyMs,
			IsClientErr: r.IsClientErr,
		})
	}
	return out, nil
}

func contentTypeName(selector byte) string {
	switch selector {
	case 0x00:
		return "header_by_hash"
	case 0x01:
		return "header_by_number"
	case 0x02:
		return "body"
	case 0x03:
		return "receipts"
	case 0x20:
		return "state_trie_node"
	case 0x21:
		return "state_contract"
	case 0x40:
		return "beacon_light_update"
	case 0x41:
		return "beacon_finality_update"
	default:
		return "unrecognized"
	}
}
