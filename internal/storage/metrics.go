package storage

import (
	"context"
	"database/sql"
	"errors"

	"warmer/internal/model"
)

// AddDailyMetric upserts additive counters for (instance, date).
func (s *Store) AddDailyMetric(ctx context.Context, instanceID, date string, sent, received int) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO daily_metrics (instance_id, date, messages_sent, messages_received)
		VALUES (?,?,?,?)
		ON CONFLICT(instance_id, date) DO UPDATE SET
			messages_sent = daily_metrics.messages_sent + excluded.messages_sent,
			messages_received = daily_metrics.messages_received + excluded.messages_received
	`, instanceID, date, sent, received)
	return err
}

// GetDailyMetric returns the counters for (instance, date); a missing row yields zeros.
func (s *Store) GetDailyMetric(ctx context.Context, instanceID, date string) (model.DailyMetric, error) {
	m := model.DailyMetric{InstanceID: instanceID, Date: date}
	err := s.DB.QueryRowContext(ctx, `SELECT messages_sent,messages_received,responses_count,blocks_count,reports_count,ignored_count
		FROM daily_metrics WHERE instance_id=? AND date=?`, instanceID, date).
		Scan(&m.MessagesSent, &m.MessagesReceived, &m.ResponsesCount, &m.BlocksCount, &m.ReportsCount, &m.IgnoredCount)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return m, err
	}
	return m, nil
}

// ListDailyMetrics returns the counters of an instance, newest day first.
func (s *Store) ListDailyMetrics(ctx context.Context, instanceID string, limit int) ([]model.DailyMetric, error) {
	if limit <= 0 {
		limit = 30
	}
	return s.queryMetrics(ctx, `SELECT `+metricCols+` FROM daily_metrics WHERE instance_id=? ORDER BY date DESC LIMIT ?`, instanceID, limit)
}

// ListMetricsForDate returns the counters of every instance for one day.
func (s *Store) ListMetricsForDate(ctx context.Context, date string) ([]model.DailyMetric, error) {
	return s.queryMetrics(ctx, `SELECT `+metricCols+` FROM daily_metrics WHERE date=? ORDER BY instance_id`, date)
}

const metricCols = `instance_id,date,messages_sent,messages_received,responses_count,blocks_count,reports_count,ignored_count`

func (s *Store) queryMetrics(ctx context.Context, q string, args ...any) ([]model.DailyMetric, error) {
	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []model.DailyMetric
	for rows.Next() {
		var m model.DailyMetric
		if err := rows.Scan(&m.InstanceID, &m.Date, &m.MessagesSent, &m.MessagesReceived, &m.ResponsesCount, &m.BlocksCount, &m.ReportsCount, &m.IgnoredCount); err != nil {
			return nil, err
		}
		list = append(list, m)
	}
	return list, rows.Err()
}
