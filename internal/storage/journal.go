package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/micro-ha/intercom-bridge/addon/internal/model"
)

const defaultHistoryLimit = 50

// RecordRing journals one doorbell press and returns the stored row.
func (j *Journal) RecordRing(ctx context.Context, at time.Time, caller model.CallerInfo) (model.RingEvent, error) {
	event := model.RingEvent{
		ID:           uuid.NewString(),
		At:           at.UTC(),
		CallerName:   caller.Name,
		CallerNumber: caller.Number,
		Button:       caller.Button,
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO ring_events (id, at, caller_name, caller_number, button)
		VALUES (?, ?, ?, ?, ?)`,
		event.ID, event.At.Format(time.RFC3339Nano), event.CallerName, event.CallerNumber, event.Button)
	if err != nil {
		return model.RingEvent{}, err
	}
	return event, nil
}

// RecordActuation journals one relay actuation attempt, successful or not.
func (j *Journal) RecordActuation(ctx context.Context, at time.Time, relay int, action string, durationMs int, success bool) (model.ActuationRecord, error) {
	record := model.ActuationRecord{
		ID:         uuid.NewString(),
		At:         at.UTC(),
		Relay:      relay,
		Action:     action,
		DurationMs: durationMs,
		Success:    success,
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO actuations (id, at, relay, action, duration_ms, success)
		VALUES (?, ?, ?, ?, ?, ?)`,
		record.ID, record.At.Format(time.RFC3339Nano), record.Relay, record.Action, record.DurationMs, boolToInt(record.Success))
	if err != nil {
		return model.ActuationRecord{}, err
	}
	return record, nil
}

// RecentRings returns the newest ring events, newest first.
func (j *Journal) RecentRings(ctx context.Context, limit int) ([]model.RingEvent, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, at, caller_name, caller_number, button
		FROM ring_events ORDER BY at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.RingEvent
	for rows.Next() {
		var (
			event model.RingEvent
			at    string
		)
		if err := rows.Scan(&event.ID, &at, &event.CallerName, &event.CallerNumber, &event.Button); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339Nano, at); err == nil {
			event.At = ts.UTC()
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// RecentActuations returns the newest actuation records, newest first.
func (j *Journal) RecentActuations(ctx context.Context, limit int) ([]model.ActuationRecord, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, at, relay, action, duration_ms, success
		FROM actuations ORDER BY at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.ActuationRecord
	for rows.Next() {
		var (
			record  model.ActuationRecord
			at      string
			success int
		)
		if err := rows.Scan(&record.ID, &at, &record.Relay, &record.Action, &record.DurationMs, &success); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339Nano, at); err == nil {
			record.At = ts.UTC()
		}
		record.Success = success != 0
		records = append(records, record)
	}
	return records, rows.Err()
}

// Prune removes journal rows older than the cutoff.
func (j *Journal) Prune(ctx context.Context, olderThan time.Time) error {
	cutoff := olderThan.UTC().Format(time.RFC3339Nano)
	for _, table := range []string{"ring_events", "actuations"} {
		res, err := j.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE at < ?`, cutoff)
		if err != nil {
			return err
		}
		if rows, _ := res.RowsAffected(); rows > 0 && j.logger != nil {
			j.logger.Info("pruned journal rows", "table", table, "rows", rows)
		}
	}
	return nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
