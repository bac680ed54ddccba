package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ssdwatch/ssdwatch/internal/database"
)

// Service stores detection events and fans them out to subscribers.
type Service struct {
	db          *database.DB
	logger      *slog.Logger
	subscribers []chan *Event
	mu          sync.RWMutex
}

// NewService creates a new event service.
func NewService(db *database.DB) *Service {
	return &Service{
		db:          db,
		logger:      slog.Default().With("component", "event_service"),
		subscribers: make([]chan *Event, 0),
	}
}

// Subscribe returns a channel that receives new events. Slow subscribers
// drop events rather than block detection.
func (s *Service) Subscribe() chan *Event {
	ch := make(chan *Event, 100)
	s.mu.Lock()
	s.subscribers = append(s.subscribers, ch)
	s.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscription and closes its channel.
func (s *Service) Unsubscribe(ch chan *Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, sub := range s.subscribers {
		if sub == ch {
			s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
			close(ch)
			break
		}
	}
}

// Create stores a new event and notifies subscribers.
func (s *Service) Create(ctx context.Context, event *Event) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	var metadataJSON []byte
	if event.Metadata != nil {
		metadataJSON = event.Metadata
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (
			id, source, frame_id, class_id, label, confidence,
			x_min, y_min, x_max, y_max, track_id, timestamp, metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		event.ID, event.Source, event.FrameID, event.ClassID, event.Label, event.Confidence,
		event.BoundingBox.XMin, event.BoundingBox.YMin, event.BoundingBox.XMax, event.BoundingBox.YMax,
		event.TrackID, event.Timestamp.Unix(), metadataJSON, event.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to create event: %w", err)
	}

	s.notifySubscribers(event)

	s.logger.Debug("Event created", "id", event.ID, "source", event.Source, "label", event.Label)
	return nil
}

// CreateBatch stores all detections of one frame in a single transaction.
func (s *Service) CreateBatch(ctx context.Context, evts []*Event) error {
	if len(evts) == 0 {
		return nil
	}

	err := s.db.Transaction(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO events (
				id, source, frame_id, class_id, label, confidence,
				x_min, y_min, x_max, y_max, track_id, timestamp, metadata, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, event := range evts {
			if event.ID == "" {
				event.ID = uuid.New().String()
			}
			if event.CreatedAt.IsZero() {
				event.CreatedAt = time.Now()
			}
			if event.Timestamp.IsZero() {
				event.Timestamp = time.Now()
			}

			var metadataJSON []byte
			if event.Metadata != nil {
				metadataJSON = event.Metadata
			}

			if _, err := stmt.ExecContext(ctx,
				event.ID, event.Source, event.FrameID, event.ClassID, event.Label, event.Confidence,
				event.BoundingBox.XMin, event.BoundingBox.YMin, event.BoundingBox.XMax, event.BoundingBox.YMax,
				event.TrackID, event.Timestamp.Unix(), metadataJSON, event.CreatedAt.Unix(),
			); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to create events: %w", err)
	}

	for _, event := range evts {
		s.notifySubscribers(event)
	}
	return nil
}

const eventColumns = `id, source, frame_id, class_id, label, confidence,
       x_min, y_min, x_max, y_max, track_id, timestamp, metadata, created_at`

// Get retrieves an event by ID.
func (s *Service) Get(ctx context.Context, id string) (*Event, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+eventColumns+" FROM events WHERE id = ?", id)

	event, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("event not found: %s", id)
	}
	if err != nil {
		return nil, err
	}
	return event, nil
}

// List retrieves events matching the filters, newest first, and the total
// count before pagination.
func (s *Service) List(ctx context.Context, opts ListOptions) ([]*Event, int, error) {
	where := " WHERE 1=1"
	args := []interface{}{}

	if opts.Source != "" {
		where += " AND source = ?"
		args = append(args, opts.Source)
	}
	if opts.Label != "" {
		where += " AND label = ?"
		args = append(args, opts.Label)
	}
	if opts.TrackID != "" {
		where += " AND track_id = ?"
		args = append(args, opts.TrackID)
	}
	if opts.MinConfidence > 0 {
		where += " AND confidence >= ?"
		args = append(args, opts.MinConfidence)
	}
	if !opts.StartTime.IsZero() {
		where += " AND timestamp >= ?"
		args = append(args, opts.StartTime.Unix())
	}
	if !opts.EndTime.IsZero() {
		where += " AND timestamp <= ?"
		args = append(args, opts.EndTime.Unix())
	}

	var totalCount int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events"+where, args...).Scan(&totalCount); err != nil {
		return nil, 0, err
	}

	query := "SELECT " + eventColumns + " FROM events" + where + " ORDER BY timestamp DESC"

	limit := 50
	if opts.Limit > 0 && opts.Limit <= 1000 {
		limit = opts.Limit
	}
	query += " LIMIT ?"
	args = append(args, limit)

	if opts.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	evts := []*Event{}
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, 0, err
		}
		evts = append(evts, event)
	}

	return evts, totalCount, rows.Err()
}

// Delete deletes an event.
func (s *Service) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM events WHERE id = ?", id)
	return err
}

// Prune removes events older than the retention window and returns how many
// were deleted.
func (s *Service) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).Unix()
	result, err := s.db.ExecContext(ctx, "DELETE FROM events WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, err
	}
	deleted, _ := result.RowsAffected()
	if deleted > 0 {
		s.logger.Info("Pruned events", "deleted", deleted)
	}
	return deleted, nil
}

// GetStats returns event counts, optionally scoped to one source.
func (s *Service) GetStats(ctx context.Context, source string) (map[string]interface{}, error) {
	now := time.Now()
	todayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	var today, total int

	query := "SELECT COUNT(*) FROM events WHERE timestamp >= ?"
	args := []interface{}{todayStart.Unix()}
	if source != "" {
		query += " AND source = ?"
		args = append(args, source)
	}
	_ = s.db.QueryRowContext(ctx, query, args...).Scan(&today)

	query = "SELECT COUNT(*) FROM events"
	args = []interface{}{}
	if source != "" {
		query += " WHERE source = ?"
		args = append(args, source)
	}
	_ = s.db.QueryRowContext(ctx, query, args...).Scan(&total)

	byLabel := map[string]int{}
	query = "SELECT label, COUNT(*) FROM events"
	args = []interface{}{}
	if source != "" {
		query += " WHERE source = ?"
		args = append(args, source)
	}
	query += " GROUP BY label"
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err == nil {
		defer rows.Close()
		for rows.Next() {
			var label sql.NullString
			var count int
			if err := rows.Scan(&label, &count); err == nil {
				byLabel[label.String] = count
			}
		}
	}

	return map[string]interface{}{
		"today":    today,
		"total":    total,
		"by_label": byLabel,
	}, nil
}

func (s *Service) notifySubscribers(event *Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row rowScanner) (*Event, error) {
	event := &Event{}
	var timestamp, createdAt int64
	var label, trackID, metadataJSON sql.NullString

	err := row.Scan(
		&event.ID, &event.Source, &event.FrameID, &event.ClassID, &label, &event.Confidence,
		&event.BoundingBox.XMin, &event.BoundingBox.YMin, &event.BoundingBox.XMax, &event.BoundingBox.YMax,
		&trackID, &timestamp, &metadataJSON, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	event.Timestamp = time.Unix(timestamp, 0)
	event.CreatedAt = time.Unix(createdAt, 0)
	if label.Valid {
		event.Label = label.String
	}
	if trackID.Valid {
		event.TrackID = trackID.String
	}
	if metadataJSON.Valid {
		event.Metadata = json.RawMessage(metadataJSON.String)
	}

	return event, nil
}
