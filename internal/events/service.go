package events

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/smartpark/sentinel/internal/database"
	"github.com/smartpark/sentinel/internal/floors"
	"github.com/smartpark/sentinel/internal/keylock"
)

// DefaultIdempotencyWindow is the tolerance applied when deduplicating
// events whose timestamps may drift slightly between retries.
const DefaultIdempotencyWindow = 5 * time.Second

// Service is the event ingestion core: it deduplicates crossings within a
// time window and atomically updates the owning floor's occupancy counter.
type Service struct {
	db     *database.DB
	logger *slog.Logger
	locks  *keylock.Registry
}

// New creates an event ingestion Service bound to db.
func New(db *database.DB) *Service {
	return &Service{
		db:     db,
		logger: slog.Default().With("component", "events"),
		locks:  keylock.NewRegistry(),
	}
}

// RecordResult is the outcome of RecordEvent.
type RecordResult struct {
	Event       Event
	Floor       floors.Floor
	IsDuplicate bool
}

// RecordEvent records a parking crossing with an atomic floor count update.
//
// The algorithm (must hold under concurrent callers):
//  1. normalize vehicle_type/direction
//  2. acquire an in-process lock keyed by (camera_id, track_id, floor_id, direction)
//  3. within a DB transaction, search for an existing event in the
//     idempotency window; if found, return it as a duplicate without
//     mutating counts
//  4. otherwise issue a conditional UPDATE on the floor row (entry requires
//     current_vehicles < total_slots, exit requires current_vehicles > 0);
//     a zero-row result means CapacityExceeded/Underflow
//  5. insert the event row, reload the floor, commit
//
// Outside the lock, a unique-constraint violation on the
// (camera_id, track_id, direction, timestamp) index is treated as a
// concurrent duplicate: the conflicting row is re-queried in the same
// window and returned if found, otherwise the error propagates.
func (s *Service) RecordEvent(
	ctx context.Context,
	cameraID string,
	floorID int64,
	trackID string,
	vehicleType VehicleType,
	direction Direction,
	confidence float64,
	timestamp time.Time,
	idempotencyWindow time.Duration,
) (RecordResult, error) {
	if !vehicleType.IsValid() {
		return RecordResult{}, fmt.Errorf("invalid vehicle_type: %s", vehicleType)
	}
	if !direction.IsValid() {
		return RecordResult{}, fmt.Errorf("invalid direction: %s", direction)
	}
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}
	if idempotencyWindow < 0 {
		idempotencyWindow = 0
	}

	lockKey := fmt.Sprintf("%s|%s|%d|%s", cameraID, trackID, floorID, direction)
	unlock := sync.OnceFunc(s.locks.Lock(lockKey))
	defer unlock()

	var result RecordResult
	err := s.db.Transaction(ctx, func(tx *sql.Tx) error {
		windowStart := timestamp.Add(-idempotencyWindow).Unix()
		windowEnd := timestamp.Add(idempotencyWindow).Unix()

		existing, found, err := findWithinWindow(ctx, tx, cameraID, trackID, floorID, direction, windowStart, windowEnd)
		if err != nil {
			return err
		}
		if found {
			floor, err := getFloorTx(ctx, tx, floorID)
			if err != nil {
				return err
			}
			s.logger.Warn("duplicate event detected", "track_id", trackID, "direction", direction)
			result = RecordResult{Event: existing, Floor: floor, IsDuplicate: true}
			return nil
		}

		floor, err := getFloorTx(ctx, tx, floorID)
		if errors.Is(err, floors.ErrNotFound) {
			return ErrFloorNotFound
		}
		if err != nil {
			return err
		}

		var updated sql.Result
		switch direction {
		case DirectionEntry:
			updated, err = tx.ExecContext(ctx,
				"UPDATE floors SET current_vehicles = current_vehicles + 1, updated_at = unixepoch() WHERE id = ? AND current_vehicles < total_slots",
				floorID)
		case DirectionExit:
			updated, err = tx.ExecContext(ctx,
				"UPDATE floors SET current_vehicles = current_vehicles - 1, updated_at = unixepoch() WHERE id = ? AND current_vehicles > 0",
				floorID)
		}
		if err != nil {
			return fmt.Errorf("update floor count: %w", err)
		}
		rows, err := updated.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			if direction == DirectionEntry {
				return ErrCapacityExceeded
			}
			return ErrCapacityUnderflow
		}

		insertRes, err := tx.ExecContext(ctx,
			`INSERT INTO events (camera_id, floor_id, track_id, vehicle_type, direction, confidence, timestamp)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			cameraID, floorID, trackID, string(vehicleType), string(direction), confidence, timestamp.Unix())
		if err != nil {
			if isUniqueViolation(err) {
				return errIntegrityConflict
			}
			return fmt.Errorf("insert event: %w", err)
		}
		eventID, err := insertRes.LastInsertId()
		if err != nil {
			return err
		}

		floor, err = getFloorTx(ctx, tx, floorID)
		if err != nil {
			return err
		}

		s.logger.Info("event recorded", "track_id", trackID, "direction", direction, "camera_id", cameraID)
		result = RecordResult{
			Event: Event{
				ID:          eventID,
				CameraID:    cameraID,
				FloorID:     floorID,
				TrackID:     trackID,
				VehicleType: vehicleType,
				Direction:   direction,
				Confidence:  confidence,
				Timestamp:   timestamp,
			},
			Floor:       floor,
			IsDuplicate: false,
		}
		return nil
	})
	unlock()

	if errors.Is(err, errIntegrityConflict) {
		windowStart := timestamp.Add(-idempotencyWindow).Unix()
		windowEnd := timestamp.Add(idempotencyWindow).Unix()
		existing, found, qerr := findWithinWindow(ctx, s.db.DB, cameraID, trackID, floorID, direction, windowStart, windowEnd)
		if qerr == nil && found {
			floor, ferr := s.floorSnapshot(ctx, floorID)
			if ferr == nil {
				s.logger.Warn("duplicate event detected by integrity constraint", "track_id", trackID)
				return RecordResult{Event: existing, Floor: floor, IsDuplicate: true}, nil
			}
		}
		return RecordResult{}, fmt.Errorf("integrity conflict: %w", err)
	}
	if err != nil {
		return RecordResult{}, err
	}
	return result, nil
}

var errIntegrityConflict = errors.New("event integrity conflict")

func isUniqueViolation(err error) bool {
	// mattn/go-sqlite3 reports unique constraint violations in the error
	// text; there is no typed sentinel without importing the driver's
	// error type directly, so match on the message it documents.
	return err != nil && (contains(err.Error(), "UNIQUE constraint failed") || contains(err.Error(), "constraint failed"))
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && indexOf(haystack, needle) >= 0
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}

func findWithinWindow(ctx context.Context, q rowQuerier, cameraID, trackID string, floorID int64, direction Direction, windowStart, windowEnd int64) (Event, bool, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, camera_id, floor_id, track_id, vehicle_type, direction, confidence, timestamp, created_at
		FROM events
		WHERE camera_id = ? AND track_id = ? AND floor_id = ? AND direction = ?
		  AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp DESC
		LIMIT 1`,
		cameraID, trackID, floorID, string(direction), windowStart, windowEnd)

	var e Event
	var vehicleType, dir string
	var ts, createdAt int64
	err := row.Scan(&e.ID, &e.CameraID, &e.FloorID, &e.TrackID, &vehicleType, &dir, &e.Confidence, &ts, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Event{}, false, nil
	}
	if err != nil {
		return Event{}, false, fmt.Errorf("query existing event: %w", err)
	}
	e.VehicleType = VehicleType(vehicleType)
	e.Direction = Direction(dir)
	e.Timestamp = time.Unix(ts, 0).UTC()
	e.CreatedAt = time.Unix(createdAt, 0).UTC()
	return e, true, nil
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getFloorTx(ctx context.Context, q rowQuerier, floorID int64) (floors.Floor, error) {
	row := q.QueryRowContext(ctx,
		"SELECT id, name, description, total_slots, current_vehicles, is_active, created_at, updated_at FROM floors WHERE id = ?",
		floorID)

	var f floors.Floor
	var description sql.NullString
	var createdAt, updatedAt int64
	var isActive int
	err := row.Scan(&f.ID, &f.Name, &description, &f.TotalSlots, &f.CurrentVehicles, &isActive, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return floors.Floor{}, floors.ErrNotFound
	}
	if err != nil {
		return floors.Floor{}, fmt.Errorf("query floor: %w", err)
	}
	f.Description = description.String
	f.IsActive = isActive != 0
	f.CreatedAt = time.Unix(createdAt, 0).UTC()
	f.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return f, nil
}

func (s *Service) floorSnapshot(ctx context.Context, floorID int64) (floors.Floor, error) {
	return getFloorTx(ctx, s.db.DB, floorID)
}

// List returns events matching filter, most recent first, along with the
// total count in the time window and the count after filtering.
func (s *Service) List(ctx context.Context, filter ListFilter) (events []Event, totalCount, filteredCount int, err error) {
	hours := filter.Hours
	if hours <= 0 {
		hours = 24
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	windowStart := time.Now().UTC().Add(-time.Duration(hours) * time.Hour).Unix()

	if err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events WHERE timestamp >= ?", windowStart).Scan(&totalCount); err != nil {
		return nil, 0, 0, fmt.Errorf("count events: %w", err)
	}

	query := "SELECT id, camera_id, floor_id, track_id, vehicle_type, direction, confidence, timestamp, created_at FROM events WHERE timestamp >= ?"
	args := []any{windowStart}

	if filter.FloorID != nil {
		query += " AND floor_id = ?"
		args = append(args, *filter.FloorID)
	}
	if filter.VehicleType != nil {
		query += " AND vehicle_type = ?"
		args = append(args, string(*filter.VehicleType))
	}
	if filter.Direction != nil {
		query += " AND direction = ?"
		args = append(args, string(*filter.Direction))
	}

	countQuery := "SELECT COUNT(*) FROM (" + query + ")"
	if err = s.db.QueryRowContext(ctx, countQuery, args...).Scan(&filteredCount); err != nil {
		return nil, 0, 0, fmt.Errorf("count filtered events: %w", err)
	}

	query += " ORDER BY timestamp DESC LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e Event
		var vehicleType, dir string
		var ts, createdAt int64
		if err := rows.Scan(&e.ID, &e.CameraID, &e.FloorID, &e.TrackID, &vehicleType, &dir, &e.Confidence, &ts, &createdAt); err != nil {
			return nil, 0, 0, fmt.Errorf("scan event: %w", err)
		}
		e.VehicleType = VehicleType(vehicleType)
		e.Direction = Direction(dir)
		e.Timestamp = time.Unix(ts, 0).UTC()
		e.CreatedAt = time.Unix(createdAt, 0).UTC()
		events = append(events, e)
	}
	return events, totalCount, filteredCount, rows.Err()
}

// Statistics aggregates entries/exits by vehicle type and floor over hours.
func (s *Service) Statistics(ctx context.Context, hours int) (Stats, error) {
	if hours <= 0 {
		hours = 24
	}
	windowStart := time.Now().UTC().Add(-time.Duration(hours) * time.Hour).Unix()

	stats := Stats{
		ByVehicleType: make(map[VehicleType]int),
		ByFloor:       make(map[string]int),
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT vehicle_type, direction, floor_id FROM events WHERE timestamp >= ?", windowStart)
	if err != nil {
		return Stats{}, fmt.Errorf("query events for stats: %w", err)
	}
	defer rows.Close()

	floorNames := map[int64]string{}
	for rows.Next() {
		var vehicleType, direction string
		var floorID int64
		if err := rows.Scan(&vehicleType, &direction, &floorID); err != nil {
			return Stats{}, fmt.Errorf("scan stats row: %w", err)
		}
		stats.TotalEvents++
		if Direction(direction) == DirectionEntry {
			stats.Entries++
		} else {
			stats.Exits++
		}
		stats.ByVehicleType[VehicleType(vehicleType)]++

		name, ok := floorNames[floorID]
		if !ok {
			_ = s.db.QueryRowContext(ctx, "SELECT name FROM floors WHERE id = ?", floorID).Scan(&name)
			floorNames[floorID] = name
		}
		if name != "" {
			stats.ByFloor[name]++
		}
	}
	return stats, rows.Err()
}

// CleanupOld deletes events older than the retention window and returns the
// number of rows removed.
func (s *Service) CleanupOld(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan).Unix()
	res, err := s.db.ExecContext(ctx, "DELETE FROM events WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup old events: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	s.logger.Info("deleted old events", "count", deleted)
	return deleted, nil
}
