package floors

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/smartpark/sentinel/internal/database"
)

// ErrNotFound is returned when a floor id does not resolve to a row.
var ErrNotFound = errors.New("floor not found")

// Service provides read access and capacity recommendations over floors.
// Mutation of current_vehicles happens exclusively through the events
// ingestion path (internal/events); Service never writes occupancy counts.
type Service struct {
	db     *database.DB
	logger *slog.Logger
}

// New creates a floors Service bound to db.
func New(db *database.DB) *Service {
	return &Service{
		db:     db,
		logger: slog.Default().With("component", "floors"),
	}
}

func scanFloor(row interface {
	Scan(dest ...any) error
}) (Floor, error) {
	var f Floor
	var description sql.NullString
	var createdAt, updatedAt int64
	var isActive int

	err := row.Scan(&f.ID, &f.Name, &description, &f.TotalSlots, &f.CurrentVehicles,
		&isActive, &createdAt, &updatedAt)
	if err != nil {
		return Floor{}, err
	}

	f.Description = description.String
	f.IsActive = isActive != 0
	f.CreatedAt = time.Unix(createdAt, 0).UTC()
	f.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return f, nil
}

const floorColumns = "id, name, description, total_slots, current_vehicles, is_active, created_at, updated_at"

// Get returns a single floor by id.
func (s *Service) Get(ctx context.Context, id int64) (Floor, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+floorColumns+" FROM floors WHERE id = ?", id)
	floor, err := scanFloor(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Floor{}, ErrNotFound
	}
	if err != nil {
		return Floor{}, fmt.Errorf("get floor %d: %w", id, err)
	}
	return floor, nil
}

// List returns all floors, active first then by name.
func (s *Service) List(ctx context.Context) ([]Floor, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+floorColumns+" FROM floors ORDER BY is_active DESC, name ASC")
	if err != nil {
		return nil, fmt.Errorf("list floors: %w", err)
	}
	defer rows.Close()

	var result []Floor
	for rows.Next() {
		floor, err := scanFloor(rows)
		if err != nil {
			return nil, fmt.Errorf("scan floor: %w", err)
		}
		result = append(result, floor)
	}
	return result, rows.Err()
}

// ListActive returns only active floors.
func (s *Service) ListActive(ctx context.Context) ([]Floor, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+floorColumns+" FROM floors WHERE is_active = 1 ORDER BY name ASC")
	if err != nil {
		return nil, fmt.Errorf("list active floors: %w", err)
	}
	defer rows.Close()

	var result []Floor
	for rows.Next() {
		floor, err := scanFloor(rows)
		if err != nil {
			return nil, fmt.Errorf("scan floor: %w", err)
		}
		result = append(result, floor)
	}
	return result, rows.Err()
}

// Recommendation is the response to a "where should I park" query.
type Recommendation struct {
	Floor        Floor
	Alternatives []Floor
	Reason       string
}

// Recommend picks the active floor maximizing available slots and ranks up
// to three alternatives by ascending occupancy.
func (s *Service) Recommend(ctx context.Context) (Recommendation, error) {
	active, err := s.ListActive(ctx)
	if err != nil {
		return Recommendation{}, err
	}
	if len(active) == 0 {
		return Recommendation{}, ErrNotFound
	}

	sort.SliceStable(active, func(i, j int) bool {
		return active[i].AvailableSlots() > active[j].AvailableSlots()
	})

	best := active[0]
	rest := append([]Floor(nil), active[1:]...)
	sort.SliceStable(rest, func(i, j int) bool {
		return rest[i].OccupancyPercentage() < rest[j].OccupancyPercentage()
	})
	if len(rest) > 3 {
		rest = rest[:3]
	}

	return Recommendation{
		Floor:        best,
		Alternatives: rest,
		Reason:       recommendationReason(best.OccupancyPercentage()),
	}, nil
}

func recommendationReason(occupancy float64) string {
	switch {
	case occupancy < 30:
		return "Plenty of space available"
	case occupancy < 50:
		return "Moderate availability"
	case occupancy < 70:
		return "Filling up, but slots remain"
	default:
		return "Limited availability"
	}
}
