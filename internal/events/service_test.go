package events

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/smartpark/sentinel/internal/database"
)

func setupTestDB(t *testing.T) *database.DB {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	db, err := database.Open(&database.Config{Path: dbPath})
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}

	migrator := database.NewMigrator(db)
	if err := migrator.Run(context.Background()); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	// The embedded seed migration creates three floors; tests insert exactly
	// the floors they need instead.
	if _, err := db.Exec("DELETE FROM floors"); err != nil {
		t.Fatalf("Failed to clear seeded floors: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

func insertFloor(t *testing.T, db *database.DB, name string, totalSlots, currentVehicles int) int64 {
	t.Helper()
	res, err := db.Exec(
		"INSERT INTO floors (name, total_slots, current_vehicles, is_active) VALUES (?, ?, ?, 1)",
		name, totalSlots, currentVehicles)
	if err != nil {
		t.Fatalf("Failed to insert floor: %v", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		t.Fatalf("Failed to get floor id: %v", err)
	}
	return id
}

// Scenario 1: single entry increments the count and reports available slots.
func TestRecordEvent_SingleEntry(t *testing.T) {
	db := setupTestDB(t)
	floorID := insertFloor(t, db, "Ground", 20, 5)
	svc := New(db)

	result, err := svc.RecordEvent(context.Background(), "cam1", floorID, "track1",
		VehicleCar, DirectionEntry, 0.9, time.Now().UTC(), DefaultIdempotencyWindow)
	if err != nil {
		t.Fatalf("RecordEvent failed: %v", err)
	}
	if result.IsDuplicate {
		t.Error("expected first event not to be a duplicate")
	}
	if result.Floor.CurrentVehicles != 6 {
		t.Errorf("expected current_vehicles=6, got %d", result.Floor.CurrentVehicles)
	}
	if result.Floor.AvailableSlots() != 14 {
		t.Errorf("expected available_slots=14, got %d", result.Floor.AvailableSlots())
	}
}

// Scenario 2: duplicate within the idempotency window is detected, counted once.
func TestRecordEvent_DuplicateWithinWindow(t *testing.T) {
	db := setupTestDB(t)
	floorID := insertFloor(t, db, "Ground", 20, 5)
	svc := New(db)
	now := time.Now().UTC()

	first, err := svc.RecordEvent(context.Background(), "cam1", floorID, "track1",
		VehicleCar, DirectionEntry, 0.9, now, DefaultIdempotencyWindow)
	if err != nil {
		t.Fatalf("first RecordEvent failed: %v", err)
	}
	if first.IsDuplicate {
		t.Fatal("first event should not be a duplicate")
	}

	second, err := svc.RecordEvent(context.Background(), "cam1", floorID, "track1",
		VehicleCar, DirectionEntry, 0.9, now, DefaultIdempotencyWindow)
	if err != nil {
		t.Fatalf("second RecordEvent failed: %v", err)
	}
	if !second.IsDuplicate {
		t.Error("second event should be reported as a duplicate")
	}
	if second.Floor.CurrentVehicles != 6 {
		t.Errorf("count should increment exactly once, got %d", second.Floor.CurrentVehicles)
	}
}

// Scenario 3: concurrent duplicate submissions increase the count by exactly one.
func TestRecordEvent_ConcurrentDuplicates(t *testing.T) {
	db := setupTestDB(t)
	floorID := insertFloor(t, db, "Ground", 50, 0)
	svc := New(db)
	now := time.Now().UTC()

	const parallelism = 20
	results := make([]RecordResult, parallelism)
	errs := make([]error, parallelism)

	var wg sync.WaitGroup
	for i := 0; i < parallelism; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			results[idx], errs[idx] = svc.RecordEvent(context.Background(), "cam1", floorID, "track1",
				VehicleCar, DirectionEntry, 0.9, now, DefaultIdempotencyWindow)
		}(i)
	}
	wg.Wait()

	duplicates := 0
	for i, err := range errs {
		if err != nil {
			t.Fatalf("RecordEvent %d failed: %v", i, err)
		}
		if results[i].IsDuplicate {
			duplicates++
		}
	}
	if duplicates < parallelism-1 {
		t.Errorf("expected at least %d duplicates, got %d", parallelism-1, duplicates)
	}

	floor, err := getFloorTx(context.Background(), db.DB, floorID)
	if err != nil {
		t.Fatalf("failed to read floor: %v", err)
	}
	if floor.CurrentVehicles != 1 {
		t.Errorf("expected current_vehicles=1 after concurrent duplicates, got %d", floor.CurrentVehicles)
	}
}

// Scenario 4: capacity boundary rejects entry when the floor is full.
func TestRecordEvent_CapacityExceeded(t *testing.T) {
	db := setupTestDB(t)
	floorID := insertFloor(t, db, "Ground", 10, 10)
	svc := New(db)

	_, err := svc.RecordEvent(context.Background(), "cam1", floorID, "track1",
		VehicleCar, DirectionEntry, 0.9, time.Now().UTC(), DefaultIdempotencyWindow)
	if !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}

	floor, ferr := getFloorTx(context.Background(), db.DB, floorID)
	if ferr != nil {
		t.Fatalf("failed to read floor: %v", ferr)
	}
	if floor.CurrentVehicles != 10 {
		t.Errorf("count should be unchanged at 10, got %d", floor.CurrentVehicles)
	}
}

func TestRecordEvent_CapacityUnderflow(t *testing.T) {
	db := setupTestDB(t)
	floorID := insertFloor(t, db, "Ground", 10, 0)
	svc := New(db)

	_, err := svc.RecordEvent(context.Background(), "cam1", floorID, "track1",
		VehicleCar, DirectionExit, 0.9, time.Now().UTC(), DefaultIdempotencyWindow)
	if !errors.Is(err, ErrCapacityUnderflow) {
		t.Fatalf("expected ErrCapacityUnderflow, got %v", err)
	}
}

func TestRecordEvent_FloorNotFound(t *testing.T) {
	db := setupTestDB(t)
	svc := New(db)

	_, err := svc.RecordEvent(context.Background(), "cam1", 999, "track1",
		VehicleCar, DirectionEntry, 0.9, time.Now().UTC(), DefaultIdempotencyWindow)
	if !errors.Is(err, ErrFloorNotFound) {
		t.Fatalf("expected ErrFloorNotFound, got %v", err)
	}
}

func TestRecordEvent_InvalidVehicleType(t *testing.T) {
	db := setupTestDB(t)
	floorID := insertFloor(t, db, "Ground", 10, 0)
	svc := New(db)

	_, err := svc.RecordEvent(context.Background(), "cam1", floorID, "track1",
		VehicleType("boat"), DirectionEntry, 0.9, time.Now().UTC(), DefaultIdempotencyWindow)
	if err == nil {
		t.Fatal("expected an error for invalid vehicle_type")
	}
}

func TestList_FiltersByFloorAndDirection(t *testing.T) {
	db := setupTestDB(t)
	floorA := insertFloor(t, db, "A", 20, 0)
	floorB := insertFloor(t, db, "B", 20, 0)
	svc := New(db)
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := svc.RecordEvent(ctx, "cam1", floorA, "t1", VehicleCar, DirectionEntry, 0.9, now, DefaultIdempotencyWindow); err != nil {
		t.Fatalf("record event: %v", err)
	}
	if _, err := svc.RecordEvent(ctx, "cam1", floorB, "t2", VehicleTruck, DirectionEntry, 0.9, now.Add(time.Minute), DefaultIdempotencyWindow); err != nil {
		t.Fatalf("record event: %v", err)
	}

	events, total, filtered, err := svc.List(ctx, ListFilter{Hours: 24, FloorID: &floorA})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if total != 2 {
		t.Errorf("expected total=2, got %d", total)
	}
	if filtered != 1 || len(events) != 1 {
		t.Errorf("expected 1 filtered event for floor A, got filtered=%d len=%d", filtered, len(events))
	}
	if events[0].FloorID != floorA {
		t.Errorf("expected event for floor A, got floor %d", events[0].FloorID)
	}
}
