package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/smartpark/sentinel/internal/database"
	"github.com/smartpark/sentinel/internal/events"
	"github.com/smartpark/sentinel/internal/floors"
	"github.com/smartpark/sentinel/internal/monitoring"
)

const appVersion = "1.0.0"

func handleRoot() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		OK(w, map[string]string{
			"service": "smartpark-sentinel",
			"version": appVersion,
		})
	}
}

func handleHealth(db *database.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats := db.Stats()
		OK(w, map[string]interface{}{
			"status": "ok",
			"database": map[string]interface{}{
				"open_connections": stats.OpenConnections,
				"in_use":           stats.InUse,
				"idle":             stats.Idle,
			},
		})
	}
}

func handleHealthLive() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		OK(w, map[string]string{"status": "alive"})
	}
}

func handleHealthReady(db *database.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := db.Health(r.Context()); err != nil {
			ServiceUnavailable(w, "database is not reachable")
			return
		}
		OK(w, map[string]string{"status": "ready"})
	}
}

// Services are bound once at router construction; handlers close over them
// rather than taking them as parameters so every handler keeps a uniform
// http.HandlerFunc signature. The event validator is created per request.

func handleCreateEvent(svc *events.Service, idempotencyWindow time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req EventCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			BadRequest(w, "request body must be valid JSON")
			return
		}

		v := NewEventValidator()
		cameraID, floorID, trackID, vehicleType, direction, confidence, errs := v.Validate(req)
		if errs.HasErrors() {
			ValidationFailed(w, errs.Error())
			return
		}

		result, err := svc.RecordEvent(r.Context(), cameraID, floorID, trackID, vehicleType, direction, confidence, time.Now().UTC(), idempotencyWindow)
		if err != nil {
			writeEventError(w, err)
			return
		}

		message := "event recorded"
		if result.IsDuplicate {
			message = "Duplicate event ignored"
		}

		OK(w, map[string]interface{}{
			"success":              true,
			"message":              message,
			"event_id":             result.Event.ID,
			"floor_id":             result.Floor.ID,
			"current_vehicles":     result.Floor.CurrentVehicles,
			"available_slots":      result.Floor.AvailableSlots(),
			"occupancy_percentage": result.Floor.OccupancyPercentage(),
			"is_duplicate":         result.IsDuplicate,
		})
	}
}

func writeEventError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, events.ErrFloorNotFound), errors.Is(err, floors.ErrNotFound):
		BadRequest(w, err.Error())
	case errors.Is(err, events.ErrCapacityExceeded), errors.Is(err, events.ErrCapacityUnderflow):
		Conflict(w, err.Error())
	default:
		InternalError(w, "failed to record event")
	}
}

func handleListFloors(svc *floors.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := svc.List(r.Context())
		if err != nil {
			InternalError(w, "failed to list floors")
			return
		}
		OK(w, map[string]interface{}{"floors": list, "count": len(list)})
	}
}

func handleGetFloor(svc *floors.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil || id <= 0 {
			BadRequest(w, "id must be a positive integer")
			return
		}

		floor, err := svc.Get(r.Context(), id)
		if errors.Is(err, floors.ErrNotFound) {
			NotFound(w, "floor not found")
			return
		}
		if err != nil {
			InternalError(w, "failed to get floor")
			return
		}
		OK(w, floor)
	}
}

func handleRecommend(svc *floors.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := svc.Recommend(r.Context())
		if errors.Is(err, floors.ErrNotFound) {
			NotFound(w, "no active floors available")
			return
		}
		if err != nil {
			InternalError(w, "failed to compute recommendation")
			return
		}
		OK(w, map[string]interface{}{
			"floor":        rec.Floor,
			"alternatives": rec.Alternatives,
			"reason":       rec.Reason,
		})
	}
}

func handleListEvents(svc *events.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		var floorID *int64
		if raw := q.Get("floor_id"); raw != "" {
			v, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				BadRequest(w, "floor_id must be an integer")
				return
			}
			floorID = &v
		}

		hours, hoursSet := parseOptionalInt(q, "hours")
		limit, limitSet := parseOptionalInt(q, "limit")
		offset, _ := parseOptionalInt(q, "offset")

		parsed, errs := ParseEventsQuery(floorID, q.Get("vehicle_type"), q.Get("direction"), hours, limit, offset, hoursSet, limitSet)
		if errs.HasErrors() {
			ValidationFailed(w, errs.Error())
			return
		}

		filter := events.ListFilter{
			Hours:       parsed.Hours,
			FloorID:     parsed.FloorID,
			VehicleType: parsed.VehicleType,
			Direction:   parsed.Direction,
			Limit:       parsed.Limit,
			Offset:      parsed.Offset,
		}

		list, total, filtered, err := svc.List(r.Context(), filter)
		if err != nil {
			InternalError(w, "failed to list events")
			return
		}

		OK(w, map[string]interface{}{
			"events":         list,
			"total_count":    total,
			"filtered_count": filtered,
			"limit":          parsed.Limit,
			"offset":         parsed.Offset,
		})
	}
}

func handleMonitoringMetrics(mon *monitoring.State) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		OK(w, mon.Snapshot())
	}
}

func handleMonitoringAlerts(mon *monitoring.State, floorsSvc *floors.Service, lowAvailabilityThreshold int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		active, err := floorsSvc.ListActive(r.Context())
		if err != nil {
			InternalError(w, "failed to evaluate floor availability")
			return
		}

		var low []monitoring.LowAvailabilityFloor
		for _, f := range active {
			if f.AvailableSlots() <= lowAvailabilityThreshold {
				low = append(low, monitoring.LowAvailabilityFloor{Name: f.Name, AvailableSlots: f.AvailableSlots()})
			}
		}
		sort.Slice(low, func(i, j int) bool { return low[i].AvailableSlots < low[j].AvailableSlots })

		alerts := mon.EvaluateAlerts(low)
		OK(w, map[string]interface{}{"alerts": alerts, "count": len(alerts)})
	}
}

func handleLatestFrame(frameDir string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := os.ReadDir(frameDir)
		if err != nil {
			NotFound(w, "no frames directory configured")
			return
		}

		var newest string
		var newestMod time.Time
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			name := strings.ToLower(e.Name())
			if !strings.HasSuffix(name, ".jpg") && !strings.HasSuffix(name, ".jpeg") && !strings.HasSuffix(name, ".png") {
				continue
			}
			info, err := e.Info()
			if err != nil {
				continue
			}
			if newest == "" || info.ModTime().After(newestMod) {
				newest = e.Name()
				newestMod = info.ModTime()
			}
		}

		if newest == "" {
			NotFound(w, "no frames available")
			return
		}
		http.ServeFile(w, r, filepath.Join(frameDir, newest))
	}
}

func parseOptionalInt(q url.Values, key string) (int, bool) {
	raw := q.Get(key)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

func decodeJSON(r *http.Request, dest interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(dest)
}
