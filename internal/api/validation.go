package api

import (
	"fmt"
	"strings"

	"github.com/smartpark/sentinel/internal/events"
)

// ValidationError represents a validation error with field information.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors holds multiple validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// EventCreateRequest is the JSON body accepted by POST /event.
type EventCreateRequest struct {
	CameraID   string  `json:"camera_id"`
	FloorID    int64   `json:"floor_id"`
	TrackID    string  `json:"track_id"`
	VehicleType string `json:"vehicle_type"`
	Direction  string  `json:"direction"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// EventValidator validates EventCreateRequest bodies.
type EventValidator struct {
	errors ValidationErrors
}

// NewEventValidator creates a new event validator.
func NewEventValidator() *EventValidator {
	return &EventValidator{errors: make(ValidationErrors, 0)}
}

// Validate checks req against the contract: camera_id 1-50 chars,
// floor_id>0, track_id 1-100 chars, vehicle_type/direction enums,
// confidence in [0,1] (defaulting to 0.95 when absent). It returns the
// normalized values alongside any validation errors.
func (v *EventValidator) Validate(req EventCreateRequest) (cameraID string, floorID int64, trackID string, vehicleType events.VehicleType, direction events.Direction, confidence float64, errs ValidationErrors) {
	v.errors = make(ValidationErrors, 0)

	v.validateCameraID(req.CameraID)
	v.validateFloorID(req.FloorID)
	v.validateTrackID(req.TrackID)
	vt := v.validateVehicleType(req.VehicleType)
	dir := v.validateDirection(req.Direction)
	conf := v.validateConfidence(req.Confidence)

	return req.CameraID, req.FloorID, req.TrackID, vt, dir, conf, v.errors
}

func (v *EventValidator) validateCameraID(id string) {
	if len(id) < 1 || len(id) > 50 {
		v.errors = append(v.errors, ValidationError{
			Field:   "camera_id",
			Message: "camera_id must be between 1 and 50 characters",
		})
	}
}

func (v *EventValidator) validateFloorID(id int64) {
	if id <= 0 {
		v.errors = append(v.errors, ValidationError{
			Field:   "floor_id",
			Message: "floor_id must be greater than 0",
		})
	}
}

func (v *EventValidator) validateTrackID(id string) {
	if len(id) < 1 || len(id) > 100 {
		v.errors = append(v.errors, ValidationError{
			Field:   "track_id",
			Message: "track_id must be between 1 and 100 characters",
		})
	}
}

func (v *EventValidator) validateVehicleType(raw string) events.VehicleType {
	vt := events.VehicleType(raw)
	switch vt {
	case events.VehicleCar, events.VehicleMotorcycle, events.VehicleTruck, events.VehicleBus:
		return vt
	default:
		v.errors = append(v.errors, ValidationError{
			Field:   "vehicle_type",
			Message: "vehicle_type must be one of car, motorcycle, truck, bus",
		})
		return vt
	}
}

func (v *EventValidator) validateDirection(raw string) events.Direction {
	d := events.Direction(raw)
	switch d {
	case events.DirectionEntry, events.DirectionExit:
		return d
	default:
		v.errors = append(v.errors, ValidationError{
			Field:   "direction",
			Message: "direction must be one of entry, exit",
		})
		return d
	}
}

const defaultConfidence = 0.95

func (v *EventValidator) validateConfidence(raw *float64) float64 {
	if raw == nil {
		return defaultConfidence
	}
	if *raw < 0 || *raw > 1 {
		v.errors = append(v.errors, ValidationError{
			Field:   "confidence",
			Message: "confidence must be between 0 and 1",
		})
	}
	return *raw
}

// EventsQuery holds the parsed and validated query parameters for GET /events.
type EventsQuery struct {
	FloorID     *int64
	VehicleType *events.VehicleType
	Direction   *events.Direction
	Hours       int
	Limit       int
	Offset      int
}

// ParseEventsQuery validates and defaults the GET /events query parameters.
func ParseEventsQuery(floorID *int64, vehicleType, direction string, hours, limit, offset int, hoursSet, limitSet bool) (EventsQuery, ValidationErrors) {
	var errs ValidationErrors

	if !hoursSet {
		hours = 24
	}
	if hours < 1 || hours > 8760 {
		errs = append(errs, ValidationError{Field: "hours", Message: "hours must be between 1 and 8760"})
	}

	if !limitSet {
		limit = 100
	}
	if limit < 1 || limit > 1000 {
		errs = append(errs, ValidationError{Field: "limit", Message: "limit must be between 1 and 1000"})
	}

	if offset < 0 {
		errs = append(errs, ValidationError{Field: "offset", Message: "offset must be greater than or equal to 0"})
	}

	q := EventsQuery{FloorID: floorID, Hours: hours, Limit: limit, Offset: offset}

	if vehicleType != "" {
		vt := events.VehicleType(vehicleType)
		switch vt {
		case events.VehicleCar, events.VehicleMotorcycle, events.VehicleTruck, events.VehicleBus:
			q.VehicleType = &vt
		default:
			errs = append(errs, ValidationError{Field: "vehicle_type", Message: "vehicle_type must be one of car, motorcycle, truck, bus"})
		}
	}

	if direction != "" {
		d := events.Direction(direction)
		switch d {
		case events.DirectionEntry, events.DirectionExit:
			q.Direction = &d
		default:
			errs = append(errs, ValidationError{Field: "direction", Message: "direction must be one of entry, exit"})
		}
	}

	return q, errs
}
