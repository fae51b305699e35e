// Package floors manages parking floor capacity and occupancy.
package floors

import "time"

// Floor is a named parking level with finite vehicle capacity.
type Floor struct {
	ID              int64     `json:"id"`
	Name            string    `json:"name"`
	Description     string    `json:"description,omitempty"`
	TotalSlots      int       `json:"total_slots"`
	CurrentVehicles int       `json:"current_vehicles"`
	IsActive        bool      `json:"is_active"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// AvailableSlots is the derived remaining capacity, never negative.
func (f Floor) AvailableSlots() int {
	available := f.TotalSlots - f.CurrentVehicles
	if available < 0 {
		return 0
	}
	return available
}

// OccupancyPercentage is the derived fill ratio as a percentage. Occupancy
// is always derived, never stored.
func (f Floor) OccupancyPercentage() float64 {
	if f.TotalSlots == 0 {
		return 0
	}
	return (float64(f.CurrentVehicles) / float64(f.TotalSlots)) * 100
}
