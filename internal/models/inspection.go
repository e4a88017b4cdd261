package models

import (
	"time"
)

// FilterAll is the selector value that disables a categorical filter.
const FilterAll = "All"

// Inspection status values.
const (
	StatusScheduled  = "Scheduled"
	StatusInProgress = "In Progress"
	StatusCompleted  = "Completed"
	StatusFailed     = "Failed"
)

// Inspection type values.
const (
	TypeInitial     = "Initial"
	TypeAnnual      = "Annual"
	TypeMoveOut     = "Move-Out"
	TypeMaintenance = "Maintenance"
)

// Inspection represents a single property inspection record as delivered by
// the record data service. Nullable columns use pointers to distinguish
// between zero values and NULL.
type Inspection struct {
	InspectionDate    *time.Time `json:"inspectionDate,omitempty"`
	OverallRating     *float64   `json:"overallRating,omitempty"`
	InspectorName     *string    `json:"inspectorName,omitempty"`
	Notes             *string    `json:"notes,omitempty"`
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	Status            string     `json:"status"`
	Type              string     `json:"type"`
	RelatedPropertyID string     `json:"relatedPropertyId"`
}

// Account is the property account that owns inspections.
type Account struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Option is a labelled selector value.
type Option struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// StatusOptions returns the status selector choices, "All" first.
func StatusOptions() []Option {
	return []Option{
		{Label: "All Statuses", Value: FilterAll},
		{Label: StatusScheduled, Value: StatusScheduled},
		{Label: StatusInProgress, Value: StatusInProgress},
		{Label: StatusCompleted, Value: StatusCompleted},
		{Label: StatusFailed, Value: StatusFailed},
	}
}

// TypeOptions returns the type selector choices, "All" first.
func TypeOptions() []Option {
	return []Option{
		{Label: "All Types", Value: FilterAll},
		{Label: TypeInitial, Value: TypeInitial},
		{Label: TypeAnnual, Value: TypeAnnual},
		{Label: TypeMoveOut, Value: TypeMoveOut},
		{Label: TypeMaintenance, Value: TypeMaintenance},
	}
}

// IsValidStatusFilter reports whether s is "All" or a known status.
func IsValidStatusFilter(s string) bool {
	return containsValue(StatusOptions(), s)
}

// IsValidTypeFilter reports whether t is "All" or a known inspection type.
func IsValidTypeFilter(t string) bool {
	return containsValue(TypeOptions(), t)
}

func containsValue(options []Option, v string) bool {
	for _, o := range options {
		if o.Value == v {
			return true
		}
	}
	return false
}
