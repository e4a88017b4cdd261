package dashboard

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/stwalsh4118/inspections/api/internal/models"
)

const (
	filledStar = "★"
	emptyStar  = "☆"
	maxStars   = 5

	// shortDateLayout renders dates as "Mar 15, 2024".
	shortDateLayout = "Jan 2, 2006"
)

// InspectionRow is an inspection decorated with its display fields.
type InspectionRow struct {
	models.Inspection
	StatusClass   string `json:"statusClass"`
	FormattedDate string `json:"formattedDate"`
	RatingStars   string `json:"ratingStars"`
}

var statusClasses = map[string]string{
	models.StatusCompleted:  "status-completed",
	models.StatusInProgress: "status-in-progress",
	models.StatusFailed:     "status-failed",
	models.StatusScheduled:  "status-scheduled",
}

// StatusClass maps an inspection status to its CSS class. Unknown statuses
// map to the empty class.
func StatusClass(status string) string {
	return statusClasses[status]
}

// FormatDate renders t in the short en-US form. A nil or zero time renders
// as the empty string.
func FormatDate(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.Format(shortDateLayout)
}

// FormatDateString parses a date ("2024-03-15") or timestamp (RFC 3339) and
// renders it like FormatDate. Empty or unparseable input renders as "".
func FormatDateString(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	for _, layout := range []string{time.DateOnly, time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return FormatDate(&t)
		}
	}
	return ""
}

// RatingStars renders a 0-5 rating as five glyphs: one filled star per whole
// point followed by empty stars. Fractions truncate. A nil, zero or NaN
// rating renders as five empty stars; out-of-range values are clamped.
func RatingStars(rating *float64) string {
	if rating == nil || *rating == 0 || math.IsNaN(*rating) {
		return strings.Repeat(emptyStar, maxStars)
	}

	full := int(math.Floor(*rating))
	if full < 0 {
		full = 0
	}
	if full > maxStars {
		full = maxStars
	}
	return strings.Repeat(filledStar, full) + strings.Repeat(emptyStar, maxStars-full)
}

// FormatAverage renders an average rating with two decimals.
func FormatAverage(avg float64) string {
	return strconv.FormatFloat(avg, 'f', 2, 64)
}

// averageStars renders the stars for a formatted average. The stars follow
// the displayed (rounded) value so "3.00" never shows two stars.
func averageStars(display string) string {
	v, err := strconv.ParseFloat(display, 64)
	if err != nil {
		return RatingStars(nil)
	}
	return RatingStars(&v)
}

// Decorate attaches the display fields to every inspection. Order is kept.
func Decorate(inspections []models.Inspection) []InspectionRow {
	rows := make([]InspectionRow, 0, len(inspections))
	for _, inspection := range inspections {
		rows = append(rows, InspectionRow{
			Inspection:    inspection,
			StatusClass:   StatusClass(inspection.Status),
			FormattedDate: FormatDate(inspection.InspectionDate),
			RatingStars:   RatingStars(inspection.OverallRating),
		})
	}
	return rows
}
