package dashboard

import "github.com/stwalsh4118/inspections/api/internal/models"

// Filter returns the rows whose status and type match the selectors.
// models.FilterAll disables a selector. Source order is preserved and the
// result is never nil.
func Filter(rows []InspectionRow, status, inspectionType string) []InspectionRow {
	filtered := make([]InspectionRow, 0, len(rows))
	for _, row := range rows {
		statusMatch := status == models.FilterAll || row.Status == status
		typeMatch := inspectionType == models.FilterAll || row.Type == inspectionType
		if statusMatch && typeMatch {
			filtered = append(filtered, row)
		}
	}
	return filtered
}
