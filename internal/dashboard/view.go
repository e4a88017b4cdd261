package dashboard

import "github.com/stwalsh4118/inspections/api/internal/models"

// Empty-state messages.
const (
	NoMatchesMessage     = "No inspections match the selected filters."
	NoInspectionsMessage = `No inspections found for this property. Click "Schedule New Inspection" to get started.`
)

// View is a rendered snapshot of a dashboard.
type View struct {
	Flow                 FlowState       `json:"flow"`
	ID                   string          `json:"id"`
	AccountID            string          `json:"accountId"`
	PropertyName         string          `json:"propertyName"`
	AverageRating        string          `json:"averageRating"`
	AverageRatingStars   string          `json:"averageRatingStars"`
	SelectedStatus       string          `json:"selectedStatus"`
	SelectedType         string          `json:"selectedType"`
	NoInspectionsMessage string          `json:"noInspectionsMessage"`
	Error                string          `json:"error,omitempty"`
	Subscription         string          `json:"subscription"`
	Inspections          []InspectionRow `json:"inspections"`
	StatusOptions        []models.Option `json:"statusOptions"`
	TypeOptions          []models.Option `json:"typeOptions"`
	TotalInspections     int             `json:"totalInspections"`
	HasInspections       bool            `json:"hasInspections"`
	Loading              bool            `json:"loading"`
}

// View renders the current state.
func (d *Dashboard) View() View {
	subscription := d.listener.State().String()

	d.mu.RLock()
	defer d.mu.RUnlock()

	rows := make([]InspectionRow, len(d.filtered))
	copy(rows, d.filtered)

	view := View{
		ID:                   d.id,
		AccountID:            d.accountID,
		AverageRating:        d.averageRating,
		AverageRatingStars:   averageStars(d.averageRating),
		SelectedStatus:       d.statusFilter,
		SelectedType:         d.typeFilter,
		NoInspectionsMessage: d.noInspectionsMessageLocked(),
		Subscription:         subscription,
		Inspections:          rows,
		StatusOptions:        models.StatusOptions(),
		TypeOptions:          models.TypeOptions(),
		TotalInspections:     len(d.all),
		HasInspections:       len(rows) > 0,
		Loading:              d.loading > 0,
		Flow:                 d.flowStateLocked(),
	}
	if d.accountRecord != nil {
		view.PropertyName = d.accountRecord.Name
	}
	if err := d.errLocked(); err != nil {
		view.Error = err.Error()
	}
	return view
}

// Err returns the first stored data-fetch error, if any.
func (d *Dashboard) Err() error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.errLocked()
}

func (d *Dashboard) errLocked() error {
	switch {
	case d.accountErr != nil:
		return d.accountErr
	case d.inspectionsErr != nil:
		return d.inspectionsErr
	default:
		return d.ratingErr
	}
}

func (d *Dashboard) noInspectionsMessageLocked() string {
	if d.statusFilter != models.FilterAll || d.typeFilter != models.FilterAll {
		return NoMatchesMessage
	}
	return NoInspectionsMessage
}
