package dashboard

import (
	"context"
	"errors"

	"github.com/stwalsh4118/inspections/api/internal/models"
)

// ErrAccountNotFound is reported by the account query when the record data
// service has no account for the id.
var ErrAccountNotFound = errors.New("account not found")

// AccountSource fetches the account record a dashboard is bound to.
// A nil account with a nil error means the account does not exist.
type AccountSource interface {
	FindAccount(ctx context.Context, id string) (*models.Account, error)
}

// InspectionSource runs the inspection list and average rating queries.
type InspectionSource interface {
	ListInspections(ctx context.Context, accountID string) ([]models.Inspection, error)
	AverageRating(ctx context.Context, accountID string) (*float64, error)
}

// Subscription is an opaque handle returned by ChangeFeed.Subscribe.
type Subscription interface {
	Channel() string
}

// ChangeFeed delivers change-data-capture events for a named channel.
type ChangeFeed interface {
	// Subscribe registers handler for events on channel starting at
	// replayID. The handler may be invoked from any goroutine.
	Subscribe(ctx context.Context, channel string, replayID int64, handler func(models.ChangeEvent)) (Subscription, error)

	// Unsubscribe releases a handle obtained from Subscribe.
	Unsubscribe(ctx context.Context, sub Subscription) error

	// OnError installs the transport-level error callback. Later calls
	// replace earlier ones.
	OnError(handler func(error))
}

// Page reference types understood by Navigator implementations.
const PageTypeRecord = "standard__recordPage"

// NavigationRequest asks the host to transition to a page.
type NavigationRequest struct {
	Type       string `json:"type"`
	RecordID   string `json:"recordId"`
	ActionName string `json:"actionName"`
}

// Navigator performs fire-and-forget view transitions.
type Navigator interface {
	Navigate(req NavigationRequest)
}

// Toast variants.
const (
	ToastSuccess = "success"
	ToastError   = "error"
)

// Toast is a transient user-facing notification.
type Toast struct {
	Variant string `json:"variant"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

// Notifier presents toasts to the user.
type Notifier interface {
	Notify(toast Toast)
}
