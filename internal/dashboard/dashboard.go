package dashboard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/stwalsh4118/inspections/api/internal/logger"
	"github.com/stwalsh4118/inspections/api/internal/models"
)

// Dashboard-level errors
var (
	ErrAccountRequired    = errors.New("account id is required")
	ErrInvalidFilter      = errors.New("invalid filter value")
	ErrInspectionRequired = errors.New("inspection id is required")
)

// Toast texts for the refresh path.
const (
	refreshSuccessTitle   = "Success"
	refreshSuccessMessage = "Inspection data refreshed"
	refreshErrorTitle     = "Error refreshing data"
)

// Guided flow statuses reported by the flow runtime.
const (
	FlowStatusStarted  = "STARTED"
	FlowStatusPaused   = "PAUSED"
	FlowStatusFinished = "FINISHED"
	FlowStatusError    = "ERROR"
)

const zeroAverage = "0.00"

// FlowVariable is one input passed to the guided workflow.
type FlowVariable struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value string `json:"value"`
}

// FlowState describes the embedded guided workflow.
type FlowState struct {
	Inputs []FlowVariable `json:"inputs"`
	Open   bool           `json:"open"`
}

// Options wires a Dashboard to its collaborators.
type Options struct {
	Accounts    AccountSource
	Inspections InspectionSource
	Feed        ChangeFeed
	Navigator   Navigator
	Notifier    Notifier
	Logger      *logger.Logger

	ID        string
	AccountID string
	Channel   string
	ReplayID  int64
}

// Dashboard is the view-model of the property inspection dashboard for one
// account. It is safe for concurrent use.
type Dashboard struct {
	id        string
	log       *logger.Logger
	navigator Navigator
	notifier  Notifier

	account     *Query[*models.Account]
	inspections *Query[[]models.Inspection]
	rating      *Query[*float64]
	listener    *changeListener

	mu sync.RWMutex
	// eventCtx outlives the request that mounted the dashboard; change
	// events refresh with it.
	eventCtx       context.Context
	loading        int
	accountID      string
	accountRecord  *models.Account
	all            []InspectionRow
	filtered       []InspectionRow
	averageRating  string
	statusFilter   string
	typeFilter     string
	accountErr     error
	inspectionsErr error
	ratingErr      error
	flowOpen       bool
	changeHooks    []func()
}

// New creates an unmounted dashboard. Call Mount to subscribe and load.
func New(opts Options) *Dashboard {
	log := opts.Logger
	if log == nil {
		log = logger.NewWithWriter("test", io.Discard)
	}
	channel := opts.Channel
	if channel == "" {
		channel = models.InspectionChannel
	}

	d := &Dashboard{
		id:            opts.ID,
		log:           log.With(map[string]interface{}{"dashboard_id": opts.ID}),
		navigator:     opts.Navigator,
		notifier:      opts.Notifier,
		accountID:     opts.AccountID,
		all:           []InspectionRow{},
		filtered:      []InspectionRow{},
		averageRating: zeroAverage,
		statusFilter:  models.FilterAll,
		typeFilter:    models.FilterAll,
		eventCtx:      context.Background(),
	}

	d.account = NewQuery(func(ctx context.Context, id string) (*models.Account, error) {
		account, err := opts.Accounts.FindAccount(ctx, id)
		if err != nil {
			return nil, err
		}
		if account == nil {
			return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
		}
		return account, nil
	})
	d.inspections = NewQuery(opts.Inspections.ListInspections)
	d.rating = NewQuery(opts.Inspections.AverageRating)

	d.account.Listen(d.applyAccount)
	d.inspections.Listen(d.applyInspections)
	d.rating.Listen(d.applyRating)

	d.listener = newChangeListener(opts.Feed, channel, opts.ReplayID, func(event models.ChangeEvent) {
		d.HandleChangeEvent(event)
	}, d.log)
	return d
}

// ID returns the dashboard identifier.
func (d *Dashboard) ID() string {
	return d.id
}

// AccountID returns the account the dashboard is bound to.
func (d *Dashboard) AccountID() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.accountID
}

// OnChange registers fn to run after every state change.
func (d *Dashboard) OnChange(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.changeHooks = append(d.changeHooks, fn)
}

// Mount subscribes to the change feed and loads data for the bound account.
// A subscribe failure is logged and returned, but data is still loaded.
func (d *Dashboard) Mount(ctx context.Context) error {
	accountID := d.AccountID()
	if accountID == "" {
		return ErrAccountRequired
	}
	d.mu.Lock()
	d.eventCtx = context.WithoutCancel(ctx)
	d.mu.Unlock()

	subErr := d.listener.Start(ctx)
	d.load(ctx, accountID)
	return subErr
}

// Unmount releases the change-feed subscription.
func (d *Dashboard) Unmount(ctx context.Context) error {
	return d.listener.Stop(ctx)
}

// SubscriptionState reports the change-feed subscription state.
func (d *Dashboard) SubscriptionState() SubscriptionState {
	return d.listener.State()
}

// SetAccount re-binds the dashboard to another account, re-running every
// query whose key changed.
func (d *Dashboard) SetAccount(ctx context.Context, accountID string) error {
	if accountID == "" {
		return ErrAccountRequired
	}
	d.mu.Lock()
	if d.accountID != accountID {
		// A null average for the new account must not show the old one.
		d.averageRating = zeroAverage
	}
	d.accountID = accountID
	d.mu.Unlock()

	d.log.Info("Account changed", map[string]interface{}{"account_id": accountID})
	d.load(ctx, accountID)
	return nil
}

// load keys every query concurrently. Each query applies its own result as
// soon as it settles; load only returns once all have.
func (d *Dashboard) load(ctx context.Context, accountID string) {
	d.mu.Lock()
	d.loading++
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.loading--
		d.mu.Unlock()
	}()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); d.account.SetKey(ctx, accountID) }()
	go func() { defer wg.Done(); d.inspections.SetKey(ctx, accountID) }()
	go func() { defer wg.Done(); d.rating.SetKey(ctx, accountID) }()
	wg.Wait()
}

func (d *Dashboard) applyAccount(r Result[*models.Account]) {
	d.mu.Lock()
	if r.Err != nil {
		d.accountErr = r.Err
		d.accountRecord = nil
		d.log.Error("Failed to load account", r.Err, nil)
	} else {
		d.accountErr = nil
		d.accountRecord = r.Value
	}
	d.mu.Unlock()
	d.changed()
}

func (d *Dashboard) applyInspections(r Result[[]models.Inspection]) {
	d.mu.Lock()
	if r.Err != nil {
		d.inspectionsErr = r.Err
		d.all = []InspectionRow{}
		d.filtered = []InspectionRow{}
		d.log.Error("Failed to load inspections", r.Err, nil)
	} else {
		d.inspectionsErr = nil
		d.all = Decorate(r.Value)
		d.filtered = Filter(d.all, d.statusFilter, d.typeFilter)
	}
	d.mu.Unlock()
	d.changed()
}

func (d *Dashboard) applyRating(r Result[*float64]) {
	d.mu.Lock()
	switch {
	case r.Err != nil:
		d.ratingErr = r.Err
		d.averageRating = zeroAverage
		d.log.Error("Failed to load average rating", r.Err, nil)
	case r.Value != nil:
		d.ratingErr = nil
		d.averageRating = FormatAverage(*r.Value)
	default:
		// No rated inspections: keep the last displayed average.
	}
	d.mu.Unlock()
	d.changed()
}

// SetFilters replaces both selectors and re-filters.
func (d *Dashboard) SetFilters(status, inspectionType string) error {
	if !models.IsValidStatusFilter(status) {
		return fmt.Errorf("%w: status %q", ErrInvalidFilter, status)
	}
	if !models.IsValidTypeFilter(inspectionType) {
		return fmt.Errorf("%w: type %q", ErrInvalidFilter, inspectionType)
	}

	d.mu.Lock()
	d.statusFilter = status
	d.typeFilter = inspectionType
	d.filtered = Filter(d.all, status, inspectionType)
	d.mu.Unlock()
	d.changed()
	return nil
}

// SetStatusFilter changes the status selector only.
func (d *Dashboard) SetStatusFilter(status string) error {
	d.mu.RLock()
	inspectionType := d.typeFilter
	d.mu.RUnlock()
	return d.SetFilters(status, inspectionType)
}

// SetTypeFilter changes the type selector only.
func (d *Dashboard) SetTypeFilter(inspectionType string) error {
	d.mu.RLock()
	status := d.statusFilter
	d.mu.RUnlock()
	return d.SetFilters(status, inspectionType)
}

// Refresh re-runs the inspection and rating queries concurrently and
// reports the joint outcome as exactly one toast. Displayed data is kept
// when either query fails.
func (d *Dashboard) Refresh(ctx context.Context) error {
	var g errgroup.Group
	g.Go(func() error { return d.inspections.Refresh(ctx) })
	g.Go(func() error { return d.rating.Refresh(ctx) })

	if err := g.Wait(); err != nil {
		d.log.Error("Refresh failed", err, nil)
		d.notify(Toast{Variant: ToastError, Title: refreshErrorTitle, Message: err.Error()})
		return err
	}

	d.log.Debug("Refresh completed", nil)
	d.notify(Toast{Variant: ToastSuccess, Title: refreshSuccessTitle, Message: refreshSuccessMessage})
	return nil
}

// HandleChangeEvent refreshes when the event concerns the bound account and
// ignores it otherwise, or while the first load has not started. It reports
// whether a refresh ran.
func (d *Dashboard) HandleChangeEvent(event models.ChangeEvent) bool {
	d.mu.RLock()
	accountID := d.accountID
	ctx := d.eventCtx
	d.mu.RUnlock()

	if event.Payload.RelatedPropertyID != accountID {
		return false
	}
	if !d.inspections.Keyed() || !d.rating.Keyed() {
		// Mount has subscribed but not started loading; the load fetches
		// current data anyway.
		return false
	}

	d.log.Debug("Change event for bound account", map[string]interface{}{
		"replay_id":   event.ReplayID,
		"change_type": event.Payload.Header.ChangeType,
		"record_ids":  event.Payload.Header.RecordIDs,
	})
	// The error already reached the user as a toast.
	_ = d.Refresh(ctx)
	return true
}

// ViewInspection navigates to the record page of an inspection.
func (d *Dashboard) ViewInspection(inspectionID string) error {
	if inspectionID == "" {
		return ErrInspectionRequired
	}
	if d.navigator != nil {
		d.navigator.Navigate(NavigationRequest{
			Type:       PageTypeRecord,
			RecordID:   inspectionID,
			ActionName: "view",
		})
	}
	return nil
}

// ScheduleInspection opens the guided workflow for the bound account.
func (d *Dashboard) ScheduleInspection() FlowState {
	d.mu.Lock()
	d.flowOpen = true
	state := d.flowStateLocked()
	d.mu.Unlock()
	d.changed()
	return state
}

// CloseFlow closes the guided workflow.
func (d *Dashboard) CloseFlow() {
	d.mu.Lock()
	d.flowOpen = false
	d.mu.Unlock()
	d.changed()
}

// HandleFlowStatus closes the workflow once it reports FINISHED. It
// reports whether the flow was closed.
func (d *Dashboard) HandleFlowStatus(status string) bool {
	if status != FlowStatusFinished {
		return false
	}
	d.CloseFlow()
	return true
}

// FlowInputVariables returns the inputs passed to the guided workflow.
func (d *Dashboard) FlowInputVariables() []FlowVariable {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.flowInputsLocked()
}

func (d *Dashboard) flowInputsLocked() []FlowVariable {
	return []FlowVariable{{Name: "recordId", Type: "String", Value: d.accountID}}
}

func (d *Dashboard) flowStateLocked() FlowState {
	return FlowState{Open: d.flowOpen, Inputs: d.flowInputsLocked()}
}

func (d *Dashboard) notify(toast Toast) {
	if d.notifier != nil {
		d.notifier.Notify(toast)
	}
}

func (d *Dashboard) changed() {
	d.mu.RLock()
	hooks := make([]func(), len(d.changeHooks))
	copy(hooks, d.changeHooks)
	d.mu.RUnlock()

	for _, fn := range hooks {
		fn()
	}
}
