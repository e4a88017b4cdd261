package dashboard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stwalsh4118/inspections/api/internal/models"
)

// MockAccountSource is a mock implementation of AccountSource for testing
type MockAccountSource struct {
	mock.Mock
}

func (m *MockAccountSource) FindAccount(ctx context.Context, id string) (*models.Account, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Account), args.Error(1)
}

// MockInspectionSource is a mock implementation of InspectionSource for testing
type MockInspectionSource struct {
	mock.Mock
}

func (m *MockInspectionSource) ListInspections(ctx context.Context, accountID string) ([]models.Inspection, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Inspection), args.Error(1)
}

func (m *MockInspectionSource) AverageRating(ctx context.Context, accountID string) (*float64, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*float64), args.Error(1)
}

type fakeHandle struct {
	id      int
	channel string
}

func (h *fakeHandle) Channel() string { return h.channel }

// fakeFeed is an in-test change feed that records every call.
type fakeFeed struct {
	mu            sync.Mutex
	nextID        int
	handlers      map[int]func(models.ChangeEvent)
	subscribes    int
	unsubscribes  int
	lastChannel   string
	lastReplayID  int64
	subscribeErr  error
	subscribeGate chan struct{}
	errHandler    func(error)
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{handlers: make(map[int]func(models.ChangeEvent))}
}

func (f *fakeFeed) Subscribe(ctx context.Context, channel string, replayID int64, handler func(models.ChangeEvent)) (Subscription, error) {
	f.mu.Lock()
	gate := f.subscribeGate
	f.subscribes++
	f.lastChannel = channel
	f.lastReplayID = replayID
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}
	f.nextID++
	f.handlers[f.nextID] = handler
	return &fakeHandle{id: f.nextID, channel: channel}, nil
}

func (f *fakeFeed) Unsubscribe(ctx context.Context, sub Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := sub.(*fakeHandle)
	if !ok {
		return errors.New("foreign handle")
	}
	f.unsubscribes++
	delete(f.handlers, h.id)
	return nil
}

func (f *fakeFeed) OnError(handler func(error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errHandler = handler
}

// publish delivers event to every live handler synchronously.
func (f *fakeFeed) publish(event models.ChangeEvent) {
	f.mu.Lock()
	handlers := make([]func(models.ChangeEvent), 0, len(f.handlers))
	for _, h := range f.handlers {
		handlers = append(handlers, h)
	}
	f.mu.Unlock()

	for _, h := range handlers {
		h(event)
	}
}

func (f *fakeFeed) counts() (subscribes, unsubscribes, live int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribes, f.unsubscribes, len(f.handlers)
}

type recordingNotifier struct {
	mu     sync.Mutex
	toasts []Toast
}

func (n *recordingNotifier) Notify(toast Toast) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.toasts = append(n.toasts, toast)
}

func (n *recordingNotifier) all() []Toast {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Toast, len(n.toasts))
	copy(out, n.toasts)
	return out
}

type recordingNavigator struct {
	mu       sync.Mutex
	requests []NavigationRequest
}

func (n *recordingNavigator) Navigate(req NavigationRequest) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.requests = append(n.requests, req)
}

func float(v float64) *float64 { return &v }

func date(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

// scenarioInspections returns the two inspections of account A1.
func scenarioInspections() []models.Inspection {
	return []models.Inspection{
		{
			ID:                "I1",
			Name:              "INS-0001",
			Status:            models.StatusCompleted,
			Type:              models.TypeAnnual,
			InspectionDate:    date(2024, time.March, 15),
			OverallRating:     float(4.2),
			RelatedPropertyID: "A1",
		},
		{
			ID:                "I2",
			Name:              "INS-0002",
			Status:            models.StatusScheduled,
			Type:              models.TypeInitial,
			RelatedPropertyID: "A1",
		},
	}
}

type testRig struct {
	dashboard *Dashboard
	accounts  *MockAccountSource
	source    *MockInspectionSource
	feed      *fakeFeed
	notifier  *recordingNotifier
	navigator *recordingNavigator
}

// newTestRig builds a dashboard bound to accountID without mounting it.
func newTestRig(t *testing.T, accountID string) *testRig {
	t.Helper()
	rig := &testRig{
		accounts:  new(MockAccountSource),
		source:    new(MockInspectionSource),
		feed:      newFakeFeed(),
		notifier:  &recordingNotifier{},
		navigator: &recordingNavigator{},
	}
	rig.dashboard = New(Options{
		ID:          "d-test",
		AccountID:   accountID,
		Accounts:    rig.accounts,
		Inspections: rig.source,
		Feed:        rig.feed,
		Notifier:    rig.notifier,
		Navigator:   rig.navigator,
		ReplayID:    models.ReplayLatest,
	})
	return rig
}

// expectScenarioA1 stubs the A1 account with its two inspections and 2.1
// average rating.
func (r *testRig) expectScenarioA1() {
	r.accounts.On("FindAccount", mock.Anything, "A1").Return(&models.Account{ID: "A1", Name: "Maple Court"}, nil)
	r.source.On("ListInspections", mock.Anything, "A1").Return(scenarioInspections(), nil)
	r.source.On("AverageRating", mock.Anything, "A1").Return(float(2.1), nil)
}

func ids(rows []InspectionRow) []string {
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.ID)
	}
	return out
}
