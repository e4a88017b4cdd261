package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/stwalsh4118/inspections/api/internal/dashboard"
	"github.com/stwalsh4118/inspections/api/internal/events"
	"github.com/stwalsh4118/inspections/api/internal/logger"
	"github.com/stwalsh4118/inspections/api/internal/models"
)

// Service-level errors
var (
	ErrDashboardNotFound  = errors.New("dashboard not found")
	ErrRefreshFailed      = errors.New("refresh failed")
	ErrFlowStatusRequired = errors.New("flow status is required")

	ErrAccountRequired    = dashboard.ErrAccountRequired
	ErrInvalidFilter      = dashboard.ErrInvalidFilter
	ErrInspectionRequired = dashboard.ErrInspectionRequired
)

// DashboardSettings carries the change-feed, backlog and idle settings
// applied to every dashboard. A zero IdleTTL disables idle unmounting.
type DashboardSettings struct {
	Channel  string
	ReplayID int64
	Backlog  int
	IdleTTL  time.Duration
}

// DashboardService manages the mounted dashboards of all browser sessions.
type DashboardService interface {
	// Create mounts a dashboard for accountID and returns its first view.
	// A change-feed subscribe failure is logged; the dashboard still loads.
	// Returns ErrAccountRequired if accountID is empty.
	Create(ctx context.Context, accountID string) (dashboard.View, error)

	// View returns the current view of a dashboard.
	// Returns ErrDashboardNotFound for unknown ids.
	View(ctx context.Context, id string) (dashboard.View, error)

	// SetAccount re-binds a dashboard to another account.
	SetAccount(ctx context.Context, id, accountID string) (dashboard.View, error)

	// SetFilters applies the status and type selectors.
	// Returns ErrInvalidFilter for values outside the option lists.
	SetFilters(ctx context.Context, id, status, inspectionType string) (dashboard.View, error)

	// Refresh re-fetches inspections and the average rating. The outcome is
	// also pushed to the dashboard's clients as a toast. On failure the
	// returned error wraps ErrRefreshFailed and the view keeps its data.
	Refresh(ctx context.Context, id string) (dashboard.View, error)

	// ViewInspection asks the dashboard's clients to open an inspection.
	ViewInspection(ctx context.Context, id, inspectionID string) error

	// OpenFlow opens the guided inspection workflow.
	OpenFlow(ctx context.Context, id string) (dashboard.FlowState, error)

	// CloseFlow closes the guided workflow.
	CloseFlow(ctx context.Context, id string) (dashboard.FlowState, error)

	// FlowStatus feeds a status reported by the workflow runtime back into
	// the dashboard.
	FlowStatus(ctx context.Context, id, status string) (dashboard.FlowState, error)

	// Events returns the UI effects published after seq.
	Events(ctx context.Context, id string, since uint64) ([]events.Event, error)

	// Hub returns the event hub of a dashboard for streaming.
	Hub(id string) (*events.Hub, error)

	// Delete unmounts a dashboard and disconnects its clients.
	Delete(ctx context.Context, id string) error

	// Count returns the number of mounted dashboards.
	Count() int

	// ReapIdle unmounts dashboards with no connected stream that have not
	// been used for longer than the idle TTL, and returns how many it removed.
	ReapIdle(ctx context.Context) int

	// RunReaper calls ReapIdle periodically until ctx is done. It returns at
	// once when the idle TTL is zero.
	RunReaper(ctx context.Context)

	// Shutdown unmounts every dashboard.
	Shutdown(ctx context.Context) error
}

type session struct {
	dashboard *dashboard.Dashboard
	hub       *events.Hub
	lastSeen  atomic.Int64 // unix nanoseconds
}

func (sess *session) touch(now time.Time) {
	sess.lastSeen.Store(now.UnixNano())
}

// dashboardService is the concrete implementation of DashboardService.
type dashboardService struct {
	accounts    dashboard.AccountSource
	inspections dashboard.InspectionSource
	feed        dashboard.ChangeFeed
	settings    DashboardSettings
	log         *logger.Logger
	newID       func() string
	now         func() time.Time

	mu       sync.RWMutex
	sessions map[string]*session
}

// NewDashboardService creates a new instance of DashboardService. It installs
// the change feed's error callback, which logs transport errors.
func NewDashboardService(
	accounts dashboard.AccountSource,
	inspections dashboard.InspectionSource,
	feed dashboard.ChangeFeed,
	settings DashboardSettings,
	log *logger.Logger,
) DashboardService {
	if settings.Channel == "" {
		settings.Channel = models.InspectionChannel
	}
	s := &dashboardService{
		accounts:    accounts,
		inspections: inspections,
		feed:        feed,
		settings:    settings,
		log:         log.Component("dashboards"),
		newID:       uuid.NewString,
		now:         time.Now,
		sessions:    make(map[string]*session),
	}

	feed.OnError(func(err error) {
		s.log.Error("CDC error", err, map[string]interface{}{
			"channel": settings.Channel,
		})
	})
	return s
}

func (s *dashboardService) Create(ctx context.Context, accountID string) (dashboard.View, error) {
	if accountID == "" {
		s.log.Warn("Dashboard requested without account", nil)
		return dashboard.View{}, ErrAccountRequired
	}

	id := s.newID()
	hub := events.NewHub(id, s.settings.Backlog, s.log)
	d := dashboard.New(dashboard.Options{
		Accounts:    s.accounts,
		Inspections: s.inspections,
		Feed:        s.feed,
		Navigator:   hub,
		Notifier:    hub,
		Logger:      s.log.With(map[string]interface{}{"account_id": accountID}),
		ID:          id,
		AccountID:   accountID,
		Channel:     s.settings.Channel,
		ReplayID:    s.settings.ReplayID,
	})
	d.OnChange(hub.Invalidate)

	sess := &session{dashboard: d, hub: hub}
	sess.touch(s.now())
	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()

	s.log.Info("Mounting dashboard", map[string]interface{}{
		"dashboard_id": id,
		"account_id":   accountID,
	})

	if err := d.Mount(ctx); err != nil {
		if errors.Is(err, dashboard.ErrAccountRequired) {
			s.drop(id)
			return dashboard.View{}, err
		}
		// Data is loaded without live updates.
		s.log.Warn("Dashboard mounted without change feed", map[string]interface{}{
			"dashboard_id": id,
			"error":        err.Error(),
		})
	}
	return d.View(), nil
}

func (s *dashboardService) View(_ context.Context, id string) (dashboard.View, error) {
	sess, err := s.get(id)
	if err != nil {
		return dashboard.View{}, err
	}
	return sess.dashboard.View(), nil
}

func (s *dashboardService) SetAccount(ctx context.Context, id, accountID string) (dashboard.View, error) {
	sess, err := s.get(id)
	if err != nil {
		return dashboard.View{}, err
	}
	if err := sess.dashboard.SetAccount(ctx, accountID); err != nil {
		return dashboard.View{}, err
	}
	return sess.dashboard.View(), nil
}

func (s *dashboardService) SetFilters(_ context.Context, id, status, inspectionType string) (dashboard.View, error) {
	sess, err := s.get(id)
	if err != nil {
		return dashboard.View{}, err
	}
	if err := sess.dashboard.SetFilters(status, inspectionType); err != nil {
		s.log.Warn("Invalid filter", map[string]interface{}{
			"dashboard_id": id,
			"status":       status,
			"type":         inspectionType,
		})
		return dashboard.View{}, err
	}
	return sess.dashboard.View(), nil
}

func (s *dashboardService) Refresh(ctx context.Context, id string) (dashboard.View, error) {
	sess, err := s.get(id)
	if err != nil {
		return dashboard.View{}, err
	}
	if err := sess.dashboard.Refresh(ctx); err != nil {
		return sess.dashboard.View(), fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}
	return sess.dashboard.View(), nil
}

func (s *dashboardService) ViewInspection(_ context.Context, id, inspectionID string) error {
	sess, err := s.get(id)
	if err != nil {
		return err
	}
	return sess.dashboard.ViewInspection(inspectionID)
}

func (s *dashboardService) OpenFlow(_ context.Context, id string) (dashboard.FlowState, error) {
	sess, err := s.get(id)
	if err != nil {
		return dashboard.FlowState{}, err
	}
	return sess.dashboard.ScheduleInspection(), nil
}

func (s *dashboardService) CloseFlow(_ context.Context, id string) (dashboard.FlowState, error) {
	sess, err := s.get(id)
	if err != nil {
		return dashboard.FlowState{}, err
	}
	sess.dashboard.CloseFlow()
	return sess.dashboard.View().Flow, nil
}

func (s *dashboardService) FlowStatus(_ context.Context, id, status string) (dashboard.FlowState, error) {
	if status == "" {
		return dashboard.FlowState{}, ErrFlowStatusRequired
	}
	sess, err := s.get(id)
	if err != nil {
		return dashboard.FlowState{}, err
	}
	if sess.dashboard.HandleFlowStatus(status) {
		s.log.Info("Guided flow finished", map[string]interface{}{"dashboard_id": id})
	}
	return sess.dashboard.View().Flow, nil
}

func (s *dashboardService) Events(_ context.Context, id string, since uint64) ([]events.Event, error) {
	sess, err := s.get(id)
	if err != nil {
		return nil, err
	}
	backlog := sess.hub.Since(since)
	if backlog == nil {
		backlog = []events.Event{}
	}
	return backlog, nil
}

func (s *dashboardService) Hub(id string) (*events.Hub, error) {
	sess, err := s.get(id)
	if err != nil {
		return nil, err
	}
	return sess.hub, nil
}

func (s *dashboardService) Delete(ctx context.Context, id string) error {
	sess := s.drop(id)
	if sess == nil {
		return ErrDashboardNotFound
	}
	return s.unmount(ctx, id, sess)
}

func (s *dashboardService) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *dashboardService) ReapIdle(ctx context.Context) int {
	ttl := s.settings.IdleTTL
	if ttl <= 0 {
		return 0
	}
	now := s.now()
	cutoff := now.Add(-ttl).UnixNano()

	idle := make(map[string]*session)
	s.mu.Lock()
	for id, sess := range s.sessions {
		// A connected stream keeps the dashboard alive for a full TTL after
		// its last client leaves.
		if sess.hub.Subscribers() > 0 {
			sess.touch(now)
			continue
		}
		if sess.lastSeen.Load() < cutoff {
			idle[id] = sess
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()

	for id, sess := range idle {
		if err := s.unmount(ctx, id, sess); err != nil {
			s.log.Error("Failed to unmount idle dashboard", err, map[string]interface{}{"dashboard_id": id})
		}
	}
	if len(idle) > 0 {
		s.log.Info("Idle dashboards reaped", map[string]interface{}{
			"count":    len(idle),
			"idle_ttl": ttl.String(),
		})
	}
	return len(idle)
}

func (s *dashboardService) RunReaper(ctx context.Context) {
	ttl := s.settings.IdleTTL
	if ttl <= 0 {
		return
	}
	interval := ttl / 2
	if interval <= 0 {
		interval = ttl
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.ReapIdle(ctx)
		}
	}
}

func (s *dashboardService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*session)
	s.mu.Unlock()

	var errs []error
	for id, sess := range sessions {
		if err := s.unmount(ctx, id, sess); err != nil {
			errs = append(errs, err)
		}
	}
	s.log.Info("Dashboards shut down", map[string]interface{}{"count": len(sessions)})
	return errors.Join(errs...)
}

func (s *dashboardService) unmount(ctx context.Context, id string, sess *session) error {
	defer sess.hub.Close()
	if err := sess.dashboard.Unmount(ctx); err != nil {
		return fmt.Errorf("unmount dashboard %s: %w", id, err)
	}
	s.log.Info("Dashboard unmounted", map[string]interface{}{"dashboard_id": id})
	return nil
}

func (s *dashboardService) get(id string) (*session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDashboardNotFound, id)
	}
	sess.touch(s.now())
	return sess, nil
}

func (s *dashboardService) drop(id string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.sessions[id]
	delete(s.sessions, id)
	return sess
}
