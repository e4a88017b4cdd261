package dashboard

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stwalsh4118/inspections/api/internal/logger"
	"github.com/stwalsh4118/inspections/api/internal/models"
)

func changeEventFor(accountID string) models.ChangeEvent {
	return models.ChangeEvent{
		Channel:  models.InspectionChannel,
		ReplayID: 42,
		Payload: models.EventPayload{
			Header: models.ChangeEventHeader{
				EntityName: "Property_Inspection__c",
				ChangeType: "UPDATE",
				RecordIDs:  []string{"I1"},
			},
			RelatedPropertyID: accountID,
		},
	}
}

func TestDashboard_MountScenarioA1(t *testing.T) {
	rig := newTestRig(t, "A1")
	rig.expectScenarioA1()

	require.NoError(t, rig.dashboard.Mount(context.Background()))

	view := rig.dashboard.View()
	assert.Equal(t, "d-test", view.ID)
	assert.Equal(t, "A1", view.AccountID)
	assert.Equal(t, "Maple Court", view.PropertyName)
	assert.Equal(t, "2.10", view.AverageRating)
	assert.Equal(t, "★★☆☆☆", view.AverageRatingStars)
	assert.Equal(t, models.FilterAll, view.SelectedStatus)
	assert.Equal(t, models.FilterAll, view.SelectedType)
	assert.Equal(t, NoInspectionsMessage, view.NoInspectionsMessage)
	assert.Empty(t, view.Error)
	assert.False(t, view.Loading)
	assert.Equal(t, "subscribed", view.Subscription)
	assert.True(t, view.HasInspections)
	assert.Equal(t, 2, view.TotalInspections)
	assert.Len(t, view.StatusOptions, 5)
	assert.Len(t, view.TypeOptions, 5)

	require.Len(t, view.Inspections, 2)
	first, second := view.Inspections[0], view.Inspections[1]
	assert.Equal(t, "I1", first.ID)
	assert.Equal(t, "status-completed", first.StatusClass)
	assert.Equal(t, "Mar 15, 2024", first.FormattedDate)
	assert.Equal(t, "★★★★☆", first.RatingStars)
	assert.Equal(t, "I2", second.ID)
	assert.Equal(t, "status-scheduled", second.StatusClass)
	assert.Equal(t, "", second.FormattedDate)
	assert.Equal(t, "☆☆☆☆☆", second.RatingStars)

	subscribes, _, live := rig.feed.counts()
	assert.Equal(t, 1, subscribes)
	assert.Equal(t, 1, live)
	assert.Equal(t, models.InspectionChannel, rig.feed.lastChannel)
	assert.Equal(t, int64(models.ReplayLatest), rig.feed.lastReplayID)

	assert.Empty(t, rig.notifier.all(), "loading must not toast")
	rig.accounts.AssertExpectations(t)
	rig.source.AssertExpectations(t)
}

func TestDashboard_MountRequiresAccount(t *testing.T) {
	rig := newTestRig(t, "")

	err := rig.dashboard.Mount(context.Background())

	assert.ErrorIs(t, err, ErrAccountRequired)
	subscribes, _, _ := rig.feed.counts()
	assert.Equal(t, 0, subscribes)
}

func TestDashboard_MountTwiceSubscribesOnce(t *testing.T) {
	rig := newTestRig(t, "A1")
	rig.expectScenarioA1()

	require.NoError(t, rig.dashboard.Mount(context.Background()))
	require.NoError(t, rig.dashboard.Mount(context.Background()))

	subscribes, _, live := rig.feed.counts()
	assert.Equal(t, 1, subscribes)
	assert.Equal(t, 1, live)
	rig.source.AssertNumberOfCalls(t, "ListInspections", 1)
}

func TestDashboard_SubscribeFailureStillLoads(t *testing.T) {
	rig := newTestRig(t, "A1")
	rig.expectScenarioA1()
	rig.feed.subscribeErr = errors.New("handshake rejected")

	err := rig.dashboard.Mount(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "handshake rejected")
	assert.Equal(t, Unsubscribed, rig.dashboard.SubscriptionState())

	view := rig.dashboard.View()
	assert.Len(t, view.Inspections, 2)
	assert.Equal(t, "2.10", view.AverageRating)
}

func TestDashboard_UnmountReleasesSubscription(t *testing.T) {
	rig := newTestRig(t, "A1")
	rig.expectScenarioA1()
	require.NoError(t, rig.dashboard.Mount(context.Background()))

	require.NoError(t, rig.dashboard.Unmount(context.Background()))

	_, unsubscribes, live := rig.feed.counts()
	assert.Equal(t, 1, unsubscribes)
	assert.Equal(t, 0, live)
	assert.Equal(t, Unsubscribed, rig.dashboard.SubscriptionState())

	// Events after unmount are not delivered.
	rig.feed.publish(changeEventFor("A1"))
	rig.source.AssertNumberOfCalls(t, "ListInspections", 1)
}

func TestDashboard_UnmountWithoutSubscriptionIsNoOp(t *testing.T) {
	rig := newTestRig(t, "A1")

	assert.NoError(t, rig.dashboard.Unmount(context.Background()))

	_, unsubscribes, _ := rig.feed.counts()
	assert.Equal(t, 0, unsubscribes)
}

func TestChangeListener_StopWhileSubscribingReleasesLateHandle(t *testing.T) {
	feed := newFakeFeed()
	feed.subscribeGate = make(chan struct{})
	log := logger.NewWithWriter("test", io.Discard)
	var delivered atomic.Int32
	l := newChangeListener(feed, models.InspectionChannel, models.ReplayLatest, func(models.ChangeEvent) {
		delivered.Add(1)
	}, log)

	started := make(chan error, 1)
	go func() { started <- l.Start(context.Background()) }()

	assert.Eventually(t, func() bool {
		subscribes, _, _ := feed.counts()
		return subscribes == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, Subscribing, l.State())

	require.NoError(t, l.Stop(context.Background()))
	close(feed.subscribeGate)
	require.NoError(t, <-started)

	subscribes, unsubscribes, live := feed.counts()
	assert.Equal(t, 1, subscribes)
	assert.Equal(t, 1, unsubscribes)
	assert.Equal(t, 0, live)
	assert.Equal(t, Unsubscribed, l.State())

	// A stopped listener never subscribes again.
	require.NoError(t, l.Start(context.Background()))
	subscribes, _, _ = feed.counts()
	assert.Equal(t, 1, subscribes)
	assert.Zero(t, delivered.Load())
}

func TestChangeListener_HandlerPanicIsContained(t *testing.T) {
	feed := newFakeFeed()
	log := logger.NewWithWriter("test", io.Discard)
	l := newChangeListener(feed, models.InspectionChannel, models.ReplayLatest, func(models.ChangeEvent) {
		panic("bad handler")
	}, log)
	require.NoError(t, l.Start(context.Background()))

	assert.NotPanics(t, func() { feed.publish(changeEventFor("A1")) })
	assert.Equal(t, Subscribed, l.State())
}

func TestSubscriptionState_String(t *testing.T) {
	assert.Equal(t, "unsubscribed", Unsubscribed.String())
	assert.Equal(t, "subscribing", Subscribing.String())
	assert.Equal(t, "subscribed", Subscribed.String())
}

func TestDashboard_MatchingEventRefreshesOnce(t *testing.T) {
	rig := newTestRig(t, "A1")
	rig.expectScenarioA1()
	require.NoError(t, rig.dashboard.Mount(context.Background()))

	rig.feed.publish(changeEventFor("A1"))

	rig.source.AssertNumberOfCalls(t, "ListInspections", 2)
	rig.source.AssertNumberOfCalls(t, "AverageRating", 2)
	toasts := rig.notifier.all()
	require.Len(t, toasts, 1)
	assert.Equal(t, Toast{Variant: ToastSuccess, Title: "Success", Message: "Inspection data refreshed"}, toasts[0])
}

func TestDashboard_UnrelatedEventIgnored(t *testing.T) {
	rig := newTestRig(t, "A1")
	rig.expectScenarioA1()
	require.NoError(t, rig.dashboard.Mount(context.Background()))

	rig.feed.publish(changeEventFor("A2"))
	rig.feed.publish(changeEventFor(""))

	rig.source.AssertNumberOfCalls(t, "ListInspections", 1)
	rig.source.AssertNumberOfCalls(t, "AverageRating", 1)
	assert.Empty(t, rig.notifier.all())
}

func TestDashboard_HandleChangeEventReportsRouting(t *testing.T) {
	rig := newTestRig(t, "A1")
	rig.expectScenarioA1()
	require.NoError(t, rig.dashboard.Mount(context.Background()))

	assert.False(t, rig.dashboard.HandleChangeEvent(changeEventFor("A9")))
	assert.True(t, rig.dashboard.HandleChangeEvent(changeEventFor("A1")))
}

func TestDashboard_RefreshPartialFailure(t *testing.T) {
	rig := newTestRig(t, "A1")
	rig.accounts.On("FindAccount", mock.Anything, "A1").Return(&models.Account{ID: "A1", Name: "Maple Court"}, nil)
	rig.source.On("ListInspections", mock.Anything, "A1").Return(scenarioInspections(), nil).Once()
	rig.source.On("ListInspections", mock.Anything, "A1").Return(nil, errors.New("timeout"))
	rig.source.On("AverageRating", mock.Anything, "A1").Return(float(2.1), nil)
	require.NoError(t, rig.dashboard.Mount(context.Background()))

	err := rig.dashboard.Refresh(context.Background())

	require.Error(t, err)
	toasts := rig.notifier.all()
	require.Len(t, toasts, 1)
	assert.Equal(t, Toast{Variant: ToastError, Title: "Error refreshing data", Message: "timeout"}, toasts[0])

	view := rig.dashboard.View()
	assert.Equal(t, []string{"I1", "I2"}, ids(view.Inspections))
	assert.Equal(t, "2.10", view.AverageRating)
	assert.Empty(t, view.Error)
	rig.source.AssertNumberOfCalls(t, "AverageRating", 2)
}

func TestDashboard_RefreshSuccessPicksUpNewData(t *testing.T) {
	rig := newTestRig(t, "A1")
	rig.accounts.On("FindAccount", mock.Anything, "A1").Return(&models.Account{ID: "A1", Name: "Maple Court"}, nil)
	rig.source.On("ListInspections", mock.Anything, "A1").Return(scenarioInspections(), nil).Once()
	rig.source.On("ListInspections", mock.Anything, "A1").Return(scenarioInspections()[:1], nil)
	rig.source.On("AverageRating", mock.Anything, "A1").Return(float(2.1), nil).Once()
	rig.source.On("AverageRating", mock.Anything, "A1").Return(float(4.2), nil)
	require.NoError(t, rig.dashboard.Mount(context.Background()))

	require.NoError(t, rig.dashboard.Refresh(context.Background()))

	view := rig.dashboard.View()
	assert.Equal(t, []string{"I1"}, ids(view.Inspections))
	assert.Equal(t, "4.20", view.AverageRating)
	assert.Equal(t, "★★★★☆", view.AverageRatingStars)
	require.Len(t, rig.notifier.all(), 1)
	assert.Equal(t, ToastSuccess, rig.notifier.all()[0].Variant)
}

func TestDashboard_RefreshRunsQueriesConcurrently(t *testing.T) {
	rig := newTestRig(t, "A1")
	rig.accounts.On("FindAccount", mock.Anything, "A1").Return(&models.Account{ID: "A1", Name: "Maple Court"}, nil)
	rig.source.On("ListInspections", mock.Anything, "A1").Return(scenarioInspections(), nil).Once()
	rig.source.On("AverageRating", mock.Anything, "A1").Return(float(2.1), nil).Once()
	require.NoError(t, rig.dashboard.Mount(context.Background()))

	listEntered := make(chan struct{})
	ratingEntered := make(chan struct{})
	releaseList := make(chan struct{})
	releaseRating := make(chan struct{})
	rig.source.On("ListInspections", mock.Anything, "A1").Run(func(mock.Arguments) {
		close(listEntered)
		// Only returns once the rating fetch is running alongside.
		select {
		case <-ratingEntered:
		case <-time.After(2 * time.Second):
			t.Error("rating fetch did not start while inspections were in flight")
		}
		<-releaseList
	}).Return(scenarioInspections(), nil)
	rig.source.On("AverageRating", mock.Anything, "A1").Run(func(mock.Arguments) {
		close(ratingEntered)
		<-releaseRating
	}).Return(float(4.2), nil)

	done := make(chan error, 1)
	go func() { done <- rig.dashboard.Refresh(context.Background()) }()

	for _, entered := range []chan struct{}{listEntered, ratingEntered} {
		select {
		case <-entered:
		case <-time.After(2 * time.Second):
			t.Fatal("refresh did not start both queries")
		}
	}

	close(releaseRating)
	select {
	case <-done:
		t.Fatal("refresh returned while the inspections fetch was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(releaseList)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("refresh did not return after both queries settled")
	}

	require.Len(t, rig.notifier.all(), 1)
	assert.Equal(t, "4.20", rig.dashboard.View().AverageRating)
}

func TestDashboard_ChangeEventBeforeLoadIgnored(t *testing.T) {
	rig := newTestRig(t, "A1")

	assert.False(t, rig.dashboard.HandleChangeEvent(changeEventFor("A1")))
	assert.Empty(t, rig.notifier.all())
	rig.source.AssertNotCalled(t, "ListInspections", mock.Anything, mock.Anything)
}

func TestDashboard_Filtering(t *testing.T) {
	tests := []struct {
		name        string
		status      string
		typ         string
		want        []string
		wantMessage string
	}{
		{name: "all", status: models.FilterAll, typ: models.FilterAll, want: []string{"I1", "I2"}, wantMessage: NoInspectionsMessage},
		{name: "completed", status: models.StatusCompleted, typ: models.FilterAll, want: []string{"I1"}, wantMessage: NoMatchesMessage},
		{name: "initial", status: models.FilterAll, typ: models.TypeInitial, want: []string{"I2"}, wantMessage: NoMatchesMessage},
		{name: "completed and initial", status: models.StatusCompleted, typ: models.TypeInitial, want: []string{}, wantMessage: NoMatchesMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rig := newTestRig(t, "A1")
			rig.expectScenarioA1()
			require.NoError(t, rig.dashboard.Mount(context.Background()))

			require.NoError(t, rig.dashboard.SetFilters(tt.status, tt.typ))

			view := rig.dashboard.View()
			assert.Equal(t, tt.want, ids(view.Inspections))
			assert.Equal(t, len(tt.want) > 0, view.HasInspections)
			assert.Equal(t, tt.wantMessage, view.NoInspectionsMessage)
			assert.Equal(t, 2, view.TotalInspections)
			rig.source.AssertNumberOfCalls(t, "ListInspections", 1)
		})
	}
}

func TestDashboard_SingleSelectorsKeepTheOther(t *testing.T) {
	rig := newTestRig(t, "A1")
	rig.expectScenarioA1()
	require.NoError(t, rig.dashboard.Mount(context.Background()))

	require.NoError(t, rig.dashboard.SetStatusFilter(models.StatusCompleted))
	require.NoError(t, rig.dashboard.SetTypeFilter(models.TypeInitial))

	view := rig.dashboard.View()
	assert.Equal(t, models.StatusCompleted, view.SelectedStatus)
	assert.Equal(t, models.TypeInitial, view.SelectedType)
	assert.Empty(t, view.Inspections)

	require.NoError(t, rig.dashboard.SetStatusFilter(models.FilterAll))
	assert.Equal(t, []string{"I2"}, ids(rig.dashboard.View().Inspections))
}

func TestDashboard_InvalidFilterRejected(t *testing.T) {
	rig := newTestRig(t, "A1")
	rig.expectScenarioA1()
	require.NoError(t, rig.dashboard.Mount(context.Background()))

	assert.ErrorIs(t, rig.dashboard.SetFilters("Cancelled", models.FilterAll), ErrInvalidFilter)
	assert.ErrorIs(t, rig.dashboard.SetTypeFilter("Quarterly"), ErrInvalidFilter)

	view := rig.dashboard.View()
	assert.Equal(t, models.FilterAll, view.SelectedStatus)
	assert.Equal(t, models.FilterAll, view.SelectedType)
	assert.Len(t, view.Inspections, 2)
}

func TestDashboard_InspectionFetchErrorClearsList(t *testing.T) {
	rig := newTestRig(t, "A1")
	rig.accounts.On("FindAccount", mock.Anything, "A1").Return(&models.Account{ID: "A1", Name: "Maple Court"}, nil)
	rig.source.On("ListInspections", mock.Anything, "A1").Return(nil, errors.New("query failed"))
	rig.source.On("AverageRating", mock.Anything, "A1").Return(float(2.1), nil)

	require.NoError(t, rig.dashboard.Mount(context.Background()))

	view := rig.dashboard.View()
	assert.NotNil(t, view.Inspections)
	assert.Empty(t, view.Inspections)
	assert.False(t, view.HasInspections)
	assert.Equal(t, "query failed", view.Error)
	assert.Equal(t, "2.10", view.AverageRating)
	assert.Empty(t, rig.notifier.all())
}

func TestDashboard_RatingFetchErrorResetsAverage(t *testing.T) {
	rig := newTestRig(t, "A1")
	rig.accounts.On("FindAccount", mock.Anything, "A1").Return(&models.Account{ID: "A1", Name: "Maple Court"}, nil)
	rig.source.On("ListInspections", mock.Anything, "A1").Return(scenarioInspections(), nil)
	rig.source.On("AverageRating", mock.Anything, "A1").Return(nil, errors.New("aggregate failed"))

	require.NoError(t, rig.dashboard.Mount(context.Background()))

	view := rig.dashboard.View()
	assert.Equal(t, "0.00", view.AverageRating)
	assert.Equal(t, "☆☆☆☆☆", view.AverageRatingStars)
	assert.Equal(t, "aggregate failed", view.Error)
	assert.Len(t, view.Inspections, 2)
}

func TestDashboard_AccountNotFound(t *testing.T) {
	rig := newTestRig(t, "A404")
	rig.accounts.On("FindAccount", mock.Anything, "A404").Return(nil, nil)
	rig.source.On("ListInspections", mock.Anything, "A404").Return([]models.Inspection{}, nil)
	rig.source.On("AverageRating", mock.Anything, "A404").Return(nil, nil)

	require.NoError(t, rig.dashboard.Mount(context.Background()))

	assert.ErrorIs(t, rig.dashboard.Err(), ErrAccountNotFound)
	view := rig.dashboard.View()
	assert.Empty(t, view.PropertyName)
	assert.Equal(t, "0.00", view.AverageRating)
	assert.Equal(t, NoInspectionsMessage, view.NoInspectionsMessage)
}

func TestDashboard_NullAverageKeepsPreviousValue(t *testing.T) {
	rig := newTestRig(t, "A1")
	rig.accounts.On("FindAccount", mock.Anything, "A1").Return(&models.Account{ID: "A1", Name: "Maple Court"}, nil)
	rig.source.On("ListInspections", mock.Anything, "A1").Return(scenarioInspections(), nil)
	rig.source.On("AverageRating", mock.Anything, "A1").Return(float(2.1), nil).Once()
	rig.source.On("AverageRating", mock.Anything, "A1").Return(nil, nil)
	require.NoError(t, rig.dashboard.Mount(context.Background()))

	require.NoError(t, rig.dashboard.Refresh(context.Background()))

	assert.Equal(t, "2.10", rig.dashboard.View().AverageRating)
}

func TestDashboard_SetAccountReloads(t *testing.T) {
	rig := newTestRig(t, "A1")
	rig.expectScenarioA1()
	rig.accounts.On("FindAccount", mock.Anything, "A2").Return(&models.Account{ID: "A2", Name: "Oak Terrace"}, nil)
	rig.source.On("ListInspections", mock.Anything, "A2").Return([]models.Inspection{}, nil)
	rig.source.On("AverageRating", mock.Anything, "A2").Return(nil, nil)
	require.NoError(t, rig.dashboard.Mount(context.Background()))

	require.NoError(t, rig.dashboard.SetAccount(context.Background(), "A2"))

	view := rig.dashboard.View()
	assert.Equal(t, "A2", view.AccountID)
	assert.Equal(t, "Oak Terrace", view.PropertyName)
	assert.Empty(t, view.Inspections)
	assert.Equal(t, "0.00", view.AverageRating)
	assert.Equal(t, "A2", rig.dashboard.FlowInputVariables()[0].Value)

	// Events for the old account no longer refresh.
	rig.feed.publish(changeEventFor("A1"))
	rig.source.AssertNumberOfCalls(t, "ListInspections", 2)

	assert.ErrorIs(t, rig.dashboard.SetAccount(context.Background(), ""), ErrAccountRequired)
}

func TestDashboard_SetSameAccountDoesNotRefetch(t *testing.T) {
	rig := newTestRig(t, "A1")
	rig.expectScenarioA1()
	require.NoError(t, rig.dashboard.Mount(context.Background()))

	require.NoError(t, rig.dashboard.SetAccount(context.Background(), "A1"))

	rig.accounts.AssertNumberOfCalls(t, "FindAccount", 1)
	rig.source.AssertNumberOfCalls(t, "ListInspections", 1)
	assert.Equal(t, "2.10", rig.dashboard.View().AverageRating)
}

func TestDashboard_ViewInspectionNavigates(t *testing.T) {
	rig := newTestRig(t, "A1")

	require.NoError(t, rig.dashboard.ViewInspection("I1"))
	assert.ErrorIs(t, rig.dashboard.ViewInspection(""), ErrInspectionRequired)

	require.Len(t, rig.navigator.requests, 1)
	assert.Equal(t, NavigationRequest{Type: "standard__recordPage", RecordID: "I1", ActionName: "view"}, rig.navigator.requests[0])
}

func TestDashboard_FlowLifecycle(t *testing.T) {
	rig := newTestRig(t, "A1")

	assert.False(t, rig.dashboard.View().Flow.Open)

	state := rig.dashboard.ScheduleInspection()
	assert.True(t, state.Open)
	assert.Equal(t, []FlowVariable{{Name: "recordId", Type: "String", Value: "A1"}}, state.Inputs)
	assert.True(t, rig.dashboard.View().Flow.Open)

	assert.False(t, rig.dashboard.HandleFlowStatus(FlowStatusStarted))
	assert.False(t, rig.dashboard.HandleFlowStatus(FlowStatusPaused))
	assert.True(t, rig.dashboard.View().Flow.Open)

	assert.True(t, rig.dashboard.HandleFlowStatus(FlowStatusFinished))
	assert.False(t, rig.dashboard.View().Flow.Open)

	rig.dashboard.ScheduleInspection()
	rig.dashboard.CloseFlow()
	assert.False(t, rig.dashboard.View().Flow.Open)
	assert.Empty(t, rig.notifier.all())
}

func TestDashboard_OnChangeFires(t *testing.T) {
	rig := newTestRig(t, "A1")
	rig.expectScenarioA1()
	var changes atomic.Int32
	rig.dashboard.OnChange(func() { changes.Add(1) })

	require.NoError(t, rig.dashboard.Mount(context.Background()))
	afterMount := changes.Load()
	assert.GreaterOrEqual(t, afterMount, int32(3))

	require.NoError(t, rig.dashboard.SetFilters(models.StatusCompleted, models.FilterAll))
	assert.Equal(t, afterMount+1, changes.Load())
}
