package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caseflow/internal/domain"
	"caseflow/internal/notify"
	"caseflow/internal/repo"
	"caseflow/internal/testutil"
)

type stubPusher struct {
	calls int
	notes []domain.Notification
	err   error
}

func (s *stubPusher) Push(_ context.Context, notes []domain.Notification) error {
	s.calls++
	s.notes = append(s.notes, notes...)
	return s.err
}

type env struct {
	*testutil.Fixture
	Pusher     *stubPusher
	Dispatcher notify.Dispatcher
	Case       domain.Case
}

func newEnv(t *testing.T) env {
	t.Helper()
	f := testutil.NewFixture(t)
	f.Staff("admin-1", domain.RoleAdmin, "", nil)
	f.Staff("admin-2", domain.RoleAdmin, "", nil)
	f.Staff("lawyer-1", domain.RoleLawyer, "civil", nil)
	c := f.Case("c1", "civil", "NEW", func(c *domain.Case) { c.AssignedStaffID = testutil.Ptr("lawyer-1") })
	p := &stubPusher{}
	return env{
		Fixture: f,
		Pusher:  p,
		Case:    c,
		Dispatcher: notify.Dispatcher{
			DB: f.DB, Repo: f.Repo, Pusher: p,
			Now: func() time.Time { return testutil.Epoch },
		},
	}
}

func markers(t *testing.T, r repo.Repo, caseID string) []string {
	t.Helper()
	notes, err := r.ListNotifications(context.Background(), repo.NotificationFilters{CaseID: caseID})
	require.NoError(t, err)
	var out []string
	for _, n := range notes {
		if n.RecipientType == domain.RecipientClient {
			out = append(out, string(n.EventType)+"->client:"+*n.RecipientTrackNumber)
		} else {
			out = append(out, string(n.EventType)+"->staff:"+*n.RecipientStaffID)
		}
	}
	sort.Strings(out)
	return out
}

func TestRecipientsByEvent(t *testing.T) {
	tests := []struct {
		name  string
		event domain.EventType
		actor domain.Actor
		want  []string
	}{
		{"client message", domain.EventMessage, domain.Actor{ID: "TRK-c1", Role: domain.RoleClient},
			[]string{"MESSAGE->staff:admin-1", "MESSAGE->staff:admin-2", "MESSAGE->staff:lawyer-1"}},
		{"staff attachment", domain.EventAttachment, domain.Actor{ID: "lawyer-1", Role: domain.RoleLawyer},
			[]string{"ATTACHMENT->client:TRK-c1"}},
		{"status by lawyer", domain.EventStatus, domain.Actor{ID: "lawyer-1", Role: domain.RoleLawyer},
			[]string{"STATUS->client:TRK-c1"}},
		{"status by admin", domain.EventStatus, domain.Actor{ID: "admin-1", Role: domain.RoleAdmin},
			[]string{"STATUS->client:TRK-c1", "STATUS->staff:lawyer-1"}},
		{"sla overdue", domain.EventSLAOverdue, domain.Actor{ID: "system", Role: domain.RoleAdmin},
			[]string{"SLA_OVERDUE->staff:admin-1", "SLA_OVERDUE->staff:admin-2", "SLA_OVERDUE->staff:lawyer-1"}},
		{"assignment", domain.EventAssignment, domain.Actor{ID: "admin-1", Role: domain.RoleAdmin},
			[]string{"ASSIGNMENT->client:TRK-c1", "ASSIGNMENT->staff:lawyer-1"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := newEnv(t)
			res, err := e.Dispatcher.Notify(e.Ctx, notify.Request{
				Case: e.Case, Event: tc.event, ActorRole: tc.actor.Role, ActorID: tc.actor.ID, Body: "hello",
			})
			require.NoError(t, err)
			assert.Equal(t, len(tc.want), res.Created)
			assert.True(t, res.Pushed)
			assert.Equal(t, tc.want, markers(t, e.Repo, "c1"))
		})
	}
}

func TestClientMessageSkipsMissingAssignee(t *testing.T) {
	e := newEnv(t)
	c := e.Fixture.Case("c2", "civil", "NEW")
	res, err := e.Dispatcher.Notify(e.Ctx, notify.Request{Case: c, Event: domain.EventMessage, ActorRole: domain.RoleClient, ActorID: c.TrackNumber})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, []string{"MESSAGE->staff:admin-1", "MESSAGE->staff:admin-2"}, markers(t, e.Repo, "c2"))
}

func TestDedupePrefix(t *testing.T) {
	e := newEnv(t)
	req := notify.Request{Case: e.Case, Event: domain.EventSLAOverdue, ActorRole: domain.RoleAdmin, DedupePrefix: "sla:c1:1"}
	first, err := e.Dispatcher.Notify(e.Ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 3, first.Created)

	second, err := e.Dispatcher.Notify(e.Ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Created)
	assert.False(t, second.Pushed, "nothing created, nothing pushed")
	assert.Equal(t, 1, e.Pusher.calls)

	notes, err := e.Repo.ListNotifications(e.Ctx, repo.NotificationFilters{StaffID: "lawyer-1"})
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "sla:c1:1:staff:lawyer-1", *notes[0].DedupeKey)
}

func TestUniqueIndexIsAuthoritative(t *testing.T) {
	e := newEnv(t)
	key := "race:client:TRK-c1"
	insert := func(id string) bool {
		var created bool
		e.Tx(func(tx *sqlx.Tx) error {
			var err error
			created, err = e.Repo.InsertNotificationTx(e.Ctx, tx, domain.Notification{
				ID: id, CaseID: "c1", RecipientType: domain.RecipientClient, RecipientTrackNumber: testutil.Ptr("TRK-c1"),
				EventType: domain.EventStatus, Title: "t", DedupeKey: &key, CreatedAt: testutil.Epoch.Format(time.RFC3339),
			})
			return err
		})
		return created
	}
	assert.True(t, insert("n1"))
	assert.False(t, insert("n2"))
}

func TestUnreadMarkers(t *testing.T) {
	e := newEnv(t)
	_, err := e.Dispatcher.Notify(e.Ctx, notify.Request{Case: e.Case, Event: domain.EventStatus, ActorRole: domain.RoleLawyer, ActorID: "lawyer-1"})
	require.NoError(t, err)
	c, err := e.Repo.GetCase(e.Ctx, "c1")
	require.NoError(t, err)
	assert.True(t, c.ClientHasUnread)
	assert.Equal(t, "STATUS", *c.ClientUnreadEvent)
	assert.False(t, c.StaffHasUnread)
}

func TestPushFailureKeepsRecords(t *testing.T) {
	e := newEnv(t)
	e.Pusher.err = errors.New("relay down")
	res, err := e.Dispatcher.Notify(e.Ctx, notify.Request{Case: e.Case, Event: domain.EventStatus, ActorRole: domain.RoleLawyer})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.False(t, res.Pushed)
	assert.Len(t, markers(t, e.Repo, "c1"), 1)
}

func TestHTTPPusherRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	var got struct {
		Event         string                `json:"event"`
		Notifications []domain.Notification `json:"notifications"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		assert.Equal(t, "s3cret", r.Header.Get("X-Caseflow-Secret"))
		assert.Equal(t, "STATUS", r.Header.Get("X-Caseflow-Event"))
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	p := notify.HTTPPusher{URL: srv.URL, Secret: "s3cret", MaxRetries: 3, InitialInterval: time.Millisecond}
	err := p.Push(context.Background(), []domain.Notification{{ID: "n1", CaseID: "c1", EventType: domain.EventStatus, Title: "t"}})
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, "STATUS", got.Event)
	require.Len(t, got.Notifications, 1)
	assert.Equal(t, "n1", got.Notifications[0].ID)
}

func TestHTTPPusherStopsOnClientError(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "bad payload", http.StatusBadRequest)
	}))
	defer srv.Close()

	p := notify.HTTPPusher{URL: srv.URL, MaxRetries: 5, InitialInterval: time.Millisecond}
	err := p.Push(context.Background(), []domain.Notification{{ID: "n1", EventType: domain.EventStatus}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad payload")
	assert.Equal(t, int32(1), hits.Load())
}

func TestHTTPPusherEventFilter(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	p := notify.HTTPPusher{URL: srv.URL, Events: []string{"sla_overdue"}}
	require.NoError(t, p.Push(context.Background(), []domain.Notification{{ID: "n1", EventType: domain.EventStatus}}))
	assert.Equal(t, int32(0), hits.Load())
	require.NoError(t, p.Push(context.Background(), []domain.Notification{{ID: "n2", EventType: domain.EventSLAOverdue}}))
	assert.Equal(t, int32(1), hits.Load())
}
