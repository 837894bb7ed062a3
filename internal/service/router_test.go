package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"mahilo/internal/config"
	"mahilo/internal/delivery"
	"mahilo/internal/models"
	"mahilo/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// callbackRecorder is an httptest-backed callback endpoint.
type callbackRecorder struct {
	mu       sync.Mutex
	requests []*http.Request
	fail     bool
	srv      *httptest.Server
}

func newCallbackRecorder(t *testing.T) *callbackRecorder {
	t.Helper()
	rec := &callbackRecorder{}
	rec.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		rec.requests = append(rec.requests, r.Clone(r.Context()))
		if rec.fail {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(rec.srv.Close)
	return rec
}

func (r *callbackRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}

func (r *callbackRecorder) setFail(fail bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail = fail
}

type routerFixture struct {
	db       *gorm.DB
	cfg      *config.Config
	router   *Router
	msgs     repository.MessageRepository
	notifier *fakeNotifier
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	db := newTestDB(t)
	cfg := testConfig()

	msgs := repository.NewMessageRepository(db)
	users := repository.NewUserRepository(db)
	friends := repository.NewFriendRepository(db)
	groups := repository.NewGroupRepository(db)
	conns := repository.NewConnectionRepository(db)
	policies := repository.NewPolicyRepository(db)

	notifier := &fakeNotifier{}
	sender := delivery.NewSender(cfg.CallbackTimeout())
	dispatcher := delivery.NewDispatcher(msgs, conns, users, groups, sender, notifier, cfg.MaxRetries)
	engine := NewPolicyEngine(cfg, policies, friends)

	return &routerFixture{
		db:       db,
		cfg:      cfg,
		router:   NewRouter(cfg, msgs, users, friends, groups, conns, engine, dispatcher),
		msgs:     msgs,
		notifier: notifier,
	}
}

func TestRouter_SendValidation(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()
	alice := seedUser(t, f.db, "alice")

	_, err := f.router.Send(ctx, alice, SendRequest{Recipient: "bob"})
	assert.Error(t, err, "empty payload")

	_, err = f.router.Send(ctx, alice, SendRequest{Payload: "hi"})
	assert.Error(t, err, "missing recipient")

	_, err = f.router.Send(ctx, alice, SendRequest{
		Recipient: "bob", Payload: strings.Repeat("x", f.cfg.MaxPayloadBytes+1),
	})
	require.Error(t, err)
	assert.Equal(t, models.CodePayloadTooLarge, err.(*models.AppError).Code)
}

func TestRouter_SendRequiresAcceptedFriendship(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()

	alice := seedUser(t, f.db, "alice")
	bob := seedUser(t, f.db, "bob")
	carol := seedUser(t, f.db, "carol")
	seedFriendship(t, f.db, alice, carol, models.FriendshipStatusBlocked)

	_, err := f.router.Send(ctx, alice, SendRequest{Recipient: "bob", Payload: "hi"})
	require.Error(t, err)
	assert.Equal(t, models.CodeForbidden, err.(*models.AppError).Code)

	_, err = f.router.Send(ctx, alice, SendRequest{Recipient: "carol", Payload: "hi"})
	require.Error(t, err)
	assert.Equal(t, models.CodeForbidden, err.(*models.AppError).Code)
	_ = bob
}

func TestRouter_SendDeliversSynchronously(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()
	rec := newCallbackRecorder(t)

	alice := seedUser(t, f.db, "alice")
	bob := seedUser(t, f.db, "bob")
	seedFriendship(t, f.db, alice, bob, models.FriendshipStatusAccepted)
	seedConnection(t, f.db, bob, "primary", rec.srv.URL)

	result, err := f.router.Send(ctx, alice, SendRequest{Recipient: "bob", Payload: "hello bob"})
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusDelivered, result.Message.Status)
	assert.NotNil(t, result.Message.DeliveredAt)
	assert.Equal(t, 1, rec.count())

	// Sender learns the outcome, recipient gets a received event.
	assert.NotEmpty(t, f.notifier.forUser(alice.ID))
	assert.NotEmpty(t, f.notifier.forUser(bob.ID))
}

func TestRouter_FailedFirstAttemptLeavesPending(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()
	rec := newCallbackRecorder(t)
	rec.setFail(true)

	alice := seedUser(t, f.db, "alice")
	bob := seedUser(t, f.db, "bob")
	seedFriendship(t, f.db, alice, bob, models.FriendshipStatusAccepted)
	seedConnection(t, f.db, bob, "primary", rec.srv.URL)

	result, err := f.router.Send(ctx, alice, SendRequest{Recipient: "bob", Payload: "hello?"})
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusPending, result.Message.Status)
	assert.Equal(t, 1, result.Message.RetryCount, "first failure is recorded for the retry sweep")
	assert.Equal(t, 1, rec.count())
}

func TestRouter_SendWithoutActiveConnectionIsNotFound(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()

	alice := seedUser(t, f.db, "alice")
	bob := seedUser(t, f.db, "bob")
	seedFriendship(t, f.db, alice, bob, models.FriendshipStatusAccepted)

	_, err := f.router.Send(ctx, alice, SendRequest{Recipient: "bob", Payload: "hi"})
	require.Error(t, err)
	assert.Equal(t, models.CodeNotFound, err.(*models.AppError).Code)

	// Nothing was persisted for the unreachable recipient.
	msgs, listErr := f.msgs.History(ctx, alice.ID, repository.HistoryDirectionSent, nil, 10)
	require.NoError(t, listErr)
	assert.Empty(t, msgs)
}

func TestRouter_ExplicitConnectionMustBelongToRecipient(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()
	rec := newCallbackRecorder(t)

	alice := seedUser(t, f.db, "alice")
	bob := seedUser(t, f.db, "bob")
	carol := seedUser(t, f.db, "carol")
	seedFriendship(t, f.db, alice, bob, models.FriendshipStatusAccepted)
	seedConnection(t, f.db, bob, "primary", rec.srv.URL)
	foreign := seedConnection(t, f.db, carol, "primary", rec.srv.URL)

	_, err := f.router.Send(ctx, alice, SendRequest{
		Recipient: "bob", Payload: "hi", RecipientConnectionID: "no-such-connection",
	})
	require.Error(t, err)
	assert.Equal(t, models.CodeNotFound, err.(*models.AppError).Code)

	_, err = f.router.Send(ctx, alice, SendRequest{
		Recipient: "bob", Payload: "hi", RecipientConnectionID: foreign.ID,
	})
	require.Error(t, err)
	assert.Equal(t, models.CodeNotFound, err.(*models.AppError).Code)
}

func TestRouter_IdempotencyKeyDeduplicates(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()
	rec := newCallbackRecorder(t)

	alice := seedUser(t, f.db, "alice")
	bob := seedUser(t, f.db, "bob")
	seedFriendship(t, f.db, alice, bob, models.FriendshipStatusAccepted)
	seedConnection(t, f.db, bob, "primary", rec.srv.URL)

	first, err := f.router.Send(ctx, alice, SendRequest{
		Recipient: "bob", Payload: "once", IdempotencyKey: "req-1",
	})
	require.NoError(t, err)
	assert.False(t, first.Deduplicated)
	assert.Equal(t, models.MessageStatusDelivered, first.Message.Status)

	second, err := f.router.Send(ctx, alice, SendRequest{
		Recipient: "bob", Payload: "once", IdempotencyKey: "req-1",
	})
	require.NoError(t, err)
	assert.True(t, second.Deduplicated)
	assert.Equal(t, first.Message.ID, second.Message.ID)
	assert.Equal(t, 1, rec.count(), "duplicate submission must not redeliver")
}

func TestRouter_RoutingHintsSelectConnection(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()
	recA := newCallbackRecorder(t)
	recB := newCallbackRecorder(t)

	alice := seedUser(t, f.db, "alice")
	bob := seedUser(t, f.db, "bob")
	seedFriendship(t, f.db, alice, bob, models.FriendshipStatusAccepted)

	// Default routing prefers the higher priority connection.
	high := seedConnection(t, f.db, bob, "assistant", recA.srv.URL)
	high.RoutingPriority = 10
	require.NoError(t, repository.NewConnectionRepository(f.db).Update(ctx, high))
	low := seedConnection(t, f.db, bob, "coder", recB.srv.URL)
	low.Capabilities = models.StringList{"code"}
	require.NoError(t, repository.NewConnectionRepository(f.db).Update(ctx, low))

	result, err := f.router.Send(ctx, alice, SendRequest{Recipient: "bob", Payload: "default route"})
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusDelivered, result.Message.Status)
	assert.Nil(t, result.Message.RecipientConnectionID, "default routing is not pinned")
	assert.Equal(t, 1, recA.count())
	assert.Equal(t, 0, recB.count())

	// A label hint overrides priority.
	result, err = f.router.Send(ctx, alice, SendRequest{
		Recipient: "bob", Payload: "label route",
		Routing: &RoutingHints{Labels: []string{"coder"}},
	})
	require.NoError(t, err)
	require.NotNil(t, result.Message.RecipientConnectionID)
	assert.Equal(t, low.ID, *result.Message.RecipientConnectionID)
	assert.Equal(t, 1, recB.count())

	// Tag hints match capabilities when no label matches.
	result, err = f.router.Send(ctx, alice, SendRequest{
		Recipient: "bob", Payload: "tag route",
		Routing: &RoutingHints{Labels: []string{"nonexistent"}, Tags: []string{"code"}},
	})
	require.NoError(t, err)
	require.NotNil(t, result.Message.RecipientConnectionID)
	assert.Equal(t, low.ID, *result.Message.RecipientConnectionID)
	assert.Equal(t, 2, recB.count())

	// Hints that match nothing degrade to priority routing.
	result, err = f.router.Send(ctx, alice, SendRequest{
		Recipient: "bob", Payload: "unmatched hint",
		Routing: &RoutingHints{Labels: []string{"nope"}, Tags: []string{"nope"}},
	})
	require.NoError(t, err)
	assert.Nil(t, result.Message.RecipientConnectionID)
	assert.Equal(t, 2, recA.count())
}

func TestRouter_PolicyRejectionPersistsRejectedMessage(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()

	alice := seedUser(t, f.db, "alice")
	bob := seedUser(t, f.db, "bob")
	seedFriendship(t, f.db, alice, bob, models.FriendshipStatusAccepted)
	seedPolicy(t, f.db, alice.ID, models.PolicyScopeGlobal, nil, models.PolicyTypeHeuristic,
		`{"maxLength": 3}`, 0)

	result, err := f.router.Send(ctx, alice, SendRequest{Recipient: "bob", Payload: "too long"})
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusRejected, result.Message.Status)
	require.NotNil(t, result.Message.RejectionReason)
	assert.Contains(t, *result.Message.RejectionReason, "maximum length")

	// Rejection is terminal and recorded.
	stored, err := f.msgs.GetByID(ctx, result.Message.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusRejected, stored.Status)
}

func TestRouter_GroupFanOut(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()
	rec := newCallbackRecorder(t)

	alice := seedUser(t, f.db, "alice")
	bob := seedUser(t, f.db, "bob")
	carol := seedUser(t, f.db, "carol")
	dave := seedUser(t, f.db, "dave")
	seedConnection(t, f.db, bob, "primary", rec.srv.URL)
	seedConnection(t, f.db, carol, "primary", rec.srv.URL)

	// dave blocked the sender; he is skipped silently.
	seedFriendship(t, f.db, dave, alice, models.FriendshipStatusBlocked)

	groups := repository.NewGroupRepository(f.db)
	group := &models.Group{Name: "builders", OwnerUserID: alice.ID}
	require.NoError(t, groups.Create(ctx, group))
	for _, u := range []*models.User{bob, carol, dave} {
		require.NoError(t, groups.CreateMembership(ctx, &models.GroupMembership{
			GroupID: group.ID, UserID: u.ID,
			Role: models.GroupRoleMember, Status: models.MembershipStatusActive,
		}))
	}

	result, err := f.router.Send(ctx, alice, SendRequest{
		Recipient: "builders", RecipientType: models.RecipientTypeGroup, Payload: "standup in 5",
	})
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusDelivered, result.Message.Status)

	children, err := f.msgs.ListDeliveriesByMessage(ctx, result.Message.ID)
	require.NoError(t, err)
	require.Len(t, children, 2, "sender and blocked member excluded")
	for _, child := range children {
		assert.Equal(t, models.DeliveryStatusDelivered, child.Status)
		require.NotNil(t, child.RecipientConnectionID)
	}
	assert.Equal(t, 2, rec.count())
}

func TestRouter_GroupSendRequiresActiveMembership(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()

	alice := seedUser(t, f.db, "alice")
	bob := seedUser(t, f.db, "bob")

	groups := repository.NewGroupRepository(f.db)
	group := &models.Group{Name: "private_circle", OwnerUserID: bob.ID}
	require.NoError(t, groups.Create(ctx, group))

	_, err := f.router.Send(ctx, alice, SendRequest{
		Recipient: "private_circle", RecipientType: models.RecipientTypeGroup, Payload: "hi",
	})
	require.Error(t, err)
	assert.Equal(t, models.CodeForbidden, err.(*models.AppError).Code)
}

func TestRouter_GroupFanOutConnectionlessMemberFailsImmediately(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()
	rec := newCallbackRecorder(t)

	alice := seedUser(t, f.db, "alice")
	bob := seedUser(t, f.db, "bob")
	carol := seedUser(t, f.db, "carol")
	seedConnection(t, f.db, bob, "primary", rec.srv.URL)
	// carol has no connections; her child fails up front with no retries.

	groups := repository.NewGroupRepository(f.db)
	group := &models.Group{Name: "mixed", OwnerUserID: alice.ID}
	require.NoError(t, groups.Create(ctx, group))
	for _, u := range []*models.User{bob, carol} {
		require.NoError(t, groups.CreateMembership(ctx, &models.GroupMembership{
			GroupID: group.ID, UserID: u.ID,
			Role: models.GroupRoleMember, Status: models.MembershipStatusActive,
		}))
	}

	result, err := f.router.Send(ctx, alice, SendRequest{
		Recipient: "mixed", RecipientType: models.RecipientTypeGroup, Payload: "hello",
	})
	require.NoError(t, err)

	// One delivered, one failed: the parent is failed once all children are
	// terminal.
	assert.Equal(t, models.MessageStatusFailed, result.Message.Status)

	children, err := f.msgs.ListDeliveriesByMessage(ctx, result.Message.ID)
	require.NoError(t, err)
	require.Len(t, children, 2)
	statuses := map[models.DeliveryStatus]int{}
	for _, c := range children {
		statuses[c.Status]++
		if c.Status == models.DeliveryStatusFailed {
			require.NotNil(t, c.ErrorMessage)
			assert.Equal(t, "No active connection", *c.ErrorMessage)
			assert.Zero(t, c.RetryCount)
		}
	}
	assert.Equal(t, 1, statuses[models.DeliveryStatusDelivered])
	assert.Equal(t, 1, statuses[models.DeliveryStatusFailed])
	assert.Equal(t, 1, rec.count())
}
