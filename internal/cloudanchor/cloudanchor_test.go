package cloudanchor

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marimax/cloudanchor/internal/allocator"
	"github.com/marimax/cloudanchor/internal/connectors"
	"github.com/marimax/cloudanchor/internal/connectors/simulated"
	"github.com/marimax/cloudanchor/internal/models"
	"github.com/marimax/cloudanchor/internal/registry"
	"github.com/marimax/cloudanchor/internal/storage"
	"github.com/marimax/cloudanchor/internal/storage/local"
	"github.com/marimax/cloudanchor/internal/tracker"
)

type fixture struct {
	service *simulated.Service
	backend storage.Backend
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	b, closeFn, err := local.Open(filepath.Join(t.TempDir(), "local.db"), logr.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { closeFn() })
	return &fixture{
		service: simulated.New(simulated.Options{PollsToComplete: 1}, logr.Discard()),
		backend: b,
	}
}

func (f *fixture) session(svc connectors.AnchorService) *Session {
	if svc == nil {
		svc = f.service
	}
	log := logr.Discard()
	return NewSession(
		NewManager(svc, tracker.Options{}, log),
		allocator.New(f.backend, allocator.Config{}, log),
		registry.New(f.backend, registry.Config{}, log),
		nil,
		log,
	)
}

// updateUntilIdle runs frames until no operation or background work is left.
func updateUntilIdle(t *testing.T, s *Session) {
	t.Helper()
	for i := 0; i < 20; i++ {
		s.Update()
		s.Wait()
		if s.Snapshot().Pending == 0 {
			return
		}
	}
	t.Fatal("session did not settle")
}

func TestManager_DeliversResult(t *testing.T) {
	svc := simulated.New(simulated.Options{PollsToComplete: 1}, logr.Discard())
	m := NewManager(svc, tracker.Options{}, logr.Discard())

	var results []models.TaskResult
	h, err := m.HostCloudAnchor(context.Background(), models.IdentityPose(), func(r models.TaskResult) {
		results = append(results, r)
	})
	require.NoError(t, err)
	assert.Equal(t, 1, m.Pending())

	assert.Equal(t, 0, m.OnUpdate())
	assert.Equal(t, 1, m.OnUpdate())
	assert.Equal(t, 0, m.OnUpdate())

	require.Len(t, results, 1)
	assert.Equal(t, h, results[0].Handle)
	assert.Equal(t, models.TaskKindHost, results[0].Kind)
	assert.Equal(t, models.StateSuccess, results[0].State)
	assert.True(t, strings.HasPrefix(results[0].CloudAnchorID, "ua-"))
	assert.Zero(t, svc.Operations(), "delivered operations are released")
}

func TestManager_ReleasesFailedAndTimedOut(t *testing.T) {
	svc := simulated.New(simulated.Options{PollsToComplete: -1}, logr.Discard())
	m := NewManager(svc, tracker.Options{}, logr.Discard())

	var states []models.CloudAnchorState
	_, err := m.ResolveCloudAnchor(context.Background(), "ua-unknown", func(r models.TaskResult) {
		states = append(states, r.State)
	})
	require.NoError(t, err)
	assert.Equal(t, 1, m.OnUpdate())
	assert.Equal(t, []models.CloudAnchorState{models.StateErrorCloudIDNotFound}, states)
	assert.Zero(t, svc.Operations())

	now := time.Now()
	slow := simulated.New(simulated.Options{PollsToComplete: 100}, logr.Discard())
	m = NewManager(slow, tracker.Options{TaskTimeout: time.Second, Now: func() time.Time { return now }}, logr.Discard())
	_, err = m.HostCloudAnchor(context.Background(), models.IdentityPose(), nil)
	require.NoError(t, err)
	now = now.Add(2 * time.Second)
	assert.Equal(t, 1, m.OnUpdate())
	assert.Zero(t, slow.Operations())
}

func TestManager_ClearListeners(t *testing.T) {
	svc := simulated.New(simulated.Options{PollsToComplete: -1}, logr.Discard())
	m := NewManager(svc, tracker.Options{}, logr.Discard())

	called := false
	_, err := m.ResolveCloudAnchor(context.Background(), "ua-x", func(models.TaskResult) { called = true })
	require.NoError(t, err)
	assert.Equal(t, 1, m.ClearListeners())
	assert.Equal(t, 0, m.OnUpdate())
	assert.False(t, called)
}

func TestManager_SubmitError(t *testing.T) {
	m := NewManager(simulated.New(simulated.Options{}, logr.Discard()), tracker.Options{}, logr.Discard())

	_, err := m.ResolveCloudAnchor(context.Background(), "", nil)
	assert.ErrorIs(t, err, connectors.ErrInvalidRequest)
	assert.Equal(t, 0, m.Pending())
}

func TestSession_HostAndPublishCode(t *testing.T) {
	f := newFixture(t)
	s := f.session(nil)
	ctx := context.Background()

	require.True(t, s.OnPlaneTap(ctx, models.IdentityPose()))
	assert.False(t, s.OnPlaneTap(ctx, models.IdentityPose()), "a second tap is ignored")

	snap := s.Snapshot()
	assert.False(t, snap.ResolveEnabled)
	assert.Equal(t, "Now hosting an anchor...", snap.Message)
	require.NotNil(t, snap.Anchor)
	assert.Equal(t, models.StateTaskInProgress, snap.Anchor.State)

	updateUntilIdle(t, s)

	snap = s.Snapshot()
	assert.Equal(t, "Cloud anchor hosted. ID: 1", snap.Message)
	require.NotNil(t, snap.Anchor)
	assert.Equal(t, models.Code(1), snap.Anchor.Code)
	assert.Equal(t, models.StateSuccess, snap.Anchor.State)

	stored, err := f.backend.Get(ctx, "anchor;1")
	require.NoError(t, err)
	assert.Equal(t, snap.Anchor.CloudAnchorID, stored)
}

func TestSession_ResolveByCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	host := f.session(nil)
	host.OnPlaneTap(ctx, models.IdentityPose())
	updateUntilIdle(t, host)
	hosted := host.Snapshot().Anchor

	guest := f.session(nil)
	require.True(t, guest.OnShortCodeEntered(ctx, 1))
	guest.Wait()
	assert.False(t, guest.Snapshot().ResolveEnabled)
	updateUntilIdle(t, guest)

	snap := guest.Snapshot()
	assert.Equal(t, "Cloud Anchor resolved for 1", snap.Message)
	require.NotNil(t, snap.Anchor)
	assert.True(t, snap.Anchor.Resolved)
	assert.Equal(t, hosted.CloudAnchorID, snap.Anchor.CloudAnchorID)
}

func TestSession_UnknownCode(t *testing.T) {
	f := newFixture(t)
	s := f.session(nil)

	require.True(t, s.OnShortCodeEntered(context.Background(), 99))
	s.Wait()

	snap := s.Snapshot()
	assert.Equal(t, "A Cloud Anchor ID for the short code 99 was not found", snap.Message)
	assert.True(t, snap.ResolveEnabled)
	assert.Equal(t, 0, snap.Pending)
}

func TestSession_ClearSuppressesHost(t *testing.T) {
	f := newFixture(t)
	s := f.session(nil)
	ctx := context.Background()

	s.OnPlaneTap(ctx, models.IdentityPose())
	s.OnClear()
	for i := 0; i < 5; i++ {
		assert.Equal(t, 0, s.Update())
	}
	s.Wait()

	snap := s.Snapshot()
	assert.Nil(t, snap.Anchor)
	assert.True(t, snap.ResolveEnabled)
	assert.Equal(t, "Now hosting an anchor...", snap.Message)

	_, err := f.backend.Get(ctx, allocator.DefaultCounterKey)
	assert.True(t, storage.IsNotFound(err), "no code is allocated for a cleared host")

	assert.True(t, s.OnPlaneTap(ctx, models.IdentityPose()), "the scene accepts a new anchor after clear")
}

type stateService struct {
	connectors.AnchorService
	state models.CloudAnchorState
}

func (s stateService) HostCloudAnchor(context.Context, models.Pose) (models.Handle, error) {
	return "h", nil
}

func (s stateService) ResolveCloudAnchor(context.Context, string) (models.Handle, error) {
	return "r", nil
}

func (s stateService) State(models.Handle) models.CloudAnchorState { return s.state }
func (s stateService) CloudAnchorID(models.Handle) string          { return "" }
func (s stateService) Name() string                                { return "state" }

func TestSession_HostError(t *testing.T) {
	f := newFixture(t)
	s := f.session(stateService{state: models.StateErrorHostingServiceUnavailable})

	s.OnPlaneTap(context.Background(), models.IdentityPose())
	updateUntilIdle(t, s)

	snap := s.Snapshot()
	assert.Equal(t, "Error while hosting: ERROR_HOSTING_SERVICE_UNAVAILABLE", snap.Message)
	require.NotNil(t, snap.Anchor)
	assert.Zero(t, snap.Anchor.Code)
}

func TestSession_ResolveError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.backend.Put(ctx, "anchor;7", "ua-stale"))

	s := f.session(stateService{state: models.StateErrorCloudIDNotFound})
	s.OnShortCodeEntered(ctx, 7)
	s.Wait()
	updateUntilIdle(t, s)

	snap := s.Snapshot()
	assert.Equal(t, "Error while resolving anchor with code 7. Error ERROR_CLOUD_ID_NOT_FOUND", snap.Message)
	assert.True(t, snap.ResolveEnabled, "resolve is re-enabled after a failure")
	assert.Nil(t, snap.Anchor)
}

type downBackend struct{}

func (downBackend) Get(context.Context, string) (string, error) { return "", storage.ErrUnavailable }
func (downBackend) Put(context.Context, string, string) error   { return storage.ErrUnavailable }
func (downBackend) Increment(context.Context, string, int64) (int64, error) {
	return 0, errors.New("counter transaction did not commit")
}

func TestSession_AllocationFailure(t *testing.T) {
	f := newFixture(t)
	f.backend = downBackend{}
	s := f.session(nil)

	s.OnPlaneTap(context.Background(), models.IdentityPose())
	updateUntilIdle(t, s)

	assert.True(t, strings.HasPrefix(s.Snapshot().Message, "Unable to get a short code:"))
}

func TestNotifier(t *testing.T) {
	var shown []string
	n := NewNotifier(func(m string) { shown = append(shown, m) }, logr.Discard())

	assert.False(t, n.Show(""))
	assert.True(t, n.Show("a"))
	assert.False(t, n.Show("a"), "a repeat of the current message is dropped")
	assert.True(t, n.Show("b"))
	assert.True(t, n.Show("a"))

	assert.Equal(t, []string{"a", "b", "a"}, shown)
	assert.Equal(t, "a", n.Last())
}
