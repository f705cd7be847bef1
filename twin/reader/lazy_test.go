package reader

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/promotion0824/TwinPlatform-sub045/twin"
	"github.com/promotion0824/TwinPlatform-sub045/twin/cache"
)

// MockRemote is a testify mock of the remote twin store.
type MockRemote struct {
	mock.Mock
}

func (m *MockRemote) GetDigitalTwin(ctx context.Context, id string) (*twin.Twin, error) {
	args := m.Called(ctx, id)
	t, _ := args.Get(0).(*twin.Twin)
	return t, args.Error(1)
}

func (m *MockRemote) GetRelationship(ctx context.Context, id, otherEndID string) (*twin.Relationship, error) {
	args := m.Called(ctx, id, otherEndID)
	r, _ := args.Get(0).(*twin.Relationship)
	return r, args.Error(1)
}

func (m *MockRemote) GetRelationships(ctx context.Context, ids []string) ([]twin.Relationship, error) {
	args := m.Called(ctx, ids)
	rels, _ := args.Get(0).([]twin.Relationship)
	return rels, args.Error(1)
}

func (m *MockRemote) GetTwinRelationships(ctx context.Context, twinID string) ([]twin.Relationship, error) {
	args := m.Called(ctx, twinID)
	rels, _ := args.Get(0).([]twin.Relationship)
	return rels, args.Error(1)
}

type fakeProvider struct {
	generation *cache.Cache
	ready      bool
}

func (p *fakeProvider) GetOrCreateCache(context.Context, bool) (*cache.Cache, error) {
	return p.generation, nil
}

func (p *fakeProvider) IsCacheReady() bool {
	return p.ready
}

func newReader(t *testing.T, topology *cache.Topology) (*LazyReader, *MockRemote, *cache.Cache) {
	t.Helper()
	c, err := cache.NewCache(1, nil, topology)
	require.NoError(t, err)
	remote := &MockRemote{}
	return NewLazyReader(remote, &fakeProvider{generation: c, ready: true}, nil), remote, c
}

var ctx = context.Background()

func TestGetDigitalTwin_FetchesOnce(t *testing.T) {
	r, remote, _ := newReader(t, nil)
	want := &twin.Twin{ID: "ahu-1", ModelID: "dtmi:AHU;1", Properties: map[string]any{"name": "AHU 1"}}
	remote.On("GetDigitalTwin", mock.Anything, "ahu-1").Return(want, nil).Once()

	first, err := r.GetDigitalTwin(ctx, "ahu-1")
	require.NoError(t, err)
	second, err := r.GetDigitalTwin(ctx, "ahu-1")
	require.NoError(t, err)

	assert.Equal(t, want, first)
	assert.Equal(t, first, second)
	remote.AssertNumberOfCalls(t, "GetDigitalTwin", 1)
}

func TestGetDigitalTwin_PlaceholderIsFetched(t *testing.T) {
	r, remote, c := newReader(t, &cache.Topology{Twins: []cache.TwinRef{{ID: "ahu-1", ModelID: "dtmi:AHU;1"}}})
	remote.On("GetDigitalTwin", mock.Anything, "ahu-1").Return(&twin.Twin{ID: "ahu-1", ModelID: "dtmi:AHU;1"}, nil).Once()

	got, err := r.GetDigitalTwin(ctx, "ahu-1")
	require.NoError(t, err)
	assert.Equal(t, "ahu-1", got.ID)
	assert.Equal(t, cache.Loaded, c.Twins.Twin("ahu-1").State)

	_, err = r.GetDigitalTwin(ctx, "ahu-1")
	require.NoError(t, err)
	remote.AssertNumberOfCalls(t, "GetDigitalTwin", 1)
}

func TestGetDigitalTwin_NotFoundIsCached(t *testing.T) {
	r, remote, c := newReader(t, nil)
	remote.On("GetDigitalTwin", mock.Anything, "unknown").Return((*twin.Twin)(nil), nil).Once()

	for i := 0; i < 2; i++ {
		got, err := r.GetDigitalTwin(ctx, "unknown")
		require.NoError(t, err)
		assert.Nil(t, got)
	}
	assert.Equal(t, cache.LoadedAbsent, c.Twins.Twin("unknown").State)
	remote.AssertNumberOfCalls(t, "GetDigitalTwin", 1)
}

func TestGetDigitalTwin_ErrorsAreNotCached(t *testing.T) {
	r, remote, _ := newReader(t, nil)
	remote.On("GetDigitalTwin", mock.Anything, "ahu-1").Return(nil, errors.New("connection reset")).Twice()

	_, err := r.GetDigitalTwin(ctx, "ahu-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LazyReader.GetDigitalTwin")

	_, err = r.GetDigitalTwin(ctx, "ahu-1")
	require.Error(t, err)
	remote.AssertNumberOfCalls(t, "GetDigitalTwin", 2)
}

func TestGetDigitalTwin_ConcurrentCallersShareOneFetch(t *testing.T) {
	r, remote, _ := newReader(t, nil)
	release := make(chan struct{})
	remote.On("GetDigitalTwin", mock.Anything, "ahu-1").
		Run(func(mock.Arguments) { <-release }).
		Return(&twin.Twin{ID: "ahu-1"}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := r.GetDigitalTwin(ctx, "ahu-1")
			assert.NoError(t, err)
			assert.Equal(t, "ahu-1", got.ID)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	remote.AssertNumberOfCalls(t, "GetDigitalTwin", 1)
}

func TestGetDigitalTwin_CancelledCallerDoesNotFailOthers(t *testing.T) {
	r, remote, c := newReader(t, nil)
	started := make(chan struct{})
	release := make(chan struct{})
	var fetchCtx context.Context
	remote.On("GetDigitalTwin", mock.Anything, "ahu-1").
		Run(func(args mock.Arguments) {
			fetchCtx = args.Get(0).(context.Context)
			close(started)
			<-release
		}).
		Return(&twin.Twin{ID: "ahu-1"}, nil).Once()
	remote.On("GetDigitalTwin", mock.Anything, "ahu-1").
		Return(nil, errors.New("unexpected second fetch"))

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := r.GetDigitalTwin(first, "ahu-1")
		firstErr <- err
	}()
	<-started

	type result struct {
		twin *twin.Twin
		err  error
	}
	second := make(chan result, 1)
	go func() {
		got, err := r.GetDigitalTwin(context.Background(), "ahu-1")
		second <- result{got, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	// The fetch keeps its own context, so the remote sees no cancellation.
	assert.NoError(t, fetchCtx.Err())

	close(release)
	res := <-second
	require.NoError(t, res.err)
	assert.Equal(t, "ahu-1", res.twin.ID)
	assert.Equal(t, cache.Loaded, c.Twins.Twin("ahu-1").State)
	remote.AssertNumberOfCalls(t, "GetDigitalTwin", 1)
}

func TestGetRelationship_FetchesOnce(t *testing.T) {
	r, remote, c := newReader(t, nil)
	rel := &twin.Relationship{ID: "r1", SourceID: "ahu-1", TargetID: "floor-1", Name: "locatedIn"}
	remote.On("GetRelationship", mock.Anything, "r1", "floor-1").Return(rel, nil).Once()
	remote.On("GetRelationship", mock.Anything, "r2", "floor-1").Return((*twin.Relationship)(nil), nil).Once()

	for i := 0; i < 2; i++ {
		got, err := r.GetRelationship(ctx, "r1", "floor-1")
		require.NoError(t, err)
		assert.Equal(t, rel, got)

		missing, err := r.GetRelationship(ctx, "r2", "floor-1")
		require.NoError(t, err)
		assert.Nil(t, missing)
	}
	remote.AssertNumberOfCalls(t, "GetRelationship", 2)

	// The fetched edge is linked to both endpoints but completes neither list
	out, ok := c.Twins.Outgoing("ahu-1")
	require.True(t, ok)
	assert.Equal(t, []string{"r1"}, out.IDs)
	assert.False(t, out.Complete)
}

func TestGetTwinRelationships_NonEmpty(t *testing.T) {
	r, remote, _ := newReader(t, nil)
	rels := []twin.Relationship{
		{ID: "r1", SourceID: "ahu-1", TargetID: "floor-1", Name: "locatedIn"},
		{ID: "r2", SourceID: "sensor-1", TargetID: "ahu-1", Name: "isCapabilityOf"},
	}
	remote.On("GetTwinRelationships", mock.Anything, "ahu-1").Return(rels, nil).Once()

	for i := 0; i < 2; i++ {
		got, err := r.GetTwinRelationships(ctx, "ahu-1")
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "r1", got[0].ID)
	}

	// Incoming list was filled by the same call
	in, err := r.GetIncomingRelationships(ctx, "ahu-1")
	require.NoError(t, err)
	require.Len(t, in, 1)
	assert.Equal(t, "r2", in[0].ID)

	remote.AssertNumberOfCalls(t, "GetTwinRelationships", 1)
	remote.AssertNotCalled(t, "GetRelationships", mock.Anything, mock.Anything)
}

func TestGetTwinRelationships_Empty(t *testing.T) {
	r, remote, _ := newReader(t, nil)
	remote.On("GetTwinRelationships", mock.Anything, "lonely").Return([]twin.Relationship{}, nil).Once()

	for i := 0; i < 2; i++ {
		got, err := r.GetTwinRelationships(ctx, "lonely")
		require.NoError(t, err)
		assert.Empty(t, got)
	}
	remote.AssertNumberOfCalls(t, "GetTwinRelationships", 1)
}

func TestGetTwinRelationships_UnknownTwin(t *testing.T) {
	r, remote, _ := newReader(t, nil)
	remote.On("GetTwinRelationships", mock.Anything, "nope").Return(nil, nil).Once()
	remote.On("GetDigitalTwin", mock.Anything, "nope").Return((*twin.Twin)(nil), nil).Once()

	rels, err := r.GetTwinRelationships(ctx, "nope")
	require.NoError(t, err)
	assert.Empty(t, rels)

	tw, err := r.GetDigitalTwin(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, tw)
}

func TestGetIncomingRelationships_ThenOutgoingMakesNoExtraCall(t *testing.T) {
	r, remote, _ := newReader(t, nil)
	remote.On("GetTwinRelationships", mock.Anything, "floor-1").Return([]twin.Relationship{
		{ID: "r1", SourceID: "ahu-1", TargetID: "floor-1"},
	}, nil).Once()

	in, err := r.GetIncomingRelationships(ctx, "floor-1")
	require.NoError(t, err)
	assert.Len(t, in, 1)

	out, err := r.GetTwinRelationships(ctx, "floor-1")
	require.NoError(t, err)
	assert.Empty(t, out)

	remote.AssertNumberOfCalls(t, "GetTwinRelationships", 1)
}

func TestGetTwinRelationships_FromTopologyFetchesMissingOnce(t *testing.T) {
	topology := &cache.Topology{
		Twins: []cache.TwinRef{{ID: "ahu-1"}, {ID: "floor-1"}, {ID: "sensor-1"}},
		Relationships: []twin.Relationship{
			{ID: "r1", SourceID: "ahu-1", TargetID: "floor-1"},
			{ID: "r2", SourceID: "sensor-1", TargetID: "ahu-1"},
		},
	}
	r, remote, _ := newReader(t, topology)
	remote.On("GetRelationships", mock.Anything, []string{"r1"}).Return([]twin.Relationship{
		{ID: "r1", SourceID: "ahu-1", TargetID: "floor-1", Name: "locatedIn", Properties: map[string]any{"since": "2020"}},
	}, nil).Once()

	for i := 0; i < 2; i++ {
		got, err := r.GetTwinRelationships(ctx, "ahu-1")
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "locatedIn", got[0].Name)
	}

	// Incoming lookups on the other endpoint reuse the fetched edge
	in, err := r.GetIncomingRelationships(ctx, "floor-1")
	require.NoError(t, err)
	assert.Len(t, in, 1)

	remote.AssertNumberOfCalls(t, "GetRelationships", 1)
	remote.AssertNotCalled(t, "GetTwinRelationships", mock.Anything, mock.Anything)
}

func TestGetRelationships_FetchesOnlyMissing(t *testing.T) {
	r, remote, c := newReader(t, nil)
	c.Twins.SetRelationship(&twin.Relationship{ID: "r1", SourceID: "a", TargetID: "b"})

	remote.On("GetRelationships", mock.Anything, []string{"r2", "r3"}).Return([]twin.Relationship{
		{ID: "r2", SourceID: "b", TargetID: "c"},
	}, nil).Once()

	for i := 0; i < 2; i++ {
		got, err := r.GetRelationships(ctx, []string{"r3", "r1", "r2", "r1"})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "r1", got[0].ID)
		assert.Equal(t, "r2", got[1].ID)
	}

	assert.Equal(t, cache.LoadedAbsent, c.Twins.Relationship("r3").State)
	remote.AssertNumberOfCalls(t, "GetRelationships", 1)
}

func TestGetRelationships_All(t *testing.T) {
	r, remote, _ := newReader(t, nil)
	remote.On("GetRelationships", mock.Anything, []string(nil)).Return([]twin.Relationship{
		{ID: "r2", SourceID: "b", TargetID: "c"},
		{ID: "r1", SourceID: "a", TargetID: "b"},
	}, nil).Once()

	for i := 0; i < 2; i++ {
		got, err := r.GetRelationships(ctx, nil)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "r1", got[0].ID)
	}

	// Unknown ids resolve to absent without another call once everything is loaded
	got, err := r.GetRelationships(ctx, []string{"r9"})
	require.NoError(t, err)
	assert.Empty(t, got)

	remote.AssertNumberOfCalls(t, "GetRelationships", 1)
}

func TestLazyReader_PassThroughWhenCacheNotReady(t *testing.T) {
	remote := &MockRemote{}
	r := NewLazyReader(remote, &fakeProvider{ready: false}, nil)

	remote.On("GetDigitalTwin", mock.Anything, "ahu-1").Return(&twin.Twin{ID: "ahu-1"}, nil).Twice()
	remote.On("GetTwinRelationships", mock.Anything, "ahu-1").Return([]twin.Relationship{
		{ID: "r1", SourceID: "ahu-1", TargetID: "floor-1"},
		{ID: "r2", SourceID: "sensor-1", TargetID: "ahu-1"},
	}, nil).Once()

	for i := 0; i < 2; i++ {
		_, err := r.GetDigitalTwin(ctx, "ahu-1")
		require.NoError(t, err)
	}
	out, err := r.GetTwinRelationships(ctx, "ahu-1")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "r1", out[0].ID)

	remote.AssertExpectations(t)
}
