package scene

import (
	"context"
	"strings"
	"testing"
	"time"

	"scene-gen/internal/common/apperr"
	"scene-gen/internal/scene/models"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadedGraph(t *testing.T) (*Graph, *fakeStore, models.Asset) {
	t.Helper()
	store := newFakeStore()
	p := store.addProject("Living room")
	g := NewGraph(store, fastRetry(3))
	require.NoError(t, g.LoadProject(context.Background(), p.ID))

	sofa, err := g.AddAsset(context.Background(), models.NewAsset{
		Category:   models.CategoryFurniture,
		ImageURL:   "https://cdn.example/sofa.png",
		Attributes: map[string]string{"material": "Cognac Leather"},
	})
	require.NoError(t, err)
	return g, store, sofa
}

func TestLoadProjectNotFound(t *testing.T) {
	g := NewGraph(newFakeStore(), fastRetry(3))

	err := g.LoadProject(context.Background(), 42)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, loaded := g.ProjectID()
	assert.False(t, loaded)
}

func TestLoadProjectRetriesTransport(t *testing.T) {
	store := newFakeStore()
	p := store.addProject("Kitchen")
	store.loadErr = func(call int) error {
		if call < 3 {
			return apperr.Transport("load", nil)
		}
		return nil
	}
	g := NewGraph(store, fastRetry(5))

	require.NoError(t, g.LoadProject(context.Background(), p.ID))
	assert.Equal(t, 3, store.loadCalls)
}

func TestLoadProjectSurfacesTransportAfterRetries(t *testing.T) {
	store := newFakeStore()
	p := store.addProject("Kitchen")
	store.loadErr = func(int) error { return apperr.Transport("load", nil) }
	g := NewGraph(store, fastRetry(2))

	err := g.LoadProject(context.Background(), p.ID)
	assert.ErrorIs(t, err, apperr.ErrTransport)
	assert.Equal(t, 2, store.loadCalls)
}

func TestAddAssetThenLoadRoundTrip(t *testing.T) {
	g, _, sofa := loadedGraph(t)
	projectID, _ := g.ProjectID()

	require.NoError(t, g.LoadProject(context.Background(), projectID))

	snap := g.Snapshot()
	require.Len(t, snap.Assets, 1)
	if diff := cmp.Diff(sofa, snap.Assets[0]); diff != "" {
		t.Errorf("asset mismatch (-want +got):\n%s", diff)
	}
}

func TestAddAssetWithoutProject(t *testing.T) {
	g := NewGraph(newFakeStore(), fastRetry(1))

	_, err := g.AddAsset(context.Background(), models.NewAsset{Category: models.CategoryFurniture, ImageURL: "x"})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestMostRecentFloorplanWins(t *testing.T) {
	g, _, _ := loadedGraph(t)
	ctx := context.Background()

	_, err := g.AddAsset(ctx, models.NewAsset{Category: models.CategoryFloorplan, ImageURL: "plan-1.png"})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	_, err = g.AddAsset(ctx, models.NewAsset{Category: models.CategoryFloorplan, ImageURL: "plan-2.png"})
	require.NoError(t, err)

	snap := g.Snapshot()
	require.NotNil(t, snap.Floorplan)
	assert.Equal(t, "plan-2.png", snap.Floorplan.ImageURL)
}

func TestPlaceElementVisibleBeforeStoreResponds(t *testing.T) {
	g, store, sofa := loadedGraph(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	store.createElementHook = func(context.Context) error {
		close(entered)
		<-release
		return nil
	}

	type result struct {
		el  models.SceneElement
		err error
	}
	done := make(chan result, 1)
	go func() {
		el, err := g.PlaceElement(context.Background(), sofa.ID, &models.Point{X: 150, Y: 200})
		done <- result{el, err}
	}()

	<-entered
	snap := g.Snapshot()
	require.Len(t, snap.Elements, 1)
	provisional := snap.Elements[0]
	assert.True(t, strings.HasPrefix(provisional.Key, provisionalPrefix))
	assert.Equal(t, models.SaveStatePending, provisional.SaveState)
	assert.Equal(t, models.DefaultTransform(models.Point{X: 150, Y: 200}), provisional.Transform)
	require.NoError(t, g.Select(provisional.Key))

	close(release)
	res := <-done
	require.NoError(t, res.err)
	assert.NotZero(t, res.el.ID)
	assert.Equal(t, durableKey(res.el.ID), res.el.Key)
	assert.Equal(t, models.SaveStateSaved, res.el.SaveState)

	// selection follows the remapped key; the provisional key still resolves
	assert.Equal(t, res.el.Key, g.Selected())
	el, ok := g.Element(provisional.Key)
	require.True(t, ok)
	assert.Equal(t, res.el.ID, el.ID)
}

func TestPlaceElementRollsBackOnFailure(t *testing.T) {
	g, store, sofa := loadedGraph(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	store.createElementHook = func(context.Context) error {
		close(entered)
		<-release
		return apperr.Transport("create element", nil)
	}

	errc := make(chan error, 1)
	go func() {
		_, err := g.PlaceElement(context.Background(), sofa.ID, &models.Point{X: 1, Y: 2})
		errc <- err
	}()

	<-entered
	assert.Len(t, g.Snapshot().Elements, 1)
	close(release)

	err := <-errc
	assert.ErrorIs(t, err, apperr.ErrTransport)
	assert.Empty(t, g.Snapshot().Elements)
}

func TestPlaceElementValidation(t *testing.T) {
	g, _, sofa := loadedGraph(t)
	ctx := context.Background()

	_, err := g.PlaceElement(ctx, sofa.ID, nil)
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = g.PlaceElement(ctx, 9999, &models.Point{})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	assert.Empty(t, g.Snapshot().Elements)
}

func TestSelectionIsExclusive(t *testing.T) {
	g, _, sofa := loadedGraph(t)
	ctx := context.Background()
	a, err := g.PlaceElement(ctx, sofa.ID, &models.Point{X: 1, Y: 1})
	require.NoError(t, err)
	b, err := g.PlaceElement(ctx, sofa.ID, &models.Point{X: 2, Y: 2})
	require.NoError(t, err)

	require.NoError(t, g.Select(a.Key))
	require.NoError(t, g.Select(b.Key))
	assert.Equal(t, b.Key, g.Selected())

	assert.ErrorIs(t, g.Select("nope"), apperr.ErrNotFound)
	assert.Equal(t, b.Key, g.Selected())

	g.ClearSelection()
	assert.Empty(t, g.Selected())
}

func TestDeleteElement(t *testing.T) {
	g, store, sofa := loadedGraph(t)
	ctx := context.Background()
	el, err := g.PlaceElement(ctx, sofa.ID, &models.Point{X: 5, Y: 5})
	require.NoError(t, err)
	require.NoError(t, g.Select(el.Key))

	require.NoError(t, g.DeleteElement(ctx, el.Key))

	assert.Empty(t, g.Snapshot().Elements)
	assert.Empty(t, g.Selected())
	_, ok := store.stored(el.ID)
	assert.False(t, ok)
}

func TestDeleteUnknownElementLeavesGraphUnchanged(t *testing.T) {
	g, _, sofa := loadedGraph(t)
	ctx := context.Background()
	_, err := g.PlaceElement(ctx, sofa.ID, &models.Point{X: 5, Y: 5})
	require.NoError(t, err)
	before := g.Snapshot()

	err = g.DeleteElement(ctx, "does-not-exist")

	assert.ErrorIs(t, err, apperr.ErrNotFound)
	if diff := cmp.Diff(before, g.Snapshot()); diff != "" {
		t.Errorf("graph changed (-before +after):\n%s", diff)
	}
}

func TestDeleteElementRestoredOnFailure(t *testing.T) {
	g, store, sofa := loadedGraph(t)
	ctx := context.Background()
	first, err := g.PlaceElement(ctx, sofa.ID, &models.Point{X: 1, Y: 1})
	require.NoError(t, err)
	second, err := g.PlaceElement(ctx, sofa.ID, &models.Point{X: 2, Y: 2})
	require.NoError(t, err)
	require.NoError(t, g.Select(first.Key))
	store.deleteErr = apperr.Transport("delete", nil)

	err = g.DeleteElement(ctx, first.Key)

	assert.ErrorIs(t, err, apperr.ErrTransport)
	snap := g.Snapshot()
	require.Len(t, snap.Elements, 2)
	assert.Equal(t, first.Key, snap.Elements[0].Key)
	assert.Equal(t, second.Key, snap.Elements[1].Key)
	assert.Equal(t, first.Key, snap.Selected)
}

func TestSnapshotIsACopy(t *testing.T) {
	g, _, _ := loadedGraph(t)

	snap := g.Snapshot()
	snap.Assets[0].Attributes["material"] = "Velvet"

	assert.Equal(t, "Cognac Leather", g.Snapshot().Assets[0].Attributes["material"])
}
