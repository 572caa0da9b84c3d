package catalog

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erazemk/shramba/internal/apperr"
	"github.com/erazemk/shramba/internal/db"
	"github.com/erazemk/shramba/internal/imaging"
	"github.com/erazemk/shramba/internal/model"
	"github.com/erazemk/shramba/internal/store"
)

func newService(t *testing.T) (*Service, *imaging.FS) {
	t.Helper()
	images, err := imaging.NewFS(t.TempDir())
	require.NoError(t, err)
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	return New(db.NewTestDB(t), images, clock, nil), images
}

func ptr(s string) *string { return &s }

func addItem(t *testing.T, s *Service, binID string, categoryID *string) *model.Item {
	t.Helper()
	now := time.Now().UTC()
	item := &model.Item{
		ID: store.NewID(), BinID: binID, CategoryID: categoryID, Name: "Screws",
		Quantity: model.Quantity{Type: model.QuantityExact, Value: 5},
		Source:   model.SourceManual, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, store.InsertItem(context.Background(), s.db, item))
	return item
}

func TestLocationNamesAreUnique(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()

	loc, err := s.CreateLocation(ctx, LocationInput{Name: "  Garage "})
	require.NoError(t, err)
	assert.Equal(t, "Garage", loc.Name)

	_, err = s.CreateLocation(ctx, LocationInput{Name: "Garage"})
	assert.True(t, apperr.Is(err, apperr.AlreadyExists))

	_, err = s.CreateLocation(ctx, LocationInput{Name: "   "})
	assert.True(t, apperr.Is(err, apperr.InvalidInput))

	other, err := s.CreateLocation(ctx, LocationInput{Name: "Attic"})
	require.NoError(t, err)
	_, err = s.UpdateLocation(ctx, other.ID, LocationPatch{Name: ptr("Garage")})
	assert.True(t, apperr.Is(err, apperr.AlreadyExists))

	updated, err := s.UpdateLocation(ctx, other.ID, LocationPatch{Description: ptr("dusty")})
	require.NoError(t, err)
	assert.Equal(t, "Attic", updated.Name)
	assert.Equal(t, "dusty", updated.Description)
}

func TestDeleteLocationWithBins(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()

	loc, err := s.CreateLocation(ctx, LocationInput{Name: "Garage"})
	require.NoError(t, err)
	bin, err := s.CreateBin(ctx, BinInput{LocationID: loc.ID, Name: "Shelf"})
	require.NoError(t, err)

	err = s.DeleteLocation(ctx, loc.ID)
	assert.True(t, apperr.Is(err, apperr.HasDependencies))

	require.NoError(t, s.DeleteBin(ctx, bin.ID))
	require.NoError(t, s.DeleteLocation(ctx, loc.ID))

	_, err = s.GetLocation(ctx, loc.ID)
	assert.True(t, apperr.Is(err, apperr.NotFound))
}

func TestBinNamesUniqueAmongSiblings(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()

	garage, err := s.CreateLocation(ctx, LocationInput{Name: "Garage"})
	require.NoError(t, err)
	attic, err := s.CreateLocation(ctx, LocationInput{Name: "Attic"})
	require.NoError(t, err)

	shelf, err := s.CreateBin(ctx, BinInput{LocationID: garage.ID, Name: "Shelf"})
	require.NoError(t, err)
	assert.Equal(t, "Garage", shelf.LocationName)

	_, err = s.CreateBin(ctx, BinInput{LocationID: garage.ID, Name: "Shelf"})
	assert.True(t, apperr.Is(err, apperr.AlreadyExists))

	// Root bins in different locations never collide.
	_, err = s.CreateBin(ctx, BinInput{LocationID: attic.ID, Name: "Shelf"})
	require.NoError(t, err)

	// A nested bin may share its parent's name.
	_, err = s.CreateBin(ctx, BinInput{LocationID: garage.ID, ParentBinID: &shelf.ID, Name: "Shelf"})
	require.NoError(t, err)

	_, err = s.CreateBin(ctx, BinInput{LocationID: "missing", Name: "Box"})
	assert.True(t, apperr.Is(err, apperr.NotFound))
}

func TestBinParentMustShareLocation(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()

	garage, err := s.CreateLocation(ctx, LocationInput{Name: "Garage"})
	require.NoError(t, err)
	attic, err := s.CreateLocation(ctx, LocationInput{Name: "Attic"})
	require.NoError(t, err)
	shelf, err := s.CreateBin(ctx, BinInput{LocationID: garage.ID, Name: "Shelf"})
	require.NoError(t, err)

	_, err = s.CreateBin(ctx, BinInput{LocationID: attic.ID, ParentBinID: &shelf.ID, Name: "Box"})
	assert.True(t, apperr.Is(err, apperr.InvalidInput))
}

func TestBinReparentRejectsCycles(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()

	loc, err := s.CreateLocation(ctx, LocationInput{Name: "Garage"})
	require.NoError(t, err)
	a, err := s.CreateBin(ctx, BinInput{LocationID: loc.ID, Name: "A"})
	require.NoError(t, err)
	b, err := s.CreateBin(ctx, BinInput{LocationID: loc.ID, ParentBinID: &a.ID, Name: "B"})
	require.NoError(t, err)
	c, err := s.CreateBin(ctx, BinInput{LocationID: loc.ID, ParentBinID: &b.ID, Name: "C"})
	require.NoError(t, err)

	_, err = s.UpdateBin(ctx, a.ID, BinPatch{ParentBinID: &c.ID})
	assert.True(t, apperr.Is(err, apperr.InvalidInput))
	_, err = s.UpdateBin(ctx, a.ID, BinPatch{ParentBinID: &a.ID})
	assert.True(t, apperr.Is(err, apperr.InvalidInput))

	path, err := s.BinPath(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, path, 3)
	assert.Equal(t, []string{"A", "B", "C"}, []string{path[0].Name, path[1].Name, path[2].Name})

	moved, err := s.UpdateBin(ctx, c.ID, BinPatch{ParentBinID: ptr("")})
	require.NoError(t, err)
	assert.Nil(t, moved.ParentBinID)
}

func TestDeleteBinWithItemsLeavesEverythingUnchanged(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()

	loc, err := s.CreateLocation(ctx, LocationInput{Name: "Garage"})
	require.NoError(t, err)
	bin, err := s.CreateBin(ctx, BinInput{LocationID: loc.ID, Name: "Hardware"})
	require.NoError(t, err)
	item := addItem(t, s, bin.ID, nil)

	err = s.DeleteBin(ctx, bin.ID)
	require.Error(t, err)
	assert.Equal(t, apperr.HasDependencies, apperr.CodeOf(err))
	assert.Equal(t, map[string]int{"bins": 0, "items": 1}, apperr.As(err).Details)

	kept, err := s.GetBin(ctx, bin.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, kept.ItemCount)
	stored, err := store.GetItem(ctx, s.db, item.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, bin.ID, stored.BinID)
	assert.Equal(t, 5, stored.Quantity.Value)
}

func TestDeleteBinWithChildBins(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()

	loc, err := s.CreateLocation(ctx, LocationInput{Name: "Garage"})
	require.NoError(t, err)
	parent, err := s.CreateBin(ctx, BinInput{LocationID: loc.ID, Name: "Rack"})
	require.NoError(t, err)
	_, err = s.CreateBin(ctx, BinInput{LocationID: loc.ID, ParentBinID: &parent.ID, Name: "Drawer"})
	require.NoError(t, err)

	assert.True(t, apperr.Is(s.DeleteBin(ctx, parent.ID), apperr.HasDependencies))
}

func TestDeleteBinRemovesImageFiles(t *testing.T) {
	s, images := newService(t)
	ctx := context.Background()

	loc, err := s.CreateLocation(ctx, LocationInput{Name: "Garage"})
	require.NoError(t, err)
	bin, err := s.CreateBin(ctx, BinInput{LocationID: loc.ID, Name: "Shelf"})
	require.NoError(t, err)

	staged, err := images.Save("sessions/s1", []byte("photo"))
	require.NoError(t, err)
	ref, err := images.CopyToBin(staged, bin.ID)
	require.NoError(t, err)
	require.NoError(t, store.InsertBinImage(ctx, s.db, &model.BinImage{
		ID: store.NewID(), BinID: bin.ID, ImageRef: ref, IsPrimary: true, CreatedAt: time.Now().UTC(),
	}))

	listed, err := s.ListBinImages(ctx, bin.ID)
	require.NoError(t, err)
	require.Len(t, listed, 1)

	require.NoError(t, s.DeleteBin(ctx, bin.ID))
	_, err = images.Read(ref)
	assert.Error(t, err)
}

func testJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 320, 240))
	for x := range 320 {
		for y := range 240 {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 120, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func primaries(t *testing.T, s *Service, binID string) []string {
	t.Helper()
	listed, err := s.ListBinImages(context.Background(), binID)
	require.NoError(t, err)
	var ids []string
	for _, img := range listed {
		if img.IsPrimary {
			ids = append(ids, img.ID)
		}
	}
	return ids
}

func TestBinImagesKeepOnePrimary(t *testing.T) {
	s, images := newService(t)
	ctx := context.Background()
	clock := s.clock.(*clockwork.FakeClock)

	loc, err := s.CreateLocation(ctx, LocationInput{Name: "Garage"})
	require.NoError(t, err)
	bin, err := s.CreateBin(ctx, BinInput{LocationID: loc.ID, Name: "Shelf"})
	require.NoError(t, err)

	first, err := s.AddBinImage(ctx, bin.ID, BinImageInput{Data: testJPEG(t), Caption: "front"})
	require.NoError(t, err)
	assert.True(t, first.IsPrimary)
	assert.Equal(t, 320, first.Width)
	assert.NotEqual(t, first.ImageRef, first.ThumbnailRef)
	assert.NotEmpty(t, first.ThumbnailRef)

	clock.Advance(time.Minute)
	second, err := s.AddBinImage(ctx, bin.ID, BinImageInput{Data: testJPEG(t)})
	require.NoError(t, err)
	assert.False(t, second.IsPrimary)
	assert.Equal(t, []string{first.ID}, primaries(t, s, bin.ID))

	clock.Advance(time.Minute)
	third, err := s.AddBinImage(ctx, bin.ID, BinImageInput{Data: testJPEG(t), Primary: true})
	require.NoError(t, err)
	assert.True(t, third.IsPrimary)
	assert.Equal(t, []string{third.ID}, primaries(t, s, bin.ID))

	promoted, err := s.SetPrimaryBinImage(ctx, bin.ID, second.ID)
	require.NoError(t, err)
	assert.True(t, promoted.IsPrimary)
	assert.Equal(t, []string{second.ID}, primaries(t, s, bin.ID))

	// Removing the primary hands it to the oldest remaining image.
	require.NoError(t, s.RemoveBinImage(ctx, bin.ID, second.ID))
	assert.Equal(t, []string{first.ID}, primaries(t, s, bin.ID))
	_, err = images.Read(second.ImageRef)
	assert.Error(t, err)
	_, err = images.Read(second.ThumbnailRef)
	assert.Error(t, err)

	listed, err := s.ListBinImages(ctx, bin.ID)
	require.NoError(t, err)
	assert.Len(t, listed, 2)
}

func TestBinImageErrors(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()

	loc, err := s.CreateLocation(ctx, LocationInput{Name: "Garage"})
	require.NoError(t, err)
	shelf, err := s.CreateBin(ctx, BinInput{LocationID: loc.ID, Name: "Shelf"})
	require.NoError(t, err)
	drawer, err := s.CreateBin(ctx, BinInput{LocationID: loc.ID, Name: "Drawer"})
	require.NoError(t, err)

	_, err = s.AddBinImage(ctx, shelf.ID, BinImageInput{})
	assert.True(t, apperr.Is(err, apperr.InvalidInput))
	_, err = s.AddBinImage(ctx, shelf.ID, BinImageInput{Data: []byte("not an image")})
	assert.True(t, apperr.Is(err, apperr.InvalidInput))
	_, err = s.AddBinImage(ctx, "missing", BinImageInput{Data: testJPEG(t)})
	assert.True(t, apperr.Is(err, apperr.NotFound))

	img, err := s.AddBinImage(ctx, shelf.ID, BinImageInput{Data: testJPEG(t)})
	require.NoError(t, err)
	assert.True(t, apperr.Is(s.RemoveBinImage(ctx, drawer.ID, img.ID), apperr.NotFound))
	_, err = s.SetPrimaryBinImage(ctx, drawer.ID, img.ID)
	assert.True(t, apperr.Is(err, apperr.NotFound))
	_, err = s.SetPrimaryBinImage(ctx, shelf.ID, "missing")
	assert.True(t, apperr.Is(err, apperr.NotFound))
}

func TestRemoveBinImageKeepsFileUsedAsItemPhoto(t *testing.T) {
	s, images := newService(t)
	ctx := context.Background()

	loc, err := s.CreateLocation(ctx, LocationInput{Name: "Garage"})
	require.NoError(t, err)
	bin, err := s.CreateBin(ctx, BinInput{LocationID: loc.ID, Name: "Shelf"})
	require.NoError(t, err)
	img, err := s.AddBinImage(ctx, bin.ID, BinImageInput{Data: testJPEG(t)})
	require.NoError(t, err)

	item := addItem(t, s, bin.ID, nil)
	item.PhotoRef = img.ImageRef
	require.NoError(t, store.UpdateItem(ctx, s.db, item))

	require.NoError(t, s.RemoveBinImage(ctx, bin.ID, img.ID))
	_, err = images.Read(img.ImageRef)
	assert.NoError(t, err)
	_, err = images.Read(img.ThumbnailRef)
	assert.Error(t, err)
	assert.Empty(t, primaries(t, s, bin.ID))
}

func TestDeleteBinsReportsPartialFailure(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()

	loc, err := s.CreateLocation(ctx, LocationInput{Name: "Garage"})
	require.NoError(t, err)
	empty, err := s.CreateBin(ctx, BinInput{LocationID: loc.ID, Name: "Empty"})
	require.NoError(t, err)
	full, err := s.CreateBin(ctx, BinInput{LocationID: loc.ID, Name: "Full"})
	require.NoError(t, err)
	addItem(t, s, full.ID, nil)

	result := s.DeleteBins(ctx, []string{empty.ID, full.ID, "missing"})
	assert.Equal(t, []string{empty.ID}, result.Succeeded)
	require.Len(t, result.Failed, 2)
	assert.Equal(t, full.ID, result.Failed[0].ID)
	assert.Equal(t, string(apperr.HasDependencies), result.Failed[0].Code)
	assert.Equal(t, string(apperr.NotFound), result.Failed[1].Code)
}

func TestDeleteCategoryCascadesEmptyDescendants(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()

	tools, err := s.CreateCategory(ctx, CategoryInput{Name: "Tools"})
	require.NoError(t, err)
	hand, err := s.CreateCategory(ctx, CategoryInput{ParentID: &tools.ID, Name: "Hand tools"})
	require.NoError(t, err)
	hammers, err := s.CreateCategory(ctx, CategoryInput{ParentID: &hand.ID, Name: "Hammers"})
	require.NoError(t, err)

	cascaded, err := s.DeleteCategory(ctx, tools.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{hammers.ID, hand.ID}, cascaded)

	categories, err := s.ListCategories(ctx)
	require.NoError(t, err)
	assert.Empty(t, categories)
}

func TestDeleteCategoryBlockedByDescendantItems(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()

	tools, err := s.CreateCategory(ctx, CategoryInput{Name: "Tools"})
	require.NoError(t, err)
	hand, err := s.CreateCategory(ctx, CategoryInput{ParentID: &tools.ID, Name: "Hand tools"})
	require.NoError(t, err)
	_, err = s.CreateCategory(ctx, CategoryInput{ParentID: &tools.ID, Name: "Power tools"})
	require.NoError(t, err)

	loc, err := s.CreateLocation(ctx, LocationInput{Name: "Garage"})
	require.NoError(t, err)
	bin, err := s.CreateBin(ctx, BinInput{LocationID: loc.ID, Name: "Shelf"})
	require.NoError(t, err)
	addItem(t, s, bin.ID, &hand.ID)

	_, err = s.DeleteCategory(ctx, tools.ID)
	assert.True(t, apperr.Is(err, apperr.HasDependencies))

	// No partial cascade: the empty sibling survives too.
	categories, err := s.ListCategories(ctx)
	require.NoError(t, err)
	assert.Len(t, categories, 3)
}

func TestCategoryReparentRejectsCycles(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()

	root, err := s.CreateCategory(ctx, CategoryInput{Name: "Electronics"})
	require.NoError(t, err)
	child, err := s.CreateCategory(ctx, CategoryInput{ParentID: &root.ID, Name: "Cables"})
	require.NoError(t, err)

	_, err = s.UpdateCategory(ctx, root.ID, CategoryPatch{ParentID: &child.ID})
	assert.True(t, apperr.Is(err, apperr.InvalidInput))

	_, err = s.CreateCategory(ctx, CategoryInput{ParentID: &root.ID, Name: "Cables"})
	assert.True(t, apperr.Is(err, apperr.AlreadyExists))

	renamed, err := s.UpdateCategory(ctx, child.ID, CategoryPatch{Name: ptr("Wires")})
	require.NoError(t, err)
	assert.Equal(t, "Wires", renamed.Name)
}
