package session

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erazemk/shramba/internal/apperr"
	"github.com/erazemk/shramba/internal/db"
	"github.com/erazemk/shramba/internal/imaging"
	"github.com/erazemk/shramba/internal/inventory"
	"github.com/erazemk/shramba/internal/model"
	"github.com/erazemk/shramba/internal/search"
	"github.com/erazemk/shramba/internal/store"
	"github.com/erazemk/shramba/internal/vision"
)

type fakeExtractor struct {
	calls atomic.Int32
	ex    *model.Extraction
	err   error
}

func (f *fakeExtractor) Extract(ctx context.Context, req vision.Request) (*model.Extraction, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.ex, nil
}

// flakyStore fails CopyToBin from the failAt-th call on and, when
// failDelete is set, every Delete.
type flakyStore struct {
	*imaging.FS
	copies     atomic.Int32
	failAt     int32
	failDelete bool
}

func (s *flakyStore) CopyToBin(ref, binID string) (string, error) {
	if n := s.copies.Add(1); s.failAt > 0 && n >= s.failAt {
		return "", errors.New("disk full")
	}
	return s.FS.CopyToBin(ref, binID)
}

func (s *flakyStore) Delete(ref string) (bool, error) {
	if s.failDelete {
		return false, errors.New("permission denied")
	}
	return s.FS.Delete(ref)
}

type fixture struct {
	m        *Manager
	db       *sql.DB
	clock    *clockwork.FakeClock
	images   *flakyStore
	vision   *fakeExtractor
	location *model.Location
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	database := db.NewTestDB(t)
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	fs, err := imaging.NewFS(t.TempDir())
	require.NoError(t, err)
	images := &flakyStore{FS: fs}
	extractor := &fakeExtractor{}

	engine := inventory.New(database, search.NewSynchronizer(search.NewFTS(), nil, nil), clock, nil)
	m := New(database, engine, images, extractor, Options{Clock: clock})
	t.Cleanup(m.Close)

	now := clock.Now()
	loc := &model.Location{ID: store.NewID(), Name: "Garage", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, store.InsertLocation(context.Background(), database, loc))
	return &fixture{m: m, db: database, clock: clock, images: images, vision: extractor, location: loc}
}

func (f *fixture) bin(t *testing.T, name string) *model.Bin {
	t.Helper()
	now := f.clock.Now()
	bin := &model.Bin{ID: store.NewID(), LocationID: f.location.ID, Name: name, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, store.InsertBin(context.Background(), f.db, bin))
	return bin
}

func (f *fixture) create(t *testing.T, target Target) *model.Session {
	t.Helper()
	res, err := f.m.Create(context.Background(), target)
	require.NoError(t, err)
	return res.Session
}

func (f *fixture) pend(t *testing.T, sessionID, name string, q model.Quantity) *model.PendingItem {
	t.Helper()
	p, err := f.m.AddPending(context.Background(), sessionID, PendingInput{Name: name, Quantity: q})
	require.NoError(t, err)
	return p
}

func testJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := range w {
		for y := range h {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 100, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func ptr(s string) *string { return &s }

func exact(n int) model.Quantity {
	return model.Quantity{Type: model.QuantityExact, Value: n}
}

func TestCommitCreatesDefaultBinInLocation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s := f.create(t, Target{LocationID: &f.location.ID})
	f.pend(t, s.ID, "Tape measure", model.Quantity{Type: model.QuantityBoolean})
	f.pend(t, s.ID, "Zip ties", exact(100))

	summary, err := f.m.Commit(ctx, s.ID, nil)
	require.NoError(t, err)
	assert.True(t, summary.BinCreated)
	assert.Len(t, summary.ItemsAdded, 2)

	bin, err := store.GetBin(ctx, f.db, summary.TargetBinID)
	require.NoError(t, err)
	require.NotNil(t, bin)
	assert.Equal(t, model.DefaultBinName, bin.Name)
	assert.Equal(t, f.location.ID, bin.LocationID)

	items, err := store.ListItems(ctx, f.db, store.ItemFilter{BinID: bin.ID})
	require.NoError(t, err)
	require.Len(t, items, 2)
	for _, item := range items {
		assert.Equal(t, model.SourceManual, item.Source)
		assert.Equal(t, s.ID, item.SourceReference)
	}

	detail, err := f.m.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionCommitted, detail.Status)
	require.NotNil(t, detail.CommittedAt)
	require.NotNil(t, detail.Summary)
	assert.Equal(t, &summary.CommitSummary, detail.Summary.Commit)

	require.NotNil(t, summary.Session)
	assert.Equal(t, model.SessionCommitted, summary.Session.Status)
	assert.Equal(t, detail.CommittedAt, summary.Session.CommittedAt)
	require.NotNil(t, summary.Session.Summary)
	assert.Equal(t, &summary.CommitSummary, summary.Session.Summary.Commit)
	assert.Equal(t, bin.ID, *summary.Session.TargetBinID)

	// The default bin is reused by later commits.
	s2 := f.create(t, Target{LocationID: &f.location.ID})
	f.pend(t, s2.ID, "Pliers", model.Quantity{Type: model.QuantityBoolean})
	summary2, err := f.m.Commit(ctx, s2.ID, nil)
	require.NoError(t, err)
	assert.False(t, summary2.BinCreated)
	assert.Equal(t, bin.ID, summary2.TargetBinID)
}

func TestCommitTargetResolution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	shelf := f.bin(t, "Shelf")
	drawer := f.bin(t, "Drawer")

	untargeted := f.create(t, Target{})
	f.pend(t, untargeted.ID, "Glue", exact(1))
	_, err := f.m.Commit(ctx, untargeted.ID, nil)
	assert.True(t, apperr.Is(err, apperr.NoTarget))

	summary, err := f.m.Commit(ctx, untargeted.ID, &drawer.ID)
	require.NoError(t, err)
	assert.Equal(t, drawer.ID, summary.TargetBinID)

	targeted := f.create(t, Target{BinID: &shelf.ID})
	summary, err = f.m.Commit(ctx, targeted.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, shelf.ID, summary.TargetBinID)
	assert.Empty(t, summary.ItemsAdded)

	_, err = f.m.Commit(ctx, targeted.ID, nil)
	assert.True(t, apperr.Is(err, apperr.InvalidInput))

	_, err = f.m.Commit(ctx, "missing", nil)
	assert.True(t, apperr.Is(err, apperr.NotFound))
}

func TestStaleSessionBlocksCreate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.create(t, Target{LocationID: &f.location.ID})
	f.pend(t, a.ID, "Drill", model.Quantity{Type: model.QuantityBoolean})

	f.clock.Advance(31 * time.Minute)

	_, err := f.m.Create(ctx, Target{})
	require.True(t, apperr.Is(err, apperr.SessionBlocked))
	stale, ok := apperr.As(err).Details.([]model.StaleSession)
	require.True(t, ok)
	require.Len(t, stale, 1)
	assert.Equal(t, a.ID, stale[0].ID)
	assert.Equal(t, 31, stale[0].IdleMinutes)
	assert.Equal(t, 1, stale[0].PendingItems)

	_, err = f.m.AddPending(ctx, a.ID, PendingInput{Name: "Saw"})
	assert.True(t, apperr.Is(err, apperr.SessionStale))

	active, err := f.m.Active(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.True(t, active[0].Stale)
	assert.Equal(t, 1, active[0].PendingItems)

	resumed, err := f.m.Resume(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, resumed.Stale)

	_, err = f.m.Create(ctx, Target{})
	assert.NoError(t, err)
}

func TestStaleSessionCanStillBeCommitted(t *testing.T) {
	f := newFixture(t)
	s := f.create(t, Target{LocationID: &f.location.ID})
	f.pend(t, s.ID, "Level", model.Quantity{Type: model.QuantityBoolean})
	f.clock.Advance(time.Hour)

	_, err := f.m.Commit(context.Background(), s.ID, nil)
	assert.NoError(t, err)
}

func TestCreateValidatesTarget(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	shelf := f.bin(t, "Shelf")

	_, err := f.m.Create(ctx, Target{BinID: ptr("missing")})
	assert.True(t, apperr.Is(err, apperr.NotFound))

	now := f.clock.Now()
	attic := &model.Location{ID: store.NewID(), Name: "Attic", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, store.InsertLocation(ctx, f.db, attic))
	_, err = f.m.Create(ctx, Target{BinID: &shelf.ID, LocationID: &attic.ID})
	assert.True(t, apperr.Is(err, apperr.InvalidInput))

	first, err := f.m.Create(ctx, Target{BinID: &shelf.ID})
	require.NoError(t, err)
	assert.Empty(t, first.Warning)

	second, err := f.m.Create(ctx, Target{BinID: &shelf.ID})
	require.NoError(t, err)
	assert.Contains(t, second.Warning, first.Session.ID)
}

func TestPendingItemMutations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.create(t, Target{})
	p := f.pend(t, s.ID, "Wrench", exact(2))

	updated, err := f.m.UpdatePending(ctx, s.ID, p.ID, PendingPatch{Quantity: &model.Quantity{Type: model.QuantityExact, Value: 3}})
	require.NoError(t, err)
	assert.Equal(t, 3, updated.Quantity.Value)
	assert.Equal(t, "Wrench", updated.Name)

	_, err = f.m.UpdatePending(ctx, s.ID, p.ID, PendingPatch{Name: ptr(" ")})
	assert.True(t, apperr.Is(err, apperr.InvalidInput))

	_, err = f.m.AddPending(ctx, s.ID, PendingInput{Name: "Nails", CategoryID: ptr("missing")})
	assert.True(t, apperr.Is(err, apperr.NotFound))

	other := f.create(t, Target{})
	assert.True(t, apperr.Is(f.m.RemovePending(ctx, other.ID, p.ID), apperr.NotFound))
	require.NoError(t, f.m.RemovePending(ctx, s.ID, p.ID))

	_, err = f.m.Cancel(ctx, s.ID, "")
	require.NoError(t, err)
	_, err = f.m.AddPending(ctx, s.ID, PendingInput{Name: "Nails"})
	assert.True(t, apperr.Is(err, apperr.InvalidInput))
	_, err = f.m.AddPending(ctx, "missing", PendingInput{Name: "Nails"})
	assert.True(t, apperr.Is(err, apperr.NotFound))
}

func TestCommitPromotesImages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	shelf := f.bin(t, "Shelf")
	s := f.create(t, Target{BinID: &shelf.ID})

	first, err := f.m.AddImage(ctx, s.ID, ImageInput{Data: testJPEG(t, 64, 32), Filename: `C:\photos\shelf.jpg`})
	require.NoError(t, err)
	assert.Nil(t, first.Done)
	assert.Equal(t, "shelf.jpg", first.Image.OriginalFilename)
	assert.Equal(t, model.ExtractionNone, first.Image.ExtractionStatus)
	_, err = f.m.AddImage(ctx, s.ID, ImageInput{Data: testJPEG(t, 32, 32)})
	require.NoError(t, err)

	p, err := f.m.AddPending(ctx, s.ID, PendingInput{Name: "Router", SourceImageID: &first.Image.ID})
	require.NoError(t, err)
	assert.Equal(t, exact(0), p.Quantity)

	summary, err := f.m.Commit(ctx, s.ID, nil)
	require.NoError(t, err)
	require.Len(t, summary.ImagesSaved, 2)

	binImages, err := store.ListBinImages(ctx, f.db, store.BinImageFilter{BinID: shelf.ID})
	require.NoError(t, err)
	require.Len(t, binImages, 2)
	primaries := 0
	for _, bi := range binImages {
		if bi.IsPrimary {
			primaries++
		}
		_, err := f.images.Read(bi.ImageRef)
		assert.NoError(t, err)
		require.NotNil(t, bi.SourceSessionID)
		assert.Equal(t, s.ID, *bi.SourceSessionID)
	}
	assert.Equal(t, 1, primaries)

	item, err := store.GetItem(ctx, f.db, summary.ItemsAdded[0])
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Contains(t, item.PhotoRef, "bins/"+shelf.ID+"/")
	_, err = f.images.Read(item.PhotoRef)
	assert.NoError(t, err)
}

func TestCommitFailureRollsBackAndRemovesCopies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	shelf := f.bin(t, "Shelf")
	s := f.create(t, Target{BinID: &shelf.ID})
	f.pend(t, s.ID, "Sander", model.Quantity{Type: model.QuantityBoolean})
	_, err := f.m.AddImage(ctx, s.ID, ImageInput{Data: testJPEG(t, 40, 40)})
	require.NoError(t, err)
	_, err = f.m.AddImage(ctx, s.ID, ImageInput{Data: testJPEG(t, 50, 50)})
	require.NoError(t, err)

	// Image, thumbnail and second image copy fine; the second thumbnail fails.
	f.images.failAt = 4
	_, err = f.m.Commit(ctx, s.ID, nil)
	require.Error(t, err)
	assert.Equal(t, apperr.Internal, apperr.CodeOf(err))

	detail, err := f.m.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionPending, detail.Status)
	assert.Len(t, detail.PendingItems, 1)

	items, err := store.ListItems(ctx, f.db, store.ItemFilter{BinID: shelf.ID})
	require.NoError(t, err)
	assert.Empty(t, items)
	binImages, err := store.ListBinImages(ctx, f.db, store.BinImageFilter{BinID: shelf.ID})
	require.NoError(t, err)
	assert.Empty(t, binImages)

	for _, img := range detail.Images {
		_, err := f.images.Read(img.ImageRef)
		assert.NoError(t, err, "staged files survive a failed commit")
	}
	// Nothing was left behind in the bin directory.
	_, err = f.images.Read("bins/" + shelf.ID + "/" + flatten(detail.Images[0].ImageRef))
	assert.Error(t, err)

	f.images.failAt = 0
	_, err = f.m.Commit(ctx, s.ID, nil)
	assert.NoError(t, err)
}

func TestCancelDiscardsImagesEvenWhenDeletionFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.create(t, Target{})
	f.pend(t, s.ID, "Clamp", exact(4))
	_, err := f.m.AddImage(ctx, s.ID, ImageInput{Data: testJPEG(t, 20, 20)})
	require.NoError(t, err)

	f.images.failDelete = true
	cancelled, err := f.m.Cancel(ctx, s.ID, "  wrong shelf ")
	require.NoError(t, err)
	assert.Equal(t, model.SessionCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledAt)
	require.NotNil(t, cancelled.Summary)
	require.NotNil(t, cancelled.Summary.Cancel)
	assert.Equal(t, "wrong shelf", cancelled.Summary.Cancel.Reason)
	assert.Nil(t, cancelled.Summary.Commit)

	detail, err := f.m.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionCancelled, detail.Status)
	require.NotNil(t, detail.CancelledAt)
	require.Len(t, detail.Images, 1)
	assert.True(t, detail.Images[0].Discarded)
	assert.Len(t, detail.PendingItems, 1)

	_, err = f.m.Cancel(ctx, s.ID, "")
	assert.True(t, apperr.Is(err, apperr.InvalidInput))
	_, err = f.m.Commit(ctx, s.ID, nil)
	assert.True(t, apperr.Is(err, apperr.InvalidInput))

	history, err := f.m.History(ctx, store.SessionHistoryFilter{Status: model.SessionCancelled})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, s.ID, history[0].ID)

	_, err = f.m.History(ctx, store.SessionHistoryFilter{Status: model.SessionPending})
	assert.True(t, apperr.Is(err, apperr.InvalidInput))
}

func TestCancelDeletesStagedFiles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.create(t, Target{})
	upload, err := f.m.AddImage(ctx, s.ID, ImageInput{Data: testJPEG(t, 20, 20)})
	require.NoError(t, err)

	_, err = f.m.Cancel(ctx, s.ID, "")
	require.NoError(t, err)
	_, err = f.images.Read(upload.Image.ImageRef)
	assert.Error(t, err)
	_, err = f.images.Read(upload.Image.ThumbnailRef)
	assert.Error(t, err)
}

func TestQueuedExtractionStagesCandidates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := f.clock.Now()
	screws := &model.Category{ID: store.NewID(), Name: "Screws", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, store.InsertCategory(ctx, f.db, screws))

	f.vision.ex = &model.Extraction{
		Model: "test",
		Candidates: []model.Candidate{
			{Name: "M4 bolts", Quantity: exact(12), Confidence: 0.9, CategorySuggestion: "screws"},
			{Name: "Tape", Quantity: model.Quantity{Type: model.QuantityApproximate, Value: 1, Label: "roll"}, Confidence: 0.4},
		},
	}

	s := f.create(t, Target{})
	upload, err := f.m.AddImage(ctx, s.ID, ImageInput{Data: testJPEG(t, 30, 30), Extract: true, Hint: "bolts"})
	require.NoError(t, err)
	assert.Equal(t, model.ExtractionQueued, upload.Image.ExtractionStatus)
	require.NotNil(t, upload.Done)

	var res ExtractionResult
	select {
	case res = <-upload.Done:
	case <-time.After(5 * time.Second):
		t.Fatal("extraction did not finish")
	}
	require.NoError(t, res.Err)
	require.Len(t, res.Items, 2)
	assert.Equal(t, model.PendingVision, res.Items[0].Source)
	require.NotNil(t, res.Items[0].CategoryID)
	assert.Equal(t, screws.ID, *res.Items[0].CategoryID)
	assert.Nil(t, res.Items[1].CategoryID)

	detail, err := f.m.Get(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, detail.Images, 1)
	assert.Equal(t, model.ExtractionDone, detail.Images[0].ExtractionStatus)
	require.NotNil(t, detail.Images[0].Extraction)
	assert.Equal(t, "test", detail.Images[0].Extraction.Model)
	assert.Len(t, detail.PendingItems, 2)

	summary, err := f.m.Commit(ctx, s.ID, nil)
	assert.True(t, apperr.Is(err, apperr.NoTarget))
	assert.Nil(t, summary)
}

func TestExtractionFailureIsRecorded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.vision.err = errors.New("upstream unavailable")

	s := f.create(t, Target{})
	upload, err := f.m.AddImage(ctx, s.ID, ImageInput{Data: testJPEG(t, 30, 30)})
	require.NoError(t, err)

	_, err = f.m.Extract(ctx, s.ID, upload.Image.ID, "")
	require.Error(t, err)

	img, err := store.GetSessionImage(ctx, f.db, upload.Image.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExtractionFailed, img.ExtractionStatus)
	assert.Contains(t, img.ExtractionError, "upstream unavailable")

	_, err = f.m.Extract(ctx, s.ID, "missing", "")
	assert.True(t, apperr.Is(err, apperr.NotFound))
}

func TestAddImageRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.create(t, Target{})

	_, err := f.m.AddImage(ctx, s.ID, ImageInput{Data: []byte("GIF89a not really")})
	assert.True(t, apperr.Is(err, apperr.InvalidInput))

	_, err = f.m.AddImage(ctx, s.ID, ImageInput{})
	assert.True(t, apperr.Is(err, apperr.InvalidInput))

	noVision := New(f.db, nil, f.images, nil, Options{Clock: f.clock})
	_, err = noVision.AddImage(ctx, s.ID, ImageInput{Data: testJPEG(t, 10, 10), Extract: true})
	assert.True(t, apperr.Is(err, apperr.InvalidInput))
	assert.Zero(t, f.vision.calls.Load())
}

func flatten(ref string) string {
	out := []byte(ref)
	for i, c := range out {
		if c == '/' {
			out[i] = '_'
		}
	}
	return string(out)
}
