package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/erazemk/shramba/internal/db"
	"github.com/erazemk/shramba/internal/model"
)

func seedBin(t *testing.T, database *sql.DB, locationName, binName string) *model.Bin {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	loc, err := GetLocationByName(ctx, database, locationName)
	if err != nil {
		t.Fatalf("GetLocationByName: %v", err)
	}
	if loc == nil {
		loc = &model.Location{ID: NewID(), Name: locationName, CreatedAt: now, UpdatedAt: now}
		if err := InsertLocation(ctx, database, loc); err != nil {
			t.Fatalf("InsertLocation: %v", err)
		}
	}

	bin := &model.Bin{ID: NewID(), LocationID: loc.ID, Name: binName, CreatedAt: now, UpdatedAt: now}
	if err := InsertBin(ctx, database, bin); err != nil {
		t.Fatalf("InsertBin: %v", err)
	}
	return bin
}

func seedItem(t *testing.T, database *sql.DB, binID, name string, qty model.Quantity) *model.Item {
	t.Helper()
	now := time.Now().UTC()
	item := &model.Item{
		ID: NewID(), BinID: binID, Name: name, Quantity: qty,
		Source: model.SourceManual, CreatedAt: now, UpdatedAt: now,
	}
	if err := InsertItem(context.Background(), database, item); err != nil {
		t.Fatalf("InsertItem: %v", err)
	}
	return item
}

func TestInsertAndGetItem(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	bin := seedBin(t, database, "Garage", "Hardware")

	item := seedItem(t, database, bin.ID, "M3 Screws", model.Quantity{Type: model.QuantityExact, Value: 50})

	got, err := GetItem(ctx, database, item.ID)
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if got == nil {
		t.Fatal("expected item")
	}
	if got.Name != "M3 Screws" || got.Quantity.Value != 50 || got.Quantity.Type != model.QuantityExact {
		t.Errorf("unexpected item: %+v", got)
	}
	if got.BinID != bin.ID {
		t.Errorf("expected bin %s, got %s", bin.ID, got.BinID)
	}

	missing, err := GetItem(ctx, database, "nope")
	if err != nil {
		t.Fatalf("GetItem missing: %v", err)
	}
	if missing != nil {
		t.Error("expected nil for missing item")
	}
}

func TestBooleanQuantityConstraint(t *testing.T) {
	database := db.NewTestDB(t)
	bin := seedBin(t, database, "Garage", "Hardware")
	now := time.Now().UTC()

	item := &model.Item{
		ID: NewID(), BinID: bin.ID, Name: "Drill",
		Quantity: model.Quantity{Type: model.QuantityBoolean, Value: 2},
		Source:   model.SourceManual, CreatedAt: now, UpdatedAt: now,
	}
	if err := InsertItem(context.Background(), database, item); err == nil {
		t.Error("expected boolean item with value 2 to be rejected by the schema")
	}
}

func TestDeleteItemKeepsHistoryAndDropsAliases(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	bin := seedBin(t, database, "Garage", "Hardware")
	item := seedItem(t, database, bin.ID, "Hammer", model.Quantity{Type: model.QuantityBoolean, Value: 1})
	now := time.Now().UTC()

	if err := InsertAlias(ctx, database, &model.Alias{ID: NewID(), ItemID: item.ID, Alias: "mallet", CreatedAt: now}); err != nil {
		t.Fatalf("InsertAlias: %v", err)
	}
	delta := 1
	if err := AppendActivity(ctx, database, &model.ActivityEntry{
		ID: NewID(), ItemID: item.ID, ItemName: item.Name, Action: model.ActionAdded,
		QuantityDelta: &delta, ToBinID: &bin.ID, CreatedAt: now,
	}); err != nil {
		t.Fatalf("AppendActivity: %v", err)
	}

	if err := DeleteItem(ctx, database, item.ID); err != nil {
		t.Fatalf("DeleteItem: %v", err)
	}

	aliases, _ := ListAliases(ctx, database, item.ID)
	if len(aliases) != 0 {
		t.Errorf("expected aliases to cascade, got %d", len(aliases))
	}
	history, err := GetItemHistory(ctx, database, item.ID)
	if err != nil {
		t.Fatalf("GetItemHistory: %v", err)
	}
	if len(history) != 1 {
		t.Errorf("expected history to survive item deletion, got %d entries", len(history))
	}
}

func TestDuplicateAliasIsUniqueViolation(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	bin := seedBin(t, database, "Garage", "Hardware")
	item := seedItem(t, database, bin.ID, "Hammer", model.Quantity{Type: model.QuantityBoolean, Value: 1})
	now := time.Now().UTC()

	if err := InsertAlias(ctx, database, &model.Alias{ID: NewID(), ItemID: item.ID, Alias: "mallet", CreatedAt: now}); err != nil {
		t.Fatalf("InsertAlias: %v", err)
	}
	err := InsertAlias(ctx, database, &model.Alias{ID: NewID(), ItemID: item.ID, Alias: "mallet", CreatedAt: now})
	if !IsUniqueViolation(err) {
		t.Errorf("expected unique violation, got %v", err)
	}
}

func TestListItemsByBin(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	a := seedBin(t, database, "Garage", "A")
	b := seedBin(t, database, "Garage", "B")
	seedItem(t, database, a.ID, "Tape", model.Quantity{Type: model.QuantityExact, Value: 2})
	seedItem(t, database, a.ID, "Glue", model.Quantity{Type: model.QuantityExact, Value: 1})
	seedItem(t, database, b.ID, "Wire", model.Quantity{Type: model.QuantityExact, Value: 9})

	items, err := ListItems(ctx, database, ItemFilter{BinID: a.ID})
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	if len(items) != 2 || items[0].Name != "Glue" {
		t.Errorf("expected 2 items sorted by name, got %+v", items)
	}

	count, _ := CountItemsInBin(ctx, database, b.ID)
	if count != 1 {
		t.Errorf("expected 1 item in bin B, got %d", count)
	}
}
