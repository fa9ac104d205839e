package activitypub

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/deemkeen/vidfed/db"
	"github.com/deemkeen/vidfed/domain"
)

func seedVideos(t *testing.T, database *db.DB, owner string, n int, restricted bool) {
	t.Helper()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		v := &domain.Video{
			Slug:         fmt.Sprintf("%s-%02d-%t", owner, i, restricted),
			Title:        fmt.Sprintf("Video %d", i),
			Owner:        owner,
			DateAdded:    base.Add(time.Duration(i) * time.Hour),
			IsRestricted: restricted,
		}
		if err := database.SaveVideo(context.Background(), v); err != nil {
			t.Fatalf("SaveVideo failed: %v", err)
		}
	}
}

func TestOutboxPagination(t *testing.T) {
	database := newTestDB(t)
	seedVideos(t, database, "alice", 30, false)
	seedVideos(t, database, "alice", 2, true)
	p := NewPaginator(database, NewURLs(testBaseURL), 0)
	ctx := context.Background()
	outbox := testBaseURL + "/ap/outbox"

	collection, err := p.Outbox(ctx, "", 0)
	if err != nil {
		t.Fatalf("Outbox failed: %v", err)
	}
	if collection["type"] != "OrderedCollection" || collection["totalItems"] != 30 {
		t.Errorf("Unexpected collection %v", collection)
	}
	if collection["first"] != outbox+"?page=1" {
		t.Errorf("Unexpected first %v", collection["first"])
	}

	page1, err := p.Outbox(ctx, "", 1)
	if err != nil {
		t.Fatalf("Outbox page 1 failed: %v", err)
	}
	items := page1["orderedItems"].([]map[string]any)
	if len(items) != DefaultPageSize {
		t.Errorf("Expected %d items, got %d", DefaultPageSize, len(items))
	}
	if page1["next"] != outbox+"?page=2" {
		t.Errorf("Expected next page, got %v", page1["next"])
	}
	if _, ok := page1["prev"]; ok {
		t.Error("First page has no prev")
	}
	if page1["partOf"] != outbox || page1["type"] != "OrderedCollectionPage" {
		t.Errorf("Unexpected page %v", page1)
	}
	// newest first
	if items[0]["object"] != testBaseURL+"/ap/video/alice-29-false" {
		t.Errorf("Expected newest video first, got %v", items[0]["object"])
	}
	if items[0]["type"] != "Announce" || items[0]["actor"] != testBaseURL+"/ap" {
		t.Errorf("Unexpected item %v", items[0])
	}

	page2, err := p.Outbox(ctx, "", 2)
	if err != nil {
		t.Fatalf("Outbox page 2 failed: %v", err)
	}
	if n := len(page2["orderedItems"].([]map[string]any)); n != 5 {
		t.Errorf("Expected 5 items, got %d", n)
	}
	if _, ok := page2["next"]; ok {
		t.Error("Last page must not link a next page")
	}
	if page2["prev"] != outbox+"?page=1" {
		t.Errorf("Unexpected prev %v", page2["prev"])
	}

	page3, err := p.Outbox(ctx, "", 3)
	if err != nil {
		t.Fatalf("Outbox page 3 failed: %v", err)
	}
	if n := len(page3["orderedItems"].([]map[string]any)); n != 0 {
		t.Errorf("Expected an empty page past the end, got %d items", n)
	}
}

func TestOutboxExactPageBoundary(t *testing.T) {
	database := newTestDB(t)
	seedVideos(t, database, "alice", 10, false)
	p := NewPaginator(database, NewURLs(testBaseURL), 5)

	page2, err := p.Outbox(context.Background(), "", 2)
	if err != nil {
		t.Fatalf("Outbox failed: %v", err)
	}
	if _, ok := page2["next"]; ok {
		t.Error("A full last page must not link a next page")
	}
}

func TestOutboxPagePastTheEnd(t *testing.T) {
	database := newTestDB(t)
	seedVideos(t, database, "alice", 3, false)
	p := NewPaginator(database, NewURLs(testBaseURL), 2)
	outbox := testBaseURL + "/ap/outbox"

	for _, page := range []int{3, 1 << 40, math.MaxInt} {
		doc, err := p.Outbox(context.Background(), "", page)
		if err != nil {
			t.Fatalf("Outbox page %d failed: %v", page, err)
		}
		if n := len(doc["orderedItems"].([]map[string]any)); n != 0 {
			t.Errorf("Page %d: expected no items, got %d", page, n)
		}
		if next, ok := doc["next"]; ok {
			t.Errorf("Page %d must not link a next page, got %v", page, next)
		}
		if doc["prev"] != outbox+"?page=2" {
			t.Errorf("Page %d: expected prev to be the last page, got %v", page, doc["prev"])
		}
	}
}

func TestOutboxPerAccount(t *testing.T) {
	database := newTestDB(t)
	seedVideos(t, database, "alice", 3, false)
	seedVideos(t, database, "bob", 2, false)
	p := NewPaginator(database, NewURLs(testBaseURL), 0)
	ctx := context.Background()

	collection, err := p.Outbox(ctx, "bob", 0)
	if err != nil {
		t.Fatalf("Outbox failed: %v", err)
	}
	if collection["id"] != testBaseURL+"/ap/account/bob/outbox" || collection["totalItems"] != 2 {
		t.Errorf("Unexpected collection %v", collection)
	}

	page, err := p.Outbox(ctx, "bob", 1)
	if err != nil {
		t.Fatalf("Outbox failed: %v", err)
	}
	for _, item := range page["orderedItems"].([]map[string]any) {
		if item["actor"] != testBaseURL+"/ap/account/bob" {
			t.Errorf("Unexpected actor %v", item["actor"])
		}
	}
}

func TestOutboxEmpty(t *testing.T) {
	p := NewPaginator(newTestDB(t), NewURLs(testBaseURL), 0)

	collection, err := p.Outbox(context.Background(), "", 0)
	if err != nil {
		t.Fatalf("Outbox failed: %v", err)
	}
	if collection["totalItems"] != 0 {
		t.Errorf("Expected 0 items, got %v", collection["totalItems"])
	}
	if _, ok := collection["first"]; ok {
		t.Error("Empty outbox has no first page")
	}
}

// The remote side of the protocol can walk what the paginator serves.
func TestOutboxWalkedByIterator(t *testing.T) {
	database := newTestDB(t)
	seedVideos(t, database, "alice", 12, false)
	p := NewPaginator(database, NewURLs(testBaseURL), 5)
	ctx := context.Background()

	r := &mapResolver{docs: map[string]map[string]any{}}
	outbox := testBaseURL + "/ap/outbox"
	for page := 0; page <= 3; page++ {
		doc, err := p.Outbox(ctx, "", page)
		if err != nil {
			t.Fatalf("Outbox failed: %v", err)
		}
		key := outbox
		if page > 0 {
			key = Page(outbox, page)
		}
		r.docs[key] = roundtrip(t, doc)
	}

	refs := collect(t, NewCollectionIterator(r, outbox))
	if len(refs) != 12 {
		t.Errorf("Expected 12 videos, got %d", len(refs))
	}
}
