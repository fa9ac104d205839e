package activitypub

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

// mapResolver resolves IRIs from a fixed set of documents.
type mapResolver struct {
	docs  map[string]map[string]any
	calls int
}

func (m *mapResolver) Resolve(_ context.Context, objOrURL any) (map[string]any, error) {
	m.calls++
	switch v := objOrURL.(type) {
	case map[string]any:
		return v, nil
	case string:
		doc, ok := m.docs[v]
		if !ok {
			return nil, &FetchError{URL: v, Status: 404}
		}
		return doc, nil
	}
	return nil, violation("cannot resolve %T", objOrURL)
}

func collect(t *testing.T, it *CollectionIterator) []string {
	t.Helper()
	var refs []string
	for it.Next(context.Background()) {
		refs = append(refs, idOf(it.Ref()))
	}
	return refs
}

func pagedCollection(pages int) *mapResolver {
	r := &mapResolver{docs: map[string]map[string]any{
		"https://r.example/outbox": {
			"id":    "https://r.example/outbox",
			"type":  "OrderedCollection",
			"first": "https://r.example/outbox?page=1",
		},
	}}
	for p := 1; p <= pages; p++ {
		page := map[string]any{
			"id":   fmt.Sprintf("https://r.example/outbox?page=%d", p),
			"type": "OrderedCollectionPage",
			"orderedItems": []any{
				map[string]any{"type": "Announce", "object": fmt.Sprintf("https://r.example/v/%d-a", p)},
				fmt.Sprintf("https://r.example/v/%d-b", p),
			},
		}
		if p < pages {
			page["next"] = fmt.Sprintf("https://r.example/outbox?page=%d", p+1)
		}
		r.docs[fmt.Sprintf("https://r.example/outbox?page=%d", p)] = page
	}
	return r
}

func TestCollectionIteratorPages(t *testing.T) {
	r := pagedCollection(3)
	it := NewCollectionIterator(r, "https://r.example/outbox")

	refs := collect(t, it)
	if err := it.Err(); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	want := []string{
		"https://r.example/v/1-a", "https://r.example/v/1-b",
		"https://r.example/v/2-a", "https://r.example/v/2-b",
		"https://r.example/v/3-a", "https://r.example/v/3-b",
	}
	if fmt.Sprint(refs) != fmt.Sprint(want) {
		t.Errorf("Expected %v, got %v", want, refs)
	}
	if r.calls != 4 {
		t.Errorf("Expected 4 fetches (collection and 3 pages), got %d", r.calls)
	}
	if it.Next(context.Background()) {
		t.Error("Exhausted iterator should stay exhausted")
	}
}

func TestCollectionIteratorReset(t *testing.T) {
	r := pagedCollection(2)
	it := NewCollectionIterator(r, "https://r.example/outbox")

	first := collect(t, it)
	it.Reset()
	second := collect(t, it)
	if len(first) != 4 || fmt.Sprint(first) != fmt.Sprint(second) {
		t.Errorf("Expected the same 4 items after Reset, got %v then %v", first, second)
	}
}

func TestCollectionIteratorInlineItems(t *testing.T) {
	r := &mapResolver{}
	it := NewCollectionIterator(r, map[string]any{
		"type":  "Collection",
		"items": []any{"https://r.example/v/1", map[string]any{"id": "https://r.example/v/2", "type": "Video"}},
	})

	refs := collect(t, it)
	if len(refs) != 2 || refs[1] != "https://r.example/v/2" {
		t.Errorf("Unexpected items %v", refs)
	}
}

func TestCollectionIteratorEmpty(t *testing.T) {
	r := &mapResolver{docs: map[string]map[string]any{
		"https://r.example/outbox": {"id": "https://r.example/outbox", "type": "OrderedCollection", "totalItems": 0},
	}}
	it := NewCollectionIterator(r, "https://r.example/outbox")
	if it.Next(context.Background()) {
		t.Error("Empty collection should yield nothing")
	}
	if it.Err() != nil {
		t.Errorf("Unexpected error: %v", it.Err())
	}
}

func TestCollectionIteratorDetectsLoops(t *testing.T) {
	r := pagedCollection(2)
	r.docs["https://r.example/outbox?page=2"]["next"] = "https://r.example/outbox?page=1"
	it := NewCollectionIterator(r, "https://r.example/outbox")

	refs := collect(t, it)
	if len(refs) != 4 {
		t.Errorf("Expected items of both pages before the loop, got %v", refs)
	}
	var pv *ProtocolViolation
	if !errors.As(it.Err(), &pv) {
		t.Errorf("Expected ProtocolViolation, got %v", it.Err())
	}
}

func TestCollectionIteratorPageError(t *testing.T) {
	r := pagedCollection(3)
	delete(r.docs, "https://r.example/outbox?page=2")
	it := NewCollectionIterator(r, "https://r.example/outbox")

	refs := collect(t, it)
	if len(refs) != 2 {
		t.Errorf("Expected only the first page, got %v", refs)
	}
	var fe *FetchError
	if !errors.As(it.Err(), &fe) || fe.Status != 404 {
		t.Errorf("Expected a 404 FetchError, got %v", it.Err())
	}
}
