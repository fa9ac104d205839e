package activitypub

import (
	"context"
)

// maxCollectionPages bounds a walk over a misbehaving remote.
const maxCollectionPages = 10000

// CollectionIterator walks the items of a remote (Ordered)Collection page by
// page, following first and next. Pages are fetched lazily; Reset restarts
// the walk from the first page.
//
//	it := NewCollectionIterator(fetcher, outboxURL)
//	for it.Next(ctx) {
//		ref := it.Ref()
//	}
//	if err := it.Err(); err != nil { ... }
type CollectionIterator struct {
	resolver   Resolver
	collection any

	started bool
	next    any
	items   []any
	pos     int
	ref     any
	pages   int
	visited map[string]bool
	err     error
}

func NewCollectionIterator(resolver Resolver, collection any) *CollectionIterator {
	it := &CollectionIterator{resolver: resolver, collection: collection}
	it.Reset()
	return it
}

// Reset rewinds the iterator. The next call to Next fetches the first page again.
func (it *CollectionIterator) Reset() {
	it.started = false
	it.next = nil
	it.items = nil
	it.pos = 0
	it.ref = nil
	it.pages = 0
	it.visited = make(map[string]bool)
	it.err = nil
}

// Next advances to the next item and reports whether there is one. It
// returns false at the end of the collection or on the first error.
func (it *CollectionIterator) Next(ctx context.Context) bool {
	if it.err != nil {
		return false
	}
	if !it.started {
		it.started = true
		if err := it.open(ctx); err != nil {
			it.err = err
			return false
		}
	}
	for it.pos >= len(it.items) {
		if it.next == nil {
			return false
		}
		if err := it.load(ctx, it.next); err != nil {
			it.err = err
			return false
		}
	}
	it.ref = itemReference(it.items[it.pos])
	it.pos++
	return true
}

// Ref is the current item: for an Announce, its object, otherwise the item
// itself. It is either an IRI or an inline object.
func (it *CollectionIterator) Ref() any { return it.ref }

func (it *CollectionIterator) Err() error { return it.err }

// open reads the collection and positions the iterator on its first page. A
// collection carrying items directly is its own single page.
func (it *CollectionIterator) open(ctx context.Context) error {
	coll, err := it.resolver.Resolve(ctx, it.collection)
	if err != nil {
		return err
	}
	if id := idOf(coll["id"]); id != "" {
		it.visited[id] = true
	}
	if first, ok := coll["first"]; ok && first != nil {
		it.next = first
		return nil
	}
	it.items = pageItems(coll)
	it.next = coll["next"]
	return nil
}

func (it *CollectionIterator) load(ctx context.Context, ref any) error {
	if id := idOf(ref); id != "" {
		if it.visited[id] {
			return violation("collection page %s visited twice", id)
		}
		it.visited[id] = true
	}
	it.pages++
	if it.pages > maxCollectionPages {
		return violation("collection exceeds %d pages", maxCollectionPages)
	}

	page, err := it.resolver.Resolve(ctx, ref)
	if err != nil {
		return err
	}
	it.items = pageItems(page)
	it.pos = 0
	it.next = page["next"]
	if s, ok := it.next.(string); ok && s == "" {
		it.next = nil
	}
	return nil
}

func pageItems(page map[string]any) []any {
	if items, ok := page["orderedItems"].([]any); ok {
		return items
	}
	if items, ok := page["items"].([]any); ok {
		return items
	}
	return nil
}

func itemReference(item any) any {
	if obj, ok := item.(map[string]any); ok && stringField(obj, "type") == "Announce" {
		return obj["object"]
	}
	return item
}
