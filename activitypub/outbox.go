package activitypub

import (
	"context"

	"github.com/deemkeen/vidfed/db"
	"github.com/deemkeen/vidfed/domain"
)

const DefaultPageSize = 25

// Paginator serves the outboxes of the instance actor and of each account as
// pages of Announce stubs, one per public video.
type Paginator struct {
	db       *db.DB
	urls     *URLs
	pageSize int
}

func NewPaginator(database *db.DB, urls *URLs, pageSize int) *Paginator {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Paginator{db: database, urls: urls, pageSize: pageSize}
}

// Outbox renders the outbox of username, or of the instance actor when it is
// empty. page 0 asks for the collection itself; pages are 1-based.
func (p *Paginator) Outbox(ctx context.Context, username string, page int) (map[string]any, error) {
	id := p.urls.OutboxOf(username)
	total, err := p.db.CountPublicVideos(ctx, username)
	if err != nil {
		return nil, err
	}

	if page <= 0 {
		doc := map[string]any{
			"@context":   DefaultContext(),
			"id":         id,
			"type":       "OrderedCollection",
			"totalItems": total,
		}
		if total > 0 {
			doc["first"] = Page(id, 1)
		}
		return doc, nil
	}

	// Pages past the end are empty and never reach the offset arithmetic.
	last := (total + p.pageSize - 1) / p.pageSize
	var videos []domain.Video
	if page <= last {
		videos, err = p.db.ReadPublicVideos(ctx, username, p.pageSize, (page-1)*p.pageSize)
		if err != nil {
			return nil, err
		}
	}
	items := make([]map[string]any, 0, len(videos))
	for _, v := range videos {
		items = append(items, NewAnnounce(p.urls, username, v.Slug))
	}

	doc := map[string]any{
		"@context":     DefaultContext(),
		"id":           Page(id, page),
		"type":         "OrderedCollectionPage",
		"partOf":       id,
		"totalItems":   total,
		"orderedItems": items,
	}
	if page < last {
		doc["next"] = Page(id, page+1)
	}
	if page > 1 {
		doc["prev"] = Page(id, min(page-1, max(last, 1)))
	}
	return doc, nil
}
