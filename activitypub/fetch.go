package activitypub

import (
	"context"
	"crypto/rsa"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/deemkeen/vidfed/db"
	"github.com/deemkeen/vidfed/domain"
	"github.com/deemkeen/vidfed/logging"
	"github.com/deemkeen/vidfed/telemetry"
	"github.com/deemkeen/vidfed/util"
	"go.uber.org/zap"
)

const (
	maxFetchBytes  = 4 << 20
	actorCacheTTL  = 24 * time.Hour
	defaultTimeout = 5 * time.Second

	// keyRefreshInterval bounds how often a failed verification refetches
	// the signer's actor.
	keyRefreshInterval = time.Minute
)

// Resolver turns an inline object or an IRI into a JSON object.
type Resolver interface {
	Resolve(ctx context.Context, objOrURL any) (map[string]any, error)
}

// Fetcher dereferences remote ActivityPub objects. GETs are signed when an
// identity is configured; nothing is retried here.
type Fetcher struct {
	client   *http.Client
	identity *Identity
	db       *db.DB
	log      *zap.Logger
}

// NewFetcher builds a fetcher. identity and database may be nil, in which case
// requests are unsigned and actors are not cached.
func NewFetcher(client *http.Client, identity *Identity, database *db.DB) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &Fetcher{
		client:   client,
		identity: identity,
		db:       database,
		log:      logging.WithComponent("fetcher"),
	}
}

// Resolve returns inline objects unchanged and fetches IRIs.
func (f *Fetcher) Resolve(ctx context.Context, objOrURL any) (map[string]any, error) {
	switch v := objOrURL.(type) {
	case map[string]any:
		return v, nil
	case string:
		return f.Get(ctx, v)
	case nil:
		return nil, violation("missing object")
	default:
		return nil, violation("cannot resolve object of type %T", objOrURL)
	}
}

// Get fetches iri and decodes it as a JSON object.
func (f *Fetcher) Get(ctx context.Context, iri string) (obj map[string]any, err error) {
	ctx, span := telemetry.StartSpan(ctx, "activitypub.fetch")
	defer span.End()
	defer func() {
		telemetry.Count(ctx, telemetry.Default().Fetches, telemetry.Outcome(err))
	}()

	u, err := url.Parse(iri)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, &FetchError{URL: iri, Err: fmt.Errorf("not an http(s) URL")}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, iri, nil)
	if err != nil {
		return nil, &FetchError{URL: iri, Err: err}
	}
	req.Header.Set("Accept", AcceptHeader)
	req.Header.Set("User-Agent", util.UserAgent())
	if f.identity != nil {
		if err := SignRequest(req, f.identity); err != nil {
			return nil, &FetchError{URL: iri, Err: err}
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: iri, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &FetchError{URL: iri, Status: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return nil, &FetchError{URL: iri, Status: resp.StatusCode, Err: err}
	}
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, &FetchError{URL: iri, Status: resp.StatusCode, Err: fmt.Errorf("invalid JSON: %w", err)}
	}
	if obj == nil {
		return nil, &FetchError{URL: iri, Status: resp.StatusCode, Err: fmt.Errorf("not a JSON object")}
	}

	f.log.Debug("Fetched remote object", zap.String("url", iri), zap.Any("type", obj["type"]))
	return obj, nil
}

// actorDocument is the subset of a remote actor this server relies on.
type actorDocument struct {
	ID                string `json:"id"`
	Type              string `json:"type"`
	PreferredUsername string `json:"preferredUsername"`
	Inbox             string `json:"inbox"`
	Outbox            string `json:"outbox"`
	Endpoints         struct {
		SharedInbox string `json:"sharedInbox"`
	} `json:"endpoints"`
	PublicKey struct {
		ID           string `json:"id"`
		Owner        string `json:"owner"`
		PublicKeyPem string `json:"publicKeyPem"`
	} `json:"publicKey"`
}

// ActorFromObject maps an actor document onto the cache record.
func ActorFromObject(obj map[string]any) (*domain.RemoteActor, error) {
	raw, err := json.Marshal(obj)
	if err != nil {
		return nil, err
	}
	var doc actorDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, violation("malformed actor: %v", err)
	}
	if doc.ID == "" || doc.Inbox == "" {
		return nil, violation("actor missing id or inbox")
	}
	u, err := url.Parse(doc.ID)
	if err != nil {
		return nil, violation("invalid actor id %q", doc.ID)
	}
	return &domain.RemoteActor{
		ActorURI:      doc.ID,
		Type:          doc.Type,
		Username:      doc.PreferredUsername,
		Domain:        u.Host,
		InboxURI:      doc.Inbox,
		SharedInbox:   doc.Endpoints.SharedInbox,
		OutboxURI:     doc.Outbox,
		PublicKeyId:   doc.PublicKey.ID,
		PublicKeyPem:  doc.PublicKey.PublicKeyPem,
		LastFetchedAt: time.Now().UTC(),
	}, nil
}

// FetchActor returns a remote actor, from the cache when it is younger than a day.
func (f *Fetcher) FetchActor(ctx context.Context, actorURI string) (*domain.RemoteActor, error) {
	if f.db != nil {
		cached, err := f.db.ReadRemoteActorByURI(ctx, actorURI)
		if err == nil && time.Since(cached.LastFetchedAt) < actorCacheTTL {
			return cached, nil
		}
	}
	return f.refreshActor(ctx, actorURI)
}

func (f *Fetcher) refreshActor(ctx context.Context, actorURI string) (*domain.RemoteActor, error) {
	obj, err := f.Get(ctx, actorURI)
	if err != nil {
		return nil, err
	}
	actor, err := ActorFromObject(obj)
	if err != nil {
		return nil, fmt.Errorf("actor %s: %w", actorURI, err)
	}
	if f.db != nil {
		if err := f.db.UpsertRemoteActor(ctx, actor); err != nil {
			f.log.Warn("Failed to cache remote actor", zap.String("actor", actor.ActorURI), zap.Error(err))
		}
	}
	return actor, nil
}

// LookupKey resolves the public key behind keyID and returns it with the
// owning actor, consulting the actor cache before the network. A cached
// actor that does not yield the key is refetched once.
func (f *Fetcher) LookupKey(ctx context.Context, keyID string) (*rsa.PublicKey, *domain.RemoteActor, error) {
	if f.db != nil {
		cached, err := f.db.ReadRemoteActorByKeyId(ctx, keyID)
		switch {
		case err == nil && time.Since(cached.LastFetchedAt) < actorCacheTTL:
			key, err := publicKeyOf(cached, keyID)
			if err == nil {
				return key, cached, nil
			}
			f.log.Debug("Cached key unusable, refetching its owner", zap.String("key_id", keyID), zap.Error(err))
		case err != nil && !errors.Is(err, sql.ErrNoRows):
			f.log.Warn("Remote actor cache lookup failed", zap.String("key_id", keyID), zap.Error(err))
		}
	}
	return f.RefreshKey(ctx, keyID)
}

// RefreshKey refetches the owner of keyID, bypassing the actor cache.
func (f *Fetcher) RefreshKey(ctx context.Context, keyID string) (*rsa.PublicKey, *domain.RemoteActor, error) {
	actor, err := f.refreshActor(ctx, KeyOwner(keyID))
	if err != nil {
		return nil, nil, err
	}
	key, err := publicKeyOf(actor, keyID)
	if err != nil {
		return nil, nil, err
	}
	return key, actor, nil
}

func publicKeyOf(actor *domain.RemoteActor, keyID string) (*rsa.PublicKey, error) {
	if actor.PublicKeyId != keyID || actor.PublicKeyPem == "" {
		return nil, fmt.Errorf("%w: key %s not published by %s", ErrSignature, keyID, actor.ActorURI)
	}
	key, err := ParsePublicKey(actor.PublicKeyPem)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignature, err)
	}
	return key, nil
}

// ApplicationActorURL reads an instance's nodeinfo discovery document and
// returns the URL of its Application actor.
func (f *Fetcher) ApplicationActorURL(ctx context.Context, instanceURL string) (string, error) {
	nodeinfoURL := strings.TrimRight(instanceURL, "/") + "/.well-known/nodeinfo"
	doc, err := f.Get(ctx, nodeinfoURL)
	if err != nil {
		return "", err
	}
	links, _ := doc["links"].([]any)
	for _, l := range links {
		link, ok := l.(map[string]any)
		if !ok {
			continue
		}
		if rel, _ := link["rel"].(string); rel == ApplicationLink {
			if href, _ := link["href"].(string); href != "" {
				return href, nil
			}
		}
	}
	return "", &FetchError{URL: nodeinfoURL, Err: fmt.Errorf("no Application actor advertised")}
}
