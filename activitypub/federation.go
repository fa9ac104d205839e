package activitypub

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/deemkeen/vidfed/db"
	"github.com/deemkeen/vidfed/logging"
	"github.com/deemkeen/vidfed/tasks"
	"github.com/deemkeen/vidfed/util"
	"go.uber.org/zap"
)

const (
	defaultDeliveryInterval  = 10 * time.Second
	defaultBroadcastInterval = 5 * time.Second
)

// Federation wires the federation components of one instance together. It
// is built once at startup from the immutable configuration.
type Federation struct {
	URLs        *URLs
	Identity    *Identity
	Serializer  *Serializer
	Fetcher     *Fetcher
	Dispatcher  *Dispatcher
	Follows     *FollowManager
	Reconciler  *Reconciler
	Inbox       *Inbox
	Broadcaster *Broadcaster
	Delivery    *DeliveryWorker
	Paginator   *Paginator
	Queue       tasks.Queue

	db   *db.DB
	conf *util.AppConfig
	log  *zap.Logger
}

func New(conf *util.AppConfig, database *db.DB, keys *util.RsaKeyPair, langs util.Languages, queue tasks.Queue) (*Federation, error) {
	urls := NewURLs(conf.BaseURL())
	identity, err := NewIdentity(keys, urls.Instance())
	if err != nil {
		return nil, fmt.Errorf("loading instance key: %w", err)
	}

	fetcher := NewFetcher(&http.Client{Timeout: conf.Federation.FetchTimeout}, identity, database)
	dispatcher := NewDispatcher(&http.Client{Timeout: conf.Federation.DeliveryTimeout}, identity)
	serializer := NewSerializer(urls, conf.Server.SecretKey, identity.PublicKeyPem, langs)
	follows := NewFollowManager(database, fetcher, dispatcher, urls, queue)
	reconciler := NewReconciler(database, fetcher, langs)

	return &Federation{
		URLs:        urls,
		Identity:    identity,
		Serializer:  serializer,
		Fetcher:     fetcher,
		Dispatcher:  dispatcher,
		Follows:     follows,
		Reconciler:  reconciler,
		Inbox:       NewInbox(follows, reconciler, fetcher),
		Broadcaster: NewBroadcaster(database, urls, serializer),
		Delivery:    NewDeliveryWorker(database, dispatcher),
		Paginator:   NewPaginator(database, urls, conf.Federation.PageSize),
		Queue:       queue,
		db:          database,
		conf:        conf,
		log:         logging.WithComponent("federation"),
	}, nil
}

// RegisterTasks routes every task kind to its handler.
func (f *Federation) RegisterTasks(mux *tasks.Mux) {
	mux.Handle(tasks.KindInbox, f.Inbox.HandleTask)
	mux.Handle(tasks.KindFollow, f.Follows.HandleFollowTask)
	mux.Handle(tasks.KindIndex, f.Reconciler.HandleIndexTask)
	mux.Handle(tasks.KindBroadcast, f.Broadcaster.HandleTask)
}

// Run starts the task workers, the broadcaster, the delivery worker and the
// reindex schedule, and blocks until ctx is cancelled and all have stopped.
func (f *Federation) Run(ctx context.Context) {
	mux := tasks.NewMux()
	f.RegisterTasks(mux)
	pool := tasks.NewPool(f.Queue, mux, &f.conf.Tasks)

	fed := f.conf.Federation
	var wg sync.WaitGroup
	start := func(run func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			run()
		}()
	}
	start(func() { pool.Run(ctx) })
	start(func() { f.Broadcaster.Run(ctx, orDefault(fed.BroadcastInterval, defaultBroadcastInterval)) })
	start(func() { f.Delivery.Run(ctx, orDefault(fed.DeliveryInterval, defaultDeliveryInterval)) })
	start(func() { f.Reconciler.ScheduleReindex(ctx, f.Queue, fed.ReindexInterval) })

	f.log.Info("Federation started", zap.String("actor", f.URLs.Instance()))
	wg.Wait()
	f.log.Info("Federation stopped")
}

// Index reindexes an already followed instance synchronously.
func (f *Federation) Index(ctx context.Context, instanceURL string) (*IndexResult, error) {
	following, err := f.db.ReadFollowingByObject(ctx, strings.TrimRight(instanceURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("%s is not followed: %w", instanceURL, err)
	}
	return f.Reconciler.IndexExternalVideos(ctx, following)
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}
