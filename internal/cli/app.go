package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/delsolprime/backoffice/internal/bulk"
	"github.com/delsolprime/backoffice/internal/cache"
	"github.com/delsolprime/backoffice/internal/citations"
	"github.com/delsolprime/backoffice/internal/crm"
	"github.com/delsolprime/backoffice/internal/generate"
	"github.com/delsolprime/backoffice/internal/hreflang"
	"github.com/delsolprime/backoffice/internal/indexnow"
	"github.com/delsolprime/backoffice/internal/linking"
	"github.com/delsolprime/backoffice/internal/llm"
	"github.com/delsolprime/backoffice/internal/model"
	"github.com/delsolprime/backoffice/internal/notify"
	"github.com/delsolprime/backoffice/internal/property"
	"github.com/delsolprime/backoffice/internal/realtime"
	"github.com/delsolprime/backoffice/internal/server"
	"github.com/delsolprime/backoffice/internal/sitemap"
	"github.com/delsolprime/backoffice/internal/store"
	"github.com/delsolprime/backoffice/internal/translate"
	"github.com/delsolprime/backoffice/internal/util"
	"github.com/delsolprime/backoffice/internal/worker"
)

// app holds the wired services shared by serve and the job commands
type app struct {
	cfg    model.Config
	logger *zap.Logger

	store  *store.Client
	redis  redis.UniversalClient // nil when Redis is not configured
	hub    *realtime.Hub
	cache  cache.Cache
	robots *util.RobotsChecker

	crm        *crm.Service
	property   *property.Client
	sitemap    *sitemap.Generator
	translator *translate.Translator
	generator  *generate.Generator
	hreflang   *hreflang.Service
	linking    *linking.Service
	health     *citations.HealthChecker
	finder     *citations.Finder // nil without a citation provider
	indexnow   *indexnow.Client
	bulk       *bulk.Manager
}

// newApp connects to Supabase and, when configured, Redis, then builds every
// service. Optional integrations that fail to initialize are logged and left
// out rather than failing startup.
func newApp(ctx context.Context, cfg model.Config, logger *zap.Logger) (*app, error) {
	st, err := store.New(ctx, store.Config{
		URL:          cfg.Supabase.URL,
		ServiceKey:   cfg.Supabase.ServiceKey,
		DatabaseURL:  cfg.Supabase.DatabaseURL,
		MaxOpenConns: cfg.Supabase.MaxOpenConns,
		MaxIdleConns: cfg.Supabase.MaxIdleConns,
		ConnMaxIdle:  cfg.Supabase.ConnMaxIdle,
		ConnMaxLife:  cfg.Supabase.ConnMaxLife,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("connect store: %w", err)
	}

	a := &app{
		cfg:    cfg,
		logger: logger,
		store:  st,
		robots: util.NewRobotsChecker(cfg.Site.UserAgent, 10*time.Second, time.Hour),
	}
	a.connectRedis(ctx)
	a.buildCache()

	limiter := worker.NewLimiter(cfg.Bulk.RequestsPerSecond, cfg.Bulk.Burst)
	proxy := cfg.Proxy

	// CRM
	email := notify.NewEmailClient(cfg.Email.APIKey, cfg.Email.BaseURL,
		util.NewHTTPClient(30*time.Second, proxy.HTTPProxy, proxy.HTTPSProxy, proxy.NoProxy), logger)
	var mailer crm.Mailer
	if email.Configured() {
		mailer = email
	} else {
		logger.Warn("email API key not set; CRM emails are disabled")
	}
	opts := crm.DefaultOptions()
	if cfg.Site.CRMURL != "" {
		opts.AppURL = cfg.Site.CRMURL
	}
	if cfg.Email.From != "" {
		opts.From = cfg.Email.From
	}
	if cfg.Email.AlertsFrom != "" {
		opts.AlertsFrom = cfg.Email.AlertsFrom
	}
	var crmOptions []crm.Option
	if chat := notify.NewChatClient(cfg.Chat.WebhookURL, nil); chat.Configured() {
		crmOptions = append(crmOptions, crm.WithAlerter(chat))
	}
	if a.hub != nil {
		crmOptions = append(crmOptions, crm.WithPublisher(a.hub))
	}
	a.crm = crm.NewService(st, mailer, opts, logger, crmOptions...)

	// Property proxy
	if a.property, err = property.NewClient(cfg.Property, a.cache, logger); err != nil {
		logger.Warn("property client disabled", zap.Error(err))
	}

	// Content
	a.sitemap = sitemap.NewGenerator(st, cfg.Site.BaseURL, a.cache, logger)
	a.hreflang = hreflang.NewService(st, logger)
	a.linking = linking.NewService(st, logger)
	a.translator = translate.NewTranslator(a.provider(ctx, cfg.LLM.TranslationProvider), cfg.Bulk.Concurrency, logger)
	a.generator = generate.NewGenerator(a.provider(ctx, cfg.LLM.GenerationProvider), st, cfg.Bulk.Concurrency, logger)

	// Citations
	approved := cfg.Citation.ApprovedDomain
	if len(approved) == 0 {
		approved = citations.DefaultApprovedDomains
	}
	validator := citations.NewDomainValidator(approved, citations.DefaultBlockedDomains)
	if n, err := validator.LoadBlocked(ctx, st); err != nil {
		logger.Warn("could not load blocked domains", zap.Error(err))
	} else {
		logger.Debug("loaded blocked domains", zap.Int("count", n))
	}
	a.health = citations.NewHealthChecker(cfg.Citation, proxy, limiter, logger)
	if provider := a.provider(ctx, cfg.LLM.CitationProvider); provider != nil {
		citationClient := util.NewHTTPClient(cfg.Citation.Timeout, proxy.HTTPProxy, proxy.HTTPSProxy, proxy.NoProxy)
		inspector := citations.NewInspector(citationClient, a.robots, limiter, a.cache, logger)
		feeds := citations.NewFeedDiscoverer(cfg.Citation.Feeds, validator, citationClient, logger)
		a.finder = citations.NewFinder(provider, validator, inspector, feeds, st, logger)
	}

	a.indexnow = indexnow.NewClient(cfg.IndexNow, cfg.Site,
		util.NewHTTPClient(30*time.Second, proxy.HTTPProxy, proxy.HTTPSProxy, proxy.NoProxy), logger)

	// Bulk operations
	var checkpoints bulk.CheckpointStore = bulk.NewTableCheckpoints(st)
	if a.redis != nil {
		checkpoints = bulk.NewRedisCheckpoints(a.redis, cfg.Env)
	}
	bulkOptions := []bulk.Option{
		bulk.WithLimiter(limiter),
		bulk.WithConcurrency(cfg.Bulk.Concurrency),
	}
	if a.hub != nil {
		bulkOptions = append(bulkOptions, bulk.WithPublisher(a.hub))
	}
	a.bulk = bulk.NewManager(checkpoints, logger, bulkOptions...)
	var finder bulk.CitationFinder
	if a.finder != nil {
		finder = a.finder
	}
	bulk.RegisterStandard(a.bulk, st, finder, a.linking)
	if a.generator.Configured() {
		bulk.RegisterGeneration(a.bulk, a.generator)
	}

	return a, nil
}

// connectRedis enables the Redis-backed features when an address is set
func (a *app) connectRedis(ctx context.Context) {
	if a.cfg.Redis.Addr == "" {
		return
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		a.logger.Warn("redis unavailable; realtime feed and shared cache disabled",
			zap.String("addr", a.cfg.Redis.Addr), zap.Error(err))
		_ = rdb.Close()
		return
	}
	hub, err := realtime.NewHub(rdb, a.cfg.Env, a.logger)
	if err != nil {
		a.logger.Warn("realtime hub disabled", zap.Error(err))
	}
	a.redis = rdb
	a.hub = hub
}

func (a *app) buildCache() {
	cfg := a.cfg.Cache
	if !cfg.Enabled {
		return
	}
	local := cache.NewMemoryCache(cfg.TTL, 2*cfg.TTL)
	if cfg.UseRedis && a.redis != nil {
		shared := cache.NewRedisCache(a.redis, "backoffice:"+a.cfg.Env+":cache:", cfg.TTL)
		a.cache = cache.NewLayeredCache(local, shared, cfg.TTL)
		return
	}
	a.cache = local
}

// provider builds the named LLM provider, or nil when it is unset or broken
func (a *app) provider(ctx context.Context, name string) llm.Provider {
	p, err := llm.NewRetryingProvider(ctx, llm.ConfigFromModel(a.cfg, name))
	if err != nil {
		a.logger.Warn("llm provider disabled", zap.String("provider", name), zap.Error(err))
		return nil
	}
	return p
}

// deps exposes the services to the HTTP server
func (a *app) deps() server.Deps {
	d := server.Deps{
		CRM:         a.crm,
		Sitemap:     a.sitemap,
		Translate:   a.translator,
		Articles:    a.store,
		Hreflang:    a.hreflang,
		Linking:     a.linking,
		Health:      a.health,
		Citations:   a.store,
		IndexNow:    a.indexnow,
		Bulk:        a.bulk,
		HealthBatch: a.cfg.Citation.BatchSize,
		Checks:      map[string]server.Pinger{"database": a.store},
	}
	if a.property != nil {
		d.Property = a.property
	}
	if a.finder != nil {
		d.Finder = a.finder
	}
	if a.hub != nil {
		d.Feed = a.hub
		d.Checks["redis"] = a.hub
	}
	return d
}

// Close waits for a running bulk operation and releases connections
func (a *app) Close() {
	if err := a.bulk.Cancel(); err == nil {
		a.logger.Info("cancelled running bulk operation; its checkpoint is kept")
	}
	a.bulk.Wait()
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("close store", zap.Error(err))
	}
}
