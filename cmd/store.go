package main

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/incident-sync/internal/store"
	"github.com/sells-group/incident-sync/pkg/featureservice"
	"github.com/sells-group/incident-sync/pkg/geocode"
)

// runtimeDeps holds the store and shared connections for one command run.
type runtimeDeps struct {
	store store.Store
	pool  *pgxpool.Pool
}

func (d *runtimeDeps) Close() {
	if c, ok := d.store.(interface{ Close() error }); ok {
		_ = c.Close()
	}
	if d.pool != nil {
		d.pool.Close()
	}
}

func initStore(ctx context.Context) (*runtimeDeps, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "incidents.db"
		}
		loc, err := cfg.Import.Reconcile.Location()
		if err != nil {
			return nil, err
		}
		s, err := store.NewSQLite(dsn, cfg.Store.Table, store.WithTimeLocation(loc))
		if err != nil {
			return nil, err
		}
		return &runtimeDeps{store: s}, nil

	case "postgres":
		if cfg.Store.DatabaseURL == "" {
			return nil, eris.New("postgres store requires database_url (INCIDENT_STORE_DATABASE_URL)")
		}
		pool, err := pgxpool.New(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			return nil, eris.Wrap(err, "connect postgres")
		}
		var opts []store.PostgresOption
		if cfg.Store.RowIDColumn != "" {
			opts = append(opts, store.WithRowIDColumn(cfg.Store.RowIDColumn))
		}
		return &runtimeDeps{store: store.NewPostgres(pool, cfg.Store.Table, opts...), pool: pool}, nil

	case "featureservice":
		if cfg.Service.LayerURL == "" {
			return nil, eris.New("feature service store requires service.layer_url (INCIDENT_SERVICE_LAYER_URL)")
		}
		client := featureservice.NewClient(cfg.Service.LayerURL,
			featureservice.WithToken(cfg.Service.Token),
			featureservice.WithRateLimit(cfg.Service.RateLimit),
			featureservice.WithPageSize(cfg.Service.PageSize),
		)
		return &runtimeDeps{store: store.NewFeatureService(client)}, nil

	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initGeocoder builds the locator client for address-mode imports. The
// result cache is only available when a Postgres pool is open.
func initGeocoder(deps *runtimeDeps) (geocode.Client, error) {
	if !cfg.Import.AddressMode() {
		return nil, nil
	}
	if cfg.Geocode.LocatorURL == "" {
		return nil, eris.New("address mode requires geocode.locator_url (INCIDENT_GEOCODE_LOCATOR_URL)")
	}

	var gc geocode.Client = geocode.NewLocator(cfg.Geocode.LocatorURL,
		geocode.WithToken(cfg.Geocode.Token),
		geocode.WithRateLimit(cfg.Geocode.RateLimit),
		geocode.WithBatchConcurrency(cfg.Geocode.Concurrency),
	)

	if cfg.Geocode.CacheEnabled {
		if deps.pool == nil {
			return nil, eris.New("geocode cache requires the postgres store driver")
		}
		gc = geocode.NewCachedClient(gc, deps.pool,
			geocode.WithCacheTTLDays(cfg.Geocode.CacheTTLDays),
		)
	}

	return gc, nil
}
