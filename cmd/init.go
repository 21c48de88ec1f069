package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/mimosa-project/mimosa-sync/internal/profile"
	"github.com/mimosa-project/mimosa-sync/internal/similarity"
	"github.com/mimosa-project/mimosa-sync/internal/store"
	"github.com/mimosa-project/mimosa-sync/internal/upload"
	"github.com/mimosa-project/mimosa-sync/pkg/bonsai"
)

// initStore opens the configured store backend and runs migrations.
func initStore(ctx context.Context) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Driver {
	case "sqlite", "":
		st, err = store.NewSQLite(cfg.Store.Path)
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	zap.L().Debug("store ready", zap.String("driver", cfg.Store.Driver))
	return st, nil
}

// initBonsai builds the API client and acquires a token unless one is
// configured.
func initBonsai(ctx context.Context) (bonsai.Client, error) {
	if cfg.Bonsai.URL == "" {
		return nil, eris.New("bonsai.url is not configured")
	}

	var opts []bonsai.Option
	if cfg.Bonsai.Token != "" {
		opts = append(opts, bonsai.WithToken(cfg.Bonsai.Token))
	}
	client := bonsai.NewClient(cfg.Bonsai.URL, opts...)

	if cfg.Bonsai.Token == "" {
		if err := client.Authenticate(ctx, cfg.Bonsai.Username, cfg.Bonsai.Password); err != nil {
			return nil, err
		}
		zap.L().Debug("authenticated against bonsai", zap.String("url", cfg.Bonsai.URL))
	}
	return client, nil
}

// initSimilarityEngine applies the configured job parameters.
func initSimilarityEngine(client bonsai.Client, opts ...similarity.Option) *similarity.Engine {
	opts = append([]similarity.Option{
		similarity.WithPolling(cfg.Similarity.PollInterval(), cfg.Similarity.MaxAttempts),
		similarity.WithConcurrency(cfg.Similarity.Concurrency),
	}, opts...)

	e := similarity.NewEngine(client, opts...)
	e.Limit = cfg.Similarity.Limit
	e.Threshold = cfg.Similarity.Threshold
	e.TypingMethod = cfg.Similarity.TypingMethod
	e.ClusterMethod = cfg.Similarity.ClusterMethod
	return e
}

func initUploader(st store.Store) *upload.Engine {
	return upload.NewEngine(st, cfg.Pipeline.Actor)
}

// loadProfiles returns the configured registry, or the built-in one.
func loadProfiles() (profile.Registry, error) {
	if cfg.Pipeline.ProfilesFile != "" {
		return profile.Load(cfg.Pipeline.ProfilesFile)
	}
	return profile.Default(), nil
}
