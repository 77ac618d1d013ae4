package cli

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"

	netfirstcache "github.com/dgduncan/go-netfirst-cache"
	"github.com/dgduncan/go-netfirst-cache/caches/dynamodb"
	"github.com/dgduncan/go-netfirst-cache/caches/local"
	"github.com/dgduncan/go-netfirst-cache/caches/postgres"
	"github.com/dgduncan/go-netfirst-cache/caches/sqlite"
	"github.com/dgduncan/go-netfirst-cache/internal/config"
)

// openStore builds the store named by cfg. The returned func releases it.
func openStore(ctx context.Context, cfg config.StoreConfig) (netfirstcache.Store, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Driver {
	case config.DriverMemory:
		return local.NewBasicStore(), noop, nil

	case config.DriverSQLite:
		store, err := sqlite.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("opening sqlite store: %w", err)
		}
		return store, store.Close, nil

	case config.DriverPostgres:
		db, err := sql.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("opening postgres: %w", err)
		}
		store, err := postgres.New(ctx, db)
		if err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("opening postgres store: %w", err)
		}
		return store, db.Close, nil

	case config.DriverDynamoDB:
		var loadOpts []func(*awsconfig.LoadOptions) error
		if cfg.Region != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
		}

		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, nil, fmt.Errorf("loading aws config: %w", err)
		}

		client := awsdynamodb.NewFromConfig(awsCfg, func(o *awsdynamodb.Options) {
			if cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
			}
		})

		store, err := dynamodb.New(ctx, client, &dynamodb.Config{TablePrefix: cfg.TablePrefix})
		if err != nil {
			return nil, nil, fmt.Errorf("opening dynamodb store: %w", err)
		}
		return store, noop, nil

	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
