package cmd

import (
	"context"
	"errors"

	"github.com/cyclopcam/logs"

	"github.com/kozaktomas/facewatch/internal/config"
	"github.com/kozaktomas/facewatch/internal/database"
	"github.com/kozaktomas/facewatch/internal/database/mariadb"
	"github.com/kozaktomas/facewatch/internal/database/postgres"
)

// openRecordStore connects to PostgreSQL when DATABASE_URL is set, otherwise
// to MariaDB when MARIADB_DSN is set. With neither it returns a nil store and
// database.ErrNoBackend. The returned close function is always safe to call.
func openRecordStore(ctx context.Context, cfg *config.Config, log logs.Log) (database.RecordStore, func(), error) {
	noop := func() {}

	switch {
	case cfg.Database.URL != "":
		log.Infof("Connecting to PostgreSQL database...")
		pool, err := postgres.Initialize(ctx, &cfg.Database, log)
		if err != nil {
			return nil, noop, err
		}
		closeFn := func() {
			if err := pool.Close(); err != nil {
				log.Warnf("Closing PostgreSQL pool: %v", err)
			}
		}
		store, err := database.GetRecordStore(ctx)
		if err != nil {
			closeFn()
			return nil, noop, err
		}
		log.Infof("Using %s backend", database.BackendName())
		return store, closeFn, nil

	case cfg.Database.MariaDBDSN != "":
		log.Infof("Connecting to MariaDB database...")
		pool, err := mariadb.Initialize(ctx, cfg.Database.MariaDBDSN)
		if err != nil {
			return nil, noop, err
		}
		closeFn := func() {
			if err := pool.Close(); err != nil {
				log.Warnf("Closing MariaDB pool: %v", err)
			}
		}
		store, err := database.GetRecordStore(ctx)
		if err != nil {
			closeFn()
			return nil, noop, err
		}
		log.Infof("Using %s backend", database.BackendName())
		return store, closeFn, nil
	}

	return nil, noop, database.ErrNoBackend
}

// requireRecordStore is openRecordStore for commands that cannot run without
// a database.
func requireRecordStore(ctx context.Context, cfg *config.Config, log logs.Log) (database.RecordStore, func(), error) {
	store, closeFn, err := openRecordStore(ctx, cfg, log)
	if errors.Is(err, database.ErrNoBackend) {
		return nil, closeFn, errors.New("DATABASE_URL or MARIADB_DSN environment variable is required")
	}
	return store, closeFn, err
}
