package stores

import (
	"codecollab-server/config"
	"codecollab-server/core"
	"codecollab-server/stores/aws"
	"codecollab-server/stores/memory"
	"codecollab-server/stores/postgres"
	"codecollab-server/stores/sqlite"
	"context"

	"github.com/sirupsen/logrus"
)

// GetStore builds the Durable Store selected by cfg.StorageType. Any
// failure to open the backend is fatal.
func GetStore(ctx context.Context, cfg config.Config) core.FileStore {
	var store core.FileStore
	var err error

	storageField := logrus.Fields{
		"storageType": cfg.StorageType,
	}

	switch cfg.StorageType {
	case "sqlite":
		storageField["dataSourceName"] = cfg.DataSourceName
		store, err = sqlite.NewFileStore(cfg.DataSourceName, cfg.DBMaxConns)
	case "postgres":
		if cfg.PostgresURL == "" {
			logrus.Fatal("POSTGRES_URL environment variable must be set for postgres storage type")
		}
		storageField["maxConns"] = cfg.DBMaxConns
		store, err = postgres.NewFileStore(ctx, cfg.PostgresURL, cfg.DBMaxConns)
	case "s3":
		if cfg.S3BucketName == "" {
			logrus.Fatal("S3_BUCKET_NAME environment variable must be set for s3 storage type")
		}
		storageField["bucketName"] = cfg.S3BucketName
		store, err = aws.NewStore(ctx, cfg.S3BucketName)
	default:
		store = memory.NewFileStore()
		storageField["storageType"] = "in-memory"
	}
	if err != nil {
		logrus.WithFields(storageField).WithError(err).Fatal("Failed to open storage")
	}

	logrus.WithFields(storageField).Info("Use storage")
	return store
}
