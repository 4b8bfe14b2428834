package stores

import (
	"os"

	"collabboard/core"
	"collabboard/stores/aws"
	"collabboard/stores/filesystem"
	"collabboard/stores/memory"
	"collabboard/stores/mongodb"
	"collabboard/stores/sqlite"

	"github.com/sirupsen/logrus"
)

// Store is a union interface covering everything the server persists:
// room snapshots and registered accounts.
type Store interface {
	core.SnapshotStore
	core.UserStore
}

// GetStore picks the backend from STORAGE_TYPE. The broker never knows
// which backend is behind the interface; running without a database is the
// in-memory backend, not a special code path.
func GetStore() Store {
	storageType := os.Getenv("STORAGE_TYPE")
	var store Store

	storageField := logrus.Fields{
		"storageType": storageType,
	}

	switch storageType {
	case "filesystem":
		basePath := os.Getenv("LOCAL_STORAGE_PATH")
		if basePath == "" {
			basePath = "./data"
		}
		storageField["basePath"] = basePath
		store = filesystem.NewStore(basePath)
	case "sqlite":
		dataSourceName := os.Getenv("DATA_SOURCE_NAME")
		if dataSourceName == "" {
			dataSourceName = "collabboard.db"
		}
		storageField["dataSourceName"] = dataSourceName
		store = sqlite.NewStore(dataSourceName)
	case "mongodb":
		uri := os.Getenv("MONGODB_URI")
		if uri == "" {
			logrus.Fatal("MONGODB_URI environment variable must be set for mongodb storage type")
		}
		store = mongodb.NewStore(uri)
	case "s3":
		bucketName := os.Getenv("S3_BUCKET_NAME")
		if bucketName == "" {
			logrus.Fatal("S3_BUCKET_NAME environment variable must be set for s3 storage type")
		}
		storageField["bucketName"] = bucketName
		store = aws.NewStore(bucketName)
	default:
		store = memory.NewStore()
		storageField["storageType"] = "in-memory"
	}
	logrus.WithFields(storageField).Info("Use storage")
	return store
}
