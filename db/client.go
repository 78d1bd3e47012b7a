package db

import (
	"errors"
	"fmt"
	"strings"

	"hsi-cores/hsi"
	"hsi-cores/models"
	"hsi-cores/utils"
)

var ErrUnknownBackend = errors.New("db: unknown DB_TYPE")

// DBClient stores reference spectra and analysis runs.
type DBClient interface {
	Close() error
	StoreLibraryEntries(entries []hsi.LibraryEntry) error
	GetLibrary() ([]hsi.LibraryEntry, error)
	DeleteLibraryLabel(label string) (int64, error)
	StoreRun(run *models.AnalysisRun) error
	GetRuns(limit int) ([]models.AnalysisRun, error)
}

// NewDBClient opens the backend named by DB_TYPE (sqlite or mongo).
func NewDBClient() (DBClient, error) {
	dbType := strings.ToLower(utils.GetEnv("DB_TYPE", "sqlite"))

	switch dbType {
	case "mongo", "mongodb":
		uri := utils.GetEnv("MONGO_URI", "mongodb://localhost:27017")
		return NewMongoClient(uri, utils.GetEnv("MONGO_DB", "hsi_cores"))
	case "sqlite", "sqlite3":
		return NewSQLiteClient(utils.GetEnv("SQLITE_PATH", "db/hsi.sqlite3"))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, dbType)
	}
}

func prepareEntry(e hsi.LibraryEntry) (hsi.LibraryEntry, error) {
	if err := e.Validate(); err != nil {
		return e, err
	}
	e.Label = strings.TrimSpace(e.Label)
	if e.ID == "" {
		e.ID = utils.NewRunID()
	}
	return e, nil
}
