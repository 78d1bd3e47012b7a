package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"hsi-cores/hsi"
	"hsi-cores/models"
	"hsi-cores/utils"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const mongoTimeout = 10 * time.Second

type MongoClient struct {
	client   *mongo.Client
	database string
}

func NewMongoClient(uri, database string) (*MongoClient, error) {
	ctx, cancel := context.WithTimeout(context.Background(), mongoTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("error connecting to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("error pinging MongoDB: %w", err)
	}

	mc := &MongoClient{client: client, database: database}
	if _, err := mc.collection("library").Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "label", Value: 1}},
	}); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("error creating library index: %w", err)
	}
	return mc, nil
}

func (db *MongoClient) collection(name string) *mongo.Collection {
	return db.client.Database(db.database).Collection(name)
}

func (db *MongoClient) Close() error {
	if db.client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), mongoTimeout)
		defer cancel()
		return db.client.Disconnect(ctx)
	}
	return nil
}

// libraryDocument keys a library entry by its ID.
type libraryDocument struct {
	ID    string           `bson:"_id"`
	Entry hsi.LibraryEntry `bson:",inline"`
}

func (db *MongoClient) StoreLibraryEntries(entries []hsi.LibraryEntry) error {
	if len(entries) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), mongoTimeout)
	defer cancel()

	writes := make([]mongo.WriteModel, 0, len(entries))
	for i, entry := range entries {
		e, err := prepareEntry(entry)
		if err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
		doc := libraryDocument{ID: e.ID, Entry: e}
		doc.Entry.ID = ""
		writes = append(writes, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": doc.ID}).
			SetReplacement(doc).
			SetUpsert(true))
	}

	if _, err := db.collection("library").BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(true)); err != nil {
		return fmt.Errorf("error storing library entries: %w", err)
	}
	return nil
}

func (db *MongoClient) GetLibrary() ([]hsi.LibraryEntry, error) {
	ctx, cancel := context.WithTimeout(context.Background(), mongoTimeout)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "label", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := db.collection("library").Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("error querying library: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []libraryDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("error decoding library: %w", err)
	}
	entries := make([]hsi.LibraryEntry, len(docs))
	for i, doc := range docs {
		entries[i] = doc.Entry
		entries[i].ID = doc.ID
	}
	return entries, nil
}

func (db *MongoClient) DeleteLibraryLabel(label string) (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), mongoTimeout)
	defer cancel()

	res, err := db.collection("library").DeleteMany(ctx, bson.M{"label": strings.TrimSpace(label)})
	if err != nil {
		return 0, fmt.Errorf("failed to delete label: %w", err)
	}
	return res.DeletedCount, nil
}

func (db *MongoClient) StoreRun(run *models.AnalysisRun) error {
	if run.ID == "" {
		run.ID = utils.NewRunID()
	}
	ctx, cancel := context.WithTimeout(context.Background(), mongoTimeout)
	defer cancel()

	_, err := db.collection("runs").ReplaceOne(ctx, bson.M{"_id": run.ID}, run, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("error storing run: %w", err)
	}
	return nil
}

func (db *MongoClient) GetRuns(limit int) ([]models.AnalysisRun, error) {
	ctx, cancel := context.WithTimeout(context.Background(), mongoTimeout)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "startedAt", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := db.collection("runs").Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("error querying runs: %w", err)
	}
	defer cursor.Close(ctx)

	var runs []models.AnalysisRun
	if err := cursor.All(ctx, &runs); err != nil {
		return nil, fmt.Errorf("error decoding runs: %w", err)
	}
	return runs, nil
}
