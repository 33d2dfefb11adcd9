// Package docstore loads playlist documents into MongoDB.
//
// Writes are unordered and tolerate duplicate-key failures: an insert batch
// reports how many documents landed instead of failing outright, so re-runs
// against a populated collection degrade to partial inserts.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"spotifyetl/internal/catalog"
)

// Logger is the minimal logging interface used by the store.
type Logger interface {
	Printf(format string, v ...any)
}

// Config identifies the target collection.
type Config struct {
	URI        string
	Database   string
	Collection string
}

// Metadata is the provenance block attached to every stored document under
// the _metadata key.
type Metadata struct {
	Source      string `bson:"source" json:"source"`
	RunID       string `bson:"run_id" json:"run_id"`
	GeneratedAt string `bson:"generated_at" json:"generated_at"`
}

// PlaylistDoc is one stored document: the JSON playlist plus provenance.
type PlaylistDoc struct {
	catalog.JSONPlaylist `bson:",inline"`
	Metadata             Metadata `bson:"_metadata"`
}

// Stats summarizes the collection for the verification run mode.
type Stats struct {
	Documents int64
	Genres    []string
}

// Store wraps one MongoDB collection.
type Store struct {
	client *mongo.Client
	coll   *mongo.Collection
	log    Logger
}

// Connect dials MongoDB and verifies the deployment is reachable before
// returning. Server selection is capped so a dead deployment fails in
// seconds, not the driver's default 30.
func Connect(ctx context.Context, cfg Config, log Logger) (*Store, error) {
	opts := options.Client().
		ApplyURI(cfg.URI).
		SetServerSelectionTimeout(5 * time.Second)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	return &Store{
		client: client,
		coll:   client.Database(cfg.Database).Collection(cfg.Collection),
		log:    log,
	}, nil
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// DecoratePlaylists copies the playlists and attaches the provenance block.
// The input document is never modified; the JSON file on disk and the stored
// documents are independent projections of the same export.
func DecoratePlaylists(doc catalog.JSONDocument, meta Metadata) []PlaylistDoc {
	out := make([]PlaylistDoc, 0, len(doc.Playlists))
	for _, p := range doc.Playlists {
		out = append(out, PlaylistDoc{JSONPlaylist: p, Metadata: meta})
	}
	return out
}

// InsertPlaylists writes the documents with an unordered InsertMany and
// returns how many landed. Per-document write errors (typically duplicate
// ids on re-runs) reduce the count; they do not fail the batch.
func (s *Store) InsertPlaylists(ctx context.Context, docs []PlaylistDoc) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}

	payload := make([]any, len(docs))
	for i := range docs {
		payload[i] = docs[i]
	}

	_, err := s.coll.InsertMany(ctx, payload, options.InsertMany().SetOrdered(false))
	n, failed, err := insertedCount(len(docs), err)
	if err != nil {
		return 0, fmt.Errorf("insert playlists: %w", err)
	}
	if failed > 0 {
		s.log.Printf("stage=docstore warn=partial_insert inserted=%d failed=%d", n, failed)
	}
	return n, nil
}

// insertedCount maps an InsertMany outcome onto (inserted, failed, fatal).
// A BulkWriteException is a partial success, anything else is fatal.
func insertedCount(total int, err error) (int, int, error) {
	if err == nil {
		return total, 0, nil
	}
	var bwe mongo.BulkWriteException
	if errors.As(err, &bwe) {
		failed := len(bwe.WriteErrors)
		if failed > total {
			failed = total
		}
		return total - failed, failed, nil
	}
	return 0, 0, err
}

// EnsureUniqueIndex creates the unique index on the playlist id. Called
// after the insert pass, matching the load-then-constrain order of the
// relational side.
func (s *Store) EnsureUniqueIndex(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("create unique index: %w", err)
	}
	return nil
}

// Clear removes every document from the collection.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.coll.DeleteMany(ctx, bson.D{})
	if err != nil {
		return 0, fmt.Errorf("clear collection: %w", err)
	}
	return res.DeletedCount, nil
}

// Stats returns the document count and the distinct genres present.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	n, err := s.coll.CountDocuments(ctx, bson.D{})
	if err != nil {
		return Stats{}, fmt.Errorf("count documents: %w", err)
	}

	raw, err := s.coll.Distinct(ctx, "genre", bson.D{})
	if err != nil {
		return Stats{}, fmt.Errorf("distinct genres: %w", err)
	}
	genres := make([]string, 0, len(raw))
	for _, v := range raw {
		if g, ok := v.(string); ok {
			genres = append(genres, g)
		}
	}
	return Stats{Documents: n, Genres: genres}, nil
}

// ListCollections names the collections in the target database.
func (s *Store) ListCollections(ctx context.Context) ([]string, error) {
	names, err := s.coll.Database().ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	return names, nil
}
