// Package pipeline orchestrates the run modes of the ETL binary: relational
// ingest, export and render, the document-store load, and the two
// connection tests.
//
// The Runner carries factory seams for everything with a network behind it,
// so tests drive full runs against fakes.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"spotifyetl/internal/catalog"
	"spotifyetl/internal/config"
	"spotifyetl/internal/docstore"
	"spotifyetl/internal/load"
	"spotifyetl/internal/metrics"
	"spotifyetl/internal/normalize"
	"spotifyetl/internal/render"
	"spotifyetl/internal/storage"
	"spotifyetl/internal/xmlexport"
	"spotifyetl/internal/xmlschema"
)

// Logger is the minimal logging interface used by the runner.
type Logger interface {
	Printf(format string, v ...any)
}

// Store is the slice of docstore.Store the runner needs, kept as an
// interface so document-pipeline tests run without MongoDB.
type Store interface {
	Ping(ctx context.Context) error
	Clear(ctx context.Context) (int64, error)
	InsertPlaylists(ctx context.Context, docs []docstore.PlaylistDoc) (int, error)
	EnsureUniqueIndex(ctx context.Context) error
	Stats(ctx context.Context) (docstore.Stats, error)
	ListCollections(ctx context.Context) ([]string, error)
	Close(ctx context.Context) error
}

// IngestOptions controls the relational ingest run.
type IngestOptions struct {
	// Initialize creates missing tables before loading.
	Initialize bool
	// DropFirst drops all tables before recreating them. Implies Initialize.
	DropFirst bool
}

// Runner executes run modes against one resolved configuration.
type Runner struct {
	Cfg config.Config
	Log Logger

	// Factory seams.
	NewRepository func(ctx context.Context, cfg storage.Config) (storage.Repository, error)
	NewStore      func(ctx context.Context, cfg docstore.Config) (Store, error)
	Now           func() time.Time
	NewRunID      func() string
}

// NewDefaultRunner wires the production factories.
func NewDefaultRunner(cfg config.Config, log Logger) *Runner {
	return &Runner{
		Cfg:           cfg,
		Log:           log,
		NewRepository: storage.New,
		NewStore: func(ctx context.Context, dc docstore.Config) (Store, error) {
			return docstore.Connect(ctx, dc, log)
		},
		Now:      time.Now,
		NewRunID: uuid.NewString,
	}
}

func (r *Runner) storageConfig() storage.Config {
	return storage.Config{Kind: r.Cfg.StorageKind, DSN: r.Cfg.DBDSN}
}

func (r *Runner) docstoreConfig() docstore.Config {
	return docstore.Config{
		URI:        r.Cfg.MongoURI,
		Database:   r.Cfg.MongoDatabase,
		Collection: r.Cfg.MongoCollection,
	}
}

// stage runs one named unit of work and records its outcome.
func (r *Runner) stage(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	status := "ok"
	if err != nil {
		status = "error"
	}
	elapsed := time.Since(start)

	labels := metrics.Labels{"stage": name, "status": status}
	metrics.IncCounter(metrics.StageTotal, 1, labels)
	metrics.ObserveHistogram(metrics.StageDurationSeconds, elapsed.Seconds(), labels)

	if err != nil {
		r.Log.Printf("stage=%s status=error duration=%s error=%v", name, elapsed, err)
	} else {
		r.Log.Printf("stage=%s status=ok duration=%s", name, elapsed)
	}
	return err
}

// Ingest runs the full relational pass: normalize the CSV, load the schema,
// then export and render. Entity-level load failures degrade per table; a
// failure to read the input or reach the backend aborts.
func (r *Runner) Ingest(ctx context.Context, opts IngestOptions) error {
	r.Log.Printf("run=ingest backend=%s csv=%s initialize=%t drop_first=%t",
		r.Cfg.StorageKind, r.Cfg.CSVPath, opts.Initialize || opts.DropFirst, opts.DropFirst)

	var ds catalog.Datasets
	if err := r.stage("normalize", func() error {
		var err error
		ds, err = normalize.Preprocess(r.Cfg.CSVPath, r.Log)
		return err
	}); err != nil {
		return err
	}

	repo, err := r.NewRepository(ctx, r.storageConfig())
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer repo.Close()

	if opts.Initialize || opts.DropFirst {
		if err := r.initSchema(ctx, repo, opts.DropFirst); err != nil {
			return err
		}
	}

	if err := r.stage("load", func() error {
		loader := &load.Loader{Repo: repo, Log: r.Log}
		stats, err := loader.Load(ctx, ds)
		for table, n := range stats.Inserted {
			metrics.IncCounter(metrics.RowsTotal, float64(n), metrics.Labels{"table": table})
		}
		r.Log.Printf("stage=load total_inserted=%d", stats.Total())
		return err
	}); err != nil {
		return err
	}

	return r.exportAndRender(ctx, repo)
}

// ExportOnly regenerates the XML, schemas, report and JSON from whatever the
// relational backend currently holds.
func (r *Runner) ExportOnly(ctx context.Context) error {
	r.Log.Printf("run=export backend=%s xml=%s", r.Cfg.StorageKind, r.Cfg.XMLPath)

	repo, err := r.NewRepository(ctx, r.storageConfig())
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer repo.Close()

	return r.exportAndRender(ctx, repo)
}

func (r *Runner) initSchema(ctx context.Context, repo storage.Repository, dropFirst bool) error {
	return r.stage("schema", func() error {
		res, err := repo.InitSchema(ctx, dropFirst)
		if err != nil {
			return err
		}
		r.Log.Printf("stage=schema applied=%d suppressed=%d errors=%d",
			res.Applied, res.Suppressed, len(res.Errors))
		for _, e := range res.Errors {
			r.Log.Printf("stage=schema error=%v", e)
		}
		if len(res.Errors) > 0 {
			return fmt.Errorf("schema init: %d statement(s) failed", len(res.Errors))
		}
		return nil
	})
}

// exportAndRender runs the back half shared by Ingest and ExportOnly: the
// join, the XML file with its DTD, the DTD validation, and the HTML report.
// Validation findings are logged and skip the report; the export itself
// stays on disk for inspection and the run still succeeds.
func (r *Runner) exportAndRender(ctx context.Context, repo storage.Repository) error {
	var doc xmlexport.Document

	if err := r.stage("export", func() error {
		rows, err := repo.ExportRows(ctx)
		if err != nil {
			return err
		}
		doc = xmlexport.Group(rows, r.Now())
		r.Log.Printf("stage=export playlists=%d tracks=%d", doc.TotalPlaylists, doc.TotalTracks)

		if err := ensureDir(r.Cfg.XMLPath, r.Cfg.DTDPath); err != nil {
			return err
		}
		if err := xmlschema.WriteDTD(r.Cfg.DTDPath); err != nil {
			return err
		}
		return xmlexport.WriteFile(r.Cfg.XMLPath, doc, filepath.Base(r.Cfg.DTDPath))
	}); err != nil {
		return err
	}

	if err := r.stage("validate", func() error {
		data, err := os.ReadFile(r.Cfg.XMLPath)
		if err != nil {
			return err
		}
		return r.reportIssues("dtd", xmlschema.ValidateDTD(data))
	}); err != nil {
		r.Log.Printf("stage=render skipped=true reason=validation")
		return nil
	}

	return r.stage("render", func() error {
		if err := ensureDir(r.Cfg.HTMLPath); err != nil {
			return err
		}
		return render.WriteHTML(r.Cfg.HTMLPath, doc)
	})
}

// reportIssues logs validation findings, capped so a systematically broken
// export does not flood the log.
func (r *Runner) reportIssues(kind string, issues []xmlschema.Issue) error {
	const maxIssues = 20
	for i, iss := range issues {
		if i == maxIssues {
			r.Log.Printf("stage=validate schema=%s suppressed=%d", kind, len(issues)-maxIssues)
			break
		}
		r.Log.Printf("stage=validate schema=%s issue=%q", kind, iss.String())
	}
	if len(issues) > 0 {
		return fmt.Errorf("%d %s validation issue(s)", len(issues), kind)
	}
	r.Log.Printf("stage=validate schema=%s issues=0", kind)
	return nil
}

// DocumentPipeline runs the second pipeline over the last export: write the
// XSD and validate the XML against it (a hard gate, unlike the DTD check),
// convert to JSON, then load the document store: insert first, unique index
// after, stats last.
func (r *Runner) DocumentPipeline(ctx context.Context) error {
	r.Log.Printf("run=document-pipeline xml=%s json=%s collection=%s.%s",
		r.Cfg.XMLPath, r.Cfg.JSONPath, r.Cfg.MongoDatabase, r.Cfg.MongoCollection)

	if err := r.stage("validate", func() error {
		data, err := os.ReadFile(r.Cfg.XMLPath)
		if err != nil {
			return fmt.Errorf("read export (run the ingest first): %w", err)
		}
		if err := ensureDir(r.Cfg.XSDPath); err != nil {
			return err
		}
		if err := xmlschema.WriteXSD(r.Cfg.XSDPath); err != nil {
			return err
		}
		return r.reportIssues("xsd", xmlschema.ValidateXSD(data))
	}); err != nil {
		return err
	}

	var jsonDoc catalog.JSONDocument
	if err := r.stage("convert", func() error {
		doc, err := xmlexport.ReadFile(r.Cfg.XMLPath)
		if err != nil {
			return err
		}
		jsonDoc = render.FromDocument(doc)
		if err := ensureDir(r.Cfg.JSONPath); err != nil {
			return err
		}
		return render.WriteJSON(r.Cfg.JSONPath, jsonDoc)
	}); err != nil {
		return err
	}

	store, err := r.NewStore(ctx, r.docstoreConfig())
	if err != nil {
		return fmt.Errorf("open document store: %w", err)
	}
	defer store.Close(ctx)

	return r.stage("docstore", func() error {
		meta := docstore.Metadata{
			Source:      filepath.Base(r.Cfg.XMLPath),
			RunID:       r.NewRunID(),
			GeneratedAt: jsonDoc.GeneratedAt,
		}
		docs := docstore.DecoratePlaylists(jsonDoc, meta)

		// Each run replaces the collection, mirroring the reset-and-load
		// semantics of the relational side.
		removed, err := store.Clear(ctx)
		if err != nil {
			return err
		}
		if removed > 0 {
			r.Log.Printf("stage=docstore cleared=%d", removed)
		}

		inserted, err := store.InsertPlaylists(ctx, docs)
		metrics.IncCounter(metrics.DocumentsTotal, float64(inserted), metrics.Labels{"outcome": "inserted"})
		if failed := len(docs) - inserted; failed > 0 {
			metrics.IncCounter(metrics.DocumentsTotal, float64(failed), metrics.Labels{"outcome": "failed"})
		}
		if err != nil {
			return err
		}
		r.Log.Printf("stage=docstore inserted=%d of=%d run_id=%s", inserted, len(docs), meta.RunID)

		if err := store.EnsureUniqueIndex(ctx); err != nil {
			return err
		}

		stats, err := store.Stats(ctx)
		if err != nil {
			return err
		}
		r.Log.Printf("stage=docstore documents=%d genres=%d", stats.Documents, len(stats.Genres))
		return nil
	})
}

// TestRelational pings the relational backend and reports per-table counts.
func (r *Runner) TestRelational(ctx context.Context) error {
	r.Log.Printf("run=test-connection backend=%s", r.Cfg.StorageKind)

	repo, err := r.NewRepository(ctx, r.storageConfig())
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer repo.Close()

	return r.stage("test-connection", func() error {
		if err := repo.Ping(ctx); err != nil {
			return fmt.Errorf("ping: %w", err)
		}
		for _, table := range storage.TableNames() {
			n, err := repo.CountRows(ctx, table)
			if err != nil {
				r.Log.Printf("table=%s rows=unavailable error=%v", table, err)
				continue
			}
			r.Log.Printf("table=%s rows=%d", table, n)
		}
		return nil
	})
}

// TestDocumentStore pings MongoDB and reports what the collection holds.
func (r *Runner) TestDocumentStore(ctx context.Context) error {
	r.Log.Printf("run=test-docstore uri=%s database=%s", r.Cfg.MongoURI, r.Cfg.MongoDatabase)

	store, err := r.NewStore(ctx, r.docstoreConfig())
	if err != nil {
		return fmt.Errorf("open document store: %w", err)
	}
	defer store.Close(ctx)

	return r.stage("test-docstore", func() error {
		if err := store.Ping(ctx); err != nil {
			return fmt.Errorf("ping: %w", err)
		}
		names, err := store.ListCollections(ctx)
		if err != nil {
			return err
		}
		r.Log.Printf("collections=%v", names)

		stats, err := store.Stats(ctx)
		if err != nil {
			return err
		}
		r.Log.Printf("collection=%s documents=%d genres=%v", r.Cfg.MongoCollection, stats.Documents, stats.Genres)
		return nil
	})
}

// ensureDir creates the parent directories of every path given.
func ensureDir(paths ...string) error {
	for _, p := range paths {
		dir := filepath.Dir(p)
		if dir == "." || dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir %s: %w", dir, err)
		}
	}
	return nil
}
