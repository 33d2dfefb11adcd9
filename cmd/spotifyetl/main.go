package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"spotifyetl/internal/config"
	"spotifyetl/internal/metrics"
	"spotifyetl/internal/metrics/datadog"
	"spotifyetl/internal/pipeline"

	// register all backends with the storage factory.
	// config specifies which to use but we need to build in support for all of them.
	_ "spotifyetl/internal/storage/all"
)

// main is the entry point for the spotifyetl binary. It resolves config,
// optionally initializes a metrics backend, and dispatches the selected run
// mode.
func main() {
	var (
		fullReset   bool
		initialize  bool
		exportXML   bool
		testConn    bool
		docPipeline bool
		testDoc     bool

		metricsBackendFlg string
	)

	flag.BoolVar(&fullReset, "full-reset", false, "drop and recreate all tables before loading")
	flag.BoolVar(&initialize, "initialize", false, "create missing tables before loading")
	flag.BoolVar(&exportXML, "export-xml", false, "regenerate the export artifacts from the database and exit")
	flag.BoolVar(&testConn, "test-connection", false, "verify relational connectivity, print table counts, exit")
	flag.BoolVar(&docPipeline, "document-pipeline", false, "convert the last export to JSON and load the document store")
	flag.BoolVar(&testDoc, "test-docstore", false, "verify document-store connectivity, print collection stats, exit")
	flag.StringVar(&metricsBackendFlg, "metrics-backend", "", "metrics backend to use (datadog, none)")
	verbose := flag.Bool("v", false, "enable verbose logs")

	flag.Parse()

	// .env is a convenience for local runs; absence is fine.
	_ = godotenv.Load()

	logger := log.New(os.Stderr, "", log.LstdFlags)
	if *verbose {
		logger.SetFlags(log.LstdFlags | log.Lmicroseconds)
	}

	modes := 0
	for _, m := range []bool{exportXML, testConn, docPipeline, testDoc} {
		if m {
			modes++
		}
	}
	if modes > 1 {
		fatalf("at most one of -export-xml, -test-connection, -document-pipeline, -test-docstore may be set")
	}
	if (fullReset || initialize) && modes > 0 {
		fatalf("-full-reset and -initialize only apply to the default ingest run")
	}

	cfg := config.Load()
	if issues := config.Validate(cfg); len(issues) > 0 {
		for _, iss := range issues {
			fmt.Fprintf(os.Stderr, "config: %s\n", iss)
		}
		os.Exit(1)
	}

	// Decide metrics backend: flag → env → default (none).
	backendName := metricsBackendFlg
	if backendName == "" {
		backendName = os.Getenv("METRICS_BACKEND")
	}
	switch backendName {
	case "datadog":
		b, err := datadog.NewBackend(context.Background(), datadog.Options{
			JobName: "spotifyetl",
			Tags:    datadog.ParseTagsCSV(os.Getenv("METRICS_TAGS")),
		})
		if err != nil {
			logger.Printf("metrics: failed to init datadog backend: %v; using nop", err)
		} else {
			logger.Printf("metrics: backend=datadog")
			metrics.SetBackend(b)
		}
	case "", "none":
		// metrics disabled; nop backend remains
	default:
		logger.Printf("metrics: unknown backend %q; metrics disabled", backendName)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := pipeline.NewDefaultRunner(cfg, logger)
	start := time.Now()

	var err error
	switch {
	case exportXML:
		err = runner.ExportOnly(ctx)
	case testConn:
		err = runner.TestRelational(ctx)
	case docPipeline:
		err = runner.DocumentPipeline(ctx)
	case testDoc:
		err = runner.TestDocumentStore(ctx)
	default:
		err = runner.Ingest(ctx, pipeline.IngestOptions{
			Initialize: initialize,
			DropFirst:  fullReset,
		})
	}
	// Close stops the flush loop and performs the final metric submission.
	// os.Exit skips defers, so this runs explicitly on both paths.
	if cerr := metrics.Close(); cerr != nil {
		logger.Printf("metrics: close/flush error: %v", cerr)
	}

	if err != nil {
		logger.Printf("run failed after %s: %v", time.Since(start).Truncate(time.Millisecond), err)
		os.Exit(1)
	}

	if *verbose {
		logger.Printf("completed in %s", time.Since(start).Truncate(time.Millisecond))
	}
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
