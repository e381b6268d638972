// Package tracker parses tracker command flags and composes the service
// entrypoint.
package tracker

import (
	"context"
	"flag"
	"fmt"
	"log"

	entrypoint "github.com/tracklight/tracklight/internal/platform/cmd"
	"github.com/tracklight/tracklight/internal/tracker/app"
	"github.com/tracklight/tracklight/internal/tracker/audit"
	"github.com/tracklight/tracklight/internal/tracker/broadcast"
	"github.com/tracklight/tracklight/internal/tracker/storage"
	boltstore "github.com/tracklight/tracklight/internal/tracker/storage/bbolt"
	"github.com/tracklight/tracklight/internal/tracker/storage/jsonfile"
	"github.com/tracklight/tracklight/internal/tracker/storage/sqlite"
	"github.com/tracklight/tracklight/internal/tracker/writer"
)

// Config holds tracker command configuration.
type Config struct {
	HTTPAddr        string `env:"TRACKLIGHT_HTTP_ADDR"        envDefault:"localhost:8080"`
	AppName         string `env:"TRACKLIGHT_APP_NAME"         envDefault:"Tracklight"`
	DocumentBackend string `env:"TRACKLIGHT_DOCUMENT_BACKEND" envDefault:"jsonfile"`
	DocumentPath    string `env:"TRACKLIGHT_DOCUMENT_PATH"    envDefault:"tracklight.json"`
	AuditDBPath     string `env:"TRACKLIGHT_AUDIT_DB_PATH"    envDefault:"tracklight-audit.db"`
	EventBuffer     int    `env:"TRACKLIGHT_EVENT_BUFFER"     envDefault:"16"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "tracker HTTP listen address")
	fs.StringVar(&cfg.AppName, "app-name", cfg.AppName, "application display name")
	fs.StringVar(&cfg.DocumentBackend, "document-backend", cfg.DocumentBackend, "document store backend (jsonfile or bbolt)")
	fs.StringVar(&cfg.DocumentPath, "document-path", cfg.DocumentPath, "document store file path")
	fs.StringVar(&cfg.AuditDBPath, "audit-db-path", cfg.AuditDBPath, "audit trail SQLite database path")
	fs.IntVar(&cfg.EventBuffer, "event-buffer", cfg.EventBuffer, "per-subscriber event buffer size")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func openDocumentStore(cfg Config) (storage.DocumentStore, error) {
	switch cfg.DocumentBackend {
	case "jsonfile":
		return jsonfile.Open(cfg.DocumentPath)
	case "bbolt":
		return boltstore.Open(cfg.DocumentPath)
	default:
		return nil, fmt.Errorf("unknown document backend %q", cfg.DocumentBackend)
	}
}

// Run wires the stores, serializer, and HTTP server, then serves until
// the context ends.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceTracker, func(ctx context.Context) error {
		docStore, err := openDocumentStore(cfg)
		if err != nil {
			return fmt.Errorf("open document store: %w", err)
		}
		defer func() {
			if err := docStore.Close(); err != nil {
				log.Printf("tracker: close document store: %v", err)
			}
		}()

		// The audit trail is best-effort: when its store cannot be
		// opened the tracker still serves, without a trail.
		var auditLogger *audit.Logger
		auditStore, err := sqlite.Open(cfg.AuditDBPath)
		if err != nil {
			log.Printf("tracker: audit store unavailable, running without audit trail: %v", err)
		} else {
			auditLogger = audit.NewLogger(auditStore)
			defer func() {
				if err := auditStore.Close(); err != nil {
					log.Printf("tracker: close audit store: %v", err)
				}
			}()
		}

		hub := broadcast.NewHub(cfg.EventBuffer)
		serializer, err := writer.New(ctx, docStore, auditLogger, hub, log.Default())
		if err != nil {
			return fmt.Errorf("load document: %w", err)
		}

		server, err := app.NewServer(
			app.Config{HTTPAddr: cfg.HTTPAddr, AppName: cfg.AppName},
			app.Dependencies{
				Serializer: serializer,
				Audit:      auditLogger,
				Hub:        hub,
				Logger:     log.Default(),
			},
		)
		if err != nil {
			return fmt.Errorf("init tracker server: %w", err)
		}

		if err := server.ListenAndServe(ctx); err != nil {
			return fmt.Errorf("serve tracker: %w", err)
		}
		return nil
	})
}
