// Package service wires the storage, ledger, engines and observability
// components into a single runnable unit.
package service

import (
	"fmt"
	"log/slog"

	"tutorpay/audit"
	"tutorpay/config"
	"tutorpay/core/events"
	"tutorpay/ledger"
	"tutorpay/native/escrow"
	"tutorpay/native/rating"
	"tutorpay/native/registry"
	"tutorpay/observability"
	"tutorpay/observability/logging"
	"tutorpay/state"
	"tutorpay/storage"
)

// Service owns the assembled engines and their shared infrastructure.
type Service struct {
	cfg *config.Config
	log *slog.Logger

	db      storage.Database
	manager *state.Manager
	ledger  ledger.Adapter
	journal *audit.Journal

	Escrow   *escrow.Engine
	Rating   *rating.Engine
	Registry *registry.Engine
}

// Options overrides parts of the default wiring. Zero value selects the
// defaults for every component.
type Options struct {
	// Ledger substitutes the funds adapter. Defaults to an in-memory
	// balance ledger, which is only suitable for tests and local runs.
	Ledger ledger.Adapter
	// Logger substitutes the structured logger. Defaults to one built
	// from the configuration.
	Logger *slog.Logger
}

// New assembles a service from the given configuration.
func New(cfg *config.Config, opts Options) (*Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("service: nil config")
	}

	log := opts.Logger
	if log == nil {
		if cfg.LogFile != "" {
			log = logging.SetupFile(cfg.Service, cfg.Env, cfg.LogFile)
		} else {
			log = logging.Setup(cfg.Service, cfg.Env)
		}
	}

	var db storage.Database
	if cfg.DataDir == "" {
		db = storage.NewMemDB()
	} else {
		ldb, err := storage.NewLevelDB(cfg.DataDir)
		if err != nil {
			return nil, fmt.Errorf("service: open database: %w", err)
		}
		db = ldb
	}

	svc := &Service{cfg: cfg, log: log, db: db}
	svc.manager = state.NewManager(db)

	svc.ledger = opts.Ledger
	if svc.ledger == nil {
		svc.ledger = ledger.NewBalanceLedger()
	}

	emitters := []events.Emitter{observability.Observer{}}
	if cfg.AuditDBPath != "" {
		journal, err := audit.Open(cfg.AuditDBPath, log)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("service: open audit journal: %w", err)
		}
		svc.journal = journal
		emitters = append(emitters, journal)
	}
	emitter := events.MultiEmitter{Emitters: emitters}

	escrowEngine := escrow.NewEngine()
	escrowEngine.SetState(escrow.NewStore(svc.manager))
	escrowEngine.SetLedger(svc.ledger)
	escrowEngine.SetEmitter(emitter)
	escrowEngine.SetConfirmationWindow(cfg.ConfirmationWindowSeconds())
	svc.Escrow = escrowEngine

	ratingEngine := rating.NewEngine()
	ratingEngine.SetState(rating.NewStore(svc.manager))
	ratingEngine.SetEscrowSource(escrowEngine)
	ratingEngine.SetEmitter(emitter)
	svc.Rating = ratingEngine

	registryEngine := registry.NewEngine()
	registryEngine.SetState(registry.NewStore(svc.manager))
	registryEngine.SetEmailDomain(cfg.EmailDomain)
	registryEngine.SetEmitter(emitter)
	svc.Registry = registryEngine

	log.Info("service assembled",
		"dataDir", cfg.DataDir,
		"auditDB", cfg.AuditDBPath,
		"confirmationWindowHours", cfg.ConfirmationWindowHours,
	)

	return svc, nil
}

// Journal exposes the audit journal, or nil when auditing is disabled.
func (s *Service) Journal() *audit.Journal { return s.journal }

// Ledger exposes the configured funds adapter.
func (s *Service) Ledger() ledger.Adapter { return s.ledger }

// Close releases the underlying database handles.
func (s *Service) Close() error {
	var first error
	if s.journal != nil {
		if err := s.journal.Close(); err != nil {
			first = err
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
