package main

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/code-payments/iap-coordinator/config"
	"github.com/code-payments/iap-coordinator/coordinator"
	"github.com/code-payments/iap-coordinator/event"
	"github.com/code-payments/iap-coordinator/iap"
	"github.com/code-payments/iap-coordinator/iap/memory"
	"github.com/code-payments/iap-coordinator/iap/sqlite"
	"github.com/code-payments/iap-coordinator/play"
	"github.com/code-payments/iap-coordinator/sandbox"
	"github.com/code-payments/iap-coordinator/storekit/legacy"
	"github.com/code-payments/iap-coordinator/storekit/verified"
	"github.com/code-payments/iap-coordinator/unsupported"
)

// simulator is one coordinator wired to a sandbox store for the lifetime of a
// command.
type simulator struct {
	log         *zap.Logger
	catalog     *sandbox.Catalog
	coordinator *coordinator.Coordinator

	// script is nil for the unsupported platform.
	script *sandbox.Script

	// approve releases every purchase waiting for external approval.
	approve func()

	closers []func()
}

func newSimulator(ctx context.Context, cfg *config.Config, log *zap.Logger) (*simulator, error) {
	s := &simulator{
		log:     log,
		approve: func() {},
	}

	catalog := sandbox.DefaultCatalog()
	if cfg.CatalogPath != "" {
		loaded, err := sandbox.LoadCatalog(cfg.CatalogPath)
		if err != nil {
			return nil, err
		}
		catalog = loaded
	}
	s.catalog = catalog

	store, err := s.openStore(ctx, cfg.JournalPath)
	if err != nil {
		s.Close()
		return nil, err
	}

	adapter, err := s.newAdapter(cfg, catalog)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.coordinator = coordinator.New(
		adapter,
		coordinator.WithLogger(log),
		coordinator.WithStore(store),
		coordinator.WithEventStream(cfg.EventBufferSize, cfg.EventNotifyTimeout),
		coordinator.WithFinishedTTL(cfg.FinishedTTL),
		coordinator.WithCountryCodeTTL(cfg.CountryCodeTTL),
		coordinator.WithConsumableProducts(append(catalog.ConsumableIDs(), cfg.ConsumableProducts...)...),
	)

	// The coordinator closes the adapter before the sandbox behind it.
	closers := s.closers
	s.closers = []func(){func() {
		if err := s.coordinator.Close(); err != nil {
			log.Warn("Failed to close coordinator", zap.Error(err))
		}
	}}
	s.closers = append(s.closers, closers...)

	if err := s.coordinator.Initialize(ctx); err != nil {
		s.Close()
		return nil, err
	}

	log.Debug("Simulator started",
		zap.String("platform", cfg.Platform),
		zap.String("storefront", catalog.Storefront),
		zap.Int("products", len(catalog.Products)),
	)
	return s, nil
}

func (s *simulator) openStore(ctx context.Context, path string) (iap.Store, error) {
	if path == "" {
		return memory.NewInMemory(), nil
	}

	db, err := sqlite.Open(path)
	if err != nil {
		return nil, err
	}
	s.closeDB(db)

	return sqlite.NewInSQLite(ctx, db)
}

func (s *simulator) closeDB(db *sqlx.DB) {
	s.closers = append(s.closers, func() {
		if err := db.Close(); err != nil {
			s.log.Warn("Failed to close transaction journal", zap.Error(err))
		}
	})
}

func (s *simulator) newAdapter(cfg *config.Config, catalog *sandbox.Catalog) (iap.Adapter, error) {
	switch cfg.Platform {
	case config.PlatformStoreKit:
		queue := sandbox.NewPaymentQueue(catalog)
		s.script = &queue.Script
		s.approve = queue.ApproveDeferred
		s.closers = append(s.closers, queue.Close)
		return legacy.New(s.log, queue), nil

	case config.PlatformStoreKit2:
		signer, err := sandbox.NewSigner()
		if err != nil {
			return nil, err
		}

		roots := signer.Roots()
		if cfg.RootCertPath != "" {
			if roots, err = verified.LoadRootCertificates(cfg.RootCertPath); err != nil {
				return nil, err
			}
		}

		store := sandbox.NewStore(catalog, signer, cfg.BundleID)
		s.script = &store.Script
		s.approve = func() {
			if err := store.ApprovePending(); err != nil {
				s.log.Warn("Failed to approve pending purchases", zap.Error(err))
			}
		}
		s.closers = append(s.closers, store.Close)
		return verified.New(s.log, store, verified.NewVerifier(cfg.BundleID, verified.WithRootCertificates(roots))), nil

	case config.PlatformPlay:
		client := sandbox.NewBillingClient(catalog)
		s.script = &client.Script
		s.approve = client.ApprovePending
		s.closers = append(s.closers, client.Close)
		return play.New(s.log, client), nil

	case config.PlatformUnsupported:
		return unsupported.New(), nil
	}
	return nil, errors.Errorf("unknown platform %q", cfg.Platform)
}

// queue scripts the outcomes of the next purchases.
func (s *simulator) queue(outcomes []sandbox.Outcome) error {
	if len(outcomes) == 0 {
		return nil
	}
	if s.script == nil {
		return errors.New("platform cannot be scripted")
	}
	s.script.QueueOutcomes(outcomes...)
	return nil
}

// await reads stream until productID reaches a settled status. A pending
// purchase is approved when approve is set, otherwise it is returned as is.
func (s *simulator) await(ctx context.Context, stream *event.PurchaseUpdateStream, productID string, approve bool) (iap.PurchaseDetails, error) {
	for {
		select {
		case <-ctx.Done():
			return iap.PurchaseDetails{}, errors.Wrapf(ctx.Err(), "no outcome for %s", productID)

		case update, ok := <-stream.Channel():
			if !ok {
				return iap.PurchaseDetails{}, errors.New("purchase-update stream closed")
			}

			for _, details := range update.Purchases {
				if details.ProductID != productID {
					continue
				}

				if details.Status == iap.StatusPending {
					if !approve {
						return details, nil
					}
					s.log.Debug("Approving pending purchase", zap.String("product_id", productID))
					s.approve()
					continue
				}
				return details, nil
			}
		}
	}
}

func (s *simulator) Close() {
	for _, closer := range s.closers {
		closer()
	}
	s.closers = nil
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
