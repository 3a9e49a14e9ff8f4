package service

import (
	"context"
	"fmt"
	"log"

	"github.com/quotagate/quotagate/internal/catalog"
	"github.com/quotagate/quotagate/internal/config"
	"github.com/quotagate/quotagate/internal/models"
)

// ConfigReloadService re-reads the config file on demand and swaps the
// running catalog's tier tables and cost model. Counters and caches are
// untouched; in-flight windows simply see the new limits on their next
// consumption.
type ConfigReloadService struct {
	path    string
	catalog *catalog.Catalog
	audit   AuditSink
}

func NewConfigReloadService(path string, cat *catalog.Catalog, audit AuditSink) *ConfigReloadService {
	return &ConfigReloadService{
		path:    path,
		catalog: cat,
		audit:   audit,
	}
}

// Reload applies the on-disk config. A file, parse or validation error
// leaves the running catalog exactly as it was.
func (s *ConfigReloadService) Reload(ctx context.Context, actorID string) error {
	cfg, err := config.Load(s.path)
	if err != nil {
		return fmt.Errorf("failed to reload config from %s: %w", s.path, err)
	}

	defaults, err := cfg.CatalogDefaults()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}

	if err := s.catalog.Reload(defaults, cfg.Costs); err != nil {
		return err
	}

	log.Printf("Reloaded tier catalog and cost model from %s", s.path)

	return s.audit.Record(ctx, &models.AuditLog{
		ActorID: actorID,
		Action:  "config_reload",
		Target:  s.path,
	})
}
