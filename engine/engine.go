// Package engine wires the protection components into a ready-to-use facade:
// KMS provider, key service, policy resolver, token engine, field protector
// and session manager, backed by MongoDB or in-process stores.
package engine

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/root-sector/identity-wallet-module-protection/audit"
	"github.com/root-sector/identity-wallet-module-protection/cache"
	cachestorage "github.com/root-sector/identity-wallet-module-protection/cache/storage"
	"github.com/root-sector/identity-wallet-module-protection/interfaces"
	"github.com/root-sector/identity-wallet-module-protection/keys"
	keystore "github.com/root-sector/identity-wallet-module-protection/keys/store"
	"github.com/root-sector/identity-wallet-module-protection/kms"
	"github.com/root-sector/identity-wallet-module-protection/policy"
	policystore "github.com/root-sector/identity-wallet-module-protection/policy/store"
	"github.com/root-sector/identity-wallet-module-protection/protection"
	"github.com/root-sector/identity-wallet-module-protection/secrets"
	"github.com/root-sector/identity-wallet-module-protection/session"
	"github.com/root-sector/identity-wallet-module-protection/token"
)

// Config declares everything the engine needs to assemble its services
type Config struct {
	// KMS selects and configures the KEK provider
	KMS kms.Config

	// Database backs key material, policies and secrets when set; nil falls
	// back to in-process stores (tests, single-node tooling)
	Database *mongo.Database

	// SessionSigningKey signs unmask session bearer tokens; nil generates an
	// ephemeral key
	SessionSigningKey []byte

	// ValueSource is the read contract to the entity repositories, required
	// only when unmask sessions are used
	ValueSource interfaces.ProtectedValueSource

	// AuditLogger defaults to the zerolog stdout logger when nil
	AuditLogger interfaces.AuditLogger
}

// Engine is the assembled protection facade
type Engine struct {
	Keys      interfaces.KeyService
	Policy    interfaces.PolicyResolver
	Tokens    interfaces.TokenEngine
	Protector interfaces.FieldProtector
	Sessions  interfaces.SessionManager
	Audit     interfaces.AuditLogger

	provider    interfaces.KMSProvider
	keyStore    interfaces.KeyStore
	maintenance *maintenanceTracker
	logger      zerolog.Logger
}

// New assembles the engine from configuration
func New(cfg Config) (*Engine, error) {
	provider, err := kms.NewProvider(cfg.KMS)
	if err != nil {
		return nil, fmt.Errorf("failed to create KMS provider: %w", err)
	}

	auditLogger := cfg.AuditLogger
	if auditLogger == nil {
		auditLogger = audit.NewStdoutAuditLogger()
	}

	var (
		keyStore    interfaces.KeyStore
		policyStore interfaces.PolicyStore
		secretStore interfaces.SecretStore
	)
	if cfg.Database != nil {
		keyStore = keystore.NewMongoDBStore(cfg.Database)
		policyStore = policystore.NewMongoDBStore(cfg.Database)
		secretStore = secrets.NewMongoDBStore(cfg.Database)
	} else {
		keyStore = keystore.NewMemoryStore()
		policyStore = policystore.NewMemoryStore()
		secretStore = secrets.NewMemoryStore()
	}

	secureCache := cache.New(cachestorage.NewMemoryAdapter())

	pepper, err := keys.NewPepperService(secretStore, secureCache)
	if err != nil {
		return nil, fmt.Errorf("failed to create pepper service: %w", err)
	}
	keySvc, err := keys.NewService(provider, keyStore, secureCache, pepper, auditLogger)
	if err != nil {
		return nil, fmt.Errorf("failed to create key service: %w", err)
	}

	resolver, err := policy.NewResolver(policyStore, auditLogger)
	if err != nil {
		return nil, fmt.Errorf("failed to create policy resolver: %w", err)
	}

	tokenEngine, err := token.NewEngine(keySvc)
	if err != nil {
		return nil, fmt.Errorf("failed to create token engine: %w", err)
	}

	protector, err := protection.NewService(resolver, keySvc, tokenEngine, auditLogger)
	if err != nil {
		return nil, fmt.Errorf("failed to create field protector: %w", err)
	}

	e := &Engine{
		Keys:        keySvc,
		Policy:      resolver,
		Tokens:      tokenEngine,
		Protector:   protector,
		Audit:       auditLogger,
		provider:    provider,
		keyStore:    keyStore,
		maintenance: newMaintenanceTracker(),
		logger:      log.With().Str("component", "protection_engine").Logger(),
	}

	if cfg.ValueSource != nil {
		sessions, err := session.NewManager(resolver, protector, cfg.ValueSource, auditLogger, cfg.SessionSigningKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create session manager: %w", err)
		}
		e.Sessions = sessions
	}

	return e, nil
}

// HealthCheck verifies the KEK provider end to end
func (e *Engine) HealthCheck(ctx context.Context) error {
	if err := e.provider.HealthCheck(ctx); err != nil {
		return fmt.Errorf("KMS provider unhealthy: %w", err)
	}
	return nil
}

// Shutdown stops background work. Unmask sessions are not persisted, so this
// implicitly revokes them all.
func (e *Engine) Shutdown() {
	if e.Sessions != nil {
		if m, ok := e.Sessions.(*session.Manager); ok {
			m.Shutdown()
		}
	}
	e.maintenance.shutdown()
}

// RotateAllTenants starts a background rotation across every tenant with key
// material and returns the process handle for progress tracking. Only one
// rotation process may run at a time.
func (e *Engine) RotateAllTenants(ctx context.Context, reEncryptExisting bool) (*MaintenanceProcess, error) {
	tenantIDs, err := e.keyStore.ListTenantIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}

	return e.maintenance.start(ctx, "rotate-all-tenants", func(procCtx context.Context, report func(float64)) error {
		for i, tenantID := range tenantIDs {
			if procCtx.Err() != nil {
				return procCtx.Err()
			}
			if _, err := e.Keys.RotateKeys(procCtx, tenantID, reEncryptExisting); err != nil {
				return fmt.Errorf("rotation failed for tenant %s: %w", tenantID, err)
			}
			report(float64(i+1) / float64(len(tenantIDs)))
		}
		return nil
	})
}

// GetMaintenanceProcess returns a running or finished process by id
func (e *Engine) GetMaintenanceProcess(id string) (*MaintenanceProcess, bool) {
	return e.maintenance.get(id)
}
