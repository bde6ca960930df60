// internal/platform/di/container.go
package di

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	firebase "firebase.google.com/go/v4"
	firebaseauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"

	pgstore "cartengine/internal/adapters/out/db"
	fsstore "cartengine/internal/adapters/out/firestore"
	memstore "cartengine/internal/adapters/out/memory"
	"cartengine/internal/application/event"
	uc "cartengine/internal/application/usecase"
	cartdom "cartengine/internal/domain/cart"
	"cartengine/internal/domain/condition"
	appcfg "cartengine/internal/infra/config"
	"cartengine/internal/infra/database"
	firestoreinfra "cartengine/internal/infra/firestore"
)

// Storage driver names accepted by CART_STORAGE_DRIVER.
const (
	DriverEphemeral  = "ephemeral"
	DriverCache      = "cache"
	DriverRelational = "relational"
)

// Container bundles the wired application objects for main.
//
// The selected storage backend is strict (wiring fails without it);
// Firebase Auth is best-effort (the merge trigger stays disabled when it
// is unavailable).
type Container struct {
	Config *appcfg.Config

	Storage    cartdom.Storage
	Registry   *condition.Registry
	Dispatcher *event.Dispatcher
	Cart       *uc.CartUsecase
	Migration  *uc.MigrationUsecase

	FirebaseAuth *firebaseauth.Client

	// Owned clients (Close-managed)
	db        *database.DB
	firestore *firestoreinfra.ClientWrapper
	sm        *secretmanager.Client
}

// Close releases the owned clients. Safe on a partially built container.
func (c *Container) Close() {
	if c == nil {
		return
	}
	if c.db != nil {
		_ = c.db.Close()
	}
	if c.firestore != nil {
		_ = c.firestore.Close()
	}
	if c.sm != nil {
		_ = c.sm.Close()
	}
}

// Build wires the container from the environment.
func Build(ctx context.Context) (*Container, func(), error) {
	cfg := appcfg.Load()
	if cfg == nil {
		return nil, nil, errors.New("di: config is nil")
	}

	c := &Container{Config: cfg}

	// Credentials file (optional; mainly for local dev)
	credFile := strings.TrimSpace(cfg.FirestoreCredentialsFile)
	if credFile == "" {
		credFile = strings.TrimSpace(cfg.GCPCreds)
	}
	var clientOpts []option.ClientOption
	if credFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(credFile))
		log.Printf("[di] using credentials file for GCP clients")
	}

	// Secret Manager (best-effort; only the relational password needs it)
	{
		sm, err := secretmanager.NewClient(ctx, clientOpts...)
		if err != nil {
			log.Printf("[di] WARN: secretmanager.NewClient failed: %v (secret-backed settings disabled)", err)
			sm = nil
		}
		c.sm = sm
	}

	// Storage backend (strict for the selected driver)
	if err := c.buildStorage(ctx, clientOpts); err != nil {
		c.Close()
		return nil, nil, err
	}

	// Firebase App/Auth (best-effort)
	{
		fbApp, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.FirebaseProjectID}, clientOpts...)
		if err != nil {
			log.Printf("[di] WARN: firebase app init failed: %v", err)
		} else {
			authClient, err := fbApp.Auth(ctx)
			if err != nil {
				log.Printf("[di] WARN: firebase auth init failed: %v", err)
			} else {
				c.FirebaseAuth = authClient
				log.Printf("[di] Firebase Auth initialized")
			}
		}
	}

	// Rule registry with the stock predicates
	c.Registry = condition.NewRegistry()
	if err := condition.RegisterBuiltins(c.Registry); err != nil {
		c.Close()
		return nil, nil, fmt.Errorf("di: register builtin rule factories: %w", err)
	}

	c.Dispatcher = event.NewDispatcher()

	opts := uc.CartOptions{
		AllowStacking: cfg.AllowStacking,
	}
	if cfg.VoucherCap > 0 {
		opts.ConditionCaps = map[string]int{uc.ConditionTypeVoucher: cfg.VoucherCap}
	}

	c.Cart = uc.NewCartUsecase(c.Storage, c.Registry, condition.NewEvaluator(nil), c.Dispatcher, opts)
	c.Migration = uc.NewMigrationUsecase(c.Storage, c.Registry, c.Dispatcher, opts)

	cleanup := func() { c.Close() }
	return c, cleanup, nil
}

func (c *Container) buildStorage(ctx context.Context, clientOpts []option.ClientOption) error {
	cfg := c.Config
	driver := strings.TrimSpace(strings.ToLower(cfg.StorageDriver))

	switch driver {
	case "", DriverEphemeral:
		c.Storage = memstore.NewCartStorageMem()
		log.Printf("[di] storage driver=ephemeral")
		return nil

	case DriverCache:
		fs, err := firestoreinfra.NewClient(ctx, cfg.FirestoreProjectID, cfg.FirestoreCredentialsFile)
		if err != nil {
			return fmt.Errorf("di: firestore init failed: %w", err)
		}
		c.firestore = fs
		c.Storage = fsstore.NewCartStorageFS(fs.Client, cfg.CacheTTL)
		log.Printf("[di] storage driver=cache ttl=%s", cfg.CacheTTL)
		return nil

	case DriverRelational:
		password := cfg.DBPassword
		if strings.TrimSpace(cfg.DatabasePasswordSecret) != "" {
			resolved, err := resolveDatabasePassword(ctx, c.sm, cfg.DatabasePasswordSecret)
			if err != nil {
				return fmt.Errorf("di: resolve database password: %w", err)
			}
			password = resolved
		}

		dbConn, err := database.NewConnection(cfg.DBHost, cfg.DBPort, cfg.DBUser, password, cfg.DBName)
		if err != nil {
			return fmt.Errorf("di: database init failed: %w", err)
		}
		c.db = dbConn

		policy, err := pgstore.ParseConflictPolicy(cfg.ConflictPolicy)
		if err != nil {
			return err
		}
		store := pgstore.NewCartStoragePG(dbConn.Client, pgstore.Options{
			LockForUpdate:  cfg.LockForUpdate,
			ConflictPolicy: policy,
		})
		if err := store.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("di: ensure schema: %w", err)
		}
		c.Storage = store
		log.Printf("[di] storage driver=relational lock_for_update=%t conflict_policy=%s",
			cfg.LockForUpdate, policy)
		return nil
	}

	return fmt.Errorf("di: unknown storage driver %q", cfg.StorageDriver)
}
