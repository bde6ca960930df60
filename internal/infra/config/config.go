// internal/infra/config/config.go
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the process-wide environment settings.
type Config struct {
	Port string

	// Storage selection: "ephemeral" | "cache" | "relational".
	StorageDriver string

	// Engine behavior.
	AllowStacking bool
	MergeStrategy string
	VoucherCap    int

	// Relational backend.
	DBHost         string
	DBPort         string
	DBUser         string
	DBPassword     string
	DBName         string
	LockForUpdate  bool
	ConflictPolicy string

	// Secret Manager resource name for the database password. When set it
	// overrides DBPassword at wiring time.
	DatabasePasswordSecret string

	// Cache backend.
	FirestoreProjectID       string
	FirestoreCredentialsFile string
	CacheTTL                 time.Duration

	// Firebase Auth (session identity for the merge flow).
	FirebaseProjectID string
	GCPCreds          string
}

// Load reads the environment and returns a Config.
func Load() *Config {
	defaultProject := getenvDefault("GCP_PROJECT_ID", "cartengine-development")

	cfg := &Config{
		Port: getenvDefault("PORT", "8080"),

		StorageDriver: getenvDefault("CART_STORAGE_DRIVER", "ephemeral"),

		AllowStacking: getenvBool("CART_ALLOW_STACKING", true),
		MergeStrategy: getenvDefault("CART_MERGE_STRATEGY", "add_quantities"),
		VoucherCap:    getenvInt("CART_VOUCHER_CAP", 1),

		DBHost:         getenvDefault("DB_HOST", "localhost"),
		DBPort:         getenvDefault("DB_PORT", "5432"),
		DBUser:         getenvDefault("DB_USER", "postgres"),
		DBPassword:     os.Getenv("DB_PASSWORD"),
		DBName:         getenvDefault("DB_NAME", "cartengine"),
		LockForUpdate:  getenvBool("CART_LOCK_FOR_UPDATE", false),
		ConflictPolicy: getenvDefault("CART_CONFLICT_POLICY", "last_write_wins"),

		DatabasePasswordSecret: os.Getenv("DATABASE_PASSWORD_SECRET"),

		FirestoreProjectID:       getenvDefault("FIRESTORE_PROJECT_ID", defaultProject),
		FirestoreCredentialsFile: os.Getenv("FIRESTORE_CREDENTIALS_FILE"),
		CacheTTL:                 getenvDuration("CART_CACHE_TTL", 30*24*time.Hour),

		FirebaseProjectID: getenvDefault("FIREBASE_PROJECT_ID", defaultProject),
		GCPCreds:          os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"),
	}

	return cfg
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
