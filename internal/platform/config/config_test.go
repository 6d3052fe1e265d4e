package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID": "pharmly-dev",
	}

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Firestore.ProjectID != "pharmly-dev" {
		t.Errorf("expected firestore project to default to firebase project, got %s", cfg.Firestore.ProjectID)
	}
	if cfg.PubSub.ProjectID != "pharmly-dev" {
		t.Errorf("expected pubsub project to default to firestore project, got %s", cfg.PubSub.ProjectID)
	}
	if cfg.PubSub.OrderEventsTopic != defaultOrderEventsTopic {
		t.Errorf("unexpected default topic %s", cfg.PubSub.OrderEventsTopic)
	}
	if cfg.Orders.ReservationPolicy != ReservationPolicyDeferred {
		t.Errorf("expected deferred reservation by default, got %s", cfg.Orders.ReservationPolicy)
	}
	if cfg.Orders.TxAttempts != 5 || cfg.Orders.TxTimeout != 15*time.Second {
		t.Errorf("unexpected transaction defaults: %d %s", cfg.Orders.TxAttempts, cfg.Orders.TxTimeout)
	}
	if cfg.Orders.CartClearTimeout != 5*time.Second {
		t.Errorf("unexpected cart clear timeout: %s", cfg.Orders.CartClearTimeout)
	}
	if cfg.Orders.BestSellerLimit != 5 {
		t.Errorf("unexpected best seller limit: %d", cfg.Orders.BestSellerLimit)
	}
	if cfg.Security.Environment != "local" {
		t.Errorf("expected default security environment local, got %s", cfg.Security.Environment)
	}
	if cfg.Security.OIDC.JWKSURL != defaultOIDCJWKSURL {
		t.Errorf("expected default jwks url %s, got %s", defaultOIDCJWKSURL, cfg.Security.OIDC.JWKSURL)
	}
	if len(cfg.Security.OIDC.Issuers) != 1 || cfg.Security.OIDC.Issuers[0] != defaultOIDCIssuer {
		t.Errorf("expected default issuer, got %v", cfg.Security.OIDC.Issuers)
	}
	if cfg.Idempotency.Header != defaultIdempotencyHeader {
		t.Errorf("expected default idempotency header, got %s", cfg.Idempotency.Header)
	}
	if cfg.Idempotency.TTL != defaultIdempotencyTTL {
		t.Errorf("unexpected default idempotency ttl: %s", cfg.Idempotency.TTL)
	}
	if cfg.Idempotency.CleanupBatchSize != defaultIdempotencyBatchSize {
		t.Errorf("unexpected default cleanup batch size: %d", cfg.Idempotency.CleanupBatchSize)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"API_SERVER_PORT":                   "9090",
		"API_SERVER_READ_TIMEOUT":           "20s",
		"API_FIREBASE_PROJECT_ID":           "pharmly-prod",
		"API_FIRESTORE_PROJECT_ID":          "pharmly-fire",
		"API_STORAGE_PRODUCT_IMAGES_BUCKET": "product-images",
		"API_STORAGE_SIGNER_CREDENTIALS":    "sm://storage/signer",
		"API_PUBSUB_ORDER_EVENTS_TOPIC":     "orders",
		"API_ORDERS_RESERVATION_POLICY":     "EAGER",
		"API_ORDERS_TX_ATTEMPTS":            "3",
		"API_ORDERS_TX_TIMEOUT":             "5s",
		"API_ORDERS_BESTSELLER_LIMIT":       "10",
		"API_SECURITY_ENVIRONMENT":          "Prod",
		"API_SECURITY_OIDC_AUDIENCE":        "https://api.pharmly.test",
		"API_SECURITY_OIDC_ISSUERS":         "https://accounts.google.com, accounts.google.com",
	}

	var refs []string
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		refs = append(refs, ref)
		return "resolved:" + ref, nil
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" || cfg.Server.ReadTimeout != 20*time.Second {
		t.Errorf("server overrides not applied: %+v", cfg.Server)
	}
	if cfg.Firestore.ProjectID != "pharmly-fire" || cfg.PubSub.ProjectID != "pharmly-fire" {
		t.Errorf("unexpected projects: firestore=%s pubsub=%s", cfg.Firestore.ProjectID, cfg.PubSub.ProjectID)
	}
	if cfg.Storage.SignerCredentials != "resolved:secret://storage/signer" {
		t.Errorf("expected signer credentials resolved, got %s", cfg.Storage.SignerCredentials)
	}
	if len(refs) != 1 {
		t.Errorf("expected single secret lookup, got %v", refs)
	}
	if cfg.Orders.ReservationPolicy != ReservationPolicyEager {
		t.Errorf("expected eager policy, got %s", cfg.Orders.ReservationPolicy)
	}
	if cfg.Orders.TxAttempts != 3 || cfg.Orders.TxTimeout != 5*time.Second || cfg.Orders.BestSellerLimit != 10 {
		t.Errorf("order overrides not applied: %+v", cfg.Orders)
	}
	if cfg.Security.Environment != "prod" {
		t.Errorf("expected environment lowercased, got %s", cfg.Security.Environment)
	}
	if len(cfg.Security.OIDC.Issuers) != 2 {
		t.Errorf("expected two issuers, got %v", cfg.Security.OIDC.Issuers)
	}
}

func TestLoadRejectsUnknownReservationPolicy(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID":       "pharmly-dev",
		"API_ORDERS_RESERVATION_POLICY": "lazy",
	}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	fields := validation.Fields()
	if len(fields) != 1 || fields[0] != "Orders.ReservationPolicy" {
		t.Fatalf("unexpected invalid fields %v", fields)
	}
}

func TestLoadMissingProject(t *testing.T) {
	_, err := Load(context.Background(), WithEnvMap(map[string]string{}), WithoutSystemEnv(), WithEnvFile(""))
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestLoadRepositoryBackend(t *testing.T) {
	cfg, err := Load(context.Background(), WithEnvMap(map[string]string{
		"API_FIREBASE_PROJECT_ID": "pharmly-dev",
	}), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Repository.Backend != RepositoryBackendFirestore {
		t.Errorf("expected firestore backend by default, got %s", cfg.Repository.Backend)
	}

	cfg, err = Load(context.Background(), WithEnvMap(map[string]string{
		"API_FIREBASE_PROJECT_ID":           "pharmly-dev",
		"API_REPOSITORY_BACKEND":            "Memory",
		"API_REPOSITORY_MEMORY_PHARMACY_ID": "ph-local",
	}), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Repository.Backend != RepositoryBackendMemory || cfg.Repository.MemoryPharmacyID != "ph-local" {
		t.Errorf("unexpected repository config %+v", cfg.Repository)
	}

	cases := map[string]map[string]string{
		"memory outside local": {
			"API_FIREBASE_PROJECT_ID":  "pharmly-dev",
			"API_REPOSITORY_BACKEND":   "memory",
			"API_SECURITY_ENVIRONMENT": "prod",
		},
		"unknown backend": {
			"API_FIREBASE_PROJECT_ID": "pharmly-dev",
			"API_REPOSITORY_BACKEND":  "sqlite",
		},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
			var validation *ValidationError
			if !errors.As(err, &validation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			fields := validation.Fields()
			if len(fields) != 1 || fields[0] != "Repository.Backend" {
				t.Fatalf("unexpected invalid fields %v", fields)
			}
		})
	}
}

func TestLoadSecretWithoutResolver(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID":        "pharmly-dev",
		"API_STORAGE_SIGNER_CREDENTIALS": "secret://storage/signer",
	}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected secret error, got %v", err)
	}
	if !errors.Is(err, errSecretResolverNotConfigured) {
		t.Fatalf("expected resolver not configured cause, got %v", err)
	}
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "# local overrides\nexport API_FIREBASE_PROJECT_ID=\"pharmly-local\"\nAPI_ORDERS_BESTSELLER_LIMIT=7\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	cfg, err := Load(context.Background(),
		WithEnvFile(path),
		WithoutSystemEnv(),
		WithEnvMap(map[string]string{"API_ORDERS_BESTSELLER_LIMIT": "3"}),
	)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Firebase.ProjectID != "pharmly-local" {
		t.Errorf("expected project from .env, got %s", cfg.Firebase.ProjectID)
	}
	if cfg.Orders.BestSellerLimit != 3 {
		t.Errorf("expected explicit map to win over .env, got %d", cfg.Orders.BestSellerLimit)
	}

	value, err := Lookup("API_FIREBASE_PROJECT_ID", WithEnvFile(path), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if value != "pharmly-local" {
		t.Errorf("unexpected lookup value %q", value)
	}
}
