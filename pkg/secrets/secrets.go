// Package secrets resolves named secrets such as the cookie signing key and
// the password pepper. Vault KV is tried first, then AWS Secrets Manager,
// then the process environment.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	vault "github.com/hashicorp/vault/api"
)

var (
	ErrProviderUnavailable = errors.New("secret provider unavailable")
	ErrNotFound            = errors.New("secret not found")
	ErrRequiresPrimary     = errors.New("SECRETS_REQUIRE_PRIMARY is enabled, cannot use fallback provider")
)

type Provider interface {
	GetSecret(ctx context.Context, key string) (string, error)
	Name() string
}

type Options struct {
	VaultAddr       string
	VaultToken      string
	VaultTokenFile  string
	VaultSecretPath string
	AWSRegion       string
	// AWSPrefix is prepended to secret names looked up in Secrets Manager.
	AWSPrefix      string
	RequirePrimary bool
	// FailClosed stops a failing primary from silently falling back to env.
	FailClosed bool
	Timeout    time.Duration
}

func OptionsFromEnv() Options {
	return Options{
		VaultAddr:       os.Getenv("VAULT_ADDR"),
		VaultToken:      os.Getenv("VAULT_TOKEN"),
		VaultTokenFile:  os.Getenv("VAULT_TOKEN_FILE"),
		VaultSecretPath: getEnvOrDefault("VAULT_SECRET_PATH", "secret/data/burnbin"),
		AWSRegion:       os.Getenv("AWS_REGION"),
		AWSPrefix:       getEnvOrDefault("AWS_SECRET_PREFIX", "burnbin/"),
		RequirePrimary:  strings.ToLower(os.Getenv("SECRETS_REQUIRE_PRIMARY")) == "true",
		FailClosed:      os.Getenv("SECRETS_FAIL_CLOSED") != "false",
		Timeout:         10 * time.Second,
	}
}

type Store struct {
	primary        Provider
	fallback       Provider
	failClosed     bool
	requirePrimary bool
	timeout        time.Duration
}

// NewStore picks the first reachable primary (Vault, then AWS) and keeps the
// environment as fallback unless RequirePrimary is set.
func NewStore(ctx context.Context, opts Options) (*Store, error) {
	var primary Provider
	if opts.VaultAddr != "" {
		vp, err := newVaultProvider(ctx, opts)
		if err != nil && opts.RequirePrimary {
			return nil, fmt.Errorf("vault unavailable: %w", err)
		}
		if err == nil {
			primary = vp
		}
	}
	if primary == nil && opts.AWSRegion != "" {
		ap, err := newAWSProvider(ctx, opts)
		if err != nil && opts.RequirePrimary {
			return nil, fmt.Errorf("aws secrets manager unavailable: %w", err)
		}
		if err == nil {
			primary = ap
		}
	}
	var fallback Provider
	if !opts.RequirePrimary {
		fallback = envProvider{}
	}
	if primary == nil && fallback == nil {
		return nil, fmt.Errorf("SECRETS_REQUIRE_PRIMARY=true but no primary provider available (checked Vault, AWS)")
	}
	return newStore(primary, fallback, opts.FailClosed, opts.RequirePrimary, opts.Timeout), nil
}
func newStore(primary, fallback Provider, failClosed, requirePrimary bool, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Store{
		primary:        primary,
		fallback:       fallback,
		failClosed:     failClosed,
		requirePrimary: requirePrimary,
		timeout:        timeout,
	}
}

// Source names the provider secrets are read from first.
func (s *Store) Source() string {
	if s.primary != nil {
		return s.primary.Name()
	}
	if s.fallback != nil {
		return s.fallback.Name()
	}
	return "none"
}
func (s *Store) GetSecret(ctx context.Context, key string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if s.primary != nil {
		val, err := s.primary.GetSecret(ctx, key)
		if err == nil && val != "" {
			return val, nil
		}
		if err == nil {
			err = ErrNotFound
		}
		if s.requirePrimary {
			return "", fmt.Errorf("%w: %s: %v", ErrRequiresPrimary, s.primary.Name(), err)
		}
		if s.failClosed {
			return "", fmt.Errorf("get secret %s failed (fail-closed): %w", key, err)
		}
	}
	if s.fallback != nil {
		return s.fallback.GetSecret(ctx, key)
	}
	return "", ErrProviderUnavailable
}

type vaultProvider struct {
	client     *vault.Client
	secretPath string
}

func newVaultProvider(ctx context.Context, opts Options) (*vaultProvider, error) {
	cfg := vault.DefaultConfig()
	cfg.Address = opts.VaultAddr
	cfg.Timeout = 5 * time.Second
	client, err := vault.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	if opts.VaultTokenFile != "" {
		tokenBytes, err := os.ReadFile(opts.VaultTokenFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read VAULT_TOKEN_FILE: %w", err)
		}
		client.SetToken(strings.TrimSpace(string(tokenBytes)))
	} else if opts.VaultToken != "" {
		client.SetToken(opts.VaultToken)
	}
	healthCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if _, err := client.Sys().HealthWithContext(healthCtx); err != nil {
		return nil, fmt.Errorf("vault health check failed: %w", err)
	}
	return &vaultProvider{
		client:     client,
		secretPath: strings.TrimSuffix(opts.VaultSecretPath, "/"),
	}, nil
}
func (v *vaultProvider) Name() string { return "vault" }

// GetSecret reads a KV v2 entry whose payload is {"value": "..."}.
func (v *vaultProvider) GetSecret(ctx context.Context, key string) (string, error) {
	secret, err := v.client.Logical().ReadWithContext(ctx, v.secretPath+"/"+key)
	if err != nil {
		return "", err
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return "", errors.New("vault: invalid secret format")
	}
	value, ok := data["value"].(string)
	if !ok {
		return "", errors.New("vault: value not found")
	}
	return value, nil
}

type awsProvider struct {
	client *secretsmanager.Client
	prefix string
}

func newAWSProvider(ctx context.Context, opts Options) (*awsProvider, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(opts.AWSRegion))
	if err != nil {
		return nil, err
	}
	return &awsProvider{
		client: secretsmanager.NewFromConfig(cfg),
		prefix: opts.AWSPrefix,
	}, nil
}
func (a *awsProvider) Name() string { return "aws-secretsmanager" }
func (a *awsProvider) GetSecret(ctx context.Context, key string) (string, error) {
	id := a.prefix + key
	result, err := a.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: &id,
	})
	if err != nil {
		return "", fmt.Errorf("failed to get secret %s: %w", id, err)
	}
	if result.SecretString == nil {
		return "", errors.New("secret is binary, not string")
	}
	return *result.SecretString, nil
}

type envProvider struct{}

func (envProvider) Name() string { return "env" }
func (envProvider) GetSecret(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	val, exists := os.LookupEnv(key)
	if !exists || val == "" {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return val, nil
}
func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
