package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type stubProvider struct {
	val string
	err error
}

func (p stubProvider) Name() string { return "stub" }
func (p stubProvider) GetSecret(context.Context, string) (string, error) {
	return p.val, p.err
}

func TestEnvProvider(t *testing.T) {
	t.Setenv("BURNBIN_TEST_SECRET", "from-env")
	v, err := envProvider{}.GetSecret(context.Background(), "BURNBIN_TEST_SECRET")
	if err != nil || v != "from-env" {
		t.Fatalf("GetSecret = %q, %v", v, err)
	}
	if _, err := (envProvider{}).GetSecret(context.Background(), "BURNBIN_TEST_MISSING"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing err = %v, want ErrNotFound", err)
	}
}

func TestStoreFallback(t *testing.T) {
	t.Setenv("COOKIE_KEY", "env-value")
	down := stubProvider{err: errors.New("connection refused")}
	tests := []struct {
		name           string
		primary        Provider
		failClosed     bool
		requirePrimary bool
		want           string
		wantErr        bool
	}{
		{"primary wins", stubProvider{val: "primary-value"}, true, false, "primary-value", false},
		{"fail closed", down, true, false, "", true},
		{"fail open", down, false, false, "env-value", false},
		{"require primary", down, false, true, "", true},
		{"no primary", nil, true, false, "env-value", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var fallback Provider = envProvider{}
			if tt.requirePrimary {
				fallback = nil
			}
			s := newStore(tt.primary, fallback, tt.failClosed, tt.requirePrimary, 0)
			got, err := s.GetSecret(context.Background(), "COOKIE_KEY")
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Fatalf("GetSecret = %q, %v; want %q", got, err, tt.want)
			}
		})
	}
}

func TestNewStoreEnvOnly(t *testing.T) {
	s, err := NewStore(context.Background(), Options{})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if s.Source() != "env" {
		t.Errorf("Source = %q, want env", s.Source())
	}
	if _, err := NewStore(context.Background(), Options{RequirePrimary: true}); err == nil {
		t.Error("RequirePrimary without providers should fail")
	}
}

func TestVaultProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/sys/health":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"initialized": true,
				"sealed":      false,
				"standby":     false,
				"version":     "1.15.0",
			})
		case "/v1/secret/data/burnbin/COOKIE_KEY":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"data": map[string]interface{}{
					"data": map[string]interface{}{"value": "vault-value"},
				},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"errors":[]}`))
		}
	}))
	defer srv.Close()

	s, err := NewStore(context.Background(), Options{
		VaultAddr:       srv.URL,
		VaultToken:      "test-token",
		VaultSecretPath: "secret/data/burnbin",
		FailClosed:      true,
	})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if s.Source() != "vault" {
		t.Fatalf("Source = %q, want vault", s.Source())
	}
	got, err := s.GetSecret(context.Background(), "COOKIE_KEY")
	if err != nil || got != "vault-value" {
		t.Fatalf("GetSecret = %q, %v", got, err)
	}
	if _, err := s.GetSecret(context.Background(), "PEPPER"); err == nil {
		t.Error("missing vault secret should fail closed")
	}
}
