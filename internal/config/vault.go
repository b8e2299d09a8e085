package config

import (
	"fmt"
	"os"

	"github.com/hashicorp/vault/api"
)

// SecretManager wraps the Vault API client for reading connection secrets.
type SecretManager struct {
	client *api.Client
}

// NewSecretManager creates a Vault client pointed at the given address and
// authenticated with the provided token.
func NewSecretManager(address, token string) (*SecretManager, error) {
	cfg := api.DefaultConfig()
	cfg.Address = address

	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("vault client initialization failed: %w", err)
	}
	client.SetToken(token)

	return &SecretManager{client: client}, nil
}

// GetKV2 reads from a KV v2 backend and returns the inner "data" map,
// unwrapping the v2 envelope automatically.
func (s *SecretManager) GetKV2(path string) (map[string]interface{}, error) {
	secret, err := s.client.Logical().Read(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read secret at %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("no data found at %s", path)
	}
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("secret at %s is not a KV v2 payload", path)
	}
	return data, nil
}

// ConnectionSecrets holds the store and broker URLs the entrypoints need.
type ConnectionSecrets struct {
	PGURL   string
	NATSURL string
}

// LoadConnectionSecrets resolves PG_URL and NATS_URL. When VAULT_ADDR is set
// the values come from the KV v2 secret at VAULT_SECRET_PATH (default
// secret/data/quake/ingester); otherwise plain environment variables are
// used so local development does not require a Vault instance.
func LoadConnectionSecrets() (ConnectionSecrets, error) {
	if addr := os.Getenv("VAULT_ADDR"); addr != "" {
		token := os.Getenv("VAULT_TOKEN")
		if token == "" {
			token = "root"
		}
		path := os.Getenv("VAULT_SECRET_PATH")
		if path == "" {
			path = "secret/data/quake/ingester"
		}

		manager, err := NewSecretManager(addr, token)
		if err != nil {
			return ConnectionSecrets{}, err
		}
		secrets, err := manager.GetKV2(path)
		if err != nil {
			return ConnectionSecrets{}, err
		}

		pgURL, _ := secrets["PG_URL"].(string)
		natsURL, _ := secrets["NATS_URL"].(string)
		if pgURL == "" {
			return ConnectionSecrets{}, &ConfigError{Option: "PG_URL", Reason: "missing from vault secret"}
		}
		return ConnectionSecrets{PGURL: pgURL, NATSURL: natsURL}, nil
	}

	pgURL := os.Getenv("PG_URL")
	if pgURL == "" {
		return ConnectionSecrets{}, &ConfigError{Option: "PG_URL", Reason: "not set"}
	}
	return ConnectionSecrets{PGURL: pgURL, NATSURL: os.Getenv("NATS_URL")}, nil
}
