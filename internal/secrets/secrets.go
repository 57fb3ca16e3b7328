// Package secrets wraps HashiCorp Vault for retrieving per-exchange (live or
// testnet) API credentials, with an in-memory cache and a disabled-vault fallback for
// local/dev runs.
package secrets

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/vault/api"
)

// Config holds Vault connection parameters.
type Config struct {
	Enabled    bool
	Address    string
	Token      string
	TLSEnabled bool
	CACert     string
}

// ExchangeCredentials is the API key pair the ticker driver needs to place
// orders against the live exchange.
type ExchangeCredentials struct {
	APIKey    string `json:"api_key"`
	SecretKey string `json:"secret_key"`
	Exchange  string `json:"exchange"`
	IsTestnet bool   `json:"is_testnet"`
}

// Client wraps the HashiCorp Vault client.
type Client struct {
	client *api.Client
	cfg    Config

	mu    sync.RWMutex
	cache map[string]*ExchangeCredentials
}

// New creates a new Vault-backed secrets client. With Vault disabled it
// operates purely out of the in-memory cache, for local/dev runs.
func New(cfg Config) (*Client, error) {
	if !cfg.Enabled {
		return &Client{cfg: cfg, cache: make(map[string]*ExchangeCredentials)}, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	if cfg.TLSEnabled && cfg.CACert != "" {
		if err := vaultConfig.ConfigureTLS(&api.TLSConfig{CACert: cfg.CACert}); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	return &Client{client: client, cfg: cfg, cache: make(map[string]*ExchangeCredentials)}, nil
}

func (c *Client) secretPath(exchange string, isTestnet bool) string {
	return fmt.Sprintf("secret/data/gridtrader/%s/%s", exchange, testnetSuffix(isTestnet))
}

func (c *Client) metadataPath(exchange string, isTestnet bool) string {
	return fmt.Sprintf("secret/metadata/gridtrader/%s/%s", exchange, testnetSuffix(isTestnet))
}

func testnetSuffix(isTestnet bool) string {
	if isTestnet {
		return "testnet"
	}
	return "live"
}

func (c *Client) cacheKey(exchange string, isTestnet bool) string {
	return exchange + "/" + testnetSuffix(isTestnet)
}

// Store saves exchange credentials, in Vault when enabled and always in the
// local cache.
func (c *Client) Store(ctx context.Context, creds ExchangeCredentials) error {
	key := c.cacheKey(creds.Exchange, creds.IsTestnet)

	if !c.cfg.Enabled {
		c.mu.Lock()
		c.cache[key] = &creds
		c.mu.Unlock()
		return nil
	}

	secretData := map[string]interface{}{
		"data": map[string]interface{}{
			"api_key":    creds.APIKey,
			"secret_key": creds.SecretKey,
			"exchange":   creds.Exchange,
			"is_testnet": creds.IsTestnet,
		},
	}
	if _, err := c.client.Logical().WriteWithContext(ctx, c.secretPath(creds.Exchange, creds.IsTestnet), secretData); err != nil {
		return fmt.Errorf("failed to store credentials in vault: %w", err)
	}

	c.mu.Lock()
	c.cache[key] = &creds
	c.mu.Unlock()
	return nil
}

// Get retrieves exchange credentials, preferring the cache.
func (c *Client) Get(ctx context.Context, exchange string, isTestnet bool) (*ExchangeCredentials, error) {
	key := c.cacheKey(exchange, isTestnet)

	c.mu.RLock()
	if cached, ok := c.cache[key]; ok {
		c.mu.RUnlock()
		return cached, nil
	}
	c.mu.RUnlock()

	if !c.cfg.Enabled {
		return nil, fmt.Errorf("credentials not found and vault is disabled")
	}

	secret, err := c.client.Logical().ReadWithContext(ctx, c.secretPath(exchange, isTestnet))
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("credentials not found")
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid secret format")
	}

	creds := &ExchangeCredentials{
		APIKey:    getString(data, "api_key"),
		SecretKey: getString(data, "secret_key"),
		Exchange:  getString(data, "exchange"),
		IsTestnet: getBool(data, "is_testnet"),
	}

	c.mu.Lock()
	c.cache[key] = creds
	c.mu.Unlock()
	return creds, nil
}

// Delete removes exchange credentials from Vault and the cache.
func (c *Client) Delete(ctx context.Context, exchange string, isTestnet bool) error {
	c.mu.Lock()
	delete(c.cache, c.cacheKey(exchange, isTestnet))
	c.mu.Unlock()

	if !c.cfg.Enabled {
		return nil
	}
	if _, err := c.client.Logical().DeleteWithContext(ctx, c.metadataPath(exchange, isTestnet)); err != nil {
		return fmt.Errorf("failed to delete credentials from vault: %w", err)
	}
	return nil
}

func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func getBool(m map[string]interface{}, key string) bool {
	if v, ok := m[key].(bool); ok {
		return v
	}
	return false
}
