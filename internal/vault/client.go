// Package vault resolves service secrets from HashiCorp Vault and overlays
// them onto the loaded configuration. The client is optional: with vault
// disabled every method is a no-op.
package vault

import (
	"context"
	"fmt"

	"github.com/hashicorp/vault/api"
	"github.com/rs/zerolog"

	"futures-decision-engine/config"
)

// Secret keys recognized by the overlay.
const (
	keyJWTSecret        = "jwt_secret"
	keyOperatorHash     = "operator_password_hash"
	keyDatabasePassword = "database_password"
	keyRedisPassword    = "redis_password"
	keyTelegramToken    = "telegram_token"
)

// Client wraps the HashiCorp Vault client.
type Client struct {
	client *api.Client
	cfg    config.VaultConfig
	logger zerolog.Logger
}

// NewClient creates a Vault client.
func NewClient(cfg config.VaultConfig, logger zerolog.Logger) (*Client, error) {
	c := &Client{
		cfg:    cfg,
		logger: logger.With().Str("component", "vault").Logger(),
	}
	if !cfg.Enabled {
		return c, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	c.client = client
	return c, nil
}

// IsEnabled reports whether Vault is configured.
func (c *Client) IsEnabled() bool {
	return c.cfg.Enabled
}

// Health checks the Vault connection and seal state.
func (c *Client) Health(ctx context.Context) error {
	if !c.cfg.Enabled {
		return nil
	}

	health, err := c.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("vault health check failed: %w", err)
	}
	if health.Sealed {
		return fmt.Errorf("vault is sealed")
	}
	return nil
}

// OverlaySecrets reads the configured KV-v2 secret and replaces the matching
// config fields. Keys absent from the secret leave the config untouched.
func (c *Client) OverlaySecrets(ctx context.Context, cfg *config.Config) error {
	if !c.cfg.Enabled {
		return nil
	}

	data, err := c.readSecret(ctx)
	if err != nil {
		return err
	}
	if data == nil {
		c.logger.Warn().Str("path", c.cfg.SecretPath).Msg("No secret found at configured path")
		return nil
	}

	applied := applyOverlay(data, cfg)
	c.logger.Info().Int("applied", applied).Msg("Vault secrets overlaid onto config")
	return nil
}

// readSecret reads the KV-v2 secret at the configured mount and path.
func (c *Client) readSecret(ctx context.Context) (map[string]interface{}, error) {
	path := fmt.Sprintf("%s/data/%s", c.cfg.MountPath, c.cfg.SecretPath)

	secret, err := c.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read secret from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, nil
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid secret format")
	}
	return data, nil
}

func applyOverlay(data map[string]interface{}, cfg *config.Config) int {
	applied := 0
	if v := getString(data, keyJWTSecret); v != "" {
		cfg.Auth.JWTSecret = v
		applied++
	}
	if v := getString(data, keyOperatorHash); v != "" {
		cfg.Auth.OperatorPasswordHash = v
		applied++
	}
	if v := getString(data, keyDatabasePassword); v != "" {
		cfg.Database.Password = v
		applied++
	}
	if v := getString(data, keyRedisPassword); v != "" {
		cfg.Redis.Password = v
		applied++
	}
	if v := getString(data, keyTelegramToken); v != "" {
		cfg.Notification.Telegram.BotToken = v
		applied++
	}
	return applied
}

func getString(data map[string]interface{}, key string) string {
	if val, ok := data[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}
