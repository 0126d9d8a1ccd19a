package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/procurelabs/spachat/internal/client"
	"github.com/procurelabs/spachat/internal/config"
	"github.com/procurelabs/spachat/internal/identity"
	"github.com/procurelabs/spachat/internal/store"
	"github.com/procurelabs/spachat/internal/ui"
	"github.com/spf13/cobra"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat session",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}

		c, repo, err := connect(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := repo.Close(); closeErr != nil {
				logger.Error("failed to close repository", "error", closeErr)
			}
		}()
		defer func() { _ = c.Close() }()

		return ui.Run(c)
	},
}

// connect wires the persistent identity, the token provider, and a dialed
// gateway client. The returned repository stays open for the session so
// token refreshes can persist their cache.
func connect(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*client.Client, store.Repository, error) {
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open local store: %w", err)
	}
	if err := repo.Ping(ctx); err != nil {
		_ = repo.Close()
		return nil, nil, fmt.Errorf("local store health check: %w", err)
	}

	userID, err := identity.GetOrCreateUserID(ctx, repo)
	if err != nil {
		_ = repo.Close()
		return nil, nil, err
	}

	var tokens identity.TokenProvider
	if cfg.HasTokenEndpoint() {
		tokens = identity.NewOAuthProvider(identity.OAuthConfig{
			TokenURL:     cfg.Identity.TokenURL,
			ClientID:     cfg.Identity.ClientID,
			ClientSecret: cfg.Identity.ClientSecret,
			RefreshSkew:  cfg.Identity.RefreshSkew,
		}, repo)
	} else {
		token := cfg.Identity.StaticToken
		if token == "" {
			token = "dev-token"
			logger.Warn("no token endpoint or static token configured, using development token")
		}
		tokens = identity.Static(token)
	}

	c := client.New(client.Config{
		GatewayURL:        cfg.GatewayURL,
		UserID:            userID,
		KeepaliveInterval: cfg.KeepaliveInterval,
		StatusInterval:    cfg.StatusInterval,
		DialTimeout:       cfg.DialTimeout,
		Logger:            logger,
	}, tokens)

	if err := c.Connect(ctx); err != nil {
		_ = repo.Close()
		return nil, nil, fmt.Errorf("connect to gateway: %w", err)
	}
	return c, repo, nil
}
