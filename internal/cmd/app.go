package cmd

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/signcrate/signcrate/internal/config"
	"github.com/signcrate/signcrate/internal/core/engine"
	"github.com/signcrate/signcrate/internal/core/esign"
	"github.com/signcrate/signcrate/internal/core/store"
	errwrap "github.com/signcrate/signcrate/internal/errors"
	"github.com/signcrate/signcrate/internal/observability"
)

// remoteSession bundles the authenticated client and the process-wide
// rate gate every remote call goes through.
type remoteSession struct {
	cfg    *config.Config
	auth   *esign.JWTAuth
	gate   *engine.RateGate
	client *esign.Client
}

func loadedConfig() (*config.Config, error) {
	cfg := config.GetConfig()
	if cfg == nil {
		return nil, errwrap.NewConfigInvalidError("configuration is not loaded")
	}
	return cfg, nil
}

// runLogger returns the logger library packages should use. A nil
// *logging.Logger must never reach the engine.Logger interface.
func runLogger() engine.Logger {
	profile := ""
	if cfg := config.GetConfig(); cfg != nil {
		profile = cfg.Logging.Profile
	}
	if logger := observability.RunLogger(profile); logger != nil {
		return logger
	}
	return engine.NopLogger()
}

func newRemoteSession(ctx context.Context) (*remoteSession, error) {
	cfg, err := loadedConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateRemote(); err != nil {
		return nil, errwrap.WrapConfigInvalid(ctx, err, "e-signature credentials are incomplete")
	}

	logger := runLogger()

	auth := &esign.JWTAuth{
		IntegrationKey: cfg.ESign.IntegrationKey,
		UserID:         cfg.ESign.UserID,
		AccountID:      cfg.ESign.AccountID,
		BasePath:       cfg.ESign.BasePath,
		OAuthBaseURL:   oauthBaseURL(cfg.ESign.OAuthBasePath),
		PrivateKeyPath: cfg.ESign.PrivateKeyPath,
		Logger:         logger,
	}

	gate, err := engine.NewRateGate(engine.RateGateConfig{
		RequestsPerWindow: cfg.RateLimit.RequestsPerMinute,
		Window:            cfg.RateLimit.Window,
		Spacing:           cfg.RateLimit.Spacing,
		StallWait:         cfg.RateLimit.StallWait,
		Logger:            logger,
	})
	if err != nil {
		return nil, errwrap.WrapConfigInvalid(ctx, err, "invalid rate limit settings")
	}

	client := &esign.Client{
		BasePath:  cfg.ESign.BasePath,
		AccountID: cfg.ESign.AccountID,
		Tokens:    auth,
		Gate:      gate,
		Timeout:   cfg.ESign.Timeout,
		Logger:    logger,
	}

	return &remoteSession{cfg: cfg, auth: auth, gate: gate, client: client}, nil
}

// verifyAccount checks the credentials and that the configured account
// belongs to the user. The auth client warns about a missing account.
func (s *remoteSession) verifyAccount(ctx context.Context) (*esign.UserInfo, error) {
	info, err := s.auth.UserInfo(ctx)
	if err != nil {
		return nil, err
	}
	runLogger().Info("Authenticated",
		zap.String("user", info.Name),
		zap.String("email", info.Email))
	return info, nil
}

func oauthBaseURL(value string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(value), "/")
	if trimmed == "" {
		return ""
	}
	if strings.HasPrefix(trimmed, "http://") || strings.HasPrefix(trimmed, "https://") {
		return trimmed
	}
	return "https://" + trimmed
}

// errStoreDisabled is returned by openStore when run history is off.
var errStoreDisabled = errors.New("run history is disabled (store.enabled=false)")

func openStore(ctx context.Context) (*store.Store, error) {
	cfg, err := loadedConfig()
	if err != nil {
		return nil, err
	}
	if !cfg.Store.Enabled {
		return nil, errStoreDisabled
	}

	db, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, errwrap.WrapDatabaseError(ctx, err, "open run history")
	}

	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, errwrap.WrapDatabaseError(ctx, err, "migrate run history")
	}

	return db, nil
}
