package main

import (
	"log/slog"
	"slices"

	"github.com/wilsonzlin/aero/proxy/conference-signaling/internal/config"
)

func logStartupSecurityWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.AuthMode == config.AuthModeNone {
		logger.Warn("startup security warning: AUTH_MODE=none disables authentication",
			"warning_code", "auth_mode_none",
			"auth_mode", cfg.AuthMode,
			"mode", cfg.Mode,
		)
	}

	if slices.Contains(cfg.AllowedOrigins, "*") {
		logger.Warn("startup security warning: ALLOWED_ORIGINS contains '*' (allows any origin)",
			"warning_code", "allowed_origins_wildcard",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.MaxClients <= 0 {
		logger.Warn("startup security warning: MAX_CLIENTS is unset/0 (unlimited) while --mode=prod",
			"warning_code", "max_clients_unlimited_in_prod",
			"max_clients", cfg.MaxClients,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.MaxSignalingMessagesPerSecond == 0 {
		logger.Warn("startup security warning: MAX_SIGNALING_MESSAGES_PER_SECOND=0 disables per-client rate limiting while --mode=prod",
			"warning_code", "signaling_rate_limit_disabled_in_prod",
			"mode", cfg.Mode,
		)
	}

	// Every inbound message may be fanned out to every client.
	if cfg.MaxSignalingMessageBytes > 1<<20 {
		logger.Warn("startup security warning: MAX_SIGNALING_MESSAGE_BYTES is very large (each message may be relayed to every client)",
			"warning_code", "signaling_message_bytes_large",
			"max_signaling_message_bytes", cfg.MaxSignalingMessageBytes,
			"mode", cfg.Mode,
		)
	}

	if cfg.SignalingWSIdleTimeout == 0 {
		logger.Warn("startup security warning: SIGNALING_WS_IDLE_TIMEOUT=0 disables keepalive (dead connections are only noticed on write)",
			"warning_code", "signaling_keepalive_disabled",
			"mode", cfg.Mode,
		)
	}
}
