package fx

import (
	"battleground/internal/battle"
	"battleground/internal/config"
	"battleground/internal/database"
	"battleground/internal/logger"
	"battleground/internal/notify"
	"battleground/internal/repository"
	"battleground/internal/server"
	"battleground/internal/service"

	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

func ProvideRegistry(cfg *config.Config, log zerolog.Logger) *battle.Registry {
	return battle.NewRegistry(cfg.TickInterval, log)
}

// ProvideNotifier selects the announcement sink: log-only by default,
// fanned out to the webhook when one is configured.
func ProvideNotifier(cfg *config.Config, log zerolog.Logger) battle.Notifier {
	logSink := notify.NewLogNotifier(log)
	if cfg.WebhookURL == "" {
		return logSink
	}
	return notify.MultiNotifier{logSink, notify.NewWebhookNotifier(cfg.WebhookURL, log)}
}

func ProvideOrchestrator(
	registry *battle.Registry,
	battles *repository.BattleRepository,
	profiles *repository.ProfileRepository,
	notifier battle.Notifier,
	cfg *config.Config,
	log zerolog.Logger,
) *service.Orchestrator {
	return service.NewOrchestrator(service.OrchestratorParams{
		Registry: registry,
		Battles:  battles,
		Profiles: profiles,
		Notifier: notifier,
		Autosave: cfg.AutosaveInterval,
		Logger:   log,
	})
}

var Module = fx.Options(
	fx.Provide(logger.New),
	fx.Provide(config.Load),
	fx.Provide(database.New),
	// repos
	fx.Provide(repository.NewBattleRepository),
	fx.Provide(repository.NewProfileRepository),
	// battle runtime
	fx.Provide(ProvideRegistry),
	fx.Provide(ProvideNotifier),
	// svc
	fx.Provide(ProvideOrchestrator),
	// server
	fx.Provide(server.NewAdminServer),
)
