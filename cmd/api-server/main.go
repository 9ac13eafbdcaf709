// Command api-server serves the upsell bundle API.
package main

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"go.uber.org/zap"

	appkg "github.com/xenking/oolio-upsell/internal/app"
)

func main() {
	app.Run(func(ctx context.Context, lg *zap.Logger, m *app.Telemetry) error {
		cfg, err := appkg.LoadConfig()
		if err != nil {
			return errors.Wrap(err, "load config")
		}
		lg.Info("Starting upsell API",
			zap.String("addr", cfg.Addr),
			zap.Bool("redis_cache", cfg.Redis.URL != ""),
		)
		return appkg.Run(ctx, lg, m, cfg)
	})
}
