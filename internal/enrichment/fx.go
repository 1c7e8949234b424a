package enrichment

import (
	"context"

	enrichmentdomain "github.com/fieldscope/fieldscope/internal/enrichment/domain"
	"github.com/fieldscope/fieldscope/internal/enrichment/service"
	"go.uber.org/fx"
)

var Module = fx.Module("enrichment.service",
	fx.Provide(service.NewService),
	fx.Provide(func(svc enrichmentdomain.Service) enrichmentdomain.Trigger { return svc }),
	fx.Invoke(startWorker),
)

func startWorker(lc fx.Lifecycle, svc enrichmentdomain.Service) {
	worker, ok := svc.(*service.Service)
	if !ok {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go worker.RunWorker(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
