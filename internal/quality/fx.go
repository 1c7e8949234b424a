package quality

import (
	"github.com/fieldscope/fieldscope/internal/quality/service"
	"go.uber.org/fx"
)

var Module = fx.Module("quality",
	fx.Provide(service.NewService),
)
