package measurement

import (
	"github.com/fieldscope/fieldscope/internal/measurement/service"
	"go.uber.org/fx"
)

var Module = fx.Module("measurement",
	fx.Provide(service.NewService),
)
