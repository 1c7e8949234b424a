package imagery

import (
	"net/http"

	"github.com/fieldscope/fieldscope/internal/config"
	"github.com/fieldscope/fieldscope/internal/imagery/client"
	imagerydomain "github.com/fieldscope/fieldscope/internal/imagery/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func newHTTPClient(cfg config.Config) *http.Client {
	return &http.Client{Timeout: cfg.Imagery.RequestTimeout}
}

func newTokenSource(cfg config.Config, httpClient *http.Client, log *zap.Logger) imagerydomain.TokenSource {
	return client.NewTokenSource(cfg.Imagery, httpClient, log)
}

var Module = fx.Module("imagery.client",
	fx.Provide(newHTTPClient),
	fx.Provide(newTokenSource),
	fx.Provide(client.NewClient),
)
