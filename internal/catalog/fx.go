package catalog

import (
	"github.com/smallbiznis/kirana/internal/catalog/repository"
	"github.com/smallbiznis/kirana/internal/catalog/service"
	"go.uber.org/fx"
)

var Module = fx.Module("catalog.service",
	fx.Provide(
		repository.Provide,
		service.NewService,
	),
)
