package order

import (
	"github.com/smallbiznis/kirana/internal/order/service"
	"go.uber.org/fx"
)

var Module = fx.Module("order.service",
	fx.Provide(
		service.NewService,
	),
)
