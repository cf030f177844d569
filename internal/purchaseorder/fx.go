package purchaseorder

import (
	"github.com/smallbiznis/kirana/internal/purchaseorder/service"
	"go.uber.org/fx"
)

var Module = fx.Module("purchaseorder.service",
	fx.Provide(
		service.NewService,
	),
)
