package gateway

import (
	"github.com/smallbiznis/kirana/internal/config"
	gatewaydomain "github.com/smallbiznis/kirana/internal/gateway/domain"
	"github.com/smallbiznis/kirana/internal/gateway/fake"
	"github.com/smallbiznis/kirana/internal/gateway/razorpay"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// NewGateway picks the real provider when credentials are configured and
// falls back to the in-process adapter otherwise.
func NewGateway(cfg config.Config, log *zap.Logger) (gatewaydomain.Gateway, error) {
	if cfg.GatewayKeyID == "" {
		log.Named("gateway").Info("no gateway credentials configured, using in-process adapter")
		return fake.NewAdapter(cfg.GatewaySecret), nil
	}
	return razorpay.NewAdapter(cfg.GatewayKeyID, cfg.GatewaySecret, log)
}

var Module = fx.Module("gateway",
	fx.Provide(NewGateway),
)
