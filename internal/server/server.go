package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/kirana/internal/audit"
	auditdomain "github.com/smallbiznis/kirana/internal/audit/domain"
	"github.com/smallbiznis/kirana/internal/cache"
	"github.com/smallbiznis/kirana/internal/catalog"
	catalogdomain "github.com/smallbiznis/kirana/internal/catalog/domain"
	"github.com/smallbiznis/kirana/internal/config"
	"github.com/smallbiznis/kirana/internal/coupon"
	coupondomain "github.com/smallbiznis/kirana/internal/coupon/domain"
	"github.com/smallbiznis/kirana/internal/gateway"
	"github.com/smallbiznis/kirana/internal/inventory"
	inventorydomain "github.com/smallbiznis/kirana/internal/inventory/domain"
	"github.com/smallbiznis/kirana/internal/ledger"
	ledgerdomain "github.com/smallbiznis/kirana/internal/ledger/domain"
	"github.com/smallbiznis/kirana/internal/observability"
	obsmiddleware "github.com/smallbiznis/kirana/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/kirana/internal/observability/metrics"
	obstracing "github.com/smallbiznis/kirana/internal/observability/tracing"
	"github.com/smallbiznis/kirana/internal/order"
	orderdomain "github.com/smallbiznis/kirana/internal/order/domain"
	"github.com/smallbiznis/kirana/internal/purchaseorder"
	purchaseorderdomain "github.com/smallbiznis/kirana/internal/purchaseorder/domain"
	"github.com/smallbiznis/kirana/internal/ratelimit"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	audit.Module,
	cache.Module,
	catalog.Module,
	coupon.Module,
	gateway.Module,
	inventory.Module,
	ledger.Module,
	order.Module,
	purchaseorder.Module,
	ratelimit.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestContext())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine *gin.Engine
	cfg    config.Config
	db     *gorm.DB
	genID  *snowflake.Node

	catalogSvc       catalogdomain.Service
	inventorySvc     inventorydomain.Service
	ledgerSvc        ledgerdomain.Service
	couponSvc        coupondomain.Service
	orderSvc         orderdomain.Service
	purchaseOrderSvc purchaseorderdomain.Service
	auditSvc         auditdomain.Service

	checkoutLimiter *ratelimit.CheckoutLimiter
	stockCache      *cache.StockCache
	obsMetrics      *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin   *gin.Engine
	Cfg   config.Config
	DB    *gorm.DB
	GenID *snowflake.Node

	CatalogSvc       catalogdomain.Service
	InventorySvc     inventorydomain.Service
	LedgerSvc        ledgerdomain.Service
	CouponSvc        coupondomain.Service
	OrderSvc         orderdomain.Service
	PurchaseOrderSvc purchaseorderdomain.Service
	AuditSvc         auditdomain.Service

	CheckoutLimiter *ratelimit.CheckoutLimiter `optional:"true"`
	StockCache      *cache.StockCache          `optional:"true"`
	ObsMetrics      *obsmetrics.Metrics        `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:           p.Gin,
		cfg:              p.Cfg,
		db:               p.DB,
		genID:            p.GenID,
		catalogSvc:       p.CatalogSvc,
		inventorySvc:     p.InventorySvc,
		ledgerSvc:        p.LedgerSvc,
		couponSvc:        p.CouponSvc,
		orderSvc:         p.OrderSvc,
		purchaseOrderSvc: p.PurchaseOrderSvc,
		auditSvc:         p.AuditSvc,
		checkoutLimiter:  p.CheckoutLimiter,
		stockCache:       p.StockCache,
		obsMetrics:       p.ObsMetrics,
	}

	svc.registerAPIRoutes()
	svc.registerAdminRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	api.GET("/products", s.ListProducts)
	api.GET("/products/:id", s.GetProductByID)

	api.POST("/checkout", s.CheckoutRateLimit(), s.Checkout)
	api.POST("/payments/confirm", s.ConfirmPayment)

	api.GET("/orders", s.ListOrders)
	api.GET("/orders/:id", s.GetOrderByID)
	api.POST("/orders/:id/confirm-cod", s.ConfirmCOD)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin")
	admin.Use(AdminActorContext())

	// -------- Catalog --------
	admin.GET("/products", s.ListProducts)
	admin.POST("/products", s.CreateProduct)
	admin.GET("/warehouses", s.ListWarehouses)
	admin.POST("/warehouses", s.CreateWarehouse)

	// -------- Stock --------
	admin.GET("/warehouses/:id/stock", s.ListStock)
	admin.GET("/warehouses/:id/stock/:product_id", s.GetStock)
	admin.GET("/warehouses/:id/stock/:product_id/replay", s.ReplayStock)
	admin.GET("/warehouses/:id/movements", s.ListStockMovements)
	admin.POST("/stock/adjust", s.AdjustStock)
	admin.POST("/stock/set", s.SetStock)
	admin.POST("/stock/transfer", s.TransferStock)

	// -------- Ledger --------
	admin.GET("/warehouses/:id/ledger", s.ListLedgerEntries)
	admin.GET("/warehouses/:id/balance", s.GetLedgerBalance)
	admin.GET("/warehouses/:id/balance/replay", s.ReplayLedgerBalance)
	admin.POST("/warehouses/:id/payouts", s.RecordPayout)

	// -------- Orders --------
	admin.GET("/orders/:id", s.GetOrderByID)
	admin.POST("/orders/:id/status", s.UpdateOrderStatus)

	// -------- Coupons --------
	admin.GET("/coupons", s.ListCoupons)
	admin.POST("/coupons", s.CreateCoupon)
	admin.POST("/coupons/:code/deactivate", s.DeactivateCoupon)

	// -------- Purchase Orders --------
	admin.GET("/purchase-orders", s.ListPurchaseOrders)
	admin.POST("/purchase-orders", s.CreatePurchaseOrder)
	admin.GET("/purchase-orders/:id", s.GetPurchaseOrderByID)
	admin.POST("/purchase-orders/:id/receive", s.ReceivePurchaseOrder)

	admin.GET("/audit-logs", s.ListAuditLogs)
}
