package migration

import (
	auditdomain "github.com/smallbiznis/kirana/internal/audit/domain"
	catalogdomain "github.com/smallbiznis/kirana/internal/catalog/domain"
	"github.com/smallbiznis/kirana/internal/config"
	coupondomain "github.com/smallbiznis/kirana/internal/coupon/domain"
	inventorydomain "github.com/smallbiznis/kirana/internal/inventory/domain"
	ledgerdomain "github.com/smallbiznis/kirana/internal/ledger/domain"
	orderdomain "github.com/smallbiznis/kirana/internal/order/domain"
	podomain "github.com/smallbiznis/kirana/internal/purchaseorder/domain"
	"github.com/smallbiznis/kirana/internal/seed"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := RunMigrations(sqlDB); err != nil {
				return err
			}
		} else {
			// Non-postgres targets (sqlite for local hacking) use gorm's
			// schema sync instead of the versioned SQL.
			if err := conn.AutoMigrate(
				&catalogdomain.Product{},
				&catalogdomain.Warehouse{},
				&inventorydomain.StockRecord{},
				&inventorydomain.StockMovement{},
				&ledgerdomain.LedgerEntry{},
				&coupondomain.Coupon{},
				&orderdomain.Order{},
				&orderdomain.OrderItem{},
				&orderdomain.TimelineEntry{},
				&podomain.PurchaseOrder{},
				&podomain.PurchaseOrderItem{},
				&auditdomain.AuditLog{},
			); err != nil {
				return err
			}
		}

		if cfg.SeedDemoData {
			return seed.EnsureDemoData(conn)
		}
		return nil
	}),
)
