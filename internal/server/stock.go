package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	inventorydomain "github.com/smallbiznis/kirana/internal/inventory/domain"
)

type stockItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int64  `json:"quantity"`
}

type adjustStockRequest struct {
	WarehouseID    string `json:"warehouse_id"`
	ProductID      string `json:"product_id"`
	Quantity       int64  `json:"quantity"`
	Reason         string `json:"reason"`
	Reference      string `json:"reference"`
	IdempotencyKey string `json:"idempotency_key"`
}

func (s *Server) AdjustStock(c *gin.Context) {
	req, parsed, ok := s.bindAdjustRequest(c)
	if !ok {
		return
	}

	if err := s.inventorySvc.Increment(c.Request.Context(), parsed); err != nil {
		AbortWithError(c, err)
		return
	}
	s.invalidateStock(c, parsed.WarehouseID, parsed.ProductID)

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"warehouse_id": req.WarehouseID,
		"product_id":   req.ProductID,
		"applied":      true,
	}})
}

func (s *Server) SetStock(c *gin.Context) {
	req, parsed, ok := s.bindAdjustRequest(c)
	if !ok {
		return
	}

	if err := s.inventorySvc.SetAbsolute(c.Request.Context(), parsed); err != nil {
		AbortWithError(c, err)
		return
	}
	s.invalidateStock(c, parsed.WarehouseID, parsed.ProductID)

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"warehouse_id": req.WarehouseID,
		"product_id":   req.ProductID,
		"stock":        req.Quantity,
	}})
}

func (s *Server) bindAdjustRequest(c *gin.Context) (adjustStockRequest, inventorydomain.AdjustRequest, bool) {
	var req adjustStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return req, inventorydomain.AdjustRequest{}, false
	}

	warehouseID, err := parseSnowflakeID(req.WarehouseID)
	if err != nil {
		AbortWithError(c, newValidationError("warehouse_id", "invalid_warehouse_id", "invalid warehouse id"))
		return req, inventorydomain.AdjustRequest{}, false
	}
	productID, err := parseSnowflakeID(req.ProductID)
	if err != nil {
		AbortWithError(c, newValidationError("product_id", "invalid_product_id", "invalid product id"))
		return req, inventorydomain.AdjustRequest{}, false
	}

	reason := inventorydomain.MovementReason(strings.TrimSpace(req.Reason))
	if reason == "" {
		reason = inventorydomain.ReasonCorrection
	}
	if !reason.Valid() {
		AbortWithError(c, newValidationError("reason", "invalid_reason", "invalid reason"))
		return req, inventorydomain.AdjustRequest{}, false
	}

	return req, inventorydomain.AdjustRequest{
		WarehouseID:    warehouseID,
		ProductID:      productID,
		Quantity:       req.Quantity,
		Reason:         reason,
		Actor:          adminActor(c),
		Reference:      strings.TrimSpace(req.Reference),
		IdempotencyKey: strings.TrimSpace(req.IdempotencyKey),
	}, true
}

type transferStockRequest struct {
	SourceWarehouseID string             `json:"source_warehouse_id"`
	DestWarehouseID   string             `json:"dest_warehouse_id"`
	Items             []stockItemRequest `json:"items"`
	IdempotencyKey    string             `json:"idempotency_key"`
}

func (s *Server) TransferStock(c *gin.Context) {
	var req transferStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	sourceID, err := parseSnowflakeID(req.SourceWarehouseID)
	if err != nil {
		AbortWithError(c, newValidationError("source_warehouse_id", "invalid_warehouse_id", "invalid warehouse id"))
		return
	}
	destID, err := parseSnowflakeID(req.DestWarehouseID)
	if err != nil {
		AbortWithError(c, newValidationError("dest_warehouse_id", "invalid_warehouse_id", "invalid warehouse id"))
		return
	}

	items := make([]inventorydomain.ItemQuantity, 0, len(req.Items))
	for _, item := range req.Items {
		productID, err := parseSnowflakeID(item.ProductID)
		if err != nil {
			AbortWithError(c, newValidationError("items.product_id", "invalid_product_id", "invalid product id"))
			return
		}
		items = append(items, inventorydomain.ItemQuantity{
			ProductID: productID,
			Quantity:  item.Quantity,
		})
	}

	transfer := inventorydomain.TransferRequest{
		SourceWarehouseID: sourceID,
		DestWarehouseID:   destID,
		Items:             items,
		Actor:             adminActor(c),
		IdempotencyKey:    strings.TrimSpace(req.IdempotencyKey),
	}
	if err := s.inventorySvc.Transfer(c.Request.Context(), transfer); err != nil {
		AbortWithError(c, err)
		return
	}
	for _, item := range items {
		s.invalidateStock(c, sourceID, item.ProductID)
		s.invalidateStock(c, destID, item.ProductID)
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"source_warehouse_id": req.SourceWarehouseID,
		"dest_warehouse_id":   req.DestWarehouseID,
		"items":               len(items),
	}})
}

func (s *Server) GetStock(c *gin.Context) {
	warehouseID, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("warehouse_id", "invalid_warehouse_id", "invalid warehouse id"))
		return
	}
	productID, err := parseSnowflakeID(c.Param("product_id"))
	if err != nil {
		AbortWithError(c, newValidationError("product_id", "invalid_product_id", "invalid product id"))
		return
	}

	ctx := c.Request.Context()
	if s.stockCache.Enabled() {
		if stock, ok := s.stockCache.Get(ctx, warehouseID, productID); ok {
			c.JSON(http.StatusOK, gin.H{"data": gin.H{"stock": stock, "cached": true}})
			return
		}
	}

	stock, err := s.inventorySvc.GetStock(ctx, warehouseID, productID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if s.stockCache.Enabled() {
		s.stockCache.Set(ctx, warehouseID, productID, stock)
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"stock": stock}})
}

func (s *Server) ListStock(c *gin.Context) {
	warehouseID, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("warehouse_id", "invalid_warehouse_id", "invalid warehouse id"))
		return
	}

	records, err := s.inventorySvc.ListStock(c.Request.Context(), warehouseID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": records})
}

func (s *Server) ListStockMovements(c *gin.Context) {
	warehouseID, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("warehouse_id", "invalid_warehouse_id", "invalid warehouse id"))
		return
	}
	productID, err := parseSnowflakeID(c.Query("product_id"))
	if err != nil {
		AbortWithError(c, newValidationError("product_id", "invalid_product_id", "invalid product id"))
		return
	}
	limit, err := parseLimit(c.Query("limit"), 50, 500)
	if err != nil {
		AbortWithError(c, newValidationError("limit", "invalid_limit", "invalid limit"))
		return
	}

	movements, err := s.inventorySvc.ListMovements(c.Request.Context(), warehouseID, productID, limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": movements})
}

// ReplayStock recomputes the stock level from the movement log and reports
// it next to the cached counter, so drift is visible without shelling into
// the database.
func (s *Server) ReplayStock(c *gin.Context) {
	warehouseID, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("warehouse_id", "invalid_warehouse_id", "invalid warehouse id"))
		return
	}
	productID, err := parseSnowflakeID(c.Param("product_id"))
	if err != nil {
		AbortWithError(c, newValidationError("product_id", "invalid_product_id", "invalid product id"))
		return
	}

	ctx := c.Request.Context()
	stock, err := s.inventorySvc.GetStock(ctx, warehouseID, productID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	replayed, err := s.inventorySvc.ReplayStock(ctx, warehouseID, productID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"stock":    stock,
		"replayed": replayed,
		"in_sync":  stock == replayed,
	}})
}

func (s *Server) invalidateStock(c *gin.Context, warehouseID, productID snowflake.ID) {
	if !s.stockCache.Enabled() {
		return
	}
	s.stockCache.Invalidate(c.Request.Context(), warehouseID, productID)
}
