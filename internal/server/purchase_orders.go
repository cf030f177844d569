package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	purchaseorderdomain "github.com/smallbiznis/kirana/internal/purchaseorder/domain"
)

func (s *Server) CreatePurchaseOrder(c *gin.Context) {
	var req purchaseorderdomain.CreatePORequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.purchaseOrderSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListPurchaseOrders(c *gin.Context) {
	limit, err := parseLimit(c.Query("limit"), 50, 200)
	if err != nil {
		AbortWithError(c, newValidationError("limit", "invalid_limit", "invalid limit"))
		return
	}

	resp, err := s.purchaseOrderSvc.List(c.Request.Context(), strings.TrimSpace(c.Query("warehouse_id")), limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetPurchaseOrderByID(c *gin.Context) {
	resp, err := s.purchaseOrderSvc.Get(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ReceivePurchaseOrder(c *gin.Context) {
	resp, err := s.purchaseOrderSvc.Receive(c.Request.Context(), strings.TrimSpace(c.Param("id")), adminActor(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.PurchaseOrder, "already_received": resp.AlreadyReceived})
}
