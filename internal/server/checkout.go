package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	orderdomain "github.com/smallbiznis/kirana/internal/order/domain"
)

type checkoutRequest struct {
	UserID        string              `json:"user_id"`
	Items         []checkoutItem      `json:"items"`
	Address       orderdomain.Address `json:"shipping_address"`
	PaymentMethod string              `json:"payment_method"`
	CouponCode    string              `json:"coupon_code"`
}

type checkoutItem struct {
	ProductID string `json:"product_id"`
	Quantity  int64  `json:"quantity"`
}

func (s *Server) Checkout(c *gin.Context) {
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	items := make([]orderdomain.CreateItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, orderdomain.CreateItem{
			ProductID: strings.TrimSpace(item.ProductID),
			Quantity:  item.Quantity,
		})
	}

	resp, err := s.orderSvc.CreateOrder(c.Request.Context(), orderdomain.CreateOrderRequest{
		UserID:        strings.TrimSpace(req.UserID),
		Items:         items,
		Address:       req.Address,
		PaymentMethod: orderdomain.PaymentMethod(strings.TrimSpace(req.PaymentMethod)),
		CouponCode:    strings.TrimSpace(req.CouponCode),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type confirmPaymentRequest struct {
	OrderID          string `json:"order_id"`
	GatewayPaymentID string `json:"gateway_payment_id"`
	Signature        string `json:"signature"`
}

func (s *Server) ConfirmPayment(c *gin.Context) {
	var req confirmPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.orderSvc.ConfirmPayment(c.Request.Context(), orderdomain.ConfirmPaymentRequest{
		OrderID:          strings.TrimSpace(req.OrderID),
		GatewayPaymentID: strings.TrimSpace(req.GatewayPaymentID),
		Signature:        strings.TrimSpace(req.Signature),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Order, "already_processed": resp.AlreadyProcessed})
}

func (s *Server) ConfirmCOD(c *gin.Context) {
	orderID := strings.TrimSpace(c.Param("id"))

	resp, err := s.orderSvc.ConfirmCOD(c.Request.Context(), orderID, "customer")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Order, "already_processed": resp.AlreadyProcessed})
}

func (s *Server) GetOrderByID(c *gin.Context) {
	resp, err := s.orderSvc.Get(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListOrders(c *gin.Context) {
	userID := strings.TrimSpace(c.Query("user_id"))
	if userID == "" {
		AbortWithError(c, newValidationError("user_id", "invalid_user_id", "user_id is required"))
		return
	}
	limit, err := parseLimit(c.Query("limit"), 20, 100)
	if err != nil {
		AbortWithError(c, newValidationError("limit", "invalid_limit", "invalid limit"))
		return
	}

	resp, err := s.orderSvc.ListByUser(c.Request.Context(), userID, limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type updateOrderStatusRequest struct {
	Status string `json:"status"`
}

func (s *Server) UpdateOrderStatus(c *gin.Context) {
	var req updateOrderStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	status := orderdomain.Status(strings.TrimSpace(req.Status))
	resp, err := s.orderSvc.UpdateStatus(c.Request.Context(), strings.TrimSpace(c.Param("id")), status, adminActor(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
