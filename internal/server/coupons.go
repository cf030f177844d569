package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	coupondomain "github.com/smallbiznis/kirana/internal/coupon/domain"
)

type createCouponRequest struct {
	Code          string     `json:"code"`
	DiscountType  string     `json:"discount_type"`
	Value         int64      `json:"value"`
	MinOrderValue int64      `json:"min_order_value"`
	MaxDiscount   *int64     `json:"max_discount"`
	ExpiresAt     *time.Time `json:"expires_at"`
	UsageLimit    *int64     `json:"usage_limit"`
}

func (s *Server) CreateCoupon(c *gin.Context) {
	var req createCouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.couponSvc.Create(c.Request.Context(), coupondomain.CreateCouponRequest{
		Code:          strings.TrimSpace(req.Code),
		DiscountType:  coupondomain.DiscountType(strings.TrimSpace(req.DiscountType)),
		Value:         req.Value,
		MinOrderValue: req.MinOrderValue,
		MaxDiscount:   req.MaxDiscount,
		ExpiresAt:     req.ExpiresAt,
		UsageLimit:    req.UsageLimit,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListCoupons(c *gin.Context) {
	resp, err := s.couponSvc.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) DeactivateCoupon(c *gin.Context) {
	code := strings.TrimSpace(c.Param("code"))
	if err := s.couponSvc.Deactivate(c.Request.Context(), code); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"code": code, "is_active": false}})
}
