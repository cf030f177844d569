package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

func (s *Server) ListLedgerEntries(c *gin.Context) {
	warehouseID, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("warehouse_id", "invalid_warehouse_id", "invalid warehouse id"))
		return
	}
	limit, err := parseLimit(c.Query("limit"), 50, 500)
	if err != nil {
		AbortWithError(c, newValidationError("limit", "invalid_limit", "invalid limit"))
		return
	}

	entries, err := s.ledgerSvc.ListEntries(c.Request.Context(), warehouseID, limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": entries})
}

func (s *Server) GetLedgerBalance(c *gin.Context) {
	warehouseID, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("warehouse_id", "invalid_warehouse_id", "invalid warehouse id"))
		return
	}

	balance, err := s.ledgerSvc.Balance(c.Request.Context(), warehouseID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"balance": balance}})
}

// ReplayLedgerBalance recomputes the balance from the entry log next to
// the cached counter. The two diverging means the ledger was mutated
// outside the posting path.
func (s *Server) ReplayLedgerBalance(c *gin.Context) {
	warehouseID, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("warehouse_id", "invalid_warehouse_id", "invalid warehouse id"))
		return
	}

	ctx := c.Request.Context()
	balance, err := s.ledgerSvc.Balance(ctx, warehouseID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	replayed, err := s.ledgerSvc.ReplayBalance(ctx, warehouseID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"balance":  balance,
		"replayed": replayed,
		"in_sync":  balance == replayed,
	}})
}

type recordPayoutRequest struct {
	Reference string `json:"reference"`
	Amount    int64  `json:"amount"`
}

func (s *Server) RecordPayout(c *gin.Context) {
	warehouseID, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("warehouse_id", "invalid_warehouse_id", "invalid warehouse id"))
		return
	}

	var req recordPayoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	reference := strings.TrimSpace(req.Reference)
	if err := s.ledgerSvc.RecordPayout(c.Request.Context(), warehouseID, reference, req.Amount); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"reference": reference,
		"amount":    req.Amount,
	}})
}
