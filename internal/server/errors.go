package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	catalogdomain "github.com/smallbiznis/kirana/internal/catalog/domain"
	coupondomain "github.com/smallbiznis/kirana/internal/coupon/domain"
	gatewaydomain "github.com/smallbiznis/kirana/internal/gateway/domain"
	inventorydomain "github.com/smallbiznis/kirana/internal/inventory/domain"
	ledgerdomain "github.com/smallbiznis/kirana/internal/ledger/domain"
	orderdomain "github.com/smallbiznis/kirana/internal/order/domain"
	purchaseorderdomain "github.com/smallbiznis/kirana/internal/purchaseorder/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
	Details map[string]any    `json:"details,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	// Insufficient stock names the offending product so clients can show
	// which line failed without a second round trip.
	var stockErr *inventorydomain.InsufficientStockError
	if errors.As(err, &stockErr) {
		return http.StatusConflict, errorPayload{
			Type:    "insufficient_stock",
			Message: "insufficient stock",
			Details: map[string]any{
				"product_id": stockErr.ProductID.String(),
				"requested":  stockErr.Requested,
				"available":  stockErr.Available,
			},
		}
	}

	var fundsErr *ledgerdomain.InsufficientFundsError
	if errors.As(err, &fundsErr) {
		return http.StatusConflict, errorPayload{
			Type:    "insufficient_funds",
			Message: "insufficient funds",
			Details: map[string]any{
				"warehouse_id": fundsErr.WarehouseID.String(),
				"requested":    fundsErr.Requested,
				"available":    fundsErr.Available,
			},
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, orderdomain.ErrSignatureInvalid),
		errors.Is(err, gatewaydomain.ErrInvalidSignature):
		return http.StatusBadRequest, errorPayload{
			Type:    "signature_invalid",
			Message: "payment signature verification failed",
		}
	case isConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: conflictErrorMessage(err),
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, gatewaydomain.ErrGatewayFailure):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return true
	case isCatalogValidationError(err),
		isInventoryValidationError(err),
		isLedgerValidationError(err),
		isCouponValidationError(err),
		isOrderValidationError(err),
		errors.Is(err, purchaseorderdomain.ErrInvalidPO):
		return true
	default:
		return false
	}
}

func isCatalogValidationError(err error) bool {
	switch {
	case errors.Is(err, catalogdomain.ErrInvalidName),
		errors.Is(err, catalogdomain.ErrInvalidPrice),
		errors.Is(err, catalogdomain.ErrInvalidCode),
		errors.Is(err, catalogdomain.ErrInvalidPincode),
		errors.Is(err, catalogdomain.ErrPincodeNotServiceable):
		return true
	default:
		return false
	}
}

func isInventoryValidationError(err error) bool {
	switch {
	case errors.Is(err, inventorydomain.ErrInvalidQuantity),
		errors.Is(err, inventorydomain.ErrInvalidReason),
		errors.Is(err, inventorydomain.ErrNoItems),
		errors.Is(err, inventorydomain.ErrNegativeStock),
		errors.Is(err, inventorydomain.ErrSameWarehouse):
		return true
	default:
		return false
	}
}

func isLedgerValidationError(err error) bool {
	switch {
	case errors.Is(err, ledgerdomain.ErrInvalidWarehouse),
		errors.Is(err, ledgerdomain.ErrInvalidReference),
		errors.Is(err, ledgerdomain.ErrInvalidAmount):
		return true
	default:
		return false
	}
}

func isCouponValidationError(err error) bool {
	return errors.Is(err, coupondomain.ErrInvalidCoupon)
}

func isOrderValidationError(err error) bool {
	switch {
	case errors.Is(err, orderdomain.ErrInvalidUser),
		errors.Is(err, orderdomain.ErrNoItems),
		errors.Is(err, orderdomain.ErrInvalidQuantity),
		errors.Is(err, orderdomain.ErrInvalidPayment),
		errors.Is(err, orderdomain.ErrInvalidAddress),
		errors.Is(err, orderdomain.ErrInvalidStatus),
		errors.Is(err, orderdomain.ErrNotCODOrder):
		return true
	default:
		return false
	}
}

func isConflictError(err error) bool {
	switch {
	case errors.Is(err, ErrConflict),
		errors.Is(err, coupondomain.ErrCouponExists),
		errors.Is(err, coupondomain.ErrCouponExhausted),
		errors.Is(err, orderdomain.ErrInvalidTransition),
		errors.Is(err, orderdomain.ErrOrderNotConfirmable),
		errors.Is(err, purchaseorderdomain.ErrAlreadyReceived),
		errors.Is(err, ledgerdomain.ErrBalanceDivergence):
		return true
	default:
		return false
	}
}

func conflictErrorMessage(err error) string {
	switch {
	case errors.Is(err, orderdomain.ErrInvalidTransition):
		return "invalid status transition"
	case errors.Is(err, coupondomain.ErrCouponExhausted):
		return "coupon usage limit reached"
	default:
		return "conflict"
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, catalogdomain.ErrProductNotFound),
		errors.Is(err, catalogdomain.ErrWarehouseNotFound),
		errors.Is(err, ledgerdomain.ErrWarehouseNotFound),
		errors.Is(err, coupondomain.ErrCouponNotFound),
		errors.Is(err, orderdomain.ErrOrderNotFound),
		errors.Is(err, purchaseorderdomain.ErrPONotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	if errors.Is(err, ErrInvalidRequest) {
		return "invalid_request"
	}
	return err.Error()
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	default:
		return "invalid value"
	}
}

// classifyErrorForLog feeds the request logger a coarse error class so log
// volume stays searchable without leaking payloads.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	switch {
	case status >= http.StatusInternalServerError:
		return "server_error", payload.Type
	case status >= http.StatusBadRequest:
		return "client_error", payload.Type
	default:
		return "", ""
	}
}
