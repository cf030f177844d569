package razorpay

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	gatewaydomain "github.com/smallbiznis/kirana/internal/gateway/domain"
	"go.uber.org/zap"
)

const defaultBaseURL = "https://api.razorpay.com"

type createOrderPayload struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt,omitempty"`
	Notes    map[string]string `json:"notes,omitempty"`
}

type orderResponse struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

type errorResponse struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

type Adapter struct {
	keyID   string
	secret  string
	baseURL string
	client  *http.Client
	log     *zap.Logger
}

func NewAdapter(keyID, secret string, log *zap.Logger) (*Adapter, error) {
	keyID = strings.TrimSpace(keyID)
	secret = strings.TrimSpace(secret)
	if keyID == "" || secret == "" {
		return nil, gatewaydomain.ErrInvalidConfig
	}
	return &Adapter{
		keyID:   keyID,
		secret:  secret,
		baseURL: defaultBaseURL,
		client:  &http.Client{Timeout: 12 * time.Second},
		log:     log.Named("gateway.razorpay"),
	}, nil
}

func (a *Adapter) Provider() string { return "razorpay" }

func (a *Adapter) CreateOrder(ctx context.Context, req gatewaydomain.CreateOrderRequest) (*gatewaydomain.GatewayOrder, error) {
	body, err := json.Marshal(createOrderPayload{
		Amount:   req.Amount,
		Currency: req.Currency,
		Receipt:  req.Receipt,
		Notes:    req.Notes,
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/orders", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.SetBasicAuth(a.keyID, a.secret)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		a.log.Warn("gateway order creation failed", zap.Error(err))
		return nil, gatewaydomain.ErrGatewayFailure
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var gatewayErr errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&gatewayErr)
		a.log.Warn("gateway rejected order creation",
			zap.Int("status", resp.StatusCode),
			zap.String("code", gatewayErr.Error.Code),
			zap.String("description", gatewayErr.Error.Description))
		return nil, gatewaydomain.ErrGatewayFailure
	}

	var order orderResponse
	if err := json.NewDecoder(resp.Body).Decode(&order); err != nil {
		return nil, gatewaydomain.ErrGatewayFailure
	}
	if strings.TrimSpace(order.ID) == "" {
		return nil, gatewaydomain.ErrGatewayFailure
	}

	return &gatewaydomain.GatewayOrder{
		ID:       order.ID,
		Amount:   order.Amount,
		Currency: order.Currency,
	}, nil
}

func (a *Adapter) VerifySignature(gatewayOrderID, paymentID, signature string) error {
	return VerifySignature(a.secret, gatewayOrderID, paymentID, signature)
}

// Sign computes the HMAC-SHA256 hex digest over
// "<gatewayOrderID>|<paymentID>" with the given secret.
func Sign(secret, gatewayOrderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(gatewayOrderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks the provider's HMAC-SHA256 hex digest over
// "<gatewayOrderID>|<paymentID>".
func VerifySignature(secret, gatewayOrderID, paymentID, signature string) error {
	signature = strings.TrimSpace(signature)
	if gatewayOrderID == "" || paymentID == "" || signature == "" {
		return gatewaydomain.ErrInvalidSignature
	}

	expected := Sign(secret, gatewayOrderID, paymentID)
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return gatewaydomain.ErrInvalidSignature
	}
	return nil
}
