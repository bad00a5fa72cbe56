package services

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/messhub/booking-engine/internal/config"
	"github.com/messhub/booking-engine/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	sslcommerzInitPath  = "/gwprocess/v4/api.php"
	sslcommerzQueryPath = "/validator/api/merchantTransIDvalidationAPI.php"
)

// PaymentGateway opens payment sessions and answers transaction queries
type PaymentGateway interface {
	InitSession(ctx context.Context, req GatewaySessionRequest) (*GatewaySessionResponse, error)
	QueryTransaction(ctx context.Context, transactionID string) (*GatewayTransactionStatus, error)
}

// GatewaySessionRequest is everything the gateway needs to open a session
type GatewaySessionRequest struct {
	TransactionID string
	Amount        float64
	Currency      string
	ProductName   string
	Customer      models.CustomerInfo
	SuccessURL    string
	FailURL       string
	CancelURL     string
	IPNURL        string

	// echoed back by the gateway as value_a..value_d
	BookingID string
	ListingID string
	RenterID  string
	OwnerID   string
}

// GatewaySessionResponse is the opened session
type GatewaySessionResponse struct {
	SessionKey string
	GatewayURL string
}

// GatewayTransactionStatus is the gateway's view of a transaction
type GatewayTransactionStatus struct {
	TransactionID string
	Status        models.GatewayResult
	ValID         string
	BankTranID    string
	Amount        float64
	Currency      string
	CardType      string
}

// sslcommerzInitResponse is the body of the session API
type sslcommerzInitResponse struct {
	Status         string `json:"status"` // SUCCESS or FAILED
	FailedReason   string `json:"failedreason"`
	SessionKey     string `json:"sessionkey"`
	GatewayPageURL string `json:"GatewayPageURL"`
}

// sslcommerzQueryResponse is the body of the merchant transaction validation API
type sslcommerzQueryResponse struct {
	APIConnect     string                   `json:"APIConnect"` // DONE, INVALID_REQUEST, FAILED, INACTIVE
	NoOfTransFound json.Number              `json:"no_of_trans_found"`
	Element        []sslcommerzQueryElement `json:"element"`
	FailedReason   string                   `json:"failedreason"`
}

type sslcommerzQueryElement struct {
	ValID      string `json:"val_id"`
	Status     string `json:"status"`
	TranID     string `json:"tran_id"`
	Amount     string `json:"amount"`
	Currency   string `json:"currency"`
	BankTranID string `json:"bank_tran_id"`
	CardType   string `json:"card_type"`
}

// SSLCommerzService implements PaymentGateway against SSLCommerz
type SSLCommerzService struct {
	config  *config.PaymentConfig
	baseURL string
	logger  *logrus.Logger
	client  *http.Client
}

// NewSSLCommerzService creates the SSLCommerz adapter
func NewSSLCommerzService(cfg *config.PaymentConfig, logger *logrus.Logger) *SSLCommerzService {
	return &SSLCommerzService{
		config:  cfg,
		baseURL: cfg.GatewayBaseURL(),
		logger:  logger,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// InitSession opens a hosted payment page for the transaction
func (s *SSLCommerzService) InitSession(ctx context.Context, req GatewaySessionRequest) (*GatewaySessionResponse, error) {
	if s.config.StoreID == "" || s.config.StorePassword == "" {
		return nil, models.NewGatewayUnavailable("payment gateway not configured: missing store credentials")
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	customer := req.Customer
	form := url.Values{
		"store_id":         {s.config.StoreID},
		"store_passwd":     {s.config.StorePassword},
		"total_amount":     {strconv.FormatFloat(req.Amount, 'f', 2, 64)},
		"currency":         {req.Currency},
		"tran_id":          {req.TransactionID},
		"success_url":      {req.SuccessURL},
		"fail_url":         {req.FailURL},
		"cancel_url":       {req.CancelURL},
		"ipn_url":          {req.IPNURL},
		"shipping_method":  {"NO"},
		"product_name":     {req.ProductName},
		"product_category": {"Mess Service"},
		"product_profile":  {"service"},
		"cus_name":         {customer.Name},
		"cus_email":        {customer.Email},
		"cus_phone":        {customer.Phone},
		"cus_add1":         {orDefault(customer.Address, "N/A")},
		"cus_city":         {orDefault(customer.City, "Dhaka")},
		"cus_postcode":     {orDefault(customer.Postcode, "1200")},
		"cus_country":      {orDefault(customer.Country, "Bangladesh")},
		"value_a":          {req.BookingID},
		"value_b":          {req.ListingID},
		"value_c":          {req.RenterID},
		"value_d":          {req.OwnerID},
	}

	s.logger.WithFields(logrus.Fields{
		"transaction_id": req.TransactionID,
		"booking_id":     req.BookingID,
		"amount":         req.Amount,
		"currency":       req.Currency,
	}).Info("Initiating SSLCommerz session")

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+sslcommerzInitPath, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, models.NewGatewayUnavailable("failed to build gateway request").WithCause(err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, err := s.do(httpReq)
	if err != nil {
		return nil, err
	}

	var initResp sslcommerzInitResponse
	if err := json.Unmarshal(body, &initResp); err != nil {
		s.logger.WithFields(logrus.Fields{
			"body":  string(body),
			"error": err.Error(),
		}).Error("Failed to parse SSLCommerz response")
		return nil, models.NewGatewayUnavailable("failed to parse gateway response").WithCause(err)
	}

	if initResp.Status != "SUCCESS" {
		return nil, models.NewGatewayUnavailable("gateway refused session: %s", initResp.FailedReason)
	}
	if initResp.GatewayPageURL == "" {
		return nil, models.NewGatewayUnavailable("gateway returned no payment page URL")
	}

	s.logger.WithFields(logrus.Fields{
		"transaction_id": req.TransactionID,
		"session_key":    initResp.SessionKey,
	}).Info("SSLCommerz session opened")

	return &GatewaySessionResponse{
		SessionKey: initResp.SessionKey,
		GatewayURL: initResp.GatewayPageURL,
	}, nil
}

// QueryTransaction asks the gateway for the settled state of a transaction.
// When several attempts exist, a successful one wins.
func (s *SSLCommerzService) QueryTransaction(ctx context.Context, transactionID string) (*GatewayTransactionStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	query := url.Values{
		"tran_id":      {transactionID},
		"store_id":     {s.config.StoreID},
		"store_passwd": {s.config.StorePassword},
		"format":       {"json"},
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+sslcommerzQueryPath+"?"+query.Encode(), nil)
	if err != nil {
		return nil, models.NewGatewayUnavailable("failed to build gateway request").WithCause(err)
	}

	body, err := s.do(httpReq)
	if err != nil {
		return nil, err
	}

	var queryResp sslcommerzQueryResponse
	if err := json.Unmarshal(body, &queryResp); err != nil {
		return nil, models.NewGatewayUnavailable("failed to parse gateway response").WithCause(err)
	}
	if queryResp.APIConnect != "DONE" {
		return nil, models.NewGatewayUnavailable("gateway query failed: %s", queryResp.APIConnect)
	}
	if len(queryResp.Element) == 0 {
		return nil, models.NewNotFound("gateway has no record of transaction %s", transactionID)
	}

	chosen := queryResp.Element[0]
	for _, el := range queryResp.Element {
		if models.GatewayResult(el.Status).IsSuccess() {
			chosen = el
			break
		}
	}

	amount, _ := strconv.ParseFloat(chosen.Amount, 64)
	status := &GatewayTransactionStatus{
		TransactionID: transactionID,
		Status:        models.GatewayResult(chosen.Status),
		ValID:         chosen.ValID,
		BankTranID:    chosen.BankTranID,
		Amount:        amount,
		Currency:      chosen.Currency,
		CardType:      chosen.CardType,
	}

	s.logger.WithFields(logrus.Fields{
		"transaction_id": transactionID,
		"status":         status.Status,
		"found":          queryResp.NoOfTransFound,
	}).Info("SSLCommerz transaction queried")

	return status, nil
}

// VerifyIPNSignature checks verify_sign on an IPN form. The signed string is
// the keys listed in verify_key plus md5(store_passwd), sorted and joined as
// key=value pairs.
func (s *SSLCommerzService) VerifyIPNSignature(form url.Values) bool {
	sign := form.Get("verify_sign")
	keys := form.Get("verify_key")
	if sign == "" || keys == "" {
		return false
	}

	data := make(map[string]string)
	for _, key := range strings.Split(keys, ",") {
		data[key] = form.Get(key)
	}
	passHash := md5.Sum([]byte(s.config.StorePassword))
	data["store_passwd"] = hex.EncodeToString(passHash[:])

	names := make([]string, 0, len(data))
	for k := range data {
		names = append(names, k)
	}
	sort.Strings(names)

	pairs := make([]string, 0, len(names))
	for _, k := range names {
		pairs = append(pairs, k+"="+data[k])
	}
	sum := md5.Sum([]byte(strings.Join(pairs, "&")))
	return hex.EncodeToString(sum[:]) == sign
}

func (s *SSLCommerzService) do(req *http.Request) ([]byte, error) {
	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.WithError(err).WithField("url", req.URL.Path).Error("Failed to call SSLCommerz")
		return nil, models.NewGatewayUnavailable("payment gateway unreachable").WithCause(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, models.NewGatewayUnavailable("failed to read gateway response").WithCause(err)
	}

	s.logger.WithFields(logrus.Fields{
		"path":        req.URL.Path,
		"status_code": resp.StatusCode,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("SSLCommerz response received")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, models.NewGatewayUnavailable("payment gateway returned status %d", resp.StatusCode).
			WithCause(fmt.Errorf("%s", strings.TrimSpace(string(body))))
	}
	return body, nil
}

func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
