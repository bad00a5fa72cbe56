package services

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/messhub/booking-engine/internal/config"
	"github.com/messhub/booking-engine/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGatewayServer(t *testing.T, handler http.HandlerFunc) (*SSLCommerzService, *config.PaymentConfig) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := &config.PaymentConfig{
		StoreID:       "teststore",
		StorePassword: "testpass",
		BaseURL:       server.URL,
		Currency:      "BDT",
		Timeout:       2 * time.Second,
	}
	return NewSSLCommerzService(cfg, quietLogger()), cfg
}

func sessionRequest() GatewaySessionRequest {
	return GatewaySessionRequest{
		TransactionID: "BOOKING-01112026-101500-ABCDEF-1A2B",
		Amount:        5000,
		Currency:      "BDT",
		ProductName:   "Mess Booking - Seat",
		Customer:      models.CustomerInfo{Name: "Rahim", Email: "rahim@example.com", Phone: "01700000000"},
		SuccessURL:    "http://api.test/api/v1/payments/success",
		FailURL:       "http://api.test/api/v1/payments/fail",
		CancelURL:     "http://api.test/api/v1/payments/cancel",
		IPNURL:        "http://api.test/api/v1/payments/ipn",
		BookingID:     "booking-1",
	}
}

func TestSSLCommerz_InitSession(t *testing.T) {
	var form url.Values
	svc, _ := newGatewayServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, sslcommerzInitPath, r.URL.Path)
		assert.NoError(t, r.ParseForm())
		form = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"SUCCESS","sessionkey":"SK123","GatewayPageURL":"https://sandbox.sslcommerz.com/pay/SK123"}`))
	})

	resp, err := svc.InitSession(context.Background(), sessionRequest())
	require.NoError(t, err)
	assert.Equal(t, "SK123", resp.SessionKey)
	assert.Equal(t, "https://sandbox.sslcommerz.com/pay/SK123", resp.GatewayURL)

	assert.Equal(t, "teststore", form.Get("store_id"))
	assert.Equal(t, "5000.00", form.Get("total_amount"))
	assert.Equal(t, "BOOKING-01112026-101500-ABCDEF-1A2B", form.Get("tran_id"))
	assert.Equal(t, "http://api.test/api/v1/payments/ipn", form.Get("ipn_url"))
	assert.Equal(t, "Dhaka", form.Get("cus_city"))
	assert.Equal(t, "booking-1", form.Get("value_a"))
}

func TestSSLCommerz_InitSession_Failures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		message string
	}{
		{"gateway refused", http.StatusOK, `{"status":"FAILED","failedreason":"Store Credential Error"}`, "Store Credential Error"},
		{"no page url", http.StatusOK, `{"status":"SUCCESS","sessionkey":"SK"}`, "no payment page"},
		{"server error", http.StatusBadGateway, `upstream down`, "status 502"},
		{"garbage body", http.StatusOK, `<html>`, "parse"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newGatewayServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			_, err := svc.InitSession(context.Background(), sessionRequest())
			require.Error(t, err)
			assert.True(t, models.IsKind(err, models.ErrKindGatewayUnavailable))
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestSSLCommerz_InitSession_MissingCredentials(t *testing.T) {
	svc := NewSSLCommerzService(&config.PaymentConfig{Timeout: time.Second}, quietLogger())

	_, err := svc.InitSession(context.Background(), sessionRequest())
	assert.True(t, models.IsKind(err, models.ErrKindGatewayUnavailable))
}

func TestSSLCommerz_QueryTransaction(t *testing.T) {
	svc, _ := newGatewayServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, sslcommerzQueryPath, r.URL.Path)
		assert.Equal(t, "TXN-1", r.URL.Query().Get("tran_id"))
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		w.Write([]byte(`{
			"APIConnect": "DONE",
			"no_of_trans_found": 2,
			"element": [
				{"val_id": "V1", "status": "FAILED", "tran_id": "TXN-1", "amount": "5000.00"},
				{"val_id": "V2", "status": "VALID", "tran_id": "TXN-1", "amount": "5000.00", "currency": "BDT", "bank_tran_id": "B2", "card_type": "BKASH-BKash"}
			]
		}`))
	})

	status, err := svc.QueryTransaction(context.Background(), "TXN-1")
	require.NoError(t, err)
	assert.Equal(t, models.GatewayResultValid, status.Status)
	assert.Equal(t, "V2", status.ValID)
	assert.Equal(t, "B2", status.BankTranID)
	assert.Equal(t, 5000.0, status.Amount)
	assert.Equal(t, "BKASH-BKash", status.CardType)
}

func TestSSLCommerz_QueryTransaction_Failures(t *testing.T) {
	t.Run("no record", func(t *testing.T) {
		svc, _ := newGatewayServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"APIConnect":"DONE","no_of_trans_found":"0","element":[]}`))
		})
		_, err := svc.QueryTransaction(context.Background(), "TXN-404")
		assert.True(t, models.IsKind(err, models.ErrKindNotFound))
	})

	t.Run("api refused", func(t *testing.T) {
		svc, _ := newGatewayServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"APIConnect":"INACTIVE"}`))
		})
		_, err := svc.QueryTransaction(context.Background(), "TXN-1")
		assert.True(t, models.IsKind(err, models.ErrKindGatewayUnavailable))
	})

	t.Run("unreachable", func(t *testing.T) {
		svc, cfg := newGatewayServer(t, func(w http.ResponseWriter, r *http.Request) {})
		cfg.BaseURL = "http://127.0.0.1:1"
		svc = NewSSLCommerzService(cfg, quietLogger())
		_, err := svc.QueryTransaction(context.Background(), "TXN-1")
		assert.True(t, models.IsKind(err, models.ErrKindGatewayUnavailable))
	})
}

// signForm adds verify_key and verify_sign the way the gateway does
func signForm(form url.Values, password string) {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	form.Set("verify_key", strings.Join(keys, ","))

	data := map[string]string{}
	for _, k := range keys {
		data[k] = form.Get(k)
	}
	passHash := md5.Sum([]byte(password))
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
	form.Set("verify_sign", hex.EncodeToString(sum[:]))
}

func TestSSLCommerz_VerifyIPNSignature(t *testing.T) {
	svc := NewSSLCommerzService(&config.PaymentConfig{StorePassword: "testpass", Timeout: time.Second}, quietLogger())

	signed := url.Values{"tran_id": {"TXN-1"}, "status": {"VALID"}, "amount": {"5000.00"}, "val_id": {"V1"}}
	signForm(signed, "testpass")
	assert.True(t, svc.VerifyIPNSignature(signed))

	tampered := url.Values{}
	for k, v := range signed {
		tampered[k] = append([]string(nil), v...)
	}
	tampered.Set("amount", "1.00")
	assert.False(t, svc.VerifyIPNSignature(tampered))

	wrongKey := url.Values{"tran_id": {"TXN-1"}, "status": {"VALID"}}
	signForm(wrongKey, "otherpass")
	assert.False(t, svc.VerifyIPNSignature(wrongKey))

	assert.False(t, svc.VerifyIPNSignature(url.Values{"tran_id": {"TXN-1"}}))
}
