package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/chachabrian/mooveit-rides/internal/config"
	"github.com/chachabrian/mooveit-rides/pkg/utils"
)

// PaymentRequest asks the gateway to collect Amount from Phone.
type PaymentRequest struct {
	Phone       string
	Amount      float64
	Reference   string
	Description string
}

// PaymentInitiation identifies an accepted request; CheckoutID is echoed by
// the asynchronous callback.
type PaymentInitiation struct {
	CheckoutID        string
	MerchantRequestID string
	CustomerMessage   string
}

type PaymentGateway interface {
	Initiate(ctx context.Context, req PaymentRequest) (PaymentInitiation, error)
}

// PaymentQuerier is implemented by gateways that can report the result of a
// checkout directly. done is false while the customer has not answered yet.
type PaymentQuerier interface {
	QueryPayment(ctx context.Context, checkoutID string) (out Outcome, done bool, err error)
}

// MpesaClient implements PaymentGateway with Safaricom Daraja STK push.
type MpesaClient struct {
	baseURL        string
	consumerKey    string
	consumerSecret string
	shortcode      string
	passkey        string
	callbackURL    string
	http           *http.Client
	now            func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

func NewMpesaClient(cfg *config.Config) *MpesaClient {
	return &MpesaClient{
		baseURL:        cfg.MpesaBaseURL,
		consumerKey:    cfg.MpesaConsumerKey,
		consumerSecret: cfg.MpesaConsumerSecret,
		shortcode:      cfg.MpesaShortcode,
		passkey:        cfg.MpesaPasskey,
		callbackURL:    cfg.MpesaCallbackURL,
		http:           &http.Client{Timeout: 30 * time.Second},
		now:            time.Now,
	}
}

type stkPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type stkPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
	ErrorCode           string `json:"errorCode"`
	ErrorMessage        string `json:"errorMessage"`
}

// Password is base64(shortcode + passkey + timestamp).
func (c *MpesaClient) Password(timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(c.shortcode + c.passkey + timestamp))
}

func (c *MpesaClient) Initiate(ctx context.Context, req PaymentRequest) (PaymentInitiation, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return PaymentInitiation{}, err
	}

	timestamp := c.now().Format("20060102150405")
	body, err := json.Marshal(stkPushRequest{
		BusinessShortCode: c.shortcode,
		Password:          c.Password(timestamp),
		Timestamp:         timestamp,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            utils.ChargeableAmount(req.Amount),
		PartyA:            req.Phone,
		PartyB:            c.shortcode,
		PhoneNumber:       req.Phone,
		CallBackURL:       c.callbackURL,
		AccountReference:  req.Reference,
		TransactionDesc:   req.Description,
	})
	if err != nil {
		return PaymentInitiation{}, fmt.Errorf("marshal stk push: %w", err)
	}

	var out stkPushResponse
	status, _, err := c.postJSON(ctx, token, "/mpesa/stkpush/v1/processrequest", body, &out)
	if err != nil {
		return PaymentInitiation{}, fmt.Errorf("stk push request: %w", err)
	}
	if status != http.StatusOK || out.ResponseCode != "0" {
		msg := out.ErrorMessage
		if msg == "" {
			msg = out.ResponseDescription
		}
		return PaymentInitiation{}, fmt.Errorf("stk push rejected (status %d): %s", status, msg)
	}

	return PaymentInitiation{
		CheckoutID:        out.CheckoutRequestID,
		MerchantRequestID: out.MerchantRequestID,
		CustomerMessage:   out.CustomerMessage,
	}, nil
}

type stkQueryRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

type stkQueryResponse struct {
	ResponseCode      string          `json:"ResponseCode"`
	MerchantRequestID string          `json:"MerchantRequestID"`
	CheckoutRequestID string          `json:"CheckoutRequestID"`
	ResultCode        json.RawMessage `json:"ResultCode"`
	ResultDesc        string          `json:"ResultDesc"`
	ErrorCode         string          `json:"errorCode"`
	ErrorMessage      string          `json:"errorMessage"`
}

// Daraja answers a query for an unanswered prompt with this error code.
const stkStillProcessing = "500.001.1001"

// QueryPayment asks Daraja for the result of an STK push. The query carries
// no receipt number, so a success settles with an empty receipt.
func (c *MpesaClient) QueryPayment(ctx context.Context, checkoutID string) (Outcome, bool, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return Outcome{}, false, err
	}

	timestamp := c.now().Format("20060102150405")
	body, err := json.Marshal(stkQueryRequest{
		BusinessShortCode: c.shortcode,
		Password:          c.Password(timestamp),
		Timestamp:         timestamp,
		CheckoutRequestID: checkoutID,
	})
	if err != nil {
		return Outcome{}, false, fmt.Errorf("marshal stk query: %w", err)
	}

	var out stkQueryResponse
	status, raw, err := c.postJSON(ctx, token, "/mpesa/stkpushquery/v1/query", body, &out)
	if err != nil {
		return Outcome{}, false, fmt.Errorf("stk query request: %w", err)
	}
	if out.ErrorCode == stkStillProcessing {
		return Outcome{}, false, nil
	}
	if status != http.StatusOK || out.ResponseCode != "0" || len(out.ResultCode) == 0 {
		msg := out.ErrorMessage
		if msg == "" {
			msg = out.ResultDesc
		}
		return Outcome{}, false, fmt.Errorf("stk query rejected (status %d): %s", status, msg)
	}

	code, err := strconv.Atoi(metadataString(out.ResultCode))
	if err != nil {
		return Outcome{}, false, fmt.Errorf("stk query result code %s: %w", out.ResultCode, err)
	}
	result := Outcome{
		Reference:     checkoutID,
		Success:       code == 0,
		ResultCode:    code,
		TransactionID: out.MerchantRequestID,
		Raw:           raw,
	}
	if !result.Success {
		result.Reason = out.ResultDesc
	}
	return result, true, nil
}

// postJSON sends an authorized Daraja request and decodes the reply into out
// whatever the status code, since errors come back as JSON too.
func (c *MpesaClient) postJSON(ctx context.Context, token, path string, body []byte, out interface{}) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return resp.StatusCode, raw, fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	return resp.StatusCode, raw, nil
}

// accessToken returns a cached OAuth token, refreshing it a minute early.
func (c *MpesaClient) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/oauth/v1/generate?grant_type=client_credentials", nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(c.consumerKey, c.consumerSecret)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("oauth request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("oauth request failed: status code %d", resp.StatusCode)
	}

	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   string `json:"expires_in"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return "", fmt.Errorf("decode oauth response: %w", err)
	}
	if out.AccessToken == "" {
		return "", errors.New("oauth response without access token")
	}

	ttl := time.Hour
	if secs, err := strconv.Atoi(out.ExpiresIn); err == nil && secs > 0 {
		ttl = time.Duration(secs) * time.Second
	}
	c.token = out.AccessToken
	c.tokenExpiry = c.now().Add(ttl - time.Minute)
	return c.token, nil
}

type stkCallback struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        int    `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  struct {
				Item []struct {
					Name  string          `json:"Name"`
					Value json.RawMessage `json:"Value"`
				} `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// ParseSTKCallback turns a Daraja STK callback body into an Outcome.
func ParseSTKCallback(raw []byte) (Outcome, error) {
	var cb stkCallback
	if err := json.Unmarshal(raw, &cb); err != nil {
		return Outcome{}, fmt.Errorf("decode stk callback: %w", err)
	}
	body := cb.Body.StkCallback
	if body.CheckoutRequestID == "" {
		return Outcome{}, errors.New("stk callback without CheckoutRequestID")
	}

	out := Outcome{
		Reference:     body.CheckoutRequestID,
		Success:       body.ResultCode == 0,
		ResultCode:    body.ResultCode,
		TransactionID: body.MerchantRequestID,
		Raw:           raw,
	}
	if !out.Success {
		out.Reason = body.ResultDesc
		return out, nil
	}

	for _, item := range body.CallbackMetadata.Item {
		switch item.Name {
		case "MpesaReceiptNumber":
			out.ReceiptNumber = metadataString(item.Value)
		case "Amount":
			out.Amount, _ = strconv.ParseFloat(metadataString(item.Value), 64)
		case "PhoneNumber":
			out.Phone = metadataString(item.Value)
		}
	}
	return out, nil
}

// metadataString renders a callback value that may be a JSON string or number.
func metadataString(v json.RawMessage) string {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(v, &n); err == nil {
		return n.String()
	}
	return string(v)
}
