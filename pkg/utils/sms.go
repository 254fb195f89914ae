package utils

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const africasTalkingURL = "https://api.africastalking.com/version1/messaging"

// SMSClient sends text messages through the Africa's Talking REST API.
type SMSClient struct {
	Username string
	APIKey   string
	BaseURL  string
	HTTP     *http.Client
}

func NewSMSClient(username, apiKey string) *SMSClient {
	return &SMSClient{
		Username: username,
		APIKey:   apiKey,
		BaseURL:  africasTalkingURL,
		HTTP:     &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *SMSClient) Send(ctx context.Context, message string, recipients []string) error {
	if c.Username == "" {
		return errors.New("africa's talking username not set")
	}
	if c.APIKey == "" {
		return errors.New("africa's talking API key not set")
	}
	if len(recipients) == 0 {
		return errors.New("no SMS recipients")
	}

	// Prepare the form data
	data := url.Values{}
	data.Set("username", c.Username)
	data.Set("to", strings.Join(recipients, ","))
	data.Set("message", message)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, strings.NewReader(data.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("apiKey", c.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("failed to send SMS: status code %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
