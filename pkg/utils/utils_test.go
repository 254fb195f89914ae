package utils

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/chachabrian/mooveit-rides/internal/models"
)

func TestToken(t *testing.T) {
	p := models.Principal{UserID: 42, Role: models.UserRoleDriver}

	t.Run("GivenIssuedToken_WhenValidated_ThenPrincipalRoundTrips", func(t *testing.T) {
		token, err := GenerateToken("secret", p, time.Hour)
		if err != nil {
			t.Fatalf("GenerateToken: %v", err)
		}
		got, err := ValidateToken("secret", token)
		if err != nil {
			t.Fatalf("ValidateToken: %v", err)
		}
		if got != p {
			t.Errorf("expected %+v, got %+v", p, got)
		}
	})

	t.Run("GivenWrongSecret_WhenValidated_ThenRejected", func(t *testing.T) {
		token, _ := GenerateToken("secret", p, time.Hour)
		if _, err := ValidateToken("other", token); err == nil {
			t.Error("expected signature error")
		}
	})

	t.Run("GivenExpiredToken_WhenValidated_ThenRejected", func(t *testing.T) {
		token, _ := GenerateToken("secret", p, -time.Minute)
		if _, err := ValidateToken("secret", token); err == nil {
			t.Error("expected expiry error")
		}
	})

	t.Run("GivenUnknownRole_WhenValidated_ThenRejected", func(t *testing.T) {
		token, _ := GenerateToken("secret", models.Principal{UserID: 1, Role: "pilot"}, time.Hour)
		if _, err := ValidateToken("secret", token); err == nil {
			t.Error("expected claims error")
		}
	})
}

func TestNormalizeMSISDN(t *testing.T) {
	cases := map[string]string{
		"0712345678":      "254712345678",
		"+254712345678":   "254712345678",
		"254 712 345 678": "254712345678",
		"712345678":       "254712345678",
		"0112345678":      "254112345678",
	}
	for in, want := range cases {
		got, err := NormalizeMSISDN(in)
		if err != nil {
			t.Errorf("%s: unexpected error %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("%s: expected %s, got %s", in, want, got)
		}
	}

	for _, bad := range []string{"", "12345", "07123456789", "07abc45678"} {
		if _, err := NormalizeMSISDN(bad); err == nil {
			t.Errorf("%q: expected error", bad)
		}
	}
}

func TestSMSClient_Send(t *testing.T) {
	t.Run("GivenGateway_WhenSending_ThenFormPosted", func(t *testing.T) {
		var form url.Values
		var apiKey string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			form, _ = url.ParseQuery(string(body))
			apiKey = r.Header.Get("apiKey")
			w.WriteHeader(http.StatusCreated)
		}))
		defer srv.Close()

		client := NewSMSClient("sandbox", "key")
		client.BaseURL = srv.URL
		if err := client.Send(context.Background(), "hello", []string{"254712345678", "254700000000"}); err != nil {
			t.Fatalf("Send: %v", err)
		}
		if apiKey != "key" {
			t.Errorf("expected apiKey header, got %q", apiKey)
		}
		if form.Get("to") != "254712345678,254700000000" || form.Get("message") != "hello" || form.Get("username") != "sandbox" {
			t.Errorf("unexpected form %v", form)
		}
	})

	t.Run("GivenGatewayError_WhenSending_ThenErrorReturned", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "bad key", http.StatusUnauthorized)
		}))
		defer srv.Close()

		client := NewSMSClient("sandbox", "key")
		client.BaseURL = srv.URL
		if err := client.Send(context.Background(), "hello", []string{"254712345678"}); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("GivenMissingCredentials_WhenSending_ThenRejected", func(t *testing.T) {
		if err := NewSMSClient("", "").Send(context.Background(), "x", []string{"1"}); err == nil {
			t.Error("expected credentials error")
		}
	})
}

func TestFares(t *testing.T) {
	t.Run("GivenSeatsAndPrice_WhenPricing_ThenRoundedToCents", func(t *testing.T) {
		if got := SeatFare(333.333, 3); got != 1000 {
			t.Errorf("expected 1000, got %v", got)
		}
		if got := SeatFare(800, 2); got != 1600 {
			t.Errorf("expected 1600, got %v", got)
		}
		if got := SeatFare(800, 0); got != 0 {
			t.Errorf("expected 0 for no seats, got %v", got)
		}
	})

	t.Run("GivenFractionalAmount_WhenCharging_ThenRoundedUp", func(t *testing.T) {
		cases := map[float64]int64{1600: 1600, 1600.01: 1601, 0.4: 1, 0: 0, -5: 0}
		for in, want := range cases {
			if got := ChargeableAmount(in); got != want {
				t.Errorf("ChargeableAmount(%v): expected %d, got %d", in, want, got)
			}
		}
	})
}
