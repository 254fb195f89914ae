package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func testViper(values map[string]any) *viper.Viper {
	v := viper.New()
	setDefaults(v)
	for k, val := range values {
		v.Set(k, val)
	}
	return v
}

func TestFromViper(t *testing.T) {
	t.Run("GivenOnlySecret_WhenLoading_ThenDefaultsApply", func(t *testing.T) {
		cfg, err := FromViper(testViper(map[string]any{"JWT_SECRET": "s3cret"}))
		if err != nil {
			t.Fatalf("FromViper: %v", err)
		}
		if cfg.Port != "8080" || cfg.StoreDriver != StorePostgres || cfg.BookingFlow != FlowRequest {
			t.Errorf("unexpected defaults %+v", cfg)
		}
		if cfg.PaymentTimeout != 30*time.Second || cfg.PaymentCallbackTTL != 5*time.Minute {
			t.Errorf("unexpected payment durations %v/%v", cfg.PaymentTimeout, cfg.PaymentCallbackTTL)
		}
		if cfg.InstantBooking() {
			t.Error("request flow should be the default")
		}
	})

	t.Run("GivenMixedCaseFlow_WhenLoading_ThenNormalized", func(t *testing.T) {
		cfg, err := FromViper(testViper(map[string]any{
			"JWT_SECRET":   "s3cret",
			"BOOKING_FLOW": "Instant",
			"STORE_DRIVER": "MEMORY",
		}))
		if err != nil {
			t.Fatalf("FromViper: %v", err)
		}
		if !cfg.InstantBooking() || cfg.StoreDriver != StoreMemory {
			t.Errorf("unexpected config %+v", cfg)
		}
	})

	t.Run("GivenBadValues_WhenLoading_ThenAllProblemsReported", func(t *testing.T) {
		_, err := FromViper(testViper(map[string]any{
			"STORE_DRIVER": "cassandra",
			"BOOKING_FLOW": "auction",
		}))
		if err == nil {
			t.Fatal("expected validation error")
		}
		for _, want := range []string{"STORE_DRIVER", "BOOKING_FLOW", "JWT_SECRET"} {
			if !strings.Contains(err.Error(), want) {
				t.Errorf("expected error to mention %s, got %v", want, err)
			}
		}
	})

	t.Run("GivenMongoWithoutURI_WhenLoading_ThenRejected", func(t *testing.T) {
		_, err := FromViper(testViper(map[string]any{"JWT_SECRET": "x", "STORE_DRIVER": "mongo"}))
		if err == nil || !strings.Contains(err.Error(), "MONGODB_URI") {
			t.Errorf("expected MONGODB_URI error, got %v", err)
		}
	})
}

func TestConfiguredChecks(t *testing.T) {
	cfg := &Config{MpesaConsumerKey: "k", MpesaConsumerSecret: "s", MpesaShortcode: "174379"}
	if cfg.MpesaConfigured() {
		t.Error("missing passkey should leave M-Pesa unconfigured")
	}
	cfg.MpesaPasskey = "p"
	if !cfg.MpesaConfigured() {
		t.Error("expected M-Pesa to be configured")
	}
	if cfg.S3Configured() {
		t.Error("S3 should be unconfigured without credentials")
	}
}
