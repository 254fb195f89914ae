// Package config reads the service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	StorePostgres = "postgres"
	StoreMongo    = "mongo"
	StoreMemory   = "memory"

	// FlowRequest makes new bookings wait for the driver's decision.
	FlowRequest = "request"
	// FlowInstant confirms new bookings immediately.
	FlowInstant = "instant"
)

type Config struct {
	Port        string
	Environment string
	LogLevel    string
	StoreDriver string
	BookingFlow string
	JWTSecret   string

	DBHost     string
	DBUser     string
	DBPassword string
	DBName     string
	DBPort     string
	DBSSLMode  string

	MongoURI      string
	MongoDatabase string

	RedisURL     string
	RedisChannel string
	AMQPURL      string

	FirebaseServiceAccountPath string
	ATUsername                 string
	ATAPIKey                   string

	MpesaBaseURL        string
	MpesaConsumerKey    string
	MpesaConsumerSecret string
	MpesaShortcode      string
	MpesaPasskey        string
	MpesaCallbackURL    string
	PaymentTimeout      time.Duration
	PaymentCallbackTTL  time.Duration

	AWSRegion          string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	AWSS3Bucket        string
	ArchiveDir         string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("ENVIRONMENT", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("STORE_DRIVER", StorePostgres)
	v.SetDefault("BOOKING_FLOW", FlowRequest)

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_NAME", "mooveit")
	v.SetDefault("DB_SSLMODE", "disable")

	v.SetDefault("MONGODB_DATABASE", "mooveit")
	v.SetDefault("REDIS_CHANNEL", "booking_events")

	v.SetDefault("MPESA_BASE_URL", "https://sandbox.safaricom.co.ke")
	v.SetDefault("PAYMENT_TIMEOUT", "30s")
	v.SetDefault("PAYMENT_CALLBACK_TTL", "5m")

	v.SetDefault("AWS_REGION", "us-east-1")
	v.SetDefault("ARCHIVE_DIR", "./uploads/payments")
}

// Load reads .env when present and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return FromViper(newViper())
}

func newViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// FromViper builds a Config from an already populated viper instance.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Port:        v.GetString("PORT"),
		Environment: v.GetString("ENVIRONMENT"),
		LogLevel:    v.GetString("LOG_LEVEL"),
		StoreDriver: strings.ToLower(v.GetString("STORE_DRIVER")),
		BookingFlow: strings.ToLower(v.GetString("BOOKING_FLOW")),
		JWTSecret:   v.GetString("JWT_SECRET"),

		DBHost:     v.GetString("DB_HOST"),
		DBUser:     v.GetString("DB_USER"),
		DBPassword: v.GetString("DB_PASSWORD"),
		DBName:     v.GetString("DB_NAME"),
		DBPort:     v.GetString("DB_PORT"),
		DBSSLMode:  v.GetString("DB_SSLMODE"),

		MongoURI:      v.GetString("MONGODB_URI"),
		MongoDatabase: v.GetString("MONGODB_DATABASE"),

		RedisURL:     v.GetString("REDIS_URL"),
		RedisChannel: v.GetString("REDIS_CHANNEL"),
		AMQPURL:      v.GetString("AMQP_URL"),

		FirebaseServiceAccountPath: v.GetString("FIREBASE_SERVICE_ACCOUNT_PATH"),
		ATUsername:                 v.GetString("AT_USERNAME"),
		ATAPIKey:                   v.GetString("AT_API_KEY"),

		MpesaBaseURL:        strings.TrimRight(v.GetString("MPESA_BASE_URL"), "/"),
		MpesaConsumerKey:    v.GetString("MPESA_CONSUMER_KEY"),
		MpesaConsumerSecret: v.GetString("MPESA_CONSUMER_SECRET"),
		MpesaShortcode:      v.GetString("MPESA_SHORTCODE"),
		MpesaPasskey:        v.GetString("MPESA_PASSKEY"),
		MpesaCallbackURL:    v.GetString("MPESA_CALLBACK_URL"),
		PaymentTimeout:      v.GetDuration("PAYMENT_TIMEOUT"),
		PaymentCallbackTTL:  v.GetDuration("PAYMENT_CALLBACK_TTL"),

		AWSRegion:          v.GetString("AWS_REGION"),
		AWSAccessKeyID:     v.GetString("AWS_ACCESS_KEY_ID"),
		AWSSecretAccessKey: v.GetString("AWS_SECRET_ACCESS_KEY"),
		AWSS3Bucket:        v.GetString("AWS_S3_BUCKET"),
		ArchiveDir:         v.GetString("ARCHIVE_DIR"),
	}
	return cfg, cfg.Validate()
}

func (c *Config) Validate() error {
	var errs []error
	switch c.StoreDriver {
	case StorePostgres, StoreMongo, StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}
	switch c.BookingFlow {
	case FlowRequest, FlowInstant:
	default:
		errs = append(errs, fmt.Errorf("unknown BOOKING_FLOW %q", c.BookingFlow))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.StoreDriver == StoreMongo && c.MongoURI == "" {
		errs = append(errs, errors.New("MONGODB_URI is required for the mongo store"))
	}
	if c.PaymentTimeout <= 0 {
		errs = append(errs, errors.New("PAYMENT_TIMEOUT must be positive"))
	}
	if c.PaymentCallbackTTL <= 0 {
		errs = append(errs, errors.New("PAYMENT_CALLBACK_TTL must be positive"))
	}
	return errors.Join(errs...)
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) InstantBooking() bool {
	return c.BookingFlow == FlowInstant
}

// MpesaConfigured reports whether STK push credentials are present.
func (c *Config) MpesaConfigured() bool {
	return c.MpesaConsumerKey != "" && c.MpesaConsumerSecret != "" &&
		c.MpesaShortcode != "" && c.MpesaPasskey != ""
}

// S3Configured reports whether callbacks can be archived to S3.
func (c *Config) S3Configured() bool {
	return c.AWSAccessKeyID != "" && c.AWSSecretAccessKey != "" && c.AWSS3Bucket != ""
}
