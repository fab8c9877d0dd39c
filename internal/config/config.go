package config

import (
	"errors"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

var AppEnv Config

const (
	OTPStoreMemory = "memory"
	OTPStoreRedis  = "redis"

	NotifyInline = "inline"
	NotifyAMQP   = "amqp"
)

type Config struct {
	Port            string
	MongoURI        string
	DBName          string
	JWTSecret       string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	OwnerEmails     []string
	ShutdownTimeout time.Duration

	OTPStore      string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	SMTPHost     string
	SMTPPort     string
	SMTPUser     string
	SMTPPassword string
	MailFrom     string
	MailFromName string

	SMSProvider      string
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFrom       string
	Fast2SMSAPIKey   string

	NotifyTransport string
	AMQPURL         string
	AMQPExchange    string
	AMQPQueue       string

	StrictTransitions bool

	PayUKey           string
	PayUSalt          string
	PayUURL           string
	PublicBaseURL     string
	PaymentSuccessURL string
	PaymentFailureURL string

	StoreName      string
	CurrencySymbol string
	StoreTimezone  string
}

func Load() {
	if err := godotenv.Load(); err != nil {
		log.Println(".env not loaded:", err)
	}
	AppEnv = Config{
		Port:            getEnvOrDefault("PORT", "8080"),
		MongoURI:        getEnvOrDefault("MONGO_URI", ""),
		DBName:          getEnvOrDefault("DB_NAME", "storefront"),
		JWTSecret:       getEnvOrDefault("JWT_SECRET", ""),
		AccessTokenTTL:  getDurationEnv("ACCESS_TOKEN_TTL", 20, time.Minute),
		RefreshTokenTTL: getDurationEnv("REFRESH_TOKEN_TTL", 7, 24*time.Hour),
		OwnerEmails:     getListEnv("OWNER_EMAILS"),
		ShutdownTimeout: getDurationEnv("SHUTDOWN_TIMEOUT", 15, time.Second),

		OTPStore:      strings.ToLower(getEnvOrDefault("OTP_STORE", OTPStoreMemory)),
		RedisAddr:     getEnvOrDefault("REDIS_ADDR", ""),
		RedisPassword: getEnvOrDefault("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),

		SMTPHost:     getEnvOrDefault("SMTP_HOST", ""),
		SMTPPort:     getEnvOrDefault("SMTP_PORT", "587"),
		SMTPUser:     getEnvOrDefault("SMTP_USER", ""),
		SMTPPassword: getEnvOrDefault("SMTP_PASSWORD", ""),
		MailFrom:     getEnvOrDefault("MAIL_FROM", "no-reply@localhost"),
		MailFromName: getEnvOrDefault("MAIL_FROM_NAME", ""),

		SMSProvider:      getEnvOrDefault("SMS_PROVIDER", "simulate"),
		TwilioAccountSID: getEnvOrDefault("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:  getEnvOrDefault("TWILIO_AUTH_TOKEN", ""),
		TwilioFrom:       getEnvOrDefault("TWILIO_FROM", ""),
		Fast2SMSAPIKey:   getEnvOrDefault("FAST2SMS_API_KEY", ""),

		NotifyTransport: strings.ToLower(getEnvOrDefault("NOTIFY_TRANSPORT", NotifyInline)),
		AMQPURL:         getEnvOrDefault("AMQP_URL", ""),
		AMQPExchange:    getEnvOrDefault("AMQP_EXCHANGE", "order_exchange"),
		AMQPQueue:       getEnvOrDefault("AMQP_QUEUE", "order_notifications"),

		StrictTransitions: getBoolEnv("ORDER_STRICT_TRANSITIONS", false),

		PayUKey:           getEnvOrDefault("PAYU_KEY", ""),
		PayUSalt:          getEnvOrDefault("PAYU_SALT", ""),
		PayUURL:           getEnvOrDefault("PAYU_URL", "https://test.payu.in/_payment"),
		PublicBaseURL:     strings.TrimRight(getEnvOrDefault("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
		PaymentSuccessURL: getEnvOrDefault("PAYMENT_SUCCESS_URL", "http://localhost:3000/payment/success"),
		PaymentFailureURL: getEnvOrDefault("PAYMENT_FAILURE_URL", "http://localhost:3000/payment/failure"),

		StoreName:      getEnvOrDefault("STORE_NAME", "Storefront"),
		CurrencySymbol: getEnvOrDefault("CURRENCY_SYMBOL", "₹"),
		StoreTimezone:  getEnvOrDefault("STORE_TIMEZONE", "Asia/Kolkata"),
	}
}

// Validate reports settings the server cannot start without.
func (c Config) Validate() error {
	var errs []error
	if c.MongoURI == "" {
		errs = append(errs, errors.New("MONGO_URI is required"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	switch c.OTPStore {
	case OTPStoreMemory:
	case OTPStoreRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required when OTP_STORE=redis"))
		}
	default:
		errs = append(errs, errors.New("OTP_STORE must be memory or redis"))
	}
	switch c.NotifyTransport {
	case NotifyInline:
	case NotifyAMQP:
		if c.AMQPURL == "" {
			errs = append(errs, errors.New("AMQP_URL is required when NOTIFY_TRANSPORT=amqp"))
		}
	default:
		errs = append(errs, errors.New("NOTIFY_TRANSPORT must be inline or amqp"))
	}
	return errors.Join(errs...)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue int, unit time.Duration) time.Duration {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
			return time.Duration(parsed) * unit
		}
	}
	return time.Duration(defaultValue) * unit
}

func getIntEnv(key string, defaultValue int) int {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getListEnv(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
