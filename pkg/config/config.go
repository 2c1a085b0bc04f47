package config

import (
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type App struct {
	// DB
	PGCoreDSN string `envconfig:"PG_CORE_DSN" required:"true"`

	// Network
	HTTPAddr string `envconfig:"CORE_HTTP_ADDR" default:":8080"`

	// JWT (operator endpoints)
	JWTSecret string `envconfig:"JWT_SECRET" required:"true"`

	// RabbitMQ
	RabbitURL         string `envconfig:"RABBIT_URL" required:"true"`
	CoreExchange      string `envconfig:"CORE_EXCHANGE" default:"core.exchange"`
	AnalyticsExchange string `envconfig:"ANALYTICS_EXCHANGE" default:"analytics.exchange"`
	AnalyticsQueue    string `envconfig:"ANALYTICS_QUEUE" default:"core.analytics.q"`

	// Scheduling provider (managed OAuth client)
	CalBaseURL      string `envconfig:"CAL_BASE_URL" default:"https://api.cal.com/v2"`
	CalAuthURL      string `envconfig:"CAL_AUTH_URL" default:"https://app.cal.com/auth/oauth2/authorize"`
	CalClientID     string `envconfig:"CAL_CLIENT_ID" required:"true"`
	CalClientSecret string `envconfig:"CAL_CLIENT_SECRET" required:"true"`
	CalRedirectURL  string `envconfig:"CAL_REDIRECT_URL" required:"true"`
	CalWebhookToken string `envconfig:"CAL_WEBHOOK_TOKEN" default:""`

	// Payment processor
	StripeBaseURL   string `envconfig:"STRIPE_BASE_URL" default:"https://api.stripe.com"`
	StripeSecretKey string `envconfig:"STRIPE_SECRET_KEY" required:"true"`

	// Settlement policy
	PlatformFeeBps    int64 `envconfig:"PLATFORM_FEE_BPS" default:"1000"`
	PlatformFeeMin    int64 `envconfig:"PLATFORM_FEE_MIN" default:"100"`
	DisputeWindowDays int   `envconfig:"DISPUTE_WINDOW_DAYS" default:"7"`

	// Ranking policy
	WeightProfileView      float64 `envconfig:"RANKING_WEIGHT_PROFILE_VIEW" default:"0.3"`
	WeightBookingCompleted float64 `envconfig:"RANKING_WEIGHT_BOOKING_COMPLETED" default:"10"`
	WeightReviewReceived   float64 `envconfig:"RANKING_WEIGHT_REVIEW_RECEIVED" default:"2"`
	RankingDecayFactor     float64 `envconfig:"RANKING_DECAY_FACTOR" default:"0.99"`
	RankingBatchSize       int     `envconfig:"RANKING_BATCH_SIZE" default:"500"`

	// Batch worker
	TransferInterval time.Duration `envconfig:"TRANSFER_INTERVAL" default:"15m"`
	RankingInterval  time.Duration `envconfig:"RANKING_INTERVAL" default:"1m"`
	DecayInterval    time.Duration `envconfig:"DECAY_INTERVAL" default:"24h"`

	Env string `envconfig:"ENV" default:"dev"`
}

func Load() (App, error) {
	_ = godotenv.Load()
	var c App
	err := envconfig.Process("", &c)
	return c, err
}
