/**
 * @description
 * This package handles configuration management for the review service. It
 * uses Viper to read environment variables (with an optional .env file for
 * local development) into an explicit Config struct that is constructed once
 * at process start and passed into every component. Business logic never
 * reads the environment directly.
 *
 * @dependencies
 * - github.com/spf13/viper: Configuration loading and defaults.
 */

package config

import (
	"errors"
	"log"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the review service.
type Config struct {
	ServerPort  string `mapstructure:"SERVER_PORT"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	RedisURL    string `mapstructure:"REDIS_URL"`
	RabbitMQURL string `mapstructure:"RABBITMQ_URL"`

	// Submission token
	TokenSecret   string `mapstructure:"TOKEN_SECRET"`
	TokenTTLHours int    `mapstructure:"TOKEN_TTL_HOURS"`

	// Admin credential. AdminKeyHash, when set, takes precedence over the
	// plaintext key and is compared with bcrypt.
	AdminKey               string `mapstructure:"ADMIN_KEY"`
	AdminKeyHash           string `mapstructure:"ADMIN_KEY_HASH"`
	AdminSessionSecret     string `mapstructure:"ADMIN_SESSION_SECRET"`
	AdminSessionTTLMinutes int    `mapstructure:"ADMIN_SESSION_TTL_MINUTES"`

	// Coupons
	CouponPrefix            string `mapstructure:"COUPON_PREFIX"`
	CouponCodeMaxAttempts   int    `mapstructure:"COUPON_CODE_MAX_ATTEMPTS"`
	ResendCouponOnReapprove bool   `mapstructure:"RESEND_COUPON_ON_REAPPROVE"`
	EmailRetrySchedule      string `mapstructure:"EMAIL_RETRY_CRON"`

	// Submission constraints
	MinImages            int   `mapstructure:"MIN_IMAGES"`
	MaxImages            int   `mapstructure:"MAX_IMAGES"`
	MaxImageBytes        int64 `mapstructure:"MAX_IMAGE_BYTES"`
	ModerationMaxRetries int   `mapstructure:"MODERATION_MAX_RETRIES"`

	// Rate limiting (0 disables)
	SubmitRateLimitPerMinute       int    `mapstructure:"SUBMIT_RATE_LIMIT_PER_MINUTE"`
	CouponStatusRateLimitPerMinute int    `mapstructure:"COUPON_STATUS_RATE_LIMIT_PER_MINUTE"`
	RedisRateLimitPrefix           string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`

	// Cloudinary (image host)
	CloudinaryCloudName string `mapstructure:"CLOUDINARY_CLOUD_NAME"`
	CloudinaryAPIKey    string `mapstructure:"CLOUDINARY_API_KEY"`
	CloudinaryAPISecret string `mapstructure:"CLOUDINARY_API_SECRET"`
	CloudinaryFolder    string `mapstructure:"CLOUDINARY_FOLDER"`
	CloudinaryMaxWidth  int    `mapstructure:"CLOUDINARY_MAX_WIDTH"`

	// Brevo (email)
	BrevoKey         string `mapstructure:"BREVO_KEY"`
	BrevoSenderEmail string `mapstructure:"BREVO_SENDER_EMAIL"`
	BrevoSenderName  string `mapstructure:"BREVO_SENDER_NAME"`
	BrandName        string `mapstructure:"BRAND_NAME"`
}

// LoadConfig reads configuration from environment variables, with an optional
// .env file in the given path for local development.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("TOKEN_TTL_HOURS", 336)
	viper.SetDefault("ADMIN_SESSION_TTL_MINUTES", 60)
	viper.SetDefault("COUPON_PREFIX", "NU")
	viper.SetDefault("COUPON_CODE_MAX_ATTEMPTS", 5)
	viper.SetDefault("RESEND_COUPON_ON_REAPPROVE", false)
	viper.SetDefault("MIN_IMAGES", 1)
	viper.SetDefault("MAX_IMAGES", 3)
	viper.SetDefault("MAX_IMAGE_BYTES", 5<<20)
	viper.SetDefault("MODERATION_MAX_RETRIES", 3)
	viper.SetDefault("SUBMIT_RATE_LIMIT_PER_MINUTE", 10)
	viper.SetDefault("COUPON_STATUS_RATE_LIMIT_PER_MINUTE", 60)
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "reviews:rate_limit")
	viper.SetDefault("CLOUDINARY_FOLDER", "ugc")
	viper.SetDefault("CLOUDINARY_MAX_WIDTH", 1600)
	viper.SetDefault("BRAND_NAME", "Natural Uncle")

	for _, key := range []string{
		"SERVER_PORT", "PORT", "DATABASE_URL", "REDIS_URL", "RABBITMQ_URL",
		"TOKEN_SECRET", "TOKEN_TTL_HOURS",
		"ADMIN_KEY", "ADMIN_KEY_HASH", "ADMIN_SESSION_SECRET", "ADMIN_SESSION_TTL_MINUTES",
		"COUPON_PREFIX", "COUPON_CODE_MAX_ATTEMPTS", "RESEND_COUPON_ON_REAPPROVE", "EMAIL_RETRY_CRON",
		"MIN_IMAGES", "MAX_IMAGES", "MAX_IMAGE_BYTES", "MODERATION_MAX_RETRIES",
		"SUBMIT_RATE_LIMIT_PER_MINUTE", "COUPON_STATUS_RATE_LIMIT_PER_MINUTE", "REDIS_RATE_LIMIT_PREFIX",
		"CLOUDINARY_CLOUD_NAME", "CLOUDINARY_API_KEY", "CLOUDINARY_API_SECRET",
		"CLOUDINARY_FOLDER", "CLOUDINARY_MAX_WIDTH",
		"BREVO_KEY", "BREVO_SENDER_EMAIL", "BREVO_SENDER_NAME", "BRAND_NAME",
	} {
		_ = viper.BindEnv(key)
	}

	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
		err = nil
	}

	if err = viper.Unmarshal(&config); err != nil {
		return
	}

	if port := strings.TrimSpace(viper.GetString("PORT")); port != "" {
		config.ServerPort = port
	}
	if strings.TrimSpace(config.AdminSessionSecret) == "" {
		config.AdminSessionSecret = config.TokenSecret
	}
	if config.TokenTTLHours <= 0 {
		config.TokenTTLHours = 336
	}
	if config.AdminSessionTTLMinutes <= 0 {
		config.AdminSessionTTLMinutes = 60
	}
	if config.MinImages < 0 {
		config.MinImages = 0
	}
	if config.MaxImages < config.MinImages {
		log.Printf("level=warn component=config msg=\"MAX_IMAGES below MIN_IMAGES; coercing\" min=%d max=%d", config.MinImages, config.MaxImages)
		config.MaxImages = config.MinImages
	}

	return
}

// Validate checks the settings the service cannot run without.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return errors.New("DATABASE_URL must be configured")
	}
	if strings.TrimSpace(c.TokenSecret) == "" {
		return errors.New("TOKEN_SECRET must be configured")
	}
	if strings.TrimSpace(c.AdminKey) == "" && strings.TrimSpace(c.AdminKeyHash) == "" {
		return errors.New("ADMIN_KEY or ADMIN_KEY_HASH must be configured")
	}
	return nil
}
