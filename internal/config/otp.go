package config

import "time"

// OTPConfig controls one-time code issuing.  Codes live for TTL, a new code
// for the same identifier can be requested after Cooldown, and a code is
// burned after MaxAttempts wrong guesses.
type OTPConfig struct {
	TTL         time.Duration
	Cooldown    time.Duration
	MaxAttempts int
	Prefix      string
}

// LoadOTPConfig reads OTP_* variables with defaults.
func LoadOTPConfig() OTPConfig {
	cfg := OTPConfig{
		TTL:         envDur("OTP_TTL", 5*time.Minute),
		Cooldown:    envDur("OTP_COOLDOWN", 30*time.Second),
		MaxAttempts: envInt("OTP_MAX_ATTEMPTS", 5),
		Prefix:      envStr("OTP_PREFIX", "otp"),
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return cfg
}
