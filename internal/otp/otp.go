// Package otp issues and verifies six-digit one-time sign-in codes.  Codes
// are bcrypt hashed in Redis and delivered asynchronously through the
// otp.requested queue.
package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/memory-gallery/internal/config"
	q "github.com/iliyamo/memory-gallery/internal/queue"
	"github.com/iliyamo/memory-gallery/internal/repository"
	"github.com/iliyamo/memory-gallery/internal/session"
	"github.com/iliyamo/memory-gallery/internal/utils"
)

// CodeLength is the number of digits in a code.
const CodeLength = 6

var (
	ErrInvalidIdentifier = errors.New("identifier is required")
	ErrCooldown          = errors.New("a code was sent recently; try again shortly")
	ErrInvalidCode       = errors.New("invalid or expired code")
	ErrTooManyAttempts   = errors.New("too many attempts; request a new code")
)

// EventPublisher delivers code events.
type EventPublisher interface {
	PublishOTPRequested(ctx context.Context, ev q.OTPRequestedEvent) error
}

// Service issues and checks codes.
type Service struct {
	rdb  *redis.Client
	cfg  config.OTPConfig
	pub  EventPublisher
	log  *zap.Logger
	cost int

	now      func() time.Time
	generate func() (string, error)
	compare  func(hash, code string) bool
}

// NewService wires a code service.  cost is the bcrypt cost for stored
// hashes.
func NewService(rdb *redis.Client, cfg config.OTPConfig, pub EventPublisher, cost int, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		rdb:      rdb,
		cfg:      cfg,
		pub:      pub,
		log:      log,
		cost:     cost,
		now:      time.Now,
		generate: generateCode,
		compare:  utils.VerifySecret,
	}
}

func (s *Service) key(kind, identifier string) string {
	return s.cfg.Prefix + ":" + kind + ":" + identifier
}

// Dispatch issues a fresh code for identifier and publishes it for
// delivery.  A new code replaces any outstanding one and resets the attempt
// counter.  Requests within the cooldown fail with ErrCooldown.
func (s *Service) Dispatch(ctx context.Context, identifier string) error {
	id := repository.NormalizeIdentifier(identifier)
	if id == "" {
		return ErrInvalidIdentifier
	}

	if s.cfg.Cooldown > 0 {
		ok, err := s.rdb.SetNX(ctx, s.key("cooldown", id), 1, s.cfg.Cooldown).Result()
		if err != nil {
			return fmt.Errorf("cooldown check: %w", err)
		}
		if !ok {
			return ErrCooldown
		}
	}

	code, err := s.generate()
	if err != nil {
		s.release(ctx, id)
		return fmt.Errorf("generate code: %w", err)
	}
	hash, err := utils.HashSecret(code, s.cost)
	if err != nil {
		s.release(ctx, id)
		return fmt.Errorf("hash code: %w", err)
	}

	if _, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, s.key("code", id), hash, s.cfg.TTL)
		p.Del(ctx, s.key("attempts", id))
		return nil
	}); err != nil {
		s.release(ctx, id)
		return fmt.Errorf("store code: %w", err)
	}

	channel := "phone"
	if session.IsEmail(id) {
		channel = "email"
	}
	ev := q.NewOTPRequested(id, channel, code, s.now(), s.cfg.TTL)
	if err := s.pub.PublishOTPRequested(ctx, ev); err != nil {
		// An undeliverable code must not linger or block a retry.
		s.rdb.Del(ctx, s.key("code", id))
		s.release(ctx, id)
		return fmt.Errorf("deliver code: %w", err)
	}
	s.log.Info("one-time code issued", zap.String("channel", channel), zap.String("event_id", ev.EventID))
	return nil
}

// release lifts the cooldown after a dispatch that did not deliver.
func (s *Service) release(ctx context.Context, id string) {
	if err := s.rdb.Del(ctx, s.key("cooldown", id)).Err(); err != nil {
		s.log.Warn("release cooldown failed", zap.Error(err))
	}
}

// reserveScript counts one attempt against the stored code and returns
// {attempt, hash}.  {0, ""} means no code is stored; {-1, ""} means the
// attempt limit was already spent, in which case the code is burned.
var reserveScript = redis.NewScript(`
local hash = redis.call('GET', KEYS[1])
if not hash then
  return {0, ''}
end
local n = redis.call('INCR', KEYS[2])
if n == 1 then
  local ttl = redis.call('PTTL', KEYS[1])
  if ttl > 0 then
    redis.call('PEXPIRE', KEYS[2], ttl)
  end
end
if n > tonumber(ARGV[1]) then
  redis.call('DEL', KEYS[1], KEYS[2])
  return {-1, ''}
end
return {n, hash}
`)

// consumeScript deletes the code only if it is still the hash that was
// checked, so one code signs in once.
var consumeScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  redis.call('DEL', KEYS[1], KEYS[2])
  return 1
end
return 0
`)

// Verify checks code for identifier.  The attempt is counted before the
// code is compared, so concurrent guesses never exceed MaxAttempts
// comparisons; the attempt that reaches the limit burns the code.  A
// correct code is consumed atomically.
func (s *Service) Verify(ctx context.Context, identifier, code string) error {
	id := repository.NormalizeIdentifier(identifier)
	if id == "" {
		return ErrInvalidIdentifier
	}
	code = strings.TrimSpace(code)
	if !wellFormed(code) {
		return ErrInvalidCode
	}
	keys := []string{s.key("code", id), s.key("attempts", id)}

	res, err := reserveScript.Run(ctx, s.rdb, keys, s.cfg.MaxAttempts).Slice()
	if err != nil {
		return fmt.Errorf("reserve attempt: %w", err)
	}
	n, hash, err := reservation(res)
	if err != nil {
		return err
	}
	switch {
	case n == 0:
		return ErrInvalidCode
	case n < 0:
		return ErrTooManyAttempts
	}

	if !s.compare(hash, code) {
		if int(n) >= s.cfg.MaxAttempts {
			s.rdb.Del(ctx, keys...)
			return ErrTooManyAttempts
		}
		return ErrInvalidCode
	}

	won, err := consumeScript.Run(ctx, s.rdb, keys, hash).Int64()
	if err != nil {
		return fmt.Errorf("consume code: %w", err)
	}
	if won != 1 {
		// Spent by a concurrent verify or replaced by a new dispatch.
		return ErrInvalidCode
	}
	return nil
}

func reservation(res []interface{}) (int64, string, error) {
	if len(res) != 2 {
		return 0, "", fmt.Errorf("reserve attempt: unexpected reply %v", res)
	}
	n, ok := res[0].(int64)
	if !ok {
		return 0, "", fmt.Errorf("reserve attempt: unexpected count %T", res[0])
	}
	hash, _ := res[1].(string)
	return n, hash, nil
}

func wellFormed(code string) bool {
	if len(code) != CodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}

// generateCode returns a uniformly random zero-padded code.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
