package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/trailpack/trailpack/internal/apierr"
)

const (
	idempotencyKeyHeader = "Idempotency-Key"
	idempotencyPrefix    = "idempotency:v2:"
	idempotencyOpTimeout = 2 * time.Second
)

// replay is what a completed request leaves behind under its key. A reserved
// key holds a replay with Status 0 until the handler finishes.
type replay struct {
	Fingerprint string `json:"fingerprint"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

// Idempotency replays the stored response for a repeated Idempotency-Key.
// Requests without the header pass through, so a route stays at-least-once
// for clients that do not send one. Keys are scoped to the authenticated user,
// and a key reused with a different request body is rejected. Server errors
// are not stored so the client may retry them.
func Idempotency(cache *redis.Client, ttl time.Duration, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		switch c.Method() {
		case fiber.MethodGet, fiber.MethodHead, fiber.MethodOptions:
			return c.Next()
		}
		key := strings.TrimSpace(c.Get(idempotencyKeyHeader))
		if key == "" || cache == nil {
			return c.Next()
		}

		uid, _ := c.Locals("user_id").(string)
		cacheKey := idempotencyPrefix + uid + ":" + key
		fingerprint := requestFingerprint(c)
		log := logger.With(slog.String("idempotency_key", key), slog.String("user_id", uid))

		ctx, cancel := context.WithTimeout(context.Background(), idempotencyOpTimeout)
		defer cancel()

		reserved, err := reserve(ctx, cache, cacheKey, fingerprint, ttl)
		if err != nil {
			log.Error("idempotency reservation failed", slog.Any("error", err))
			return apierr.New(fiber.StatusServiceUnavailable, "request/idempotency-unavailable", "idempotency store unavailable")
		}
		if !reserved {
			prev, err := load(ctx, cache, cacheKey)
			switch {
			case errors.Is(err, redis.Nil):
				// expired between the two calls; let the client try again
				return apierr.New(fiber.StatusConflict, "request/in-progress", "duplicate request currently processing")
			case err != nil:
				log.Warn("stored idempotent response unreadable", slog.Any("error", err))
				return apierr.New(fiber.StatusConflict, "request/duplicate", "duplicate request")
			case prev.Fingerprint != fingerprint:
				return apierr.New(fiber.StatusUnprocessableEntity, "request/idempotency-key-reused", "idempotency key was used for a different request")
			case prev.Status == 0:
				return apierr.New(fiber.StatusConflict, "request/in-progress", "duplicate request currently processing")
			}
			if prev.ContentType != "" {
				c.Set(fiber.HeaderContentType, prev.ContentType)
			}
			c.Set("Idempotent-Replay", "true")
			return c.Status(prev.Status).Send(prev.Body)
		}

		err = c.Next()
		status := c.Response().StatusCode()
		if err != nil {
			status, _ = apierr.Classify(err)
		}
		if status >= fiber.StatusInternalServerError {
			release(cache, cacheKey, log)
			return err
		}

		done := replay{
			Fingerprint: fingerprint,
			Status:      status,
			ContentType: string(c.Response().Header.ContentType()),
			Body:        append([]byte(nil), c.Response().Body()...),
		}
		if err != nil {
			// the error handler writes the body later; store the envelope it will write
			_, detail := apierr.Classify(err)
			done.ContentType = fiber.MIMEApplicationJSON
			done.Body, _ = json.Marshal(apierr.Body{Error: detail})
		}
		if err := store(cache, cacheKey, done, ttl); err != nil {
			log.Error("failed to persist idempotent response", slog.Any("error", err))
			release(cache, cacheKey, log)
		}
		return err
	}
}

// requestFingerprint identifies the request a key was first used for.
func requestFingerprint(c *fiber.Ctx) string {
	h := sha256.New()
	h.Write([]byte(c.Method()))
	h.Write([]byte{0})
	h.Write([]byte(c.Path()))
	h.Write([]byte{0})
	h.Write(c.Body())
	return hex.EncodeToString(h.Sum(nil))
}

func reserve(ctx context.Context, cache *redis.Client, key, fingerprint string, ttl time.Duration) (bool, error) {
	marker, err := json.Marshal(replay{Fingerprint: fingerprint})
	if err != nil {
		return false, err
	}
	return cache.SetNX(ctx, key, marker, ttl).Result()
}

func load(ctx context.Context, cache *redis.Client, key string) (replay, error) {
	raw, err := cache.Get(ctx, key).Bytes()
	if err != nil {
		return replay{}, err
	}
	var r replay
	if err := json.Unmarshal(raw, &r); err != nil {
		return replay{}, err
	}
	return r, nil
}

func store(cache *redis.Client, key string, r replay, ttl time.Duration) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), idempotencyOpTimeout)
	defer cancel()
	return cache.Set(ctx, key, payload, ttl).Err()
}

func release(cache *redis.Client, key string, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), idempotencyOpTimeout)
	defer cancel()
	if err := cache.Del(ctx, key).Err(); err != nil {
		logger.Warn("failed to release idempotency key", slog.Any("error", err))
	}
}
