package handlers

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/paybyt/escrowd/internal/apperr"
	"github.com/paybyt/escrowd/internal/http/dto"
	"github.com/paybyt/escrowd/internal/locks"
	"github.com/paybyt/escrowd/internal/middleware"
	"go.uber.org/zap"
)

// errorStatus maps the engine's error taxonomy onto HTTP.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return fiber.StatusNotFound
	case apperr.IsFatal(err):
		return fiber.StatusInternalServerError
	case errors.Is(err, apperr.ErrAlreadyFinalized),
		errors.Is(err, apperr.ErrInvalidTransition),
		errors.Is(err, apperr.ErrConflict),
		errors.Is(err, apperr.ErrEscrowHalted),
		errors.Is(err, apperr.ErrNoFundsAvailable),
		errors.Is(err, apperr.ErrInsufficientFunds):
		return fiber.StatusConflict
	case apperr.IsValidation(err):
		return fiber.StatusBadRequest
	case apperr.IsRetryable(err),
		errors.Is(err, locks.ErrLockTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

func writeError(c *fiber.Ctx, log *zap.Logger, err error) error {
	status := errorStatus(err)
	resp := dto.ErrorResponse{
		Error:     err.Error(),
		RequestID: middleware.GetRequestID(c),
		Halted:    apperr.IsFatal(err),
	}
	if status >= fiber.StatusInternalServerError {
		log.Error("request failed",
			zap.String("request_id", resp.RequestID),
			zap.String("path", c.Path()),
			zap.Bool("halted", resp.Halted),
			zap.Error(err),
		)
		if status == fiber.StatusInternalServerError && !resp.Halted {
			resp.Error = "internal error"
		}
	}
	return c.Status(status).JSON(resp)
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: msg, RequestID: middleware.GetRequestID(c)})
}

func forbidden(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Error: msg, RequestID: middleware.GetRequestID(c)})
}

func parseID(c *fiber.Ctx) (uuid.UUID, error) {
	return uuid.Parse(c.Params("id"))
}

func queryInt(c *fiber.Ctx, key string, def int) int {
	if v := c.Query(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func queryInt64(c *fiber.Ctx, key string) (*int64, error) {
	v := c.Query(key)
	if v == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// queryTime parses an RFC 3339 query parameter; absent means nil.
func queryTime(c *fiber.Ctx, key string) (*time.Time, error) {
	v := c.Query(key)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
