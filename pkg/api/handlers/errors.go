package handlers

import "github.com/gofiber/fiber/v3"

// ErrInvalidBody is returned when the request body cannot be decoded
var ErrInvalidBody = fiber.NewError(fiber.StatusBadRequest, "invalid request body")

// ErrUnknownBackend is returned when the backend query parameter names no backend
var ErrUnknownBackend = fiber.NewError(fiber.StatusBadRequest, "unknown backend, expected memory, sql or partitioned")
