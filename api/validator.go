package api

import (
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"
)

// requestValidator подключает go-playground/validator к echo.
type requestValidator struct {
	validator *validator.Validate
}

func newRequestValidator() *requestValidator {
	return &requestValidator{validator: validator.New(validator.WithRequiredStructEnabled())}
}

func (v *requestValidator) Validate(i any) error {
	return v.validator.Struct(i)
}

type eventRequest struct {
	Type      string          `json:"event_type" validate:"required"`
	User      string          `json:"user"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

type filterRequest struct {
	UserID string `json:"user_id"`
	Text   string `json:"text" validate:"required"`
	Tier   string `json:"tier"`
}

type blockRequest struct {
	UserID string `json:"user_id" validate:"required"`
	Name   string `json:"name"`
	Reason string `json:"reason" validate:"max=200"`
}

type strictnessRequest struct {
	Level string `json:"level" validate:"required,oneof=strict moderate relaxed none"`
}
