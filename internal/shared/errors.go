package shared

import (
	"errors"
	"fmt"

	"github.com/odyssey-erp/pettycash/internal/platform/httpx"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = fmt.Errorf("invalid credentials: %w", httpx.ErrUnauthorized)
	// ErrUnauthenticated indicates the request carries no signed-in user.
	ErrUnauthenticated = fmt.Errorf("authentication required: %w", httpx.ErrUnauthorized)
)
