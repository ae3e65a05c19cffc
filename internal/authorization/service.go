package authorization

import (
	"context"
	"errors"
)

type Service interface {
	Authorize(ctx context.Context, actor string, object string, action string) error
	GrantRole(ctx context.Context, actor string, role string) error
}

var (
	ErrForbidden     = errors.New("forbidden")
	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
	ErrInvalidRole   = errors.New("invalid_role")
)
