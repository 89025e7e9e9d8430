package model

import (
	"errors"
)

var (
	ErrAlreadyExists = errors.New("object already exists")
	ErrNotFound      = errors.New("not found")

	ErrServerFull       = errors.New("server is not accepting new pledges")
	ErrServerInactive   = errors.New("server is paused")
	ErrPledgeExists     = errors.New("payer already pledged to this server")
	ErrPaymentSuspended = errors.New("payer account is payment suspended")
	ErrBelowMinimum     = errors.New("pledge amount is below the server minimum")
)
