// Package services defines the business logic of the relay bot: the
// download queue and its single worker, the user registry, and the admin
// broadcast fan-out. This file centralizes service-level error values so
// callers can branch on them with errors.Is.
//
// Translation into chat replies or HTTP status codes happens in the
// transport layers (internal/telegram, internal/http).
package services

import "errors"

// Pipeline errors.
var (
	// ErrQueueFull is returned by Queue.Put when a bounded queue is at
	// capacity.
	ErrQueueFull = errors.New("download queue is full")

	// ErrInvalidLink is returned when a submitted URL is not a supported
	// Instagram post, reel, or TV link.
	ErrInvalidLink = errors.New("invalid instagram link")
)

// Broadcast errors.
var (
	// ErrUnauthorized is returned when a non-admin identity attempts an
	// admin operation. No side effects happen before it is returned.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrEmptyMessage is returned when a broadcast has no body.
	ErrEmptyMessage = errors.New("broadcast message is empty")

	// ErrRecipientBlocked marks a delivery that failed permanently because
	// the recipient blocked the bot (or deactivated their account).
	// Transports wrap their own error with it so services can classify
	// without importing the transport.
	ErrRecipientBlocked = errors.New("recipient blocked the bot")
)
