package domain

import "errors"

var (
	ErrDuplicateLink    = errors.New("peer link already exists for remote user")
	ErrMediaAcquisition = errors.New("failed to acquire local media")
	ErrEngineNotReady   = errors.New("session engine not created")

	ErrRoomNotFound    = errors.New("room not found")
	ErrRoomFull        = errors.New("room is full")
	ErrDuplicateRoomID = errors.New("room id already exists")
	ErrAlreadyInRoom   = errors.New("user already in room")

	ErrUserNotFound  = errors.New("user not found")
	ErrOfferNotFound = errors.New("offer not found")
	ErrUnauthorized  = errors.New("unauthorized")
)
