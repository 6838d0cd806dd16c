package domain

import "errors"

var (
	ErrNotAuthorized        = errors.New("not authorized")
	ErrInvalidState         = errors.New("invalid state")
	ErrOverCapacity         = errors.New("pool is at participant capacity")
	ErrDuplicateParticipant = errors.New("user already has a live participation in this pool")
	ErrPoolNotJoinable      = errors.New("pool is not joinable")
	ErrNotFound             = errors.New("not found")
	ErrExternalCollaborator = errors.New("external collaborator failure")
	ErrInvalidInput         = errors.New("invalid input")
	ErrDuplicateInstruction = errors.New("payment instruction already recorded")
)
