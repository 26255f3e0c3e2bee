package world

import "errors"

var (
	ErrCharacterNotFound = errors.New("character not found")
	ErrNoActiveShip      = errors.New("no active ship")
	ErrLocationNotFound  = errors.New("location not found")
	ErrCorridorNotFound  = errors.New("corridor not found")
	ErrNPCNotFound       = errors.New("npc not found")
	ErrInsufficientFunds = errors.New("insufficient credits")
	ErrInsufficientFuel  = errors.New("insufficient fuel")
)
