package types

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/DoyleJ11/taleforge-client/pkg/errs"
)

const (
	RoomCodeLen         = 6
	MaxPlayerName       = 30
	MaxContent          = 500
	MaxTitle            = 100
	MaxDescription      = 500
	MaxCharacterName    = 50
	MinDurationSeconds  = 5 * 60
	MaxDurationSeconds  = 60 * 60
	MinPlayersToAdvance = 2
)

// NormalizeRoomCode trims and upper-cases user input.
func NormalizeRoomCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func ValidateRoomCode(code string) error {
	if len(code) != RoomCodeLen {
		return fmt.Errorf("%w: room code must be %d characters", errs.ErrInvalidInput, RoomCodeLen)
	}
	for _, c := range code {
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return fmt.Errorf("%w: room code must be uppercase letters and digits", errs.ErrInvalidInput)
		}
	}
	return nil
}

func ValidatePlayerName(name string) error {
	return checkLen("player name", strings.TrimSpace(name), 1, MaxPlayerName)
}

func ValidateContent(content string) error {
	return checkLen("message", strings.TrimSpace(content), 1, MaxContent)
}

func ValidateTitle(title, description string) error {
	if err := checkLen("title", strings.TrimSpace(title), 1, MaxTitle); err != nil {
		return err
	}
	return checkLen("description", description, 0, MaxDescription)
}

func ValidateCharacterName(name string) error {
	return checkLen("character name", strings.TrimSpace(name), 1, MaxCharacterName)
}

func ValidateDuration(seconds int) error {
	if seconds < MinDurationSeconds || seconds > MaxDurationSeconds {
		return fmt.Errorf("%w: duration must be between %d and %d minutes",
			errs.ErrInvalidInput, MinDurationSeconds/60, MaxDurationSeconds/60)
	}
	return nil
}

func (r CreateRoomRequest) Validate() error {
	if err := ValidatePlayerName(r.PlayerName); err != nil {
		return err
	}
	if !r.Genre.Valid() {
		return fmt.Errorf("%w: unknown genre %q", errs.ErrInvalidInput, r.Genre)
	}
	if err := ValidateDuration(r.Duration); err != nil {
		return err
	}
	if r.Title != "" {
		return ValidateTitle(r.Title, r.Description)
	}
	return nil
}

func checkLen(field, v string, lo, hi int) error {
	n := utf8.RuneCountInString(v)
	if n < lo {
		return fmt.Errorf("%w: %s is required", errs.ErrInvalidInput, field)
	}
	if n > hi {
		return fmt.Errorf("%w: %s exceeds %d characters", errs.ErrInvalidInput, field, hi)
	}
	return nil
}
