package domain

import "fmt"

// Powerup is one of the per-player consumables.
type Powerup string

const (
	PowerupFiftyFifty   Powerup = "fiftyFifty"
	PowerupFreezeTime   Powerup = "freezeTime"
	PowerupDoublePoints Powerup = "doublePoints"
)

// ParsePowerup maps a wire value to a Powerup.
func ParsePowerup(raw string) (Powerup, error) {
	switch p := Powerup(raw); p {
	case PowerupFiftyFifty, PowerupFreezeTime, PowerupDoublePoints:
		return p, nil
	}
	return "", &ValidationError{Field: "powerup", Reason: fmt.Sprintf("unknown powerup %q", raw)}
}

// Powerups holds remaining counts per type.
type Powerups struct {
	FiftyFifty   int `json:"fiftyFifty"`
	FreezeTime   int `json:"freezeTime"`
	DoublePoints int `json:"doublePoints"`
}

// StartingPowerups is the allocation every player receives on join.
func StartingPowerups() Powerups {
	return Powerups{FiftyFifty: 1, FreezeTime: 1, DoublePoints: 1}
}

// Count returns the remaining uses of p.
func (ps Powerups) Count(p Powerup) int {
	switch p {
	case PowerupFiftyFifty:
		return ps.FiftyFifty
	case PowerupFreezeTime:
		return ps.FreezeTime
	case PowerupDoublePoints:
		return ps.DoublePoints
	}
	return 0
}

// Consume decrements p. It reports false when none are left.
func (ps *Powerups) Consume(p Powerup) bool {
	var slot *int
	switch p {
	case PowerupFiftyFifty:
		slot = &ps.FiftyFifty
	case PowerupFreezeTime:
		slot = &ps.FreezeTime
	case PowerupDoublePoints:
		slot = &ps.DoublePoints
	default:
		return false
	}
	if *slot <= 0 {
		return false
	}
	*slot--
	return true
}

// Gesture is an animated interaction sent between players.
type Gesture string

const (
	GestureEgg   Gesture = "egg"
	GestureShoe  Gesture = "shoe"
	GestureHeart Gesture = "heart"
)

func ParseGesture(raw string) (Gesture, error) {
	switch g := Gesture(raw); g {
	case GestureEgg, GestureShoe, GestureHeart:
		return g, nil
	}
	return "", &ValidationError{Field: "interaction", Reason: fmt.Sprintf("unknown interaction %q", raw)}
}

// Emojis is the fixed reaction palette.
var Emojis = []string{"👍", "😂", "🔥", "🤯", "👋", "🙏"}

func ValidEmoji(e string) bool {
	for _, known := range Emojis {
		if known == e {
			return true
		}
	}
	return false
}
