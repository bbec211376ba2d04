package domain

import "time"

// Header is the publicly listed description of a battle.
type Header struct {
	ID             int
	Founder        string
	Title          string
	Map            string
	Game           string
	Engine         string
	Mode           Mode
	IsMatchMaker   bool
	Password       string
	MaxPlayers     int
	SpectatorCount int
	PlayerCount    int
	IsRunning      bool
	IsAutohost     bool
	RunningSince   *time.Time
	IP             string
	Port           int

	Bounds Bounds
}

// IsPassworded reports whether joining requires a password.
func (h Header) IsPassworded() bool { return h.Password != "" }

// Bound selects one eligibility limit.
type Bound int

const (
	MinElo Bound = iota + 1
	MaxElo
	MinLevel
	MaxLevel
	MinRank
	MaxRank
)

func (b Bound) String() string {
	switch b {
	case MinElo:
		return "minelo"
	case MaxElo:
		return "maxelo"
	case MinLevel:
		return "minlevel"
	case MaxLevel:
		return "maxlevel"
	case MinRank:
		return "minrank"
	case MaxRank:
		return "maxrank"
	default:
		return "bound"
	}
}

// Bounds are the rating, level and rank limits for playing.
type Bounds struct {
	MinElo   int
	MaxElo   int
	MinLevel int
	MaxLevel int
	MinRank  int
	MaxRank  int
}

// OpenBounds admits everyone.
func OpenBounds() Bounds {
	return Bounds{
		MinElo:   0,
		MaxElo:   maxInt,
		MinLevel: 0,
		MaxLevel: maxInt,
		MinRank:  0,
		MaxRank:  maxInt,
	}
}

const maxInt = int(^uint(0) >> 1)

// With returns a copy with one bound replaced.
func (b Bounds) With(which Bound, value int) Bounds {
	switch which {
	case MinElo:
		b.MinElo = value
	case MaxElo:
		b.MaxElo = value
	case MinLevel:
		b.MinLevel = value
	case MaxLevel:
		b.MaxLevel = value
	case MinRank:
		b.MinRank = value
	case MaxRank:
		b.MaxRank = value
	}
	return b
}
