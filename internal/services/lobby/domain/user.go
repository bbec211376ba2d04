package domain

import (
	"crypto/sha256"
	"encoding/hex"
)

// RankNames maps a rank number to its display name.
var RankNames = []string{
	"Cadet",
	"Ensign",
	"Lieutenant",
	"Captain",
	"Commander",
	"Admiral",
	"Legend",
	"Ultimate",
}

// RankName returns the display name of rank, clamped to the known range.
func RankName(rank int) string {
	if rank < 0 {
		rank = 0
	}
	if rank >= len(RankNames) {
		rank = len(RankNames) - 1
	}
	return RankNames[rank]
}

// User is the lobby profile of a connected account.
type User struct {
	Name        string
	Elo         int
	MmElo       int
	Level       int
	Rank        int
	IsModerator bool
	IsAway      bool
	IsBot       bool
	BanMute     bool
	BanSpecChat bool
}

// Member is one user's membership in a battle.
type Member struct {
	Name           string
	IsSpectator    bool
	AllyNumber     int
	ScriptPassword string
	Profile        User
}

// ScriptPassword derives the per-battle join secret for name. The same
// (guid, name) pair always yields the same secret.
func ScriptPassword(guid, name string) string {
	sum := sha256.Sum256([]byte(guid + name))
	return hex.EncodeToString(sum[:16])
}

// Bot is an AI participant owned by a member.
type Bot struct {
	Name       string
	Owner      string
	AI         string
	AllyNumber int
}
