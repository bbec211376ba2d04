package battle

import (
	"time"

	"github.com/sprangg/Zero-K-Infrastructure/internal/services/lobby/domain"
)

// Message is anything the battle sends to clients. MessageType names the
// frame on the wire.
type Message interface {
	MessageType() string
}

// SayPlace is the channel a chat line belongs to.
type SayPlace string

const (
	PlaceBattle        SayPlace = "battle"
	PlaceBattlePrivate SayPlace = "battle_private"
	PlaceUser          SayPlace = "user"
)

// Say is a chat line.
type Say struct {
	User       string   `json:"user"`
	Text       string   `json:"text"`
	Place      SayPlace `json:"place"`
	Target     string   `json:"target,omitempty"`
	IsEmote    bool     `json:"is_emote,omitempty"`
	Ring       bool     `json:"ring,omitempty"`
	AllowRelay bool     `json:"-"`
}

func (Say) MessageType() string { return "say" }

// MemberStatus is one member's battle status.
type MemberStatus struct {
	BattleID    int    `json:"battle_id"`
	Name        string `json:"name"`
	IsSpectator bool   `json:"is_spectator"`
	AllyNumber  int    `json:"ally_number"`
}

func (MemberStatus) MessageType() string { return "update_user_battle_status" }

// BotStatus is one bot's battle status.
type BotStatus struct {
	BattleID   int    `json:"battle_id"`
	Name       string `json:"name"`
	Owner      string `json:"owner"`
	AI         string `json:"ai"`
	AllyNumber int    `json:"ally_number"`
}

func (BotStatus) MessageType() string { return "update_bot_status" }

// RemoveBot tells members a bot was removed.
type RemoveBot struct {
	BattleID int    `json:"battle_id"`
	Name     string `json:"name"`
}

func (RemoveBot) MessageType() string { return "remove_bot" }

// JoinSuccess is sent to a user who joined.
type JoinSuccess struct {
	BattleID int               `json:"battle_id"`
	Members  []MemberStatus    `json:"members"`
	Bots     []BotStatus       `json:"bots"`
	Options  map[string]string `json:"options,omitempty"`
}

func (JoinSuccess) MessageType() string { return "join_battle_success" }

// LeftBattle tells members someone left.
type LeftBattle struct {
	BattleID int    `json:"battle_id"`
	User     string `json:"user"`
}

func (LeftBattle) MessageType() string { return "left_battle" }

// HeaderUpdate carries changed header fields; nil fields are unchanged.
// The password itself is never sent.
type HeaderUpdate struct {
	ID             int          `json:"battle_id"`
	Founder        *string      `json:"founder,omitempty"`
	Title          *string      `json:"title,omitempty"`
	Map            *string      `json:"map,omitempty"`
	Game           *string      `json:"game,omitempty"`
	Engine         *string      `json:"engine,omitempty"`
	Mode           *string      `json:"mode,omitempty"`
	IsMatchMaker   *bool        `json:"is_matchmaker,omitempty"`
	IsPassworded   *bool        `json:"is_passworded,omitempty"`
	MaxPlayers     *int         `json:"max_players,omitempty"`
	SpectatorCount *int         `json:"spectator_count,omitempty"`
	PlayerCount    *int         `json:"player_count,omitempty"`
	IsRunning      *bool        `json:"is_running,omitempty"`
	IsAutohost     *bool        `json:"is_autohost,omitempty"`
	RunningSince   *time.Time   `json:"running_since,omitempty"`
}

// BattleUpdate broadcasts header changes.
type BattleUpdate struct {
	Header HeaderUpdate `json:"header"`
}

func (BattleUpdate) MessageType() string { return "battle_update" }

// BattleAdded announces a new battle.
type BattleAdded struct {
	Header HeaderUpdate `json:"header"`
}

func (BattleAdded) MessageType() string { return "battle_added" }

// BattleRemoved announces a closed battle.
type BattleRemoved struct {
	BattleID int `json:"battle_id"`
}

func (BattleRemoved) MessageType() string { return "battle_removed" }

// ConnectSpring gives a member what they need to connect to the engine.
type ConnectSpring struct {
	BattleID       int    `json:"battle_id"`
	Engine         string `json:"engine"`
	IP             string `json:"ip"`
	Port           int    `json:"port"`
	Map            string `json:"map"`
	Game           string `json:"game"`
	ScriptPassword string `json:"script_password"`
	Mode           string `json:"mode"`
	Title          string `json:"title"`
}

func (ConnectSpring) MessageType() string { return "connect_spring" }

// SetModOptions publishes the game options of a battle.
type SetModOptions struct {
	BattleID int               `json:"battle_id"`
	Options  map[string]string `json:"options"`
}

func (SetModOptions) MessageType() string { return "set_mod_options" }

// DebriefPlayer is one participant's result.
type DebriefPlayer struct {
	Name        string `json:"name"`
	AllyNumber  int    `json:"ally_number"`
	IsSpectator bool   `json:"is_spectator"`
	Won         bool   `json:"won"`
}

// Debriefing is the immutable summary of one finished game.
type Debriefing struct {
	BattleID     int             `json:"battle_id"`
	ResultID     int64           `json:"result_id,omitempty"`
	Title        string          `json:"title"`
	Map          string          `json:"map"`
	Game         string          `json:"game"`
	Engine       string          `json:"engine"`
	Mode         string          `json:"mode"`
	StartedAt    time.Time       `json:"started_at"`
	EndedAt      time.Time       `json:"ended_at"`
	Crashed      bool            `json:"crashed,omitempty"`
	WinnerAllies []int           `json:"winner_allies,omitempty"`
	Players      []DebriefPlayer `json:"players"`
	Message      string          `json:"message,omitempty"`
}

func (Debriefing) MessageType() string { return "battle_debriefing" }

// FullHeader renders every header field for clients.
func FullHeader(h domain.Header) HeaderUpdate {
	mode := h.Mode.String()
	passworded := h.IsPassworded()
	return HeaderUpdate{
		ID:             h.ID,
		Founder:        ptr(h.Founder),
		Title:          ptr(h.Title),
		Map:            ptr(h.Map),
		Game:           ptr(h.Game),
		Engine:         ptr(h.Engine),
		Mode:           &mode,
		IsMatchMaker:   ptr(h.IsMatchMaker),
		IsPassworded:   &passworded,
		MaxPlayers:     ptr(h.MaxPlayers),
		SpectatorCount: ptr(h.SpectatorCount),
		PlayerCount:    ptr(h.PlayerCount),
		IsRunning:      ptr(h.IsRunning),
		IsAutohost:     ptr(h.IsAutohost),
		RunningSince:   h.RunningSince,
	}
}

func ptr[T any](v T) *T { return &v }

func memberStatus(battleID int, m *domain.Member) MemberStatus {
	return MemberStatus{
		BattleID:    battleID,
		Name:        m.Name,
		IsSpectator: m.IsSpectator,
		AllyNumber:  m.AllyNumber,
	}
}

func botStatus(battleID int, b *domain.Bot) BotStatus {
	return BotStatus{
		BattleID:   battleID,
		Name:       b.Name,
		Owner:      b.Owner,
		AI:         b.AI,
		AllyNumber: b.AllyNumber,
	}
}
