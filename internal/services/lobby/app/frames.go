package server

import (
	"encoding/json"
	"log"

	"github.com/sprangg/Zero-K-Infrastructure/internal/services/lobby/domain/battle"
)

const (
	maxFramePayloadBytes   = 16 * 1024
	maxFramesPerSecond     = 40
	maxDecodeErrorsPerConn = 3
	maxSayRunes            = 2000
)

// wsFrame is the envelope of every message in both directions.
type wsFrame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

type wsErrorEnvelope struct {
	Error wsError `json:"error"`
}

type wsError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ackPayload struct {
	Status   string `json:"status"`
	BattleID int    `json:"battle_id,omitempty"`
}

type loginPayload struct {
	Name        string `json:"name"`
	Elo         int    `json:"elo"`
	MmElo       int    `json:"mm_elo"`
	Level       int    `json:"level"`
	Rank        int    `json:"rank"`
	IsModerator bool   `json:"is_moderator"`
	IsAway      bool   `json:"is_away"`
	IsBot       bool   `json:"is_bot"`
	BanMute     bool   `json:"ban_mute"`
	BanSpecChat bool   `json:"ban_spec_chat"`
}

type openBattlePayload struct {
	Title      string `json:"title"`
	Mode       string `json:"mode"`
	Map        string `json:"map"`
	Game       string `json:"game"`
	Engine     string `json:"engine"`
	Password   string `json:"password"`
	MaxPlayers int    `json:"max_players"`
}

type joinBattlePayload struct {
	BattleID int    `json:"battle_id"`
	Password string `json:"password"`
}

type sayPayload struct {
	Text    string `json:"text"`
	IsEmote bool   `json:"is_emote"`
}

type updateStatusPayload struct {
	IsSpectator bool `json:"is_spectator"`
	AllyNumber  int  `json:"ally_number"`
}

type requestConnectPayload struct {
	BattleID int    `json:"battle_id"`
	Password string `json:"password"`
}

// queueStatus tells a user which matchmaker queues they wait in.
type queueStatus struct {
	Queues []string `json:"queues"`
}

func (queueStatus) MessageType() string { return "matchmaker_status" }

// loginAccepted welcomes a user with the current battle list.
type loginAccepted struct {
	Name    string                `json:"name"`
	Battles []battle.HeaderUpdate `json:"battles"`
}

func (loginAccepted) MessageType() string { return "login_accepted" }

func messageFrame(msg battle.Message) wsFrame {
	return wsFrame{Type: msg.MessageType(), Payload: mustJSON(msg)}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		log.Printf("marshal websocket frame payload: %v", err)
		return nil
	}
	return b
}
