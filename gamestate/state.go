// Copyright 2025 The go-felt Authors
// This file is part of the go-felt library.
//
// The go-felt library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-felt library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-felt library. If not, see <http://www.gnu.org/licenses/>.

// Package gamestate stores the per-chat game document with optimistic
// versioning. The document is opaque to everything above it except for the
// small betting contract: players, current bet, current player, stage, pot.
// Fields the core does not know about round-trip untouched.
package gamestate

import (
	"encoding/json"
	"fmt"
)

// Player is the per-seat slice of the betting contract.
type Player struct {
	UserID     int64 `json:"user_id"`
	Chips      int64 `json:"chips"`
	CurrentBet int64 `json:"current_bet"`
	Folded     bool  `json:"folded"`
}

// State is the betting-visible surface of the game document. Unknown fields
// are preserved in extra and written back verbatim on save.
type State struct {
	Players         []Player `json:"players"`
	CurrentBet      int64    `json:"current_bet"`
	CurrentPlayerID *int64   `json:"current_player_id,omitempty"`
	Stage           string   `json:"stage"`
	Pot             int64    `json:"pot"`

	extra map[string]json.RawMessage
}

var knownFields = map[string]bool{
	"players": true, "current_bet": true, "current_player_id": true,
	"stage": true, "pot": true,
}

// UnmarshalJSON keeps unrecognized document fields aside.
func (s *State) UnmarshalJSON(data []byte) error {
	type plain State
	if err := json.Unmarshal(data, (*plain)(s)); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for k := range all {
		if knownFields[k] {
			delete(all, k)
		}
	}
	if len(all) > 0 {
		s.extra = all
	}
	return nil
}

// MarshalJSON merges the preserved fields back in.
func (s *State) MarshalJSON() ([]byte, error) {
	type plain State
	b, err := json.Marshal((*plain)(s))
	if err != nil {
		return nil, err
	}
	if len(s.extra) == 0 {
		return b, nil
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(b, &merged); err != nil {
		return nil, err
	}
	for k, v := range s.extra {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// Clone deep-copies the state for staged mutation.
func (s *State) Clone() (*State, error) {
	if s == nil {
		return nil, fmt.Errorf("gamestate: clone of nil state")
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("gamestate: encode clone: %w", err)
	}
	var out State
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("gamestate: decode clone: %w", err)
	}
	return &out, nil
}

// Player returns the seat for userID, or nil.
func (s *State) Player(userID int64) *Player {
	for i := range s.Players {
		if s.Players[i].UserID == userID {
			return &s.Players[i]
		}
	}
	return nil
}
