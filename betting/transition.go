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

package betting

import (
	"fmt"

	"github.com/feltlabs/go-felt/gamestate"
)

// Action is a betting move.
type Action string

const (
	ActionFold  Action = "fold"
	ActionCheck Action = "check"
	ActionCall  Action = "call"
	ActionRaise Action = "raise"
	ActionAllIn Action = "all_in"
)

// toCall is how much the player still owes to match the table bet.
func toCall(st *gamestate.State, p *gamestate.Player) int64 {
	if d := st.CurrentBet - p.CurrentBet; d > 0 {
		return d
	}
	return 0
}

// requiredAmount computes the chips the action moves into the pot, or a
// rejection message. The amount pointer is only consulted for raises.
func requiredAmount(st *gamestate.State, p *gamestate.Player, action Action, amount *int64) (int64, string) {
	switch action {
	case ActionFold:
		return 0, ""
	case ActionCheck:
		if toCall(st, p) > 0 {
			return 0, "Cannot check - there is a bet to call"
		}
		return 0, ""
	case ActionCall:
		return toCall(st, p), ""
	case ActionRaise:
		if amount == nil {
			return 0, "Raise requires an amount"
		}
		if *amount <= st.CurrentBet {
			return 0, "Raise must exceed the current bet"
		}
		return *amount - p.CurrentBet, ""
	case ActionAllIn:
		return p.Chips, ""
	default:
		return 0, fmt.Sprintf("Unknown action: %s", action)
	}
}

// Apply produces the successor state for a validated action. It never
// mutates its input; the orchestrator saves the returned snapshot with CAS.
func Apply(st *gamestate.State, userID int64, action Action, required int64) (*gamestate.State, error) {
	next, err := st.Clone()
	if err != nil {
		return nil, err
	}
	p := next.Player(userID)
	if p == nil {
		return nil, fmt.Errorf("betting: user %d not seated", userID)
	}

	switch action {
	case ActionFold:
		p.Folded = true
	case ActionCheck:
		// Nothing moves.
	case ActionCall, ActionRaise, ActionAllIn:
		if required > p.Chips {
			return nil, fmt.Errorf("betting: user %d short %d chips", userID, required-p.Chips)
		}
		p.Chips -= required
		p.CurrentBet += required
		next.Pot += required
		if p.CurrentBet > next.CurrentBet {
			next.CurrentBet = p.CurrentBet
		}
	default:
		return nil, fmt.Errorf("betting: unknown action %q", action)
	}

	advanceTurn(next, userID)
	return next, nil
}

// advanceTurn hands the turn to the next seated player who can still act.
// With nobody left the turn marker is cleared; stage transitions belong to
// the game engine above this package.
func advanceTurn(st *gamestate.State, from int64) {
	idx := -1
	for i := range st.Players {
		if st.Players[i].UserID == from {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	n := len(st.Players)
	for off := 1; off <= n; off++ {
		cand := &st.Players[(idx+off)%n]
		if cand.UserID == from {
			continue
		}
		if !cand.Folded && cand.Chips > 0 {
			id := cand.UserID
			st.CurrentPlayerID = &id
			return
		}
	}
	st.CurrentPlayerID = nil
}
