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

package kvstore

// Server-side scripts. Each one is a single atomic step; the exact return
// strings are contractual (see Store).

// KEYS[1] reservation key
// ARGV: id, user_id, chat_id, amount, status, metadata, created_at, ttl_seconds
const reservationCreateScript = `
if redis.call("EXISTS", KEYS[1]) == 1 then
	return 0
end
redis.call("HSET", KEYS[1],
	"id", ARGV[1],
	"user_id", ARGV[2],
	"chat_id", ARGV[3],
	"amount", ARGV[4],
	"status", ARGV[5],
	"metadata", ARGV[6],
	"created_at", ARGV[7])
if tonumber(ARGV[8]) > 0 then
	redis.call("EXPIRE", KEYS[1], ARGV[8])
end
return 1
`

// KEYS[1] reservation key
const reservationCommitScript = `
local status = redis.call("HGET", KEYS[1], "status")
if not status then
	return "missing"
end
if status == "pending" then
	redis.call("HSET", KEYS[1], "status", "committed")
	return "ok"
end
if status == "committed" then
	return "committed"
end
return status
`

// KEYS[1] reservation key
// ARGV: allow_committed ("1"/"0"), reason
const reservationRollbackScript = `
local status = redis.call("HGET", KEYS[1], "status")
if not status then
	return "missing"
end
if status == "pending" then
	redis.call("HSET", KEYS[1], "status", "rolled_back", "reason", ARGV[2])
	return "rolled_back"
end
if status == "rolled_back" then
	return "rolled_back"
end
if status == "committed" then
	if ARGV[1] == "1" then
		redis.call("HSET", KEYS[1], "status", "rolled_back", "reason", ARGV[2])
		return "compensated"
	end
	return "committed"
end
return status
`

// KEYS[1] game state key
// ARGV: expected_version, state_json, ttl_seconds
const gameStateSaveScript = `
local cur = redis.call("HGET", KEYS[1], "version")
if not cur then
	cur = "0"
end
if cur ~= ARGV[1] then
	return 0
end
redis.call("HSET", KEYS[1],
	"state", ARGV[2],
	"version", tostring(tonumber(ARGV[1]) + 1))
if tonumber(ARGV[3]) > 0 then
	redis.call("EXPIRE", KEYS[1], ARGV[3])
end
return 1
`

// KEYS[1] action token key
// ARGV: token
const compareAndDeleteScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`
