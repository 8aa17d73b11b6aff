package models

import (
	"fmt"
	"slices"
	"strings"

	"athena/core"
)

// ScopeKind is the isolation granularity a command declares for its state mutations.
type ScopeKind string

const (
	ScopeNone      ScopeKind = "none"
	ScopeGuild     ScopeKind = "guild"
	ScopeUser      ScopeKind = "user"
	ScopeGuildUser ScopeKind = "guild+user"
)

// ScopeKeyKind identifies which ids a ScopeKey is built from.
type ScopeKeyKind string

const (
	ScopeKeyGuild  ScopeKeyKind = "guild"
	ScopeKeyMember ScopeKeyKind = "member"
	ScopeKeyUser   ScopeKeyKind = "user"
)

// ScopeKey is a lock-manager key. Its string form orders keys by kind, then id,
// which gives every acquirer the same total order.
type ScopeKey struct {
	Kind    ScopeKeyKind
	GuildID string
	UserID  string
}

func GuildScope(guildID string) ScopeKey {
	return ScopeKey{Kind: ScopeKeyGuild, GuildID: guildID}
}

func UserScope(userID string) ScopeKey {
	return ScopeKey{Kind: ScopeKeyUser, UserID: userID}
}

// MemberScope is the composite (guild, user) key.
func MemberScope(guildID, userID string) ScopeKey {
	return ScopeKey{Kind: ScopeKeyMember, GuildID: guildID, UserID: userID}
}

// ID is the identifier stored alongside the kind when a record is addressed by this key
func (k ScopeKey) ID() string {
	switch k.Kind {
	case ScopeKeyGuild:
		return k.GuildID
	case ScopeKeyUser:
		return k.UserID
	case ScopeKeyMember:
		return k.GuildID + "/" + k.UserID
	default:
		return ""
	}
}

func (k ScopeKey) String() string {
	return string(k.Kind) + "/" + k.ID()
}

// ScopeKeyFromRecord rebuilds a key from the persisted scope kind and id.
func ScopeKeyFromRecord(kind ScopeKeyKind, id string) (ScopeKey, error) {
	switch kind {
	case ScopeKeyGuild:
		return GuildScope(id), nil
	case ScopeKeyUser:
		return UserScope(id), nil
	case ScopeKeyMember:
		guildID, userID, ok := strings.Cut(id, "/")
		if !ok {
			return ScopeKey{}, fmt.Errorf("malformed member scope id %q", id)
		}
		return MemberScope(guildID, userID), nil
	default:
		return ScopeKey{}, fmt.Errorf("unknown scope kind %q", kind)
	}
}

// KeysFor computes the ordered set of scope keys a command of this kind must hold
// for the given event.
func (s ScopeKind) KeysFor(event *InteractionEvent) ([]ScopeKey, error) {
	var keys []ScopeKey

	switch s {
	case ScopeNone, "":
		return nil, nil
	case ScopeGuild:
		if !event.InGuild() {
			return nil, core.ErrGuildRequired
		}
		keys = []ScopeKey{GuildScope(*event.GuildID)}
	case ScopeUser:
		keys = []ScopeKey{UserScope(event.InvokerID)}
	case ScopeGuildUser:
		if !event.InGuild() {
			keys = []ScopeKey{UserScope(event.InvokerID)}
		} else {
			keys = []ScopeKey{GuildScope(*event.GuildID), UserScope(event.InvokerID)}
		}
	default:
		return nil, fmt.Errorf("unsupported scope kind %q", s)
	}

	SortScopeKeys(keys)
	return keys, nil
}

// SortScopeKeys sorts keys into the global acquisition order.
func SortScopeKeys(keys []ScopeKey) {
	slices.SortFunc(keys, func(a, b ScopeKey) int {
		return strings.Compare(a.String(), b.String())
	})
}

// ScopeSetCovers reports whether the held keys allow mutating a record at target.
func ScopeSetCovers(held []ScopeKey, target ScopeKey) bool {
	if slices.Contains(held, target) {
		return true
	}
	if target.Kind == ScopeKeyMember {
		return slices.Contains(held, GuildScope(target.GuildID)) &&
			slices.Contains(held, UserScope(target.UserID))
	}
	return false
}
