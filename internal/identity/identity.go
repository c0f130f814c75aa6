// Package identity derives the canonical conversation identity for an
// unordered pair of users, so that lookups and creation are independent of
// argument order.
package identity

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrSelfConversation = errors.New("identity: sender and receiver are the same user")
	ErrInvalidUser      = errors.New("identity: invalid user id")
	ErrUnknownUser      = errors.New("identity: user not found in directory")
)

// Pair is a canonicalized participant pair: User1 < User2 always holds.
type Pair struct {
	User1 int64
	User2 int64
}

// NewPair canonicalizes the two ids by assigning the smaller one to User1.
func NewPair(a, b int64) (Pair, error) {
	if a <= 0 || b <= 0 {
		return Pair{}, ErrInvalidUser
	}
	if a == b {
		return Pair{}, ErrSelfConversation
	}
	if a > b {
		a, b = b, a
	}
	return Pair{User1: a, User2: b}, nil
}

// Directory is the external user directory consulted to validate ids.
type Directory interface {
	Exists(ctx context.Context, userID int64) (bool, error)
}

// Resolver validates participant pairs. A nil directory limits validation
// to the structural checks in NewPair.
type Resolver struct {
	dir Directory
}

func NewResolver(dir Directory) *Resolver {
	return &Resolver{dir: dir}
}

// Resolve returns the canonical pair for (a, b), checking both ids against
// the directory when one is configured.
func (r *Resolver) Resolve(ctx context.Context, a, b int64) (Pair, error) {
	pair, err := NewPair(a, b)
	if err != nil {
		return Pair{}, err
	}
	if r.dir == nil {
		return pair, nil
	}
	for _, id := range []int64{pair.User1, pair.User2} {
		ok, err := r.dir.Exists(ctx, id)
		if err != nil {
			return Pair{}, fmt.Errorf("identity: directory lookup for user %d: %w", id, err)
		}
		if !ok {
			return Pair{}, fmt.Errorf("%w: %d", ErrUnknownUser, id)
		}
	}
	return pair, nil
}
