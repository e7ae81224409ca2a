// Package ident mints the opaque identifiers used across the exchange:
// numeric user IDs, hex pool IDs, and millisecond-timestamp order/trade IDs.
// Collision handling is the caller's concern only insofar as it supplies an
// existence check; generation retries a bounded number of times.
package ident

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"
)

// maxRetries bounds collision retries before generation gives up.
const maxRetries = 16

// ErrCollisionExhausted is returned when a unique ID could not be minted
// within the retry budget.
var ErrCollisionExhausted = errors.New("ident: id collision retries exhausted")

// Exists reports whether a candidate ID is already taken.
type Exists func(id string) (bool, error)

// NewUserID returns a random 6-digit numeric user ID, retried on collision.
func NewUserID(taken Exists) (string, error) {
	for i := 0; i < maxRetries; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(900000))
		if err != nil {
			return "", fmt.Errorf("ident: user id entropy: %w", err)
		}
		id := strconv.FormatInt(n.Int64()+100000, 10)
		ok, err := taken(id)
		if err != nil {
			return "", err
		}
		if !ok {
			return id, nil
		}
	}
	return "", ErrCollisionExhausted
}

// NewPoolID returns a pool ID in crypto-address form: 0x + 40 hex characters.
func NewPoolID() (string, error) {
	var buf [20]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("ident: pool id entropy: %w", err)
	}
	return "0x" + hex.EncodeToString(buf[:]), nil
}

// NewTimestampID returns a 13-digit millisecond-timestamp ID used for orders
// and trades. On collision the candidate is incremented by one until unique,
// bounded by the retry budget.
func NewTimestampID(taken Exists) (string, error) {
	ms := time.Now().UnixMilli()
	for i := int64(0); i < maxRetries; i++ {
		id := strconv.FormatInt(ms+i, 10)
		ok, err := taken(id)
		if err != nil {
			return "", err
		}
		if !ok {
			return id, nil
		}
	}
	return "", ErrCollisionExhausted
}
