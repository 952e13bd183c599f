// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package auth mints the HS256 bearer tokens the http remote sends with every
// request.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Issuer is the iss claim of every minted token.
const Issuer = "offsync"

// Claims identify one user on one device.
type Claims struct {
	DeviceID string `json:"did"`
	jwt.RegisteredClaims
}

// Source hands out tokens for one user on one device. A token is reused until
// less than a tenth of its lifetime is left. Safe for concurrent use.
type Source struct {
	secret   []byte
	userID   string
	deviceID string
	lifetime time.Duration
	now      func() time.Time

	mu      sync.Mutex
	token   string
	renewAt time.Time
}

// NewSource creates a token source. A lifetime <= 0 means one hour.
func NewSource(secret, userID, deviceID string, lifetime time.Duration) (*Source, error) {
	if secret == "" {
		return nil, errors.New("secret cannot be empty")
	}
	if userID == "" || deviceID == "" {
		return nil, fmt.Errorf("user id and device id are required (user=%q device=%q)", userID, deviceID)
	}
	if lifetime <= 0 {
		lifetime = time.Hour
	}
	return &Source{
		secret:   []byte(secret),
		userID:   userID,
		deviceID: deviceID,
		lifetime: lifetime,
		now:      time.Now,
	}, nil
}

// Token returns the current token, minting a new one when it is due.
func (s *Source) Token(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.token != "" && now.Before(s.renewAt) {
		return s.token, nil
	}
	token, err := s.mint(now)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	s.token = token
	s.renewAt = now.Add(s.lifetime - s.lifetime/10)
	return token, nil
}

func (s *Source) mint(now time.Time) (string, error) {
	claims := &Claims{
		DeviceID: s.deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.lifetime)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    Issuer,
			Subject:   s.userID,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}
