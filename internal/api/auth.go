// Copyright (c) Fan Club Authors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package api

import (
	"crypto/ed25519"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// TokenVerifier checks bearer tokens signed with an ed25519 key, the same
// scheme the teacher's auth package uses for its JWT authenticator.
type TokenVerifier struct {
	publicKey ed25519.PublicKey
}

// NewTokenVerifier builds a verifier for a raw ed25519 public key.
func NewTokenVerifier(publicKey ed25519.PublicKey) *TokenVerifier {
	return &TokenVerifier{publicKey: publicKey}
}

var errMissingToken = errors.New("api: missing bearer token")

// Verify parses and validates rawHeader (the Authorization header value).
func (v *TokenVerifier) Verify(rawHeader string) (jwt.MapClaims, error) {
	if !strings.HasPrefix(rawHeader, "Bearer ") {
		return nil, errMissingToken
	}
	rawtoken := strings.TrimPrefix(rawHeader, "Bearer ")
	if rawtoken == "" {
		return nil, errMissingToken
	}

	token, err := jwt.Parse(rawtoken, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodEdDSA {
			return nil, errors.New("api: unexpected signing method")
		}
		return v.publicKey, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errors.New("api: invalid token")
	}
	return claims, nil
}

func requireAuth(v *TokenVerifier, allowed []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, p := range allowed {
				if r.URL.Path == p {
					next.ServeHTTP(w, r)
					return
				}
			}
			if _, err := v.Verify(r.Header.Get("Authorization")); err != nil {
				http.Error(w, "unauthorized: "+err.Error(), http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
