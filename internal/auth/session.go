// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package auth mints and verifies the JWT session tokens issued to
// workers on registration and checked on every subsequent
// worker-facing call.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	kerrors "github.com/kernelflow/kerneld/pkg/errors"
)

// Config configures worker session token issuance and verification.
type Config struct {
	// Secret signs and verifies tokens with HS256.
	Secret []byte

	// Issuer is stamped into every minted token and checked on verify.
	Issuer string

	// TTL is how long a minted token remains valid.
	TTL time.Duration

	// ClockSkew tolerates minor clock drift between processes.
	ClockSkew time.Duration
}

// WorkerClaims is the claim set carried by a worker session token.
type WorkerClaims struct {
	jwt.RegisteredClaims
	WorkerID    string `json:"worker_id"`
	ServiceName string `json:"service_name,omitempty"`
}

// MintWorkerToken signs a session token for a newly registered worker.
func MintWorkerToken(workerID, serviceName string, cfg Config) (string, error) {
	if len(cfg.Secret) == 0 {
		return "", &kerrors.ValidationError{Field: "auth.secret", Message: "signing secret is required"}
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}

	claims := WorkerClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			Subject:   workerID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		WorkerID:    workerID,
		ServiceName: serviceName,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(cfg.Secret)
	if err != nil {
		return "", &kerrors.PersistenceError{Op: "mint_worker_token", Cause: err}
	}
	return signed, nil
}

// VerifyWorkerToken validates tokenString and returns its claims.
func VerifyWorkerToken(tokenString string, cfg Config) (*WorkerClaims, error) {
	if tokenString == "" {
		return nil, &kerrors.ValidationError{Field: "session_token", Message: "token is empty"}
	}

	parser := jwt.NewParser(jwt.WithLeeway(cfg.ClockSkew))
	token, err := parser.ParseWithClaims(tokenString, &WorkerClaims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != "HS256" {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Method.Alg())
		}
		return cfg.Secret, nil
	})
	if err != nil {
		return nil, &kerrors.ValidationError{Field: "session_token", Message: err.Error()}
	}
	if !token.Valid {
		return nil, &kerrors.ValidationError{Field: "session_token", Message: "token is invalid"}
	}

	claims, ok := token.Claims.(*WorkerClaims)
	if !ok {
		return nil, &kerrors.ValidationError{Field: "session_token", Message: "unexpected claim type"}
	}
	if cfg.Issuer != "" && claims.Issuer != cfg.Issuer {
		return nil, &kerrors.ValidationError{Field: "session_token", Message: "issuer mismatch"}
	}
	return claims, nil
}

// HashServiceSecret hashes a worker service-account secret before it
// is persisted, grounded on the same bcrypt usage the pack reaches
// for wherever a credential needs at-rest hashing.
func HashServiceSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", &kerrors.PersistenceError{Op: "hash_service_secret", Cause: err}
	}
	return string(hash), nil
}

// VerifyServiceSecret compares a plaintext secret against its stored hash.
func VerifyServiceSecret(hash, secret string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}
