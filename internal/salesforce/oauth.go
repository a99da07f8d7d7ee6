// Package salesforce connects the trust center to a Salesforce org and
// mirrors account access decisions into organizations.
package salesforce

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"trustcenter.dev/internal/config"
	"trustcenter.dev/internal/trust"
)

const stateTTL = 15 * time.Minute

// ErrInvalidState wraps trust.ErrInvalidInput for tampered or stale callbacks.
var ErrInvalidState = fmt.Errorf("%w: invalid oauth state", trust.ErrInvalidInput)

// OAuth runs the authorization-code flow with PKCE.
type OAuth struct {
	config    *oauth2.Config
	secret    []byte
	verifiers VerifierStore
	cipher    *TokenCipher
	conns     trust.SalesforceStore
	now       func() time.Time
}

// NewOAuth builds the flow from configuration. stateSecret signs the state
// parameter.
func NewOAuth(cfg config.SalesforceConfig, stateSecret string, verifiers VerifierStore, cipher *TokenCipher, conns trust.SalesforceStore) *OAuth {
	return &OAuth{
		config:    oauthConfig(cfg),
		secret:    []byte(stateSecret),
		verifiers: verifiers,
		cipher:    cipher,
		conns:     conns,
		now:       time.Now,
	}
}

func oauthConfig(cfg config.SalesforceConfig) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes:       []string{"api", "refresh_token"},
		Endpoint: oauth2.Endpoint{
			AuthURL:   cfg.AuthURL,
			TokenURL:  cfg.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

type stateClaims struct {
	jwt.RegisteredClaims
}

// Connect returns the Salesforce authorization URL for adminID.
func (o *OAuth) Connect(ctx context.Context, adminID string) (string, error) {
	now := o.now()
	state, err := jwt.NewWithClaims(jwt.SigningMethodHS256, stateClaims{jwt.RegisteredClaims{
		Subject:   adminID,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(stateTTL)),
	}}).SignedString(o.secret)
	if err != nil {
		return "", fmt.Errorf("sign oauth state: %w", err)
	}
	verifier := oauth2.GenerateVerifier()
	if err := o.verifiers.Put(ctx, state, verifier, stateTTL); err != nil {
		return "", fmt.Errorf("store pkce verifier: %w", err)
	}
	return o.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.S256ChallengeOption(verifier)), nil
}

// Callback verifies state, exchanges code and stores the sealed tokens.
func (o *OAuth) Callback(ctx context.Context, state, code string) (trust.SalesforceConnection, error) {
	if code == "" {
		return trust.SalesforceConnection{}, fmt.Errorf("%w: missing code", trust.ErrInvalidInput)
	}
	adminID, err := o.parseState(state)
	if err != nil {
		return trust.SalesforceConnection{}, err
	}
	verifier, err := o.verifiers.Take(ctx, state)
	if errors.Is(err, ErrUnknownState) {
		return trust.SalesforceConnection{}, ErrInvalidState
	}
	if err != nil {
		return trust.SalesforceConnection{}, err
	}
	tok, err := o.config.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return trust.SalesforceConnection{}, fmt.Errorf("exchange code: %w", err)
	}
	instance, _ := tok.Extra("instance_url").(string)
	if instance == "" {
		return trust.SalesforceConnection{}, errors.New("salesforce token response has no instance_url")
	}
	access, err := o.cipher.Encrypt(tok.AccessToken)
	if err != nil {
		return trust.SalesforceConnection{}, err
	}
	refresh, err := o.cipher.Encrypt(tok.RefreshToken)
	if err != nil {
		return trust.SalesforceConnection{}, err
	}
	conn := trust.SalesforceConnection{
		InstanceURL:     instance,
		AccessTokenEnc:  access,
		RefreshTokenEnc: refresh,
		ConnectedBy:     adminID,
		ConnectedAt:     o.now().UTC(),
	}
	if err := o.conns.SaveConnection(ctx, &conn); err != nil {
		return trust.SalesforceConnection{}, err
	}
	return conn, nil
}

func (o *OAuth) parseState(state string) (string, error) {
	claims := &stateClaims{}
	_, err := jwt.ParseWithClaims(state, claims, func(t *jwt.Token) (any, error) {
		return o.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(o.now), jwt.WithExpirationRequired())
	if err != nil || claims.Subject == "" {
		return "", ErrInvalidState
	}
	return claims.Subject, nil
}
