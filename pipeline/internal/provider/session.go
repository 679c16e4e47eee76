package provider

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"fleet-telemetry-pipeline/shared/cachex"
	"fleet-telemetry-pipeline/shared/config"
	"fleet-telemetry-pipeline/shared/logx"
)

const sessionKey = "provider:session"

var ErrSessionUnavailable = errors.New("provider account is not configured")

type Credential struct {
	Token     string    `json:"token"`
	ServerID  string    `json:"server_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (c Credential) valid(now time.Time) bool {
	return c.Token != "" && now.Before(c.ExpiresAt)
}

// Session owns the provider login token. The token lives in redis so all
// workers share one session; after a refresh the credential is re-read
// from the cache so concurrent refreshers converge on a single token
// instead of each serving its own.
type Session struct {
	gateway  *Gateway
	cache    *cachex.Client
	account  string
	password string
	ttl      time.Duration
	log      logx.Logger
}

func NewSession(cfg config.Config, gateway *Gateway, cache *cachex.Client, log logx.Logger) *Session {
	return &Session{
		gateway:  gateway,
		cache:    cache,
		account:  cfg.ProviderAccount,
		password: cfg.ProviderPassword,
		ttl:      time.Duration(cfg.SessionTTLMinutes) * time.Minute,
		log:      log,
	}
}

// Credential returns a valid credential, logging in when the cached one
// is missing or expired.
func (s *Session) Credential(ctx context.Context) (Credential, error) {
	if s.account == "" {
		return Credential{}, ErrSessionUnavailable
	}

	var cred Credential
	found, err := s.cache.GetJSON(ctx, sessionKey, &cred)
	if err != nil {
		return Credential{}, err
	}
	if found && cred.valid(time.Now()) {
		return cred, nil
	}
	return s.refresh(ctx)
}

func (s *Session) refresh(ctx context.Context) (Credential, error) {
	var rec LoginRecord
	err := s.gateway.Call(ctx, ActionLogin, map[string]string{
		"account":  s.account,
		"password": hashPassword(s.password),
	}, &rec)
	if err != nil {
		return Credential{}, err
	}

	ttl := s.ttl
	if rec.ExpiresIn > 0 {
		if provided := time.Duration(rec.ExpiresIn) * time.Second; provided < ttl {
			ttl = provided
		}
	}
	cred := Credential{
		Token:     rec.AccessToken,
		ServerID:  rec.ServerID,
		ExpiresAt: time.Now().Add(ttl),
	}
	if err := s.cache.SetJSON(ctx, sessionKey, cred, ttl); err != nil {
		return Credential{}, err
	}

	var stored Credential
	found, err := s.cache.GetJSON(ctx, sessionKey, &stored)
	if err != nil {
		return Credential{}, err
	}
	if found && stored.valid(time.Now()) {
		cred = stored
	}
	s.log.Info(ctx, "provider_session_refreshed", "logged in to provider",
		slog.Time("expires_at", cred.ExpiresAt))
	return cred, nil
}

func (s *Session) Invalidate(ctx context.Context) error {
	return s.cache.Delete(ctx, sessionKey)
}

// Call runs a gateway action with the session token injected. A rejected
// token invalidates the cached credential and the call is repeated once
// with a fresh login before giving up.
func (s *Session) Call(ctx context.Context, action string, params map[string]string, out any) error {
	for attempt := 0; attempt < 2; attempt++ {
		cred, err := s.Credential(ctx)
		if err != nil {
			return err
		}

		merged := make(map[string]string, len(params)+2)
		for k, v := range params {
			merged[k] = v
		}
		merged["access_token"] = cred.Token
		if cred.ServerID != "" {
			merged["server_id"] = cred.ServerID
		}

		err = s.gateway.Call(ctx, action, merged, out)
		if err == nil {
			return nil
		}
		var perr *Error
		if errors.As(err, &perr) && perr.Status == StatusInvalidToken && attempt == 0 {
			s.log.Warn(ctx, "provider_token_rejected", "token rejected, re-logging in",
				slog.String("action", action))
			if derr := s.Invalidate(ctx); derr != nil {
				return derr
			}
			continue
		}
		return err
	}
	return errors.New("provider session: token rejected after refresh")
}

func hashPassword(plain string) string {
	sum := md5.Sum([]byte(plain))
	return hex.EncodeToString(sum[:])
}
