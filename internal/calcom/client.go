package calcom

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/oauth2"

	"github.com/discuno/discuno-sub000/internal/domain"
)

const providerName = "calcom"

// Client talks to the scheduling provider's managed-OAuth API. Token
// endpoints authenticate with the privileged client secret; everything
// else carries a mentor access token.
type Client struct {
	baseURL      string
	clientID     string
	clientSecret string
	oauth        *oauth2.Config
	hc           *http.Client
}

func NewClient(baseURL, authURL, clientID, clientSecret, redirectURL string) *Client {
	return &Client{
		baseURL:      baseURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint: oauth2.Endpoint{
				AuthURL:  authURL,
				TokenURL: baseURL + "/oauth/" + clientID + "/token",
			},
		},
		hc: &http.Client{Timeout: 15 * time.Second},
	}
}

// AuthCodeURL is the mentor-facing connect URL.
func (c *Client) AuthCodeURL(state string) string {
	return c.oauth.AuthCodeURL(state)
}

// Exchange trades an authorization code for the first token pair.
func (c *Client) Exchange(ctx context.Context, code string) (*TokenPair, error) {
	tok, err := c.oauth.Exchange(context.WithValue(ctx, oauth2.HTTPClient, c.hc), code)
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}
	refreshExpiry, _ := tok.Extra("refresh_token_expires_at").(float64)
	pair := &TokenPair{
		AccessToken:          tok.AccessToken,
		RefreshToken:         tok.RefreshToken,
		AccessTokenExpiresAt: tok.Expiry.UTC(),
	}
	if refreshExpiry > 0 {
		pair.RefreshTokenExpiresAt = time.UnixMilli(int64(refreshExpiry)).UTC()
	} else {
		pair.RefreshTokenExpiresAt = tok.Expiry.Add(365 * 24 * time.Hour).UTC()
	}
	return pair, nil
}

// Refresh exchanges the stored refresh token for a new pair.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	url := fmt.Sprintf("%s/oauth/%s/refresh", c.baseURL, c.clientID)
	return c.tokenCall(ctx, "refresh", url, map[string]string{"refreshToken": refreshToken})
}

// ForceRefresh reissues tokens for a managed user by account id, using the
// privileged client credential. Used when the refresh token itself is
// expired or rejected.
func (c *Client) ForceRefresh(ctx context.Context, accountID int64) (*TokenPair, error) {
	url := fmt.Sprintf("%s/oauth-clients/%s/users/%d/force-refresh", c.baseURL, c.clientID, accountID)
	return c.tokenCall(ctx, "force-refresh", url, nil)
}

func (c *Client) tokenCall(ctx context.Context, op, url string, body map[string]string) (*TokenPair, error) {
	var buf io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		buf = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-cal-secret-key", c.clientSecret)

	res, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer res.Body.Close()
	raw, _ := io.ReadAll(res.Body)
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, &domain.ProcessorError{Provider: providerName, Op: op, StatusCode: res.StatusCode, Body: string(raw)}
	}
	var out struct {
		envelope
		Data tokenData `json:"data"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &domain.ProcessorError{Provider: providerName, Op: op, StatusCode: res.StatusCode, Body: "malformed token envelope"}
	}
	if out.Data.AccessToken == "" || out.Data.RefreshToken == "" {
		return nil, &domain.ProcessorError{Provider: providerName, Op: op, StatusCode: res.StatusCode, Body: "empty token pair in envelope"}
	}
	return out.Data.pair(), nil
}

// GetBooking fetches a booking by external uid. Idempotent, so transient
// failures retry with backoff.
func (c *Client) GetBooking(ctx context.Context, accessToken, uid string) (*Booking, error) {
	var b Booking
	err := c.getJSON(ctx, accessToken, "/bookings/"+uid, &b)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// CancelBooking is state-mutating and is not retried here.
func (c *Client) CancelBooking(ctx context.Context, accessToken, uid, reason string) error {
	body, _ := json.Marshal(map[string]string{"cancellationReason": reason})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/bookings/"+uid+"/cancel", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)
	res, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		raw, _ := io.ReadAll(res.Body)
		return &domain.ProcessorError{Provider: providerName, Op: "cancel-booking", StatusCode: res.StatusCode, Body: string(raw)}
	}
	return nil
}

func (c *Client) GetDefaultSchedule(ctx context.Context, accessToken string) (*Schedule, error) {
	var s Schedule
	if err := c.getJSON(ctx, accessToken, "/schedules/default", &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) UpdateSchedule(ctx context.Context, accessToken string, scheduleID int64, in ScheduleInput) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch,
		fmt.Sprintf("%s/schedules/%d", c.baseURL, scheduleID), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)
	res, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		raw, _ := io.ReadAll(res.Body)
		return &domain.ProcessorError{Provider: providerName, Op: "update-schedule", StatusCode: res.StatusCode, Body: string(raw)}
	}
	return nil
}

// getJSON wraps idempotent reads in a short exponential backoff; 4xx is
// permanent, 5xx and transport errors retry.
func (c *Client) getJSON(ctx context.Context, accessToken, path string, dst any) error {
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+accessToken)
		res, err := c.hc.Do(req)
		if err != nil {
			return err
		}
		defer res.Body.Close()
		raw, _ := io.ReadAll(res.Body)
		if res.StatusCode >= 500 {
			return &domain.ProcessorError{Provider: providerName, Op: "GET " + path, StatusCode: res.StatusCode, Body: string(raw)}
		}
		if res.StatusCode < 200 || res.StatusCode >= 300 {
			return backoff.Permanent(&domain.ProcessorError{Provider: providerName, Op: "GET " + path, StatusCode: res.StatusCode, Body: string(raw)})
		}
		var out struct {
			envelope
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(raw, &out); err != nil {
			return backoff.Permanent(fmt.Errorf("decode envelope: %w", err))
		}
		if err := json.Unmarshal(out.Data, dst); err != nil {
			return backoff.Permanent(fmt.Errorf("decode data: %w", err))
		}
		return nil
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxElapsedTime = 5 * time.Second
	return backoff.Retry(op, backoff.WithContext(bo, ctx))
}
