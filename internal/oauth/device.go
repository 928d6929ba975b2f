package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/routecodex/routecodex/internal/config"
)

// DeviceAuthorization is what StartDeviceAuth returns to show the user.
type DeviceAuthorization struct {
	VerificationURIComplete string
	UserCode                string
	DeviceCode              string
	Interval                time.Duration
	ExpiresAt               time.Time
	codeVerifier            string // PKCE, empty if the client didn't request it
}

type deviceAuthResponse struct {
	DeviceCode              string      `json:"device_code"`
	UserCode                string      `json:"user_code"`
	VerificationURI         string      `json:"verification_uri"`
	VerificationURIComplete string      `json:"verification_uri_complete"`
	ExpiresIn               flexibleInt `json:"expires_in"`
	Interval                flexibleInt `json:"interval"`
}

// StartDeviceAuth begins the device-code flow against client.DeviceAuthURL.
// Qwen requires client=qwen-code on this call as well as on the refresh
// call; PKCE's code_verifier is generated here and carried through to the
// polling exchange when usePKCE is true.
func StartDeviceAuth(ctx context.Context, client config.OAuthClient, usePKCE bool) (*DeviceAuthorization, error) {
	form := url.Values{"client_id": {client.ClientID}, "scope": {client.Scope}}
	if client.RequiresClientQwen {
		form.Set("client", "qwen-code")
	}

	var verifier, challenge string
	if usePKCE {
		var err error
		verifier, challenge, err = newPKCEPair()
		if err != nil {
			return nil, err
		}
		form.Set("code_challenge", challenge)
		form.Set("code_challenge_method", "S256")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, client.DeviceAuthURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("oauth: device authorization request: %w", err)
	}
	defer resp.Body.Close()

	var body deviceAuthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("oauth: decode device authorization response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || body.DeviceCode == "" {
		return nil, fmt.Errorf("oauth: device authorization failed, status %d", resp.StatusCode)
	}

	interval := time.Duration(body.Interval) * time.Second
	if interval < 5*time.Second {
		interval = 5 * time.Second
	}

	uriComplete := body.VerificationURIComplete
	if uriComplete == "" {
		uriComplete = body.VerificationURI + "?user_code=" + body.UserCode
	}

	return &DeviceAuthorization{
		VerificationURIComplete: uriComplete,
		UserCode:                body.UserCode,
		DeviceCode:              body.DeviceCode,
		Interval:                interval,
		ExpiresAt:               time.Now().Add(time.Duration(body.ExpiresIn) * time.Second),
		codeVerifier:            verifier,
	}, nil
}

// PollForToken polls client.TokenURL on auth.Interval until the user
// activates the device code, it expires, or ctx is cancelled. It keeps
// polling on both "authorization_pending" and "slow_down"; the interval is
// not widened on "slow_down".
func PollForToken(ctx context.Context, client config.OAuthClient, auth *DeviceAuthorization) (*oauth2.Token, error) {
	interval := auth.Interval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			if time.Now().After(auth.ExpiresAt) {
				return nil, fmt.Errorf("oauth: device code expired before activation")
			}
			tok, pending, err := pollOnce(ctx, client, auth)
			if err != nil {
				return nil, err
			}
			if pending {
				continue
			}
			return tok, nil
		}
	}
}

func pollOnce(ctx context.Context, client config.OAuthClient, auth *DeviceAuthorization) (*oauth2.Token, bool, error) {
	form := url.Values{
		"grant_type":  {"urn:ietf:params:oauth:grant-type:device_code"},
		"device_code": {auth.DeviceCode},
		"client_id":   {client.ClientID},
	}
	if auth.codeVerifier != "" {
		form.Set("code_verifier", auth.codeVerifier)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, client.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("oauth: poll request: %w", err)
	}
	defer resp.Body.Close()

	var body tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, false, fmt.Errorf("oauth: decode poll response: %w", err)
	}

	switch body.Error {
	case "":
		return &oauth2.Token{
			AccessToken:  body.AccessToken,
			RefreshToken: body.RefreshToken,
			TokenType:    body.TokenType,
			Expiry:       time.Now().Add(time.Duration(body.ExpiresIn) * time.Second),
		}, false, nil
	case "authorization_pending", "slow_down":
		return nil, true, nil
	default:
		return nil, false, &oauthError{Code: body.Error, Description: body.ErrorDescription}
	}
}

func newPKCEPair() (verifier, challenge string, err error) {
	buf := make([]byte, 32)
	if _, err = rand.Read(buf); err != nil {
		return "", "", err
	}
	verifier = base64.RawURLEncoding.EncodeToString(buf)
	sum := sha256Sum(verifier)
	challenge = base64.RawURLEncoding.EncodeToString(sum)
	return verifier, challenge, nil
}
