package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/routecodex/routecodex/internal/config"
)

// refreshPolicy bounds how many times a refresh is retried and how long to
// wait between attempts. iFlow's token service does not tolerate repeated
// refresh attempts against the same refresh_token, so it gets a single try.
type refreshPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
}

func refreshPolicyFor(client config.OAuthClient) refreshPolicy {
	if client.Provider == "iflow" {
		return refreshPolicy{maxAttempts: 1, baseDelay: 0}
	}
	return refreshPolicy{maxAttempts: 3, baseDelay: time.Second}
}

func (p refreshPolicy) wait(attempt int) {
	if p.baseDelay == 0 {
		return
	}
	time.Sleep(p.baseDelay * time.Duration(attempt+1))
}

// permanentRefreshErrorCodes are OAuth error codes that mean the refresh
// token itself is dead: retrying will never succeed, so the credential
// must be re-authorized from scratch rather than retried.
var permanentRefreshErrorCodes = map[string]bool{
	"invalid_grant":         true,
	"invalid_client":        true,
	"unauthorized_client":   true,
}

func isPermanentRefreshError(err error) bool {
	rerr, ok := err.(*oauthError)
	if !ok {
		return false
	}
	if permanentRefreshErrorCodes[rerr.Code] {
		return true
	}
	return rerr.Code == "invalid_request" && strings.Contains(strings.ToLower(rerr.Description), "refresh_token")
}

// oauthError is the RFC 6749 token-endpoint error body.
type oauthError struct {
	Code        string `json:"error"`
	Description string `json:"error_description"`
}

func (e *oauthError) Error() string {
	if e.Description != "" {
		return e.Code + ": " + e.Description
	}
	return e.Code
}

// refreshOnce performs a single refresh_token grant against client.TokenURL.
func refreshOnce(ctx context.Context, client config.OAuthClient, current *oauth2.Token) (*oauth2.Token, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {current.RefreshToken},
		"client_id":     {client.ClientID},
	}
	if client.ClientSecret != "" {
		form.Set("client_secret", client.ClientSecret)
	}
	if client.RequiresClientQwen {
		form.Set("client", "qwen-code")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, client.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("oauth: refresh request: %w", err)
	}
	defer resp.Body.Close()

	var body tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("oauth: decode refresh response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || body.Error != "" {
		return nil, &oauthError{Code: body.Error, Description: body.ErrorDescription}
	}

	next := &oauth2.Token{
		AccessToken:  body.AccessToken,
		RefreshToken: body.RefreshToken,
		TokenType:    body.TokenType,
		Expiry:       time.Now().Add(time.Duration(body.ExpiresIn) * time.Second),
	}
	if next.RefreshToken == "" {
		next.RefreshToken = current.RefreshToken
	}
	return next, nil
}

// tokenResponse tolerantly decodes a token-endpoint JSON body: expires_in is
// sometimes a string instead of a number depending on the provider.
type tokenResponse struct {
	AccessToken      string          `json:"access_token"`
	RefreshToken     string          `json:"refresh_token"`
	TokenType        string          `json:"token_type"`
	ExpiresIn        flexibleInt     `json:"expires_in"`
	Error            string          `json:"error"`
	ErrorDescription string          `json:"error_description"`
}

// flexibleInt unmarshals either a JSON number or a numeric JSON string.
type flexibleInt int

func (f *flexibleInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("oauth: expires_in: %w", err)
	}
	*f = flexibleInt(n)
	return nil
}
