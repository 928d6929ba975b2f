package oauth

import (
	"context"
	"crypto/sha256"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/routecodex/routecodex/internal/config"
)

func sha256Sum(s string) []byte {
	h := sha256.Sum256([]byte(s))
	return h[:]
}

// AuthCodeSession holds the state needed to complete an authorization-code
// +PKCE login once the browser redirect comes back to the local listener.
type AuthCodeSession struct {
	AuthorizeURL string
	State        string
	codeVerifier string
	redirectURI  string
}

// BuildAuthorizeURL starts an authorization-code+PKCE session: it generates
// the state and PKCE pair and returns the URL the user should open in a
// browser, plus the session needed to complete the exchange once the
// redirect lands on the local listener.
func BuildAuthorizeURL(client config.OAuthClient) (*AuthCodeSession, error) {
	state, err := randomURLSafe(16)
	if err != nil {
		return nil, err
	}
	verifier, challenge, err := newPKCEPair()
	if err != nil {
		return nil, err
	}

	port := client.RedirectPort
	if port == 0 {
		port = 8080
	}
	redirectURI := fmt.Sprintf("http://localhost:%d/oauth2callback", port)

	q := url.Values{
		"response_type":         {"code"},
		"client_id":             {client.ClientID},
		"redirect_uri":          {redirectURI},
		"scope":                 {client.Scope},
		"state":                 {state},
		"code_challenge":        {challenge},
		"code_challenge_method": {"S256"},
	}
	authorizeURL := client.AuthorizeURL + "?" + q.Encode()
	if client.IFlowRedirectQuirk {
		// iFlow's web console expects the callback target in a bare
		// "redirect=" query param rather than the standard redirect_uri.
		authorizeURL += "&redirect=" + url.QueryEscape(redirectURI)
	}

	return &AuthCodeSession{
		AuthorizeURL: authorizeURL,
		State:        state,
		codeVerifier: verifier,
		redirectURI:  redirectURI,
	}, nil
}

// AwaitRedirect starts a short-lived localhost HTTP listener on the
// session's redirect port and blocks until the provider redirects the
// browser back to it with ?code=&state=, or ctx is cancelled.
func AwaitRedirect(ctx context.Context, port int) (code string, state string, err error) {
	if port == 0 {
		port = 8080
	}
	codeCh := make(chan string, 1)
	stateCh := make(chan string, 1)
	errCh := make(chan error, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2callback", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if errParam := q.Get("error"); errParam != "" {
			errCh <- fmt.Errorf("oauth: authorization denied: %s", errParam)
			http.Error(w, "authorization denied, you may close this tab", http.StatusOK)
			return
		}
		codeCh <- q.Get("code")
		stateCh <- q.Get("state")
		fmt.Fprint(w, "Login complete, you may close this tab.")
	})

	srv := &http.Server{Addr: fmt.Sprintf("127.0.0.1:%d", port), Handler: mux}
	go srv.ListenAndServe()
	defer srv.Shutdown(context.Background())

	select {
	case <-ctx.Done():
		return "", "", ctx.Err()
	case err := <-errCh:
		return "", "", err
	case c := <-codeCh:
		return c, <-stateCh, nil
	}
}

// ExchangeCode completes the authorization-code+PKCE flow, validating state
// and presenting the PKCE verifier alongside the code.
func (s *AuthCodeSession) ExchangeCode(ctx context.Context, client config.OAuthClient, code, returnedState string) (*oauth2.Token, error) {
	if returnedState != s.State {
		return nil, errors.New("oauth: state mismatch, possible CSRF")
	}

	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"client_id":     {client.ClientID},
		"redirect_uri":  {s.redirectURI},
		"code_verifier": {s.codeVerifier},
	}
	if client.ClientSecret != "" {
		form.Set("client_secret", client.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, client.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("oauth: code exchange request: %w", err)
	}
	defer resp.Body.Close()

	var body tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("oauth: decode code exchange response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || body.Error != "" {
		return nil, &oauthError{Code: body.Error, Description: body.ErrorDescription}
	}

	return &oauth2.Token{
		AccessToken:  body.AccessToken,
		RefreshToken: body.RefreshToken,
		TokenType:    body.TokenType,
		Expiry:       time.Now().Add(time.Duration(body.ExpiresIn) * time.Second),
	}, nil
}

func randomURLSafe(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// ExchangeUserInfo performs Qwen's post-activation apiKey exchange: after
// the device-code token is issued, a follow-up call to userInfoUrl trades
// the access token for the resourceUrl / apiKey actually used against the
// inference endpoint.
func ExchangeUserInfo(ctx context.Context, client config.OAuthClient, tok *oauth2.Token) (map[string]any, error) {
	if client.UserInfoURL == "" {
		return nil, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, client.UserInfoURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("oauth: user info request: %w", err)
	}
	defer resp.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("oauth: decode user info response: %w", err)
	}
	return body, nil
}
