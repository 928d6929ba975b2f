package oauth

import (
	"testing"
	"time"

	"golang.org/x/oauth2"
)

func TestTokenStoreRoundTrips(t *testing.T) {
	dir := t.TempDir()
	store := NewTokenStore(dir)

	tok := &oauth2.Token{AccessToken: "abc", RefreshToken: "def", Expiry: time.Now().Add(time.Hour)}
	if err := store.Save("qwen", tok); err != nil {
		t.Fatal(err)
	}

	loaded, err := store.Load("qwen")
	if err != nil {
		t.Fatal(err)
	}
	if loaded.AccessToken != "abc" || loaded.RefreshToken != "def" {
		t.Errorf("unexpected loaded token: %#v", loaded)
	}
}

func TestTokenStoreLoadMissingReturnsNil(t *testing.T) {
	store := NewTokenStore(t.TempDir())
	tok, err := store.Load("missing")
	if err != nil {
		t.Fatal(err)
	}
	if tok != nil {
		t.Errorf("expected nil for missing credential, got %#v", tok)
	}
}

func TestIsPermanentRefreshError(t *testing.T) {
	if !isPermanentRefreshError(&oauthError{Code: "invalid_grant"}) {
		t.Error("invalid_grant should be permanent")
	}
	if isPermanentRefreshError(&oauthError{Code: "server_error"}) {
		t.Error("server_error should not be permanent")
	}
}
