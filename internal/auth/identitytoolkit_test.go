package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

// testToolkit points a provider at a local stub of the identity service.
func testToolkit(t *testing.T, handler http.Handler) *IdentityToolkit {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	p := NewIdentityToolkit("test-key")
	p.endpoint = srv.URL
	p.tokenBase = srv.URL
	return p
}

func TestSignIn(t *testing.T) {
	p := testToolkit(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/accounts:signInWithPassword" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.URL.Query().Get("key") != "test-key" {
			t.Errorf("key = %q", r.URL.Query().Get("key"))
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body["email"] != "alice@example.com" || body["password"] != "secret" {
			t.Errorf("unexpected body: %v", body)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"localId":      "u1",
			"email":        "alice@example.com",
			"displayName":  "Alice",
			"idToken":      "tok-1",
			"refreshToken": "rtok-1",
		})
	}))

	acct, err := p.SignIn(context.Background(), "alice@example.com", "secret")
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if acct.UID != "u1" || acct.IDToken != "tok-1" || acct.RefreshToken != "rtok-1" {
		t.Fatalf("unexpected account: %+v", acct)
	}
}

func TestSignUpEmailInUse(t *testing.T) {
	p := testToolkit(t, serviceError("EMAIL_EXISTS"))
	if _, err := p.SignUp(context.Background(), "alice@example.com", "secret"); !errors.Is(err, ErrEmailInUse) {
		t.Fatalf("err = %v, want ErrEmailInUse", err)
	}
}

func TestLookupKeepsPresentedToken(t *testing.T) {
	p := testToolkit(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"users": []map[string]any{{
				"localId": "u1",
				"email":   "alice@example.com",
			}},
		})
	}))

	acct, err := p.Lookup(context.Background(), "tok-1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if acct.IDToken != "tok-1" {
		t.Fatalf("idToken = %q, want the presented token", acct.IDToken)
	}
}

func TestLookupEmptyUsers(t *testing.T) {
	p := testToolkit(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"users": []any{}})
	}))
	if _, err := p.Lookup(context.Background(), "tok-1"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("err = %v, want ErrUnauthenticated", err)
	}
}

func TestRefresh(t *testing.T) {
	p := testToolkit(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/token":
			if err := r.ParseForm(); err != nil {
				t.Fatalf("parse form: %v", err)
			}
			if r.PostForm.Get("grant_type") != "refresh_token" || r.PostForm.Get("refresh_token") != "rtok-1" {
				t.Errorf("unexpected form: %v", r.PostForm)
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"user_id":       "u1",
				"id_token":      "tok-2",
				"refresh_token": "rtok-2",
			})
		case "/accounts:lookup":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"users": []map[string]any{{
					"localId":     "u1",
					"email":       "alice@example.com",
					"displayName": "Alice",
				}},
			})
		default:
			t.Errorf("unexpected path %q", r.URL.Path)
		}
	}))

	acct, err := p.Refresh(context.Background(), "rtok-1")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if acct.IDToken != "tok-2" || acct.RefreshToken != "rtok-2" {
		t.Fatalf("tokens not rotated: %+v", acct)
	}
	if acct.DisplayName != "Alice" {
		t.Fatalf("profile not filled in: %+v", acct)
	}
}

func TestUpdate(t *testing.T) {
	p := testToolkit(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body["displayName"] != "Alice Liddell" {
			t.Errorf("displayName = %v", body["displayName"])
		}
		if _, ok := body["photoUrl"]; ok {
			t.Error("photoUrl sent though unset")
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"localId":     "u1",
			"email":       "alice@example.com",
			"displayName": "Alice Liddell",
		})
	}))

	name := "Alice Liddell"
	acct, err := p.Update(context.Background(), "tok-1", Attributes{DisplayName: &name})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if acct.DisplayName != "Alice Liddell" {
		t.Fatalf("displayName = %q", acct.DisplayName)
	}
	if acct.IDToken != "tok-1" {
		t.Fatalf("idToken = %q, want the presented token", acct.IDToken)
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		code string
		want error
	}{
		{"EMAIL_NOT_FOUND", ErrInvalidCredentials},
		{"INVALID_PASSWORD", ErrInvalidCredentials},
		{"INVALID_LOGIN_CREDENTIALS", ErrInvalidCredentials},
		{"USER_DISABLED", ErrInvalidCredentials},
		{"EMAIL_EXISTS", ErrEmailInUse},
		{"TOKEN_EXPIRED", ErrUnauthenticated},
		{"INVALID_REFRESH_TOKEN", ErrUnauthenticated},
	}
	for _, tc := range tests {
		t.Run(tc.code, func(t *testing.T) {
			p := testToolkit(t, serviceError(tc.code))
			_, err := p.SignIn(context.Background(), "a@b.c", "pw")
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestErrorMessagePassthrough(t *testing.T) {
	p := testToolkit(t, serviceError("OPERATION_NOT_ALLOWED : password sign-in is disabled"))
	_, err := p.SignIn(context.Background(), "a@b.c", "pw")
	if err == nil {
		t.Fatal("expected an error")
	}
	if got := err.Error(); got != "auth: OPERATION_NOT_ALLOWED : password sign-in is disabled" {
		t.Fatalf("message = %q", got)
	}
}

func serviceError(message string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": message},
		})
	})
}
