package httpapi

import (
	"net/http"
	"testing"
)

func TestExtractBearerToken(t *testing.T) {
	cases := map[string]struct {
		header  string
		want    string
		wantErr bool
	}{
		"valid":            {header: "Bearer abc.def.ghi", want: "abc.def.ghi"},
		"case insensitive": {header: "bearer abc.def.ghi", want: "abc.def.ghi"},
		"padded":           {header: "  Bearer token  ", want: "token"},
		"empty":            {header: "", wantErr: true},
		"wrong scheme":     {header: "Basic dXNlcjpwYXNz", wantErr: true},
		"scheme only":      {header: "Bearer ", wantErr: true},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := extractBearerToken(tc.header)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got token %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestProtectedRouteRequiresToken(t *testing.T) {
	api := newTestAPI(t)

	resp := api.get("/v1/me", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no token: expected 401, got %d", resp.StatusCode)
	}
	_ = resp.Body.Close()

	resp = api.get("/v1/me", nil, authz("not-a-jwt"))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("garbage token: expected 401, got %d", resp.StatusCode)
	}
	_ = resp.Body.Close()
}

func TestPublicPathsSkipBearerCheck(t *testing.T) {
	api := newTestAPI(t)

	// missing body, not missing token
	resp := api.post("/v1/auth/login", nil, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("login without body: expected 400, got %d", resp.StatusCode)
	}
	payload := decode[map[string]any](t, resp)
	if payload["error"] == "missing bearer token" {
		t.Fatalf("public path was gated by bearer auth")
	}
}

func TestAuthErrorDistinguishes401From403(t *testing.T) {
	api := newTestAPI(t)

	registered := decode[authResponse](t, api.post("/v1/auth/register", map[string]any{
		"email":     "plain@example.com",
		"password":  "correct-horse",
		"device_id": testDevice,
	}, nil))

	// authenticated but lacking users.read
	resp := api.get("/v1/admin/users", nil, authz(registered.Tokens.AccessToken))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
	_ = resp.Body.Close()

	// unauthenticated
	resp = api.get("/v1/admin/users", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	_ = resp.Body.Close()
}
