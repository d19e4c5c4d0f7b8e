package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/raaihank/contract-sentinel/internal/config"
	"github.com/raaihank/contract-sentinel/internal/contracts"
	"github.com/raaihank/contract-sentinel/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePlatform serves the auth and data APIs from one httptest server
type fakePlatform struct {
	mu       sync.Mutex
	token    string
	uploaded []map[string]any
	updates  []map[string]any
	activity []map[string]any
	password string
	deleted  bool
	loggedIn bool
}

func (p *fakePlatform) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	authorized := func(r *http.Request) bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return r.Header.Get("Authorization") == "Bearer "+p.token && p.token != ""
	}

	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["password"] != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"invalid credentials"}`))
			return
		}
		p.mu.Lock()
		p.token = "tok-1"
		p.loggedIn = true
		p.mu.Unlock()
		_, _ = w.Write([]byte(`{"token":"tok-1","user":{"_id":"u1","email":"` + body["email"] + `"}}`))
	})
	mux.HandleFunc("/auth/me", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"data":{"id":"u1","email":"jane@example.com"}}`))
	})
	mux.HandleFunc("/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		p.loggedIn = false
		p.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/api/contracts", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.Method {
		case http.MethodGet:
			_, _ = w.Write([]byte(`{"data":[{"id":"c1","title":"Bail"}]}`))
		case http.MethodPost:
			var body map[string]any
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			p.mu.Lock()
			p.uploaded = append(p.uploaded, body)
			p.mu.Unlock()
			_, _ = w.Write([]byte(`{"data":{"id":"c2","title":"Contrat","status":"uploaded"}}`))
		}
	})
	mux.HandleFunc("/api/contracts/c404", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"contract not found"}`))
	})
	mux.HandleFunc("/api/contracts/c1", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(r) || r.Method != http.MethodPatch {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		p.mu.Lock()
		p.updates = append(p.updates, body)
		p.mu.Unlock()
		title, _ := body["title"].(string)
		_, _ = w.Write([]byte(`{"data":{"id":"c1","title":"` + title + `"}}`))
	})
	mux.HandleFunc("/api/user/u1", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = w.Write([]byte(`{"data":{"id":"u1","email":"jane@example.com","firstname":"` + body["firstname"] + `"}}`))
	})
	mux.HandleFunc("/api/user/u1/activity", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Query().Get("type") == "analysis" {
			_, _ = w.Write([]byte(`{"data":[]}`))
			return
		}
		_, _ = w.Write([]byte(`{"data":[{"type":"upload","details":{"contractTitle":"Bail"}}]}`))
	})
	mux.HandleFunc("/api/user/activity", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		p.mu.Lock()
		p.activity = append(p.activity, body)
		p.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("/api/user/change-password", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["currentPassword"] != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"current password is incorrect"}`))
			return
		}
		p.mu.Lock()
		p.password = body["newPassword"]
		p.mu.Unlock()
		_, _ = w.Write([]byte(`{"success":true}`))
	})
	mux.HandleFunc("/api/user/export", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"user":{"id":"u1"},"contracts":[{"id":"c1"}]}`))
	})
	mux.HandleFunc("/api/user/delete", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if r.Method != http.MethodDelete || body["password"] != "secret" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"message":"invalid password"}`))
			return
		}
		p.mu.Lock()
		p.deleted = true
		p.mu.Unlock()
		_, _ = w.Write([]byte(`{"success":true}`))
	})
	return mux
}

func newGatewayServer(t *testing.T) (*fakePlatform, *session.MemoryStore, http.Handler) {
	t.Helper()
	platform := &fakePlatform{}
	upstream := httptest.NewServer(platform.handler(t))
	t.Cleanup(upstream.Close)

	client, err := contracts.NewClient(contracts.Config{AuthURL: upstream.URL, APIURL: upstream.URL + "/api"}, nil)
	require.NoError(t, err)

	store := session.NewMemoryStore(0)
	_, h := newTestServer(t, func(_ *config.Config, d *Deps) {
		d.Contracts = client
		d.Sessions = store
	})
	return platform, store, h
}

func login(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/api/auth/login", map[string]string{"email": "jane@example.com", "password": "secret"}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	out := decode[loginResponse](t, rec)
	require.NotEmpty(t, out.SessionID)
	assert.Equal(t, "u1", out.User.ID)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, SessionCookie, cookies[0].Name)
	assert.Equal(t, out.SessionID, cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)
	return out.SessionID
}

func TestGatewayDisabled(t *testing.T) {
	_, h := newTestServer(t, nil)
	for _, path := range []string{"/api/auth/me", "/api/contracts", "/api/user/stats"} {
		rec := doJSON(t, h, http.MethodGet, path, nil, nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
	}

	rec := doJSON(t, h, http.MethodPost, "/api/auth/logout", nil, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestGatewayLogin(t *testing.T) {
	_, store, h := newGatewayServer(t)

	t.Run("Success", func(t *testing.T) {
		id := login(t, h)
		sess, err := store.Get(t.Context(), id)
		require.NoError(t, err)
		assert.Equal(t, "tok-1", sess.Token)
	})

	t.Run("TokenNeverReturned", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodPost, "/api/auth/login", map[string]string{"email": "jane@example.com", "password": "secret"}, nil)
		assert.NotContains(t, rec.Body.String(), "tok-1")
	})

	t.Run("BadCredentials", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodPost, "/api/auth/login", map[string]string{"email": "jane@example.com", "password": "nope"}, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("MissingFields", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodPost, "/api/auth/login", map[string]string{"email": "jane@example.com"}, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestGatewaySessionRequired(t *testing.T) {
	_, _, h := newGatewayServer(t)

	rec := doJSON(t, h, http.MethodGet, "/api/contracts", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/contracts", nil, http.Header{SessionHeader: {"unknown"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGatewayContracts(t *testing.T) {
	platform, _, h := newGatewayServer(t)
	id := login(t, h)
	auth := http.Header{SessionHeader: {id}}

	t.Run("MeViaCookie", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
		req.AddCookie(&http.Cookie{Name: SessionCookie, Value: id})
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, "jane@example.com", decode[contracts.User](t, rec).Email)
	})

	t.Run("List", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodGet, "/api/contracts", nil, auth)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		list := decode[[]contracts.Contract](t, rec)
		require.Len(t, list, 1)
		assert.Equal(t, "c1", list[0].ID)
	})

	t.Run("UploadSendsMaskedText", func(t *testing.T) {
		body := map[string]any{"title": "Contrat", "file_name": "contrat.txt", "text": contactText, "mode": "mask"}
		rec := doJSON(t, h, http.MethodPost, "/api/contracts", body, auth)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		out := decode[uploadResponse](t, rec)
		assert.Equal(t, "c2", out.Contract.ID)
		assert.Equal(t, 2, out.Report.Total)

		platform.mu.Lock()
		require.Len(t, platform.uploaded, 1)
		content, _ := platform.uploaded[0]["content"].(string)
		platform.mu.Unlock()
		assert.NotContains(t, content, "jean.dupont@example.com")
		assert.NotContains(t, content, "06 12 34 56 78")
		assert.True(t, strings.HasPrefix(content, "Contact: XXXX"))
	})

	t.Run("UploadRejectsUnknownMode", func(t *testing.T) {
		body := map[string]any{"text": contactText, "mode": "shred"}
		rec := doJSON(t, h, http.MethodPost, "/api/contracts", body, auth)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("UpstreamNotFound", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodDelete, "/api/contracts/c404", nil, auth)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "contract not found", decode[map[string]string](t, rec)["error"])
	})
}

func TestGatewayExpiredToken(t *testing.T) {
	platform, store, h := newGatewayServer(t)
	id := login(t, h)

	platform.mu.Lock()
	platform.token = "rotated"
	platform.mu.Unlock()

	rec := doJSON(t, h, http.MethodGet, "/api/auth/me", nil, http.Header{SessionHeader: {id}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	_, err := store.Get(t.Context(), id)
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestGatewayLogout(t *testing.T) {
	platform, store, h := newGatewayServer(t)
	id := login(t, h)

	rec := doJSON(t, h, http.MethodPost, "/api/auth/logout", nil, http.Header{SessionHeader: {id}})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	_, err := store.Get(t.Context(), id)
	assert.ErrorIs(t, err, session.ErrNotFound)

	platform.mu.Lock()
	assert.False(t, platform.loggedIn)
	platform.mu.Unlock()
}

func TestGatewayUploadLogsActivity(t *testing.T) {
	platform, _, h := newGatewayServer(t)
	auth := http.Header{SessionHeader: {login(t, h)}}

	body := map[string]any{"title": "Bail", "text": contactText, "mode": "anonymize"}
	rec := doJSON(t, h, http.MethodPost, "/api/contracts", body, auth)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	platform.mu.Lock()
	defer platform.mu.Unlock()
	require.Len(t, platform.activity, 1)
	entry := platform.activity[0]
	assert.Equal(t, "upload", entry["type"])
	details, _ := entry["details"].(map[string]any)
	assert.Equal(t, "Bail", details["contractTitle"])
	assert.Equal(t, "c2", details["contractId"])
	assert.EqualValues(t, 2, details["itemsDetected"])

	raw, err := json.Marshal(entry)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "jean.dupont@example.com")
}

func TestGatewayUpdateContract(t *testing.T) {
	platform, _, h := newGatewayServer(t)
	auth := http.Header{SessionHeader: {login(t, h)}}

	t.Run("Metadata", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodPut, "/api/contracts/c1", map[string]any{"title": "Bail 2025", "status": "signed"}, auth)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		out := decode[map[string]any](t, rec)
		assert.Nil(t, out["report"])

		platform.mu.Lock()
		defer platform.mu.Unlock()
		require.Len(t, platform.updates, 1)
		assert.Equal(t, map[string]any{"title": "Bail 2025", "status": "signed"}, platform.updates[0])
	})

	t.Run("TextIsTransformed", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodPut, "/api/contracts/c1", map[string]any{"text": contactText, "mode": "mask"}, auth)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		out := decode[map[string]any](t, rec)
		report, _ := out["report"].(map[string]any)
		assert.EqualValues(t, 2, report["total"])

		platform.mu.Lock()
		defer platform.mu.Unlock()
		content, _ := platform.updates[len(platform.updates)-1]["content"].(string)
		assert.NotContains(t, content, "jean.dupont@example.com")
		assert.True(t, strings.HasPrefix(content, "Contact: XXXX"))
	})

	t.Run("Rejected", func(t *testing.T) {
		for name, body := range map[string]string{
			"Empty":     `{}`,
			"EmptyText": `{"text":""}`,
			"BadMode":   `{"text":"x","mode":"shred"}`,
		} {
			rec := doJSON(t, h, http.MethodPut, "/api/contracts/c1", body, auth)
			assert.Equal(t, http.StatusBadRequest, rec.Code, name)
		}
	})
}

func TestGatewayUserAccount(t *testing.T) {
	platform, store, h := newGatewayServer(t)
	id := login(t, h)
	auth := http.Header{SessionHeader: {id}}

	t.Run("UpdateProfile", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodPatch, "/api/user/profile", map[string]string{"firstname": "Jeanne"}, auth)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, "Jeanne", decode[contracts.User](t, rec).Firstname)

		sess, err := store.Get(t.Context(), id)
		require.NoError(t, err)
		assert.Equal(t, "Jeanne", sess.User.Firstname)

		rec = doJSON(t, h, http.MethodPatch, "/api/user/profile", `{}`, auth)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		rec = doJSON(t, h, http.MethodPatch, "/api/user/profile", map[string]string{"email": ""}, auth)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("Activity", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodGet, "/api/user/activity", nil, auth)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		list := decode[[]contracts.Activity](t, rec)
		require.Len(t, list, 1)
		assert.Equal(t, "Bail", list[0].Details["contractTitle"])

		rec = doJSON(t, h, http.MethodGet, "/api/user/activity?type=analysis", nil, auth)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, decode[[]contracts.Activity](t, rec))
	})

	t.Run("ChangePassword", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodPost, "/api/user/password", map[string]string{"current_password": "secret", "new_password": "s3cret!"}, auth)
		assert.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
		platform.mu.Lock()
		assert.Equal(t, "s3cret!", platform.password)
		platform.mu.Unlock()

		rec = doJSON(t, h, http.MethodPost, "/api/user/password", map[string]string{"current_password": "wrong", "new_password": "x"}, auth)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		_, err := store.Get(t.Context(), id)
		assert.NoError(t, err, "a wrong current password keeps the session")

		rec = doJSON(t, h, http.MethodPost, "/api/user/password", map[string]string{"current_password": "secret"}, auth)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("Export", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodGet, "/api/user/export", nil, auth)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")
		assert.JSONEq(t, `{"user":{"id":"u1"},"contracts":[{"id":"c1"}]}`, rec.Body.String())
	})

	t.Run("DeleteAccount", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodDelete, "/api/user", map[string]string{"password": "nope"}, auth)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		rec = doJSON(t, h, http.MethodDelete, "/api/user", `{}`, auth)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = doJSON(t, h, http.MethodDelete, "/api/user", map[string]string{"password": "secret"}, auth)
		require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

		platform.mu.Lock()
		assert.True(t, platform.deleted)
		platform.mu.Unlock()
		_, err := store.Get(t.Context(), id)
		assert.ErrorIs(t, err, session.ErrNotFound)
		cookies := rec.Result().Cookies()
		require.Len(t, cookies, 1)
		assert.Equal(t, -1, cookies[0].MaxAge)
	})
}

func TestGatewayExportDropsRejectedSession(t *testing.T) {
	platform, store, h := newGatewayServer(t)
	id := login(t, h)

	platform.mu.Lock()
	platform.token = "rotated"
	platform.mu.Unlock()

	rec := doJSON(t, h, http.MethodGet, "/api/user/export", nil, http.Header{SessionHeader: {id}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	_, err := store.Get(t.Context(), id)
	assert.ErrorIs(t, err, session.ErrNotFound)
}
