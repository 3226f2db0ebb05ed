package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"recenter-local/internal/securestore"
)

func seedSession(t *testing.T, store *securestore.MemoryStore) {
	t.Helper()
	session := Session{
		AccessToken:  "access_1",
		RefreshToken: "refresh_1",
		ExpiresAt:    time.Now().Add(time.Hour).Unix(),
		User:         &User{ID: "user-1"},
	}
	data, err := json.Marshal(session)
	if err != nil {
		t.Fatalf("Failed to marshal session: %v", err)
	}
	if err := store.Set(securestore.KeyIdentitySession, string(data)); err != nil {
		t.Fatalf("Failed to seed session: %v", err)
	}
}

func TestGetProfile(t *testing.T) {
	client, store := setupTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/v1/profiles" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("id") != "eq.user-1" {
			t.Errorf("Expected id filter, got %q", r.URL.Query().Get("id"))
		}
		if r.Header.Get("Authorization") != "Bearer access_1" {
			t.Errorf("Expected user token, got %s", r.Header.Get("Authorization"))
		}
		json.NewEncoder(w).Encode([]Profile{{ID: "user-1", Locale: "en-US", Timezone: "UTC"}})
	}))
	seedSession(t, store)

	profile, err := client.GetProfile(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Failed to get profile: %v", err)
	}
	if profile == nil || profile.ID != "user-1" {
		t.Errorf("Expected profile, got %+v", profile)
	}
}

func TestGetProfileMissing(t *testing.T) {
	client, store := setupTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]Profile{})
	}))
	seedSession(t, store)

	profile, err := client.GetProfile(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Expected no error for missing profile, got %v", err)
	}
	if profile != nil {
		t.Errorf("Expected nil profile, got %+v", profile)
	}
}

func TestEnsureProfileCreatesWhenMissing(t *testing.T) {
	var inserted bool
	client, store := setupTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			json.NewEncoder(w).Encode([]Profile{})
		case http.MethodPost:
			if r.Header.Get("Prefer") != "return=representation" {
				t.Errorf("Expected representation preference, got %q", r.Header.Get("Prefer"))
			}
			var payload map[string]any
			json.NewDecoder(r.Body).Decode(&payload)
			if payload["id"] != "user-1" || payload["locale"] != "en-US" || payload["timezone"] != "UTC" {
				t.Errorf("Unexpected insert payload: %v", payload)
			}
			inserted = true
			json.NewEncoder(w).Encode([]Profile{{ID: "user-1", Locale: "en-US", Timezone: "UTC"}})
		default:
			t.Errorf("Unexpected method %s", r.Method)
		}
	}))
	seedSession(t, store)

	profile, err := client.EnsureProfile(context.Background(), "user-1", "en-US", "UTC")
	if err != nil {
		t.Fatalf("Failed to ensure profile: %v", err)
	}
	if !inserted {
		t.Error("Expected an insert request")
	}
	if profile == nil || profile.ID != "user-1" {
		t.Errorf("Expected created profile, got %+v", profile)
	}
}

func TestEnsureProfileReturnsExisting(t *testing.T) {
	client, store := setupTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("Expected only a read, got %s", r.Method)
		}
		name := "Ada"
		json.NewEncoder(w).Encode([]Profile{{ID: "user-1", DisplayName: &name}})
	}))
	seedSession(t, store)

	profile, err := client.EnsureProfile(context.Background(), "user-1", "en-US", "UTC")
	if err != nil {
		t.Fatalf("Failed to ensure profile: %v", err)
	}
	if profile.DisplayName == nil || *profile.DisplayName != "Ada" {
		t.Errorf("Expected existing profile, got %+v", profile)
	}
}

func TestEnsureProfileAccessDeniedCode(t *testing.T) {
	client, store := setupTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			json.NewEncoder(w).Encode([]Profile{})
			return
		}
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]string{"code": "42501", "message": "permission denied"})
	}))
	seedSession(t, store)

	_, err := client.EnsureProfile(context.Background(), "user-1", "en-US", "UTC")
	if err == nil {
		t.Fatal("Expected error")
	}
	if ErrorCode(err) != CodeAccessDenied {
		t.Errorf("Expected access denied code, got %q", ErrorCode(err))
	}
}

func TestUpdateProfile(t *testing.T) {
	client, store := setupTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			t.Errorf("Expected PATCH, got %s", r.Method)
		}
		if r.URL.Query().Get("id") != "eq.user-1" {
			t.Errorf("Expected id filter, got %q", r.URL.Query().Get("id"))
		}
		var payload map[string]any
		json.NewDecoder(r.Body).Decode(&payload)
		if payload["display_name"] != "Ada" {
			t.Errorf("Unexpected payload: %v", payload)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	seedSession(t, store)

	if err := client.UpdateProfile(context.Background(), "user-1", map[string]any{"display_name": "Ada"}); err != nil {
		t.Fatalf("Failed to update profile: %v", err)
	}
}

func TestPushRecordsMergesDuplicates(t *testing.T) {
	client, store := setupTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/v1/checkins" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Prefer") != "resolution=merge-duplicates" {
			t.Errorf("Expected merge preference, got %q", r.Header.Get("Prefer"))
		}
		var rows []map[string]any
		json.NewDecoder(r.Body).Decode(&rows)
		if len(rows) != 2 {
			t.Errorf("Expected 2 rows, got %d", len(rows))
		}
		w.WriteHeader(http.StatusCreated)
	}))
	seedSession(t, store)

	rows := []map[string]any{
		{"id": "chk_1", "user_id": "user-1"},
		{"id": "chk_2", "user_id": "user-1"},
	}
	if err := client.PushRecords(context.Background(), "checkins", rows); err != nil {
		t.Fatalf("Failed to push records: %v", err)
	}
}
