package e2e

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/google/uuid"
)

func wsBody(slug string) string {
	return fmt.Sprintf(`{"slug": "%s", "team_slug": "team-%s"}`, slug, slug[:8])
}

func TestCreateWorkspace_Accepted(t *testing.T) {
	ta := setupApp(t)

	slug := "ws-" + uuid.New().String()
	resp, err := ta.doAuthRequest(t, "user-1", http.MethodPost, "/api/workspaces/", wsBody(slug))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusAccepted)

	body := parseJSON(t, resp)
	if body["job_id"] == nil || body["job_id"] == "" {
		t.Error("expected 'job_id' in response")
	}
	if body["status"] != "pending" {
		t.Errorf("expected status 'pending', got %v", body["status"])
	}
}

func TestCreateWorkspace_NoAuth(t *testing.T) {
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodPost, "/api/workspaces/", wsBody("ws-"+uuid.New().String()), nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusUnauthorized)
}

func TestCreateWorkspace_InvalidBody(t *testing.T) {
	ta := setupApp(t)

	// Slug too short, team missing
	resp, err := ta.doAuthRequest(t, "user-1", http.MethodPost, "/api/workspaces/", `{"slug": "ab"}`)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusBadRequest)
}

func TestCreateWorkspace_DuplicateSlug(t *testing.T) {
	ta := setupApp(t)

	slug := "ws-" + uuid.New().String()
	resp, err := ta.doAuthRequest(t, "user-1", http.MethodPost, "/api/workspaces/", wsBody(slug))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusAccepted)
	readBody(t, resp)

	resp, err = ta.doAuthRequest(t, "user-1", http.MethodPost, "/api/workspaces/", wsBody(slug))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusConflict)
}

func TestJobStatus_AfterAccept(t *testing.T) {
	ta := setupApp(t)

	slug := "ws-" + uuid.New().String()
	resp, err := ta.doAuthRequest(t, "user-1", http.MethodPost, "/api/workspaces/", wsBody(slug))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusAccepted)
	jobID := parseJSON(t, resp)["job_id"].(string)

	resp, err = ta.doAuthRequest(t, "user-1", http.MethodGet, "/api/jobs/"+jobID, "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)

	job := parseJSON(t, resp)
	if job["id"] != jobID {
		t.Errorf("expected job id %s, got %v", jobID, job["id"])
	}
	if job["action"] != "create_workspace" {
		t.Errorf("expected action 'create_workspace', got %v", job["action"])
	}
	if job["entitySlug"] != slug {
		t.Errorf("expected entitySlug %s, got %v", slug, job["entitySlug"])
	}
}

func TestJobStatus_Unknown(t *testing.T) {
	ta := setupApp(t)

	resp, err := ta.doAuthRequest(t, "user-1", http.MethodGet, "/api/jobs/"+uuid.New().String(), "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusNotFound)
}

func TestWorkspaceHealth(t *testing.T) {
	ta := setupApp(t)

	slug := "ws-" + uuid.New().String()
	resp, err := ta.doAuthRequest(t, "user-1", http.MethodPost, "/api/workspaces/", wsBody(slug))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusAccepted)
	readBody(t, resp)

	resp, err = ta.doAuthRequest(t, "user-1", http.MethodGet, "/api/workspaces/"+slug+"/health", "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)

	health := parseJSON(t, resp)
	if health["slug"] != slug {
		t.Errorf("expected slug %s, got %v", slug, health["slug"])
	}
	// Fresh workspace without a worker running stays provisioning.
	if health["status"] != "provisioning" {
		t.Errorf("expected status 'provisioning', got %v", health["status"])
	}
	if health["all_healthy"] != false {
		t.Errorf("expected all_healthy false, got %v", health["all_healthy"])
	}
}

func TestWorkspaceHealth_NotFound(t *testing.T) {
	ta := setupApp(t)

	resp, err := ta.doAuthRequest(t, "user-1", http.MethodGet, "/api/workspaces/no-such-workspace/health", "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusNotFound)
}

func TestRestartWorkspace_NotFound(t *testing.T) {
	ta := setupApp(t)

	resp, err := ta.doAuthRequest(t, "user-1", http.MethodPost, "/api/workspaces/no-such-workspace/restart", "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusNotFound)
}

func TestSandboxPullRequest_Accepted(t *testing.T) {
	ta := setupApp(t)

	slug := "ws-" + uuid.New().String()
	resp, err := ta.doAuthRequest(t, "user-1", http.MethodPost, "/api/workspaces/", wsBody(slug))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusAccepted)
	readBody(t, resp)

	body := `{"sandbox_slug": "pr-42", "branch": "feature/new-board"}`
	resp, err = ta.doAuthRequest(t, "user-1", http.MethodPost, "/api/workspaces/"+slug+"/sandboxes/pull-request", body)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusAccepted)
}
