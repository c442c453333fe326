package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"battleground/internal/battle"
	"battleground/internal/config"
	"battleground/internal/database"
	"battleground/internal/notify"
	"battleground/internal/repository"
	"battleground/internal/service"

	"github.com/rs/zerolog"
)

func newTestMux(t *testing.T) *http.ServeMux {
	t.Helper()
	mux, _ := newTestServer(t)
	return mux
}

func newTestServer(t *testing.T) (*http.ServeMux, *service.Orchestrator) {
	t.Helper()
	cfg := &config.Config{DBPath: filepath.Join(t.TempDir(), "test.db")}
	db, err := database.New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	registry := battle.NewRegistry(time.Minute, zerolog.Nop())
	t.Cleanup(registry.Shutdown)

	orch := service.NewOrchestrator(service.OrchestratorParams{
		Registry: registry,
		Battles:  repository.NewBattleRepository(db, zerolog.Nop()),
		Profiles: repository.NewProfileRepository(db, zerolog.Nop()),
		Notifier: notify.NewLogNotifier(zerolog.Nop()),
		Autosave: time.Hour,
		Logger:   zerolog.Nop(),
	})

	mux := http.NewServeMux()
	NewAdminServer(orch, zerolog.Nop()).Routes(mux)
	return mux, orch
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func validCreateRequest() createBattleRequest {
	return createBattleRequest{
		Name: "Test Grounds",
		Teams: []createTeamRequest{
			{Name: "Red", MinCapacity: 1, MaxCapacity: 4, SpawnPoint: battle.Location{X: 10, Y: 10, Map: "felucca"}},
			{Name: "Blue", MinCapacity: 1, MaxCapacity: 4, SpawnPoint: battle.Location{X: 90, Y: 90, Map: "felucca"}},
		},
		Region: battle.RegionSnapshot{Name: "arena", MinX: 0, MinY: 0, MaxX: 100, MaxY: 100, Map: "felucca"},
		Open:   true,
	}
}

func createBattle(t *testing.T, mux *http.ServeMux) battleSummary {
	t.Helper()
	rec := doJSON(t, mux, http.MethodPost, "/api/v1/battles", validCreateRequest())
	if rec.Code != http.StatusCreated {
		t.Fatalf("create returned %d: %s", rec.Code, rec.Body.String())
	}
	var sum battleSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &sum); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	return sum
}

func TestCreateAndGetBattle(t *testing.T) {
	mux := newTestMux(t)
	sum := createBattle(t, mux)

	if sum.Serial == "" || sum.State != "queueing" {
		t.Fatalf("unexpected summary: %+v", sum)
	}

	rec := doJSON(t, mux, http.MethodGet, "/api/v1/battles/"+sum.Serial, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get returned %d", rec.Code)
	}
	var detail battleDetail
	if err := json.Unmarshal(rec.Body.Bytes(), &detail); err != nil {
		t.Fatalf("decode detail: %v", err)
	}
	if len(detail.TeamDetails) != 2 || detail.TeamDetails[0].Name != "Red" {
		t.Fatalf("unexpected detail: %+v", detail)
	}

	rec = doJSON(t, mux, http.MethodGet, "/api/v1/battles", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list returned %d", rec.Code)
	}
	var list []battleSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected one battle, got %d", len(list))
	}
}

func TestCreateBattleRejectsInvalid(t *testing.T) {
	mux := newTestMux(t)

	req := validCreateRequest()
	req.Name = ""
	if rec := doJSON(t, mux, http.MethodPost, "/api/v1/battles", req); rec.Code != http.StatusBadRequest {
		t.Fatalf("nameless battle returned %d", rec.Code)
	}

	req = validCreateRequest()
	req.Region = battle.RegionSnapshot{}
	if rec := doJSON(t, mux, http.MethodPost, "/api/v1/battles", req); rec.Code != http.StatusBadRequest {
		t.Fatalf("regionless battle returned %d", rec.Code)
	}
}

func TestQueueFlow(t *testing.T) {
	mux := newTestMux(t)
	sum := createBattle(t, mux)
	base := "/api/v1/battles/" + sum.Serial

	rec := doJSON(t, mux, http.MethodPost, base+"/queue", queueRequest{Player: "alice", Team: "Red"})
	if rec.Code != http.StatusOK {
		t.Fatalf("enqueue returned %d: %s", rec.Code, rec.Body.String())
	}

	// A second identical enqueue is a protocol conflict.
	rec = doJSON(t, mux, http.MethodPost, base+"/queue", queueRequest{Player: "alice", Team: "Red"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate enqueue returned %d", rec.Code)
	}

	rec = doJSON(t, mux, http.MethodPost, base+"/accept", queueRequest{Player: "alice"})
	if rec.Code != http.StatusOK {
		t.Fatalf("accept returned %d: %s", rec.Code, rec.Body.String())
	}
	var after battleSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &after); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if after.Capacity != 1 || after.QueueLen != 0 {
		t.Fatalf("expected joined member, got %+v", after)
	}

	rec = doJSON(t, mux, http.MethodPost, base+"/queue", queueRequest{Player: "bob"})
	if rec.Code != http.StatusOK {
		t.Fatalf("second enqueue returned %d", rec.Code)
	}
	rec = doJSON(t, mux, http.MethodDelete, base+"/queue/bob", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("dequeue returned %d", rec.Code)
	}
}

func TestLogoutDropsQueuedPlayer(t *testing.T) {
	mux := newTestMux(t)
	sum := createBattle(t, mux)
	base := "/api/v1/battles/" + sum.Serial

	rec := doJSON(t, mux, http.MethodPost, base+"/queue", queueRequest{Player: "alice"})
	if rec.Code != http.StatusOK {
		t.Fatalf("enqueue returned %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, mux, http.MethodPost, "/api/v1/presence/alice/logout", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("logout returned %d", rec.Code)
	}

	rec = doJSON(t, mux, http.MethodGet, base, nil)
	var detail battleDetail
	if err := json.Unmarshal(rec.Body.Bytes(), &detail); err != nil {
		t.Fatalf("decode detail: %v", err)
	}
	if detail.QueueLen != 0 {
		t.Fatalf("expected empty queue after logout, got %d", detail.QueueLen)
	}

	// Login is accepted for any player; reconciliation is lazy.
	if rec := doJSON(t, mux, http.MethodPost, "/api/v1/presence/alice/login", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("login returned %d", rec.Code)
	}
}

func TestBattleNotFound(t *testing.T) {
	mux := newTestMux(t)
	if rec := doJSON(t, mux, http.MethodGet, "/api/v1/battles/missing", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("get returned %d", rec.Code)
	}
	if rec := doJSON(t, mux, http.MethodDelete, "/api/v1/battles/missing", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("delete returned %d", rec.Code)
	}
}

func TestDeleteBattle(t *testing.T) {
	mux := newTestMux(t)
	sum := createBattle(t, mux)

	rec := doJSON(t, mux, http.MethodDelete, "/api/v1/battles/"+sum.Serial, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete returned %d", rec.Code)
	}
	if rec := doJSON(t, mux, http.MethodGet, "/api/v1/battles/"+sum.Serial, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete returned %d", rec.Code)
	}
}

func TestProfileNotFound(t *testing.T) {
	mux := newTestMux(t)
	if rec := doJSON(t, mux, http.MethodGet, "/api/v1/profiles/nobody", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("profile returned %d", rec.Code)
	}
}

func TestCreateBattleSpectatorDefaults(t *testing.T) {
	mux, orch := newTestServer(t)

	// No spectator region in the request: spectators default off rather
	// than failing validation.
	sum := createBattle(t, mux)
	b, err := orch.GetBattle(sum.Serial)
	if err != nil {
		t.Fatalf("get battle: %v", err)
	}
	if b.Options.AllowSpectators {
		t.Fatal("spectators must default off without a spectator region")
	}

	req := validCreateRequest()
	req.Name = "With Stands"
	req.SpectatorRegion = &battle.RegionSnapshot{Name: "stands", MinX: 100, MinY: 0, MaxX: 120, MaxY: 100, Map: "felucca"}
	rec := doJSON(t, mux, http.MethodPost, "/api/v1/battles", req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create returned %d: %s", rec.Code, rec.Body.String())
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &sum); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	b, err = orch.GetBattle(sum.Serial)
	if err != nil {
		t.Fatalf("get battle: %v", err)
	}
	if !b.Options.AllowSpectators {
		t.Fatal("spectators stay on when a spectator region is supplied")
	}
}

func TestOpenAndCloseBattle(t *testing.T) {
	mux := newTestMux(t)
	req := validCreateRequest()
	req.Open = false
	rec := doJSON(t, mux, http.MethodPost, "/api/v1/battles", req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create returned %d", rec.Code)
	}
	var sum battleSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &sum); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if sum.State != "internal" {
		t.Fatalf("expected internal, got %s", sum.State)
	}
	base := "/api/v1/battles/" + sum.Serial

	rec = doJSON(t, mux, http.MethodPost, base+"/open", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("open returned %d: %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, mux, http.MethodPost, base+"/close", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("close returned %d", rec.Code)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &sum); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if sum.State != "internal" {
		t.Fatalf("expected internal after close, got %s", sum.State)
	}
}
