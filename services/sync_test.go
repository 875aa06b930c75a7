package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"signalement-service/models"
	"signalement-service/realtime"
	"signalement-service/recordstore"
)

type memoryAudit struct {
	mu      sync.Mutex
	entries []models.SyncResult
}

func (m *memoryAudit) LogSync(ctx context.Context, operator string, result models.SyncResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, result)
	return nil
}

func syncRecordServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/utilisateurs", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(enveloped(`[
			{"id":1,"email":"a@mail.mg","nom":"Rakoto","role":"CITOYEN","dateCreation":"2026-07-01T08:00:00Z"},
			{"id":2,"email":"b@mail.mg","nom":"Rasoa","role":"MANAGER","firebaseUid":"-NaU2","dateCreation":"2026-07-02T08:00:00Z"}
		]`)))
	})
	mux.HandleFunc("/signalements", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(enveloped(`[
			{"id":10,"localisation":"Analakely","latitude":-18.91,"longitude":47.52,"statut":"NOUVEAU","dateCreation":"2026-08-01T08:00:00Z","creePar":"a@mail.mg"},
			{"id":11,"localisation":"Isotry","latitude":-18.92,"longitude":47.51,"statut":"TERMINE","dateCreation":"2026-08-02T08:00:00Z","creePar":"b@mail.mg"}
		]`)))
	})
	// replica key write-backs
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("unexpected record store call %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(enveloped(`null`)))
	})
	return httptest.NewServer(mux)
}

func newTestSyncer(t *testing.T, replicaURL, recordURL string, online bool, audit AuditLogger) *Syncer {
	t.Helper()
	replica := realtime.NewClient(replicaURL, "")
	records := recordstore.NewClient(recordURL, nullSessions{})
	return NewSyncer(replica, records, stubProber{online: online}, audit, time.Minute)
}

func TestRunSyncPushesBothCollections(t *testing.T) {
	fake := newFakeReplica()
	replicaServer := httptest.NewServer(fake.handler())
	defer replicaServer.Close()
	recordServer := syncRecordServer(t)
	defer recordServer.Close()

	audit := &memoryAudit{}
	syncer := newTestSyncer(t, replicaServer.URL, recordServer.URL, true, audit)

	result, err := syncer.RunSync(context.Background(), "admin@mail.mg")
	if err != nil {
		t.Fatalf("RunSync failed: %v", err)
	}
	if !result.Success {
		t.Errorf("expected a successful run, got %+v", result)
	}
	if result.UsersSynced != 2 || result.ReportsSynced != 2 {
		t.Errorf("expected 2 users and 2 reports, got %d/%d", result.UsersSynced, result.ReportsSynced)
	}
	if result.DurationMs < 0 {
		t.Errorf("negative duration: %d", result.DurationMs)
	}

	fake.mu.Lock()
	if _, held := fake.children["sync/lease"]; held {
		t.Error("lease must be released after the run")
	}
	var users, reports int
	for path := range fake.children {
		switch {
		case len(path) > 6 && path[:6] == "users/":
			users++
		case len(path) > 13 && path[:13] == "signalements/":
			reports++
		}
	}
	fake.mu.Unlock()
	// user 2 already carries a replica key, so it is written in place
	if users != 2 || reports != 2 {
		t.Errorf("expected 2 replica users and 2 replica reports, got %d/%d", users, reports)
	}

	audit.mu.Lock()
	defer audit.mu.Unlock()
	if len(audit.entries) != 1 || !audit.entries[0].Success {
		t.Errorf("expected one successful audit entry, got %+v", audit.entries)
	}

	status := syncer.Status()
	if status.Syncing {
		t.Error("status must report idle after the run")
	}
	if status.LastRun == nil || status.LastRun.ReportsSynced != 2 {
		t.Errorf("status must expose the last result, got %+v", status.LastRun)
	}
}

func TestRunSyncOffline(t *testing.T) {
	replicaServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no store may be contacted while offline")
	}))
	defer replicaServer.Close()

	syncer := newTestSyncer(t, replicaServer.URL, replicaServer.URL, false, nil)

	if _, err := syncer.RunSync(context.Background(), "admin@mail.mg"); !errors.Is(err, ErrOffline) {
		t.Fatalf("expected ErrOffline, got %v", err)
	}
}

func TestRunSyncRejectedWhileLeaseHeld(t *testing.T) {
	fake := newFakeReplica()
	expires := time.Now().Add(time.Minute).UnixMilli()
	fake.set("sync/lease", `{"owner":"other-host-1234","expiresAt":`+strconv.FormatInt(expires, 10)+`}`)
	replicaServer := httptest.NewServer(fake.handler())
	defer replicaServer.Close()
	recordServer := syncRecordServer(t)
	defer recordServer.Close()

	syncer := newTestSyncer(t, replicaServer.URL, recordServer.URL, true, nil)

	if _, err := syncer.RunSync(context.Background(), "admin@mail.mg"); !errors.Is(err, ErrSyncInProgress) {
		t.Fatalf("expected ErrSyncInProgress, got %v", err)
	}
}

func TestRunSyncTakesOverExpiredLease(t *testing.T) {
	fake := newFakeReplica()
	expired := time.Now().Add(-time.Minute).UnixMilli()
	fake.set("sync/lease", `{"owner":"other-host-1234","expiresAt":`+strconv.FormatInt(expired, 10)+`}`)
	replicaServer := httptest.NewServer(fake.handler())
	defer replicaServer.Close()
	recordServer := syncRecordServer(t)
	defer recordServer.Close()

	syncer := newTestSyncer(t, replicaServer.URL, recordServer.URL, true, nil)

	result, err := syncer.RunSync(context.Background(), "admin@mail.mg")
	if err != nil {
		t.Fatalf("expected the expired lease to be taken over, got %v", err)
	}
	if !result.Success {
		t.Errorf("expected a successful run, got %+v", result)
	}
}

func TestRunSyncRejectedWhileAlreadyRunningLocally(t *testing.T) {
	syncer := newTestSyncer(t, "http://127.0.0.1:0", "http://127.0.0.1:0", true, nil)
	syncer.mu.Lock()
	syncer.syncing = true
	syncer.mu.Unlock()

	if _, err := syncer.RunSync(context.Background(), "admin@mail.mg"); !errors.Is(err, ErrSyncInProgress) {
		t.Fatalf("expected ErrSyncInProgress, got %v", err)
	}
}

func TestRunSyncPartialFailureKeepsGoing(t *testing.T) {
	fake := newFakeReplica()
	// Covers both write shapes: user 1 is pushed to users/, user 2 is
	// written in place to users/-NaU2.
	fake.failPaths["users"] = true
	replicaServer := httptest.NewServer(fake.handler())
	defer replicaServer.Close()
	recordServer := syncRecordServer(t)
	defer recordServer.Close()

	audit := &memoryAudit{}
	syncer := newTestSyncer(t, replicaServer.URL, recordServer.URL, true, audit)

	result, err := syncer.RunSync(context.Background(), "admin@mail.mg")
	if err != nil {
		t.Fatalf("per-record failures must not abort the run: %v", err)
	}
	if result.UsersSynced != 0 {
		t.Errorf("expected no users synced, got %d", result.UsersSynced)
	}
	if result.ReportsSynced != 2 {
		t.Errorf("expected reports to sync despite user failures, got %d", result.ReportsSynced)
	}
	if !result.Success {
		t.Errorf("a partial run still completes: %+v", result)
	}

	fake.mu.Lock()
	for path := range fake.children {
		if strings.HasPrefix(path, "users/") {
			t.Errorf("no user may land in the replica, found %s", path)
		}
	}
	fake.mu.Unlock()
}

