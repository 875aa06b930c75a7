package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/google/uuid"

	"signalement-service/models"
	"signalement-service/realtime"
	"signalement-service/recordstore"
)

// ErrSyncInProgress rejects a reconciliation while another one holds the
// lease, whether it runs in this process or in another client.
var ErrSyncInProgress = errors.New("synchronization already running")

// AuditLogger persists the outcome of a reconciliation run.
type AuditLogger interface {
	LogSync(ctx context.Context, operator string, result models.SyncResult) error
}

// Syncer is the manual reconciliation trigger: an operator-invoked bulk copy
// of the system-of-record dataset into the replica tree. Partial failure is
// accepted; per-record errors are logged and skipped, the result reports
// what succeeded, and a re-run is the remedy.
type Syncer struct {
	replica  *realtime.Client
	records  *recordstore.Client
	prober   Prober
	audit    AuditLogger
	leaseTTL time.Duration

	// owner identifies this process on the shared lease
	owner string
	now   func() time.Time

	mu      sync.Mutex
	syncing bool
	lastRun *models.SyncResult
}

func NewSyncer(replica *realtime.Client, records *recordstore.Client, prober Prober, audit AuditLogger, leaseTTL time.Duration) *Syncer {
	hostname, _ := os.Hostname()
	return &Syncer{
		replica:  replica,
		records:  records,
		prober:   prober,
		audit:    audit,
		leaseTTL: leaseTTL,
		owner:    fmt.Sprintf("%s-%s", hostname, uuid.NewString()[:8]),
		now:      time.Now,
	}
}

// syncLease is the shared mutual-exclusion record under sync/lease,
// acquired with a compare-and-set so two consoles cannot reconcile the same
// subtree concurrently. The TTL lets a crashed run expire.
type syncLease struct {
	Owner     string `json:"owner,omitempty"`
	ExpiresAt int64  `json:"expiresAt,omitempty"`
}

// Status reports the current reconciliation state for the console.
func (s *Syncer) Status() models.SyncStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.SyncStatus{
		Syncing: s.syncing,
		Online:  s.prober.IsOnline(),
		LastRun: s.lastRun,
	}
}

// RunSync copies every user and report from the system of record into the
// replica, then reports counts and elapsed time. Preconditions: the prober
// must report online and no other run may hold the lease.
func (s *Syncer) RunSync(ctx context.Context, operator string) (*models.SyncResult, error) {
	s.mu.Lock()
	if s.syncing {
		s.mu.Unlock()
		return nil, ErrSyncInProgress
	}
	s.syncing = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.syncing = false
		s.mu.Unlock()
	}()

	if !s.prober.IsOnline() {
		return nil, ErrOffline
	}

	release, err := s.acquireLease(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	start := s.now().UTC()
	result := &models.SyncResult{StartedAt: start}

	finish := func(success bool, message string) {
		result.Success = success
		result.Message = message
		result.FinishedAt = s.now().UTC()
		result.DurationMs = result.FinishedAt.Sub(start).Milliseconds()

		s.mu.Lock()
		s.lastRun = result
		s.mu.Unlock()

		if s.audit != nil {
			if err := s.audit.LogSync(ctx, operator, *result); err != nil {
				log.Errorf("Failed to write sync audit entry: %v", err)
			}
		}
	}

	log.Infof("Manual reconciliation started by %s", operator)

	users, err := s.records.ListUsers(ctx)
	if err != nil {
		finish(false, "failed to list users: "+err.Error())
		return result, err
	}
	for _, user := range users {
		if err := s.syncUser(ctx, user); err != nil {
			log.Errorf("Failed to sync user %d: %v", user.ID, err)
			continue
		}
		result.UsersSynced++
	}

	reports, err := s.records.ListReports(ctx)
	if err != nil {
		finish(false, "failed to list reports: "+err.Error())
		return result, err
	}
	for _, report := range reports {
		if err := s.syncReport(ctx, report); err != nil {
			log.Errorf("Failed to sync report %d: %v", report.ID, err)
			continue
		}
		result.ReportsSynced++
	}

	finish(true, "synchronization complete")
	log.Infof("Manual reconciliation finished: %d users, %d reports in %dms",
		result.UsersSynced, result.ReportsSynced, result.DurationMs)
	return result, nil
}

func (s *Syncer) syncUser(ctx context.Context, user models.User) error {
	payload := newReplicaUser(user)
	if user.ReplicaKey != "" {
		return s.replica.Set(ctx, usersPath+"/"+user.ReplicaKey, payload)
	}

	key, err := s.replica.Push(ctx, usersPath, payload)
	if err != nil {
		return err
	}
	// Best effort: a failed write-back only means the next run pushes a
	// fresh child instead of overwriting this one.
	if err := s.records.SetUserReplicaKey(ctx, user.ID, key); err != nil {
		log.Warnf("Failed to record replica key for user %d: %v", user.ID, err)
	}
	return nil
}

func (s *Syncer) syncReport(ctx context.Context, report models.Report) error {
	payload := newReplicaReport(report)
	if report.ReplicaKey != "" {
		return s.replica.Set(ctx, reportsPath+"/"+report.ReplicaKey, payload)
	}

	key, err := s.replica.Push(ctx, reportsPath, payload)
	if err != nil {
		return err
	}
	if err := s.records.SetReportReplicaKey(ctx, report.ID, key); err != nil {
		log.Warnf("Failed to record replica key for report %d: %v", report.ID, err)
	}
	return nil
}

// acquireLease takes the shared lease with a conditional write. It returns
// a release func on success.
func (s *Syncer) acquireLease(ctx context.Context) (func(), error) {
	var lease syncLease
	etag, err := s.replica.GetWithETag(ctx, leasePath, &lease)
	if err != nil {
		return nil, fmt.Errorf("failed to read sync lease: %w", err)
	}

	nowMs := s.now().UnixMilli()
	if lease.Owner != "" && lease.Owner != s.owner && lease.ExpiresAt > nowMs {
		return nil, ErrSyncInProgress
	}

	next := syncLease{
		Owner:     s.owner,
		ExpiresAt: nowMs + s.leaseTTL.Milliseconds(),
	}
	if err := s.replica.SetIfMatch(ctx, leasePath, etag, next); err != nil {
		if errors.Is(err, realtime.ErrPreconditionFailed) {
			return nil, ErrSyncInProgress
		}
		return nil, fmt.Errorf("failed to acquire sync lease: %w", err)
	}

	release := func() {
		// request context may already be gone when the run ends
		if err := s.replica.Delete(context.Background(), leasePath); err != nil {
			log.Warnf("Failed to release sync lease: %v", err)
		}
	}
	return release, nil
}
