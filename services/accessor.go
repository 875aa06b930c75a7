// Package services holds the dual-store access policy: every logical read or
// write of a signalement goes through the Accessor, which picks a backend
// per call, and the manual reconciliation lives in the Syncer. UI-facing
// code never branches on connectivity itself.
package services

import (
	"context"
	"errors"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/apex/log"
	"github.com/golang/geo/s2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"signalement-service/models"
	"signalement-service/realtime"
	"signalement-service/recordstore"
)

const (
	reportsPath = "signalements"
	usersPath   = "users"
	leasePath   = "sync/lease"
)

var (
	// ErrBothStoresUnavailable means neither the replica nor the system of
	// record could serve the request. List calls still resolve to an empty
	// slice alongside it.
	ErrBothStoresUnavailable = errors.New("both stores unavailable")

	// ErrOffline rejects operations that require connectivity.
	ErrOffline = errors.New("no network connectivity")

	// ErrNotFound means the identifier resolved to no report in either store.
	ErrNotFound = errors.New("report not found")
)

// Prober answers whether the network path to the replica store is usable.
type Prober interface {
	IsOnline() bool
}

// ListFilter narrows a report listing. Zero fields are ignored.
type ListFilter struct {
	Status    models.Status
	CreatedBy string
	Bounds    *s2.Rect
}

// BoundsFromDegrees builds a viewport filter from two corners.
func BoundsFromDegrees(minLat, minLng, maxLat, maxLng float64) *s2.Rect {
	rect := s2.EmptyRect().
		AddPoint(s2.LatLngFromDegrees(minLat, minLng)).
		AddPoint(s2.LatLngFromDegrees(maxLat, maxLng))
	return &rect
}

// Accessor reads and writes signalements against the two stores, replica
// first when online, falling back to the system of record, and presents one
// canonical shape to callers.
type Accessor struct {
	replica *realtime.Client
	records *recordstore.Client
	prober  Prober

	now func() time.Time
}

func NewAccessor(replica *realtime.Client, records *recordstore.Client, prober Prober) *Accessor {
	return &Accessor{
		replica: replica,
		records: records,
		prober:  prober,
		now:     time.Now,
	}
}

// ListReports returns all reports, newest first. The result is never nil:
// if the replica fails the record store serves the read, and if both fail
// the call resolves to an empty slice plus ErrBothStoresUnavailable.
func (a *Accessor) ListReports(ctx context.Context, filter *ListFilter) ([]models.Report, error) {
	if a.prober.IsOnline() {
		var raw map[string]replicaReport
		if err := a.replica.Get(ctx, reportsPath, &raw); err == nil {
			reports := make([]models.Report, 0, len(raw))
			for key, item := range raw {
				reports = append(reports, item.canonical(key))
			}
			sortNewestFirst(reports)
			return applyFilter(reports, filter), nil
		} else {
			log.Warnf("Replica read failed, falling back to record store: %v", err)
		}
	}

	reports, err := a.records.ListReports(ctx)
	if err != nil {
		log.Errorf("Record store fallback failed: %v", err)
		return []models.Report{}, ErrBothStoresUnavailable
	}
	sortNewestFirst(reports)
	return applyFilter(reports, filter), nil
}

// GetReport resolves a single report. Numeric identifiers belong to the
// system of record; any other identifier is a replica child key.
func (a *Accessor) GetReport(ctx context.Context, id string) (*models.Report, error) {
	if n, numeric := numericID(id); numeric {
		report, err := a.records.GetReport(ctx, n)
		if errors.Is(err, recordstore.ErrNotFound) {
			return nil, ErrNotFound
		}
		return report, err
	}

	if !a.prober.IsOnline() {
		return nil, ErrOffline
	}
	var item replicaReport
	if err := a.replica.Get(ctx, reportsPath+"/"+id, &item); err != nil {
		return nil, err
	}
	if item.empty() {
		return nil, ErrNotFound
	}
	report := item.canonical(id)
	return &report, nil
}

// CreateReport stamps the record with its creation timestamp, the initial
// NEW status and a client reference, then writes it to the replica when
// online, falling back to the system of record.
func (a *Accessor) CreateReport(ctx context.Context, req models.CreateReportRequest, createdBy string) (*models.Report, error) {
	now := a.now().UTC()
	report := models.Report{
		ClientRef:       uuid.NewString(),
		Location:        req.Location,
		Latitude:        *req.Latitude,
		Longitude:       *req.Longitude,
		Description:     req.Description,
		Status:          models.StatusNew,
		Surface:         req.Surface,
		BudgetEstimated: req.BudgetEstimated,
		CreatedBy:       createdBy,
		CreatedAt:       now,
		Photos:          req.Photos,
	}
	if report.Photos == nil {
		report.Photos = []string{}
	}

	if a.prober.IsOnline() {
		key, err := a.replica.Push(ctx, reportsPath, newReplicaReport(report))
		if err == nil {
			report.ReplicaKey = key
			return &report, nil
		}
		log.Warnf("Replica write failed, falling back to record store: %v", err)
	}

	created, err := a.records.CreateReport(ctx, report)
	if err != nil {
		return nil, err
	}
	// The stamp is authoritative at write time, not backend-assigned.
	if created.Status == "" {
		created.Status = models.StatusNew
	}
	if created.CreatedAt.IsZero() {
		created.CreatedAt = now
	}
	if created.ClientRef == "" {
		created.ClientRef = report.ClientRef
	}
	return created, nil
}

// UpdateReport applies a partial update against whichever store owns the
// identifier. Stage timestamps only ever move forward: once a report has
// entered a stage, re-entering it does not reset the timestamp.
func (a *Accessor) UpdateReport(ctx context.Context, id string, req models.UpdateReportRequest) (*models.Report, error) {
	now := a.now().UTC()

	if n, numeric := numericID(id); numeric {
		current, err := a.records.GetReport(ctx, n)
		if errors.Is(err, recordstore.ErrNotFound) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, err
		}
		applyUpdate(current, req, now)
		return a.records.UpdateReport(ctx, n, *current)
	}

	if !a.prober.IsOnline() {
		return nil, ErrOffline
	}
	var item replicaReport
	if err := a.replica.Get(ctx, reportsPath+"/"+id, &item); err != nil {
		return nil, err
	}
	if item.empty() {
		return nil, ErrNotFound
	}
	current := item.canonical(id)
	applyUpdate(&current, req, now)
	if err := a.replica.Set(ctx, reportsPath+"/"+id, newReplicaReport(current)); err != nil {
		return nil, err
	}
	return &current, nil
}

// DeleteReport removes a report from the system of record. The replica is
// never hard-deleted; reconciliation overwrites it.
func (a *Accessor) DeleteReport(ctx context.Context, id string) error {
	n, numeric := numericID(id)
	if !numeric {
		return ErrNotFound
	}
	err := a.records.DeleteReport(ctx, n)
	if errors.Is(err, recordstore.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

// Subscribe opens a live change feed on the report subtree. The caller owns
// the subscription and must cancel it.
func (a *Accessor) Subscribe(ctx context.Context) (*realtime.Subscription, error) {
	if !a.prober.IsOnline() {
		return nil, ErrOffline
	}
	return a.replica.Subscribe(ctx, reportsPath)
}

// Statistics serves the dashboard aggregate: the system of record is asked
// first, and when it cannot answer the numbers are computed from whatever
// report listing is reachable.
func (a *Accessor) Statistics(ctx context.Context) (*models.Statistics, error) {
	stats, err := a.records.Statistics(ctx)
	if err == nil {
		return stats, nil
	}
	log.Warnf("Record store statistics failed, computing from reports: %v", err)

	reports, err := a.ListReports(ctx, nil)
	if err != nil {
		return nil, err
	}
	computed := computeStatistics(reports)
	return &computed, nil
}

func computeStatistics(reports []models.Report) models.Statistics {
	stats := models.Statistics{
		Total:       len(reports),
		TotalBudget: decimal.Zero,
	}
	for _, r := range reports {
		switch r.Status {
		case models.StatusNew:
			stats.New++
		case models.StatusPlanned:
			stats.Planned++
		case models.StatusInProgress:
			stats.InProgress++
		case models.StatusDone:
			stats.Done++
		}
		stats.TotalSurface += r.Surface
		stats.TotalBudget = stats.TotalBudget.Add(r.BudgetEstimated)
	}
	if stats.Total > 0 {
		score := stats.Done*100 + stats.InProgress*50
		stats.ProgressPercent = int(math.Round(float64(score) / float64(stats.Total)))
	}
	return stats
}

func applyUpdate(r *models.Report, req models.UpdateReportRequest, now time.Time) {
	if req.Description != nil {
		r.Description = *req.Description
	}
	if req.Surface != nil {
		r.Surface = *req.Surface
	}
	if req.BudgetEstimated != nil {
		r.BudgetEstimated = *req.BudgetEstimated
	}
	if req.BudgetActual != nil {
		r.BudgetActual = *req.BudgetActual
	}
	if req.Company != nil {
		r.Company = *req.Company
	}
	if req.Status != nil {
		status := models.NormalizeStatus(string(*req.Status))
		r.Status = status
		switch status {
		case models.StatusInProgress:
			if r.InProgressAt == nil {
				t := now
				r.InProgressAt = &t
			}
		case models.StatusDone:
			if r.DoneAt == nil {
				t := now
				r.DoneAt = &t
			}
		}
	}
}

func applyFilter(reports []models.Report, filter *ListFilter) []models.Report {
	if filter == nil {
		return reports
	}
	out := make([]models.Report, 0, len(reports))
	for _, r := range reports {
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		if filter.CreatedBy != "" && r.CreatedBy != filter.CreatedBy {
			continue
		}
		if filter.Bounds != nil && !filter.Bounds.ContainsLatLng(s2.LatLngFromDegrees(r.Latitude, r.Longitude)) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func sortNewestFirst(reports []models.Report) {
	sort.Slice(reports, func(i, j int) bool {
		return reports[i].CreatedAt.After(reports[j].CreatedAt)
	})
}

func numericID(id string) (int64, bool) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
