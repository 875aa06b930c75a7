package services

import (
	"time"

	"github.com/shopspring/decimal"

	"signalement-service/models"
)

// The replica tree was populated over time by several mobile client
// generations, so its children carry the original French field names and
// plain JSON numbers. These types fold that shape into the canonical models
// and back.

type replicaReport struct {
	RecordID     int64    `json:"recordId,omitempty"`
	ClientRef    string   `json:"clientRef,omitempty"`
	Localisation string   `json:"localisation,omitempty"`
	Latitude     float64  `json:"latitude"`
	Longitude    float64  `json:"longitude"`
	Description  string   `json:"description,omitempty"`
	Statut       string   `json:"statut,omitempty"`
	Surface      float64  `json:"surface,omitempty"`
	BudgetEstime float64  `json:"budgetEstime,omitempty"`
	BudgetReel   float64  `json:"budgetReel,omitempty"`
	Entreprise   string   `json:"entreprise,omitempty"`
	CreePar      string   `json:"creePar,omitempty"`
	DateCreation string   `json:"dateCreation,omitempty"`
	DateEnCours  string   `json:"dateEnCours,omitempty"`
	DateTermine  string   `json:"dateTermine,omitempty"`
	Photos       []string `json:"photos,omitempty"`

	// set once the record also exists in the system of record
	SyncedWithPostgres bool `json:"syncedWithPostgres"`
}

func (i replicaReport) empty() bool {
	return i.Localisation == "" && i.CreePar == "" && i.DateCreation == ""
}

func (i replicaReport) canonical(key string) models.Report {
	r := models.Report{
		ID:              i.RecordID,
		ReplicaKey:      key,
		ClientRef:       i.ClientRef,
		Location:        i.Localisation,
		Latitude:        i.Latitude,
		Longitude:       i.Longitude,
		Description:     i.Description,
		Status:          models.NormalizeStatus(i.Statut),
		Surface:         i.Surface,
		BudgetEstimated: decimal.NewFromFloat(i.BudgetEstime),
		BudgetActual:    decimal.NewFromFloat(i.BudgetReel),
		Company:         i.Entreprise,
		CreatedBy:       i.CreePar,
		CreatedAt:       parseTime(i.DateCreation),
		InProgressAt:    parseTimePtr(i.DateEnCours),
		DoneAt:          parseTimePtr(i.DateTermine),
		Photos:          i.Photos,
	}
	if i.Statut == "" {
		r.Status = models.StatusNew
	}
	if r.Photos == nil {
		r.Photos = []string{}
	}
	return r
}

func newReplicaReport(r models.Report) replicaReport {
	return replicaReport{
		RecordID:           r.ID,
		ClientRef:          r.ClientRef,
		Localisation:       r.Location,
		Latitude:           r.Latitude,
		Longitude:          r.Longitude,
		Description:        r.Description,
		Statut:             string(r.Status),
		Surface:            r.Surface,
		BudgetEstime:       r.BudgetEstimated.InexactFloat64(),
		BudgetReel:         r.BudgetActual.InexactFloat64(),
		Entreprise:         r.Company,
		CreePar:            r.CreatedBy,
		DateCreation:       formatTime(r.CreatedAt),
		DateEnCours:        formatTimePtr(r.InProgressAt),
		DateTermine:        formatTimePtr(r.DoneAt),
		Photos:             r.Photos,
		SyncedWithPostgres: r.ID != 0,
	}
}

type replicaUser struct {
	RecordID          int64  `json:"recordId,omitempty"`
	Email             string `json:"email"`
	Nom               string `json:"nom,omitempty"`
	Role              string `json:"role,omitempty"`
	Bloque            bool   `json:"bloque"`
	DateCreation      string `json:"dateCreation,omitempty"`
	DerniereConnexion string `json:"derniereConnexion,omitempty"`
}

func newReplicaUser(u models.User) replicaUser {
	return replicaUser{
		RecordID:          u.ID,
		Email:             u.Email,
		Nom:               u.Name,
		Role:              u.Role,
		Bloque:            u.Blocked,
		DateCreation:      formatTime(u.CreatedAt),
		DerniereConnexion: formatTimePtr(u.LastLoginAt),
	}
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", time.DateTime} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func parseTimePtr(s string) *time.Time {
	if s == "" {
		return nil
	}
	t := parseTime(s)
	if t.IsZero() {
		return nil
	}
	return &t
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
