package recordstore

import (
	"time"

	"github.com/shopspring/decimal"

	"signalement-service/models"
)

// The record store speaks the original backend's wire shape (French field
// names, RFC3339 timestamps as strings). These DTOs isolate that shape from
// the canonical models presented to the rest of the service.

type loginDTO struct {
	Token        string  `json:"token"`
	RefreshToken string  `json:"refreshToken"`
	ExpiresIn    int     `json:"expiresIn"`
	Utilisateur  userDTO `json:"utilisateur"`
}

type reportDTO struct {
	ID           int64           `json:"id"`
	FirebaseID   string          `json:"firebaseId,omitempty"`
	ClientRef    string          `json:"clientRef,omitempty"`
	Localisation string          `json:"localisation"`
	Latitude     float64         `json:"latitude"`
	Longitude    float64         `json:"longitude"`
	Description  string          `json:"description"`
	Statut       string          `json:"statut"`
	Surface      float64         `json:"surface"`
	BudgetEstime decimal.Decimal `json:"budgetEstime"`
	BudgetReel   decimal.Decimal `json:"budgetReel"`
	Entreprise   string          `json:"entreprise,omitempty"`
	CreePar      string          `json:"creePar"`
	DateCreation string          `json:"dateCreation"`
	DateEnCours  string          `json:"dateEnCours,omitempty"`
	DateTermine  string          `json:"dateTermine,omitempty"`
	Photos       []string        `json:"photos"`
}

func newReportDTO(r models.Report) reportDTO {
	return reportDTO{
		ID:           r.ID,
		FirebaseID:   r.ReplicaKey,
		ClientRef:    r.ClientRef,
		Localisation: r.Location,
		Latitude:     r.Latitude,
		Longitude:    r.Longitude,
		Description:  r.Description,
		Statut:       string(r.Status),
		Surface:      r.Surface,
		BudgetEstime: r.BudgetEstimated,
		BudgetReel:   r.BudgetActual,
		Entreprise:   r.Company,
		CreePar:      r.CreatedBy,
		DateCreation: formatTime(r.CreatedAt),
		DateEnCours:  formatTimePtr(r.InProgressAt),
		DateTermine:  formatTimePtr(r.DoneAt),
		Photos:       r.Photos,
	}
}

func (d reportDTO) canonical() models.Report {
	r := models.Report{
		ID:              d.ID,
		ReplicaKey:      d.FirebaseID,
		ClientRef:       d.ClientRef,
		Location:        d.Localisation,
		Latitude:        d.Latitude,
		Longitude:       d.Longitude,
		Description:     d.Description,
		Status:          models.NormalizeStatus(d.Statut),
		Surface:         d.Surface,
		BudgetEstimated: d.BudgetEstime,
		BudgetActual:    d.BudgetReel,
		Company:         d.Entreprise,
		CreatedBy:       d.CreePar,
		CreatedAt:       parseTime(d.DateCreation),
		InProgressAt:    parseTimePtr(d.DateEnCours),
		DoneAt:          parseTimePtr(d.DateTermine),
		Photos:          d.Photos,
	}
	if r.Photos == nil {
		r.Photos = []string{}
	}
	return r
}

type userDTO struct {
	ID                 int64  `json:"id"`
	Email              string `json:"email"`
	Nom                string `json:"nom"`
	Role               string `json:"role"`
	Bloque             bool   `json:"bloque"`
	FirebaseUID        string `json:"firebaseUid,omitempty"`
	SyncedWithFirebase bool   `json:"syncedWithFirebase"`
	DateCreation       string `json:"dateCreation"`
	DerniereConnexion  string `json:"derniereConnexion,omitempty"`
}

func (d userDTO) canonical() models.User {
	return models.User{
		ID:              d.ID,
		ReplicaKey:      d.FirebaseUID,
		Email:           d.Email,
		Name:            d.Nom,
		Role:            d.Role,
		Blocked:         d.Bloque,
		SyncedToReplica: d.SyncedWithFirebase,
		CreatedAt:       parseTime(d.DateCreation),
		LastLoginAt:     parseTimePtr(d.DerniereConnexion),
	}
}

type companyDTO struct {
	ID     int64           `json:"id"`
	Nom    string          `json:"nom"`
	PrixM2 decimal.Decimal `json:"prixM2"`
}

func (d companyDTO) canonical() models.Company {
	return models.Company{
		ID:              d.ID,
		Name:            d.Nom,
		PricePerSquareM: d.PrixM2,
	}
}

type historyDTO struct {
	Statut         string `json:"statut"`
	DateChangement string `json:"dateChangement"`
	ModifiePar     string `json:"modifiePar,omitempty"`
	Commentaire    string `json:"commentaire,omitempty"`
}

func (d historyDTO) canonical() models.HistoryEntry {
	return models.HistoryEntry{
		Status:    models.NormalizeStatus(d.Statut),
		ChangedAt: parseTime(d.DateChangement),
		ChangedBy: d.ModifiePar,
		Comment:   d.Commentaire,
	}
}

type statisticsDTO struct {
	Total                 int             `json:"total"`
	Nouveaux              int             `json:"nouveaux"`
	Planifie              int             `json:"planifie"`
	EnCours               int             `json:"enCours"`
	Termines              int             `json:"termines"`
	SurfaceTotale         float64         `json:"surfaceTotale"`
	BudgetTotal           decimal.Decimal `json:"budgetTotal"`
	PourcentageAvancement int             `json:"pourcentageAvancement"`
}

func (d statisticsDTO) canonical() models.Statistics {
	return models.Statistics{
		Total:           d.Total,
		New:             d.Nouveaux,
		Planned:         d.Planifie,
		InProgress:      d.EnCours,
		Done:            d.Termines,
		TotalSurface:    d.SurfaceTotale,
		TotalBudget:     d.BudgetTotal,
		ProgressPercent: d.PourcentageAvancement,
	}
}

// parseTime is best-effort: the two stores are not strict about timestamp
// formats, and a missing or malformed timestamp must not fail a read.
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
