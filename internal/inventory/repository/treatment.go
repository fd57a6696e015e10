package repository

import (
	"context"
	"strconv"
	"strings"

	"github.com/medflow/nurse-station/internal/sheet"
	"github.com/medflow/nurse-station/pkg/errors"
)

// Treatment is a row of the treatment table. Medicine holds the raw item
// list; Items is its decoded form.
type Treatment struct {
	ID                  string  `sheet:"id" json:"id"`
	VisitDate           string  `sheet:"visit_date" json:"visit_date"`
	PatientName         string  `sheet:"patient_name" json:"patient_name"`
	Department          string  `sheet:"department" json:"department"`
	SymptomGroup        string  `sheet:"symptom_group" json:"symptom_group"`
	SymptomDetail       string  `sheet:"symptom_detail" json:"symptom_detail"`
	Medicine            string  `sheet:"medicine" json:"-"`
	Allergy             string  `sheet:"allergy" json:"allergy"`
	AllergyDetail       string  `sheet:"allergy_detail" json:"allergy_detail"`
	OccupationalDisease string  `sheet:"occupational_disease" json:"occupational_disease"`
	DoctorOpinion       string  `sheet:"doctor_opinion" json:"doctor_opinion"`
	Items               []Entry `sheet:"-" json:"items"`
	// ItemsErr is set when the stored item list could not be read.
	ItemsErr error `sheet:"-" json:"-"`
}

// YearMonth extracts year and month from a visit date of the form
// YYYY-MM[-DD...]. ok is false when the date is too short or not numeric.
func (t *Treatment) YearMonth() (year, month int, ok bool) {
	d := strings.TrimSpace(t.VisitDate)
	if len(d) < 4 {
		return 0, 0, false
	}
	y, err := strconv.Atoi(d[:4])
	if err != nil {
		return 0, 0, false
	}
	if len(d) < 7 {
		return y, 0, true
	}
	m, err := strconv.Atoi(d[5:7])
	if err != nil {
		return y, 0, true
	}
	return y, m, true
}

// TreatmentRepository reads and writes treatment rows.
type TreatmentRepository struct {
	backend sheet.Backend
}

// NewTreatmentRepository creates a new treatment repository
func NewTreatmentRepository(backend sheet.Backend) *TreatmentRepository {
	return &TreatmentRepository{backend: backend}
}

// List returns up to limit treatment rows in backend order.
func (r *TreatmentRepository) List(ctx context.Context, limit int) ([]*Treatment, error) {
	res := r.backend.List(ctx, sheet.TableTreatment, limit)
	if err := res.Err("list treatment"); err != nil {
		return nil, err
	}
	rows, err := res.Rows()
	if err != nil {
		return nil, errors.Backend("list treatment", err.Error())
	}
	out := make([]*Treatment, 0, len(rows))
	for _, row := range rows {
		t, err := treatmentFromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// GetByID returns one treatment.
func (r *TreatmentRepository) GetByID(ctx context.Context, id string) (*Treatment, error) {
	res := r.backend.Get(ctx, sheet.TableTreatment, id)
	if err := res.Err("get treatment"); err != nil {
		return nil, err
	}
	row, err := res.Row()
	if err != nil {
		return nil, errors.Backend("get treatment", err.Error())
	}
	if row == nil {
		return nil, errors.NotFound("treatment")
	}
	return treatmentFromRow(row)
}

// Create appends a treatment and sets t.ID.
func (r *TreatmentRepository) Create(ctx context.Context, t *Treatment) error {
	res := r.backend.Append(ctx, sheet.TableTreatment, payloadOf(t))
	if err := res.Err("append treatment"); err != nil {
		return err
	}
	t.ID = res.ID
	return nil
}

// Update rewrites a treatment's metadata and item list.
func (r *TreatmentRepository) Update(ctx context.Context, t *Treatment) error {
	return r.backend.Update(ctx, sheet.TableTreatment, t.ID, payloadOf(t)).Err("update treatment")
}

// Delete removes a treatment.
func (r *TreatmentRepository) Delete(ctx context.Context, id string) error {
	return r.backend.Delete(ctx, sheet.TableTreatment, id).Err("delete treatment")
}

func payloadOf(t *Treatment) map[string]any {
	return map[string]any{
		"visit_date":           t.VisitDate,
		"patient_name":         t.PatientName,
		"department":           t.Department,
		"symptom_group":        t.SymptomGroup,
		"symptom_detail":       t.SymptomDetail,
		"medicine":             EncodeEntries(t.Items),
		"allergy":              t.Allergy,
		"allergy_detail":       t.AllergyDetail,
		"occupational_disease": t.OccupationalDisease,
		"doctor_opinion":       t.DoctorOpinion,
	}
}

func treatmentFromRow(row sheet.Row) (*Treatment, error) {
	var t Treatment
	if err := decodeRow(row, &t); err != nil {
		return nil, errors.Backend("decode treatment", err.Error())
	}
	t.Items, t.ItemsErr = ParseEntries(t.Medicine, t.SymptomGroup)
	if t.Items == nil {
		t.Items = []Entry{}
	}
	return &t, nil
}
