package service

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/medflow/nurse-station/internal/inventory/events"
	"github.com/medflow/nurse-station/internal/inventory/identity"
	"github.com/medflow/nurse-station/internal/inventory/repository"
	"github.com/medflow/nurse-station/pkg/errors"
	"github.com/medflow/nurse-station/pkg/httputil"
	"github.com/medflow/nurse-station/pkg/logger"
	"github.com/medflow/nurse-station/pkg/messaging"
)

// TreatmentInput is the content of a treatment record.
type TreatmentInput struct {
	VisitDate           string             `json:"visit_date"`
	PatientName         string             `json:"patient_name"`
	Department          string             `json:"department"`
	SymptomGroup        string             `json:"symptom_group"`
	SymptomDetail       string             `json:"symptom_detail"`
	Allergy             string             `json:"allergy"`
	AllergyDetail       string             `json:"allergy_detail"`
	OccupationalDisease string             `json:"occupational_disease"`
	DoctorOpinion       string             `json:"doctor_opinion"`
	Items               []repository.Entry `json:"items"`
}

// lotRef identifies a lot across both lot tables.
type lotRef struct {
	kind repository.LotKind
	id   string
}

func (r lotRef) key() string { return r.kind.Table() + "/" + r.id }

func (r lotRef) other() lotRef {
	if r.kind == repository.LotOther {
		return lotRef{kind: repository.LotMedicine, id: r.id}
	}
	return lotRef{kind: repository.LotOther, id: r.id}
}

// adjustment is a pending change to one lot.
type adjustment struct {
	ref    lotRef
	name   string
	delta  int
	lot    *repository.Lot
	remain int
}

// ReconcileService keeps lot stock in step with treatment records.
type ReconcileService struct {
	lotRepo       *repository.LotRepository
	treatmentRepo *repository.TreatmentRepository
	resolver      *identity.Resolver
	publisher     *events.InventoryEventPublisher
	locks         *lockSet
	logger        *logger.Logger
}

// NewReconcileService creates a new reconcile service. publisher may be nil.
func NewReconcileService(
	lotRepo *repository.LotRepository,
	treatmentRepo *repository.TreatmentRepository,
	resolver *identity.Resolver,
	publisher *events.InventoryEventPublisher,
	log *logger.Logger,
) *ReconcileService {
	return &ReconcileService{
		lotRepo:       lotRepo,
		treatmentRepo: treatmentRepo,
		resolver:      resolver,
		publisher:     publisher,
		locks:         newLockSet(),
		logger:        log.WithComponent("reconcile"),
	}
}

// Get returns one treatment.
func (s *ReconcileService) Get(ctx context.Context, id string) (*repository.Treatment, error) {
	return s.treatmentRepo.GetByID(ctx, id)
}

// List returns up to limit treatments in backend order.
func (s *ReconcileService) List(ctx context.Context, limit int) ([]*repository.Treatment, error) {
	return s.treatmentRepo.List(ctx, limit)
}

// Commit records a new treatment and takes its items out of stock. Every
// entry is checked against its lot before any lot is written, so a commit
// that fails validation changes nothing.
func (s *ReconcileService) Commit(ctx context.Context, in TreatmentInput) (*repository.Treatment, error) {
	if len(in.Items) == 0 {
		return nil, errors.InvalidField("items", "at least one item is required")
	}
	entries, err := s.prepareEntries(in.Items, in.SymptomGroup)
	if err != nil {
		return nil, err
	}

	adjs := collect(entries, -1, nil)
	unlock := s.locks.Lock(lockKeys(adjs, false)...)
	defer unlock()

	if err := s.loadAll(ctx, adjs, false); err != nil {
		return nil, err
	}
	if err := s.check(adjs); err != nil {
		s.logger.Warn().Err(err).Msg("treatment commit rejected")
		return nil, err
	}
	if err := s.apply(ctx, adjs); err != nil {
		return nil, err
	}

	t := treatmentFrom(in, entries)
	if err := s.treatmentRepo.Create(ctx, t); err != nil {
		s.logger.Error().Err(err).
			Int("lots_written", len(adjs)).
			Msg("stock was cut but the treatment record could not be written")
		return nil, err
	}

	s.publish(ctx, adjs, messaging.ReasonTreatmentCommit, t.ID)
	s.logger.Info().Str("treatment_id", t.ID).Int("items", len(entries)).Msg("treatment committed")
	return t, nil
}

// Edit replaces a treatment's content. Stock moves by the net difference
// between the old and new item lists, one write per lot, and lots whose
// net change is zero are not touched. If any lot would go negative nothing
// is written.
func (s *ReconcileService) Edit(ctx context.Context, id string, in TreatmentInput) (*repository.Treatment, error) {
	entries, err := s.prepareEntries(in.Items, in.SymptomGroup)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock("treatment/" + id)
	defer unlock()

	old, err := s.treatmentRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if old.ItemsErr != nil {
		s.logger.Warn().Err(old.ItemsErr).Str("treatment_id", id).Msg("stored item list unreadable, treating as empty")
	}

	adjs := collect(old.Items, +1, nil)
	adjs = collect(entries, -1, adjs)
	adjs = nonZero(adjs)

	unlockLots := s.locks.Lock(lockKeys(adjs, true)...)
	defer unlockLots()

	if err := s.loadAll(ctx, adjs, true); err != nil {
		return nil, err
	}
	adjs = nonZero(merge(adjs))
	if err := s.check(adjs); err != nil {
		s.logger.Warn().Err(err).Str("treatment_id", id).Msg("treatment edit rejected")
		return nil, err
	}
	if err := s.apply(ctx, adjs); err != nil {
		return nil, err
	}

	t := treatmentFrom(in, entries)
	t.ID = old.ID
	if err := s.treatmentRepo.Update(ctx, t); err != nil {
		s.logger.Error().Err(err).
			Str("treatment_id", id).
			Int("lots_written", len(adjs)).
			Msg("stock was adjusted but the treatment record could not be updated")
		return nil, err
	}

	s.publish(ctx, adjs, messaging.ReasonTreatmentEdit, t.ID)
	s.logger.Info().Str("treatment_id", t.ID).Int("lots_adjusted", len(adjs)).Msg("treatment edited")
	return t, nil
}

// Delete removes a treatment and returns its items to stock. Lots that no
// longer exist are skipped.
func (s *ReconcileService) Delete(ctx context.Context, id string) error {
	unlock := s.locks.Lock("treatment/" + id)
	defer unlock()

	old, err := s.treatmentRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if old.ItemsErr != nil {
		s.logger.Warn().Err(old.ItemsErr).Str("treatment_id", id).Msg("stored item list unreadable, no stock restored")
	}

	adjs := nonZero(collect(old.Items, +1, nil))
	unlockLots := s.locks.Lock(lockKeys(adjs, true)...)
	defer unlockLots()

	missing, err := s.load(ctx, adjs, true)
	if err != nil {
		return err
	}
	gone := make(map[*adjustment]bool, len(missing))
	for _, a := range missing {
		gone[a] = true
		s.logger.Warn().Str("lot_id", a.ref.id).Str("treatment_id", id).Msg("lot no longer exists, restore skipped")
	}
	var found []*adjustment
	for _, a := range adjs {
		if !gone[a] {
			found = append(found, a)
		}
	}
	found = merge(found)
	if err := s.check(found); err != nil {
		return err
	}
	if err := s.apply(ctx, found); err != nil {
		return err
	}

	if err := s.treatmentRepo.Delete(ctx, id); err != nil {
		s.logger.Error().Err(err).
			Str("treatment_id", id).
			Int("lots_written", len(found)).
			Msg("stock was restored but the treatment record could not be deleted")
		return err
	}

	s.publish(ctx, found, messaging.ReasonTreatmentDelete, id)
	s.logger.Info().Str("treatment_id", id).Int("lots_restored", len(found)).Msg("treatment deleted")
	return nil
}

// CutInput takes qty units out of one lot outside any treatment.
type CutInput struct {
	LotID string `json:"lot_id" validate:"required"`
	Qty   int    `json:"qty" validate:"gt=0"`
	Type  string `json:"type"`
}

// CutStock decrements one lot.
func (s *ReconcileService) CutStock(ctx context.Context, in CutInput) (*repository.Lot, error) {
	entries, err := s.prepareEntries([]repository.Entry{{LotID: in.LotID, Qty: in.Qty, Type: in.Type}}, "")
	if err != nil {
		return nil, err
	}

	adjs := collect(entries, -1, nil)
	unlock := s.locks.Lock(lockKeys(adjs, false)...)
	defer unlock()

	if err := s.loadAll(ctx, adjs, false); err != nil {
		return nil, err
	}
	if err := s.check(adjs); err != nil {
		return nil, err
	}
	if err := s.apply(ctx, adjs); err != nil {
		return nil, err
	}
	s.publish(ctx, adjs, messaging.ReasonCut, "")

	a := adjs[0]
	a.lot.QtyRemain = a.remain
	s.logger.Info().Str("lot_id", a.lot.ID).Int("qty", in.Qty).Int("remain", a.remain).Msg("stock cut")
	return a.lot, nil
}

// prepareEntries validates request entries, routes each to its lot table
// and canonicalizes shared medicine names.
func (s *ReconcileService) prepareEntries(in []repository.Entry, group string) ([]repository.Entry, error) {
	details := map[string]string{}
	out := make([]repository.Entry, 0, len(in))
	for i, e := range in {
		e.LotID = strings.TrimSpace(e.LotID)
		if e.LotID == "" {
			details[itemField(i, "lot_id")] = "required"
		}
		if e.Qty <= 0 {
			details[itemField(i, "qty")] = "must be greater than 0"
		}
		out = append(out, e)
	}
	if len(details) > 0 {
		return nil, errors.Validation(details)
	}

	out = repository.ResolveKinds(out, group)
	for i := range out {
		e := &out[i]
		e.Name = identity.DisplayName(e.Name)
		if e.Name != "" && s.resolver.IsShared(e.Name) {
			e.Name = s.resolver.Canonicalize(e.Name)
		}
		if e.Kind == repository.LotOther && strings.TrimSpace(e.Type) == "" {
			e.Type = string(repository.KindOther)
		}
	}
	return out, nil
}

func itemField(i int, field string) string {
	return "items[" + strconv.Itoa(i) + "]." + field
}

// collect adds sign*qty of every entry to the adjustment of its lot,
// keeping first-seen order.
func collect(entries []repository.Entry, sign int, adjs []*adjustment) []*adjustment {
	idx := make(map[lotRef]*adjustment, len(adjs))
	for _, a := range adjs {
		idx[a.ref] = a
	}
	for _, e := range entries {
		ref := lotRef{kind: e.Kind, id: strings.TrimSpace(e.LotID)}
		if ref.id == "" || e.Qty <= 0 {
			continue
		}
		a, ok := idx[ref]
		if !ok {
			a = &adjustment{ref: ref}
			idx[ref] = a
			adjs = append(adjs, a)
		}
		if a.name == "" {
			a.name = e.Name
		}
		a.delta += sign * e.Qty
	}
	return adjs
}

// merge folds adjustments that resolved to the same lot into one.
func merge(adjs []*adjustment) []*adjustment {
	idx := make(map[lotRef]*adjustment, len(adjs))
	out := adjs[:0]
	for _, a := range adjs {
		if prev, ok := idx[a.ref]; ok {
			prev.delta += a.delta
			if prev.name == "" {
				prev.name = a.name
			}
			continue
		}
		idx[a.ref] = a
		out = append(out, a)
	}
	return out
}

func nonZero(adjs []*adjustment) []*adjustment {
	out := adjs[:0]
	for _, a := range adjs {
		if a.delta != 0 {
			out = append(out, a)
		}
	}
	return out
}

// lockKeys returns the lock keys of the adjusted lots. With both set, the
// same id in the other lot table is locked too, since resolve may move an
// adjustment there.
func lockKeys(adjs []*adjustment, both bool) []string {
	keys := make([]string, 0, len(adjs)*2)
	for _, a := range adjs {
		keys = append(keys, a.ref.key())
		if both {
			keys = append(keys, a.ref.other().key())
		}
	}
	return keys
}

// load fetches the lot of every adjustment, batched per table when the
// backend allows. With crossTable set, an id absent from its declared table
// is looked up in the other one and the adjustment moves there. Adjustments
// whose lot exists nowhere are returned as missing.
func (s *ReconcileService) load(ctx context.Context, adjs []*adjustment, crossTable bool) (missing []*adjustment, err error) {
	byKind := map[repository.LotKind][]*adjustment{}
	for _, a := range adjs {
		byKind[a.ref.kind] = append(byKind[a.ref.kind], a)
	}

	batched := map[repository.LotKind]bool{}
	for kind, group := range byKind {
		ids := make([]string, 0, len(group))
		for _, a := range group {
			ids = append(ids, a.ref.id)
		}
		lots, err := s.lotRepo.BatchGet(ctx, kind, ids)
		if err != nil {
			s.logger.Debug().Err(err).Str("lot_table", kind.Table()).Msg("batch get unavailable, fetching lots one by one")
			continue
		}
		batched[kind] = true
		for _, a := range group {
			a.lot = lots[a.ref.id]
		}
	}

	for _, a := range adjs {
		if a.lot != nil {
			continue
		}
		if !batched[a.ref.kind] {
			lot, err := s.lotRepo.GetByID(ctx, a.ref.kind, a.ref.id)
			switch {
			case err == nil:
				a.lot = lot
				continue
			case !errors.Is(err, errors.ErrNotFound):
				return nil, err
			}
		}
		if crossTable {
			found, err := s.lookElsewhere(ctx, a)
			if err != nil {
				return nil, err
			}
			if found {
				continue
			}
		}
		missing = append(missing, a)
	}
	return missing, nil
}

// lookElsewhere tries the other lot table for an id that is absent from
// its declared table.
func (s *ReconcileService) lookElsewhere(ctx context.Context, a *adjustment) (bool, error) {
	alt := a.ref.other()
	lot, err := s.lotRepo.GetByID(ctx, alt.kind, alt.id)
	if errors.Is(err, errors.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	s.logger.Warn().
		Str("lot_id", a.ref.id).
		Str("declared", a.ref.kind.Table()).
		Str("found", alt.kind.Table()).
		Msg("lot found in the other lot table")
	a.ref = alt
	a.lot = lot
	return true, nil
}

// loadAll is load for operations where every lot must exist.
func (s *ReconcileService) loadAll(ctx context.Context, adjs []*adjustment, crossTable bool) error {
	missing, err := s.load(ctx, adjs, crossTable)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return errors.NotFound("lot " + missing[0].ref.id)
	}
	return nil
}

// check computes the new remain of every adjustment and fails on the first
// lot that would go negative. Restores are clamped at qty_total.
func (s *ReconcileService) check(adjs []*adjustment) error {
	for _, a := range adjs {
		remain := a.lot.QtyRemain + a.delta
		if remain < 0 {
			name := a.name
			if name == "" {
				name = a.lot.ItemName
			}
			return errors.InsufficientStock(a.lot.ID, name, a.lot.QtyRemain, -a.delta)
		}
		if a.delta > 0 && a.lot.QtyTotal > 0 && remain > a.lot.QtyTotal {
			s.logger.Warn().
				Str("lot_id", a.lot.ID).
				Int("remain", remain).
				Int("qty_total", a.lot.QtyTotal).
				Msg("restored stock exceeds lot total, clamping")
			remain = a.lot.QtyTotal
		}
		a.remain = remain
	}
	return nil
}

// apply writes the computed remains, one batch per lot table when the
// backend allows and lot by lot otherwise.
func (s *ReconcileService) apply(ctx context.Context, adjs []*adjustment) error {
	byKind := map[repository.LotKind]map[string]int{}
	for _, a := range adjs {
		if a.remain == a.lot.QtyRemain {
			continue
		}
		if byKind[a.ref.kind] == nil {
			byKind[a.ref.kind] = map[string]int{}
		}
		byKind[a.ref.kind][a.lot.ID] = a.remain
	}

	kinds := make([]repository.LotKind, 0, len(byKind))
	for k := range byKind {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	for _, kind := range kinds {
		remains := byKind[kind]
		if len(remains) > 1 {
			err := s.lotRepo.SetRemainBatch(ctx, kind, remains)
			if err == nil {
				continue
			}
			s.logger.Debug().Err(err).Str("lot_table", kind.Table()).Msg("batch update unavailable, writing lots one by one")
		}
		ids := make([]string, 0, len(remains))
		for id := range remains {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			if err := s.lotRepo.SetRemain(ctx, kind, id, remains[id]); err != nil {
				s.logger.Error().Err(err).Str("lot_table", kind.Table()).Str("lot_id", id).Msg("stock write failed")
				return err
			}
		}
	}
	return nil
}

func (s *ReconcileService) publish(ctx context.Context, adjs []*adjustment, reason, treatmentID string) {
	userID := httputil.GetUserID(ctx)
	for _, a := range adjs {
		if a.remain == a.lot.QtyRemain {
			continue
		}
		s.publisher.PublishStockAdjusted(ctx, messaging.StockAdjustedEvent{
			LotTable:    a.ref.kind.Table(),
			LotID:       a.lot.ID,
			Delta:       a.remain - a.lot.QtyRemain,
			NewRemain:   a.remain,
			Reason:      reason,
			TreatmentID: treatmentID,
			PerformedBy: userID,
		})
	}
}

func treatmentFrom(in TreatmentInput, entries []repository.Entry) *repository.Treatment {
	return &repository.Treatment{
		VisitDate:           strings.TrimSpace(in.VisitDate),
		PatientName:         strings.TrimSpace(in.PatientName),
		Department:          strings.TrimSpace(in.Department),
		SymptomGroup:        strings.TrimSpace(in.SymptomGroup),
		SymptomDetail:       strings.TrimSpace(in.SymptomDetail),
		Allergy:             strings.TrimSpace(in.Allergy),
		AllergyDetail:       strings.TrimSpace(in.AllergyDetail),
		OccupationalDisease: strings.TrimSpace(in.OccupationalDisease),
		DoctorOpinion:       strings.TrimSpace(in.DoctorOpinion),
		Items:               entries,
	}
}
