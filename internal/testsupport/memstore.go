// Package testsupport provides an in-memory transactional store for exercising
// the detection and merge services without postgres.
package testsupport

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Ramsey-B/clover/pkg/models"
)

type txKey struct{}

type memoryState struct {
	venues     map[int64]*models.Venue
	events     map[int64]*models.Event
	candidates map[models.VenuePair]*models.FuzzyDuplicateCandidate
	logs       []*models.MergeLogEntry
	nextID     int64
}

func (s memoryState) clone() memoryState {
	c := memoryState{
		venues:     make(map[int64]*models.Venue, len(s.venues)),
		events:     make(map[int64]*models.Event, len(s.events)),
		candidates: make(map[models.VenuePair]*models.FuzzyDuplicateCandidate, len(s.candidates)),
		logs:       make([]*models.MergeLogEntry, len(s.logs)),
		nextID:     s.nextID,
	}
	for id, v := range s.venues {
		c.venues[id] = v.Clone()
	}
	for id, e := range s.events {
		ev := *e
		c.events[id] = &ev
	}
	for pair, cand := range s.candidates {
		cc := *cand
		cc.MatchCriteria = append([]string(nil), cand.MatchCriteria...)
		c.candidates[pair] = &cc
	}
	for i, l := range s.logs {
		ll := *l
		c.logs[i] = &ll
	}
	return c
}

// MemStore implements every store interface the services depend on.
// RunInTx snapshots state and restores it when the callback fails.
type MemStore struct {
	mu    sync.Mutex
	state memoryState

	// Now stamps inserted rows. Defaults to time.Now.
	Now func() time.Time
	// Failures makes the named method return the given error, for rollback tests.
	Failures map[string]error
}

func NewMemStore() *MemStore {
	return &MemStore{
		state: memoryState{
			venues:     map[int64]*models.Venue{},
			events:     map[int64]*models.Event{},
			candidates: map[models.VenuePair]*models.FuzzyDuplicateCandidate{},
		},
		Now:      func() time.Time { return time.Now().UTC() },
		Failures: map[string]error{},
	}
}

func (m *MemStore) fail(method string) error {
	if err, ok := m.Failures[method]; ok {
		return err
	}
	return nil
}

func (m *MemStore) id() int64 {
	m.state.nextID++
	return m.state.nextID
}

// RunInTx runs fn atomically with respect to its own writes. Nested calls join the outer one.
func (m *MemStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}

	m.mu.Lock()
	snapshot := m.state.clone()
	m.mu.Unlock()

	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		m.mu.Lock()
		m.state = snapshot
		m.mu.Unlock()
		return err
	}
	return nil
}

// AddVenue seeds a venue, assigning an id when v.ID is zero.
func (m *MemStore) AddVenue(v *models.Venue) *models.Venue {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v.ID == 0 {
		v.ID = m.id()
	} else if v.ID > m.state.nextID {
		m.state.nextID = v.ID
	}
	if v.InsertedAt.IsZero() {
		v.InsertedAt = m.Now()
	}
	if v.UpdatedAt.IsZero() {
		v.UpdatedAt = v.InsertedAt
	}
	m.state.venues[v.ID] = v.Clone()
	return v
}

// AddEvent seeds an event. It panics on an out-of-range day or a slot collision so
// fixtures stay valid.
func (m *MemStore) AddEvent(venueID int64, dayOfWeek int, startTime string) *models.Event {
	if !models.IsDayOfWeek(dayOfWeek) {
		panic(fmt.Sprintf("day of week %d out of range", dayOfWeek))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e := &models.Event{ID: m.id(), VenueID: venueID, DayOfWeek: dayOfWeek, StartTime: startTime, InsertedAt: m.Now()}
	if m.slotTaken(venueID, e.Slot(), 0) {
		panic(fmt.Sprintf("event slot %s already used by venue %d", e.Slot(), venueID))
	}
	m.state.events[e.ID] = e
	ev := *e
	return &ev
}

func (m *MemStore) slotTaken(venueID int64, slot models.EventSlot, exceptID int64) bool {
	for _, e := range m.state.events {
		if e.ID != exceptID && e.VenueID == venueID && e.Slot() == slot {
			return true
		}
	}
	return false
}

// Venues

func (m *MemStore) GetVenue(_ context.Context, id int64) (*models.Venue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("GetVenue"); err != nil {
		return nil, err
	}
	return m.state.venues[id].Clone(), nil
}

func (m *MemStore) ListVenues(_ context.Context, filter models.VenueFilter) ([]*models.Venue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("ListVenues"); err != nil {
		return nil, err
	}

	out := make([]*models.Venue, 0, len(m.state.venues))
	for _, v := range m.state.venues {
		if v.ID == filter.ExcludeID {
			continue
		}
		if !filter.IncludeDeleted && v.IsDeleted() {
			continue
		}
		if filter.CityID != nil && (v.CityID == nil || *v.CityID != *filter.CityID) {
			continue
		}
		out = append(out, v.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemStore) UpdateVenue(_ context.Context, id int64, update models.VenueUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("UpdateVenue"); err != nil {
		return err
	}
	v, ok := m.state.venues[id]
	if !ok {
		return fmt.Errorf("venue %d: %w", id, models.ErrVenueNotFound)
	}
	update.Apply(v)
	v.UpdatedAt = m.Now()
	return nil
}

func (m *MemStore) SoftDeleteVenue(_ context.Context, id int64, deletedBy string, mergedIntoID int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("SoftDeleteVenue"); err != nil {
		return err
	}
	v, ok := m.state.venues[id]
	if !ok {
		return fmt.Errorf("venue %d: %w", id, models.ErrVenueNotFound)
	}
	if v.IsDeleted() {
		return fmt.Errorf("venue %d: %w", id, models.ErrVenueAlreadyDeleted)
	}
	v.DeletedAt = &at
	v.DeletedBy = &deletedBy
	v.MergedIntoID = &mergedIntoID
	v.UpdatedAt = at
	return nil
}

// Events

func (m *MemStore) ListEventsByVenue(_ context.Context, venueID int64) ([]models.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("ListEventsByVenue"); err != nil {
		return nil, err
	}
	out := make([]models.Event, 0)
	for _, e := range m.state.events {
		if e.VenueID == venueID {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemStore) CountEventsByVenue(ctx context.Context, venueID int64) (int, error) {
	events, err := m.ListEventsByVenue(ctx, venueID)
	return len(events), err
}

// ReassignEvents enforces the (venue, day, start time) uniqueness the schema guarantees.
func (m *MemStore) ReassignEvents(_ context.Context, eventIDs []int64, venueID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("ReassignEvents"); err != nil {
		return 0, err
	}
	var n int64
	for _, id := range eventIDs {
		e, ok := m.state.events[id]
		if !ok {
			continue
		}
		if m.slotTaken(venueID, e.Slot(), e.ID) {
			return n, fmt.Errorf("duplicate key value violates unique constraint events_venue_slot_key: %d %s", venueID, e.Slot())
		}
		e.VenueID = venueID
		e.UpdatedAt = m.Now()
		n++
	}
	return n, nil
}

func (m *MemStore) DeleteEvents(_ context.Context, eventIDs []int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("DeleteEvents"); err != nil {
		return 0, err
	}
	var n int64
	for _, id := range eventIDs {
		if _, ok := m.state.events[id]; ok {
			delete(m.state.events, id)
			n++
		}
	}
	return n, nil
}

// Candidates

func (m *MemStore) InsertCandidate(_ context.Context, c *models.FuzzyDuplicateCandidate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("InsertCandidate"); err != nil {
		return false, err
	}
	if c.Venue1ID == c.Venue2ID {
		return false, fmt.Errorf("self-referential candidate %d", c.Venue1ID)
	}
	pair := models.VenuePair{Low: c.Venue1ID, High: c.Venue2ID}
	if _, exists := m.state.candidates[pair]; exists {
		return false, nil
	}
	cc := *c
	cc.ID = m.id()
	cc.InsertedAt = m.Now()
	cc.UpdatedAt = cc.InsertedAt
	cc.MatchCriteria = append([]string(nil), c.MatchCriteria...)
	m.state.candidates[pair] = &cc
	c.ID = cc.ID
	return true, nil
}

func (m *MemStore) DeleteAllCandidates(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("DeleteAllCandidates"); err != nil {
		return 0, err
	}
	n := int64(len(m.state.candidates))
	m.state.candidates = map[models.VenuePair]*models.FuzzyDuplicateCandidate{}
	return n, nil
}

func (m *MemStore) ListCandidates(_ context.Context, filter models.CandidateFilter) ([]*models.FuzzyDuplicateCandidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("ListCandidates"); err != nil {
		return nil, err
	}
	out := make([]*models.FuzzyDuplicateCandidate, 0, len(m.state.candidates))
	for _, c := range m.state.candidates {
		if filter.Status != "" && c.Status != filter.Status {
			continue
		}
		if c.ConfidenceScore < filter.MinConfidence {
			continue
		}
		cc := *c
		out = append(out, &cc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ConfidenceScore != out[j].ConfidenceScore {
			return out[i].ConfidenceScore > out[j].ConfidenceScore
		}
		return out[i].ID < out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MemStore) CandidateStatistics(_ context.Context) (*models.DuplicateStatistics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("CandidateStatistics"); err != nil {
		return nil, err
	}
	stats := &models.DuplicateStatistics{ByStatus: map[string]int{}}
	var conf, name, loc float64
	for _, c := range m.state.candidates {
		stats.Total++
		stats.ByStatus[c.Status]++
		switch models.ConfidenceBand(c.ConfidenceScore) {
		case models.ConfidenceBandHigh:
			stats.ByConfidence.High++
		case models.ConfidenceBandMedium:
			stats.ByConfidence.Medium++
		default:
			stats.ByConfidence.Low++
		}
		conf += c.ConfidenceScore
		name += c.NameSimilarity
		loc += c.LocationSimilarity
	}
	if stats.Total > 0 {
		n := float64(stats.Total)
		stats.AverageConfidence = conf / n
		stats.AverageNameSimilarity = name / n
		stats.AverageLocationSimilarity = loc / n
	}
	return stats, nil
}

// MarkPendingPairs moves pending rows matching any pair, in either order, to status.
func (m *MemStore) MarkPendingPairs(_ context.Context, pairs []models.VenuePair, status string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("MarkPendingPairs"); err != nil {
		return 0, err
	}
	n := 0
	for _, pair := range pairs {
		c, ok := m.state.candidates[models.NewVenuePair(pair.Low, pair.High)]
		if !ok || c.Status != models.CandidateStatusPending {
			continue
		}
		c.Status = status
		c.UpdatedAt = m.Now()
		n++
	}
	return n, nil
}

// SetCandidateStatus forces a row's status, for fixtures.
func (m *MemStore) SetCandidateStatus(a, b int64, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.state.candidates[models.NewVenuePair(a, b)]; ok {
		c.Status = status
	}
}

// Merge logs

func (m *MemStore) CreateMergeLog(_ context.Context, entry *models.MergeLogEntry) (*models.MergeLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("CreateMergeLog"); err != nil {
		return nil, err
	}
	e := *entry
	e.ID = m.id()
	e.InsertedAt = m.Now()
	m.state.logs = append(m.state.logs, &e)
	out := e
	return &out, nil
}

func (m *MemStore) CreateNotDuplicateLog(_ context.Context, entry *models.MergeLogEntry) (*models.MergeLogEntry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("CreateNotDuplicateLog"); err != nil {
		return nil, false, err
	}
	for _, l := range m.state.logs {
		if l.ActionType == models.ActionTypeNotDuplicate && l.PrimaryVenueID == entry.PrimaryVenueID && l.SecondaryVenueID == entry.SecondaryVenueID {
			out := *l
			return &out, false, nil
		}
	}
	e := *entry
	e.ID = m.id()
	e.InsertedAt = m.Now()
	m.state.logs = append(m.state.logs, &e)
	out := e
	return &out, true, nil
}

func (m *MemStore) GetMergeLog(_ context.Context, id int64) (*models.MergeLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("GetMergeLog"); err != nil {
		return nil, err
	}
	for _, l := range m.state.logs {
		if l.ID == id {
			out := *l
			return &out, nil
		}
	}
	return nil, nil
}

func (m *MemStore) ListMergeLogs(_ context.Context, filter models.MergeHistoryFilter) ([]*models.MergeLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("ListMergeLogs"); err != nil {
		return nil, err
	}
	out := make([]*models.MergeLogEntry, 0)
	for _, l := range m.state.logs {
		if filter.VenueID != 0 && l.PrimaryVenueID != filter.VenueID && l.SecondaryVenueID != filter.VenueID {
			continue
		}
		if filter.ActionType != "" && l.ActionType != filter.ActionType {
			continue
		}
		if filter.From != nil && l.InsertedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && l.InsertedAt.After(*filter.To) {
			continue
		}
		ll := *l
		out = append(out, &ll)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].InsertedAt.Equal(out[j].InsertedAt) {
			return out[i].InsertedAt.After(out[j].InsertedAt)
		}
		return out[i].ID > out[j].ID
	})
	limit := filter.Limit
	if limit <= 0 {
		limit = models.DefaultHistoryLimit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemStore) ListPairsByAction(_ context.Context, actionType string) ([]models.VenuePair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("ListPairsByAction"); err != nil {
		return nil, err
	}
	out := make([]models.VenuePair, 0)
	for _, l := range m.state.logs {
		if l.ActionType == actionType {
			out = append(out, models.NewVenuePair(l.PrimaryVenueID, l.SecondaryVenueID))
		}
	}
	return out, nil
}
