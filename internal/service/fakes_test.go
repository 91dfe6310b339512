package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/webill/internal/auth"
	"github.com/septivank/webill/internal/db"
	"github.com/septivank/webill/internal/document"
	"github.com/septivank/webill/internal/geo"
	"github.com/septivank/webill/internal/notify"
	"github.com/septivank/webill/internal/ocr"
	"github.com/septivank/webill/internal/repository"
	"github.com/septivank/webill/internal/storage"
	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"
)

// memStore is an in-memory Store enforcing the same constraints as the schema
type memStore struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]*db.Account
	meters   map[uuid.UUID]*db.Meter
	readings map[uuid.UUID]*db.Reading
	bills    map[uuid.UUID]*db.Bill
	settings *db.SystemSettings

	failInsertReading error
	failInsertBill    error
	failGetSettings   error
}

func newMemStore() *memStore {
	return &memStore{
		accounts: map[uuid.UUID]*db.Account{},
		meters:   map[uuid.UUID]*db.Meter{},
		readings: map[uuid.UUID]*db.Reading{},
		bills:    map[uuid.UUID]*db.Bill{},
	}
}

func notFound(what string) error {
	return fmt.Errorf("get %s: %w", what, repository.ErrNotFound)
}

func (m *memStore) GetAccount(_ context.Context, id uuid.UUID) (*db.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, notFound("account")
	}
	cp := *a
	return &cp, nil
}

func (m *memStore) PurgeDisabledAccounts(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, a := range m.accounts {
		if a.IsEnabled || a.DisabledAt == nil || !a.DisabledAt.Before(cutoff) {
			continue
		}
		owns := false
		for _, meter := range m.meters {
			if meter.ConsumerID != nil && *meter.ConsumerID == id {
				owns = true
			}
		}
		if !owns {
			delete(m.accounts, id)
			n++
		}
	}
	return n, nil
}

func (m *memStore) GetMeter(_ context.Context, id uuid.UUID) (*db.Meter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	meter, ok := m.meters[id]
	if !ok {
		return nil, notFound("meter")
	}
	cp := *meter
	return &cp, nil
}

func (m *memStore) AssignMeter(_ context.Context, meterID, consumerID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	meter, ok := m.meters[meterID]
	if !ok {
		return false, nil
	}
	if meter.ConsumerID != nil && *meter.ConsumerID != consumerID {
		return false, nil
	}
	meter.ConsumerID = &consumerID
	return true, nil
}

func (m *memStore) UnassignMeter(_ context.Context, meterID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	meter, ok := m.meters[meterID]
	if !ok {
		return notFound("meter")
	}
	meter.ConsumerID = nil
	return nil
}

func (m *memStore) ListMetersMissingReading(_ context.Context, month, year int) ([]db.Meter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []db.Meter
	for _, meter := range m.meters {
		if !meter.IsEnabled || meter.ConsumerID == nil || m.activeLocked(meter.ID, month, year) {
			continue
		}
		out = append(out, *meter)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (m *memStore) activeLocked(meterID uuid.UUID, month, year int) bool {
	for _, r := range m.readings {
		if r.MeterID == meterID && r.Month == month && r.Year == year &&
			(r.State == db.ReadingPending || r.State == db.ReadingValidated) {
			return true
		}
	}
	return false
}

func (m *memStore) InsertReading(_ context.Context, r *db.Reading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failInsertReading != nil {
		return m.failInsertReading
	}
	if m.activeLocked(r.MeterID, r.Month, r.Year) {
		return fmt.Errorf("insert reading: %w", repository.ErrUniqueViolation)
	}
	r.ID = uuid.New()
	r.CreatedAt = time.Now().UTC()
	r.UpdatedAt = r.CreatedAt
	cp := *r
	m.readings[r.ID] = &cp
	return nil
}

func (m *memStore) GetReading(_ context.Context, id uuid.UUID) (*db.Reading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.readings[id]
	if !ok {
		return nil, notFound("reading")
	}
	cp := *r
	return &cp, nil
}

func (m *memStore) ActiveReadingExists(_ context.Context, meterID uuid.UUID, month, year int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeLocked(meterID, month, year), nil
}

func (m *memStore) AcceptedHistory(_ context.Context, meterID uuid.UUID, month, year, limit int) ([]db.Reading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []db.Reading
	for _, r := range m.readings {
		if r.MeterID != meterID || r.State != db.ReadingValidated {
			continue
		}
		if r.Year < year || (r.Year == year && r.Month < month) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Year != out[j].Year {
			return out[i].Year > out[j].Year
		}
		return out[i].Month > out[j].Month
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) DecideReading(_ context.Context, id uuid.UUID, state db.ReadingState, decidedBy uuid.UUID, reasons []string, at time.Time) (*db.Reading, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.readings[id]
	if !ok || r.State != db.ReadingPending {
		return nil, false, nil
	}
	r.State = state
	r.DecidedBy = &decidedBy
	r.DecidedAt = &at
	r.ValidationErrors = reasons
	cp := *r
	return &cp, true, nil
}

func (m *memStore) ListReadings(_ context.Context, f repository.ReadingFilter) ([]db.Reading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []db.Reading{}
	for _, r := range m.readings {
		if f.AccountID != nil && r.AccountID != *f.AccountID {
			continue
		}
		if f.MeterID != nil && r.MeterID != *f.MeterID {
			continue
		}
		if f.State != nil && r.State != *f.State {
			continue
		}
		out = append(out, *r)
	}
	return out, nil
}

func (m *memStore) InsertBill(_ context.Context, b *db.Bill) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failInsertBill != nil {
		return m.failInsertBill
	}
	for _, existing := range m.bills {
		if existing.ReadingID == b.ReadingID {
			return fmt.Errorf("insert bill: %w", repository.ErrUniqueViolation)
		}
	}
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	b.CreatedAt = time.Now().UTC()
	cp := *b
	m.bills[b.ID] = &cp
	return nil
}

func (m *memStore) GetBill(_ context.Context, id uuid.UUID) (*db.Bill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bills[id]
	if !ok {
		return nil, notFound("bill")
	}
	cp := *b
	return &cp, nil
}

func (m *memStore) GetBillByReading(_ context.Context, readingID uuid.UUID) (*db.Bill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.bills {
		if b.ReadingID == readingID {
			cp := *b
			return &cp, nil
		}
	}
	return nil, notFound("bill by reading")
}

func (m *memStore) SetBillPaid(_ context.Context, id uuid.UUID, paid bool) (*db.Bill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bills[id]
	if !ok {
		return nil, notFound("bill")
	}
	b.Paid = paid
	cp := *b
	return &cp, nil
}

func (m *memStore) MarkBillNotified(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.bills[id]; ok {
		b.NotifiedAt = &at
		b.NotifyError = nil
	}
	return nil
}

func (m *memStore) MarkBillNotifyFailed(_ context.Context, id uuid.UUID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.bills[id]; ok {
		b.NotifyError = &reason
	}
	return nil
}

func (m *memStore) ListUnnotifiedBills(_ context.Context, limit int) ([]db.Bill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []db.Bill
	for _, b := range m.bills {
		if b.NotifiedAt == nil && len(out) < limit {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (m *memStore) ListBills(_ context.Context, accountID *uuid.UUID, _, _ int) ([]db.Bill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []db.Bill{}
	for _, b := range m.bills {
		if accountID == nil || b.AccountID == *accountID {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (m *memStore) GetSettings(_ context.Context) (db.SystemSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGetSettings != nil {
		return db.SystemSettings{}, m.failGetSettings
	}
	if m.settings == nil {
		return db.DefaultSettings(), nil
	}
	return *m.settings, nil
}

func (m *memStore) SaveSettings(_ context.Context, s db.SystemSettings) (db.SystemSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = &s
	return s, nil
}

func (m *memStore) activeCount(meterID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.readings {
		if r.MeterID == meterID && (r.State == db.ReadingPending || r.State == db.ReadingValidated) {
			n++
		}
	}
	return n
}

// fakeObjects is an in-memory ObjectStore shared by images and documents
type fakeObjects struct {
	mu        sync.Mutex
	objects   map[string][]byte
	deleted   []string
	uploadErr error
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{objects: map[string][]byte{}}
}

func (f *fakeObjects) Upload(_ context.Context, key string, data []byte, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadErr != nil {
		return f.uploadErr
	}
	f.objects[key] = data
	return nil
}

func (f *fakeObjects) ObjectExists(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[key]
	return ok, nil
}

func (f *fakeObjects) DeleteObject(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	f.deleted = append(f.deleted, key)
	return nil
}

func (f *fakeObjects) URL(key string) string {
	return "https://files.example.com/" + key
}

func (f *fakeObjects) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}

type fakeRecognizer struct {
	mu     sync.Mutex
	result ocr.Result
	err    error
	calls  int
}

func (f *fakeRecognizer) Extract(_ context.Context, _ []byte) (ocr.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.result, f.err
}

type fakeRenderer struct {
	last document.Bill
	err  error
}

func (f *fakeRenderer) RenderBill(_ context.Context, b document.Bill) ([]byte, error) {
	f.last = b
	if f.err != nil {
		return nil, f.err
	}
	return []byte(fmt.Sprintf("%%PDF-1.7 bill %s due %s", b.BillNumber, b.DueDate.Format(time.DateOnly))), nil
}

type fakeDispatcher struct {
	mu        sync.Mutex
	bills     []notify.BillNotice
	reminders []notify.ReadingReminder
	err       error
}

func (f *fakeDispatcher) DispatchBill(_ context.Context, n notify.BillNotice) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.bills = append(f.bills, n)
	return nil
}

func (f *fakeDispatcher) DispatchReminder(_ context.Context, r notify.ReadingReminder) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.reminders = append(f.reminders, r)
	return nil
}

type fakeEvents struct {
	keys   []string
	events []any
	err    error
}

func (f *fakeEvents) Publish(_ context.Context, routingKey string, v any) error {
	if f.err != nil {
		return f.err
	}
	f.keys = append(f.keys, routingKey)
	f.events = append(f.events, v)
	return nil
}

// fixture wires a Service over fakes with one admin, one consumer and one assigned meter
type fixture struct {
	svc        *Service
	store      *memStore
	objects    *fakeObjects
	ocr        *fakeRecognizer
	renderer   *fakeRenderer
	dispatcher *fakeDispatcher
	events     *fakeEvents

	admin    *db.Account
	consumer *db.Account
	other    *db.Account
	meter    *db.Meter
	now      time.Time
}

var meterLocation = geo.Coordinate{Latitude: -6.200000, Longitude: 106.816666}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()

	f := &fixture{
		store:      newMemStore(),
		objects:    newFakeObjects(),
		ocr:        &fakeRecognizer{},
		renderer:   &fakeRenderer{},
		dispatcher: &fakeDispatcher{},
		events:     &fakeEvents{},
		now:        time.Date(2025, 3, 28, 10, 0, 0, 0, time.UTC),
	}

	f.admin = &db.Account{ID: uuid.New(), Role: db.RoleAdmin, Email: "admin@example.com", GivenName: "Grace", IsEnabled: true}
	f.consumer = &db.Account{ID: uuid.New(), Role: db.RoleConsumer, Email: "ada@example.com", GivenName: "Ada", Surname: "Lovelace", IsEnabled: true}
	f.other = &db.Account{ID: uuid.New(), Role: db.RoleConsumer, Email: "bob@example.com", GivenName: "Bob", IsEnabled: true}
	for _, a := range []*db.Account{f.admin, f.consumer, f.other} {
		f.store.accounts[a.ID] = a
	}

	rate := decimal.RequireFromString("0.15")
	owner := f.consumer.ID
	f.meter = &db.Meter{
		ID:         uuid.New(),
		Code:       "MTR-001",
		Latitude:   meterLocation.Latitude,
		Longitude:  meterLocation.Longitude,
		UnitRate:   &rate,
		IsEnabled:  true,
		ConsumerID: &owner,
	}
	f.store.meters[f.meter.ID] = f.meter

	if opts.ValidatedRoutingKey == "" {
		opts.ValidatedRoutingKey = "reading.validated"
	}
	logger := zaptest.NewLogger(t)
	f.svc = New(Deps{
		Store:      f.store,
		Images:     storage.NewImageStore(f.objects, 1<<20, logger),
		Documents:  storage.NewDocumentStore(f.objects, logger),
		OCR:        f.ocr,
		Renderer:   f.renderer,
		Dispatcher: f.dispatcher,
		Events:     f.events,
	}, opts, logger)
	f.svc.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) consumerSession() auth.Session {
	return auth.Session{AccountID: f.consumer.ID, Role: db.RoleConsumer}
}

func (f *fixture) adminSession() auth.Session {
	return auth.Session{AccountID: f.admin.ID, Role: db.RoleAdmin}
}

func (f *fixture) nearby() *geo.Coordinate {
	c := geo.Coordinate{Latitude: meterLocation.Latitude + 0.0002, Longitude: meterLocation.Longitude}
	return &c
}

func (f *fixture) submit(t *testing.T, value string) (*db.Reading, error) {
	t.Helper()
	return f.svc.Submit(context.Background(), f.consumerSession(), SubmitReadingInput{
		MeterID:  f.meter.ID,
		Value:    value,
		ImageKey: "readings/2025/03/abc.jpg",
		ImageURL: "https://files.example.com/readings/2025/03/abc.jpg",
		Capture:  f.nearby(),
	})
}

// seedValidated stores a validated reading for an earlier period
func (f *fixture) seedValidated(value string, month, year int, createdAt time.Time) *db.Reading {
	r := &db.Reading{
		ID:        uuid.New(),
		MeterID:   f.meter.ID,
		AccountID: f.consumer.ID,
		Value:     decimal.RequireFromString(value),
		ImageKey:  "k",
		Month:     month,
		Year:      year,
		State:     db.ReadingValidated,
		CreatedAt: createdAt,
	}
	f.store.readings[r.ID] = r
	return r
}

var jpegHeader = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00, 0x01}

func jpegImage() storage.Image {
	return storage.Image{Data: append([]byte{}, jpegHeader...), ContentType: "image/jpeg", Filename: "meter.jpg"}
}

var errBoom = errors.New("boom")
