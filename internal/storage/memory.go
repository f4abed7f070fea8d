package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tahmid-hasan/schedly/internal/model"
)

// Memory is a mutex-guarded in-memory backend. It backs unit tests and the
// dev mode used when no DATABASE_URL is configured. The single lock makes
// every operation atomic, which trivially satisfies the same no-overlap and
// compare-and-set guarantees the Postgres backend provides.
type Memory struct {
	mu       sync.RWMutex
	accounts map[string]model.Account
	byEmail  map[string]string
	appts    map[string]model.Appointment
	now      func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		accounts: make(map[string]model.Account),
		byEmail:  make(map[string]string),
		appts:    make(map[string]model.Appointment),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock pins the store's timestamp source; tests use it.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

func (m *Memory) CreateAccount(_ context.Context, acct model.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := strings.ToLower(acct.Email)
	if _, exists := m.byEmail[key]; exists {
		return model.ErrDuplicateEmail
	}
	acct.CreatedAt = m.now()
	m.accounts[acct.ID] = acct
	m.byEmail[key] = acct.ID
	return nil
}

func (m *Memory) FindAccount(_ context.Context, id string) (model.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	acct, ok := m.accounts[id]
	if !ok {
		return model.Account{}, model.ErrNotFound
	}
	return acct, nil
}

func (m *Memory) FindAccountByEmail(_ context.Context, email string) (model.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byEmail[strings.ToLower(email)]
	if !ok {
		return model.Account{}, model.ErrNotFound
	}
	return m.accounts[id], nil
}

func (m *Memory) ListAccountsByRole(_ context.Context, role model.Role) ([]model.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.Account
	for _, acct := range m.accounts {
		if acct.Role == role {
			out = append(out, acct)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) Create(_ context.Context, appt *model.Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.overlapsLocked(appt.BusinessID, appt.Date, appt.Start, appt.End, "") {
		return model.ErrConflict
	}
	now := m.now()
	appt.CreatedAt = now
	appt.UpdatedAt = now
	m.appts[appt.ID] = *appt
	return nil
}

func (m *Memory) GetByID(_ context.Context, id string) (model.Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	appt, ok := m.appts[id]
	if !ok {
		return model.Appointment{}, model.ErrNotFound
	}
	return appt, nil
}

func (m *Memory) ListByCustomer(_ context.Context, customerID string) ([]model.Appointment, error) {
	return m.list(func(a model.Appointment) bool { return a.CustomerID == customerID }), nil
}

func (m *Memory) ListByBusiness(_ context.Context, businessID string) ([]model.Appointment, error) {
	return m.list(func(a model.Appointment) bool { return a.BusinessID == businessID }), nil
}

func (m *Memory) ListBusinessDay(_ context.Context, businessID string, day time.Time) ([]model.Appointment, error) {
	day = model.Day(day)
	return m.list(func(a model.Appointment) bool {
		return a.BusinessID == businessID && a.Date.Equal(day)
	}), nil
}

func (m *Memory) Update(_ context.Context, appt model.Appointment) (model.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.appts[appt.ID]
	if !ok {
		return model.Appointment{}, model.ErrNotFound
	}
	if appt.Status != model.StatusCancelled &&
		m.overlapsLocked(appt.BusinessID, appt.Date, appt.Start, appt.End, appt.ID) {
		return model.Appointment{}, model.ErrConflict
	}
	appt.CreatedAt = stored.CreatedAt
	appt.ReminderSent = stored.ReminderSent
	appt.UpdatedAt = m.now()
	m.appts[appt.ID] = appt
	return appt, nil
}

func (m *Memory) UpdateStatus(_ context.Context, id string, from, to model.Status) (model.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	appt, ok := m.appts[id]
	if !ok {
		return model.Appointment{}, model.ErrNotFound
	}
	if appt.Status != from {
		return model.Appointment{}, model.ErrConflict
	}
	appt.Status = to
	appt.UpdatedAt = m.now()
	m.appts[id] = appt
	return appt, nil
}

func (m *Memory) StatusCounts(_ context.Context, businessID string) (map[model.Status]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[model.Status]int)
	for _, a := range m.appts {
		if a.BusinessID == businessID {
			counts[a.Status]++
		}
	}
	return counts, nil
}

func (m *Memory) CountInDateRange(_ context.Context, businessID string, from, to time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, a := range m.appts {
		if a.BusinessID == businessID && !a.Date.Before(from) && a.Date.Before(to) {
			count++
		}
	}
	return count, nil
}

func (m *Memory) ListReminderCandidates(_ context.Context, from, to time.Time) ([]model.Appointment, error) {
	return m.list(func(a model.Appointment) bool {
		if a.ReminderSent {
			return false
		}
		if a.Status != model.StatusPending && a.Status != model.StatusConfirmed {
			return false
		}
		return !a.Date.Before(from) && a.Date.Before(to)
	}), nil
}

// MarkReminderSent flips reminder_sent false->true exactly once. The second
// caller sees false and must not send again.
func (m *Memory) MarkReminderSent(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	appt, ok := m.appts[id]
	if !ok {
		return false, model.ErrNotFound
	}
	if appt.ReminderSent {
		return false, nil
	}
	appt.ReminderSent = true
	appt.UpdatedAt = m.now()
	m.appts[id] = appt
	return true, nil
}

func (m *Memory) list(match func(model.Appointment) bool) []model.Appointment {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.Appointment
	for _, a := range m.appts {
		if match(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].Start < out[j].Start
	})
	return out
}

// Callers hold m.mu.
func (m *Memory) overlapsLocked(businessID string, day time.Time, start, end model.ClockTime, excludeID string) bool {
	for _, a := range m.appts {
		if a.BusinessID != businessID || !a.Date.Equal(day) {
			continue
		}
		if a.Status == model.StatusCancelled || a.ID == excludeID {
			continue
		}
		if a.Start < end && start < a.End {
			return true
		}
	}
	return false
}
