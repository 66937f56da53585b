package calendar

import (
	"context"
	"sort"
	"sync"
)

// RepositoryStub keeps events in memory. It does not interpret predicates: Search and
// SearchCount treat every stored event as a match and record the predicate they got.
// GetAll applies its filters in memory.
type RepositoryStub struct {
	mu             sync.RWMutex
	items          map[string]Event // uid -> event
	predicates     []Predicate
	err            error
	transactionErr error
}

func NewRepositoryStub() *RepositoryStub {
	return &RepositoryStub{
		items: make(map[string]Event),
	}
}

func (r *RepositoryStub) WithTransaction(ctx context.Context, fn func(repo Repository) error) error {
	r.mu.Lock()
	original := make(map[string]Event, len(r.items))
	for k, v := range r.items {
		original[k] = v
	}
	r.transactionErr = nil
	r.mu.Unlock()

	err := fn(r)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil || r.transactionErr != nil {
		r.items = original
		if err != nil {
			return err
		}
		return r.transactionErr
	}
	return nil
}

func (r *RepositoryStub) GetAll(ctx context.Context, page Page, filters Filters) ([]Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.err != nil {
		return nil, r.err
	}

	result := make([]Event, 0, len(r.items))
	for _, event := range r.items {
		if filters.AllDay != nil && event.AllDay != *filters.AllDay {
			continue
		}
		if filters.Recurring != nil && (event.RecurrenceRule != "") != *filters.Recurring {
			continue
		}
		result = append(result, event)
	}
	return sortAndPage(result, page), nil
}

func (r *RepositoryStub) Count(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.err != nil {
		return 0, r.err
	}
	return len(r.items), nil
}

func (r *RepositoryStub) GetByUID(ctx context.Context, uid string) (Event, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.err != nil {
		return Event{}, false, r.err
	}
	event, ok := r.items[uid]
	return event, ok, nil
}

func (r *RepositoryStub) Insert(ctx context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.items[event.UID] = event
	return nil
}

func (r *RepositoryStub) Update(ctx context.Context, event Event) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return false, r.err
	}
	if _, ok := r.items[event.UID]; !ok {
		return false, nil
	}
	r.items[event.UID] = event
	return true, nil
}

func (r *RepositoryStub) Delete(ctx context.Context, uid string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return false, r.err
	}
	if _, ok := r.items[uid]; !ok {
		return false, nil
	}
	delete(r.items, uid)
	return true, nil
}

func (r *RepositoryStub) Search(ctx context.Context, predicate Predicate, page Page) ([]Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	r.predicates = append(r.predicates, predicate)

	result := make([]Event, 0, len(r.items))
	for _, event := range r.items {
		result = append(result, event)
	}
	return sortAndPage(result, page), nil
}

func sortAndPage(result []Event, page Page) []Event {
	sort.Slice(result, func(i, j int) bool {
		if result[i].StartDate == result[j].StartDate {
			return result[i].UID < result[j].UID
		}
		if page.Sort == SortDesc {
			return result[i].StartDate > result[j].StartDate
		}
		return result[i].StartDate < result[j].StartDate
	})

	if page.Limit > 0 {
		if page.Offset >= len(result) {
			return []Event{}
		}
		result = result[page.Offset:min(page.Offset+page.Limit, len(result))]
	}
	return result
}

func (r *RepositoryStub) SearchCount(ctx context.Context, predicate Predicate) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return 0, r.err
	}
	r.predicates = append(r.predicates, predicate)
	return len(r.items), nil
}

func (r *RepositoryStub) ExistsDuplicate(ctx context.Context, summary, startDate, endDate string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.err != nil {
		return false, r.err
	}
	for _, event := range r.items {
		if event.Summary == summary && event.StartDate == startDate && event.EndDate == endDate {
			return true, nil
		}
	}
	return false, nil
}

// SetError makes every following call fail with err.
func (r *RepositoryStub) SetError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// SetTransactionError makes the running transaction roll back with err.
func (r *RepositoryStub) SetTransactionError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transactionErr = err
}

// Predicates returns every predicate passed to Search and SearchCount so far.
func (r *RepositoryStub) Predicates() []Predicate {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Predicate(nil), r.predicates...)
}

// GetAllEvents returns the stored events in start date order.
func (r *RepositoryStub) GetAllEvents() []Event {
	events, _ := r.Search(context.Background(), Predicate{}, Unbounded)
	return events
}
