// Package filterchain holds the ordered filter list of an export session and
// keeps each filter's candidate values consistent with the filters before it.
//
// Mutations are synchronous. Candidate values are recomputed asynchronously:
// a key change resolves that filter at once, while value changes and removals
// schedule a debounced, staggered recompute of every later filter. Results
// are applied by filter id and discarded when the filter is gone, its key
// changed, or the bucket changed since the lookup started.
package filterchain

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/pvmonitor/pvdash/internal/flux"
	"github.com/pvmonitor/pvdash/internal/logging"
	"github.com/pvmonitor/pvdash/internal/resolver"
)

var (
	// ErrFilterNotFound is returned for an unknown filter id.
	ErrFilterNotFound = errors.New("filterchain: filter not found")
	// ErrDuplicateKey is returned when another filter already targets the key.
	ErrDuplicateKey = errors.New("filterchain: key already used by another filter")
	// ErrReservedKey is returned when values are set on a time or value filter.
	ErrReservedKey = errors.New("filterchain: time and value filters take ranges, not values")
	// ErrWrongKind is returned when a range does not match the filter's key.
	ErrWrongKind = errors.New("filterchain: range does not apply to this filter")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("filterchain: chain closed")
)

// Resolver computes candidate values. *resolver.Resolver implements it.
type Resolver interface {
	Resolve(ctx context.Context, bucket, key string, upstream []flux.Predicate) resolver.Result
}

// Filter is one link of the chain.
type Filter struct {
	ID              string     `json:"id"`
	Key             string     `json:"key"`
	SelectedValues  []string   `json:"selectedValues"`
	AvailableValues []string   `json:"availableValues"`
	IsNumeric       bool       `json:"isNumeric"`
	IsLoading       bool       `json:"isLoading"`
	Error           string     `json:"error,omitempty"`
	ValueMin        *float64   `json:"valueMin,omitempty"`
	ValueMax        *float64   `json:"valueMax,omitempty"`
	TimeStart       *time.Time `json:"timeStart,omitempty"`
	TimeEnd         *time.Time `json:"timeEnd,omitempty"`

	// seq numbers the lookups of this filter; only the latest may apply.
	seq uint64
}

func (f *Filter) clone() Filter {
	out := *f
	out.SelectedValues = append([]string{}, f.SelectedValues...)
	out.AvailableValues = append([]string{}, f.AvailableValues...)
	return out
}

func (f *Filter) resolvable() bool {
	return f.Key != "" && !flux.IsReserved(f.Key)
}

// State is a consistent copy of a chain.
type State struct {
	ID      string   `json:"id"`
	Bucket  string   `json:"bucket"`
	Filters []Filter `json:"filters"`
}

// Options tune recompute scheduling.
type Options struct {
	// Debounce is the quiet period that coalesces recompute triggers.
	Debounce time.Duration
	// Stagger is the minimum gap between two resolutions of one batch.
	Stagger time.Duration
}

// DefaultOptions coalesce within 150ms and stagger by 75ms.
func DefaultOptions() Options {
	return Options{Debounce: 150 * time.Millisecond, Stagger: 75 * time.Millisecond}
}

// Chain is the filter list of one session. It is safe for concurrent use.
type Chain struct {
	mu         sync.Mutex
	id         string
	bucket     string
	generation uint64
	filters    []*Filter
	inflight   int
	closed     bool

	resolver  Resolver
	debouncer *Debouncer
	limiter   *rate.Limiter
	logger    *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an empty chain on bucket.
func New(bucket string, r Resolver, opts Options, logger *logging.Logger) *Chain {
	if logger == nil {
		logger = logging.Global()
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultOptions().Debounce
	}
	limit := rate.Inf
	if opts.Stagger > 0 {
		limit = rate.Every(opts.Stagger)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Chain{
		id:       uuid.NewString(),
		bucket:   bucket,
		resolver: r,
		limiter:  rate.NewLimiter(limit, 1),
		ctx:      ctx,
		cancel:   cancel,
	}
	c.logger = logger.Component("filterchain").With("chain_id", c.id)
	c.debouncer = NewDebouncer(opts.Debounce, c.recompute)
	return c
}

// ID returns the chain id.
func (c *Chain) ID() string { return c.id }

// Bucket returns the selected bucket.
func (c *Chain) Bucket() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bucket
}

// Snapshot returns a copy of the whole chain.
func (c *Chain) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := State{ID: c.id, Bucket: c.bucket, Filters: make([]Filter, len(c.filters))}
	for i, f := range c.filters {
		st.Filters[i] = f.clone()
	}
	return st
}

// Filter returns a copy of one filter.
func (c *Chain) Filter(id string) (Filter, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := c.indexOf(id)
	if idx < 0 {
		return Filter{}, ErrFilterNotFound
	}
	return c.filters[idx].clone(), nil
}

// AddFilter appends a filter with no key.
func (c *Chain) AddFilter() Filter {
	c.mu.Lock()
	defer c.mu.Unlock()

	f := &Filter{ID: uuid.NewString(), SelectedValues: []string{}, AvailableValues: []string{}}
	c.filters = append(c.filters, f)
	return f.clone()
}

// UpdateKey retargets a filter. Selections and ranges are cleared; a
// non-reserved key is resolved immediately using the filters before it.
func (c *Chain) UpdateKey(id, key string) (Filter, error) {
	c.mu.Lock()
	idx := c.indexOf(id)
	if idx < 0 {
		c.mu.Unlock()
		return Filter{}, ErrFilterNotFound
	}
	f := c.filters[idx]
	if f.Key == key {
		out := f.clone()
		c.mu.Unlock()
		return out, nil
	}
	if key != "" {
		for _, other := range c.filters {
			if other.ID != id && other.Key == key {
				c.mu.Unlock()
				return Filter{}, ErrDuplicateKey
			}
		}
	}

	hadSelection := len(f.SelectedValues) > 0 && f.resolvable()
	f.Key = key
	f.SelectedValues = []string{}
	f.AvailableValues = []string{}
	f.IsNumeric = false
	f.IsLoading = f.resolvable()
	f.Error = ""
	f.ValueMin, f.ValueMax = nil, nil
	f.TimeStart, f.TimeEnd = nil, nil
	downstream := c.idsAfter(idx)
	out := f.clone()
	c.mu.Unlock()

	if out.IsLoading {
		c.dispatch(id)
	}
	if hadSelection {
		c.debouncer.Trigger(downstream...)
	}
	return out, nil
}

// RemoveFilter deletes a filter. When it constrained later filters they are
// recomputed, keeping the selections that remain valid.
func (c *Chain) RemoveFilter(id string) error {
	c.mu.Lock()
	idx := c.indexOf(id)
	if idx < 0 {
		c.mu.Unlock()
		return ErrFilterNotFound
	}
	removed := c.filters[idx]
	c.filters = append(c.filters[:idx], c.filters[idx+1:]...)
	var downstream []string
	if len(removed.SelectedValues) > 0 && removed.resolvable() {
		downstream = c.idsFrom(idx)
	}
	c.mu.Unlock()

	c.debouncer.Trigger(downstream...)
	return nil
}

// SetSelectedValues replaces the selection and schedules later filters.
func (c *Chain) SetSelectedValues(id string, values []string) (Filter, error) {
	return c.mutateSelection(id, func(f *Filter) {
		f.SelectedValues = dedupe(values)
	})
}

// ToggleValue adds or removes one selected value.
func (c *Chain) ToggleValue(id, value string, included bool) (Filter, error) {
	return c.mutateSelection(id, func(f *Filter) {
		pos := indexOfString(f.SelectedValues, value)
		switch {
		case included && pos < 0:
			f.SelectedValues = append(f.SelectedValues, value)
		case !included && pos >= 0:
			f.SelectedValues = append(f.SelectedValues[:pos], f.SelectedValues[pos+1:]...)
		}
	})
}

func (c *Chain) mutateSelection(id string, mutate func(f *Filter)) (Filter, error) {
	c.mu.Lock()
	idx := c.indexOf(id)
	if idx < 0 {
		c.mu.Unlock()
		return Filter{}, ErrFilterNotFound
	}
	f := c.filters[idx]
	if flux.IsReserved(f.Key) {
		c.mu.Unlock()
		return Filter{}, ErrReservedKey
	}
	mutate(f)
	downstream := c.idsAfter(idx)
	out := f.clone()
	c.mu.Unlock()

	c.debouncer.Trigger(downstream...)
	return out, nil
}

// SetValueRange sets the bounds of the value filter. Nil leaves a side open.
func (c *Chain) SetValueRange(id string, lo, hi *float64) (Filter, error) {
	return c.setRange(id, flux.KeyValue, func(f *Filter) {
		f.ValueMin, f.ValueMax = lo, hi
	})
}

// SetTimeRange sets the bounds of the time filter. Nil leaves a side open.
func (c *Chain) SetTimeRange(id string, start, end *time.Time) (Filter, error) {
	return c.setRange(id, flux.KeyTime, func(f *Filter) {
		f.TimeStart, f.TimeEnd = start, end
	})
}

func (c *Chain) setRange(id, key string, set func(f *Filter)) (Filter, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := c.indexOf(id)
	if idx < 0 {
		return Filter{}, ErrFilterNotFound
	}
	f := c.filters[idx]
	if f.Key != key {
		return Filter{}, ErrWrongKind
	}
	set(f)
	return f.clone(), nil
}

// SetBucket switches dataset. The structure and selections survive; every
// candidate set is dropped and recomputed, and lookups still in flight for
// the previous bucket are discarded on arrival.
func (c *Chain) SetBucket(bucket string) {
	c.mu.Lock()
	if bucket == c.bucket {
		c.mu.Unlock()
		return
	}
	c.bucket = bucket
	c.generation++
	var ids []string
	for _, f := range c.filters {
		f.AvailableValues = []string{}
		f.IsNumeric = false
		f.IsLoading = false
		f.Error = ""
		if f.resolvable() {
			ids = append(ids, f.ID)
		}
	}
	c.mu.Unlock()

	c.debouncer.Trigger(ids...)
}

// Refresh schedules a recompute of the given filters, or of every filter.
func (c *Chain) Refresh(ids ...string) {
	if len(ids) == 0 {
		c.mu.Lock()
		ids = c.idsFrom(0)
		c.mu.Unlock()
	}
	c.debouncer.Trigger(ids...)
}

// AvailableKeys filters all down to the keys filter id may still take: every
// key chosen by another filter is excluded.
func (c *Chain) AvailableKeys(id string, all []string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	used := make(map[string]struct{}, len(c.filters))
	for _, f := range c.filters {
		if f.ID != id && f.Key != "" {
			used[f.Key] = struct{}{}
		}
	}
	out := make([]string, 0, len(all))
	for _, k := range all {
		if _, taken := used[k]; !taken {
			out = append(out, k)
		}
	}
	return out
}

// Upstream returns the predicates of the filters strictly before id.
func (c *Chain) Upstream(id string) ([]flux.Predicate, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := c.indexOf(id)
	if idx < 0 {
		return nil, ErrFilterNotFound
	}
	return c.upstreamLocked(idx), nil
}

// Request assembles the query request of the current chain.
func (c *Chain) Request(rng flux.TimeRange, window, fn string) flux.Request {
	c.mu.Lock()
	defer c.mu.Unlock()

	req := flux.Request{
		Bucket:            c.bucket,
		Range:             rng,
		WindowPeriod:      window,
		AggregateFunction: fn,
		Filters:           make([]flux.Filter, 0, len(c.filters)),
	}
	for _, f := range c.filters {
		req.Filters = append(req.Filters, flux.Filter{
			Key:       f.Key,
			Values:    append([]string(nil), f.SelectedValues...),
			TimeStart: f.TimeStart,
			TimeEnd:   f.TimeEnd,
			ValueMin:  f.ValueMin,
			ValueMax:  f.ValueMax,
		})
	}
	return req
}

// Idle reports whether no recompute is pending or running.
func (c *Chain) Idle() bool {
	c.mu.Lock()
	inflight := c.inflight
	c.mu.Unlock()
	return inflight == 0 && !c.debouncer.Busy()
}

// Close cancels pending work and waits for running lookups to return.
func (c *Chain) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.debouncer.Stop()
	c.cancel()
	c.wg.Wait()
}

// recompute resolves a debounced batch in chain order, staggered.
func (c *Chain) recompute(ids []string) {
	c.mu.Lock()
	order := make(map[string]int, len(c.filters))
	for i, f := range c.filters {
		order[f.ID] = i
	}
	batch := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := order[id]; ok {
			batch = append(batch, id)
		}
	}
	c.mu.Unlock()

	sort.SliceStable(batch, func(i, j int) bool { return order[batch[i]] < order[batch[j]] })

	for _, id := range batch {
		if err := c.limiter.Wait(c.ctx); err != nil {
			return
		}
		c.dispatch(id)
	}
}

// dispatch starts one lookup for the filter's current key and context.
func (c *Chain) dispatch(id string) {
	c.mu.Lock()
	idx := c.indexOf(id)
	if c.closed || idx < 0 || !c.filters[idx].resolvable() {
		c.mu.Unlock()
		return
	}
	f := c.filters[idx]
	f.IsLoading = true
	f.seq++
	key, bucket, gen, seq := f.Key, c.bucket, c.generation, f.seq
	upstream := c.upstreamLocked(idx)
	c.inflight++
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		res := c.resolver.Resolve(c.ctx, bucket, key, upstream)
		c.apply(id, key, gen, seq, res)
	}()
}

// apply stores a lookup result unless it went stale: the filter is gone, its
// key or the bucket changed, or a newer lookup for it was dispatched. It
// reports whether the result was applied.
func (c *Chain) apply(id, key string, gen, seq uint64, res resolver.Result) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inflight--

	idx := c.indexOf(id)
	if idx < 0 || c.filters[idx].Key != key || c.generation != gen || c.filters[idx].seq != seq {
		c.logger.Debug("Discarding stale lookup", "filter_id", id, "key", key)
		return false
	}

	f := c.filters[idx]
	f.AvailableValues = append([]string{}, res.Values...)
	f.IsNumeric = res.IsNumeric
	f.IsLoading = false
	f.Error = ""
	if res.Err != nil {
		// A failed lookup says nothing about which selections are valid.
		f.Error = res.Err.Error()
		c.logger.Warn("Lookup degraded", "filter_id", id, "key", key, "error", res.Err)
		return true
	}
	f.SelectedValues = Prune(f.SelectedValues, f.AvailableValues)
	return true
}

// Prune keeps the selected values still present in available, in order.
func Prune(selected, available []string) []string {
	set := make(map[string]struct{}, len(available))
	for _, v := range available {
		set[v] = struct{}{}
	}
	out := make([]string, 0, len(selected))
	for _, v := range selected {
		if _, ok := set[v]; ok {
			out = append(out, v)
		}
	}
	return out
}

func (c *Chain) indexOf(id string) int {
	for i, f := range c.filters {
		if f.ID == id {
			return i
		}
	}
	return -1
}

func (c *Chain) upstreamLocked(idx int) []flux.Predicate {
	preds := make([]flux.Predicate, 0, idx)
	for _, f := range c.filters[:idx] {
		if !f.resolvable() || len(f.SelectedValues) == 0 {
			continue
		}
		preds = append(preds, flux.Predicate{Key: f.Key, Values: append([]string(nil), f.SelectedValues...)})
	}
	return preds
}

// idsAfter lists resolvable filters after position idx.
func (c *Chain) idsAfter(idx int) []string {
	return c.idsFrom(idx + 1)
}

func (c *Chain) idsFrom(idx int) []string {
	var ids []string
	for _, f := range c.filters[idx:] {
		if f.resolvable() {
			ids = append(ids, f.ID)
		}
	}
	return ids
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func indexOfString(values []string, v string) int {
	for i, s := range values {
		if s == v {
			return i
		}
	}
	return -1
}
