package repository

import (
	"cmp"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/goccy/go-json"

	"github.com/simgrid/paddock/internal/domain/model"
	"github.com/simgrid/paddock/pkg/logger"
	"github.com/simgrid/paddock/pkg/metrics"
)

// snapshot is an immutable, indexed view of a dataset. Reloads build a new
// snapshot and swap it in; readers never lock.
type snapshot struct {
	sessions  map[int64]model.RaceSession
	joined    []model.SessionResult // by start time, then session id
	bySession map[int64][]model.ParticipantResult
	byDriver  map[int64][]model.SessionResult // most recent first
	patches   []Patch                         // most recent first
}

// FileStore is an in-memory Source backed by a JSON dataset file.
type FileStore struct {
	path string
	snap atomic.Pointer[snapshot]
	log  logger.Logger

	mu    sync.Mutex
	hooks []func(ctx context.Context)
}

// NewFileStore loads the dataset at path.
func NewFileStore(path string, opts ...Option) (*FileStore, error) {
	ds, err := LoadDataset(path)
	if err != nil {
		return nil, err
	}
	s, err := NewMemoryStore(ds, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	s.path = path
	return s, nil
}

// NewMemoryStore serves ds from memory. It cannot Reload or Watch.
func NewMemoryStore(ds Dataset, opts ...Option) (*FileStore, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	snap, err := index(ds)
	if err != nil {
		return nil, err
	}
	s := &FileStore{log: o.logger}
	s.snap.Store(snap)
	metrics.UpdateResultsLoaded(len(snap.joined))
	return s, nil
}

// LoadDataset reads and decodes a dataset file.
func LoadDataset(path string) (Dataset, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Dataset{}, fmt.Errorf("read results: %w", err)
	}
	var ds Dataset
	if err := json.Unmarshal(raw, &ds); err != nil {
		return Dataset{}, fmt.Errorf("%w: %w", ErrInvalidDataset, err)
	}
	return ds, nil
}

// SaveDataset writes ds to path, replacing the file atomically so a
// watching store never reads a partial file.
func SaveDataset(path string, ds Dataset) error {
	raw, err := json.MarshalIndent(ds, "", "  ")
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create results dir: %w", err)
		}
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".results-*.json")
	if err != nil {
		return fmt.Errorf("create temp results: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write results: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close results: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

func index(ds Dataset) (*snapshot, error) {
	names := make(map[int64]string, len(ds.Series))
	for _, s := range ds.Series {
		names[s.ID] = s.Name
	}

	snap := &snapshot{
		sessions:  make(map[int64]model.RaceSession, len(ds.Sessions)),
		bySession: make(map[int64][]model.ParticipantResult, len(ds.Sessions)),
		byDriver:  make(map[int64][]model.SessionResult),
		joined:    make([]model.SessionResult, 0, len(ds.Results)),
	}
	for _, s := range ds.Sessions {
		if _, dup := snap.sessions[s.SessionID]; dup {
			return nil, fmt.Errorf("%w: duplicate session %d", ErrInvalidDataset, s.SessionID)
		}
		if s.SeriesName == "" {
			s.SeriesName = names[s.SeriesID]
		}
		s.StartTime = s.StartTime.UTC()
		snap.sessions[s.SessionID] = s
	}
	for _, r := range ds.Results {
		s, ok := snap.sessions[r.SessionID]
		if !ok {
			return nil, fmt.Errorf("%w: result for unknown session %d", ErrInvalidDataset, r.SessionID)
		}
		sr := model.SessionResult{Session: s, Result: r}
		snap.joined = append(snap.joined, sr)
		snap.bySession[r.SessionID] = append(snap.bySession[r.SessionID], r)
		snap.byDriver[r.DriverID] = append(snap.byDriver[r.DriverID], sr)
	}

	slices.SortStableFunc(snap.joined, func(a, b model.SessionResult) int {
		if c := a.Session.StartTime.Compare(b.Session.StartTime); c != 0 {
			return c
		}
		return cmp.Compare(a.Session.SessionID, b.Session.SessionID)
	})
	for _, races := range snap.byDriver {
		slices.SortStableFunc(races, func(a, b model.SessionResult) int {
			if c := b.Session.StartTime.Compare(a.Session.StartTime); c != 0 {
				return c
			}
			return cmp.Compare(b.Session.SessionID, a.Session.SessionID)
		})
	}

	snap.patches = slices.Clone(ds.Patches)
	slices.SortFunc(snap.patches, func(a, b Patch) int { return b.Date.Compare(a.Date) })
	return snap, nil
}

// Reload rereads the dataset file. On failure the current data stays active.
func (s *FileStore) Reload(ctx context.Context) error {
	if s.path == "" {
		return fmt.Errorf("%w: store has no backing file", ErrInvalidDataset)
	}
	ds, err := LoadDataset(s.path)
	if err == nil {
		var snap *snapshot
		if snap, err = index(ds); err == nil {
			s.snap.Store(snap)
			metrics.UpdateResultsLoaded(len(snap.joined))
		}
	}
	if err != nil {
		metrics.RecordSourceReload("error")
		return err
	}
	metrics.RecordSourceReload("ok")

	s.mu.Lock()
	hooks := slices.Clone(s.hooks)
	s.mu.Unlock()
	for _, fn := range hooks {
		fn(ctx)
	}
	return nil
}

// OnReload registers fn to run after every successful reload.
func (s *FileStore) OnReload(fn func(ctx context.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, fn)
}

// Watch reloads the dataset whenever its file is written or replaced, until
// ctx is cancelled. A failed reload is logged and the previous data stays.
func (s *FileStore) Watch(ctx context.Context) error {
	if s.path == "" {
		return fmt.Errorf("%w: store has no backing file", ErrInvalidDataset)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	// Watch the directory: SaveDataset replaces the file by rename.
	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		return err
	}
	target := filepath.Clean(s.path)
	s.log.Info(ctx, "watching results file", logger.String("path", s.path))

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			start := time.Now()
			if err := s.Reload(ctx); err != nil {
				s.log.Error(ctx, "results reload failed, keeping previous data",
					logger.String("path", s.path), logger.Error(err))
				continue
			}
			n, _ := s.Count(ctx)
			s.log.Info(ctx, "results reloaded",
				logger.String("path", s.path),
				logger.Int("results", n),
				logger.Duration("took", time.Since(start)))

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.log.Error(ctx, "results watcher error", logger.Error(err))
		}
	}
}

// SessionResults implements Source.
func (s *FileStore) SessionResults(_ context.Context, scope Scope) ([]model.SessionResult, error) {
	defer observe("session_results", time.Now())
	snap := s.snap.Load()
	out := make([]model.SessionResult, 0)
	for _, sr := range snap.joined {
		if scope.Matches(sr.Session) {
			out = append(out, sr)
		}
	}
	return out, nil
}

// LatestPatch implements Source.
func (s *FileStore) LatestPatch(_ context.Context, seriesID *int64) (time.Time, bool, error) {
	for _, p := range s.snap.Load().patches {
		if seriesID == nil || p.SeriesID == *seriesID {
			return p.Date, true, nil
		}
	}
	return time.Time{}, false, nil
}

// Session implements Source.
func (s *FileStore) Session(_ context.Context, sessionID int64) (model.RaceSession, error) {
	sess, ok := s.snap.Load().sessions[sessionID]
	if !ok {
		metrics.RecordErrorByComponent("repository", "not_found")
		return model.RaceSession{}, fmt.Errorf("session %d: %w", sessionID, ErrNotFound)
	}
	return sess, nil
}

// SessionParticipants implements Source.
func (s *FileStore) SessionParticipants(_ context.Context, sessionID int64) ([]model.ParticipantResult, error) {
	snap := s.snap.Load()
	if _, ok := snap.sessions[sessionID]; !ok {
		metrics.RecordErrorByComponent("repository", "not_found")
		return nil, fmt.Errorf("session %d: %w", sessionID, ErrNotFound)
	}
	return slices.Clone(snap.bySession[sessionID]), nil
}

// DriverHistory implements Source.
func (s *FileStore) DriverHistory(_ context.Context, driverID int64, before time.Time, limit int) ([]model.RecentRace, error) {
	defer observe("driver_history", time.Now())
	if limit < 1 {
		return nil, ErrInvalidLimit
	}
	out := make([]model.RecentRace, 0, limit)
	for _, sr := range s.snap.Load().byDriver[driverID] {
		if !sr.Session.StartTime.Before(before) {
			continue
		}
		out = append(out, model.RecentRaceFrom(sr))
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// Count implements Source.
func (s *FileStore) Count(_ context.Context) (int, error) {
	return len(s.snap.Load().joined), nil
}

func observe(query string, start time.Time) {
	metrics.RecordSourceQuery(query, float64(time.Since(start).Microseconds())/1000)
}
