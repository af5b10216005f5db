package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/specto/internal/interfaces"
	"github.com/ternarybob/specto/internal/metrics"
	"github.com/ternarybob/specto/internal/models"
)

// Key layout. Every transition rewrites the record and moves its index
// entries inside one transaction, so the indexes never disagree with the
// record they point at.
//
//	jobq:msg:{id}                         JSON job record
//	jobq:ready:{visibleAt %020d}:{id}     delivery index, present only for created/retry
//	jobq:state:{state}:{name}:{id}        state index, exactly one per job
//	jobq:dedup:{name}:{key}               -> id, present only while non-terminal
const (
	msgPrefix   = "jobq:msg:"
	readyPrefix = "jobq:ready:"
	statePrefix = "jobq:state:"
	dedupPrefix = "jobq:dedup:"
)

// BadgerManager implements a persistent job queue on raw Badger
// transactions. The DB handle is shared with the typed storage layer and
// its lifecycle is owned there.
type BadgerManager struct {
	db     *badger.DB
	logger arbor.ILogger
}

// NewBadgerManager creates a Badger-backed queue manager.
func NewBadgerManager(db *badger.DB, logger arbor.ILogger) (interfaces.QueueManager, error) {
	if db == nil {
		return nil, errors.New("badger db is required")
	}
	return &BadgerManager{
		db:     db,
		logger: logger,
	}, nil
}

// Start logs the backlog carried over from the previous run.
func (m *BadgerManager) Start() error {
	waiting, err := m.QueueSize(context.Background(), "")
	if err != nil {
		return fmt.Errorf("failed to read queue state: %w", err)
	}
	m.logger.Info().Int("waiting", waiting).Msg("Job queue started")
	return nil
}

// Stop is a no-op; the underlying DB is closed by the storage manager.
func (m *BadgerManager) Stop() error {
	return nil
}

func (m *BadgerManager) Enqueue(ctx context.Context, name string, payload map[string]interface{}, opts *models.EnqueueOptions) (string, error) {
	if name == "" {
		return "", errors.New("job name is required")
	}

	job := models.NewJob(name, payload, opts)
	data, err := job.ToJSON()
	if err != nil {
		return "", err
	}

	var existingID string
	err = m.db.Update(func(txn *badger.Txn) error {
		if job.DedupKey != "" {
			id, err := m.resolveDedup(txn, name, job.DedupKey)
			if err != nil {
				return err
			}
			if id != "" {
				existingID = id
				return nil
			}
		}

		if err := txn.Set(m.msgKey(job.ID), data); err != nil {
			return err
		}
		if err := txn.Set(m.readyKey(job.VisibleAt, job.ID), []byte{}); err != nil {
			return err
		}
		if err := txn.Set(m.stateKey(job.State, name, job.ID), []byte{}); err != nil {
			return err
		}
		if job.DedupKey != "" {
			if err := txn.Set(m.dedupKey(name, job.DedupKey), []byte(job.ID)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}

	if existingID != "" {
		m.logger.Debug().
			Str("job_name", name).
			Str("dedup_key", job.DedupKey).
			Str("existing_id", existingID).
			Msg("Enqueue deduplicated against pending job")
		return existingID, nil
	}

	metrics.JobsEnqueued.WithLabelValues(name).Inc()
	m.logger.Debug().
		Str("job_id", job.ID).
		Str("job_name", name).
		Msg("Job enqueued")
	return job.ID, nil
}

// resolveDedup returns the ID of the non-terminal job holding the dedup
// key, or "" when the key is free. A pointer left behind by an interrupted
// transition is cleaned up here.
func (m *BadgerManager) resolveDedup(txn *badger.Txn, name, key string) (string, error) {
	item, err := txn.Get(m.dedupKey(name, key))
	if err == badger.ErrKeyNotFound {
		return "", nil
	}
	if err != nil {
		return "", err
	}

	var id string
	if err := item.Value(func(val []byte) error {
		id = string(val)
		return nil
	}); err != nil {
		return "", err
	}

	job, err := m.loadJob(txn, id)
	if err == badger.ErrKeyNotFound {
		return "", txn.Delete(m.dedupKey(name, key))
	}
	if err != nil {
		return "", err
	}
	if job.State.IsTerminal() {
		return "", txn.Delete(m.dedupKey(name, key))
	}
	return id, nil
}

// Receive claims the next due job and moves it to active. Returns nil when
// nothing is ready. Jobs found past their expiry are marked expired in
// passing and skipped.
func (m *BadgerManager) Receive(ctx context.Context) (*models.Job, error) {
	var claimed *models.Job

	err := m.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		now := time.Now().UTC()
		prefix := []byte(readyPrefix)

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)

			visibleAt, id, err := m.parseReadyKey(key)
			if err != nil {
				continue
			}
			if visibleAt.After(now) {
				// Keys sort by visibility time; nothing further is due.
				break
			}

			job, err := m.loadJob(txn, id)
			if err == badger.ErrKeyNotFound {
				// Ready entry without a record, drop it
				if derr := txn.Delete(key); derr != nil {
					return derr
				}
				continue
			}
			if err != nil {
				return err
			}

			if job.State != models.JobStateCreated && job.State != models.JobStateRetry {
				// Stale entry left by an interrupted transition
				if derr := txn.Delete(key); derr != nil {
					return derr
				}
				continue
			}

			if job.IsExpired(now) {
				oldState := job.State
				job.State = models.JobStateExpired
				completed := now
				job.CompletedAt = &completed
				if err := m.transition(txn, job, oldState, visibleAt); err != nil {
					return err
				}
				m.logger.Debug().Str("job_id", job.ID).Str("job_name", job.Name).Msg("Job expired before delivery")
				continue
			}

			oldState := job.State
			job.State = models.JobStateActive
			started := now
			job.StartedAt = &started
			if err := m.transition(txn, job, oldState, visibleAt); err != nil {
				return err
			}

			claimed = job
			return nil
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to receive job: %w", err)
	}

	if claimed != nil {
		m.logger.Trace().
			Str("job_id", claimed.ID).
			Str("job_name", claimed.Name).
			Int("retry_count", claimed.RetryCount).
			Msg("Job claimed")
	}
	return claimed, nil
}

func (m *BadgerManager) Complete(ctx context.Context, jobID string) error {
	err := m.db.Update(func(txn *badger.Txn) error {
		job, err := m.loadJob(txn, jobID)
		if err == badger.ErrKeyNotFound {
			return fmt.Errorf("%w: %s", models.ErrJobNotFound, jobID)
		}
		if err != nil {
			return err
		}
		if job.State.IsTerminal() {
			// Cancelled mid-flight; the late completion loses
			return nil
		}

		oldState, oldVisible := job.State, job.VisibleAt
		job.State = models.JobStateCompleted
		completed := time.Now().UTC()
		job.CompletedAt = &completed
		return m.transition(txn, job, oldState, oldVisible)
	})
	if err != nil {
		return err
	}

	m.logger.Debug().Str("job_id", jobID).Msg("Job completed")
	return nil
}

func (m *BadgerManager) Fail(ctx context.Context, jobID string, errMsg string) (bool, error) {
	willRetry := false

	err := m.db.Update(func(txn *badger.Txn) error {
		job, err := m.loadJob(txn, jobID)
		if err == badger.ErrKeyNotFound {
			return fmt.Errorf("%w: %s", models.ErrJobNotFound, jobID)
		}
		if err != nil {
			return err
		}
		if job.State.IsTerminal() {
			return nil
		}

		oldState, oldVisible := job.State, job.VisibleAt
		now := time.Now().UTC()
		job.LastError = errMsg

		if job.RetryCount < job.RetryLimit {
			job.RetryCount++
			job.State = models.JobStateRetry
			job.VisibleAt = now.Add(time.Duration(job.RetryDelaySeconds) * time.Second)
			willRetry = true
		} else {
			job.State = models.JobStateFailed
			job.CompletedAt = &now
		}
		return m.transition(txn, job, oldState, oldVisible)
	})
	if err != nil {
		return false, err
	}

	if willRetry {
		m.logger.Warn().
			Str("job_id", jobID).
			Str("error", errMsg).
			Msg("Job failed, retry scheduled")
	} else {
		m.logger.Warn().
			Str("job_id", jobID).
			Str("error", errMsg).
			Msg("Job failed")
	}
	return willRetry, nil
}

// Cancel stops future delivery of the given jobs. Missing or already
// terminal jobs are skipped; a running execution is not interrupted, its
// Complete or Fail lands on the terminal state and is ignored.
func (m *BadgerManager) Cancel(ctx context.Context, jobIDs ...string) error {
	return m.db.Update(func(txn *badger.Txn) error {
		for _, jobID := range jobIDs {
			job, err := m.loadJob(txn, jobID)
			if err == badger.ErrKeyNotFound {
				continue
			}
			if err != nil {
				return err
			}
			if job.State.IsTerminal() {
				continue
			}
			if err := m.cancelJob(txn, job); err != nil {
				return err
			}
		}
		return nil
	})
}

func (m *BadgerManager) CancelByName(ctx context.Context, name string) (int, error) {
	count := 0
	err := m.db.Update(func(txn *badger.Txn) error {
		var ids []string
		for _, state := range []models.JobState{models.JobStateCreated, models.JobStateRetry, models.JobStateActive} {
			prefix := []byte(fmt.Sprintf("%s%s:%s:", statePrefix, state, name))
			ids = append(ids, collectKeySuffixes(txn, prefix)...)
		}

		for _, id := range ids {
			job, err := m.loadJob(txn, id)
			if err == badger.ErrKeyNotFound {
				continue
			}
			if err != nil {
				return err
			}
			if job.State.IsTerminal() {
				continue
			}
			if err := m.cancelJob(txn, job); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if count > 0 {
		m.logger.Info().Str("job_name", name).Int("count", count).Msg("Jobs cancelled")
	}
	return count, nil
}

func (m *BadgerManager) cancelJob(txn *badger.Txn, job *models.Job) error {
	oldState, oldVisible := job.State, job.VisibleAt
	job.State = models.JobStateCancelled
	completed := time.Now().UTC()
	job.CompletedAt = &completed
	return m.transition(txn, job, oldState, oldVisible)
}

func (m *BadgerManager) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	var job *models.Job
	err := m.db.View(func(txn *badger.Txn) error {
		loaded, err := m.loadJob(txn, jobID)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		job = loaded
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

func (m *BadgerManager) ListJobs(ctx context.Context, limit int) ([]*models.Job, error) {
	var jobs []*models.Job

	err := m.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(msgPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var job models.Job
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &job)
			})
			if err != nil {
				continue
			}
			jobs = append(jobs, &job)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	if limit > 0 && limit < len(jobs) {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (m *BadgerManager) HasPendingJob(ctx context.Context, name, dedupKey string) (bool, error) {
	pending := false
	err := m.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(m.dedupKey(name, dedupKey))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}

		var id string
		if err := item.Value(func(val []byte) error {
			id = string(val)
			return nil
		}); err != nil {
			return err
		}

		job, err := m.loadJob(txn, id)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		pending = !job.State.IsTerminal()
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to check pending job: %w", err)
	}
	return pending, nil
}

func (m *BadgerManager) QueueSize(ctx context.Context, name string) (int, error) {
	count := 0
	err := m.db.View(func(txn *badger.Txn) error {
		for _, state := range []models.JobState{models.JobStateCreated, models.JobStateRetry} {
			var prefix []byte
			if name == "" {
				prefix = []byte(fmt.Sprintf("%s%s:", statePrefix, state))
			} else {
				prefix = []byte(fmt.Sprintf("%s%s:%s:", statePrefix, state, name))
			}
			count += countKeys(txn, prefix)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count queue size: %w", err)
	}
	return count, nil
}

func (m *BadgerManager) CountByState(ctx context.Context) (map[models.JobState]int, error) {
	states := []models.JobState{
		models.JobStateCreated,
		models.JobStateRetry,
		models.JobStateActive,
		models.JobStateCompleted,
		models.JobStateFailed,
		models.JobStateCancelled,
		models.JobStateExpired,
	}

	counts := make(map[models.JobState]int, len(states))
	err := m.db.View(func(txn *badger.Txn) error {
		for _, state := range states {
			prefix := []byte(fmt.Sprintf("%s%s:", statePrefix, state))
			counts[state] = countKeys(txn, prefix)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs by state: %w", err)
	}
	return counts, nil
}

// SweepExpired walks the delivery index and expires every waiting job whose
// expiry has passed. Expiry is independent of the visibility order, so the
// whole index is scanned.
func (m *BadgerManager) SweepExpired(ctx context.Context) (int, error) {
	count := 0
	err := m.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		now := time.Now().UTC()
		prefix := []byte(readyPrefix)

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			visibleAt, id, err := m.parseReadyKey(key)
			if err != nil {
				continue
			}

			job, err := m.loadJob(txn, id)
			if err == badger.ErrKeyNotFound {
				continue
			}
			if err != nil {
				return err
			}
			if job.State != models.JobStateCreated && job.State != models.JobStateRetry {
				continue
			}
			if !job.IsExpired(now) {
				continue
			}

			oldState := job.State
			job.State = models.JobStateExpired
			completed := now
			job.CompletedAt = &completed
			if err := m.transition(txn, job, oldState, visibleAt); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired jobs: %w", err)
	}

	if count > 0 {
		m.logger.Info().Int("count", count).Msg("Expired undelivered jobs")
	}
	return count, nil
}

// transition rewrites the job record and moves its index entries. oldState
// and oldVisibleAt describe the record as currently stored; the job carries
// the target state.
func (m *BadgerManager) transition(txn *badger.Txn, job *models.Job, oldState models.JobState, oldVisibleAt time.Time) error {
	if oldState == models.JobStateCreated || oldState == models.JobStateRetry {
		if err := txn.Delete(m.readyKey(oldVisibleAt, job.ID)); err != nil {
			return err
		}
	}
	if err := txn.Delete(m.stateKey(oldState, job.Name, job.ID)); err != nil {
		return err
	}
	if err := txn.Set(m.stateKey(job.State, job.Name, job.ID), []byte{}); err != nil {
		return err
	}
	if job.State == models.JobStateCreated || job.State == models.JobStateRetry {
		if err := txn.Set(m.readyKey(job.VisibleAt, job.ID), []byte{}); err != nil {
			return err
		}
	}
	if job.DedupKey != "" && job.State.IsTerminal() {
		if err := txn.Delete(m.dedupKey(job.Name, job.DedupKey)); err != nil {
			return err
		}
	}

	data, err := job.ToJSON()
	if err != nil {
		return err
	}
	return txn.Set(m.msgKey(job.ID), data)
}

func (m *BadgerManager) loadJob(txn *badger.Txn, id string) (*models.Job, error) {
	item, err := txn.Get(m.msgKey(id))
	if err != nil {
		return nil, err
	}

	var job models.Job
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &job)
	}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job %s: %w", id, err)
	}
	return &job, nil
}

// Helpers

func (m *BadgerManager) msgKey(id string) []byte {
	return []byte(msgPrefix + id)
}

func (m *BadgerManager) readyKey(visibleAt time.Time, id string) []byte {
	// Zero-padded to 20 digits so lexical key order matches numeric time order
	return []byte(fmt.Sprintf("%s%020d:%s", readyPrefix, visibleAt.UnixNano(), id))
}

func (m *BadgerManager) stateKey(state models.JobState, name, id string) []byte {
	return []byte(fmt.Sprintf("%s%s:%s:%s", statePrefix, state, name, id))
}

func (m *BadgerManager) dedupKey(name, key string) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", dedupPrefix, name, key))
}

func (m *BadgerManager) parseReadyKey(key []byte) (time.Time, string, error) {
	if len(key) <= len(readyPrefix) {
		return time.Time{}, "", fmt.Errorf("invalid ready key length")
	}

	// Suffix is "{20-digit-nanos}:{id}"
	suffix := string(key[len(readyPrefix):])
	if len(suffix) < 22 {
		return time.Time{}, "", fmt.Errorf("invalid ready key suffix")
	}

	nanos, err := strconv.ParseInt(suffix[:20], 10, 64)
	if err != nil {
		return time.Time{}, "", err
	}
	return time.Unix(0, nanos).UTC(), suffix[21:], nil
}

func collectKeySuffixes(txn *badger.Txn, prefix []byte) []string {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	var suffixes []string
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		key := it.Item().KeyCopy(nil)
		suffixes = append(suffixes, string(key[len(prefix):]))
	}
	return suffixes
}

func countKeys(txn *badger.Txn, prefix []byte) int {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	count := 0
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		count++
	}
	return count
}
