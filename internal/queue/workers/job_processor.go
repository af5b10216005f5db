// -----------------------------------------------------------------------
// Job Processor - Routes claimed jobs to registered executors
// -----------------------------------------------------------------------

package workers

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/specto/internal/interfaces"
	"github.com/ternarybob/specto/internal/metrics"
	"github.com/ternarybob/specto/internal/models"
)

// JobProcessor polls the queue and routes claimed jobs to executors
// registered by job name. Each claim produces a job result log entry:
// processing on start, completed or failed on finish. Multiple worker
// goroutines process jobs concurrently.
type JobProcessor struct {
	queueMgr    interfaces.QueueManager
	results     interfaces.JobResultStorage
	broadcaster interfaces.EventBroadcaster
	executors   map[string]interfaces.JobExecutor
	logger      arbor.ILogger
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	running     bool
	mu          sync.Mutex
	concurrency int
}

// Compile-time assertion: JobProcessor implements WorkerPool
var _ interfaces.WorkerPool = (*JobProcessor)(nil)

// NewJobProcessor creates a job processor. The concurrency parameter
// controls how many jobs can be processed in parallel.
func NewJobProcessor(queueMgr interfaces.QueueManager, results interfaces.JobResultStorage, broadcaster interfaces.EventBroadcaster, logger arbor.ILogger, concurrency int) *JobProcessor {
	ctx, cancel := context.WithCancel(context.Background())

	if concurrency < 1 {
		concurrency = 1
	}

	return &JobProcessor{
		queueMgr:    queueMgr,
		results:     results,
		broadcaster: broadcaster,
		executors:   make(map[string]interfaces.JobExecutor),
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		concurrency: concurrency,
	}
}

// RegisterExecutor registers an executor for its job name. Call before
// Start; the executors map is not locked.
func (jp *JobProcessor) RegisterExecutor(executor interfaces.JobExecutor) {
	jobName := executor.GetJobName()
	jp.executors[jobName] = executor
	jp.logger.Debug().
		Str("job_name", jobName).
		Msg("Job executor registered")
}

// Start launches the worker goroutines. Call AFTER all services are fully
// initialized so executors never see a half-built dependency.
func (jp *JobProcessor) Start() error {
	jp.mu.Lock()
	defer jp.mu.Unlock()

	if jp.running {
		return fmt.Errorf("job processor already running")
	}

	jp.running = true
	jp.logger.Info().
		Int("concurrency", jp.concurrency).
		Int("executors", len(jp.executors)).
		Msg("Starting job processor")

	for i := 0; i < jp.concurrency; i++ {
		jp.wg.Add(1)
		go jp.processJobs(i)
	}
	return nil
}

// Stop stops the job processor and waits for in-flight jobs to finish.
func (jp *JobProcessor) Stop() error {
	jp.mu.Lock()
	if !jp.running {
		jp.mu.Unlock()
		return nil
	}
	jp.running = false
	jp.mu.Unlock()

	jp.logger.Info().Msg("Stopping job processor...")
	jp.cancel()
	jp.wg.Wait()
	jp.logger.Info().Msg("Job processor stopped")
	return nil
}

// Backoff configuration for idle polling
const (
	minBackoff = 100 * time.Millisecond // Initial backoff when queue is empty
	maxBackoff = 5 * time.Second        // Maximum backoff duration
)

// processJobs is the main processing loop for one worker goroutine.
func (jp *JobProcessor) processJobs(workerID int) {
	defer jp.wg.Done()

	// Panic recovery wrapper so a crash in the loop itself is logged
	// instead of silently killing the goroutine
	defer func() {
		if r := recover(); r != nil {
			jp.logger.Fatal().
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", getStackTrace()).
				Int("worker_id", workerID).
				Msg("FATAL: Job processor goroutine panicked")
		}
	}()

	jp.logger.Debug().
		Int("worker_id", workerID).
		Msg("Job processor worker started")

	// Exponential backoff while the queue is empty keeps idle CPU low
	currentBackoff := minBackoff

	for {
		select {
		case <-jp.ctx.Done():
			jp.logger.Debug().
				Int("worker_id", workerID).
				Msg("Job processor worker stopping")
			return
		default:
			if jp.processNextJob(workerID) {
				currentBackoff = minBackoff
			} else {
				select {
				case <-jp.ctx.Done():
					return
				case <-time.After(currentBackoff):
				}

				currentBackoff = currentBackoff * 2
				if currentBackoff > maxBackoff {
					currentBackoff = maxBackoff
				}
			}
		}
	}
}

// getStackTrace returns a formatted stack trace for panic debugging
func getStackTrace() string {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

// processNextJob claims and executes one job. Returns true if a job was
// claimed, false when the queue had nothing ready.
func (jp *JobProcessor) processNextJob(workerID int) bool {
	job, err := jp.queueMgr.Receive(jp.ctx)
	if err != nil {
		jp.logger.Error().
			Err(err).
			Int("worker_id", workerID).
			Msg("Failed to receive job from queue")
		return false
	}
	if job == nil {
		return false
	}

	startTime := time.Now()

	jp.logger.Info().
		Str("job_id", job.ID).
		Str("job_name", job.Name).
		Int("worker_id", workerID).
		Int("retry_count", job.RetryCount).
		Msg("Job started")

	// Open the result log entry. A retry reuses the job ID, moving the
	// previous attempt's row back to processing.
	result := models.NewJobResult(job.ID, job.Name)
	if serverID, ok := job.GetPayloadString(models.PayloadServerID); ok {
		result.Payload[models.PayloadServerID] = serverID
	}
	if err := jp.results.StoreResult(jp.ctx, result); err != nil {
		jp.logger.Warn().
			Err(err).
			Str("job_id", job.ID).
			Msg("Failed to open job result entry")
	}

	jp.broadcast(models.NewJobEvent(models.JobEventStarted, job))

	executor, ok := jp.executors[job.Name]
	if !ok {
		jp.finishFailed(job, result, fmt.Sprintf("No executor registered for job: %s", job.Name), nil, startTime)
		return true
	}

	if err := executor.Validate(job); err != nil {
		jp.finishFailed(job, result, fmt.Sprintf("Job validation failed: %v", err), nil, startTime)
		return true
	}

	payload, execErr := jp.executeSafely(executor, job, workerID)
	if execErr != nil {
		jp.finishFailed(job, result, execErr.Error(), payload, startTime)
		return true
	}

	jp.finishCompleted(job, result, payload, startTime)
	return true
}

// executeSafely runs the executor with panic recovery, so a crashing job
// fails that job rather than the worker goroutine.
func (jp *JobProcessor) executeSafely(executor interfaces.JobExecutor, job *models.Job, workerID int) (payload map[string]interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			jp.logger.Error().
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", getStackTrace()).
				Str("job_id", job.ID).
				Int("worker_id", workerID).
				Msg("Recovered from panic in job execution")
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()

	return executor.Execute(jp.ctx, job)
}

func (jp *JobProcessor) finishCompleted(job *models.Job, result *models.JobResult, payload map[string]interface{}, startTime time.Time) {
	duration := time.Since(startTime)

	if err := jp.queueMgr.Complete(jp.ctx, job.ID); err != nil {
		jp.logger.Warn().
			Err(err).
			Str("job_id", job.ID).
			Msg("Failed to mark job completed in queue")
	}

	result.MarkCompleted(payload, duration)
	if err := jp.results.StoreResult(jp.ctx, result); err != nil {
		jp.logger.Warn().
			Err(err).
			Str("job_id", job.ID).
			Msg("Failed to store job result")
	}

	job.State = models.JobStateCompleted
	jp.broadcast(models.NewJobEvent(models.JobEventCompleted, job))
	metrics.RecordJobProcessed(job.Name, "completed", duration)

	jp.logger.Info().
		Str("job_id", job.ID).
		Str("job_name", job.Name).
		Dur("duration", duration).
		Msg("Job completed")
}

func (jp *JobProcessor) finishFailed(job *models.Job, result *models.JobResult, errMsg string, payload map[string]interface{}, startTime time.Time) {
	duration := time.Since(startTime)

	willRetry, err := jp.queueMgr.Fail(jp.ctx, job.ID, errMsg)
	if err != nil {
		jp.logger.Warn().
			Err(err).
			Str("job_id", job.ID).
			Msg("Failed to mark job failed in queue")
	}

	result.MarkFailed(errMsg, payload, duration)
	if err := jp.results.StoreResult(jp.ctx, result); err != nil {
		jp.logger.Warn().
			Err(err).
			Str("job_id", job.ID).
			Msg("Failed to store job result")
	}

	job.State = models.JobStateFailed
	job.LastError = errMsg
	if willRetry {
		job.State = models.JobStateRetry
		metrics.RecordJobProcessed(job.Name, "retried", duration)
	} else {
		metrics.RecordJobProcessed(job.Name, "failed", duration)
	}
	jp.broadcast(models.NewJobEvent(models.JobEventFailed, job))

	jp.logger.Error().
		Str("job_id", job.ID).
		Str("job_name", job.Name).
		Str("error", errMsg).
		Bool("will_retry", willRetry).
		Dur("duration", duration).
		Msg("Job failed")
}

func (jp *JobProcessor) broadcast(event *models.JobEvent) {
	if jp.broadcaster != nil {
		jp.broadcaster.BroadcastJobEvent(event)
	}
}
