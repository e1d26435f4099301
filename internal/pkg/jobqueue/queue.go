package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
)

const (
	// Redis key prefixes
	JobKeyPrefix     = "job:"
	JobQueueKey      = "job_queue"
	JobProcessingKey = "job_processing"
	JobStatsKey      = "job_stats"

	// Job settings
	DefaultMaxRetries = 3
	DefaultWorkers    = 5
	BaseRetryDelay    = 5 * time.Second
	MaxRetryDelay     = 5 * time.Minute

	// Retention: failed jobs stay visible for a week for manual inspection,
	// completed jobs for a day.
	FailedJobTTL    = 7 * 24 * time.Hour
	CompletedJobTTL = 24 * time.Hour

	// A worker that holds a job longer than this is assumed crashed and the
	// job becomes re-claimable. Handlers must tolerate re-entry.
	StalledJobMaxAge = 30 * time.Second
	sweepInterval    = 10 * time.Second

	// How long to wait for the broker before reporting unavailability.
	AvailabilityTimeout = 5 * time.Second
)

// ErrQueueStopped is returned by Enqueue once Stop has been called. Producers
// fall back to synchronous processing, the same as when the broker is down.
var ErrQueueStopped = errors.New("job queue stopped")

// HandlerFunc processes one job and reports the outcome tag plus an optional
// reason. The queue's retry policy dispatches on the tag.
type HandlerFunc func(ctx context.Context, job *Job) (Result, string)

// Queue manages background jobs using Redis
type Queue struct {
	client     *redis.Client
	workers    int
	handler    HandlerFunc
	workerPool chan struct{}
	stopCh     chan struct{}
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool
	stopped    bool
}

// NewQueue creates a new job queue on an injected Redis client.
func NewQueue(client *redis.Client, workers int) *Queue {
	if workers <= 0 {
		workers = DefaultWorkers
	}

	return &Queue{
		client:     client,
		workers:    workers,
		workerPool: make(chan struct{}, workers),
		stopCh:     make(chan struct{}),
	}
}

// Available reports whether the broker answers within the availability
// timeout. Producers switch to synchronous processing when it does not.
func (q *Queue) Available(ctx context.Context) bool {
	pingCtx, cancel := context.WithTimeout(ctx, AvailabilityTimeout)
	defer cancel()
	return q.client.Ping(pingCtx).Err() == nil
}

// Start starts the job queue workers
func (q *Queue) Start(handler HandlerFunc) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.running {
		return
	}

	q.handler = handler
	q.stopCh = make(chan struct{})
	q.running = true
	q.stopped = false
	log.Infof("[JobQueue] Starting %d workers", q.workers)

	for i := 0; i < q.workers; i++ {
		q.workerPool <- struct{}{}
	}

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}

	// Recovers jobs whose worker crashed mid-processing.
	q.wg.Add(1)
	go q.stuckSweeper(StalledJobMaxAge, sweepInterval)
}

// Stop stops accepting work and waits for in-flight jobs to finish. Queued
// but unprocessed jobs stay in the broker for the next worker.
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.running {
		return
	}

	log.Info("[JobQueue] Stopping workers...")
	close(q.stopCh)
	q.running = false
	q.stopped = true
	q.wg.Wait()
	log.Info("[JobQueue] All workers stopped")
}

// Enqueue adds a job keyed on jobID. The job key is written with SETNX, so
// enqueueing the same id twice leaves a single job; the duplicate call still
// reports queued.
func (q *Queue) Enqueue(ctx context.Context, jobType JobType, jobID string, payload map[string]interface{}) (bool, error) {
	q.mu.Lock()
	stopped := q.stopped
	q.mu.Unlock()
	if stopped {
		return false, ErrQueueStopped
	}

	job := &Job{
		ID:         jobID,
		Type:       jobType,
		Status:     JobStatusPending,
		Payload:    payload,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
		RetryCount: 0,
		MaxRetries: DefaultMaxRetries,
	}

	jobData, err := json.Marshal(job)
	if err != nil {
		return false, fmt.Errorf("failed to marshal job: %w", err)
	}

	jobKey := JobKeyPrefix + job.ID
	created, err := q.client.SetNX(ctx, jobKey, jobData, FailedJobTTL).Result()
	if err != nil {
		return false, fmt.Errorf("failed to enqueue job: %w", err)
	}
	if !created {
		log.Infof("[JobQueue] Job %s already enqueued, skipping duplicate", job.ID)
		return true, nil
	}

	pipe := q.client.Pipeline()
	pipe.LPush(ctx, JobQueueKey, job.ID)
	pipe.HIncrBy(ctx, JobStatsKey, string(JobStatusPending), 1)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("failed to enqueue job: %w", err)
	}

	log.Infof("[JobQueue] Enqueued job %s (Type: %s)", job.ID, job.Type)
	return true, nil
}

// RetryBackoff returns the delay before attempt n+1, exponential from the
// base delay and capped.
func RetryBackoff(retryCount int) time.Duration {
	if retryCount <= 0 {
		return BaseRetryDelay
	}
	delay := BaseRetryDelay << (retryCount - 1)
	if delay > MaxRetryDelay {
		return MaxRetryDelay
	}
	return delay
}

// worker processes jobs from the queue
func (q *Queue) worker(id int) {
	defer q.wg.Done()
	log.Infof("[JobQueue] Worker %d started", id)

	ctx := context.Background()

	for {
		select {
		case <-q.stopCh:
			log.Infof("[JobQueue] Worker %d stopping", id)
			return
		default:
			// Acquire worker slot
			<-q.workerPool

			job, err := q.dequeueJob(ctx)
			if err != nil {
				if err != redis.Nil {
					log.Errorf("[JobQueue] Worker %d: Error dequeuing job: %v", id, err)
				}
				q.workerPool <- struct{}{}
				time.Sleep(time.Second)
				continue
			}

			if job != nil {
				log.Infof("[JobQueue] Worker %d processing job %s (Type: %s)", id, job.ID, job.Type)
				q.processJob(ctx, job)
			}

			// Release worker slot
			q.workerPool <- struct{}{}
		}
	}
}

// dequeueJob gets the next job from the queue
func (q *Queue) dequeueJob(ctx context.Context) (*Job, error) {
	// Move job from pending queue to processing queue atomically
	result, err := q.client.BRPopLPush(ctx, JobQueueKey, JobProcessingKey, time.Second).Result()
	if err != nil {
		return nil, err
	}

	jobID := result
	jobKey := JobKeyPrefix + jobID

	jobData, err := q.client.Get(ctx, jobKey).Result()
	if err != nil {
		// Job data expired or missing, remove from processing queue
		q.client.LRem(ctx, JobProcessingKey, 1, jobID)
		return nil, fmt.Errorf("job data not found for ID %s", jobID)
	}

	var job Job
	if err := json.Unmarshal([]byte(jobData), &job); err != nil {
		q.client.LRem(ctx, JobProcessingKey, 1, jobID)
		return nil, fmt.Errorf("failed to unmarshal job %s: %w", jobID, err)
	}

	return &job, nil
}

// processJob runs the handler for a single job and applies the retry policy.
func (q *Queue) processJob(ctx context.Context, job *Job) {
	job.MarkAsProcessing()
	q.updateJob(ctx, job, FailedJobTTL)

	result, reason := q.handler(ctx, job)

	switch result {
	case ResultSuccess:
		log.Infof("[JobQueue] Job %s completed successfully", job.ID)
		job.MarkAsCompleted()
		q.updateJob(ctx, job, CompletedJobTTL)
		q.updateJobStats(ctx, JobStatusCompleted, 1)

	case ResultTransientFailure:
		log.Errorf("[JobQueue] Job %s failed: %s", job.ID, reason)
		job.MarkAsFailed(reason)

		if job.IsRetryable() {
			delay := RetryBackoff(job.RetryCount)
			log.Infof("[JobQueue] Retrying job %s in %s (Attempt %d/%d)", job.ID, delay, job.RetryCount, job.MaxRetries)
			job.MarkAsRetrying()
			q.updateJob(ctx, job, FailedJobTTL)

			jobID := job.ID
			time.AfterFunc(delay, func() {
				q.client.LPush(context.Background(), JobQueueKey, jobID)
			})
		} else {
			log.Errorf("[JobQueue] Job %s permanently failed after %d retries", job.ID, job.RetryCount)
			q.updateJob(ctx, job, FailedJobTTL)
			q.updateJobStats(ctx, JobStatusFailed, 1)
		}

	case ResultPermanentFailure:
		// Not worth retrying; keep the job record for inspection.
		log.Errorf("[JobQueue] Job %s rejected permanently: %s", job.ID, reason)
		job.MarkAsFailed(reason)
		job.RetryCount = job.MaxRetries
		q.updateJob(ctx, job, FailedJobTTL)
		q.updateJobStats(ctx, JobStatusFailed, 1)
	}

	q.removeFromProcessing(ctx, job.ID)
}

// stuckSweeper periodically scans the processing list and requeues jobs stuck
// for longer than maxAge.
func (q *Queue) stuckSweeper(maxAge time.Duration, interval time.Duration) {
	defer q.wg.Done()
	log.Infof("[JobQueue] Stuck sweeper running (maxAge=%s, interval=%s)", maxAge, interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	ctx := context.Background()
	for {
		select {
		case <-q.stopCh:
			log.Info("[JobQueue] Stuck sweeper stopping")
			return
		case <-ticker.C:
			ids, err := q.client.LRange(ctx, JobProcessingKey, 0, -1).Result()
			if err != nil {
				log.Errorf("[JobQueue] Sweeper LRange error: %v", err)
				continue
			}
			now := time.Now()
			for _, id := range ids {
				jobKey := JobKeyPrefix + id
				data, err := q.client.Get(ctx, jobKey).Result()
				if err != nil {
					if err != redis.Nil {
						log.Errorf("[JobQueue] Sweeper Get error for %s: %v", id, err)
					}
					_ = q.client.LRem(ctx, JobProcessingKey, 1, id).Err()
					continue
				}
				var job Job
				if uerr := json.Unmarshal([]byte(data), &job); uerr != nil {
					log.Errorf("[JobQueue] Sweeper unmarshal error for %s: %v", id, uerr)
					_ = q.client.LRem(ctx, JobProcessingKey, 1, id).Err()
					continue
				}
				if job.Status != JobStatusProcessing {
					// Clean up stray entry
					_ = q.client.LRem(ctx, JobProcessingKey, 1, id).Err()
					continue
				}
				started := job.ProcessedAt
				if started == nil || started.IsZero() {
					tmp := job.UpdatedAt
					if tmp.IsZero() {
						tmp = job.CreatedAt
					}
					started = &tmp
				}
				if now.Sub(*started) > maxAge {
					log.Warnf("[JobQueue] Recovering stuck job %s (type=%s), age=%s", job.ID, job.Type, now.Sub(*started))
					job.Status = JobStatusPending
					job.ErrorMsg = "recovered by sweeper"
					job.UpdatedAt = now
					q.updateJob(ctx, &job, FailedJobTTL)
					// Move from processing back to pending
					_ = q.client.LRem(ctx, JobProcessingKey, 1, id).Err()
					_ = q.client.RPush(ctx, JobQueueKey, id).Err()
				}
			}
		}
	}
}

// updateJob updates job data in Redis
func (q *Queue) updateJob(ctx context.Context, job *Job, ttl time.Duration) {
	jobData, err := json.Marshal(job)
	if err != nil {
		log.Errorf("[JobQueue] Failed to marshal job %s: %v", job.ID, err)
		return
	}

	jobKey := JobKeyPrefix + job.ID
	if err := q.client.Set(ctx, jobKey, jobData, ttl).Err(); err != nil {
		log.Errorf("[JobQueue] Failed to update job %s: %v", job.ID, err)
	}
}

// removeFromProcessing removes a job from the processing queue
func (q *Queue) removeFromProcessing(ctx context.Context, jobID string) {
	if err := q.client.LRem(ctx, JobProcessingKey, 1, jobID).Err(); err != nil {
		log.Errorf("[JobQueue] Failed to remove job %s from processing queue: %v", jobID, err)
	}
}

// updateJobStats updates job statistics
func (q *Queue) updateJobStats(ctx context.Context, status JobStatus, delta int64) {
	if err := q.client.HIncrBy(ctx, JobStatsKey, string(status), delta).Err(); err != nil {
		log.Errorf("[JobQueue] Failed to update job stats: %v", err)
	}
}

// GetJob retrieves a job by ID
func (q *Queue) GetJob(ctx context.Context, jobID string) (*Job, error) {
	jobKey := JobKeyPrefix + jobID
	jobData, err := q.client.Get(ctx, jobKey).Result()
	if err != nil {
		return nil, err
	}

	var job Job
	if err := json.Unmarshal([]byte(jobData), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}

	return &job, nil
}

// GetJobStats returns statistics about job statuses
func (q *Queue) GetJobStats(ctx context.Context) (map[JobStatus]int64, error) {
	stats, err := q.client.HGetAll(ctx, JobStatsKey).Result()
	if err != nil {
		return nil, err
	}

	result := make(map[JobStatus]int64)
	for status, count := range stats {
		if countInt, err := json.Number(count).Int64(); err == nil {
			result[JobStatus(status)] = countInt
		}
	}

	return result, nil
}

// GetQueueSize returns the number of pending jobs
func (q *Queue) GetQueueSize(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, JobQueueKey).Result()
}

// GetProcessingSize returns the number of jobs being processed
func (q *Queue) GetProcessingSize(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, JobProcessingKey).Result()
}
