package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	defaultMaxRetries   = 3
	defaultBaseDelay    = 5 * time.Second
	defaultQueueTimeout = 5 * time.Second
	defaultDLQThreshold = 1000
	defaultKeyPrefix    = "library_reservations"
)

var ErrTaskNotFound = errors.New("task not found in DLQ")

// RedisQueue implements Queue on a Redis list (ready tasks), a sorted set
// (delayed tasks), a processing list and a DLQ. Tasks are handled one at a
// time by a single consumer goroutine.
type RedisQueue struct {
	client          *redis.Client
	prefix          string
	mainQueue       string
	delayedQueue    string
	processingQueue string
	retryManager    *RetryManager
	reschedule      func(ctx context.Context, task *Task) error
	dlqHandler      DLQHandler
	config          *RedisQueueConfig
	stopChan        chan struct{}
	stopOnce        sync.Once
	wg              sync.WaitGroup
	subscribed      bool
	mu              sync.Mutex
}

// RedisQueueConfig contains configuration for RedisQueue
type RedisQueueConfig struct {
	KeyPrefix string

	// Behavior
	MaxRetries    int
	BaseDelay     time.Duration
	QueueTimeout  time.Duration
	DLQThreshold  int
	EnableDLQ     bool
	EnableMetrics bool
}

// DefaultRedisQueueConfig returns default configuration
func DefaultRedisQueueConfig() *RedisQueueConfig {
	return &RedisQueueConfig{
		KeyPrefix:     defaultKeyPrefix,
		MaxRetries:    defaultMaxRetries,
		BaseDelay:     defaultBaseDelay,
		QueueTimeout:  defaultQueueTimeout,
		DLQThreshold:  defaultDLQThreshold,
		EnableDLQ:     true,
		EnableMetrics: true,
	}
}

func MainQueueKey(prefix string) string { return prefix + ":tasks" }

func DLQKey(prefix string) string { return prefix + ":dlq" }

// NewRedisQueue creates a new RedisQueue instance
func NewRedisQueue(ctx context.Context, client *redis.Client, cfg *RedisQueueConfig, dlqHandler DLQHandler) (*RedisQueue, error) {
	if cfg == nil {
		cfg = DefaultRedisQueueConfig()
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = defaultKeyPrefix
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.QueueTimeout <= 0 {
		cfg.QueueTimeout = defaultQueueTimeout
	}

	if dlqHandler == nil && cfg.EnableDLQ {
		dlqHandler = NewDefaultDLQHandler(client, cfg.KeyPrefix)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	q := &RedisQueue{
		client:          client,
		prefix:          cfg.KeyPrefix,
		mainQueue:       MainQueueKey(cfg.KeyPrefix),
		delayedQueue:    cfg.KeyPrefix + ":tasks:delayed",
		processingQueue: cfg.KeyPrefix + ":tasks:processing",
		retryManager:    NewRetryManager(cfg.BaseDelay),
		dlqHandler:      dlqHandler,
		config:          cfg,
		stopChan:        make(chan struct{}),
	}
	q.reschedule = q.Publish

	logrus.WithFields(logrus.Fields{
		"main":    q.mainQueue,
		"delayed": q.delayedQueue,
		"dlq":     DLQKey(cfg.KeyPrefix),
	}).Info("RedisQueue initialized")

	return q, nil
}

// Publish sends a task to the queue
func (r *RedisQueue) Publish(ctx context.Context, task *Task) error {
	if task == nil {
		return fmt.Errorf("task cannot be nil")
	}

	r.applyDefaults(task)
	if err := task.Validate(); err != nil {
		return fmt.Errorf("invalid task: %w", err)
	}

	taskData, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	// Use Redis Sorted Set for delayed tasks
	if task.ExecuteAt.After(time.Now()) {
		err = r.client.ZAdd(ctx, r.delayedQueue, &redis.Z{
			Score:  float64(task.ExecuteAt.Unix()),
			Member: taskData,
		}).Err()
		if err != nil {
			return fmt.Errorf("failed to publish delayed task: %w", err)
		}
		r.incrementMetric(ctx, "tasks_delayed", 1)

		logrus.WithFields(logrus.Fields{
			"task_id":    task.ID,
			"type":       task.Type,
			"execute_at": task.ExecuteAt.Format(time.RFC3339),
		}).Debug("Task scheduled")
		return nil
	}

	if err := r.client.LPush(ctx, r.mainQueue, taskData).Err(); err != nil {
		return fmt.Errorf("failed to publish task: %w", err)
	}
	r.incrementMetric(ctx, "tasks_queued", 1)

	logrus.WithFields(logrus.Fields{
		"task_id": task.ID,
		"type":    task.Type,
	}).Debug("Task published")
	return nil
}

// Subscribe starts the single consumer. It may be called once.
func (r *RedisQueue) Subscribe(ctx context.Context, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.subscribed {
		return fmt.Errorf("queue already has a consumer")
	}
	r.subscribed = true

	if err := r.recoverProcessing(ctx); err != nil {
		logrus.WithError(err).Warn("Failed to recover in-flight tasks")
	}

	r.wg.Add(3)
	go r.processMainQueue(ctx, handler)
	go r.processDelayedTasks(ctx)
	go r.monitorQueueMetrics(ctx)

	logrus.Info("RedisQueue consumer started")
	return nil
}

// recoverProcessing returns tasks left in the processing list by a crashed consumer.
func (r *RedisQueue) recoverProcessing(ctx context.Context) error {
	recovered := 0
	for {
		err := r.client.RPopLPush(ctx, r.processingQueue, r.mainQueue).Err()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return err
		}
		recovered++
	}

	if recovered > 0 {
		logrus.WithField("count", recovered).Info("Recovered in-flight tasks")
	}
	return nil
}

func (r *RedisQueue) processMainQueue(ctx context.Context, handler Handler) {
	defer r.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopChan:
			return
		default:
			if err := r.processNext(ctx, handler); err != nil {
				logrus.WithError(err).Error("Error processing task")
				time.Sleep(time.Second) // Backoff on error
			}
		}
	}
}

func (r *RedisQueue) processNext(ctx context.Context, handler Handler) error {
	taskData, err := r.client.BRPopLPush(ctx, r.mainQueue, r.processingQueue, r.config.QueueTimeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil // Timeout, no tasks
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to move task to processing queue: %w", err)
	}

	var task Task
	if err := json.Unmarshal([]byte(taskData), &task); err != nil {
		r.toDLQ(ctx, &Task{
			ID:        uuid.NewString(),
			Type:      "corrupted",
			Data:      map[string]interface{}{"raw_data": taskData},
			CreatedAt: time.Now(),
		}, fmt.Errorf("invalid task format: %w", err))
	} else if err := r.executeTask(ctx, &task, handler); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"task_id":  task.ID,
			"type":     task.Type,
			"attempts": task.Attempts,
		}).Error("Task failed")
		r.toDLQ(ctx, &task, err)
	}

	// Remove from processing queue regardless of outcome
	if err := r.client.LRem(ctx, r.processingQueue, 1, taskData).Err(); err != nil {
		logrus.WithError(err).Warn("Failed to remove task from processing queue")
	}

	return nil
}

// executeTask runs the handler once. A retryable failure is parked in the
// delayed set with its backoff so the consumer moves on to the next task.
func (r *RedisQueue) executeTask(ctx context.Context, task *Task, handler Handler) error {
	task.Attempts++
	startTime := time.Now()

	err := handler(ctx, task)
	if err == nil {
		r.incrementMetric(ctx, "tasks_success_"+string(task.Type), 1)
		logrus.WithFields(logrus.Fields{
			"task_id":  task.ID,
			"type":     task.Type,
			"duration": time.Since(startTime).String(),
		}).Info("Task completed")
		return nil
	}
	r.incrementMetric(ctx, "tasks_failure_"+string(task.Type), 1)

	shouldRetry, delay := r.retryManager.ShouldRetry(task, err)
	if !shouldRetry {
		return err
	}

	task.ExecuteAt = time.Now().Add(delay)
	if rerr := r.reschedule(ctx, task); rerr != nil {
		return fmt.Errorf("reschedule after %v: %w", err, rerr)
	}

	logrus.WithError(err).WithFields(logrus.Fields{
		"task_id":    task.ID,
		"attempt":    task.Attempts,
		"max":        task.MaxRetries,
		"execute_at": task.ExecuteAt.Format(time.RFC3339),
	}).Warn("Task failed, retry scheduled")
	return nil
}

func (r *RedisQueue) processDelayedTasks(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopChan:
			return
		case <-ticker.C:
			if err := r.moveReadyDelayedTasks(ctx); err != nil {
				logrus.WithError(err).Error("Failed to process delayed tasks")
			}
		}
	}
}

// moveReadyDelayedTasks moves ready delayed tasks to main queue
func (r *RedisQueue) moveReadyDelayedTasks(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().Unix(), 10)

	tasks, err := r.client.ZRangeByScore(ctx, r.delayedQueue, &redis.ZRangeBy{Min: "-inf", Max: now}).Result()
	if err != nil {
		return fmt.Errorf("failed to get delayed tasks: %w", err)
	}
	if len(tasks) == 0 {
		return nil
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, taskData := range tasks {
			pipe.LPush(ctx, r.mainQueue, taskData)
			pipe.ZRem(ctx, r.delayedQueue, taskData)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to move delayed tasks: %w", err)
	}

	logrus.WithField("count", len(tasks)).Debug("Moved delayed tasks to main queue")
	return nil
}

func (r *RedisQueue) toDLQ(ctx context.Context, task *Task, err error) {
	if !r.config.EnableDLQ || r.dlqHandler == nil {
		return
	}
	r.dlqHandler.HandleFailedTask(task, err)
	r.incrementMetric(ctx, "tasks_dlq", 1)
}

func (r *RedisQueue) applyDefaults(task *Task) {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.Data == nil {
		task.Data = make(map[string]interface{})
	}
	if task.MaxRetries <= 0 {
		task.MaxRetries = r.config.MaxRetries
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}
}

func (r *RedisQueue) monitorQueueMetrics(ctx context.Context) {
	defer r.wg.Done()

	if !r.config.EnableMetrics {
		return
	}

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopChan:
			return
		case <-ticker.C:
			stats, err := r.Stats(ctx)
			if err != nil {
				logrus.WithError(err).Warn("Failed to collect queue metrics")
				continue
			}
			if stats.MainQueue > int64(r.config.DLQThreshold) {
				logrus.WithFields(logrus.Fields{
					"size":      stats.MainQueue,
					"threshold": r.config.DLQThreshold,
				}).Warn("Main queue size exceeds threshold")
			}
		}
	}
}

func (r *RedisQueue) incrementMetric(ctx context.Context, metric string, value int64) {
	if !r.config.EnableMetrics {
		return
	}

	key := r.prefix + ":metrics:" + metric
	pipe := r.client.Pipeline()
	pipe.IncrBy(ctx, key, value)
	pipe.Expire(ctx, key, 24*time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		logrus.WithError(err).Debug("Failed to record queue metric")
	}
}

// Stats returns current queue sizes
func (r *RedisQueue) Stats(ctx context.Context) (*QueueStats, error) {
	pipe := r.client.Pipeline()

	mainLen := pipe.LLen(ctx, r.mainQueue)
	delayedLen := pipe.ZCard(ctx, r.delayedQueue)
	processingLen := pipe.LLen(ctx, r.processingQueue)
	dlqLen := pipe.ZCard(ctx, DLQKey(r.prefix))

	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to get queue stats: %w", err)
	}

	return &QueueStats{
		MainQueue:       mainLen.Val(),
		DelayedQueue:    delayedLen.Val(),
		ProcessingQueue: processingLen.Val(),
		DLQ:             dlqLen.Val(),
		Timestamp:       time.Now(),
	}, nil
}

// DLQ exposes the dead letter handler for inspection and requeue.
func (r *RedisQueue) DLQ() DLQHandler {
	return r.dlqHandler
}

// Close stops the consumer and waits for the in-flight task to finish.
// The redis client is owned by the caller.
func (r *RedisQueue) Close() error {
	r.stopOnce.Do(func() { close(r.stopChan) })
	r.wg.Wait()

	logrus.Info("RedisQueue closed")
	return nil
}

// HealthCheck performs a health check on the queue
func (r *RedisQueue) HealthCheck(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis connection failed: %w", err)
	}
	return nil
}

// QueueStats contains statistics about queue state
type QueueStats struct {
	MainQueue       int64     `json:"main_queue"`
	DelayedQueue    int64     `json:"delayed_queue"`
	ProcessingQueue int64     `json:"processing_queue"`
	DLQ             int64     `json:"dlq"`
	Timestamp       time.Time `json:"timestamp"`
}
