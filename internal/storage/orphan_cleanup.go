package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// OrphanCleanupConfig holds configuration for the orphan cleanup job
type OrphanCleanupConfig struct {
	Interval     time.Duration // Interval between cleanup runs (default: 24 hours)
	AgeThreshold time.Duration // Minimum age before an unreferenced object is deleted (default: 7 days)
	BatchSize    int           // Number of objects to process per batch (default: 1000)
	Enabled      bool
}

// DefaultOrphanCleanupConfig returns default configuration
func DefaultOrphanCleanupConfig() OrphanCleanupConfig {
	return OrphanCleanupConfig{
		Interval:     24 * time.Hour,
		AgeThreshold: 7 * 24 * time.Hour,
		BatchSize:    1000,
		Enabled:      true,
	}
}

// MediaKeyChecker reports which storage keys are still referenced by posts.
type MediaKeyChecker interface {
	// MediaKeysInUse returns, for each given key, whether a post references it.
	MediaKeysInUse(ctx context.Context, keys []string) (map[string]bool, error)
}

// OrphanCleanupJob periodically removes media objects no post references.
// Posts can be deleted while their media upload is still in flight, so
// objects younger than the age threshold are never touched.
type OrphanCleanupJob struct {
	store      *MediaStore
	keyChecker MediaKeyChecker
	config     OrphanCleanupConfig
	logger     *slog.Logger
	stopChan   chan struct{}
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool
	lastRun    time.Time
	lastResult *CleanupResult
}

// CleanupResult holds the result of a cleanup run
type CleanupResult struct {
	StartTime      time.Time
	EndTime        time.Time
	FilesScanned   int
	OrphansFound   int
	OrphansDeleted int
	BytesFreed     int64
	Errors         []string
}

// NewOrphanCleanupJob creates a new orphan cleanup job
func NewOrphanCleanupJob(store *MediaStore, keyChecker MediaKeyChecker, config OrphanCleanupConfig, logger *slog.Logger) *OrphanCleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 1000
	}
	return &OrphanCleanupJob{
		store:      store,
		keyChecker: keyChecker,
		config:     config,
		logger:     logger,
		stopChan:   make(chan struct{}),
	}
}

// Start begins the periodic cleanup job
func (j *OrphanCleanupJob) Start() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.running {
		return fmt.Errorf("cleanup job is already running")
	}

	if !j.config.Enabled {
		j.logger.Info("orphan cleanup job is disabled")
		return nil
	}

	j.running = true
	j.stopChan = make(chan struct{})
	j.wg.Add(1)

	go j.run()

	j.logger.Info("orphan cleanup job started",
		"interval", j.config.Interval,
		"age_threshold", j.config.AgeThreshold)
	return nil
}

// Stop stops the periodic cleanup job
func (j *OrphanCleanupJob) Stop() {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	j.running = false
	close(j.stopChan)
	j.mu.Unlock()

	j.wg.Wait()
	j.logger.Info("orphan cleanup job stopped")
}

// IsRunning returns whether the cleanup job is running
func (j *OrphanCleanupJob) IsRunning() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running
}

// GetLastResult returns the result of the last cleanup run
func (j *OrphanCleanupJob) GetLastResult() *CleanupResult {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastResult
}

// GetLastRunTime returns the time of the last cleanup run
func (j *OrphanCleanupJob) GetLastRunTime() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastRun
}

func (j *OrphanCleanupJob) run() {
	defer j.wg.Done()

	j.runCleanup()

	ticker := time.NewTicker(j.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.runCleanup()
		case <-j.stopChan:
			return
		}
	}
}

func (j *OrphanCleanupJob) runCleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	result, _ := j.RunNow(ctx)

	j.logger.Info("orphan cleanup completed",
		"scanned", result.FilesScanned,
		"found", result.OrphansFound,
		"deleted", result.OrphansDeleted,
		"bytes_freed", result.BytesFreed,
		"errors", len(result.Errors),
		"duration", result.EndTime.Sub(result.StartTime))
}

// RunNow triggers an immediate cleanup run.
func (j *OrphanCleanupJob) RunNow(ctx context.Context) (*CleanupResult, error) {
	result := &CleanupResult{
		StartTime: time.Now(),
	}

	orphans, scanned, err := j.findOrphans(ctx)
	result.FilesScanned = scanned
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("error finding orphans: %v", err))
	}

	result.OrphansFound = len(orphans)

	if len(orphans) > 0 {
		deleted, bytesFreed, deleteErrors := j.deleteOrphans(ctx, orphans)
		result.OrphansDeleted = deleted
		result.BytesFreed = bytesFreed
		result.Errors = append(result.Errors, deleteErrors...)
	}

	result.EndTime = time.Now()

	j.mu.Lock()
	j.lastRun = result.StartTime
	j.lastResult = result
	j.mu.Unlock()

	return result, nil
}

type orphanFile struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// findOrphans lists media objects old enough to judge and keeps those
// no post references.
func (j *OrphanCleanupJob) findOrphans(ctx context.Context) ([]orphanFile, int, error) {
	var orphans []orphanFile
	var scanned int
	cutoffTime := time.Now().Add(-j.config.AgeThreshold)

	paginator := s3.NewListObjectsV2Paginator(j.store.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(j.store.bucket),
		Prefix: aws.String(mediaPrefix),
	})

	var batch []orphanFile
	for paginator.HasMorePages() {
		select {
		case <-ctx.Done():
			return orphans, scanned, ctx.Err()
		default:
		}

		page, err := paginator.NextPage(ctx)
		if err != nil {
			return orphans, scanned, fmt.Errorf("list media objects: %w", err)
		}

		for _, obj := range page.Contents {
			scanned++
			if obj.Key == nil {
				continue
			}

			if obj.LastModified != nil && obj.LastModified.After(cutoffTime) {
				continue
			}

			batch = append(batch, orphanFile{
				Key:          *obj.Key,
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})

			if len(batch) >= j.config.BatchSize {
				orphansInBatch, err := j.checkBatchForOrphans(ctx, batch)
				if err != nil {
					j.logger.Error("orphan batch check failed", "error", err)
				} else {
					orphans = append(orphans, orphansInBatch...)
				}
				batch = batch[:0]
			}
		}
	}

	if len(batch) > 0 {
		orphansInBatch, err := j.checkBatchForOrphans(ctx, batch)
		if err != nil {
			j.logger.Error("orphan batch check failed", "error", err)
		} else {
			orphans = append(orphans, orphansInBatch...)
		}
	}

	return orphans, scanned, nil
}

func (j *OrphanCleanupJob) checkBatchForOrphans(ctx context.Context, files []orphanFile) ([]orphanFile, error) {
	if len(files) == 0 {
		return nil, nil
	}

	keys := make([]string, len(files))
	for i, f := range files {
		keys[i] = f.Key
	}

	inUse, err := j.keyChecker.MediaKeysInUse(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("check media references: %w", err)
	}

	var orphans []orphanFile
	for _, f := range files {
		if !inUse[f.Key] {
			orphans = append(orphans, f)
		}
	}

	return orphans, nil
}

func (j *OrphanCleanupJob) deleteOrphans(ctx context.Context, orphans []orphanFile) (int, int64, []string) {
	if len(orphans) == 0 {
		return 0, 0, nil
	}

	var deleted int
	var bytesFreed int64
	var errs []string

	for i := 0; i < len(orphans); i += j.config.BatchSize {
		select {
		case <-ctx.Done():
			errs = append(errs, "context cancelled during deletion")
			return deleted, bytesFreed, errs
		default:
		}

		end := i + j.config.BatchSize
		if end > len(orphans) {
			end = len(orphans)
		}
		batch := orphans[i:end]

		objectIdentifiers := make([]types.ObjectIdentifier, len(batch))
		var batchSize int64
		for idx, f := range batch {
			objectIdentifiers[idx] = types.ObjectIdentifier{
				Key: aws.String(f.Key),
			}
			batchSize += f.Size
		}

		output, err := j.store.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(j.store.bucket),
			Delete: &types.Delete{
				Objects: objectIdentifiers,
				Quiet:   aws.Bool(false),
			},
		})
		if err != nil {
			errs = append(errs, fmt.Sprintf("failed to delete batch at index %d: %v", i, err))
			continue
		}

		batchDeleted := len(batch) - len(output.Errors)
		deleted += batchDeleted

		if batchDeleted == len(batch) {
			bytesFreed += batchSize
		} else {
			deletedKeys := make(map[string]bool)
			for _, d := range output.Deleted {
				if d.Key != nil {
					deletedKeys[*d.Key] = true
				}
			}
			for _, f := range batch {
				if deletedKeys[f.Key] {
					bytesFreed += f.Size
				}
			}
		}

		for _, e := range output.Errors {
			errs = append(errs, fmt.Sprintf("failed to delete %s: %s", aws.ToString(e.Key), aws.ToString(e.Message)))
		}
	}

	return deleted, bytesFreed, errs
}
