package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/compress/zstd"

	"logpipe/internal/models"
	"logpipe/internal/utils"
)

// ObjectPutter is the subset of *s3.Client used by the S3 provider.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Options configures an S3Provider.
type S3Options struct {
	Filter models.CategoryFilter

	Bucket string
	Prefix string

	// PodName distinguishes objects written by different processes.
	PodName string

	// FlushSize is the batch size that triggers an upload.
	FlushSize int

	// FlushInterval uploads a non-empty batch at least this often.
	FlushInterval time.Duration

	// Compress uploads zstd-compressed batches (.jsonl.zst).
	Compress bool
}

// S3Provider archives messages to object storage as JSON Lines batches.
type S3Provider struct {
	base
	client  ObjectPutter
	options S3Options
	logger  *utils.Logger
	now     func() time.Time

	mu       sync.Mutex
	batch    []*models.LogMessage
	closed   bool
	flushErr error

	doneCh chan struct{}
	wg     sync.WaitGroup
}

// NewS3Provider creates an S3 provider and starts its periodic flush.
func NewS3Provider(client ObjectPutter, options S3Options) (*S3Provider, error) {
	if client == nil {
		return nil, invalidOptions("s3 client is required")
	}
	if options.Bucket == "" {
		return nil, invalidOptions("bucket is required")
	}
	if options.FlushSize <= 0 {
		options.FlushSize = 500
	}
	if options.FlushInterval <= 0 {
		options.FlushInterval = time.Minute
	}
	if options.PodName == "" {
		options.PodName = "logpipe"
	}

	p := &S3Provider{
		base:    newBase(TypeS3, options.Filter),
		client:  client,
		options: options,
		logger:  utils.NewLogger("s3-provider"),
		now:     time.Now,
		doneCh:  make(chan struct{}),
	}

	p.wg.Add(1)
	go p.run()
	return p, nil
}

// run uploads pending messages every FlushInterval.
func (p *S3Provider) run() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.options.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := p.Flush(ctx); err != nil {
				p.logger.Warn("Periodic flush failed", "error", err)
			}
			cancel()
		case <-p.doneCh:
			return
		}
	}
}

// Accept adds msg to the pending batch and uploads it once FlushSize is reached.
func (p *S3Provider) Accept(ctx context.Context, msg *models.LogMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrProviderClosed
	}
	p.batch = append(p.batch, msg)
	if len(p.batch) < p.options.FlushSize {
		return nil
	}
	return p.flushLocked(ctx)
}

// Flush uploads the pending batch, if any.
func (p *S3Provider) Flush(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flushLocked(ctx)
}

func (p *S3Provider) flushLocked(ctx context.Context) error {
	if len(p.batch) == 0 {
		return nil
	}

	if _, err := p.writeBatch(ctx, p.batch); err != nil {
		p.flushErr = err
		// Keep the batch for the next attempt, bounded so that a long outage
		// cannot exhaust memory.
		if limit := 10 * p.options.FlushSize; len(p.batch) > limit {
			dropped := len(p.batch) - limit
			kept := copy(p.batch, p.batch[dropped:])
			clear(p.batch[kept:])
			p.batch = p.batch[:kept]
			p.logger.Error("Dropped unsent messages", "count", dropped)
		}
		return err
	}

	clear(p.batch)
	p.batch = p.batch[:0]
	p.flushErr = nil
	return nil
}

// writeBatch uploads records as one object and returns its key.
func (p *S3Provider) writeBatch(ctx context.Context, records []*models.LogMessage) (string, error) {
	key := p.objectKey(p.now().UTC())

	// Convert records to JSON Lines format
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	for _, record := range records {
		if err := encoder.Encode(record); err != nil {
			p.logger.Error("Failed to encode record", "index", record.Index, "error", err)
			continue
		}
	}

	input := &s3.PutObjectInput{
		Bucket:      aws.String(p.options.Bucket),
		Key:         aws.String(key),
		ContentType: aws.String("application/x-ndjson"),
	}

	body := buf.Bytes()
	if p.options.Compress {
		zw, err := zstd.NewWriter(nil)
		if err != nil {
			return "", fmt.Errorf("failed to create zstd encoder: %w", err)
		}
		body = zw.EncodeAll(body, nil)
		zw.Close()
		input.ContentEncoding = aws.String("zstd")
	}
	input.Body = bytes.NewReader(body)

	if _, err := p.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}

	p.logger.Info("Wrote batch to S3", "key", key, "count", len(records), "bytes", len(body))
	return key, nil
}

// objectKey formats prefix/YYYY/MM/DD/pod-20060102-150405-nanos.jsonl[.zst].
func (p *S3Provider) objectKey(now time.Time) string {
	ext := ".jsonl"
	if p.options.Compress {
		ext += ".zst"
	}
	return fmt.Sprintf("%s%04d/%02d/%02d/%s-%s-%d%s",
		p.options.Prefix,
		now.Year(),
		now.Month(),
		now.Day(),
		p.options.PodName,
		now.Format("20060102-150405"),
		now.Nanosecond(),
		ext,
	)
}

// Pending returns the number of messages waiting for upload.
func (p *S3Provider) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.batch)
}

// closeFlushTimeout bounds the upload Close makes on its own.
const closeFlushTimeout = 30 * time.Second

// Close stops the periodic flush and uploads what is left. When the most
// recent upload failed, Close does not retry: it reports the messages that
// were not archived.
func (p *S3Provider) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	close(p.doneCh)
	p.wg.Wait()

	p.mu.Lock()
	pending, lastErr := len(p.batch), p.flushErr
	p.mu.Unlock()
	switch {
	case pending == 0:
		return nil
	case lastErr != nil:
		return fmt.Errorf("%d messages not archived: %w", pending, lastErr)
	}

	ctx, cancel := context.WithTimeout(context.Background(), closeFlushTimeout)
	defer cancel()
	return p.Flush(ctx)
}
