package providers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"logpipe/internal/models"
	"logpipe/internal/utils"
)

// FileOptions configures a FileProvider.
type FileOptions struct {
	Filter models.CategoryFilter

	// FileTemplate is the log file path with one %s for the rotation
	// timestamp, e.g. "/var/log/logpipe/app-%s.jsonl".
	FileTemplate string

	// MaxSize is the file size in bytes that triggers rotation.
	MaxSize int64

	// MaxFiles is the number of files kept, the active one included.
	MaxFiles int

	// FlushInterval flushes the write buffer if it is not empty.
	FlushInterval time.Duration
}

// FileProvider appends messages as JSON lines to a size-rotated file.
type FileProvider struct {
	base
	fileTemplate  string
	maxSize       int64
	maxFiles      int
	flushInterval time.Duration
	logger        *utils.Logger

	mu          sync.Mutex
	currentFile string
	file        *os.File
	writer      *bufio.Writer
	currentSize int64
	rotations   int
	closed      bool

	doneCh chan struct{}
	wg     sync.WaitGroup
}

// NewFileProvider opens the first file and starts the periodic flush.
func NewFileProvider(options FileOptions) (*FileProvider, error) {
	if strings.Count(options.FileTemplate, "%s") != 1 {
		return nil, invalidOptions("file template must contain exactly one %%s, got %q", options.FileTemplate)
	}
	if options.MaxSize <= 0 {
		options.MaxSize = 10 * 1024 * 1024
	}
	if options.MaxFiles <= 0 {
		options.MaxFiles = 5
	}
	if options.FlushInterval <= 0 {
		options.FlushInterval = time.Second
	}

	p := &FileProvider{
		base:          newBase(TypeFile, options.Filter),
		fileTemplate:  options.FileTemplate,
		maxSize:       options.MaxSize,
		maxFiles:      options.MaxFiles,
		flushInterval: options.FlushInterval,
		logger:        utils.NewLogger("file-provider"),
		doneCh:        make(chan struct{}),
	}

	if err := p.openFile(); err != nil {
		return nil, err
	}

	p.wg.Add(1)
	go p.run()
	return p, nil
}

// newFileName applies "<timestamp>-<sequence>" to the template. The sequence
// keeps names unique when rotating more than once per second, and the names
// sort in creation order.
func (p *FileProvider) newFileName() string {
	stamp := fmt.Sprintf("%s-%04d", time.Now().Format("20060102150405"), p.rotations)
	p.rotations++
	return fmt.Sprintf(p.fileTemplate, stamp)
}

// openFile creates the active file, and its directory if needed.
func (p *FileProvider) openFile() error {
	p.currentFile = p.newFileName()
	dir := filepath.Dir(p.currentFile)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	file, err := os.OpenFile(p.currentFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	fi, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	p.currentSize = fi.Size()
	p.file = file
	p.writer = bufio.NewWriter(file)
	return nil
}

// rotateLocked closes the active file and opens a new one when n more bytes
// would exceed the maximum size.
func (p *FileProvider) rotateLocked(n int) error {
	if p.currentSize == 0 || p.currentSize+int64(n) < p.maxSize {
		return nil
	}

	if err := p.writer.Flush(); err != nil {
		return err
	}
	if err := p.file.Close(); err != nil {
		return err
	}
	if err := p.openFile(); err != nil {
		return err
	}
	return p.cleanupOldFiles()
}

// cleanupOldFiles removes the oldest files when more than maxFiles exist.
func (p *FileProvider) cleanupOldFiles() error {
	pattern := fmt.Sprintf(p.fileTemplate, "*")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return err
	}

	// Names embed the rotation timestamp, so lexical order is age order.
	sort.Strings(matches)

	excess := len(matches) - p.maxFiles
	for i := 0; i < excess; i++ {
		if matches[i] == p.currentFile {
			continue
		}
		if err := os.Remove(matches[i]); err != nil {
			p.logger.Warn("Failed to remove old log file", "file", matches[i], "error", err)
		}
	}
	return nil
}

// run flushes the buffer every flushInterval.
func (p *FileProvider) run() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := p.Flush(context.Background()); err != nil {
				p.logger.Warn("Periodic flush failed", "file", p.CurrentFile(), "error", err)
			}
		case <-p.doneCh:
			return
		}
	}
}

// Accept writes msg as one JSON line, rotating first if needed.
func (p *FileProvider) Accept(ctx context.Context, msg *models.LogMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal log message: %w", err)
	}
	data = append(data, '\n')

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrProviderClosed
	}
	if err := p.rotateLocked(len(data)); err != nil {
		return fmt.Errorf("failed to rotate log file: %w", err)
	}
	n, err := p.writer.Write(data)
	p.currentSize += int64(n)
	if err != nil {
		return fmt.Errorf("failed to write log file: %w", err)
	}
	return nil
}

// Flush writes buffered lines to the file.
func (p *FileProvider) Flush(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	return p.writer.Flush()
}

// CurrentFile returns the path of the active file.
func (p *FileProvider) CurrentFile() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentFile
}

// Close stops the periodic flush, flushes and closes the file.
func (p *FileProvider) Close() error {
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
	defer p.mu.Unlock()

	flushErr := p.writer.Flush()
	closeErr := p.file.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}
