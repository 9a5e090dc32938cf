package logrecorder

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/getlantern/golog"
)

// RotateEvery is how often InitAndRotate starts a new file.
const RotateEvery = 5 * time.Minute

// NowString formats the current time as "20060102_1504".
func NowString() string {
	return time.Now().Format("20060102_1504")
}

// MakeDir creates the directory for today below root, e.g. 2025_04_25.
func MakeDir(root string) (string, error) {
	now := time.Now()
	dirName := fmt.Sprintf("%d_%02d_%02d", now.Year(), now.Month(), now.Day())
	fullPath := filepath.Join(root, dirName)

	if err := os.MkdirAll(fullPath, 0755); err != nil {
		return "", fmt.Errorf("create log directory: %w", err)
	}
	return fullPath, nil
}

// Recorder sends every golog output to a file, optionally teeing to a
// second writer such as the console.
type Recorder struct {
	mu   sync.Mutex
	root string
	name string
	tee  io.Writer
	file *os.File
}

func New(root, name string, tee io.Writer) *Recorder {
	return &Recorder{root: root, name: name, tee: tee}
}

// Open starts a new file named <name><timestamp>.log and points golog at it.
func (r *Recorder) Open() (string, error) {
	dir, err := MakeDir(r.root)
	if err != nil {
		return "", err
	}
	logPath := filepath.Join(dir, fmt.Sprintf("%s%s.log", r.name, NowString()))
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0666)
	if err != nil {
		return "", fmt.Errorf("open log file: %w", err)
	}

	var out io.Writer = f
	if r.tee != nil {
		out = io.MultiWriter(f, r.tee)
	}
	golog.SetOutputs(out, out)

	r.mu.Lock()
	old := r.file
	r.file = f
	r.mu.Unlock()
	if old != nil {
		old.Close()
	}
	return logPath, nil
}

// Rotate reopens the log on every tick until ctx is done.
func (r *Recorder) Rotate(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Open(); err != nil {
				fmt.Fprintf(os.Stderr, "log rotation failed: %v\n", err)
			}
		}
	}
}

// Close restores golog's default outputs and closes the current file.
func (r *Recorder) Close() error {
	golog.ResetOutputs()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

// InitAndRotate opens the first file under root and rotates it every
// RotateEvery until ctx is done.
func InitAndRotate(ctx context.Context, root, logName string, tee io.Writer) (*Recorder, error) {
	r := New(root, logName, tee)
	if _, err := r.Open(); err != nil {
		return nil, err
	}
	go r.Rotate(ctx, RotateEvery)
	return r, nil
}
