package core

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/bundlewizard/internal/ingest"
)

// conversion is one /convert call of a wizard. A wizard replaces its
// conversion on every upload; a finished conversion stays attached so late
// subscribers can still read its final progress.
type conversion struct {
	ID       string
	FileName string
	Cancel   context.CancelFunc
	Done     chan struct{}

	mu        sync.Mutex
	progress  ConversionProgress
	listeners []chan ConversionProgress
}

func newConversion(fileName string, pages int, cancel context.CancelFunc) *conversion {
	id := uuid.NewString()
	return &conversion{
		ID:       id,
		FileName: fileName,
		Cancel:   cancel,
		Done:     make(chan struct{}),
		progress: ConversionProgress{
			ConversionID: id,
			FileName:     fileName,
			Phase:        PhaseStarting,
			Pages:        pages,
			StartedAt:    time.Now(),
		},
	}
}

// snapshot returns a copy of the current progress.
func (c *conversion) snapshot() ConversionProgress {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.copyLocked()
}

func (c *conversion) copyLocked() ConversionProgress {
	p := c.progress
	p.Log = append([]string(nil), c.progress.Log...)
	return p
}

// observe folds one ingestion event into the progress and notifies
// listeners. Called from the conversion goroutine only.
func (c *conversion) observe(ev ingest.Progress) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.progress.Done() {
		return
	}

	c.progress.Phase = PhaseStreaming
	c.progress.Current = ev.Current
	c.progress.Total = ev.Total
	c.progress.Message = ev.Message
	c.progress.Log = append(c.progress.Log, ev.Message)
	if n := len(c.progress.Log); n > logTailSize {
		c.progress.Log = append([]string(nil), c.progress.Log[n-logTailSize:]...)
	}
	c.notifyLocked()
}

// finish records the final state, notifies and closes every listener, and
// closes Done. Later calls are ignored.
func (c *conversion) finish(phase ConversionPhase, err error) ConversionProgress {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.progress.Done() {
		return c.copyLocked()
	}

	c.progress.Phase = phase
	c.progress.FinishedAt = time.Now()
	if err != nil {
		c.progress.Error = err.Error()
		c.progress.Code = MapError(err).Code
	}
	c.notifyLocked()

	for _, ch := range c.listeners {
		close(ch)
	}
	c.listeners = nil
	close(c.Done)
	return c.copyLocked()
}

// subscribe returns a channel that receives progress updates, starting
// with the current state. The channel is closed when the conversion ends.
func (c *conversion) subscribe() <-chan ConversionProgress {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan ConversionProgress, 16)
	ch <- c.copyLocked()
	if c.progress.Done() {
		close(ch)
		return ch
	}
	c.listeners = append(c.listeners, ch)
	return ch
}

// notifyLocked sends the current progress to every listener. A slow
// listener loses its oldest queued update rather than the newest one.
func (c *conversion) notifyLocked() {
	p := c.copyLocked()
	for _, ch := range c.listeners {
		select {
		case ch <- p:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- p:
		default:
		}
	}
}
