// Package mock provides a test double for the chat.Adapter interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/talkback/pkg/provider/chat"
)

// Adapter is a mock implementation of chat.Adapter.
//
// Each StreamChat call replays Chunks. When Gate is non-nil every chunk waits
// for a value on Gate first, which lets tests hold a reply open.
type Adapter struct {
	mu sync.Mutex

	// Chunks is replayed by every StreamChat call.
	Chunks []chat.Chunk

	// StreamErr, if non-nil, is returned from StreamChat instead of a channel.
	StreamErr error

	// Gate, if non-nil, must yield a value before each chunk is sent.
	Gate chan struct{}

	// Texts records the text of every StreamChat call.
	Texts []string

	// StopCount and ResetCount record Stop and Reset invocations.
	StopCount  int
	ResetCount int

	stop chan struct{}
}

// StreamChat implements chat.Adapter.
func (a *Adapter) StreamChat(ctx context.Context, text string) (<-chan chat.Chunk, error) {
	a.mu.Lock()
	a.Texts = append(a.Texts, text)
	if a.StreamErr != nil {
		err := a.StreamErr
		a.mu.Unlock()
		return nil, err
	}
	chunks := make([]chat.Chunk, len(a.Chunks))
	copy(chunks, a.Chunks)
	gate := a.Gate
	stop := make(chan struct{})
	a.stop = stop
	a.mu.Unlock()

	out := make(chan chat.Chunk)
	go func() {
		defer close(out)
		for _, c := range chunks {
			if gate != nil {
				select {
				case <-ctx.Done():
					return
				case <-stop:
					return
				case <-gate:
				}
			}
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case out <- c:
			}
		}
	}()
	return out, nil
}

// Stop implements chat.Adapter.
func (a *Adapter) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.StopCount++
	if a.stop != nil {
		close(a.stop)
		a.stop = nil
	}
}

// Reset implements chat.Adapter.
func (a *Adapter) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ResetCount++
}

// Calls returns a copy of the texts passed to StreamChat.
func (a *Adapter) Calls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.Texts))
	copy(out, a.Texts)
	return out
}

// Counts returns the number of Stop and Reset calls.
func (a *Adapter) Counts() (stops, resets int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.StopCount, a.ResetCount
}

var _ chat.Adapter = (*Adapter)(nil)
