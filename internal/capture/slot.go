package capture

import (
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// FrameInfo describes the frame held by a FrameSlot.
type FrameInfo struct {
	Seq        uint64
	CapturedAt time.Time
}

// FrameSlot holds the most recently captured frame.
//
// The slot owns its Mat. Store hands ownership of a new Mat to the slot and
// frees the previous one; Snapshot returns an independent clone. Both take the
// same lock, so a reader sees either the previous complete frame or the new
// one, never a mix. The lock is never held while a caller processes a frame.
type FrameSlot struct {
	mu    sync.Mutex
	frame *gocv.Mat
	valid bool
	info  FrameInfo
}

// NewFrameSlot returns an empty slot.
func NewFrameSlot() *FrameSlot {
	return &FrameSlot{}
}

// Store replaces the held frame with mat and marks the slot valid. The slot
// takes ownership of mat; callers must not use or close it afterwards.
func (s *FrameSlot) Store(mat *gocv.Mat, capturedAt time.Time) {
	s.mu.Lock()
	old := s.frame
	s.frame = mat
	s.valid = true
	s.info.Seq++
	s.info.CapturedAt = capturedAt
	s.mu.Unlock()

	if old != nil {
		old.Close()
	}
}

// Invalidate marks the held frame as stale. The frame itself is kept until
// the next Store so that a Snapshot in flight never observes a freed Mat.
func (s *FrameSlot) Invalidate() {
	s.mu.Lock()
	s.valid = false
	s.mu.Unlock()
}

// Valid reports whether the slot currently holds a valid frame.
func (s *FrameSlot) Valid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.valid && s.frame != nil
}

// Info returns metadata about the held frame.
func (s *FrameSlot) Info() FrameInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// Snapshot returns a copy of the held frame. ok is false when no valid frame
// is available, in which case the returned Mat must not be used. The caller
// owns the copy and must close it.
func (s *FrameSlot) Snapshot() (mat gocv.Mat, info FrameInfo, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.valid || s.frame == nil || s.frame.Empty() {
		return gocv.Mat{}, FrameInfo{}, false
	}
	return s.frame.Clone(), s.info, true
}

// Close frees the held frame and leaves the slot invalid.
func (s *FrameSlot) Close() {
	s.mu.Lock()
	old := s.frame
	s.frame = nil
	s.valid = false
	s.mu.Unlock()

	if old != nil {
		old.Close()
	}
}
