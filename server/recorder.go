package server

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"RadioRoyal/core/relay"
	"RadioRoyal/logger"
	"RadioRoyal/model"
	"RadioRoyal/repository"
)

const (
	recorderQueue   = 256
	journalTimeout  = 10 * time.Second
	recordingFinish = 30 * time.Second
)

// Recording is an in-progress archive upload.
type Recording interface {
	io.WriteCloser
	Name() string
}

// BeginFunc starts an archive upload for one broadcast.
type BeginFunc func(ctx context.Context, broadcastID, encoding string) Recording

type opKind int

const (
	opStarted opKind = iota
	opChunk
	opEnded
)

type recorderOp struct {
	kind  opKind
	info  relay.SessionInfo
	id    string
	chunk []byte
}

// Recorder journals broadcasts to the database and archives their audio.
// Relay callbacks only enqueue; a single worker does the I/O, and work is
// dropped when the queue is full so the relay never waits on storage.
type Recorder struct {
	journal repository.BroadcastRepository
	begin   BeginFunc

	ctx    context.Context
	cancel context.CancelFunc
	ops    chan recorderOp
	done   chan struct{}

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64

	// worker only
	recordings map[string]Recording
}

var _ relay.Observer = (*Recorder)(nil)

// NewRecorder starts the recorder worker. journal and begin may be nil.
func NewRecorder(journal repository.BroadcastRepository, begin BeginFunc) *Recorder {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Recorder{
		journal:    journal,
		begin:      begin,
		ctx:        ctx,
		cancel:     cancel,
		ops:        make(chan recorderOp, recorderQueue),
		done:       make(chan struct{}),
		recordings: make(map[string]Recording),
	}
	go r.run()
	return r
}

func (r *Recorder) enqueue(op recorderOp) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.ops <- op:
	default:
		if n := r.dropped.Add(1); n%100 == 1 {
			logger.Warn("recorder queue full, dropping", logger.Int64("dropped", n))
		}
	}
}

func (r *Recorder) BroadcastStarted(info relay.SessionInfo) {
	r.enqueue(recorderOp{kind: opStarted, info: info, id: info.ID})
}

func (r *Recorder) BroadcastChunk(id string, chunk []byte) {
	if r.begin == nil {
		return
	}
	r.enqueue(recorderOp{kind: opChunk, id: id, chunk: chunk})
}

func (r *Recorder) BroadcastEnded(info relay.SessionInfo) {
	r.enqueue(recorderOp{kind: opEnded, info: info, id: info.ID})
}

// Dropped returns how many operations were discarded.
func (r *Recorder) Dropped() int64 { return r.dropped.Load() }

// Close drains the queue, finishes open recordings and stops the worker.
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.ops)
	r.mu.Unlock()
	<-r.done
	r.cancel()
}

func (r *Recorder) run() {
	defer close(r.done)
	for op := range r.ops {
		switch op.kind {
		case opStarted:
			r.started(op.info)
		case opChunk:
			if rec, ok := r.recordings[op.id]; ok {
				rec.Write(op.chunk)
			}
		case opEnded:
			r.ended(op.info)
		}
	}
	for id, rec := range r.recordings {
		if err := rec.Close(); err != nil {
			logger.Warn("archive close failed", logger.String("broadcast", id), logger.ErrorField(err))
		}
		delete(r.recordings, id)
	}
}

func (r *Recorder) started(info relay.SessionInfo) {
	if r.journal != nil {
		ctx, cancel := context.WithTimeout(r.ctx, journalTimeout)
		err := r.journal.Create(ctx, &model.BroadcastSession{
			SessionID:  info.ID,
			Encoding:   info.Encoding,
			RemoteAddr: info.RemoteAddr,
			Target:     info.Target,
			StartedAt:  info.StartedAt,
		})
		cancel()
		if err != nil {
			logger.Warn("journal create failed", logger.String("broadcast", info.ID), logger.ErrorField(err))
		}
	}
	if r.begin != nil {
		r.recordings[info.ID] = r.begin(r.ctx, info.ID, info.Encoding)
	}
}

func (r *Recorder) ended(info relay.SessionInfo) {
	var object string
	if rec, ok := r.recordings[info.ID]; ok {
		delete(r.recordings, info.ID)
		done := make(chan error, 1)
		go func() { done <- rec.Close() }()
		select {
		case err := <-done:
			if err != nil {
				logger.Warn("archive upload failed", logger.String("broadcast", info.ID), logger.ErrorField(err))
			} else {
				object = rec.Name()
			}
		case <-time.After(recordingFinish):
			logger.Warn("archive upload still running", logger.String("broadcast", info.ID))
		}
	}
	if r.journal != nil {
		ctx, cancel := context.WithTimeout(r.ctx, journalTimeout)
		err := r.journal.Finish(ctx, info.ID, info.Bytes, info.Chunks, info.Reason, object)
		cancel()
		if err != nil {
			logger.Warn("journal finish failed", logger.String("broadcast", info.ID), logger.ErrorField(err))
		}
	}
	logger.Info("broadcast recorded",
		logger.String("broadcast", info.ID),
		logger.Int64("bytes", info.Bytes),
		logger.String("archive", object))
}
