package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"vocalq-backend/internal/domain"
)

// CallStore persists call records. *cockroach.CallRepository implements it.
type CallStore interface {
	InsertCall(ctx context.Context, call *domain.Call, tier domain.WriteTier) error
	FinalizeCall(ctx context.Context, call *domain.Call, tier domain.WriteTier) error
	SyncTranscript(ctx context.Context, callID string, transcript []domain.TranscriptEntry, intent string) error
	InsertSummary(ctx context.Context, callID, summary string) error
}

// TranscriptLog keeps every version of every transcript entry.
// *cassandra.TranscriptRepository implements it.
type TranscriptLog interface {
	Append(ctx context.Context, callID string, entry domain.TranscriptEntry) error
}

type job struct {
	name string
	run  func()
}

// persister runs all storage writes of one call on a single goroutine so
// they keep their order and never block audio ingestion
type persister struct {
	store    CallStore
	tlog     TranscriptLog
	observer Observer
	log      *zap.Logger
	base     context.Context
	// timeout bounds each single write, so a hung tier leaves time for the next
	timeout time.Duration

	mu     sync.Mutex
	closed bool
	jobs   chan job
	done   chan struct{}
}

func newPersister(base context.Context, store CallStore, tlog TranscriptLog, observer Observer, log *zap.Logger, timeout time.Duration) *persister {
	p := &persister{
		store:    store,
		tlog:     tlog,
		observer: observer,
		log:      log,
		base:     context.WithoutCancel(base),
		timeout:  timeout,
		jobs:     make(chan job, 64),
		done:     make(chan struct{}),
	}
	go p.loop()
	return p
}

func (p *persister) loop() {
	defer close(p.done)
	for j := range p.jobs {
		j.run()
	}
}

// write runs one storage call under its own deadline
func (p *persister) write(fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(p.base, p.timeout)
	defer cancel()
	return fn(ctx)
}

// offer queues a job unless the queue is full. Used for superseded writes like syncs.
func (p *persister) offer(j job) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		p.log.Debug("Call already persisted, skipping write", zap.String("job", j.name))
		return
	}
	select {
	case p.jobs <- j:
	default:
		p.log.Warn("Persistence queue full, skipping write", zap.String("job", j.name))
	}
}

// submit queues a job, waiting for room
func (p *persister) submit(j job) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		p.log.Warn("Call already persisted, dropping write", zap.String("job", j.name))
		return
	}
	p.jobs <- j
}

// close stops accepting jobs and waits for the queue to drain, up to wait
func (p *persister) close(wait time.Duration) {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-p.done:
	case <-timer.C:
		p.log.Error("Timed out waiting for pending call writes")
	}
}

// tiered tries each write tier in order until one succeeds. Failures are
// logged and counted, never returned.
func (p *persister) tiered(kind string, write func(ctx context.Context, tier domain.WriteTier) error) {
	for _, tier := range domain.WriteTiers {
		err := p.write(func(ctx context.Context) error { return write(ctx, tier) })
		p.observer.RecordPersistence(kind, string(tier), err)
		if err == nil {
			p.log.Debug("Call record written", zap.String("kind", kind), zap.String("tier", string(tier)))
			return
		}
		p.log.Warn("Call record write failed, degrading",
			zap.String("kind", kind),
			zap.String("tier", string(tier)),
			zap.Error(err),
		)
	}
	p.log.Error("All call record write attempts failed", zap.String("kind", kind))
}

func (p *persister) insert(call domain.Call) {
	if p.store == nil {
		return
	}
	p.submit(job{name: "insert", run: func() {
		p.tiered("insert", func(ctx context.Context, tier domain.WriteTier) error {
			return p.store.InsertCall(ctx, &call, tier)
		})
	}})
}

func (p *persister) sync(callID string, entries []domain.TranscriptEntry, intent string) {
	if p.store == nil {
		return
	}
	p.offer(job{name: "sync", run: func() {
		err := p.write(func(ctx context.Context) error {
			return p.store.SyncTranscript(ctx, callID, entries, intent)
		})
		p.observer.RecordPersistence("sync", string(domain.TierFull), err)
		if err != nil {
			p.log.Warn("Transcript sync failed", zap.Error(err))
		}
	}})
}

func (p *persister) appendLog(callID string, entry domain.TranscriptEntry) {
	if p.tlog == nil {
		return
	}
	p.offer(job{name: "transcript_log", run: func() {
		err := p.write(func(ctx context.Context) error {
			return p.tlog.Append(ctx, callID, entry)
		})
		if err != nil {
			p.log.Warn("Transcript log append failed", zap.Int("seq", entry.Seq), zap.Error(err))
		}
	}})
}

func (p *persister) finalize(call domain.Call) {
	if p.store == nil {
		return
	}
	p.submit(job{name: "finalize", run: func() {
		p.tiered("finalize", func(ctx context.Context, tier domain.WriteTier) error {
			return p.store.FinalizeCall(ctx, &call, tier)
		})
		if call.Summary == "" {
			return
		}
		err := p.write(func(ctx context.Context) error {
			return p.store.InsertSummary(ctx, call.CallID, call.Summary)
		})
		p.observer.RecordPersistence("summary", string(domain.TierFull), err)
		if err != nil {
			p.log.Warn("Summary insert failed", zap.Error(err))
		}
	}})
}
