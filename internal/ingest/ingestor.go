package ingest

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"example.com/pagepulse/internal/domain"
	"example.com/pagepulse/internal/metrics"
)

// Writer persists a batch and reports how many rows were new.
type Writer interface {
	InsertBatch(ctx context.Context, items []domain.EventRecord) (int64, error)
}

// Publisher fans a stored batch out to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, events []domain.EventRecord) (int, error)
}

const finalFlushTimeout = 5 * time.Second

type Ingestor struct {
	queue        chan domain.EventRecord
	writer       Writer
	publisher    Publisher
	batchMaxSize int
	batchMaxWait time.Duration
	log          zerolog.Logger
	done         chan struct{}
}

func NewIngestor(writer Writer, queueMaxSize, batchMaxSize int, batchMaxWait time.Duration, log zerolog.Logger) *Ingestor {
	return &Ingestor{
		queue:        make(chan domain.EventRecord, queueMaxSize),
		writer:       writer,
		batchMaxSize: batchMaxSize,
		batchMaxWait: batchMaxWait,
		log:          log.With().Str("component", "ingest").Logger(),
		done:         make(chan struct{}),
	}
}

// WithPublisher adds a sink that receives every successfully written batch.
// Must be called before Start.
func (ig *Ingestor) WithPublisher(p Publisher) *Ingestor {
	ig.publisher = p
	return ig
}

func (ig *Ingestor) Start(ctx context.Context) {
	go func() {
		defer close(ig.done)
		batch := make([]domain.EventRecord, 0, ig.batchMaxSize)
		t := time.NewTimer(ig.batchMaxWait)
		defer t.Stop()

		resetTimer := func() {
			if !t.Stop() {
				select {
				case <-t.C:
				default:
				}
			}
			t.Reset(ig.batchMaxWait)
		}

		flush := func(ctx context.Context) {
			if len(batch) == 0 {
				resetTimer()
				return
			}
			ig.write(ctx, batch)
			batch = batch[:0]
			resetTimer()
		}

		for {
			select {
			case <-ctx.Done():
				// Drain what was already accepted; the request context is gone.
			drain:
				for {
					select {
					case ev := <-ig.queue:
						batch = append(batch, ev)
					default:
						break drain
					}
				}
				final, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalFlushTimeout)
				flush(final)
				cancel()
				return
			case ev := <-ig.queue:
				batch = append(batch, ev)
				if len(batch) >= ig.batchMaxSize {
					flush(ctx)
				}
			case <-t.C:
				flush(ctx)
			}
		}
	}()
}

func (ig *Ingestor) write(ctx context.Context, batch []domain.EventRecord) {
	start := time.Now()
	affected, err := ig.writer.InsertBatch(ctx, batch)
	metrics.RecordBatchWrite(err, time.Since(start))
	if err != nil {
		ig.log.Error().Err(err).Int("dropped", len(batch)).Msg("batch insert failed")
		return
	}
	ig.log.Debug().Int64("inserted", affected).Int("size", len(batch)).Msg("batch insert ok")

	if ig.publisher == nil {
		return
	}
	n, err := ig.publisher.Publish(ctx, batch)
	metrics.RecordPublished(err, n)
	if err != nil {
		ig.log.Warn().Err(err).Int("published", n).Int("size", len(batch)).Msg("publish failed")
	}
}

// EnqueueBatch hands records to the batching loop in order, waiting for
// queue space as the loop drains. It returns how many were handed over
// before ctx ended.
func (ig *Ingestor) EnqueueBatch(ctx context.Context, events []domain.EventRecord) (int, error) {
	for i, ev := range events {
		select {
		case ig.queue <- ev:
		case <-ctx.Done():
			return i, ctx.Err()
		}
	}
	return len(events), nil
}

// Done is closed after the loop has written its final batch.
func (ig *Ingestor) Done() <-chan struct{} { return ig.done }
