// ledger_publisher.go — асинхронная отправка событий во внешний реестр.
// Очередь ограничена: при переполнении запись отбрасывается с предупреждением,
// операции над записями никогда не ждут реестр.
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bigkaa/goartstore/record-module/internal/ledger"
)

// LedgerPublisher — очередь и фоновый обработчик отправки в реестр.
type LedgerPublisher struct {
	ledger  ledger.Ledger
	queue   chan ledger.Entry
	timeout time.Duration
	logger  *slog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewLedgerPublisher создаёт публикатор.
// queueSize — ёмкость очереди, timeout — таймаут одной отправки.
func NewLedgerPublisher(l ledger.Ledger, queueSize int, timeout time.Duration, logger *slog.Logger) *LedgerPublisher {
	return &LedgerPublisher{
		ledger:  l,
		queue:   make(chan ledger.Entry, queueSize),
		timeout: timeout,
		logger:  logger.With(slog.String("component", "ledger_publisher")),
		stopCh:  make(chan struct{}),
	}
}

// Publish ставит запись в очередь без ожидания.
func (p *LedgerPublisher) Publish(e ledger.Entry) {
	select {
	case p.queue <- e:
	default:
		ledgerQueueDroppedTotal.Inc()
		p.logger.Warn("Очередь реестра переполнена, запись отброшена",
			slog.String("entry_id", e.ID),
			slog.String("kind", string(e.Kind)),
		)
	}
}

// PublishCommit ставит в очередь публикуемые события фиксации.
func (p *LedgerPublisher) PublishCommit(c *Commit) {
	for _, ev := range c.Events {
		if ledger.Publishable(ev.Kind()) {
			p.Publish(ledger.NewEntry(c.Record.RecordID, ev))
		}
	}
}

// Start запускает фоновую отправку.
func (p *LedgerPublisher) Start(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.logger.Info("Отправка в реестр запущена", slog.Int("queue_size", cap(p.queue)))
		for {
			select {
			case e := <-p.queue:
				p.submit(ctx, e)
			case <-p.stopCh:
				p.drain(ctx)
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop останавливает обработчик, отправив уже поставленные в очередь записи.
func (p *LedgerPublisher) Stop() {
	p.once.Do(func() { close(p.stopCh) })
	p.wg.Wait()
	p.logger.Info("Отправка в реестр остановлена")
}

// drain отправляет оставшиеся записи без ожидания новых.
func (p *LedgerPublisher) drain(ctx context.Context) {
	for {
		select {
		case e := <-p.queue:
			p.submit(ctx, e)
		default:
			return
		}
	}
}

// submit отправляет одну запись. Ошибка только логируется.
func (p *LedgerPublisher) submit(ctx context.Context, e ledger.Entry) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	receipt, err := p.ledger.Submit(ctx, e)
	if err != nil {
		ledgerSubmissionsTotal.WithLabelValues("error").Inc()
		p.logger.Warn("Ошибка отправки в реестр",
			slog.String("entry_id", e.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	ledgerSubmissionsTotal.WithLabelValues("ok").Inc()
	p.logger.Debug("Событие зарегистрировано в реестре",
		slog.String("entry_id", e.ID),
		slog.String("reference", receipt.Reference),
	)
}
