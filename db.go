package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/google/uuid"
	"github.com/mileusna/useragent"
)

// hitRecord is one row of the hits table.
type hitRecord struct {
	ID          uuid.UUID
	FiredAt     time.Time
	AccountID   string
	Type        string
	RequestID   string
	SessionID   string
	TrackCount  uint32
	VisitorID   string
	Page        string
	Query       string
	BrowserName string
	OSName      string
	DeviceType  string
	Failed      bool
	Error       string
	OverQuota   bool
}

func newHitRecord(hit Hit, sendErr error) hitRecord {
	ua := useragent.Parse(hit.UserAgent)
	p := hit.Params

	rec := hitRecord{
		ID:          uuid.New(),
		FiredAt:     hit.FiredAt,
		AccountID:   p.Get("utmac"),
		Type:        hit.Type.String(),
		RequestID:   p.Get("utmn"),
		SessionID:   p.Get("utmhid"),
		Page:        p.Get("utmp"),
		Query:       p.QueryString(),
		BrowserName: ua.Name,
		OSName:      ua.OS,
		DeviceType:  deviceType(ua),
		OverQuota:   hit.Quota != nil,
	}
	if n, err := strconv.ParseUint(p.Get("utms"), 10, 32); err == nil {
		rec.TrackCount = uint32(n)
	}
	// __utma is hash.visitorId.first.previous.current.count
	if parts := strings.Split(p.Get("__utma"), "."); len(parts) == 6 {
		rec.VisitorID = parts[1]
	}
	if sendErr != nil {
		rec.Failed = true
		rec.Error = sendErr.Error()
	}
	return rec
}

func deviceType(ua useragent.UserAgent) string {
	switch {
	case ua.Bot:
		return "bot"
	case ua.Tablet:
		return "tablet"
	case ua.Mobile:
		return "mobile"
	case ua.Desktop:
		return "desktop"
	}
	return "unknown"
}

// HitLog records every fired hit into ClickHouse. Rows are buffered and
// written in batches by Run.
type HitLog struct {
	DB   driver.Conn
	cfg  ClickHouseConfig
	ch   chan hitRecord
	lock sync.Mutex
	q    []hitRecord
	wg   sync.WaitGroup
	log  *slog.Logger

	FlushInterval time.Duration
	MaxBatchSize  int
}

func NewHitLog(cfg ClickHouseConfig, logger *slog.Logger) *HitLog {
	return &HitLog{
		cfg:           cfg,
		ch:            make(chan hitRecord, 100),
		log:           loggerOrDiscard(logger).With(slog.String("component", "HitLog")),
		FlushInterval: 10 * time.Second,
		MaxBatchSize:  50,
	}
}

func (h *HitLog) Open(ctx context.Context) error {
	options := &clickhouse.Options{
		Addr: []string{h.cfg.Host},
		Auth: clickhouse.Auth{
			Database: h.cfg.DB,
			Username: h.cfg.User,
			Password: h.cfg.Password,
		},
		Debugf: func(format string, v ...any) {
			h.log.Debug(fmt.Sprintf(format, v...))
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		DialTimeout:      time.Second * 30,
		MaxOpenConns:     5,
		MaxIdleConns:     5,
		ConnMaxLifetime:  time.Duration(10) * time.Minute,
		ConnOpenStrategy: clickhouse.ConnOpenInOrder,
		ClientInfo: clickhouse.ClientInfo{
			Products: []struct {
				Name    string
				Version string
			}{
				{Name: "ga-tracker-go", Version: Version},
			},
		},
	}

	conn, err := clickhouse.Open(options)
	if err != nil {
		return fmt.Errorf("failed to open clickhouse connection: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		if exception, ok := err.(*clickhouse.Exception); ok {
			h.log.Error("ClickHouse connection ping failed (exception)",
				slog.Int("code", int(exception.Code)),
				slog.String("message", exception.Message))
		} else {
			h.log.Error("ClickHouse connection ping failed", slog.Any("error", err))
		}
		return fmt.Errorf("clickhouse ping failed: %w", err)
	}
	h.DB = conn
	h.log.Info("Successfully connected to ClickHouse")
	return nil
}

func (h *HitLog) EnsureTable(ctx context.Context) error {
	qry := `
		CREATE TABLE IF NOT EXISTS hits (
			hit_id UUID NOT NULL,
			fired_at DateTime NOT NULL,
			account_id String NOT NULL,
			type String NOT NULL,
			request_id String NOT NULL,
			session_id String NOT NULL,
			track_count UInt32 NOT NULL,
			visitor_id String NOT NULL,
			page String NOT NULL,
			query String NOT NULL,
			browser_name String NOT NULL,
			os_name String NOT NULL,
			device_type String NOT NULL,
			failed BOOLEAN NOT NULL,
			error String NOT NULL,
			over_quota BOOLEAN NOT NULL
		)
		ENGINE MergeTree
		ORDER BY (account_id, fired_at);
	`

	if err := h.DB.Exec(ctx, qry); err != nil {
		h.log.Error("Failed to execute EnsureTable query", slog.Any("error", err))
		return fmt.Errorf("failed ensuring table: %w", err)
	}
	h.log.Debug("Hits table ensured")
	return nil
}

// Observe queues the hit without blocking the tracking call; when the
// buffer is full the row is dropped.
func (h *HitLog) Observe(hit Hit, err error) {
	select {
	case h.ch <- newHitRecord(hit, err):
	default:
		h.log.Warn("Hit log buffer full, dropping row", slog.String("type", hit.Type.String()))
	}
}

// Start runs Run in a new goroutine tracked by WaitFlush.
func (h *HitLog) Start(ctx context.Context) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.Run(ctx)
	}()
}

// Run batches queued rows until ctx is done, then flushes what is left.
func (h *HitLog) Run(ctx context.Context) {
	timer := time.NewTimer(h.FlushInterval)
	defer timer.Stop()

	h.log.Info("Hit log started", slog.Duration("flushInterval", h.FlushInterval), slog.Int("maxBatchSize", h.MaxBatchSize))

	for {
		select {
		case rec := <-h.ch:
			h.lock.Lock()
			h.q = append(h.q, rec)
			size := len(h.q)
			h.lock.Unlock()

			if size >= h.MaxBatchSize {
				h.log.Debug("Flushing due to batch size limit", slog.Int("size", size))
				h.flushQueue()
			}

		case <-timer.C:
			h.flushQueue()
			timer.Reset(h.FlushInterval)

		case <-ctx.Done():
			h.log.Info("Stopping hit log", slog.Any("reason", ctx.Err()))
		drain:
			for {
				select {
				case rec := <-h.ch:
					h.lock.Lock()
					h.q = append(h.q, rec)
					h.lock.Unlock()
				default:
					break drain
				}
			}
			h.flushQueue()
			return
		}
	}
}

func (h *HitLog) flushQueue() {
	h.lock.Lock()
	if len(h.q) == 0 {
		h.lock.Unlock()
		return
	}
	tmp := make([]hitRecord, len(h.q))
	copy(tmp, h.q)
	h.q = h.q[:0]
	h.lock.Unlock()

	if err := h.Insert(tmp); err != nil {
		h.log.Error("Error inserting hit batch", slog.Any("error", err), slog.Int("failed_count", len(tmp)))
		return
	}
	h.log.Debug("Successfully inserted batch", slog.Int("count", len(tmp)))
}

func (h *HitLog) Insert(rows []hitRecord) error {
	if len(rows) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	batch, err := h.DB.PrepareBatch(ctx, `INSERT INTO hits`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for _, r := range rows {
		err := batch.Append(
			r.ID,
			r.FiredAt,
			r.AccountID,
			r.Type,
			r.RequestID,
			r.SessionID,
			r.TrackCount,
			r.VisitorID,
			r.Page,
			r.Query,
			r.BrowserName,
			r.OSName,
			r.DeviceType,
			r.Failed,
			r.Error,
			r.OverQuota,
		)
		if err != nil {
			return fmt.Errorf("failed to append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	return nil
}

// WaitFlush blocks until the goroutine begun by Start has returned.
func (h *HitLog) WaitFlush() {
	h.wg.Wait()
}
