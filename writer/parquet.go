package writer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	pqwriter "github.com/xitongsys/parquet-go/writer"

	appconfig "marketfeed/config"
	"marketfeed/internal/channel"
	"marketfeed/internal/metadata"
	"marketfeed/internal/metrics"
	"marketfeed/internal/symbols"
	"marketfeed/logger"
	"marketfeed/models"
)

// ErrBufferFull is returned by buffering sinks that cannot take more records.
var ErrBufferFull = errors.New("sink buffer full")

const defaultTimeFormat = "year={year}/month={month}/day={day}/hour={hour}"

// BookRow is one price level of an accepted order book.
type BookRow struct {
	Exchange   string  `parquet:"name=exchange, type=BYTE_ARRAY, convertedtype=UTF8"`
	Instrument string  `parquet:"name=instrument, type=BYTE_ARRAY, convertedtype=UTF8"`
	Symbol     string  `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	Timestamp  int64   `parquet:"name=timestamp, type=INT64"`
	Sequence   int64   `parquet:"name=sequence, type=INT64"`
	Side       string  `parquet:"name=side, type=BYTE_ARRAY, convertedtype=UTF8"`
	Level      int32   `parquet:"name=level, type=INT32"`
	Price      float64 `parquet:"name=price, type=DOUBLE"`
	Volume     float64 `parquet:"name=volume, type=DOUBLE"`
}

// TradeRow is one accepted trade.
type TradeRow struct {
	Exchange   string  `parquet:"name=exchange, type=BYTE_ARRAY, convertedtype=UTF8"`
	Instrument string  `parquet:"name=instrument, type=BYTE_ARRAY, convertedtype=UTF8"`
	Symbol     string  `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	Timestamp  int64   `parquet:"name=timestamp, type=INT64"`
	Sequence   int64   `parquet:"name=sequence, type=INT64"`
	TradeID    string  `parquet:"name=trade_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Side       string  `parquet:"name=side, type=BYTE_ARRAY, convertedtype=UTF8"`
	Price      float64 `parquet:"name=price, type=DOUBLE"`
	Volume     float64 `parquet:"name=volume, type=DOUBLE"`
}

// bookRows flattens a ladder into one row per level, bids first. Padding
// levels are skipped; level numbers stay positional.
func bookRows(id models.InstrumentID, depth models.L2Depth, seq int64) []BookRow {
	symbol := symbols.Normalize(id.Exchange, id.Code)
	ts := depth.DateTime.UnixMilli()
	rows := make([]BookRow, 0, len(depth.Bids)+len(depth.Asks))
	add := func(side string, levels []models.PriceLevel) {
		for i, lvl := range levels {
			if lvl == (models.PriceLevel{}) {
				continue
			}
			rows = append(rows, BookRow{
				Exchange:   id.Exchange,
				Instrument: id.Name,
				Symbol:     symbol,
				Timestamp:  ts,
				Sequence:   seq,
				Side:       side,
				Level:      int32(i + 1),
				Price:      lvl.Price,
				Volume:     lvl.Volume,
			})
		}
	}
	add("bid", depth.Bids)
	add("ask", depth.Asks)
	return rows
}

func tradeRow(id models.InstrumentID, trade models.Trade, seq int64) TradeRow {
	return TradeRow{
		Exchange:   id.Exchange,
		Instrument: id.Name,
		Symbol:     symbols.Normalize(id.Exchange, id.Code),
		Timestamp:  trade.DateTime.UnixMilli(),
		Sequence:   seq,
		TradeID:    trade.TradeID,
		Side:       trade.Side.String(),
		Price:      trade.Price,
		Volume:     trade.Volume,
	}
}

// snapshotItem is what Insert hands to the flush worker.
type snapshotItem struct {
	table  string
	stream string
	id     models.InstrumentID
	books  []BookRow
	trade  *TradeRow
}

// pendingTable accumulates the rows of one derived table between flushes.
type pendingTable struct {
	stream string
	id     models.InstrumentID
	books  []BookRow
	trades []TradeRow
}

func (p *pendingTable) add(item snapshotItem) {
	p.books = append(p.books, item.books...)
	if item.trade != nil {
		p.trades = append(p.trades, *item.trade)
	}
}

func (p *pendingTable) count() int { return len(p.books) + len(p.trades) }

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// memoryFileWriter implements source.ParquetFile on top of a bytes.Buffer.
type memoryFileWriter struct {
	buffer *bytes.Buffer
}

func newMemoryFileWriter() *memoryFileWriter {
	return &memoryFileWriter{buffer: &bytes.Buffer{}}
}

func (m *memoryFileWriter) Create(string) (source.ParquetFile, error) { return m, nil }
func (m *memoryFileWriter) Open(string) (source.ParquetFile, error)   { return m, nil }

// Seek is never needed while writing; report the current size.
func (m *memoryFileWriter) Seek(int64, int) (int64, error) { return int64(m.buffer.Len()), nil }
func (m *memoryFileWriter) Read(b []byte) (int, error)     { return m.buffer.Read(b) }
func (m *memoryFileWriter) Write(b []byte) (int, error)    { return m.buffer.Write(b) }
func (m *memoryFileWriter) Close() error                   { return nil }
func (m *memoryFileWriter) Bytes() []byte                  { return m.buffer.Bytes() }

// SnapshotWriter buffers accepted records, groups them per derived table and
// periodically uploads one parquet object per table to S3.
type SnapshotWriter struct {
	config   *appconfig.Config
	s3Client objectPutter
	catalog  *metadata.Catalog
	buffer   *channel.Buffer[snapshotItem]
	log      *logger.Log

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	statsMu sync.Mutex
	stats   metrics.WriterStats
}

// NewSnapshotWriter loads AWS configuration, validates credentials and
// builds the S3 client used for uploads.
func NewSnapshotWriter(ctx context.Context, cfg *appconfig.Config) (*SnapshotWriter, error) {
	log := logger.GetLogger()
	s3cfg := cfg.Storage.S3

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(s3cfg.Region),
	}
	if s3cfg.AccessKeyID != "" && s3cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s3cfg.AccessKeyID, s3cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		log.WithComponent("snapshot_writer").WithError(err).Warn("failed to load AWS configuration")
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	creds, err := awsCfg.Credentials.Retrieve(ctx)
	if err != nil || !creds.HasKeys() {
		return nil, fmt.Errorf("aws credentials not found")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if s3cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(s3cfg.Endpoint)
		}
		o.UsePathStyle = s3cfg.PathStyle
	})

	metaDir := cfg.Writer.Parquet.MetadataDir
	if metaDir == "" {
		if metaDir, err = os.MkdirTemp("", "marketfeed-metadata"); err != nil {
			return nil, fmt.Errorf("failed to create metadata directory: %w", err)
		}
	}

	w := newSnapshotWriter(cfg, client, metadata.NewCatalog(metaDir, "s3://"+s3cfg.Bucket), log)
	log.WithComponent("snapshot_writer").WithFields(logger.Fields{
		"bucket":       s3cfg.Bucket,
		"region":       s3cfg.Region,
		"endpoint":     s3cfg.Endpoint,
		"path_style":   s3cfg.PathStyle,
		"metadata_dir": metaDir,
	}).Info("snapshot writer initialized")
	return w, nil
}

func newSnapshotWriter(cfg *appconfig.Config, client objectPutter, catalog *metadata.Catalog, log *logger.Log) *SnapshotWriter {
	if log == nil {
		log = logger.GetLogger()
	}
	return &SnapshotWriter{
		config:   cfg,
		s3Client: client,
		catalog:  catalog,
		buffer:   channel.NewBuffer[snapshotItem]("snapshot_writer", cfg.Writer.Parquet.BufferSize),
		log:      log,
	}
}

func (w *SnapshotWriter) Name() string { return "parquet" }

func (w *SnapshotWriter) InsertOrderBookSnapshot(ctx context.Context, id models.InstrumentID, depth models.L2Depth, seq int64) error {
	return w.enqueue(ctx, snapshotItem{
		table:  models.SnapshotTableName(id.Exchange, id.Name),
		stream: StreamOrderBook,
		id:     id,
		books:  bookRows(id, depth, seq),
	})
}

func (w *SnapshotWriter) InsertTrade(ctx context.Context, id models.InstrumentID, trade models.Trade, seq int64) error {
	row := tradeRow(id, trade, seq)
	return w.enqueue(ctx, snapshotItem{
		table:  models.TradesTableName(id.Exchange, id.Name),
		stream: StreamTrades,
		id:     id,
		trade:  &row,
	})
}

func (w *SnapshotWriter) enqueue(ctx context.Context, item snapshotItem) error {
	if w.buffer.Send(ctx, item) {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	w.statsMu.Lock()
	w.stats.Dropped++
	w.statsMu.Unlock()
	metrics.EmitDropMetric(w.log, metrics.DropMetricSnapshotRecords, item.id.Exchange, item.id.Name, item.stream)
	return fmt.Errorf("%s: %w", item.table, ErrBufferFull)
}

// Start launches the flush worker. Records inserted before Start stay
// buffered until it runs.
func (w *SnapshotWriter) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return fmt.Errorf("snapshot writer already running")
	}
	w.running = true
	w.ctx, w.cancel = context.WithCancel(ctx)

	interval := w.config.Writer.Parquet.FlushInterval
	if interval <= 0 {
		interval = time.Minute
	}
	w.log.WithComponent("snapshot_writer").WithFields(logger.Fields{
		"flush_interval": interval.String(),
		"buffer_size":    w.buffer.Cap(),
	}).Info("starting snapshot writer")

	w.wg.Add(1)
	go w.flushWorker(interval)
	return nil
}

// Stop cancels the worker and waits for the shutdown flush.
func (w *SnapshotWriter) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	cancel := w.cancel
	w.mu.Unlock()

	w.log.WithComponent("snapshot_writer").Info("stopping snapshot writer")
	cancel()
	w.wg.Wait()
	w.log.WithComponent("snapshot_writer").Info("snapshot writer stopped")
}

// Stats returns a copy of the writer counters.
func (w *SnapshotWriter) Stats() metrics.WriterStats {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()
	s := w.stats
	s.BufferLen = w.buffer.Len()
	s.BufferCap = w.buffer.Cap()
	return s
}

func (w *SnapshotWriter) flushWorker(interval time.Duration) {
	defer w.wg.Done()

	log := w.log.WithComponent("snapshot_writer").WithFields(logger.Fields{"worker": "flush"})
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	pending := make(map[string]*pendingTable)
	add := func(item snapshotItem) {
		p, ok := pending[item.table]
		if !ok {
			p = &pendingTable{stream: item.stream, id: item.id}
			pending[item.table] = p
		}
		p.add(item)
	}

	for {
		select {
		case <-w.ctx.Done():
			for drained := false; !drained; {
				select {
				case item := <-w.buffer.C:
					add(item)
				default:
					drained = true
				}
			}
			w.flush(pending, "shutdown")
			log.Info("flush worker stopped due to context cancellation")
			return
		case item := <-w.buffer.C:
			add(item)
		case <-ticker.C:
			w.flush(pending, "interval")
			pending = make(map[string]*pendingTable)
			metrics.ReportWriter(w.log, "snapshot_writer", w.Stats())
		}
	}
}

func (w *SnapshotWriter) flush(pending map[string]*pendingTable, reason string) {
	if len(pending) == 0 {
		return
	}
	w.log.WithComponent("snapshot_writer").WithFields(logger.Fields{
		"tables": len(pending),
		"reason": reason,
	}).Info("flushing buffers")

	now := time.Now().UTC()
	for table, p := range pending {
		if p.count() == 0 {
			continue
		}
		if err := w.writeTable(table, p, now); err != nil {
			w.statsMu.Lock()
			w.stats.ErrorsCount++
			w.statsMu.Unlock()
			metrics.IncSinkError(w.Name(), p.stream)
			w.log.WithComponent("snapshot_writer").WithError(err).WithFields(logger.Fields{
				"table":   table,
				"records": p.count(),
				"reason":  reason,
			}).Error("failed to flush table")
		}
	}
}

func (w *SnapshotWriter) writeTable(table string, p *pendingTable, ts time.Time) error {
	start := time.Now()
	var (
		data []byte
		err  error
	)
	if p.stream == StreamTrades {
		data, err = w.createParquetFile(new(TradeRow), len(p.trades), func(i int) any { return p.trades[i] })
	} else {
		data, err = w.createParquetFile(new(BookRow), len(p.books), func(i int) any { return p.books[i] })
	}
	if err != nil {
		return err
	}

	key := w.generateS3Key(table, ts)
	if err := w.uploadToS3(key, data); err != nil {
		return err
	}

	w.statsMu.Lock()
	w.stats.BatchesWritten++
	w.stats.FilesWritten++
	w.stats.BytesWritten += int64(len(data))
	w.statsMu.Unlock()

	df := metadata.DataFile{
		Path:        fmt.Sprintf("s3://%s/%s", w.config.Storage.S3.Bucket, key),
		FileSize:    int64(len(data)),
		RecordCount: int64(p.count()),
		Partition: map[string]any{
			"exchange":   p.id.Exchange,
			"instrument": p.id.Name,
			"date":       ts.Format("2006-01-02"),
		},
		Timestamp: ts,
	}
	if err := w.catalog.AddFile(table, df); err != nil {
		w.log.WithComponent("snapshot_writer").WithError(err).WithFields(logger.Fields{"table": table}).Warn("failed to update metadata")
	}

	logger.LogPerformanceEntry(w.log.WithComponent("snapshot_writer"), "snapshot_writer", "write_table", time.Since(start), logger.Fields{
		"table":     table,
		"s3_key":    key,
		"records":   p.count(),
		"file_size": len(data),
	})
	return nil
}

// createParquetFile writes n rows of schema into an in-memory parquet file.
func (w *SnapshotWriter) createParquetFile(schema any, n int, row func(i int) any) ([]byte, error) {
	fw := newMemoryFileWriter()
	pw, err := pqwriter.NewParquetWriter(fw, schema, 4)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}
	pw.CompressionType = compressionCodec(w.config.Writer.Parquet.Compression)

	for i := 0; i < n; i++ {
		if err := pw.Write(row(i)); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("failed to write parquet record: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("failed to finalize parquet writing: %w", err)
	}
	return fw.Bytes(), nil
}

func compressionCodec(name string) parquet.CompressionCodec {
	switch strings.ToLower(name) {
	case "snappy":
		return parquet.CompressionCodec_SNAPPY
	case "gzip":
		return parquet.CompressionCodec_GZIP
	case "lzo":
		return parquet.CompressionCodec_LZO
	default:
		return parquet.CompressionCodec_UNCOMPRESSED
	}
}

// generateS3Key builds <table>/<time partition>/<uuid>.parquet.
func (w *SnapshotWriter) generateS3Key(table string, ts time.Time) string {
	ts = ts.UTC()
	timeFormat := w.config.Writer.Parquet.Partitioning.TimeFormat
	if timeFormat == "" {
		timeFormat = defaultTimeFormat
	}
	timePath := strings.ReplaceAll(timeFormat, "{year}", fmt.Sprintf("%04d", ts.Year()))
	timePath = strings.ReplaceAll(timePath, "{month}", fmt.Sprintf("%02d", ts.Month()))
	timePath = strings.ReplaceAll(timePath, "{day}", fmt.Sprintf("%02d", ts.Day()))
	timePath = strings.ReplaceAll(timePath, "{hour}", fmt.Sprintf("%02d", ts.Hour()))

	return path.Join(table, timePath, uuid.NewString()+".parquet")
}

func (w *SnapshotWriter) uploadToS3(key string, data []byte) error {
	bucket := w.config.Storage.S3.Bucket
	input := &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"content-type":       "parquet",
			"compression":        w.config.Writer.Parquet.Compression,
			"marketfeed-version": w.config.MarketFeed.Version,
		},
	}
	if _, err := w.s3Client.PutObject(context.WithoutCancel(w.ctx), input); err != nil {
		return fmt.Errorf("failed to upload to S3 bucket %s: %w", bucket, err)
	}
	return nil
}
