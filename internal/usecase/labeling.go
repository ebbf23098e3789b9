package usecase

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/menu-labeler/internal/imageencoder"
	"github.com/example/menu-labeler/internal/inference"
	"github.com/example/menu-labeler/internal/labels"
	"github.com/example/menu-labeler/internal/logging"
	"github.com/example/menu-labeler/internal/parser"
	"github.com/example/menu-labeler/internal/repository"
)

// LabelRepository defines the persistence operations needed by the use case.
type LabelRepository interface {
	SaveRecord(ctx context.Context, record *repository.LabelRecord) error
}

// Options tunes the labeling flow.
type Options struct {
	Model  string
	Prompt string
	// RecordFailures stores an error entry for files that fail before a
	// reply is received instead of omitting them.
	RecordFailures bool
}

// LabelingUseCase drives encode, inference and parsing for a folder of images.
type LabelingUseCase struct {
	encoder *imageencoder.Encoder
	client  inference.Client
	cache   *ReplyCache
	repo    LabelRepository
	metrics *Metrics
	logger  *zap.Logger
	opts    Options
}

// NewLabelingUseCase constructs a use case. cache and repo may be nil.
func NewLabelingUseCase(encoder *imageencoder.Encoder, client inference.Client, cache *ReplyCache, repo LabelRepository, metrics *Metrics, logger *zap.Logger, opts Options) *LabelingUseCase {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &LabelingUseCase{
		encoder: encoder,
		client:  client,
		cache:   cache,
		repo:    repo,
		metrics: metrics,
		logger:  logger.Named("labeling_usecase"),
		opts:    opts,
	}
}

// Accepts reports whether filename passes the extension filter.
func (uc *LabelingUseCase) Accepts(filename string) bool {
	return uc.encoder.Filter().Match(filename)
}

// Run labels every eligible image in the source folder, one at a time, and
// returns the accumulated results. Files that fail to encode or to get a
// reply are logged and skipped. When ctx is cancelled the results gathered
// so far are returned together with the context error.
func (uc *LabelingUseCase) Run(ctx context.Context) (*labels.ResultSet, error) {
	runID := uuid.NewString()
	runLogger := logging.WithOperation(uc.logger, "usecase.run", "").With(zap.String("run_id", runID))

	names, err := uc.encoder.List()
	if err != nil {
		wrapped := logging.NewOperationError("usecase.list_images", "", err)
		runLogger.Error("failed to list images", zap.Error(wrapped), zap.String("folder", uc.encoder.Folder()))
		return nil, wrapped
	}
	runLogger.Info("labeling started", zap.Int("files", len(names)), zap.String("folder", uc.encoder.Folder()))

	results := labels.NewResultSet()
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			runLogger.Warn("labeling interrupted", zap.Error(err), zap.Int("processed", results.Len()))
			return results, err
		}
		uc.processFile(ctx, runID, name, results)
	}

	runLogger.Info("labeling finished", zap.Int("recorded", results.Len()))
	return results, nil
}

func (uc *LabelingUseCase) processFile(ctx context.Context, runID, filename string, results *labels.ResultSet) {
	opLogger := logging.WithOperation(uc.logger, "usecase.process_file", filename)

	img, reply, err := uc.query(ctx, filename, func() (*imageencoder.Image, error) {
		return uc.encoder.Encode(filename)
	})
	if err != nil {
		opLogger.Error("error processing image", zap.Error(err), zap.String("kind", logging.KindOf(err)))
		uc.metrics.files.WithLabelValues(repository.StatusFailed).Inc()
		if uc.opts.RecordFailures {
			value := labels.FailureResult(err.Error())
			results.Set(filename, value)
			uc.persist(ctx, runID, filename, "", repository.StatusFailed, value)
		}
		return
	}

	results.SetRaw(filename, reply)
	value, status := uc.parse(opLogger, reply)
	results.Set(filename, value)
	uc.persist(ctx, runID, filename, img.SHA1, status, value)
}

// ClassifyImage labels a single image held in memory. Only a failed
// inference call returns an error; an unparseable reply yields the error
// entry.
func (uc *LabelingUseCase) ClassifyImage(ctx context.Context, filename string, data []byte) (json.RawMessage, error) {
	opLogger := logging.WithOperation(uc.logger, "usecase.classify_image", filename)

	img, reply, err := uc.query(ctx, filename, func() (*imageencoder.Image, error) {
		return imageencoder.EncodeBytes(filename, data), nil
	})
	if err != nil {
		opLogger.Error("error processing image", zap.Error(err), zap.String("kind", logging.KindOf(err)))
		uc.metrics.files.WithLabelValues(repository.StatusFailed).Inc()
		return nil, err
	}

	value, status := uc.parse(opLogger, reply)
	uc.persist(ctx, "", filename, img.SHA1, status, value)
	return value, nil
}

// query encodes the image and obtains a reply. Encode and inference share
// one failure boundary.
func (uc *LabelingUseCase) query(ctx context.Context, filename string, encode func() (*imageencoder.Image, error)) (*imageencoder.Image, string, error) {
	img, err := encode()
	if err != nil {
		return nil, "", logging.NewOperationError("usecase.encode_image", filename, err)
	}

	if reply, ok := uc.cachedReply(ctx, img); ok {
		return img, reply, nil
	}

	start := time.Now()
	reply, err := uc.client.Complete(ctx, uc.opts.Prompt, img.Base64)
	uc.metrics.inferenceLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, "", logging.NewOperationError("usecase.query_inference", filename, err)
	}

	if json.Valid([]byte(reply)) {
		uc.storeReply(ctx, img, reply)
	}
	return img, reply, nil
}

func (uc *LabelingUseCase) parse(opLogger *zap.Logger, reply string) (json.RawMessage, string) {
	value, err := parser.Parse(reply)
	if err != nil {
		opLogger.Warn("error parsing JSON reply", zap.Error(err))
		uc.metrics.files.WithLabelValues(repository.StatusParseError).Inc()
		return value, repository.StatusParseError
	}
	uc.metrics.files.WithLabelValues(repository.StatusLabeled).Inc()
	return value, repository.StatusLabeled
}

func (uc *LabelingUseCase) cachedReply(ctx context.Context, img *imageencoder.Image) (string, bool) {
	if uc.cache == nil {
		return "", false
	}
	reply, ok := uc.cache.Lookup(ctx, img.Filename, img.SHA1)
	if !ok {
		uc.metrics.cacheMisses.Inc()
		return "", false
	}
	uc.metrics.cacheHits.Inc()
	logging.WithOperation(uc.logger, "cache.get.reply", img.Filename).Debug("reply served from cache")
	return reply, true
}

func (uc *LabelingUseCase) storeReply(ctx context.Context, img *imageencoder.Image, reply string) {
	if uc.cache == nil {
		return
	}
	uc.cache.Store(ctx, img.Filename, img.SHA1, reply)
}

func (uc *LabelingUseCase) persist(ctx context.Context, runID, filename, hash, status string, value json.RawMessage) {
	if uc.repo == nil {
		return
	}

	record := &repository.LabelRecord{
		RunID:     runID,
		Filename:  filename,
		SHA1Hash:  hash,
		Model:     uc.opts.Model,
		Status:    status,
		Result:    string(value),
		CreatedAt: time.Now().UTC(),
	}
	if c, ok := parser.Decode(value); ok {
		record.MenuPhoto = c.IsMenu()
		record.ReceiptPhoto = c.IsReceipt()
	}
	if err := uc.repo.SaveRecord(ctx, record); err != nil {
		logging.WithOperation(uc.logger, "usecase.persist", filename).Warn("failed to persist label record", zap.Error(err))
	}
}
