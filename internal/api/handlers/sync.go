package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"catalogsync/internal/images"
	"catalogsync/internal/ingest"
	"catalogsync/internal/models"
	"catalogsync/internal/repository"
	"catalogsync/internal/scheduler"
	apperrors "catalogsync/pkg/errors"
)

// SyncHandler runs the catalog reconciliation jobs on request and controls
// the auto-sync scheduler.
type SyncHandler struct {
	store      repository.ProductStore
	ingestor   *ingest.Ingestor
	attacher   *images.Attacher
	scheduler  *scheduler.Scheduler
	sourcePath string
	logger     *zap.Logger
}

func NewSyncHandler(store repository.ProductStore, ingestor *ingest.Ingestor, attacher *images.Attacher, sched *scheduler.Scheduler, sourcePath string, logger *zap.Logger) *SyncHandler {
	return &SyncHandler{
		store:      store,
		ingestor:   ingestor,
		attacher:   attacher,
		scheduler:  sched,
		sourcePath: sourcePath,
		logger:     logger,
	}
}

type ingestRequest struct {
	// FilePath names another file next to the configured source.
	FilePath   string `json:"file_path"`
	Force      bool   `json:"force"`
	CreateOnly bool   `json:"create_only"`
}

type imagesRequest struct {
	Policies map[models.View]string `json:"policies"`
}

func (r imagesRequest) options() (images.Options, error) {
	opts := images.Options{}
	if len(r.Policies) == 0 {
		return opts, nil
	}
	opts.Policies = make(map[models.View]images.Policy, len(r.Policies))
	for view, raw := range r.Policies {
		policy, err := images.ParsePolicy(raw)
		if err != nil {
			return opts, err
		}
		opts.Policies[view] = policy
	}
	return opts, nil
}

func (h *SyncHandler) AIOutput(c *gin.Context) {
	var request ingestRequest
	if !bindOptionalJSON(c, &request) {
		return
	}

	res, err := h.ingest(c, request)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "AI output sync completed", "data": res})
}

func (h *SyncHandler) ingest(c *gin.Context, request ingestRequest) (*ingest.Result, error) {
	path, err := ingest.ResolveSource(h.sourcePath, request.FilePath)
	if err != nil {
		return nil, err
	}
	return h.ingestor.IngestFile(c.Request.Context(), path, ingest.Options{
		Force:      request.Force,
		CreateOnly: request.CreateOnly,
	})
}

func (h *SyncHandler) Images(c *gin.Context) {
	var request imagesRequest
	if !bindOptionalJSON(c, &request) {
		return
	}
	opts, err := request.options()
	if err != nil {
		respondError(c, err)
		return
	}

	res, err := h.attacher.Attach(c.Request.Context(), opts)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Image sync completed", "data": res})
}

// Full ingests the NDJSON source and then attaches images. An ingest failure
// stops the run before images are touched.
func (h *SyncHandler) Full(c *gin.Context) {
	var request struct {
		Ingest ingestRequest `json:"ingest"`
		Images imagesRequest `json:"images"`
	}
	if !bindOptionalJSON(c, &request) {
		return
	}
	opts, err := request.Images.options()
	if err != nil {
		respondError(c, err)
		return
	}

	ingested, err := h.ingest(c, request.Ingest)
	if err != nil {
		respondError(c, err)
		return
	}
	attached, err := h.attacher.Attach(c.Request.Context(), opts)
	if err != nil {
		respondError(c, err)
		return
	}

	h.logger.Info("full sync finished",
		zap.Int("created", ingested.Created),
		zap.Int("updated", ingested.Updated),
		zap.Int("images_updated", attached.Updated),
	)
	c.JSON(http.StatusOK, gin.H{
		"message": "Full sync completed",
		"data": gin.H{
			"ai_output": ingested,
			"images":    attached,
		},
	})
}

func (h *SyncHandler) Status(c *gin.Context) {
	stats, err := h.store.Stats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	source, err := h.ingestor.Inspect(h.sourcePath)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{
			"products":   stats,
			"source":     source,
			"partitions": h.attacher.Partitions(),
			"auto_sync":  h.scheduler.Status(),
		},
	})
}

func (h *SyncHandler) AutoEnable(c *gin.Context) {
	var request struct {
		// Interval is a duration such as "5m"; empty keeps the current one.
		Interval string `json:"interval"`
	}
	if !bindOptionalJSON(c, &request) {
		return
	}

	var interval time.Duration
	if request.Interval != "" {
		d, err := time.ParseDuration(request.Interval)
		if err != nil || d <= 0 {
			respondError(c, invalidInterval(request.Interval))
			return
		}
		interval = d
	}
	c.JSON(http.StatusOK, gin.H{"message": "Auto sync enabled", "data": h.scheduler.Enable(interval)})
}

func (h *SyncHandler) AutoDisable(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Auto sync disabled", "data": h.scheduler.Disable()})
}

func (h *SyncHandler) AutoStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": h.scheduler.Status()})
}

func invalidInterval(raw string) error {
	return &apperrors.ErrValidation{
		Message: fmt.Sprintf("invalid interval %q", raw),
		Fields:  map[string]string{"interval": "must be a positive duration such as 5m"},
	}
}
