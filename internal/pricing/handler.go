package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/pricebook/pricebook/internal/platform/httpx"
	"github.com/pricebook/pricebook/internal/rbac"
	"github.com/pricebook/pricebook/internal/shared"
)

// IdempotencyModule scopes Idempotency-Key values for imports.
const IdempotencyModule = "pricing.import"

const (
	defaultStreamSnapshots = 50
	maxStreamSnapshots     = 500
)

// ImportRequest is a deferred ingestion handed to the background worker.
type ImportRequest struct {
	CSV       []byte         `json:"csv"`
	Mode      Mode           `json:"mode"`
	Principal rbac.Principal `json:"principal"`
}

// ImportEnqueuer schedules background ingestions.
type ImportEnqueuer interface {
	EnqueueImport(ctx context.Context, req ImportRequest) (string, error)
}

// IdempotencyChecker claims request keys. *shared.IdempotencyStore satisfies it.
type IdempotencyChecker interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

// HandlerDeps groups the collaborators of Handler. Enqueuer, Idempotency and
// Subscriber are optional.
type HandlerDeps struct {
	Router         *Router
	Editor         *Editor
	Ingestor       *Ingestor
	Enqueuer       ImportEnqueuer
	Idempotency    IdempotencyChecker
	Subscriber     Subscriber
	RBAC           rbac.Middleware
	Logger         *slog.Logger
	MaxUploadBytes int64
}

// Handler exposes pricing operations over HTTP.
type Handler struct {
	deps      HandlerDeps
	logger    *slog.Logger
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(deps HandlerDeps) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = 10 << 20
	}
	return &Handler{deps: deps, logger: logger, validator: validator.New()}
}

// MountRecordRoutes registers record routes.
func (h *Handler) MountRecordRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.deps.RBAC.RequireAny(rbac.CapSearchRecords))
		r.Get("/", h.fetchRecent)
		r.Get("/search", h.search)
		r.Get("/search/name", h.searchByName)
		r.Get("/filter", h.filter)
		r.Get("/stream", h.stream)
		r.Get("/{id}", h.getRecord)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.deps.RBAC.RequireAny(rbac.CapUploadCSV))
		r.Post("/", h.createRecord)
		r.Patch("/{id}", h.updateRecord)
	})
}

// MountImportRoutes registers ingestion routes.
func (h *Handler) MountImportRoutes(r chi.Router) {
	r.Use(h.deps.RBAC.RequireAny(rbac.CapUploadCSV))
	r.Post("/", h.importCSV)
	r.Get("/template", h.template)
}

// MountStatsRoutes registers analytics routes.
func (h *Handler) MountStatsRoutes(r chi.Router) {
	r.Use(h.deps.RBAC.RequireAny(rbac.CapViewAnalytics))
	r.Get("/", h.stats)
}

type resultResponse struct {
	Records   []PricingRecord `json:"records"`
	Strategy  Strategy        `json:"strategy"`
	Count     int             `json:"count"`
	Error     string          `json:"error,omitempty"`
	Retryable bool            `json:"retryable,omitempty"`
}

func (h *Handler) writeResult(w http.ResponseWriter, res Result) {
	body := resultResponse{Records: res.Records, Strategy: res.Strategy, Count: len(res.Records)}
	if res.Failed() {
		body.Error = "records are temporarily unavailable"
		body.Retryable = true
		w.Header().Set("Retry-After", "1")
		httpx.JSON(w, http.StatusServiceUnavailable, body)
		return
	}
	httpx.JSON(w, http.StatusOK, body)
}

func (h *Handler) fetchRecent(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	h.writeResult(w, h.deps.Router.FetchRecent(r.Context(), limit))
}

func (h *Handler) search(w http.ResponseWriter, r *http.Request) {
	h.writeResult(w, h.deps.Router.Search(r.Context(), r.URL.Query().Get("q")))
}

func (h *Handler) searchByName(w http.ResponseWriter, r *http.Request) {
	h.writeResult(w, h.deps.Router.SearchByProductName(r.Context(), r.URL.Query().Get("q")))
}

type filterQuery struct {
	Country  string `validate:"omitempty,alpha,min=2,max=4"`
	StoreID  string `validate:"omitempty,max=32"`
	SKU      string `validate:"omitempty,alphanum,max=12"`
	MinPrice string `validate:"omitempty,numeric"`
	MaxPrice string `validate:"omitempty,numeric"`
}

func (h *Handler) filter(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	form := filterQuery{
		Country:  strings.TrimSpace(q.Get("country")),
		StoreID:  strings.TrimSpace(q.Get("storeId")),
		SKU:      strings.TrimSpace(q.Get("sku")),
		MinPrice: strings.TrimSpace(q.Get("minPrice")),
		MaxPrice: strings.TrimSpace(q.Get("maxPrice")),
	}
	if errs := h.validateStruct(form); len(errs) > 0 {
		httpx.FieldProblem(w, "invalid filter", errs)
		return
	}
	filters := Filters{Country: form.Country, StoreID: form.StoreID, SKU: form.SKU}
	if form.MinPrice != "" {
		d := decimal.RequireFromString(form.MinPrice)
		filters.MinPrice = &d
	}
	if form.MaxPrice != "" {
		d := decimal.RequireFromString(form.MaxPrice)
		filters.MaxPrice = &d
	}
	h.writeResult(w, h.deps.Router.Filter(r.Context(), filters))
}

func (h *Handler) stream(w http.ResponseWriter, r *http.Request) {
	if h.deps.Subscriber == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Unavailable", "change notifications are not configured")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	maxSnaps, _ := strconv.Atoi(r.URL.Query().Get("max"))
	if maxSnaps <= 0 {
		maxSnaps = defaultStreamSnapshots
	}
	if maxSnaps > maxStreamSnapshots {
		maxSnaps = maxStreamSnapshots
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	events, err := h.deps.Subscriber.Subscribe(ctx)
	if err != nil {
		h.logger.Error("pricing subscribe", slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Unavailable", "change notifications unavailable")
		return
	}

	// The server write timeout does not apply to a stream.
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		h.logger.Warn("pricing stream flush", slog.Any("error", err))
		return
	}

	fetch := func(ctx context.Context) Result {
		return h.deps.Router.FetchRecent(ctx, limit)
	}
	for snap := range Watch(ctx, fetch, events, maxSnaps) {
		payload, err := json.Marshal(snap)
		if err != nil {
			h.logger.Error("pricing snapshot encode", slog.Any("error", err))
			return
		}
		if _, err := fmt.Fprintf(w, "id: %d\nevent: snapshot\ndata: %s\n\n", snap.Seq, payload); err != nil {
			return
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func (h *Handler) getRecord(w http.ResponseWriter, r *http.Request) {
	p, _ := rbac.PrincipalFromContext(r.Context())
	rec, err := h.deps.Editor.GetByID(r.Context(), p, chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) updateRecord(w http.ResponseWriter, r *http.Request) {
	var patch Patch
	if err := httpx.DecodeJSON(r, &patch); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	p, _ := rbac.PrincipalFromContext(r.Context())
	res, err := h.deps.Editor.Update(r.Context(), p, chi.URLParam(r, "id"), patch)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if !res.OK() {
		httpx.FieldProblem(w, "record failed validation", res.FieldErrors)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

type createRequest struct {
	StoreID     string `json:"storeId"`
	SKU         string `json:"sku"`
	ProductName string `json:"productName"`
	Price       string `json:"price"`
	Date        string `json:"date"`
	Currency    string `json:"currency" validate:"omitempty,len=3,alpha"`
	Notes       string `json:"notes" validate:"max=500"`
}

func (h *Handler) createRecord(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if errs := h.validateStruct(req); len(errs) > 0 {
		httpx.FieldProblem(w, "record failed validation", errs)
		return
	}
	p, _ := rbac.PrincipalFromContext(r.Context())
	res, err := h.deps.Editor.Create(r.Context(), p, CreateInput{
		Fields:   Fields{StoreID: req.StoreID, SKU: req.SKU, ProductName: req.ProductName, Price: req.Price, Date: req.Date},
		Currency: req.Currency,
		Notes:    req.Notes,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	if !res.OK() {
		httpx.FieldProblem(w, "record failed validation", res.FieldErrors)
		return
	}
	httpx.JSON(w, http.StatusCreated, res)
}

type importAccepted struct {
	TaskID string `json:"taskId"`
	Mode   Mode   `json:"mode"`
}

func (h *Handler) importCSV(w http.ResponseWriter, r *http.Request) {
	mode, err := ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	payload, contentType, err := h.readUpload(w, r)
	if err != nil {
		h.respondError(w, err)
		return
	}
	p, _ := rbac.PrincipalFromContext(r.Context())

	idemKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if idemKey != "" && h.deps.Idempotency != nil {
		if err := h.deps.Idempotency.CheckAndInsert(r.Context(), idemKey, IdempotencyModule); err != nil {
			h.respondError(w, err)
			return
		}
	}
	release := func() {
		if idemKey != "" && h.deps.Idempotency != nil {
			if err := h.deps.Idempotency.Delete(context.WithoutCancel(r.Context()), idemKey, IdempotencyModule); err != nil {
				h.logger.Warn("pricing idempotency release", slog.Any("error", err))
			}
		}
	}

	reader, err := OpenUpload(payload, contentType, h.deps.MaxUploadBytes)
	if err != nil {
		release()
		h.respondError(w, err)
		return
	}

	async, _ := strconv.ParseBool(r.URL.Query().Get("async"))
	if async && h.deps.Enqueuer != nil {
		csvBytes, err := io.ReadAll(reader)
		if err != nil {
			release()
			h.respondError(w, err)
			return
		}
		taskID, err := h.deps.Enqueuer.EnqueueImport(r.Context(), ImportRequest{CSV: csvBytes, Mode: mode, Principal: p})
		if err != nil {
			release()
			h.logger.Error("pricing enqueue import", slog.Any("error", err))
			httpx.RespondError(w, httpx.ErrUnavailable)
			return
		}
		httpx.JSON(w, http.StatusAccepted, importAccepted{TaskID: taskID, Mode: mode})
		return
	}

	summary, err := h.deps.Ingestor.Ingest(r.Context(), p, reader, mode)
	if err != nil {
		release()
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

// readUpload returns the raw upload, accepting multipart (field "file") or a plain body.
func (h *Handler) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.deps.MaxUploadBytes)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		file, header, err := r.FormFile("file")
		if err != nil {
			return nil, "", uploadError(err)
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			return nil, "", uploadError(err)
		}
		return data, header.Header.Get("Content-Type"), nil
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, "", uploadError(err)
	}
	return data, mediaType, nil
}

func uploadError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return fmt.Errorf("%w: limit %d bytes", ErrTooLarge, tooLarge.Limit)
	}
	if errors.Is(err, http.ErrMissingFile) {
		return fmt.Errorf("%w: missing file field", ErrParse)
	}
	return fmt.Errorf("%w: %v", ErrParse, err)
}

func (h *Handler) template(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+TemplateFilename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(Template())
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.deps.Router.Stats(r.Context())
	if err != nil {
		httpx.RespondError(w, httpx.ErrUnavailable)
		return
	}
	httpx.JSON(w, http.StatusOK, stats)
}

func (h *Handler) validateStruct(v any) map[string]string {
	errs := make(map[string]string)
	if err := h.validator.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fieldErr := range verrs {
				errs[lowerFirst(fieldErr.Field())] = fieldErr.Error()
			}
		}
	}
	return errs
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, rbac.ErrForbidden):
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "insufficient permissions")
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "pricing record not found")
	case errors.Is(err, ErrInvalidMode), errors.Is(err, ErrParse), errors.Is(err, ErrEmptyFile):
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
	case errors.Is(err, ErrTooLarge), errors.Is(err, ErrTooManyRows):
		httpx.Problem(w, http.StatusRequestEntityTooLarge, "Payload Too Large", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Conflict", "request already processed")
	case errors.Is(err, ErrDuplicateKey), errors.Is(err, ErrTxConflict):
		httpx.Problem(w, http.StatusConflict, "Conflict", "record changed concurrently, retry")
	case errors.Is(err, context.Canceled):
		h.logger.Info("pricing request cancelled")
	default:
		h.logger.Error("pricing request failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
