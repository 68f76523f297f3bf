// handler.go — основной обработчик API Record Module.
// Регистрирует маршруты в chi, связывает параметры и делегирует
// запросы в сервисный слой.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/oapi-codegen/runtime"

	apierrors "github.com/bigkaa/goartstore/record-module/internal/api/errors"
	"github.com/bigkaa/goartstore/record-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/record-module/internal/domain/access"
	"github.com/bigkaa/goartstore/record-module/internal/ledger"
	"github.com/bigkaa/goartstore/record-module/internal/service"
)

// APIHandler — основной обработчик API Record Module.
type APIHandler struct {
	health   *HealthHandler
	records  *service.RecordService
	validate *validator.Validate
	logger   *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(
	health *HealthHandler,
	records *service.RecordService,
	logger *slog.Logger,
) *APIHandler {
	v := validator.New(validator.WithRequiredStructEnabled())
	// В сообщениях об ошибках — имена полей JSON
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	return &APIHandler{
		health:   health,
		records:  records,
		validate: v,
		logger:   logger.With(slog.String("component", "api_handler")),
	}
}

// Routes регистрирует все маршруты API.
func (h *APIHandler) Routes(r chi.Router) {
	r.Get("/health/live", h.health.HealthLive)
	r.Get("/health/ready", h.health.HealthReady)
	r.Get("/metrics", h.health.GetMetrics)

	r.Route("/api/v1/records", func(r chi.Router) {
		r.Get("/", h.ListRecords)
		r.Post("/", h.CreateRecord)
		r.Get("/mine", h.ListMyRecords)
		r.Get("/shared-with-me", h.ListSharedRecords)
		r.Get("/count", h.CountRecords)
		r.Get("/recent", h.RecentRecords)

		r.Route("/{record_id}", func(r chi.Router) {
			r.Get("/", h.GetRecord)
			r.Get("/history", h.GetHistory)
			r.Get("/ledger", h.GetLedgerHistory)

			r.Post("/transfer-ownership", h.TransferOwnership)
			r.Post("/request-access", h.RequestAccess)
			r.Post("/cancel-request", h.CancelRequest)
			r.Post("/reject-request", h.RejectRequest)
			r.Post("/grant-access", h.GrantAccess)
			r.Post("/share-files", h.ShareFiles)
			r.Post("/manage-access", h.ManageAccess)
			r.Post("/revoke-access", h.RevokeAccess)
			r.Post("/unshare-files", h.UnshareFiles)

			r.Post("/files", h.AddFiles)
			r.Delete("/files", h.RemoveFiles)
			r.Patch("/files/{file_id}", h.EditFile)
			r.Get("/files/{file_id}/content", h.DownloadFile)
		})
	})
}

// --- Связывание параметров ---

// pathParam извлекает и декодирует обязательный параметр пути.
func pathParam(r *http.Request, name string) (string, error) {
	var value string
	err := runtime.BindStyledParameterWithOptions("simple", name, chi.URLParam(r, name), &value,
		runtime.BindStyledParameterOptions{
			ParamLocation: runtime.ParamLocationPath,
			Explode:       false,
			Required:      true,
		})
	if err != nil {
		return "", fmt.Errorf("некорректный параметр %s: %w", name, err)
	}
	return value, nil
}

// listParams — параметры запроса списков.
type listParams struct {
	Limit     *int
	Offset    *int
	Filter    *string
	SortBy    *string
	SortOrder *string
}

// bindListParams связывает параметры пагинации, фильтра и сортировки.
func bindListParams(r *http.Request) (listParams, error) {
	var p listParams
	query := r.URL.Query()

	if err := runtime.BindQueryParameter("form", true, false, "limit", query, &p.Limit); err != nil {
		return p, fmt.Errorf("некорректный параметр limit: %w", err)
	}
	if err := runtime.BindQueryParameter("form", true, false, "offset", query, &p.Offset); err != nil {
		return p, fmt.Errorf("некорректный параметр offset: %w", err)
	}
	if err := runtime.BindQueryParameter("form", true, false, "filter", query, &p.Filter); err != nil {
		return p, fmt.Errorf("некорректный параметр filter: %w", err)
	}
	if err := runtime.BindQueryParameter("form", true, false, "sort_by", query, &p.SortBy); err != nil {
		return p, fmt.Errorf("некорректный параметр sort_by: %w", err)
	}
	if err := runtime.BindQueryParameter("form", true, false, "sort_order", query, &p.SortOrder); err != nil {
		return p, fmt.Errorf("некорректный параметр sort_order: %w", err)
	}
	return p, nil
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// paginationDefaults нормализует параметры пагинации.
// Возвращает корректные limit и offset.
func paginationDefaults(limit, offset *int) (limitVal, offsetVal int) {
	l := 100
	o := 0

	if limit != nil {
		l = *limit
		if l < 1 {
			l = 1
		}
		if l > 1000 {
			l = 1000
		}
	}

	if offset != nil {
		o = *offset
		if o < 0 {
			o = 0
		}
	}

	return l, o
}

// decodeBody десериализует и валидирует тело запроса.
// При ошибке пишет ответ 400 и возвращает false.
func (h *APIHandler) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON в теле запроса")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		apierrors.ValidationError(w, formatValidationError(err))
		return false
	}
	return true
}

// formatValidationError — первая ошибка валидатора в читаемом виде.
func formatValidationError(err error) string {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		e := validationErrs[0]
		if e.Param() != "" {
			return fmt.Sprintf("Поле %s: нарушено правило %s=%s", e.Namespace(), e.Tag(), e.Param())
		}
		return fmt.Sprintf("Поле %s: нарушено правило %s", e.Namespace(), e.Tag())
	}
	return err.Error()
}

// writeServiceError отображает ошибку сервисного слоя на HTTP-ответ.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, access.ErrNotFound):
		apierrors.NotFound(w, err.Error())
	case errors.Is(err, access.ErrUnauthorized):
		if middleware.SubjectFromContext(r.Context()) == "" {
			apierrors.Unauthorized(w, err.Error())
			return
		}
		apierrors.Forbidden(w, err.Error())
	case errors.Is(err, access.ErrConflict):
		apierrors.Conflict(w, err.Error())
	case errors.Is(err, access.ErrInvalidArgument):
		apierrors.ValidationError(w, err.Error())
	case errors.Is(err, ledger.ErrUnavailable):
		apierrors.LedgerUnavailable(w, err.Error())
	default:
		h.logger.Error("Внутренняя ошибка обработки запроса",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Внутренняя ошибка сервера")
	}
}
