// records.go — создание, чтение и списки записей.
package handlers

import (
	"net/http"

	apierrors "github.com/bigkaa/goartstore/record-module/internal/api/errors"
	"github.com/bigkaa/goartstore/record-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/record-module/internal/service"
)

// CreateRecord — POST /api/v1/records.
func (h *APIHandler) CreateRecord(w http.ResponseWriter, r *http.Request) {
	var req createRecordRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	uploads, err := toUploads(req.Files)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	view, err := h.records.Create(r.Context(), middleware.SubjectFromContext(r.Context()), req.RecordID, uploads)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRecordResponse(view))
}

// ListRecords — GET /api/v1/records. Содержимое чужих записей скрыто проекцией.
func (h *APIHandler) ListRecords(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, service.ScopeAll)
}

// ListMyRecords — GET /api/v1/records/mine.
func (h *APIHandler) ListMyRecords(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, service.ScopeOwned)
}

// ListSharedRecords — GET /api/v1/records/shared-with-me.
func (h *APIHandler) ListSharedRecords(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, service.ScopeShared)
}

func (h *APIHandler) list(w http.ResponseWriter, r *http.Request, scope service.ListScope) {
	params, err := bindListParams(r)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	limit, offset := paginationDefaults(params.Limit, params.Offset)

	q := service.ListQuery{
		Scope:     scope,
		SortBy:    "created_at",
		SortOrder: "desc",
		Limit:     limit,
		Offset:    offset,
	}
	if params.Filter != nil {
		q.Filter = *params.Filter
	}
	if params.SortBy != nil {
		q.SortBy = *params.SortBy
	}
	if params.SortOrder != nil {
		q.SortOrder = *params.SortOrder
	}

	res, err := h.records.List(r.Context(), middleware.SubjectFromContext(r.Context()), q)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordListResponse(res))
}

// CountRecords — GET /api/v1/records/count.
func (h *APIHandler) CountRecords(w http.ResponseWriter, r *http.Request) {
	n, err := h.records.Count(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, countResponse{Count: n})
}

// RecentRecords — GET /api/v1/records/recent.
func (h *APIHandler) RecentRecords(w http.ResponseWriter, r *http.Request) {
	params, err := bindListParams(r)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	if params.Limit == nil {
		defaultRecent := 10
		params.Limit = &defaultRecent
	}
	limit, _ := paginationDefaults(params.Limit, nil)

	res, err := h.records.Recent(r.Context(), middleware.SubjectFromContext(r.Context()), limit)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordListResponse(res))
}

// GetRecord — GET /api/v1/records/{record_id}.
func (h *APIHandler) GetRecord(w http.ResponseWriter, r *http.Request) {
	recordID, err := pathParam(r, "record_id")
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	view, err := h.records.Get(r.Context(), middleware.SubjectFromContext(r.Context()), recordID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordResponse(view))
}

// GetHistory — GET /api/v1/records/{record_id}/history.
func (h *APIHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	recordID, err := pathParam(r, "record_id")
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	entries, err := h.records.History(r.Context(), middleware.SubjectFromContext(r.Context()), recordID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toHistoryResponse(recordID, entries))
}

// GetLedgerHistory — GET /api/v1/records/{record_id}/ledger.
func (h *APIHandler) GetLedgerHistory(w http.ResponseWriter, r *http.Request) {
	recordID, err := pathParam(r, "record_id")
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	entries, err := h.records.LedgerHistory(r.Context(), middleware.SubjectFromContext(r.Context()), recordID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLedgerHistoryResponse(recordID, entries))
}
