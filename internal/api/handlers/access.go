// access.go — операции владения и доступа к записи.
// Ссылки на principal в телах запросов (id, username, адрес кошелька)
// разрешаются сервисным слоем.
package handlers

import (
	"net/http"

	apierrors "github.com/bigkaa/goartstore/record-module/internal/api/errors"
	"github.com/bigkaa/goartstore/record-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/record-module/internal/domain/access"
)

// respondView пишет проекцию записи после операции.
func (h *APIHandler) respondView(w http.ResponseWriter, r *http.Request, view access.View, err error) {
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordResponse(view))
}

// TransferOwnership — POST .../transfer-ownership.
func (h *APIHandler) TransferOwnership(w http.ResponseWriter, r *http.Request) {
	recordID, err := pathParam(r, "record_id")
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	var req recipientRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	view, err := h.records.TransferOwnership(r.Context(), middleware.SubjectFromContext(r.Context()), recordID, req.Recipient)
	h.respondView(w, r, view, err)
}

// RequestAccess — POST .../request-access. Тело не требуется.
func (h *APIHandler) RequestAccess(w http.ResponseWriter, r *http.Request) {
	recordID, err := pathParam(r, "record_id")
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	view, err := h.records.RequestAccess(r.Context(), middleware.SubjectFromContext(r.Context()), recordID)
	h.respondView(w, r, view, err)
}

// CancelRequest — POST .../cancel-request.
func (h *APIHandler) CancelRequest(w http.ResponseWriter, r *http.Request) {
	recordID, err := pathParam(r, "record_id")
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	view, err := h.records.CancelRequest(r.Context(), middleware.SubjectFromContext(r.Context()), recordID)
	h.respondView(w, r, view, err)
}

// RejectRequest — POST .../reject-request.
func (h *APIHandler) RejectRequest(w http.ResponseWriter, r *http.Request) {
	recordID, err := pathParam(r, "record_id")
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	var req principalRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	view, err := h.records.RejectRequest(r.Context(), middleware.SubjectFromContext(r.Context()), recordID, req.Principal)
	h.respondView(w, r, view, err)
}

// GrantAccess — POST .../grant-access. Удовлетворяет ожидающий запрос.
func (h *APIHandler) GrantAccess(w http.ResponseWriter, r *http.Request) {
	recordID, err := pathParam(r, "record_id")
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	var req grantAccessRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	view, err := h.records.GrantAccess(r.Context(), middleware.SubjectFromContext(r.Context()), recordID, req.Principal, req.FileIDs)
	h.respondView(w, r, view, err)
}

// ShareFiles — POST .../share-files.
func (h *APIHandler) ShareFiles(w http.ResponseWriter, r *http.Request) {
	recordID, err := pathParam(r, "record_id")
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	var req recipientFilesRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	view, err := h.records.ShareFiles(r.Context(), middleware.SubjectFromContext(r.Context()), recordID, req.Recipient, req.FileIDs)
	h.respondView(w, r, view, err)
}

// ManageAccess — POST .../manage-access. Заменяет набор выданных файлов.
func (h *APIHandler) ManageAccess(w http.ResponseWriter, r *http.Request) {
	recordID, err := pathParam(r, "record_id")
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	var req manageAccessRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	view, err := h.records.ManageAccess(r.Context(), middleware.SubjectFromContext(r.Context()), recordID, req.Recipient, req.FileIDs)
	h.respondView(w, r, view, err)
}

// RevokeAccess — POST .../revoke-access.
func (h *APIHandler) RevokeAccess(w http.ResponseWriter, r *http.Request) {
	recordID, err := pathParam(r, "record_id")
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	var req recipientRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	view, err := h.records.RevokeAccess(r.Context(), middleware.SubjectFromContext(r.Context()), recordID, req.Recipient)
	h.respondView(w, r, view, err)
}

// UnshareFiles — POST .../unshare-files.
func (h *APIHandler) UnshareFiles(w http.ResponseWriter, r *http.Request) {
	recordID, err := pathParam(r, "record_id")
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	var req recipientFilesRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	view, err := h.records.UnshareFiles(r.Context(), middleware.SubjectFromContext(r.Context()), recordID, req.Recipient, req.FileIDs)
	h.respondView(w, r, view, err)
}
