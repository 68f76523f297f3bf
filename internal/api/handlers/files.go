// files.go — управление файлами записи и скачивание содержимого.
package handlers

import (
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	apierrors "github.com/bigkaa/goartstore/record-module/internal/api/errors"
	"github.com/bigkaa/goartstore/record-module/internal/api/middleware"
)

const defaultContentType = "application/octet-stream"

// AddFiles — POST .../files.
func (h *APIHandler) AddFiles(w http.ResponseWriter, r *http.Request) {
	recordID, err := pathParam(r, "record_id")
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	var req addFilesRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	uploads, err := toUploads(req.Files)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	view, added, err := h.records.AddFiles(r.Context(), middleware.SubjectFromContext(r.Context()), recordID, uploads)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, addFilesResponse{
		Record: toRecordResponse(view),
		Added:  toFileResponses(added),
	})
}

// EditFile — PATCH .../files/{file_id}.
func (h *APIHandler) EditFile(w http.ResponseWriter, r *http.Request) {
	recordID, err := pathParam(r, "record_id")
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	fileID, err := pathParam(r, "file_id")
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	var req editFileRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	view, err := h.records.EditFile(r.Context(), middleware.SubjectFromContext(r.Context()), recordID, fileID, req.Name, req.DataType)
	h.respondView(w, r, view, err)
}

// RemoveFiles — DELETE .../files.
func (h *APIHandler) RemoveFiles(w http.ResponseWriter, r *http.Request) {
	recordID, err := pathParam(r, "record_id")
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	var req removeFilesRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	view, err := h.records.RemoveFiles(r.Context(), middleware.SubjectFromContext(r.Context()), recordID, req.FileIDs)
	h.respondView(w, r, view, err)
}

// DownloadFile — GET .../files/{file_id}/content.
// Содержимое отдаётся потоком, если principal видит файл.
func (h *APIHandler) DownloadFile(w http.ResponseWriter, r *http.Request) {
	recordID, err := pathParam(r, "record_id")
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	fileID, err := pathParam(r, "file_id")
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	rc, file, err := h.records.OpenFile(r.Context(), middleware.SubjectFromContext(r.Context()), recordID, fileID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	defer rc.Close()

	contentType := file.DataType
	if _, _, perr := mime.ParseMediaType(contentType); contentType == "" || perr != nil {
		contentType = defaultContentType
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.FormatInt(file.Size, 10))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": file.Name}))
	if file.Checksum != "" {
		w.Header().Set("ETag", strconv.Quote(file.Checksum))
	}
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, rc); err != nil {
		// Заголовки уже отправлены: остаётся только записать в лог
		h.logger.Warn("Прерван поток содержимого файла",
			slog.String("record_id", recordID),
			slog.String("file_id", fileID),
			slog.String("error", err.Error()),
		)
	}
}
