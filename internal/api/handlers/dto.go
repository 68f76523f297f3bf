// dto.go — тела запросов и ответов HTTP API.
package handlers

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/bigkaa/goartstore/record-module/internal/domain/access"
	"github.com/bigkaa/goartstore/record-module/internal/domain/model"
	"github.com/bigkaa/goartstore/record-module/internal/domain/provenance"
	"github.com/bigkaa/goartstore/record-module/internal/ledger"
	"github.com/bigkaa/goartstore/record-module/internal/service"
)

// --- Запросы ---

// fileUploadRequest — файл в теле запроса, содержимое в base64.
type fileUploadRequest struct {
	Name     string `json:"name" validate:"required,max=255"`
	DataType string `json:"dataType" validate:"max=255"`
	Content  string `json:"content" validate:"omitempty,base64"`
}

type createRecordRequest struct {
	RecordID string              `json:"recordId" validate:"required,max=256"`
	Files    []fileUploadRequest `json:"files" validate:"max=100,dive"`
}

type recipientRequest struct {
	Recipient string `json:"recipient" validate:"required,max=256"`
}

type principalRequest struct {
	Principal string `json:"principal" validate:"required,max=256"`
}

type grantAccessRequest struct {
	Principal string   `json:"principal" validate:"required,max=256"`
	FileIDs   []string `json:"fileIds" validate:"required,min=1,max=1000,dive,required"`
}

// recipientFilesRequest — share-files и unshare-files.
type recipientFilesRequest struct {
	Recipient string   `json:"recipient" validate:"required,max=256"`
	FileIDs   []string `json:"fileIds" validate:"required,min=1,max=1000,dive,required"`
}

// manageAccessRequest — пустой fileIds допустим и полностью отзывает доступ.
type manageAccessRequest struct {
	Recipient string   `json:"recipient" validate:"required,max=256"`
	FileIDs   []string `json:"fileIds" validate:"required,max=1000,dive,required"`
}

type addFilesRequest struct {
	Files []fileUploadRequest `json:"files" validate:"required,min=1,max=100,dive"`
}

type editFileRequest struct {
	Name     string `json:"name" validate:"required,max=255"`
	DataType string `json:"dataType" validate:"max=255"`
}

type removeFilesRequest struct {
	FileIDs []string `json:"fileIds" validate:"required,min=1,max=1000,dive,required"`
}

// toUploads декодирует содержимое файлов из base64.
func toUploads(files []fileUploadRequest) ([]service.FileUpload, error) {
	uploads := make([]service.FileUpload, 0, len(files))
	for i, f := range files {
		content, err := base64.StdEncoding.DecodeString(f.Content)
		if err != nil {
			return nil, fmt.Errorf("files[%d].content: некорректный base64", i)
		}
		uploads = append(uploads, service.FileUpload{
			Name:     f.Name,
			DataType: f.DataType,
			Content:  content,
		})
	}
	return uploads, nil
}

// --- Ответы ---

// fileResponse — метаданные файла. Ссылка на содержимое наружу не отдаётся.
type fileResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	DataType  string    `json:"dataType,omitempty"`
	Size      int64     `json:"size"`
	Checksum  string    `json:"checksum,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type shareResponse struct {
	Principal string         `json:"principal"`
	Files     []fileResponse `json:"files"`
}

type recordResponse struct {
	RecordID       string          `json:"recordId"`
	OwnerID        string          `json:"ownerId"`
	Role           access.Role     `json:"role"`
	Content        []fileResponse  `json:"content"`
	Shares         []shareResponse `json:"shares,omitempty"`
	AccessRequests []string        `json:"accessRequests,omitempty"`
	PendingRequest bool            `json:"pendingRequest"`
	FileCount      int             `json:"fileCount"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

type recordListResponse struct {
	Items   []recordResponse `json:"items"`
	Total   int              `json:"total"`
	Limit   int              `json:"limit"`
	Offset  int              `json:"offset"`
	HasMore bool             `json:"hasMore"`
}

type addFilesResponse struct {
	Record recordResponse `json:"record"`
	Added  []fileResponse `json:"added"`
}

type countResponse struct {
	Count int `json:"count"`
}

type historyResponse struct {
	RecordID string                `json:"recordId"`
	Items    []provenance.Envelope `json:"items"`
}

type ledgerHistoryResponse struct {
	RecordID string         `json:"recordId"`
	Items    []ledger.Entry `json:"items"`
}

func toFileResponse(f model.FileEntry) fileResponse {
	return fileResponse{
		ID:        f.ID,
		Name:      f.Name,
		DataType:  f.DataType,
		Size:      f.Size,
		Checksum:  f.Checksum,
		CreatedAt: f.CreatedAt,
		UpdatedAt: f.UpdatedAt,
	}
}

func toFileResponses(files []model.FileEntry) []fileResponse {
	out := make([]fileResponse, 0, len(files))
	for _, f := range files {
		out = append(out, toFileResponse(f))
	}
	return out
}

func toRecordResponse(v access.View) recordResponse {
	resp := recordResponse{
		RecordID:       v.RecordID,
		OwnerID:        v.OwnerID,
		Role:           v.Role,
		Content:        toFileResponses(v.Content),
		AccessRequests: v.AccessRequests,
		PendingRequest: v.PendingRequest,
		FileCount:      v.FileCount,
		CreatedAt:      v.CreatedAt,
		UpdatedAt:      v.UpdatedAt,
	}
	for _, s := range v.Shares {
		resp.Shares = append(resp.Shares, shareResponse{
			Principal: s.Principal,
			Files:     toFileResponses(s.Files),
		})
	}
	return resp
}

func toRecordListResponse(res *service.ListResult) recordListResponse {
	items := make([]recordResponse, 0, len(res.Items))
	for _, v := range res.Items {
		items = append(items, toRecordResponse(v))
	}
	return recordListResponse{
		Items:   items,
		Total:   res.Total,
		Limit:   res.Limit,
		Offset:  res.Offset,
		HasMore: res.HasMore,
	}
}

// toHistoryResponse — журнал в порядке от новых событий к старым.
func toHistoryResponse(recordID string, entries []provenance.Entry) historyResponse {
	items := make([]provenance.Envelope, 0, len(entries))
	for _, e := range entries {
		items = append(items, provenance.ToEnvelope(e))
	}
	return historyResponse{RecordID: recordID, Items: items}
}

func toLedgerHistoryResponse(recordID string, entries []ledger.Entry) ledgerHistoryResponse {
	if entries == nil {
		entries = []ledger.Entry{}
	}
	return ledgerHistoryResponse{RecordID: recordID, Items: entries}
}
