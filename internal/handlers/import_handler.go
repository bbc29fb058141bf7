package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "ledgercore/internal/errors"
	"ledgercore/internal/importer"
	"ledgercore/internal/services"
)

// ImportHandler handles CSV import requests.
type ImportHandler struct {
	importService services.ImportServicer
	auditService  services.AuditServicer
}

// NewImportHandler creates a new ImportHandler.
func NewImportHandler(importService services.ImportServicer, auditService services.AuditServicer) *ImportHandler {
	return &ImportHandler{importService: importService, auditService: auditService}
}

// PreviewImportRequest carries the raw file content to inspect.
type PreviewImportRequest struct {
	RawText string `json:"raw_text" binding:"required"`
}

// ImportCSVRequest represents the request payload for a CSV import.
// Column indices are zero-based; type_mode defaults to auto.
type ImportCSVRequest struct {
	RawText   string                 `json:"raw_text" binding:"required"`
	AccountID string                 `json:"account_id" binding:"required,uuid"`
	Mapping   importer.ColumnMapping `json:"mapping"`
	TypeMode  importer.TypeMode      `json:"type_mode" binding:"omitempty,import_type_mode"`
}

// PreviewImport handles inspecting a CSV file before import
// @Summary     Preview a CSV import
// @Description Detect the delimiter, return the header and first rows, and suggest a column mapping
// @Tags        imports
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       request body PreviewImportRequest true "Raw CSV text"
// @Success     200 {object} services.ImportPreview "Preview"
// @Failure     400 {object} ErrorResponse "Empty or unreadable file"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /imports/csv/preview [post]
func (h *ImportHandler) PreviewImport(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	var req PreviewImportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, apperrors.WithMessage(apperrors.ErrInvalidInput, err.Error()))
		return
	}

	preview, err := h.importService.Preview(c.Request.Context(), userID, req.RawText)
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"preview": preview})
}

// ImportCSV handles a bulk CSV import into one account
// @Summary     Import transactions from CSV
// @Description Import rows into an account. Rows that fail to parse are skipped and reported; the rest are stored and the balance adjusted once.
// @Tags        imports
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       request body ImportCSVRequest true "CSV text, target account and column mapping"
// @Success     200 {object} services.ImportResult "Import summary"
// @Failure     400 {object} ErrorResponse "Invalid input or mapping"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     404 {object} ErrorResponse "Account not found"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /imports/csv [post]
func (h *ImportHandler) ImportCSV(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	var req ImportCSVRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, apperrors.WithMessage(apperrors.ErrInvalidInput, err.Error()))
		return
	}

	result, err := h.importService.Import(c.Request.Context(), userID, services.ImportRequest{
		RawText:   req.RawText,
		Mapping:   req.Mapping,
		AccountID: req.AccountID,
		TypeMode:  req.TypeMode,
	})
	if err != nil {
		respondWithError(c, err)
		return
	}

	if result.Imported > 0 {
		h.auditService.Log(c.Request.Context(), userID, services.AuditActionImport, "account", req.AccountID, c.ClientIP(),
			map[string]interface{}{"imported": result.Imported, "skipped": result.Skipped})
	}

	c.JSON(http.StatusOK, gin.H{"result": result})
}
