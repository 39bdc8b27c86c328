package handler

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"surveyrun/internal/repository"
	"surveyrun/internal/service"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ExportHandler handles workbook downloads
type ExportHandler struct {
	exportSvc *service.ExportService
	log       zerolog.Logger
}

// NewExportHandler creates a new export handler
func NewExportHandler(exportSvc *service.ExportService, log zerolog.Logger) *ExportHandler {
	return &ExportHandler{exportSvc: exportSvc, log: log}
}

// Response handles GET /v1/responses/{responseId}/export
func (h *ExportHandler) Response(w http.ResponseWriter, r *http.Request) {
	responseID := mux.Vars(r)["responseId"]

	f, err := h.exportSvc.ResponseWorkbook(r.Context(), responseID)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.send(w, f, fmt.Sprintf("response-%s.xlsx", responseID))
}

// Survey handles GET /v1/surveys/{surveyId}/export
func (h *ExportHandler) Survey(w http.ResponseWriter, r *http.Request) {
	surveyID := mux.Vars(r)["surveyId"]

	f, err := h.exportSvc.SurveyWorkbook(r.Context(), surveyID)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.send(w, f, fmt.Sprintf("survey-%s.xlsx", surveyID))
}

func (h *ExportHandler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrResponseNotFound):
		writeError(w, http.StatusNotFound, "response not found")
	case errors.Is(err, service.ErrSurveyNotFound):
		writeError(w, http.StatusNotFound, "survey not found")
	default:
		h.log.Error().Err(err).Msg("export failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *ExportHandler) send(w http.ResponseWriter, f *excelize.File, filename string) {
	defer f.Close()

	buf, err := f.WriteToBuffer()
	if err != nil {
		h.log.Error().Err(err).Str("file", filename).Msg("failed to render workbook")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	w.WriteHeader(http.StatusOK)
	buf.WriteTo(w)
}
