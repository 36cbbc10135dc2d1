package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"telemetra.io/internal/auth"
	"telemetra.io/internal/stream"
)

// maxIngestBatch bounds one ingestion request so a single insert stays well
// under the Postgres bind-parameter limit.
const maxIngestBatch = 1000

type pageResponse[T any] struct {
	Items  []T  `json:"items"`
	Total  *int `json:"total,omitempty"`
	Limit  int  `json:"limit"`
	Offset int  `json:"offset"`
}

type createEquipmentRequest struct {
	CompanyID   int64  `json:"company_id"`
	EquipmentID string `json:"equipment_id"`
	Name        string `json:"name"`
}

type readingRequest struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

type ingestRequest struct {
	EquipmentID int64            `json:"equipment_id"`
	Readings    []readingRequest `json:"readings"`
}

func (a *API) ListCompanies(w http.ResponseWriter, r *http.Request) {
	page, err := readPage(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	items, err := a.svc.ListCompanies(r.Context(), currentIdentity(r), page)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pageResponse[auth.Company]{Items: nonNil(items), Limit: page.Limit, Offset: page.Offset})
}

func (a *API) GetCompany(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"), "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	company, err := a.svc.GetCompany(r.Context(), currentIdentity(r), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, company)
}

func (a *API) ListEquipment(w http.ResponseWriter, r *http.Request) {
	page, err := readPage(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	var companyID int64
	if raw := r.URL.Query().Get("company_id"); raw != "" {
		if companyID, err = parseID(raw, "company_id"); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if companyID <= 0 {
			writeError(w, r, http.StatusBadRequest, "company_id must be positive")
			return
		}
	}
	items, err := a.svc.ListEquipment(r.Context(), currentIdentity(r), companyID, page)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pageResponse[auth.Equipment]{Items: nonNil(items), Limit: page.Limit, Offset: page.Offset})
}

func (a *API) CreateEquipment(w http.ResponseWriter, r *http.Request) {
	var req createEquipmentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	created, err := a.svc.CreateEquipment(r.Context(), currentIdentity(r), auth.Equipment{
		CompanyID: req.CompanyID,
		Code:      req.EquipmentID,
		Name:      req.Name,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	logAudit(r, "equipment.created", map[string]any{"company_id": created.CompanyID, "equipment_id": created.ID})
	writeJSON(w, http.StatusCreated, created)
}

func (a *API) ListSensorData(w http.ResponseWriter, r *http.Request) {
	equipmentID, err := parseID(r.URL.Query().Get("equipment_id"), "equipment_id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	page, err := readPage(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	items, total, err := a.svc.ListReadings(r.Context(), currentIdentity(r), equipmentID, page)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pageResponse[auth.SensorReading]{
		Items:  nonNil(items),
		Total:  &total,
		Limit:  page.Limit,
		Offset: page.Offset,
	})
}

func (a *API) IngestSensorData(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Readings) > maxIngestBatch {
		writeError(w, r, http.StatusBadRequest, fmt.Sprintf("at most %d readings per request", maxIngestBatch))
		return
	}
	readings := make([]auth.SensorReading, len(req.Readings))
	for i, rd := range req.Readings {
		readings[i] = auth.SensorReading{EquipmentID: req.EquipmentID, Timestamp: rd.Timestamp.UTC(), Value: rd.Value}
	}
	n, err := a.svc.IngestReadings(r.Context(), currentIdentity(r), req.EquipmentID, readings)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	a.hub.Publish(stream.NewReadingEvent(req.EquipmentID, readings))
	logAudit(r, "sensor_data.ingested", map[string]any{"equipment_id": req.EquipmentID, "count": n})
	writeJSON(w, http.StatusCreated, map[string]any{"equipment_id": req.EquipmentID, "inserted": n})
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
