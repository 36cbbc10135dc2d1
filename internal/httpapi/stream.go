package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"telemetra.io/internal/stream"
)

const streamKeepAlive = 15 * time.Second

// StreamSensorData serves Server-Sent Events with readings ingested for one
// piece of equipment after the subscription starts.
func (a *API) StreamSensorData(w http.ResponseWriter, r *http.Request) {
	equipmentID, err := parseID(r.URL.Query().Get("equipment_id"), "equipment_id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := a.svc.GetEquipment(r.Context(), currentIdentity(r), equipmentID); err != nil {
		writeServiceError(w, r, err)
		return
	}

	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	ch := a.hub.Subscribe(r.Context(), equipmentID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// Send an initial comment to establish the stream
	_, _ = w.Write([]byte(": stream started\n\n"))
	if err := rc.Flush(); err != nil {
		return
	}

	keepAlive := time.NewTicker(streamKeepAlive)
	defer keepAlive.Stop()
	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if err := writeEvent(w, evt); err != nil {
				return
			}
		case <-keepAlive.C:
			if _, err := w.Write([]byte(": ping\n\n")); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, evt stream.ReadingEvent) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte("event: readings\ndata: ")); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	_, err = w.Write([]byte("\n\n"))
	return err
}
