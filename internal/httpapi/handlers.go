package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ontimecar-scraper/internal/apperr"
	"ontimecar-scraper/internal/extraction"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// queryBody accepts both the current and the legacy field names.
type queryBody struct {
	Identifier string `json:"identifier"`
	Cedula     string `json:"cedula"`
	View       string `json:"view"`
	Tipo       string `json:"tipo"`
	From       string `json:"from"`
	To         string `json:"to"`
}

func (h *Handler) index(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service": h.Name,
		"version": h.Version,
		"vistas":  h.Registry.Names(),
		"endpoints": []string{
			"GET /health",
			"GET /consulta/{view}?identifier=&from=&to=",
			"POST /consulta",
			"GET /columnas",
			"GET /columnas/{view}",
			"POST /admin/reset-browser",
			"GET /admin/facts?predicate=&query=",
		},
	})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	st := h.Browser.Status()
	body := map[string]interface{}{
		"status":             "ok",
		"timestamp":          time.Now().UTC().Format(time.RFC3339),
		"browserInitialized": st.BrowserInitialized,
		"activeSessions":     st.ActiveSessions,
		"activeLeases":       st.ActiveLeases,
		"gateWaitMs":         st.GateWaitMs,
	}
	if st.Session != nil {
		body["session"] = st.Session
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *Handler) queryGet(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	identifier := q.Get("identifier")
	if identifier == "" {
		identifier = q.Get("cedula")
	}
	h.runQuery(w, r, extraction.Request{
		Identifier: identifier,
		View:       chi.URLParam(r, "view"),
		From:       q.Get("from"),
		To:         q.Get("to"),
	})
}

func (h *Handler) queryPost(w http.ResponseWriter, r *http.Request) {
	var body queryBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, r, apperr.Wrap(apperr.KindValidation, "decode body", err))
		return
	}
	identifier := body.Identifier
	if identifier == "" {
		identifier = body.Cedula
	}
	view := body.View
	if view == "" {
		view = body.Tipo
	}
	if view == "" {
		view = h.DefaultView
	}
	h.runQuery(w, r, extraction.Request{
		Identifier: identifier,
		View:       view,
		From:       body.From,
		To:         body.To,
	})
}

func (h *Handler) runQuery(w http.ResponseWriter, r *http.Request, req extraction.Request) {
	req.RequestID = middleware.GetReqID(r.Context())
	res, err := h.Lookups.Query(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if res.NotFound {
		writeJSON(w, http.StatusNotFound, extraction.ErrorBody{
			Error:     string(apperr.KindNotFound),
			Message:   res.Message,
			RequestID: res.RequestID,
		})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) listViews(w http.ResponseWriter, r *http.Request) {
	views := h.Registry.All()
	infos := make([]interface{}, 0, len(views))
	for _, v := range views {
		infos = append(infos, v.Info())
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"total":   len(infos),
		"vistas":  infos,
	})
}

func (h *Handler) describeView(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "view")
	v, ok := h.Registry.Lookup(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, extraction.ErrorBody{
			Error:   string(apperr.KindNotFound),
			Message: fmt.Sprintf("Vista %q no existe. Vistas válidas: %s", name, strings.Join(h.Registry.Names(), ", ")),
		})
		return
	}
	writeJSON(w, http.StatusOK, v.Info())
}

func (h *Handler) resetBrowser(w http.ResponseWriter, r *http.Request) {
	if err := h.Browser.Reset(r.Context()); err != nil {
		h.Logger.Error("browser reset failed", "error", err)
		h.writeError(w, r, apperr.Wrap(apperr.KindInternal, "reset browser", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Navegador reiniciado, la sesión se recreará en la próxima consulta",
	})
}

func (h *Handler) facts(w http.ResponseWriter, r *http.Request) {
	if h.Journal == nil || !h.Journal.Enabled() {
		h.writeError(w, r, apperr.New(apperr.KindNotFound, "facts", "journal disabled"))
		return
	}
	q := r.URL.Query()

	if query := q.Get("query"); query != "" {
		rows, err := h.Journal.Query(r.Context(), query)
		if err != nil {
			h.writeError(w, r, apperr.Wrap(apperr.KindValidation, "facts", err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"query": query, "count": len(rows), "results": rows})
		return
	}

	predicate := q.Get("predicate")
	if predicate == "" {
		writeJSON(w, http.StatusOK, map[string]interface{}{"predicates": h.Journal.Predicates()})
		return
	}
	facts, err := h.Journal.Evaluate(r.Context(), predicate)
	if err != nil {
		h.writeError(w, r, apperr.Wrap(apperr.KindValidation, "facts", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"predicate": predicate, "count": len(facts), "facts": facts})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	body := extraction.NewErrorBody(err, middleware.GetReqID(r.Context()))
	retryAfterHeader(w, body.RetryAfterSeconds)
	writeJSON(w, apperr.HTTPStatus(apperr.KindOf(err)), body)
}
