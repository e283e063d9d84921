package extraction

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"ontimecar-scraper/internal/apperr"
	"ontimecar-scraper/internal/records"
	"ontimecar-scraper/internal/schema"
)

// Request is one lookup. From and To are optional inclusive YYYY-MM-DD bounds.
type Request struct {
	Identifier string
	View       string
	From       string
	To         string
	// RequestID is generated when empty.
	RequestID string
}

// Diagnostics are the counters reported with every successful lookup.
type Diagnostics struct {
	RowsSeen     int    `json:"filasVistas"`
	RowsMatched  int    `json:"filasCoincidentes"`
	ElapsedMs    int64  `json:"duracionMs"`
	Strategy     string `json:"estrategia"`
	FilterDetail string `json:"detalleFiltro,omitempty"`
	Settled      bool   `json:"tablaEstable"`
}

// Result is the response envelope of a lookup. JSON keys follow the legacy API
// consumed by existing automations.
type Result struct {
	Success    bool   `json:"success"`
	RequestID  string `json:"requestId"`
	View       string `json:"tipo"`
	Identifier string `json:"cedula"`
	Total      int    `json:"total"`
	// Records are the matched rows, each with "_fila" and "_coincidencia" metadata.
	Records []map[string]string `json:"servicios"`
	// Record is the projected first match of a single-record view.
	Record      map[string]string `json:"servicio,omitempty"`
	Diagnostics Diagnostics       `json:"diagnostico"`
	Message     string            `json:"mensaje"`

	// NotFound is set when nothing matched and the view reports that as a 404.
	NotFound bool `json:"-"`
}

// ErrorBody is the error envelope shared by the HTTP and MCP surfaces.
type ErrorBody struct {
	Success           bool   `json:"success"`
	Error             string `json:"error"`
	Message           string `json:"message"`
	Detail            string `json:"detail,omitempty"`
	RequestID         string `json:"requestId,omitempty"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
}

// NewErrorBody renders err for callers. Internal details stay in the logs.
func NewErrorBody(err error, requestID string) ErrorBody {
	kind := apperr.KindOf(err)
	body := ErrorBody{
		Error:     string(kind),
		Message:   messageFor(kind),
		RequestID: requestID,
	}
	var e *apperr.Error
	if errors.As(err, &e) {
		body.Detail = e.Error()
	}
	if retry := apperr.RetryAfterOf(err); retry > 0 {
		body.RetryAfterSeconds = int((retry + time.Second - 1) / time.Second)
	}
	return body
}

func messageFor(kind apperr.Kind) string {
	switch kind {
	case apperr.KindValidation:
		return "Solicitud inválida"
	case apperr.KindBusy:
		return "El servicio está ocupado, intente de nuevo"
	case apperr.KindUpstreamAuth:
		return "No fue posible iniciar sesión en OnTimeCar"
	case apperr.KindNavigation:
		return "No fue posible cargar la página de OnTimeCar"
	case apperr.KindWidgetNotReady:
		return "La tabla de OnTimeCar no terminó de cargar"
	case apperr.KindTimeout:
		return "La consulta excedió el tiempo máximo"
	case apperr.KindNotFound:
		return "No se encontraron registros"
	default:
		return "Error interno del servidor"
	}
}

// ParseRange validates the optional date bounds of a request.
func ParseRange(from, to string) (records.DateRange, error) {
	var r records.DateRange
	var err error
	if from = strings.TrimSpace(from); from != "" {
		if r.From, err = time.Parse("2006-01-02", from); err != nil {
			return r, apperr.New(apperr.KindValidation, "parse range", fmt.Sprintf("from %q is not YYYY-MM-DD", from))
		}
	}
	if to = strings.TrimSpace(to); to != "" {
		if r.To, err = time.Parse("2006-01-02", to); err != nil {
			return r, apperr.New(apperr.KindValidation, "parse range", fmt.Sprintf("to %q is not YYYY-MM-DD", to))
		}
	}
	if !r.From.IsZero() && !r.To.IsZero() && r.To.Before(r.From) {
		return r, apperr.New(apperr.KindValidation, "parse range", "to is before from")
	}
	return r, nil
}

func buildResult(requestID, identifier string, v *schema.ViewSchema, matched []records.Record) *Result {
	res := &Result{
		Success:    true,
		RequestID:  requestID,
		View:       v.Name(),
		Identifier: identifier,
		Total:      len(matched),
		Records:    make([]map[string]string, 0, len(matched)),
	}
	for _, rec := range matched {
		out := make(map[string]string, len(rec.Fields)+2)
		for k, val := range rec.Fields {
			out[k] = val
		}
		out["_fila"] = strconv.Itoa(rec.Row)
		out["_coincidencia"] = rec.Match.String()
		res.Records = append(res.Records, out)
	}

	single := v.Match().Cardinality == schema.Single
	switch {
	case len(matched) == 0:
		res.Message = fmt.Sprintf("No se encontraron registros en %s para la cédula %s", v.Name(), identifier)
		res.NotFound = v.NotFound() == schema.NotFound404
	case single && len(matched) == 1:
		res.Message = fmt.Sprintf("Se encontró 1 registro en %s para la cédula %s", v.Name(), identifier)
	default:
		res.Message = fmt.Sprintf("Se encontraron %d registro(s) en %s", len(matched), v.Name())
	}
	if single && len(matched) > 0 && len(v.Projection()) > 0 {
		res.Record = records.Project(matched[0], v.Projection())
	}
	return res
}
