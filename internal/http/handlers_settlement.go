package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"dividi/internal/core"
	"dividi/internal/history"
	"dividi/internal/log"
)

// errorBody is the JSON shape of every error response. Mismatch fields are
// pointers so a zero total still shows up.
type errorBody struct {
	Error         string         `json:"error"`
	Kind          string         `json:"kind,omitempty"`
	Field         string         `json:"field,omitempty"`
	TotalPaid     *float64       `json:"total_paid,omitempty"`
	ExpectedTotal *float64       `json:"expected_total,omitempty"`
	Difference    *float64       `json:"difference,omitempty"`
	Balances      []core.Balance `json:"balances,omitempty"`
}

type listBody struct {
	Records []history.Record `json:"records"`
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if resp := RequireGET(r); resp != nil {
		resp.Write(w)
		return
	}
	data := struct {
		Rows []int
	}{
		Rows: []int{1, 2, 3},
	}
	s.render(w, r, http.StatusOK, "index.html", data)
}

// settlementsHandler dispatches the collection route: GET lists, POST
// creates (through the rate limiter).
func (s *Server) settlementsHandler(create http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead:
			s.handleListSettlements(w, r)
		case http.MethodPost:
			create.ServeHTTP(w, r)
		default:
			MethodNotAllowedError("GET, POST").Write(w)
		}
	})
}

func (s *Server) handleCreateSettlement(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	g, isJSON, err := ParseGroup(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	asJSON := (isJSON && !isHTMX(r)) || wantsJSON(r)

	rec, err := s.service.Settle(ctx, g)
	if err != nil {
		s.writeSettleError(w, r, asJSON, rec.Settlement, err)
		return
	}

	location := "/settlements/" + strconv.FormatInt(rec.ID, 10)
	if asJSON {
		NewHTMXResponse().
			Status(http.StatusCreated).
			Header("Location", location).
			JSON(rec).
			Write(w)
		return
	}

	body, err := s.renderBytes("settlement", newRecordView(rec))
	if err != nil {
		s.logRenderError(ctx, "settlement", err)
		InternalServerError("Could not render the settlement").Write(w)
		return
	}
	NewHTMXResponse().
		Status(http.StatusCreated).
		Header("Location", location).
		TriggerSettlementRecorded(rec.ID).
		TriggerHistoryRefresh().
		TriggerSuccessNotification(fmt.Sprintf("Settlement #%d recorded", rec.ID)).
		BodyHTML(string(body)).
		Write(w)
}

func (s *Server) writeSettleError(w http.ResponseWriter, r *http.Request, asJSON bool, st core.Settlement, err error) {
	ctx := r.Context()

	var invalid *core.InvalidInputError
	var mismatch *core.BalanceMismatchError
	switch {
	case errors.As(err, &invalid):
		s.logger.InfoContext(ctx, "Settlement rejected", log.FieldErrorType, log.ErrorTypeValidation, "reason", invalid.Reason)
		if asJSON {
			NewHTMXResponse().
				Status(http.StatusUnprocessableEntity).
				JSON(errorBody{Error: err.Error(), Kind: "invalid_input"}).
				Write(w)
			return
		}
		UnprocessableEntityError(err.Error()).Write(w)

	case errors.As(err, &mismatch):
		s.logger.InfoContext(ctx, "Settlement rejected", log.FieldErrorType, log.ErrorTypeMismatch,
			log.FieldTotalPaid, mismatch.TotalPaid, "expected_total", mismatch.Expected)
		if asJSON {
			paid, expected, diff := mismatch.TotalPaid, mismatch.Expected, mismatch.Difference()
			NewHTMXResponse().
				Status(http.StatusUnprocessableEntity).
				JSON(errorBody{
					Error:         err.Error(),
					Kind:          "balance_mismatch",
					TotalPaid:     &paid,
					ExpectedTotal: &expected,
					Difference:    &diff,
					Balances:      st.Balances,
				}).
				Write(w)
			return
		}
		body, renderErr := s.renderBytes("settlement", newMismatchView(st, mismatch))
		if renderErr != nil {
			s.logRenderError(ctx, "settlement", renderErr)
			UnprocessableEntityError(err.Error()).Write(w)
			return
		}
		NewHTMXResponse().
			Status(http.StatusUnprocessableEntity).
			TriggerErrorNotification("Contributions do not add up to the total").
			BodyHTML(string(body)).
			Write(w)

	default:
		log.NewStructuredLogger(s.logger).LogError(ctx, "Failed to record settlement", err,
			log.ComponentSettlement, log.OpRecord, log.NewFields())
		s.writeError(w, r, &RequestError{Status: http.StatusInternalServerError, Message: "Could not record the settlement"})
	}
}

func (s *Server) handleListSettlements(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(r)
	if !ok {
		s.writeError(w, r, malformed("limit must be a positive integer"))
		return
	}

	recs, err := s.reader.ListRecent(r.Context(), limit)
	if err != nil {
		log.NewStructuredLogger(s.logger).LogError(r.Context(), "Failed to list settlements", err,
			log.ComponentStorage, log.OpList, log.NewFields())
		s.writeError(w, r, &RequestError{Status: http.StatusInternalServerError, Message: "Could not load the history"})
		return
	}
	if recs == nil {
		recs = []history.Record{}
	}

	if wantsJSON(r) {
		NewHTMXResponse().JSON(listBody{Records: recs}).Write(w)
		return
	}
	s.render(w, r, http.StatusOK, "history", newHistoryRows(recs))
}

func (s *Server) handleGetSettlement(w http.ResponseWriter, r *http.Request) {
	if resp := RequireGET(r); resp != nil {
		resp.Write(w)
		return
	}
	id, ok := parseID(r)
	if !ok {
		s.writeError(w, r, &RequestError{Status: http.StatusNotFound, Message: "Settlement not found"})
		return
	}

	rec, err := s.records.Get(r.Context(), id, func(ctx context.Context) (history.Record, error) {
		return s.reader.Get(ctx, id)
	})
	if errors.Is(err, history.ErrNotFound) {
		s.writeError(w, r, &RequestError{Status: http.StatusNotFound, Message: "Settlement not found"})
		return
	}
	if err != nil {
		log.NewStructuredLogger(s.logger).LogError(r.Context(), "Failed to load settlement", err,
			log.ComponentStorage, log.OpRead, log.NewFields().WithRecordID(id))
		s.writeError(w, r, &RequestError{Status: http.StatusInternalServerError, Message: "Could not load the settlement"})
		return
	}

	if wantsJSON(r) {
		NewHTMXResponse().JSON(rec).Write(w)
		return
	}
	s.render(w, r, http.StatusOK, "settlement", newRecordView(rec))
}

// writeError answers in the format the caller asked for. Errors that are
// not a *RequestError are reported as 500.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		reqErr = &RequestError{Status: http.StatusInternalServerError, Message: "internal error"}
	}
	if wantsJSON(r) || (sentJSON(r) && !isHTMX(r)) {
		NewHTMXResponse().
			Status(reqErr.Status).
			JSON(errorBody{Error: reqErr.Error(), Field: reqErr.Field}).
			Write(w)
		return
	}
	ErrorResponse(reqErr.Status, reqErr.Error()).Write(w)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	traced := s.tracer.GetMetrics()
	limited := s.limiter.GetMetrics()
	requests := map[string]int64{
		"total":           traced.TotalRequests,
		"avg_response_ms": traced.AverageResponseTime.Milliseconds(),
		"rate_limited":    limited.LimitedRequests,
		"tracked_clients": limited.ClientCount,
	}
	NewHTMXResponse().JSON(map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
		"requests":  requests,
	}).Write(w)
}

// handleReady performs readiness check with dependency verification
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	httpStatus := http.StatusOK
	checks := make(map[string]string)

	if s.templates == nil {
		checks["templates"] = "failed: templates not loaded"
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["templates"] = "ok"
	}

	s.checksMu.RLock()
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			checks[name] = fmt.Sprintf("failed: %v", err)
			status = "not_ready"
			httpStatus = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	s.checksMu.RUnlock()

	NewHTMXResponse().
		Status(httpStatus).
		JSON(map[string]any{"status": status, "checks": checks}).
		Write(w)
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	body, err := s.renderBytes(name, data)
	if err != nil {
		s.logRenderError(r.Context(), name, err)
		InternalServerError("Could not render the page").Write(w)
		return
	}
	NewHTMXResponse().Status(status).BodyHTML(string(body)).Write(w)
}

// renderBytes executes into a buffer so a failing template never leaves a
// half-written response.
func (s *Server) renderBytes(name string, data any) ([]byte, error) {
	if s.templates == nil {
		return nil, errors.New("templates not loaded")
	}
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *Server) logRenderError(ctx context.Context, name string, err error) {
	s.logger.ErrorContext(ctx, "Template execution failed", "template", name, log.FieldError, err)
}
