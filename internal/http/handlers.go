package http

import (
	"fmt"
	"net/http"

	"skarbnik/internal/core"
	"skarbnik/internal/log"
)

// Students

func (s *Server) handleListStudents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ledger.Students())
}

func (s *Server) handleCreateStudent(w http.ResponseWriter, r *http.Request) {
	var req studentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	st, err := s.ledger.AddStudent(r.Context(), sanitizeInput(req.FirstName), sanitizeInput(req.LastName))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	NewResponse().
		Status(http.StatusCreated).
		Header("Location", "/api/students/"+st.ID).
		JSON(st).
		Write(w)
}

func (s *Server) handleEditStudent(w http.ResponseWriter, r *http.Request) {
	var req studentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	st, err := s.ledger.EditStudent(r.Context(), r.PathValue("id"), sanitizeInput(req.FirstName), sanitizeInput(req.LastName))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleDeleteStudent(w http.ResponseWriter, r *http.Request) {
	if err := s.ledger.DeleteStudent(r.Context(), r.PathValue("id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSettleRefunds(w http.ResponseWriter, r *http.Request) {
	n, err := s.ledger.SettleRefund(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"settled": n})
}

// Collections

func (s *Server) handleListCollections(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toSummaryViews(s.ledger.CollectionSummaries()))
}

func (s *Server) handleCreateCollection(w http.ResponseWriter, r *http.Request) {
	var req collectionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	c, err := s.ledger.CreateCollection(r.Context(), req.input(s.ledger.StudentIDs()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	NewResponse().
		Status(http.StatusCreated).
		Header("Location", "/api/collections/"+c.ID).
		JSON(c).
		Write(w)
}

func (s *Server) handleEditCollection(w http.ResponseWriter, r *http.Request) {
	var req collectionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	c, err := s.ledger.EditCollection(r.Context(), r.PathValue("id"), req.input(s.ledger.StudentIDs()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleDeleteCollection(w http.ResponseWriter, r *http.Request) {
	refunds, err := s.ledger.DeleteCollection(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if refunds == nil {
		refunds = []core.Refund{}
	}
	writeJSON(w, http.StatusOK, map[string][]core.Refund{"refunds": refunds})
}

func (s *Server) handleSetPayment(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Amount == nil {
		UnprocessableEntityError("amount is required").Write(w)
		return
	}
	if req.Amount.IsNegative() {
		UnprocessableEntityError(fmt.Sprintf("%v: payment cannot be negative", core.ErrInvalidAmount)).Write(w)
		return
	}
	c, err := s.ledger.SetPayment(r.Context(), r.PathValue("id"), r.PathValue("studentID"), *req.Amount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handlePayInFull(w http.ResponseWriter, r *http.Request) {
	c, err := s.ledger.MarkPaidInFull(r.Context(), r.PathValue("id"), r.PathValue("studentID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// Balances and refunds

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	agg := s.ledger.Aggregate()
	writeJSON(w, http.StatusOK, statsView{
		Students:  toStatsViews(s.ledger.StudentStats()),
		Aggregate: aggregateView(agg),
	})
}

func (s *Server) handleRefunds(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, refundsView{
		Due:     toStatsViews(s.ledger.RefundsDue()),
		History: toRefundViews(s.ledger.RefundHistory()),
	})
}

func (s *Server) handleDeleteRefund(w http.ResponseWriter, r *http.Request) {
	refund, err := s.ledger.RemoveRefundRecord(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, refund)
}

// Document

func (s *Server) handleThemes(w http.ResponseWriter, r *http.Request) {
	themes := core.Themes()
	out := make([]themeView, 0, len(themes))
	for _, t := range themes {
		out = append(out, toThemeView(t))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetTheme(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toThemeView(s.ledger.Theme()))
}

func (s *Server) handleSetTheme(w http.ResponseWriter, r *http.Request) {
	var req themeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.ledger.SetTheme(r.Context(), req.ThemeKey); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toThemeView(s.ledger.Theme()))
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	f, err := parseFormat(r)
	if err != nil {
		writeError(w, err)
		return
	}
	blob, err := s.ledger.ExportDocument(f)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	NewResponse().
		Header("Content-Disposition", fmt.Sprintf(`attachment; filename="skarbnik.%s"`, f)).
		Body(blob, contentType(f)).
		Write(w)
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	f, err := parseFormat(r)
	if err != nil {
		writeError(w, err)
		return
	}
	blob, err := readBody(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.ledger.ImportDocument(r.Context(), blob, f); err != nil {
		s.fail(w, r, err)
		return
	}
	doc := s.ledger.Document()
	writeJSON(w, http.StatusOK, map[string]any{
		"students":    len(doc.Students),
		"collections": len(doc.Collections),
		"refunds":     len(doc.Refunds),
		"themeKey":    doc.ThemeKey,
		"revision":    s.ledger.Revision(),
	})
}

// fail writes the error response and logs failures that are not the
// caller's fault.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	resp := ErrorFor(err)
	if resp.statusCode >= http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "Request failed",
			log.FieldPath, r.URL.Path,
			log.FieldError, err)
	}
	resp.Write(w)
}
