package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"skarbnik/internal/core"
	"skarbnik/internal/transfer"
)

// maxBodyBytes caps request bodies, imports included.
const maxBodyBytes = 4 << 20

// requestError is a body or query that could not be read at all. It maps
// to 400; well-formed but invalid input maps to 422.
type requestError struct {
	msg string
	err error
}

func (e *requestError) Error() string {
	if e.err == nil {
		return e.msg
	}
	return e.msg + ": " + e.err.Error()
}

func (e *requestError) Unwrap() error { return e.err }

func badRequest(msg string, err error) error {
	return &requestError{msg: msg, err: err}
}

type studentRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

type collectionRequest struct {
	Title          string         `json:"title"`
	Mode           core.InputMode `json:"mode"`
	Amount         core.Money     `json:"amount"`
	ParticipantIDs []string       `json:"participantIds"`
	StartDate      core.Date      `json:"startDate"`
	EndDate        core.Date      `json:"endDate"`
}

// input converts the request. No participants means every student.
func (req collectionRequest) input(allStudents []string) core.CollectionInput {
	participants := req.ParticipantIDs
	if len(participants) == 0 {
		participants = allStudents
	}
	return core.CollectionInput{
		Title:          sanitizeInput(req.Title),
		Mode:           req.Mode,
		Amount:         req.Amount,
		ParticipantIDs: participants,
		StartDate:      req.StartDate,
		EndDate:        req.EndDate,
	}
}

type paymentRequest struct {
	Amount *core.Money `json:"amount"`
}

type themeRequest struct {
	ThemeKey string `json:"themeKey"`
}

// decodeJSON reads exactly one JSON object into dst. Unknown fields are
// rejected so typos do not silently become zero values.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return badRequest("request body too large", nil)
		case errors.Is(err, io.EOF):
			return badRequest("request body is empty", nil)
		case errors.Is(err, core.ErrInvalidAmount), errors.Is(err, core.ErrInvalidDate):
			return err
		default:
			return badRequest("malformed JSON body", err)
		}
	}
	if dec.More() {
		return badRequest("request body must contain a single JSON object", nil)
	}
	return nil
}

// readBody returns the raw body for imports.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, badRequest("request body too large", nil)
		}
		return nil, badRequest("read request body", err)
	}
	return body, nil
}

// parseFormat reads the format query parameter, falling back to the
// Content-Type of the request.
func parseFormat(r *http.Request) (transfer.Format, error) {
	v := r.URL.Query().Get("format")
	if v == "" {
		ct := strings.ToLower(r.Header.Get("Content-Type"))
		if strings.Contains(ct, "yaml") {
			v = string(transfer.FormatYAML)
		}
	}
	f, err := transfer.ParseFormat(v)
	if err != nil {
		return "", badRequest(fmt.Sprintf("unsupported format %q", v), nil)
	}
	return f, nil
}

func contentType(f transfer.Format) string {
	if f == transfer.FormatYAML {
		return "application/yaml"
	}
	return "application/json"
}

// sanitizeInput removes control characters except tab, newline and
// carriage return, and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}
