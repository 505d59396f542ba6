package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/MrEthical07/authkit"
	"github.com/MrEthical07/authkit/middleware"
)

const maxBodyBytes = 64 << 10

var errInternal = errors.New("internal error")

// validator is implemented by every request body.
type validator interface {
	validate() error
}

// decode reads a closed JSON body into dst and validates it. Unknown
// fields, trailing data and oversized bodies are rejected.
func decode(w http.ResponseWriter, r *http.Request, dst validator) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", authkit.ErrInvalidInput, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: trailing data after body", authkit.ErrInvalidInput)
	}
	return dst.validate()
}

func required(fields map[string]string) error {
	var missing []string
	for name, value := range fields {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return fmt.Errorf("%w: missing %s", authkit.ErrInvalidInput, strings.Join(missing, ", "))
}

func maxLen(name, value string, n int) error {
	if len(value) > n {
		return fmt.Errorf("%w: %s too long", authkit.ErrInvalidInput, name)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type problem struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeProblem(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]problem{"error": {Code: code, Message: message}})
}

// fail logs server-side failures before writing the mapped error.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	if status, _ := authkit.HTTPStatus(err); status >= http.StatusInternalServerError {
		s.log.Error("handler error", zap.String("path", r.URL.Path), zap.Error(err))
	}
	middleware.WriteError(w, err)
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", authkit.ErrInvalidInput, name)
	}
	return n, nil
}

func queryTime(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be RFC 3339", authkit.ErrInvalidInput, name)
	}
	return t, nil
}
