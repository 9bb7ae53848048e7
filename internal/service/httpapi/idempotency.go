package httpapi

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/vladislavdragonenkov/farmline/internal/domain"
)

// IdempotencyKeyHeader позволяет клиенту безопасно повторять мутации.
const IdempotencyKeyHeader = "Idempotency-Key"

const idempotencyTTL = 24 * time.Hour

// responseRecorder буферизует ответ, чтобы сохранить его для реплея.
type responseRecorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseRecorder) Write(p []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	r.body.Write(p)
	return r.ResponseWriter.Write(p)
}

// idempotencyMiddleware исполняет мутацию не более одного раза на ключ.
// Повтор с тем же ключом и телом возвращает сохранённый ответ; повтор с
// другим телом отклоняется, параллельный повтор получает 409.
func (h *Handler) idempotencyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.idempotency == nil {
			next.ServeHTTP(w, r)
			return
		}

		key := r.Header.Get(IdempotencyKeyHeader)
		if key == "" {
			// Ключ опционален: без него запрос обрабатывается напрямую.
			next.ServeHTTP(w, r)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			h.writeError(w, r, http.StatusBadRequest, errors.New("failed to read request body"))
			return
		}
		_ = r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))

		requestHash := hashRequest(r.Method, r.URL.Path, body)

		record, err := h.idempotency.CreateProcessing(key, requestHash, time.Now().UTC().Add(idempotencyTTL))
		if err != nil {
			h.replayOrReject(w, r, record, err)
			return
		}

		rec := &responseRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}

		markErr := error(nil)
		if status >= 200 && status < 300 {
			markErr = h.idempotency.MarkDone(key, rec.body.Bytes(), status)
		} else {
			markErr = h.idempotency.MarkFailed(key, rec.body.Bytes(), status)
		}
		if markErr != nil {
			h.logger.WithError(markErr).WithField("idempotency_key", key).Warn("failed to persist idempotency outcome")
		}
	})
}

func (h *Handler) replayOrReject(w http.ResponseWriter, r *http.Request, record domain.IdempotencyRecord, err error) {
	switch {
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		h.writeError(w, r, http.StatusUnprocessableEntity, errors.New("idempotency key was already used with a different request"))
	case errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists):
		switch record.Status {
		case domain.IdempotencyStatusDone, domain.IdempotencyStatusFailed:
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(record.HTTPStatus)
			_, _ = w.Write(record.ResponseBody)
		default:
			h.writeError(w, r, http.StatusConflict, errors.New("request with this idempotency key is still being processed"))
		}
	default:
		h.writeError(w, r, http.StatusInternalServerError, err)
	}
}

func hashRequest(method, path string, body []byte) string {
	sum := sha256.New()
	sum.Write([]byte(method))
	sum.Write([]byte{0})
	sum.Write([]byte(path))
	sum.Write([]byte{0})
	sum.Write(body)
	return hex.EncodeToString(sum.Sum(nil))
}
