package audit

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

type metaKey struct{}

// RequestMeta is the transport context folded into an entry's Detail.
type RequestMeta struct {
	RequestID string
	ClientIP  string
	UserAgent string
}

func WithRequestMeta(ctx context.Context, m RequestMeta) context.Context {
	return context.WithValue(ctx, metaKey{}, m)
}

func MetaFromContext(ctx context.Context) (RequestMeta, bool) {
	m, ok := ctx.Value(metaKey{}).(RequestMeta)
	return m, ok
}

// Recorder writes entries after the primary effect has committed. Record
// has no error result: a failed append is logged and dropped.
type Recorder struct {
	store   Store
	log     *slog.Logger
	nowFunc func() time.Time
}

func NewRecorder(store Store, log *slog.Logger) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	return &Recorder{store: store, log: log, nowFunc: time.Now}
}

func (r *Recorder) Record(ctx context.Context, e Entry) {
	if r == nil || r.store == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = r.nowFunc().UTC()
	}
	if m, ok := MetaFromContext(ctx); ok {
		e.Detail = joinDetail(e.Detail, m)
	}
	if err := r.store.Append(ctx, e); err != nil {
		r.log.ErrorContext(ctx, "audit write failed",
			"account_id", e.AccountID,
			"action", e.Action,
			"error", err,
		)
	}
}

func joinDetail(detail string, m RequestMeta) string {
	parts := []string{
		"rid=" + m.RequestID,
		"ip=" + m.ClientIP,
		"ua=" + strings.TrimSpace(m.UserAgent),
	}
	if strings.TrimSpace(detail) != "" {
		parts = append(parts, "detail="+strings.TrimSpace(detail))
	}
	return strings.Join(parts, " | ")
}
