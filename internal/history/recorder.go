package history

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"voiceboot/internal/logging"
	"voiceboot/internal/orchestrator"
)

// writeTimeout bounds each ledger write so a locked database cannot stall
// the orchestrator.
const writeTimeout = 2 * time.Second

// Recorder is an orchestrator.EventPublisher that writes state transitions
// into a session. Write failures are logged and dropped.
type Recorder struct {
	session *Session
	log     *zerolog.Logger
}

var _ orchestrator.EventPublisher = (*Recorder)(nil)

// NewRecorder returns a publisher bound to session.
func NewRecorder(session *Session, logger *zerolog.Logger) *Recorder {
	return &Recorder{session: session, log: logging.OrNop(logger)}
}

func (r *Recorder) Publish(e orchestrator.Event) {
	if e.Name != orchestrator.EventTransition {
		return
	}
	detail := ""
	if d, ok := e.Fields["detail"]; ok {
		detail = fmt.Sprint(d)
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := r.session.RecordTransition(ctx, string(e.State), e.At, detail); err != nil {
		r.log.Warn().Err(err).Str("state", string(e.State)).Msg("history write failed")
	}
}
