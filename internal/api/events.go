package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/heimdex/avatar-agent/internal/catalog"
	"github.com/heimdex/avatar-agent/internal/pipeline"
)

const (
	eventsWriteWait  = 10 * time.Second
	eventsPingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || isAllowedOrigin(origin)
	},
}

// eventsHandler streams a job's stage transitions over a websocket. The
// current job state is sent first so late subscribers start from a snapshot.
// The socket closes after a terminal event.
func eventsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Hub == nil {
			WriteError(w, http.StatusServiceUnavailable, "events not configured", "UNAVAILABLE")
			return
		}
		job := lookupJob(cfg, w, r)
		if job == nil {
			return
		}

		// subscribe before the snapshot so no transition falls in between
		events, unsubscribe := cfg.Hub.Subscribe(job.ID)
		defer unsubscribe()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			cfg.Logger.Warn("websocket upgrade failed", "error", err, "job_id", job.ID)
			return
		}
		defer conn.Close()

		// reader goroutine only notices the client going away
		gone := make(chan struct{})
		go func() {
			defer close(gone)
			for {
				if _, _, err := conn.NextReader(); err != nil {
					return
				}
			}
		}()

		if err := writeEvent(conn, snapshot(job)); err != nil || job.Terminal() {
			return
		}

		ping := time.NewTicker(eventsPingPeriod)
		defer ping.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-gone:
				return
			case ev := <-events:
				if err := writeEvent(conn, ev); err != nil {
					return
				}
				if ev.State.Terminal() {
					conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ev.Stage),
						time.Now().Add(eventsWriteWait))
					return
				}
			case <-ping.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(eventsWriteWait)); err != nil {
					return
				}
			}
		}
	}
}

func writeEvent(conn *websocket.Conn, ev catalog.JobEvent) error {
	conn.SetWriteDeadline(time.Now().Add(eventsWriteWait))
	return conn.WriteJSON(ev)
}

// snapshot renders the persisted job as an event.
func snapshot(job *catalog.Job) catalog.JobEvent {
	ev := pipeline.Event{
		RunID:    job.RunID,
		Stage:    job.Stage,
		Progress: job.Progress,
		At:       job.UpdatedAt,
	}
	switch job.Status {
	case catalog.JobStatusCompleted:
		ev.State, ev.Stage, ev.Progress = pipeline.StateDone, pipeline.StateDone.String(), 100
	case catalog.JobStatusFailed, catalog.JobStatusCancelled:
		ev.State = pipeline.StateFailed
		ev.Error, ev.Kind = job.Error, job.ErrorKind
	}
	return catalog.JobEvent{JobID: job.ID, Event: ev}
}
