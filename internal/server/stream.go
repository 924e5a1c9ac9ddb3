package server

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/roach88/scribe/internal/engine"
	"github.com/roach88/scribe/internal/event"
)

// Replay page size. Bounded so a session resuming from far back never loads
// the whole backlog into memory.
const replayPageSize = 500

// retryMillis is the SSE retry directive: how long clients wait before
// reconnecting after a drop.
const retryMillis = 3000

// handleStream serves GET /v1/stream: replay then live over SSE.
//
// Session protocol, in order:
//
//  1. Subscribe to the bus BEFORE reading the replay pages, so no event can
//     fall between replay and live.
//  2. With an explicit positive resume position, page stored events with
//     seq > resume, tracking the replay high-water. An absent or zero
//     position means live only: the high-water is simply the current
//     sequence and nothing is replayed.
//  3. Emit a replay.complete marker.
//  4. Live loop over the subscription, skipping seq <= high-water
//     (those were already sent during replay).
//
// The Last-Event-ID header takes precedence over the resume_from query
// parameter. A resume position below the pruned watermark or ahead of the
// current sequence is an explicit problem response, never a silent skip.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, r, http.StatusInternalServerError, "",
			"Internal Server Error", "streaming unsupported")
		return
	}

	resume, replay, err := resumePosition(r)
	if err != nil {
		writeBadRequest(w, r, "", err.Error())
		return
	}
	jobID := r.URL.Query().Get("job_id")

	ctx := r.Context()
	if replay {
		watermark, err := s.store.PrunedWatermark(ctx)
		if err != nil {
			s.writeInternal(w, r, err)
			return
		}
		if resume < watermark {
			writeConflict(w, r, string(engine.ErrCodeResumeTooOld),
				fmt.Sprintf("resume position %d is below the retention watermark %d; a complete replay is impossible", resume, watermark))
			return
		}
		current, err := s.store.CurrentSequence(ctx)
		if err != nil {
			s.writeInternal(w, r, err)
			return
		}
		if resume > current {
			writeBadRequest(w, r, string(engine.ErrCodeResumeAhead),
				fmt.Sprintf("resume position %d is ahead of the current sequence %d", resume, current))
			return
		}
	}

	// Subscribe before replay: anything committed from here on is either in
	// a replay page or waiting in the subscription buffer.
	sub := s.bus.Subscribe(s.streamBuffer)
	defer s.bus.Unsubscribe(sub)
	if s.collect != nil {
		s.collect.SetStreamSubscribers(s.bus.SubscriberCount())
		defer func() { s.collect.SetStreamSubscribers(s.bus.SubscriberCount()) }()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "retry: %d\n\n", retryMillis)
	flusher.Flush()

	highWater := resume
	if replay {
		for {
			page, err := s.store.ReadEventsSince(ctx, highWater, jobID, replayPageSize)
			if err != nil {
				s.logger.Error("stream replay failed", "error", err)
				return
			}
			for _, ev := range page {
				if err := writeSSE(w, ev); err != nil {
					return
				}
				highWater = ev.Seq
			}
			flusher.Flush()
			if len(page) < replayPageSize {
				break
			}
		}
	} else {
		// Live only. Reading the current sequence after subscribing means
		// anything already buffered counts as history and gets skipped.
		current, err := s.store.CurrentSequence(ctx)
		if err != nil {
			s.logger.Error("stream start failed", "error", err)
			return
		}
		highWater = current
	}

	// Marker carries no id: it is not a log event and must not move the
	// client's Last-Event-ID.
	fmt.Fprintf(w, "event: replay.complete\ndata: {\"high_water\":%d}\n\n", highWater)
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, open := <-sub.Events():
			if !open {
				// Buffer overflowed: the bus dropped us. The client
				// reconnects and replays from its last id.
				s.logger.Warn("stream subscriber lagged, closing session")
				return
			}
			if ev.Seq <= highWater {
				continue // already sent during replay
			}
			if jobID != "" && ev.JobID != jobID {
				continue
			}
			if err := writeSSE(w, ev); err != nil {
				return
			}
			highWater = ev.Seq
			flusher.Flush()
		}
	}
}

// resumePosition extracts the resume sequence: Last-Event-ID header first,
// then the resume_from query parameter. replay is false when no position was
// given or the position is zero; either way the session starts live only.
func resumePosition(r *http.Request) (seq int64, replay bool, err error) {
	if header := r.Header.Get("Last-Event-ID"); header != "" {
		seq, err := strconv.ParseInt(header, 10, 64)
		if err != nil || seq < 0 {
			return 0, false, fmt.Errorf("invalid Last-Event-ID %q", header)
		}
		return seq, seq > 0, nil
	}
	if param := r.URL.Query().Get("resume_from"); param != "" {
		seq, err := strconv.ParseInt(param, 10, 64)
		if err != nil || seq < 0 {
			return 0, false, fmt.Errorf("invalid resume_from %q", param)
		}
		return seq, seq > 0, nil
	}
	return 0, false, nil
}

// writeSSE frames one event: event type, sequence as the SSE id, full
// envelope as data.
func writeSSE(w http.ResponseWriter, ev event.Event) error {
	data, err := ev.EncodeJSON()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\nid: %d\ndata: %s\n\n", ev.Type, ev.Seq, data)
	return err
}
