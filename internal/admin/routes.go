package admin

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/danmuck/rbmirror/internal/applier"
	"github.com/danmuck/rbmirror/internal/events"
	"github.com/danmuck/rbmirror/internal/mirror"
	"github.com/danmuck/rbmirror/internal/protocol/renderbatch"
	"github.com/danmuck/rbmirror/internal/protocol/session"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// maxBodyBytes caps POST bodies read into memory.
const maxBodyBytes = 16 << 20

// OutboundInfo summarizes one queued outbound frame.
type OutboundInfo struct {
	Seq      uint64    `json:"seq"`
	Kind     string    `json:"kind"`
	EventID  uint64    `json:"event_id,omitempty"`
	BatchID  uint64    `json:"batch_id,omitempty"`
	Error    string    `json:"error,omitempty"`
	Bytes    int       `json:"bytes"`
	QueuedAt time.Time `json:"queued_at"`
}

// BatchResponse reports a batch submitted over HTTP.
type BatchResponse struct {
	BatchID            uint64 `json:"batch_id"`
	Outcome            string `json:"outcome"`
	Edits              int    `json:"edits"`
	NodesCreated       int    `json:"nodes_created"`
	NodesDiscarded     int    `json:"nodes_discarded"`
	ComponentsDisposed int    `json:"components_disposed"`
	EventsRetired      int    `json:"events_retired"`
	Duration           string `json:"duration"`
	Error              string `json:"error,omitempty"`
}

func (s *Server) registerRoutes() {
	r := s.router
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.Appeared).String(),
			"mirror":  s.Name,
			"session": s.session.ID(),
			"version": version,
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/ready", func(c *gin.Context) {
		st := s.session.Status()
		ready := !st.Closed && !st.Desynchronized
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":   ready,
			"uptime":  time.Since(s.Appeared).String(),
			"mirror":  s.Name,
			"version": version,
		})
	})

	r.GET("/session", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.session.Status())
	})

	r.GET("/tree", s.getTree)
	r.GET("/tree/digest", func(c *gin.Context) {
		snap, err := s.session.Snapshot()
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"digest": snap.Digest()})
	})

	r.GET("/elements/:id", func(c *gin.Context) {
		node, err := s.session.FindElementByID(c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, node)
	})

	r.GET("/elements/:id/events/:name", func(c *gin.Context) {
		d, err := s.session.Resolve(c.Param("id"), c.Param("name"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"event_name": d.EventName(), "event_id": d.EventID()})
	})

	guarded := r.Group("/", s.requireToken())
	guarded.POST("/elements/:id/events/:name", func(c *gin.Context) {
		args, err := readBody(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		call, err := s.session.Dispatch(c.Param("id"), c.Param("name"), args)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{
			"status":     "queued",
			"event_id":   call.TargetEventID,
			"event_name": call.EventName,
			"args_bytes": len(call.ArgsPayload),
		})
	})

	guarded.POST("/batches", s.postBatch)

	guarded.POST("/resync", func(c *gin.Context) {
		if err := s.session.Resync(); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/outbox", func(c *gin.Context) {
		items := s.session.Outbox().List()
		out := make([]OutboundInfo, 0, len(items))
		for _, item := range items {
			out = append(out, OutboundInfo{
				Seq:      item.Seq,
				Kind:     item.Kind(),
				EventID:  item.EventID,
				BatchID:  item.BatchID,
				Error:    item.Error,
				Bytes:    len(item.Frame),
				QueuedAt: item.QueuedAt,
			})
		}
		c.JSON(http.StatusOK, gin.H{"outbox": out})
	})
}

func (s *Server) getTree(c *gin.Context) {
	snap, err := s.session.Snapshot()
	if err != nil {
		writeError(c, err)
		return
	}
	if c.Query("format") == "cbor" {
		raw, err := snap.CBOR()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Data(http.StatusOK, "application/cbor", raw)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// postBatch applies a raw render batch payload synchronously.
func (s *Server) postBatch(c *gin.Context) {
	payload, err := readBody(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	report, err := s.session.ApplyPayload(payload)
	resp := BatchResponse{
		BatchID:            report.BatchID,
		Outcome:            string(report.Outcome),
		Edits:              report.Result.Edits,
		NodesCreated:       report.Result.NodesCreated,
		NodesDiscarded:     report.Result.NodesDiscarded,
		ComponentsDisposed: report.Result.ComponentsDisposed,
		EventsRetired:      report.Result.EventsRetired,
		Duration:           report.Duration.String(),
	}
	if err != nil {
		resp.Error = err.Error()
		c.JSON(statusFor(err), resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func readBody(c *gin.Context) ([]byte, error) {
	return io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
}

func writeError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

// statusFor maps session errors to HTTP codes. Batch failures are checked
// before lookups because an ApplyError can wrap a not-found warning.
func statusFor(err error) int {
	switch {
	case errors.Is(err, renderbatch.ErrMalformedBatch):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrClosed):
		return http.StatusGone
	case errors.Is(err, session.ErrBatchOutOfOrder), errors.Is(err, session.ErrDesynchronized):
		return http.StatusConflict
	case errors.Is(err, applier.ErrApplyFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, mirror.ErrNotFound), errors.Is(err, events.ErrUnknownEvent):
		return http.StatusNotFound
	case errors.Is(err, events.ErrRetiredEvent):
		return http.StatusGone
	case errors.Is(err, session.ErrOutboxFull), errors.Is(err, session.ErrInboxFull):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
