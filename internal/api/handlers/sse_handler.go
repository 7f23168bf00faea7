package handlers

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/gin-gonic/gin"
	"github.com/streamvigil/vigil/internal/jobs"
	"github.com/streamvigil/vigil/internal/utils"
)

type SSEHandler struct {
	tracker *jobs.Tracker
}

func NewSSEHandler(tracker *jobs.Tracker) *SSEHandler {
	return &SSEHandler{tracker: tracker}
}

// JobProgress streams a job's snapshots as server-sent events until the job
// reaches a terminal state or the client disconnects.
func (h *SSEHandler) JobProgress(c *gin.Context) {
	const op = "SSEHandler.JobProgress"

	jobID := c.Query("job_id")
	if jobID == "" {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "job_id is required", nil))
		return
	}

	ch, ok := h.tracker.Subscribe(jobID)
	if !ok {
		writeError(c, utils.E(utils.CodeNotFound, op, "unknown job", nil))
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	clientGone := c.Request.Context().Done()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-clientGone:
			return false
		case st, open := <-ch:
			if !open {
				return false
			}
			payload, err := json.Marshal(st)
			if err != nil {
				return false
			}
			event := "progress"
			if st.Done() && st.Error == "" {
				event = "completed"
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
			return !st.Done()
		}
	})
}
