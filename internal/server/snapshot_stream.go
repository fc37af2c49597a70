package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/purchaseledger/internal/projection"
)

const (
	snapshotStreamBuffer = 16
	streamHeartbeat      = 15 * time.Second
)

// StreamSnapshots pushes the current snapshot and every later one as
// server-sent events. A client that falls behind skips to the newest
// snapshot.
func (s *Server) StreamSnapshots(c *gin.Context) {
	updates := make(chan *projection.Snapshot, snapshotStreamBuffer)
	cancel := s.ledger.Subscribe(func(snap *projection.Snapshot) {
		select {
		case updates <- snap:
		default:
			// Drop the oldest queued snapshot to make room.
			select {
			case <-updates:
			default:
			}
			select {
			case updates <- snap:
			default:
			}
		}
	})
	defer cancel()

	writer := c.Writer
	headers := writer.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	flusher, ok := writer.(http.Flusher)
	if !ok {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	if _, err := io.WriteString(writer, "retry: 2000\n\n"); err != nil {
		return
	}
	if err := writeSnapshotEvent(writer, s.ledger.Snapshot()); err != nil {
		return
	}
	flusher.Flush()

	ctx := c.Request.Context()
	heartbeat := time.NewTicker(streamHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-updates:
			if err := writeSnapshotEvent(writer, snap); err != nil {
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := io.WriteString(writer, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSnapshotEvent(w io.Writer, snap *projection.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: snapshot\ndata: %s\n\n", data)
	return err
}
