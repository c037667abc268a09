// Package handlers holds the gin HTTP and websocket handlers.
package handlers

import (
	"fmt"
	"log"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/srgchrksv/newscaster/costs"
	"github.com/srgchrksv/newscaster/storage"
	"github.com/srgchrksv/newscaster/tasks"
	"github.com/srgchrksv/newscaster/tts"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// streamDelay paces script segments during websocket playback.
var streamDelay = 3 * time.Second

type Handler struct {
	Store    *storage.Store
	Costs    *costs.Tracker
	Queue    *tasks.Queue
	Synth    *tts.Synthesizer
	AudioDir string
}

func New(store *storage.Store, tracker *costs.Tracker, queue *tasks.Queue, synth *tts.Synthesizer, audioDir string) *Handler {
	return &Handler{Store: store, Costs: tracker, Queue: queue, Synth: synth, AudioDir: audioDir}
}

// sessionID reads the cookie session, creating an ID on first visit.
func sessionID(c *gin.Context) string {
	session := sessions.Default(c)
	if session.Get("sessionID") == nil {
		session.Set("sessionID", uuid.New().String())
		session.Save()
	}
	return session.Get("sessionID").(string)
}

// Index hands the client its session ID.
func (h *Handler) Index(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Newscaster ready", "session_id": sessionID(c)})
}

type chatRequest struct {
	Message string `json:"message" binding:"required"`
}

// Chat runs one agent turn through the task queue and returns the updated
// session state. A second message while a turn is running gets the current
// state back with is_processing set.
func (h *Handler) Chat(c *gin.Context) {
	id := sessionID(c)

	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}

	if h.Queue.Busy(id) {
		c.JSON(http.StatusOK, h.turnResult(id, "Still working on your previous message, one moment.", true))
		return
	}

	result := <-h.Queue.Dispatch(id, req.Message)
	if result.Err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": result.Err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.turnResult(id, result.Response, false))
}

func (h *Handler) turnResult(id, response string, processing bool) gin.H {
	out := gin.H{
		"session_id":    id,
		"response":      response,
		"is_processing": processing,
	}
	if state, err := h.Store.GetState(id); err == nil {
		out["stage"] = state.Stage
		out["session_state"] = string(state.Marshal())
	}
	return out
}

// Sessions lists the stored session IDs.
func (h *Handler) Sessions(c *gin.Context) {
	ids, err := h.Store.ListSessions()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": ids})
}

// Session returns one session's full state.
func (h *Handler) Session(c *gin.Context) {
	state, err := h.Store.GetState(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, state)
}

// DeleteSession drops a stored session.
func (h *Handler) DeleteSession(c *gin.Context) {
	if err := h.Store.DeleteSession(c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Session deleted"})
}

// Costs reports aggregated API spend, filterable by time range, model and
// call context.
func (h *Handler) CostsSummary(c *gin.Context) {
	var f costs.Filter
	if v := c.Query("start"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			f.Start = time.Unix(n, 0)
		}
	}
	if v := c.Query("end"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			f.End = time.Unix(n, 0)
		}
	}
	f.Model = c.Query("model")
	f.Context = c.Query("context")

	summary, err := h.Costs.Summarize(f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, summary)
}

// Audio serves a generated podcast file by name.
func (h *Handler) Audio(c *gin.Context) {
	name := filepath.Base(c.Param("name"))
	if name == "." || name == "/" || filepath.Ext(name) != ".wav" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid file name"})
		return
	}
	c.File(filepath.Join(h.AudioDir, name))
}

// Stream replays the session's generated script over a websocket. Each
// segment goes out as a text frame followed by a binary frame with its
// synthesized audio clip. A comment pushed via Interact is echoed as a text
// frame and stops playback at the current segment.
func (h *Handler) Stream(c *gin.Context) {
	id := sessionID(c)
	state, err := h.Store.GetState(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if state.GeneratedScript == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no script generated yet"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Println("handlers: upgrade error:", err)
		return
	}
	defer conn.Close()

	live := h.Store.RegisterLive(id)
	defer h.Store.UnregisterLive(id)

	ctx := c.Request.Context()
	for _, entry := range state.GeneratedScript.Entries() {
		select {
		case prompt := <-live.InteractionPrompt:
			if err := conn.WriteMessage(websocket.TextMessage, prompt); err != nil {
				log.Println("handlers: write error:", err)
			}
			return
		default:
		}
		frame := fmt.Sprintf("%s: %s\n", entry.Speaker, entry.Text)
		if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			log.Println("handlers: write error:", err)
			return
		}
		if h.Synth != nil {
			clip, err := h.Synth.SynthesizeSegment(ctx, entry, "")
			if err != nil {
				log.Println("handlers: segment synthesis error:", err)
			} else if err := conn.WriteMessage(websocket.BinaryMessage, clip); err != nil {
				log.Println("handlers: write error:", err)
				return
			}
		}
		time.Sleep(streamDelay)
	}
}

// Interact pushes a user comment into a live stream, if one is running.
func (h *Handler) Interact(c *gin.Context) {
	id := sessionID(c)
	live, ok := h.Store.Live(id)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no live stream for this session"})
		return
	}

	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}

	select {
	case live.InteractionPrompt <- []byte(fmt.Sprintf("USER INTERACTION: %s\n", req.Message)):
		c.JSON(http.StatusOK, gin.H{"message": "Interaction delivered"})
	default:
		c.JSON(http.StatusConflict, gin.H{"error": "stream is busy, try again"})
	}
}
