// Package wsgrader streams grading progress over a websocket: one Progress
// event per test case as it finishes, then the final Response. It exists for
// the in-browser editor, which shows a live per-test ticker while the REST
// endpoint blocks for the whole batch.
package wsgrader

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/masteryhub/grader/cmd/graderd/model"
	"github.com/masteryhub/grader/cmd/graderd/rest_grader"
	"github.com/masteryhub/grader/exercise"
	"github.com/masteryhub/grader/harness"
	"github.com/masteryhub/grader/worker"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second

	sendBuf = 128
)

type wsHandle struct {
	worker worker.Worker
	store  *exercise.Store
	logger *zap.Logger
}

// New creates the websocket grading handle
func New(worker worker.Worker, store *exercise.Store, logger *zap.Logger) restgrader.Register {
	return &wsHandle{worker: worker, store: store, logger: logger}
}

func (h *wsHandle) Register(r *gin.Engine) {
	r.GET("/grade/ws", h.handleWS)
}

// event is either a progress update or the terminal response.
type event struct {
	Progress *model.Progress `json:"progress,omitempty"`
	Response *model.Response `json:"response,omitempty"`
	Error    string          `json:"error,omitempty"`
}

func (h *wsHandle) handleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		c.Error(err)
		c.AbortWithStatusJSON(http.StatusBadRequest, err.Error())
		return
	}
	sendCh := make(chan event, sendBuf)
	clientIP := c.ClientIP()

	// read requests
	go func() {
		defer conn.Close()
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})

		ctx, cancel := context.WithCancel(context.TODO())
		defer cancel()

		for {
			req := new(model.Request)
			if err := conn.ReadJSON(req); err != nil {
				h.logger.Debug("ws read", zap.Error(err))
				return
			}
			r, err := model.ConvertRequest(req, h.store, clientIP)
			if err != nil {
				sendCh <- event{Error: err.Error()}
				continue
			}
			r.Observer = &wsObserver{requestID: r.RequestID, sendCh: sendCh}
			rtCh, err := h.worker.Submit(ctx, r)
			if err != nil {
				sendCh <- event{Error: err.Error()}
				continue
			}
			go func() {
				rt := <-rtCh
				resp := model.ConvertResponse(rt)
				sendCh <- event{Response: &resp}
			}()
		}
	}()

	// write results
	go func() {
		defer conn.Close()
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case ev := <-sendCh:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteJSON(ev); err != nil {
					h.logger.Debug("ws write", zap.Error(err))
					return
				}
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()
}

// wsObserver forwards per-test progress onto the send channel. Verdicts are
// redacted here as well: the aggregator's redaction happens after streaming.
type wsObserver struct {
	requestID string
	sendCh    chan<- event
}

func (o *wsObserver) StartTest(exerciseID, testCaseID string, index, total int) {
	o.send(event{Progress: &model.Progress{
		RequestID:  o.requestID,
		ExerciseID: exerciseID,
		TestCaseID: testCaseID,
		Index:      index,
		Total:      total,
	}})
}

func (o *wsObserver) TestDone(exerciseID string, v harness.TestVerdict) {
	if v.Hidden {
		v.ActualOutput = ""
		v.DiffSummary = ""
	}
	o.send(event{Progress: &model.Progress{
		RequestID:  o.requestID,
		ExerciseID: exerciseID,
		TestCaseID: v.TestCaseID,
		Verdict:    &v,
	}})
}

func (o *wsObserver) send(ev event) {
	// progress is advisory; drop rather than stall the grading slot
	select {
	case o.sendCh <- ev:
	default:
	}
}
