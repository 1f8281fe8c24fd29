package restgrader

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/masteryhub/grader/cmd/graderd/model"
	"github.com/masteryhub/grader/exercise"
	"github.com/masteryhub/grader/worker"
)

type gradeHandle struct {
	worker worker.Worker
	store  *exercise.Store
	logger *zap.Logger
}

// NewGradeHandle creates the synchronous grading handle
func NewGradeHandle(worker worker.Worker, store *exercise.Store, logger *zap.Logger) Register {
	return &gradeHandle{
		worker: worker,
		store:  store,
		logger: logger,
	}
}

func (g *gradeHandle) Register(r *gin.Engine) {
	r.POST("/grade", g.handleGrade)
}

func (g *gradeHandle) handleGrade(ctx *gin.Context) {
	var req model.Request
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.Error(err)
		ctx.AbortWithStatusJSON(http.StatusBadRequest, err.Error())
		return
	}

	r, err := model.ConvertRequest(&req, g.store, ctx.ClientIP())
	if err != nil {
		ctx.Error(err)
		ctx.AbortWithStatusJSON(http.StatusBadRequest, err.Error())
		return
	}
	g.logger.Sugar().Debugf("request: %+v", req)

	rtCh, err := g.worker.Submit(ctx.Request.Context(), r)
	if err != nil {
		ctx.Error(err)
		switch {
		case errors.Is(err, worker.ErrQueueFull), errors.Is(err, worker.ErrCallerBusy):
			ctx.Header("Retry-After", "1")
			ctx.AbortWithStatusJSON(http.StatusTooManyRequests, err.Error())
		default:
			ctx.AbortWithStatusJSON(http.StatusServiceUnavailable, err.Error())
		}
		return
	}
	rt := <-rtCh
	g.logger.Sugar().Debugf("response: %+v", rt)

	// encode json directly to avoid allocation
	ctx.Status(http.StatusOK)
	ctx.Header("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(ctx.Writer).Encode(model.ConvertResponse(rt)); err != nil {
		ctx.Error(err)
	}
}
