package restgrader

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/masteryhub/grader/cmd/graderd/model"
	"github.com/masteryhub/grader/exercise"
)

type exerciseHandle struct {
	store *exercise.Store
}

// NewExerciseHandle creates the exercise listing handle
func NewExerciseHandle(store *exercise.Store) Register {
	return &exerciseHandle{store: store}
}

func (e *exerciseHandle) Register(r *gin.Engine) {
	r.GET("/exercises", e.handleList)
	r.GET("/exercises/:id", e.handleGet)
}

func (e *exerciseHandle) handleList(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, e.store.IDs())
}

func (e *exerciseHandle) handleGet(ctx *gin.Context) {
	ex, ok := e.store.Get(ctx.Param("id"))
	if !ok {
		ctx.AbortWithStatusJSON(http.StatusNotFound, "unknown exercise")
		return
	}
	ctx.JSON(http.StatusOK, model.ConvertExercise(ex))
}
