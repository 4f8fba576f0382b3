// Package api is the thin HTTP boundary: submit a change
// request, read back its FSM status, and a health check. It is deliberately
// narrow — the pipeline's real work happens on the event bus, not here.
//
// Grounded on cmd/tarsy/main.go's gin.Default()/gin.H{} idiom: a plain
// *gin.Engine, JSON handlers returning gin.H maps, and a /health endpoint
// that pings the database before answering. tarsy wires its router directly
// in main(); this repo keeps the router construction in its own package so
// cmd/orchestratord/main.go only has to call api.New(...).Run(addr).
package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/aibozo/codeurv2/pkg/bus"
	"github.com/aibozo/codeurv2/pkg/models"
	"github.com/aibozo/codeurv2/pkg/orchestrator"
)

// Store is the narrow persistence surface the API needs for change
// requests, implemented by pkg/api's own Postgres-backed Repository.
type Store interface {
	Create(ctx context.Context, cr models.ChangeRequest) error
	Get(ctx context.Context, id string) (models.ChangeRequest, error)
}

// FSMReader is the narrow read surface onto the orchestrator's persisted
// FSM snapshots, satisfied by *orchestrator.Store.
type FSMReader interface {
	Load(ctx context.Context, requestID string) (models.FSMState, error)
}

// Server wires gin to the change-request store, the FSM reader, and the
// event bus.
type Server struct {
	engine *gin.Engine
	store  Store
	fsms   FSMReader
	bus    bus.Bus
	db     *sql.DB
}

// New constructs a Server and registers its routes.
func New(store Store, fsms FSMReader, b bus.Bus, db *sql.DB) *Server {
	s := &Server{
		engine: gin.Default(),
		store:  store,
		fsms:   fsms,
		bus:    b,
		db:     db,
	}
	s.routes()
	return s
}

// Engine exposes the underlying *gin.Engine, e.g. for httptest servers.
func (s *Server) Engine() *gin.Engine { return s.engine }

// Run starts the HTTP listener; it blocks until the server stops or errors.
func (s *Server) Run(addr string) error {
	return s.engine.Run(addr)
}

func (s *Server) routes() {
	s.engine.GET("/health", s.handleHealth)
	s.engine.POST("/change-requests", s.handleCreateChangeRequest)
	s.engine.GET("/change-requests/:id", s.handleGetChangeRequest)
}

func (s *Server) handleHealth(c *gin.Context) {
	reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := s.db.PingContext(reqCtx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"services": gin.H{
			"database": "ready",
			"bus":      "ready",
		},
	})
}

func (s *Server) handleCreateChangeRequest(c *gin.Context) {
	var input models.CreateChangeRequestInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": validationMessage(err)})
		return
	}

	cr := models.ChangeRequest{
		ID:          uuid.NewString(),
		Requester:   input.Requester,
		Repo:        input.Repo,
		Branch:      input.Branch,
		Description: input.Description,
	}

	if err := s.store.Create(c.Request.Context(), cr); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to persist change request"})
		return
	}

	payload, err := json.Marshal(cr)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to encode change request"})
		return
	}
	if err := s.bus.Publish(c.Request.Context(), orchestrator.TopicChangeRequestIn, cr.ID, payload); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to publish change request"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"id": cr.ID})
}

func (s *Server) handleGetChangeRequest(c *gin.Context) {
	id := c.Param("id")

	cr, err := s.store.Get(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "change request not found"})
		return
	}

	resp := gin.H{"change_request": cr}

	snap, err := s.fsms.Load(c.Request.Context(), id)
	if err == nil {
		resp["fsm"] = snap
	} else {
		resp["fsm"] = gin.H{"state": models.StateIdle, "pending_task_ids": []string{}}
	}

	c.JSON(http.StatusOK, resp)
}

// validationMessage renders validator.ValidationErrors into a single
// human-readable string; any other bind error (malformed JSON) is passed
// through verbatim.
func validationMessage(err error) string {
	if verrs, ok := err.(validator.ValidationErrors); ok {
		if len(verrs) > 0 {
			return verrs[0].Field() + " " + verrs[0].Tag()
		}
	}
	return err.Error()
}
