package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/uavledger/internal/chain"
	"github.com/jmerrifield20/uavledger/internal/checkpoint"
	"github.com/jmerrifield20/uavledger/internal/chunk"
	"github.com/jmerrifield20/uavledger/internal/storage"
	"github.com/jmerrifield20/uavledger/internal/verify"
	"go.uber.org/zap"
)

// FlightHandler serves checkpoint runs, verification and flight listings.
type FlightHandler struct {
	emitter  *checkpoint.Emitter
	verifier *verify.Verifier
	store    storage.Store
	layout   storage.Layout
	logger   *zap.Logger
}

// NewFlightHandler creates a new FlightHandler.
func NewFlightHandler(emitter *checkpoint.Emitter, verifier *verify.Verifier, store storage.Store, layout storage.Layout, logger *zap.Logger) *FlightHandler {
	return &FlightHandler{
		emitter:  emitter,
		verifier: verifier,
		store:    store,
		layout:   layout,
		logger:   logger,
	}
}

// Register mounts the flight routes on the given router group.
func (h *FlightHandler) Register(rg *gin.RouterGroup) {
	f := rg.Group("/flights")
	{
		f.GET("", h.List)
		f.POST("/:flight_id/checkpoints", h.Emit)
		f.GET("/:flight_id/versions", h.Versions)
		f.GET("/:flight_id/verify", h.Verify)
	}
}

// Emit handles POST /flights/:flight_id/checkpoints?chunks=N: the request
// body is the raw flight log. Optional start_seq and prior_tip resume an
// interrupted run.
func (h *FlightHandler) Emit(c *gin.Context) {
	flightID := c.Param("flight_id")

	chunks, err := strconv.Atoi(c.Query("chunks"))
	if err != nil || chunks < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "chunks must be a positive integer"})
		return
	}

	req := checkpoint.RunRequest{FlightID: flightID, Chunks: chunks}
	if s := c.Query("start_seq"); s != "" {
		req.StartSeq, err = strconv.Atoi(s)
		if err != nil || req.StartSeq < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "start_seq must be a positive integer"})
			return
		}
	}
	if s := c.Query("prior_tip"); s != "" {
		req.PriorTip, err = chain.ParseHex(s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "flight log exceeds the request size limit"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}
	req.Source = chunk.NewLineSource(data)

	results, err := h.emitter.Run(c.Request.Context(), req)
	if err != nil {
		var runErr *checkpoint.RunError
		if !errors.As(err, &runErr) {
			respondError(c, h.logger, "checkpoint run failed", err)
			return
		}
		status := statusFor(err)
		// Storage and anchor failures are logged by the emitter with their seq.
		loggedByRun := runErr.Component == checkpoint.ComponentStorage || runErr.Component == checkpoint.ComponentAnchor
		if status == http.StatusInternalServerError && !loggedByRun {
			h.logger.Error("checkpoint run failed", zap.String("flight_id", flightID), zap.Error(err))
		}
		c.JSON(status, gin.H{
			"error":       runErr.Err.Error(),
			"flight_id":   runErr.FlightID,
			"last_seq":    runErr.LastSeq,
			"component":   runErr.Component,
			"checkpoints": results,
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"flight_id":   flightID,
		"records":     req.Source.Total(),
		"checkpoints": results,
	})
}

// List handles GET /flights: returns the ids of all flights with a stored log.
func (h *FlightHandler) List(c *gin.Context) {
	flights, err := storage.ListFlights(c.Request.Context(), h.store, h.layout)
	if err != nil {
		respondError(c, h.logger, "failed to list flights", err)
		return
	}
	if flights == nil {
		flights = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"bucket": h.store.Bucket(), "flights": flights})
}

// Versions handles GET /flights/:flight_id/versions: lists stored versions
// of the flight's log, newest first.
func (h *FlightHandler) Versions(c *gin.Context) {
	flightID := c.Param("flight_id")
	key, err := h.layout.FlightKey(flightID)
	if err != nil {
		respondError(c, h.logger, "invalid flight id", err)
		return
	}

	versions, err := h.store.ListVersions(c.Request.Context(), key)
	if err != nil {
		respondError(c, h.logger, "failed to list versions", err)
		return
	}
	if len(versions) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "flight log not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"flight_id": flightID,
		"s3_key":    key,
		"versions":  versions,
	})
}

// Verify handles GET /flights/:flight_id/verify?tip=0x..: the tip is
// optional; without it the anchored tip is checked against storage.
func (h *FlightHandler) Verify(c *gin.Context) {
	var expected chain.Digest
	if s := c.Query("tip"); s != "" {
		var err error
		expected, err = chain.ParseHex(s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	res, err := h.verifier.Verify(c.Request.Context(), c.Param("flight_id"), expected)
	if err != nil {
		respondError(c, h.logger, "verification failed", err)
		return
	}
	c.JSON(http.StatusOK, res)
}
