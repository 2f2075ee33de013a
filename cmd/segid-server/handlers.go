package main

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Lzww0608/segid/drs"
	"github.com/Lzww0608/segid/errs"
	"github.com/Lzww0608/segid/registry"
)

const (
	defaultInitialID = 1
	defaultStep      = 10000
)

type handlers struct {
	drs      *drs.Client
	registry *registry.Registry
	log      *zap.Logger
}

type createTagReq struct {
	BizTag    string `json:"biz_tag" binding:"required"`
	InitialID *int64 `json:"initial_id"`
	Step      *int64 `json:"step"`
}

func (h *handlers) createTag(c *gin.Context) {
	var req createTagReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

	initialID := int64(defaultInitialID)
	if req.InitialID != nil {
		initialID = *req.InitialID
	}
	step := int64(defaultStep)
	if req.Step != nil {
		step = *req.Step
	}
	if step <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "step must be positive"})
		return
	}

	if err := h.drs.Create(c.Request.Context(), req.BizTag, initialID, step); err != nil {
		status, msg := statusFor(err)
		c.JSON(status, gin.H{"success": false, "message": msg})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "created"})
}

func (h *handlers) getOneID(c *gin.Context) {
	tag := c.Param("tag")

	buf, err := h.registry.GetOrCreate(c.Request.Context(), tag)
	if err != nil {
		status, msg := statusFor(err)
		c.JSON(status, gin.H{"message": msg})
		return
	}

	ids, err := buf.Take(c.Request.Context(), 1)
	if err != nil {
		status, msg := statusFor(err)
		c.JSON(status, gin.H{"message": msg})
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": ids[0]})
}

func (h *handlers) batchGetIDs(c *gin.Context) {
	tag := c.Param("tag")

	count := 1
	if raw := c.Query("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"message": "count must be a positive integer"})
			return
		}
		count = n
	}

	buf, err := h.registry.GetOrCreate(c.Request.Context(), tag)
	if err != nil {
		status, msg := statusFor(err)
		c.JSON(status, gin.H{"message": msg})
		return
	}

	ids, err := buf.Take(c.Request.Context(), count)
	if err != nil {
		status, msg := statusFor(err)
		c.JSON(status, gin.H{"message": msg})
		return
	}

	c.JSON(http.StatusOK, gin.H{"ids": ids})
}

// statusFor maps the core's sentinel error taxonomy onto HTTP status codes.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, errs.ErrUnknownTag):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, errs.ErrAlreadyExists):
		return http.StatusConflict, err.Error()
	case errors.Is(err, errs.ErrExhausted):
		return http.StatusGone, err.Error()
	case errors.Is(err, errs.ErrTransient):
		return http.StatusServiceUnavailable, err.Error()
	case errors.Is(err, errs.ErrInternal):
		return http.StatusInternalServerError, err.Error()
	default:
		return http.StatusInternalServerError, err.Error()
	}
}
