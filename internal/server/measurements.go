package server

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	measurementdomain "github.com/fieldscope/fieldscope/internal/measurement/domain"
	"github.com/gin-gonic/gin"
)

func (s *Server) CreateMeasurement(c *gin.Context) {
	var req measurementdomain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	m, err := s.measurementSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, m)
}

func (s *Server) GetMeasurementByID(c *gin.Context) {
	id, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	m, err := s.measurementSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, m)
}

func (s *Server) ListMeasurements(c *gin.Context) {
	var req measurementdomain.ListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.measurementSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

type reviewRequest struct {
	Approve    bool   `json:"approve"`
	ReviewerID string `json:"reviewer_id"`
}

func (s *Server) ReviewMeasurement(c *gin.Context) {
	var req reviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	m, err := s.measurementSvc.Review(c.Request.Context(), measurementdomain.ReviewRequest{
		MeasurementID: c.Param("id"),
		Approve:       req.Approve,
		ReviewerID:    req.ReviewerID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, m)
}

func (s *Server) ResetMeasurementReview(c *gin.Context) {
	id, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	m, err := s.measurementSvc.ResetReview(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, m)
}
