package server

import (
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	usagedomain "github.com/fieldscope/fieldscope/internal/usage/domain"
	"github.com/gin-gonic/gin"
)

type resourceUsage struct {
	Resource string `json:"resource"`
	Used     int64  `json:"used"`
	Limit    int64  `json:"limit"` // -1 means unlimited
}

type usageResponse struct {
	UserID     string          `json:"user_id"`
	Tier       string          `json:"tier"`
	CycleStart time.Time       `json:"cycle_start"`
	CycleEnd   time.Time       `json:"cycle_end"`
	Resources  []resourceUsage `json:"resources"`
}

// GetUsage reports current-cycle consumption against the tier limits for
// every metered resource.
func (s *Server) GetUsage(c *gin.Context) {
	userID, err := snowflake.ParseString(c.Query("user_id"))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	ctx := c.Request.Context()
	planTier, err := s.tierSvc.ResolveTier(ctx, userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	window, err := s.usageSvc.CycleWindow(ctx, userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	quotas := s.quotas.Current()
	resources := []usagedomain.Resource{
		usagedomain.ResourceDataPoints,
		usagedomain.ResourceSatelliteAnalyses,
		usagedomain.ResourceReportExports,
	}

	resp := usageResponse{
		UserID:     userID.String(),
		Tier:       string(planTier),
		CycleStart: window.Start,
		CycleEnd:   window.End,
		Resources:  make([]resourceUsage, 0, len(resources)),
	}
	for _, resource := range resources {
		used, err := s.usageSvc.CurrentUsage(ctx, userID, resource)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		resp.Resources = append(resp.Resources, resourceUsage{
			Resource: string(resource),
			Used:     used,
			Limit:    quotas.Limit(string(planTier), string(resource)),
		})
	}

	c.JSON(http.StatusOK, resp)
}
