package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/fieldscope/fieldscope/internal/config"
	imagerydomain "github.com/fieldscope/fieldscope/internal/imagery/domain"
	obsmetrics "github.com/fieldscope/fieldscope/internal/observability/metrics"
	"github.com/fieldscope/fieldscope/pkg/repository"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// bboxDelta is the half-extent in degrees of the sampled tile.
const bboxDelta = 0.001

type ClientParam struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Config config.Config
	GenID  *snowflake.Node
	Tokens imagerydomain.TokenSource
	HTTP   *http.Client
}

// Client fetches spectral-index aggregates from the imagery-processing
// endpoint and caches decoded results by (location, date, index, tile).
type Client struct {
	cfg        config.ImageryConfig
	log        *zap.Logger
	genID      *snowflake.Node
	tokens     imagerydomain.TokenSource
	httpClient *http.Client
	results    *gocache.Cache
	auditrepo  repository.Repository[imagerydomain.ApiCallRecord]
}

func NewClient(p ClientParam) imagerydomain.Client {
	cfg := p.Config.Imagery
	return &Client{
		cfg:        cfg,
		log:        p.Log.Named("imagery.client"),
		genID:      p.GenID,
		tokens:     p.Tokens,
		httpClient: p.HTTP,
		results:    gocache.New(cfg.ResultTTL, 10*time.Minute),
		auditrepo:  repository.ProvideStore[imagerydomain.ApiCallRecord](p.DB),
	}
}

func (c *Client) FetchIndex(ctx context.Context, req imagerydomain.FetchRequest) (*imagerydomain.IndexResult, error) {
	script, ok := evalscripts[req.Index]
	if !ok {
		return nil, &imagerydomain.FetchError{Index: req.Index, Err: imagerydomain.ErrInvalidIndex}
	}
	if req.TileWidth <= 0 {
		req.TileWidth = c.cfg.TileWidth
	}
	if req.TileHeight <= 0 {
		req.TileHeight = c.cfg.TileHeight
	}

	key := cacheKey(req)
	if cached, found := c.results.Get(key); found {
		result := cached.(imagerydomain.IndexResult)
		obsmetrics.Pipeline().IncCacheHit()
		obsmetrics.Pipeline().IncIndexFetch(string(req.Index), "cached")
		c.audit(ctx, req, true, 0, nil)
		return &result, nil
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		// Token failure is fatal to the whole batch, not one index.
		return nil, err
	}

	payload, err := json.Marshal(buildProcessRequest(req, script))
	if err != nil {
		return nil, &imagerydomain.FetchError{Index: req.Index, Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.ProcessURL, bytes.NewReader(payload))
	if err != nil {
		return nil, &imagerydomain.FetchError{Index: req.Index, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "image/png")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	latency := time.Since(start)
	obsmetrics.Pipeline().ObserveFetchDuration(string(req.Index), latency)
	if err != nil {
		obsmetrics.Pipeline().IncIndexFetch(string(req.Index), "error")
		c.audit(ctx, req, false, latency, err)
		return nil, &imagerydomain.FetchError{Index: req.Index, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			// The cached token was rejected; drop it so the next fetch
			// refreshes instead of replaying the same credential.
			c.tokens.Invalidate()
		}
		obsmetrics.Pipeline().IncIndexFetch(string(req.Index), "error")
		err := fmt.Errorf("processing endpoint returned %d", resp.StatusCode)
		c.audit(ctx, req, false, latency, err)
		return nil, &imagerydomain.FetchError{Index: req.Index, StatusCode: resp.StatusCode, Err: err}
	}

	raster, err := io.ReadAll(resp.Body)
	if err != nil {
		obsmetrics.Pipeline().IncIndexFetch(string(req.Index), "error")
		c.audit(ctx, req, false, latency, err)
		return nil, &imagerydomain.FetchError{Index: req.Index, Err: err}
	}

	value, err := decodeIndexValue(raster, req.Index)
	if err != nil {
		obsmetrics.Pipeline().IncIndexFetch(string(req.Index), "error")
		c.audit(ctx, req, false, latency, err)
		return nil, &imagerydomain.FetchError{Index: req.Index, Err: err}
	}

	result := imagerydomain.IndexResult{
		Index:     req.Index,
		Value:     value,
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
	}
	c.results.Set(key, result, c.cfg.ResultTTL)

	obsmetrics.Pipeline().IncIndexFetch(string(req.Index), "ok")
	c.audit(ctx, req, false, latency, nil)
	return &result, nil
}

// audit appends one ApiCallRecord. Best effort: a failed insert never
// fails the fetch.
func (c *Client) audit(ctx context.Context, req imagerydomain.FetchRequest, cached bool, latency time.Duration, callErr error) {
	record := &imagerydomain.ApiCallRecord{
		ID:              c.genID.Generate(),
		MeasurementID:   req.MeasurementID,
		CampaignID:      req.CampaignID,
		UserID:          req.UserID,
		CallType:        req.CallType,
		IndexKind:       req.Index,
		Latitude:        req.Latitude,
		Longitude:       req.Longitude,
		AcquisitionDate: req.Date,
		Cached:          cached,
		LatencyMS:       latency.Milliseconds(),
		CreatedAt:       time.Now().UTC(),
	}
	if !cached {
		record.CostCredits = c.cfg.CostPerCall
	}
	if callErr != nil {
		record.Metadata = datatypes.JSONMap{"error": callErr.Error()}
	}

	if err := c.auditrepo.Create(ctx, record); err != nil {
		c.log.Warn("api call audit insert failed",
			zap.Error(err),
			zap.String("index", string(req.Index)),
		)
	}
}

func cacheKey(req imagerydomain.FetchRequest) string {
	return fmt.Sprintf("%.6f|%.6f|%s|%s|%dx%d",
		req.Latitude,
		req.Longitude,
		req.Date.UTC().Format("2006-01-02"),
		req.Index,
		req.TileWidth,
		req.TileHeight,
	)
}

type processRequest struct {
	Input      processInput  `json:"input"`
	Output     processOutput `json:"output"`
	Evalscript string        `json:"evalscript"`
}

type processInput struct {
	Bounds processBounds `json:"bounds"`
	Data   []processData `json:"data"`
}

type processBounds struct {
	BBox [4]float64 `json:"bbox"`
}

type processData struct {
	Type       string            `json:"type"`
	DataFilter processDataFilter `json:"dataFilter"`
}

type processDataFilter struct {
	TimeRange processTimeRange `json:"timeRange"`
}

type processTimeRange struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type processOutput struct {
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	Responses []processResponse `json:"responses"`
}

type processResponse struct {
	Identifier string        `json:"identifier"`
	Format     processFormat `json:"format"`
}

type processFormat struct {
	Type string `json:"type"`
}

func buildProcessRequest(req imagerydomain.FetchRequest, script string) processRequest {
	day := req.Date.UTC().Truncate(24 * time.Hour)
	return processRequest{
		Input: processInput{
			Bounds: processBounds{
				BBox: [4]float64{
					req.Longitude - bboxDelta,
					req.Latitude - bboxDelta,
					req.Longitude + bboxDelta,
					req.Latitude + bboxDelta,
				},
			},
			Data: []processData{{
				Type: "sentinel-2-l2a",
				DataFilter: processDataFilter{
					TimeRange: processTimeRange{
						From: day.Format(time.RFC3339),
						To:   day.Add(24*time.Hour - time.Second).Format(time.RFC3339),
					},
				},
			}},
		},
		Output: processOutput{
			Width:  req.TileWidth,
			Height: req.TileHeight,
			Responses: []processResponse{{
				Identifier: "default",
				Format:     processFormat{Type: "image/png"},
			}},
		},
		Evalscript: script,
	}
}
