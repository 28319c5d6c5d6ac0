// Package rpc exposes search and index statistics over the JSON-over-TCP
// RPC server in pkg/grpc.
package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/school-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/school-search/internal/searcher/executor"
	searchhandler "github.com/Adithya-Monish-Kumar-K/school-search/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/school-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/school-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/school-search/pkg/grpc"
	"github.com/Adithya-Monish-Kumar-K/school-search/pkg/proto"
)

type Service struct {
	search *searchhandler.Handler
	engine *indexer.Engine
}

func NewService(search *searchhandler.Handler, engine *indexer.Engine) *Service {
	return &Service{search: search, engine: engine}
}

// Register binds the service's methods on s.
func (svc *Service) Register(s *grpc.Server) {
	s.Register(proto.MethodSearch, svc.handleSearch)
	s.Register(proto.MethodIndexStats, svc.handleStats)
	s.Register(proto.MethodHealthCheck, svc.handleHealth)
}

func (svc *Service) handleSearch(ctx context.Context, raw json.RawMessage) (any, error) {
	var req proto.SearchRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "malformed search request")
	}
	return svc.Search(ctx, &req)
}

// Search runs one query. A zero limit selects the default; larger limits
// are clamped to the configured maximum.
func (svc *Service) Search(ctx context.Context, req *proto.SearchRequest) (*proto.SearchResponse, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "query is required")
	}
	defaultLimit, maxResults := svc.search.Limits()
	limit := int(req.Limit)
	switch {
	case limit < 0:
		return nil, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "limit must be a positive integer")
	case limit == 0:
		limit = defaultLimit
	}
	limit = min(limit, maxResults)

	result, took, err := svc.search.Run(ctx, req.Query, limit)
	if err != nil {
		return nil, err
	}
	return NewSearchResponse(result, took), nil
}

// NewSearchResponse converts an executor result to its wire form.
func NewSearchResponse(result *executor.SearchResult, took time.Duration) *proto.SearchResponse {
	resp := &proto.SearchResponse{
		Query:     result.Query,
		TotalHits: int32(result.TotalHits),
		Results:   make([]proto.SearchResult, 0, len(result.Results)),
		TookMs:    float64(took.Microseconds()) / 1000,
	}
	for _, r := range result.Results {
		resp.Results = append(resp.Results, proto.SearchResult{
			ID:    r.School.ID,
			Name:  r.School.Name,
			City:  r.School.City,
			State: r.School.State,
			Score: r.Score,
		})
	}
	return resp
}

func (svc *Service) handleStats(_ context.Context, raw json.RawMessage) (any, error) {
	var req proto.StatsRequest
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "malformed stats request")
		}
	}
	return svc.Stats(&req), nil
}

// Stats reports on the live index.
func (svc *Service) Stats(req *proto.StatsRequest) *proto.StatsResponse {
	return NewStatsResponse(svc.engine.Stats(int(max(req.TopTerms, 0))))
}

// NewStatsResponse converts engine statistics to their wire form.
func NewStatsResponse(st indexer.Stats) *proto.StatsResponse {
	resp := &proto.StatsResponse{
		Ready:       st.Ready,
		Generation:  st.Generation,
		Fingerprint: st.Fingerprint,
		Documents:   int64(st.Documents),
		Terms:       int64(st.Terms),
	}
	if st.BuiltAt != nil {
		resp.BuiltAt = st.BuiltAt.UnixMilli()
	}
	for _, tc := range st.TopTerms {
		resp.TopTerms = append(resp.TopTerms, proto.TermStat{Term: tc.Term, Count: int64(tc.Records)})
	}
	return resp
}

func (svc *Service) handleHealth(context.Context, json.RawMessage) (any, error) {
	status := "SERVING"
	if !svc.engine.Ready() {
		status = "NOT_SERVING"
	}
	return &proto.HealthCheckResponse{Status: status, Version: config.Version}, nil
}

// Client is a typed wrapper over a pkg/grpc connection.
type Client struct {
	conn    *grpc.Client
	timeout time.Duration
}

// Dial connects to a search RPC server. A positive timeout bounds each call.
func Dial(addr string, timeout time.Duration) (*Client, error) {
	conn, err := grpc.Dial(addr)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, timeout: timeout}, nil
}

func (c *Client) Search(ctx context.Context, query string, limit int) (*proto.SearchResponse, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()
	var resp proto.SearchResponse
	if err := c.conn.Call(ctx, proto.MethodSearch, &proto.SearchRequest{Query: query, Limit: int32(limit)}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Stats(ctx context.Context, topTerms int) (*proto.StatsResponse, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()
	var resp proto.StatsResponse
	if err := c.conn.Call(ctx, proto.MethodIndexStats, &proto.StatsRequest{TopTerms: int32(topTerms)}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Health(ctx context.Context) (*proto.HealthCheckResponse, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()
	var resp proto.HealthCheckResponse
	if err := c.conn.Call(ctx, proto.MethodHealthCheck, struct{}{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}
