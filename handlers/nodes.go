package handlers

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"nodewatch/models"
	"nodewatch/services"
	"nodewatch/utils"
)

// MonitorView is what the API needs from the running monitor.
type MonitorView interface {
	Status() services.MonitorStatus
	Caches() *services.ReadCaches
	Series() *services.TimeSeries
}

type Handler struct {
	Monitor   MonitorView
	Store     *services.Store
	StartedAt time.Time
	Logger    *zap.Logger
}

func NewHandler(monitor MonitorView, store *services.Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Monitor:   monitor,
		Store:     store,
		StartedAt: time.Now(),
		Logger:    logger,
	}
}

// GetNodes godoc
// @Summary List tracked nodes with pagination
// @Tags nodes
// @Produce json
// @Param page query int false "Page number (default: 1)"
// @Param limit query int false "Items per page (default: 50, max: 500)"
// @Param role query string false "Filter by role (peer, api, voting)"
// @Param available query bool false "Filter by availability"
// @Param sort query string false "Sort field (host, version, height, lastAvailable)"
// @Param order query string false "Sort order (asc, desc) (default: asc)"
// @Success 200 {object} NodesResponse
// @Router /api/nodes [get]
func (h *Handler) GetNodes(c echo.Context) error {
	page, _ := strconv.Atoi(c.QueryParam("page"))
	if page < 1 {
		page = 1
	}

	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit < 1 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	role, ok := parseRole(c.QueryParam("role"))
	if !ok {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "role must be one of peer, api, voting"})
	}
	var available *bool
	if raw := c.QueryParam("available"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "available must be a boolean"})
		}
		available = &v
	}

	nodes, err := h.nodes(c.Request().Context())
	if err != nil {
		h.Logger.Error("failed to load nodes", zap.Error(err))
		return c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "Node list temporarily unavailable"})
	}

	// Work on a copy; the cached slice is shared with other readers.
	filtered := make([]*models.Node, 0, len(nodes))
	for _, n := range nodes {
		if role != 0 && !n.Roles.Has(role) {
			continue
		}
		if available != nil && utils.IsAvailable(n) != *available {
			continue
		}
		filtered = append(filtered, n)
	}

	sortNodes(filtered, c.QueryParam("sort"), c.QueryParam("order"))

	totalNodes := len(filtered)
	totalPages := (totalNodes + limit - 1) / limit
	if totalPages < 1 {
		totalPages = 1
	}

	startIdx := (page - 1) * limit
	endIdx := startIdx + limit
	if startIdx > totalNodes {
		startIdx = totalNodes
	}
	if endIdx > totalNodes {
		endIdx = totalNodes
	}

	return c.JSON(http.StatusOK, NodesResponse{
		Nodes: filtered[startIdx:endIdx],
		Pagination: PaginationMeta{
			Page:       page,
			Limit:      limit,
			TotalItems: totalNodes,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
			HasPrev:    page > 1,
		},
	})
}

// GetNode godoc
// @Summary Get a single node by main public key
// @Tags nodes
// @Produce json
// @Param publicKey path string true "Node main public key"
// @Success 200 {object} models.Node
// @Failure 404 {object} ErrorResponse
// @Router /api/nodes/{publicKey} [get]
func (h *Handler) GetNode(c echo.Context) error {
	publicKey := strings.ToUpper(c.Param("publicKey"))

	nodes, err := h.nodes(c.Request().Context())
	if err != nil {
		h.Logger.Error("failed to load nodes", zap.Error(err))
		return c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "Node list temporarily unavailable"})
	}

	for _, n := range nodes {
		if strings.ToUpper(n.PublicKey) == publicKey {
			return c.JSON(http.StatusOK, n)
		}
	}
	return c.JSON(http.StatusNotFound, ErrorResponse{Error: "Node not found"})
}

// nodes serves the last completed cycle from cache, falling back to the store
// after a restart and before the first cycle finishes.
func (h *Handler) nodes(ctx context.Context) ([]*models.Node, error) {
	caches := h.Monitor.Caches()
	if nodes, ok := caches.Nodes.Get(services.CacheKeyNodeList); ok {
		return nodes, nil
	}
	if h.Store == nil {
		return []*models.Node{}, nil
	}

	nodes, err := h.Store.GetNodes(ctx)
	if err != nil {
		return nil, err
	}
	caches.Nodes.Set(services.CacheKeyNodeList, nodes)
	return nodes, nil
}

func parseRole(s string) (models.Role, bool) {
	switch strings.ToLower(s) {
	case "":
		return 0, true
	case "peer":
		return models.RolePeer, true
	case "api":
		return models.RoleAPI, true
	case "voting":
		return models.RoleVoting, true
	}
	return 0, false
}

// sortNodes sorts nodes based on the specified field and order
func sortNodes(nodes []*models.Node, field, order string) {
	desc := order == "desc"

	height := func(n *models.Node) uint64 {
		if n.APIStatus == nil {
			return 0
		}
		return n.APIStatus.ChainHeight
	}
	lastAvailable := func(n *models.Node) time.Time {
		if n.LastAvailable == nil {
			return time.Time{}
		}
		return *n.LastAvailable
	}

	sort.SliceStable(nodes, func(i, j int) bool {
		a, b := nodes[i], nodes[j]
		if desc {
			a, b = b, a
		}

		switch field {
		case "host":
			return a.Host < b.Host
		case "version":
			return a.Version < b.Version
		case "height":
			return height(a) < height(b)
		case "lastAvailable":
			return lastAvailable(a).Before(lastAvailable(b))
		default:
			return a.PublicKey < b.PublicKey
		}
	})
}

// NodesResponse represents the paginated nodes response
type NodesResponse struct {
	Nodes      []*models.Node `json:"nodes"`
	Pagination PaginationMeta `json:"pagination"`
}

// PaginationMeta represents pagination metadata
type PaginationMeta struct {
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	TotalItems int  `json:"total_items"`
	TotalPages int  `json:"total_pages"`
	HasNext    bool `json:"has_next"`
	HasPrev    bool `json:"has_prev"`
}
