package api

import (
	"strings"

	"go.uber.org/zap"

	"github.com/tokmz/stsrt"
	"github.com/tokmz/stsrt/pkg/errors"
	"github.com/tokmz/stsrt/pkg/ws"
)

type connectionsResp struct {
	Total int                     `json:"total"`
	List  []ws.ConnectionMetadata `json:"list"`
}

type kickReq struct {
	ID string `uri:"id" binding:"required"`
}

type publishResp struct {
	Delivered int `json:"delivered"`
}

type dashboardSnapshot struct {
	Stats       ws.Stats `json:"stats"`
	Subscribers int      `json:"subscribers"`
	Users       []string `json:"users"`
}

func (h *Handler) realtimeStats(*stsrt.Context) (*ws.Stats, error) {
	s := h.hub.Stats()
	return &s, nil
}

func (h *Handler) connections(*stsrt.Context) (*connectionsResp, error) {
	list := h.hub.Connections()
	return &connectionsResp{Total: len(list), List: list}, nil
}

// kick 主动断开连接
func (h *Handler) kick(c *stsrt.Context, req *kickReq) error {
	if _, ok := h.hub.Connection(req.ID); !ok {
		return ws.ErrConnectionNotFound
	}
	h.hub.Disconnect(req.ID, ws.ReasonKicked)
	h.log.InfoContext(c.RequestContext(), "connection kicked", zap.String("connection_id", req.ID))
	return nil
}

// publishEvent POST /api/v1/realtime/events，受理后返回 202
func (h *Handler) publishEvent(c *stsrt.Context) {
	var event ws.StreamEvent
	if err := c.BindJSON(&event); err != nil {
		return
	}
	n, err := h.stream.Publish(c.RequestContext(), event)
	if err != nil {
		c.RespondError(err)
		return
	}
	c.Accepted(&publishResp{Delivered: n})
}

// dashboardSnapshot 仪表盘聚合视图，经响应缓存
func (h *Handler) dashboardSnapshot(*stsrt.Context) (*dashboardSnapshot, error) {
	seen := make(map[string]struct{})
	users := make([]string, 0)
	for _, meta := range h.hub.Connections() {
		if meta.UserID == "" {
			continue
		}
		if _, ok := seen[meta.UserID]; ok {
			continue
		}
		seen[meta.UserID] = struct{}{}
		users = append(users, meta.UserID)
	}
	return &dashboardSnapshot{
		Stats:       h.hub.Stats(),
		Subscribers: h.hub.Subscribers(ws.DashboardTopic),
		Users:       users,
	}, nil
}

// upgrade GET /api/v1/ws
// 配置了 JWT 时用户取自令牌 sub，否则取 user_id 查询参数；topics 为逗号分隔或重复参数
func (h *Handler) upgrade(c *stsrt.Context) {
	userID, err := h.identify(c)
	if err != nil {
		c.RespondError(err)
		return
	}

	meta := ws.ConnectionMetadata{
		UserID:           userID,
		SubscribedTopics: parseTopics(c.QueryArray("topics")),
	}
	stsrt.SetContextUserID(c, userID)

	if err := h.hub.HandleUpgrade(c.Writer(), c.Request(), meta); err != nil {
		if errors.Is(err, ws.ErrHubClosed) || errors.Is(err, ws.ErrTooManyConnections) {
			return
		}
		h.log.WarnContext(c.RequestContext(), "ws session ended with error",
			zap.String("user_id", userID),
			zap.Error(err),
		)
	}
}

func (h *Handler) identify(c *stsrt.Context) (string, error) {
	if h.auth == nil {
		userID := c.Query("user_id")
		if userID == "" {
			return "", ErrMissingUser
		}
		return userID, nil
	}
	token := tokenFromRequest(c.Request())
	if token == "" {
		return "", ErrMissingToken
	}
	return h.auth.Verify(token)
}

func parseTopics(values []string) []string {
	var topics []string
	for _, v := range values {
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				topics = append(topics, t)
			}
		}
	}
	return topics
}
