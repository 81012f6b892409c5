package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tablematch/tablematch/internal/models"
	"github.com/tablematch/tablematch/internal/service"
	"github.com/tablematch/tablematch/internal/storage"
)

type matchHandler struct {
	svc *service.MatchService
}

// groupResponse is the wire shape of a group.
type groupResponse struct {
	ID           string         `json:"id"`
	Status       string         `json:"status"`
	Capacity     int            `json:"capacity"`
	CurrentCount int            `json:"current_count"`
	Venue        *venueResponse `json:"venue,omitempty"`
	MeetingTime  int64          `json:"meeting_time,omitempty"`
	CreatedAt    int64          `json:"created_at"`
}

type venueResponse struct {
	Name    string  `json:"name"`
	Address string  `json:"address"`
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
}

func toGroupResponse(g *models.Group) groupResponse {
	resp := groupResponse{
		ID:           g.ID,
		Status:       string(g.Status),
		Capacity:     g.Capacity,
		CurrentCount: g.CurrentCount,
		MeetingTime:  g.MeetingTime,
		CreatedAt:    g.CreatedAt,
	}
	if g.Venue != nil {
		resp.Venue = &venueResponse{
			Name:    g.Venue.Name,
			Address: g.Venue.Address,
			Lat:     g.Venue.Lat,
			Lng:     g.Venue.Lng,
		}
	}
	return resp
}

// POST /v1/match/join
func (h *matchHandler) Join(c *gin.Context) {
	var in struct {
		MemberID string   `json:"member_id" binding:"required"`
		Lat      *float64 `json:"lat" binding:"required"`
		Lng      *float64 `json:"lng" binding:"required"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.svc.Join(c.Request.Context(), in.MemberID, *in.Lat, *in.Lng)
	if err != nil {
		// Members see already_matched or a generic retry; capacity
		// races and storage conflicts are not theirs to handle.
		if errors.Is(err, storage.ErrAlreadyMember) {
			c.JSON(http.StatusConflict, gin.H{"error": "already_matched"})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "try_again"})
		return
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{
		"group":   toGroupResponse(res.Group),
		"created": res.Created,
	})
}

// POST /v1/groups/:id/leave
func (h *matchHandler) Leave(c *gin.Context) {
	var in struct {
		MemberID string `json:"member_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	g, err := h.svc.Leave(c.Request.Context(), c.Param("id"), in.MemberID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "membership not found"})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "try_again"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"group": toGroupResponse(g)})
}

// POST /v1/groups/:id/heartbeat
func (h *matchHandler) Heartbeat(c *gin.Context) {
	var in struct {
		MemberID string `json:"member_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Best effort by contract: the response is 204 even when the
	// timestamp write was dropped.
	h.svc.Heartbeat(c.Request.Context(), c.Param("id"), in.MemberID)
	c.Status(http.StatusNoContent)
}

// GET /v1/groups/:id
func (h *matchHandler) Get(c *gin.Context) {
	g, err := h.svc.GetGroup(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "group not found"})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "try_again"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"group": toGroupResponse(g)})
}

// GET /v1/groups/:id/presence
func (h *matchHandler) Presence(c *gin.Context) {
	tiers, err := h.svc.Presence(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "group not found"})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "try_again"})
		return
	}

	type memberTier struct {
		MemberID string `json:"member_id"`
		Tier     string `json:"tier"`
		LastSeen int64  `json:"last_seen"`
	}
	out := make([]memberTier, len(tiers))
	for i, mt := range tiers {
		out[i] = memberTier{
			MemberID: mt.MemberID,
			Tier:     mt.Tier.String(),
			LastSeen: mt.LastSeen,
		}
	}
	c.JSON(http.StatusOK, gin.H{"members": out})
}

type adminHandler struct {
	svc *service.AdminService
}

// POST /v1/admin/reconcile
func (h *adminHandler) Reconcile(c *gin.Context) {
	report, err := h.svc.Reconcile(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

// POST /v1/admin/cleanup
func (h *adminHandler) Cleanup(c *gin.Context) {
	if !h.svc.CleanupNow(c.Request.Context()) {
		c.JSON(http.StatusConflict, gin.H{"error": "cleanup already running"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "done"})
}

// POST /v1/admin/groups/:id/confirm
func (h *adminHandler) ForceConfirm(c *gin.Context) {
	ok, err := h.svc.ForceConfirm(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "group is not waiting"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "confirmed"})
}

// POST /v1/admin/groups/:id/cancel
func (h *adminHandler) ForceCancel(c *gin.Context) {
	ok, err := h.svc.ForceCancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "group is already terminal"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}
