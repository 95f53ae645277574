package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"tweetfwd/internal/eventbus"
	"tweetfwd/internal/scheduler"
	"tweetfwd/internal/storage"
	logx "tweetfwd/pkg/logx"
)

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type statusResponse struct {
	Uptime    string              `json:"uptime"`
	Storage   storage.Stats       `json:"storage"`
	Scheduler *scheduler.Snapshot `json:"scheduler,omitempty"`
	LastCycle *eventbus.Event     `json:"last_cycle,omitempty"`
	Events    map[string]uint64   `json:"events,omitempty"`
}

var countedEvents = []string{
	eventbus.TypeCycle,
	eventbus.TypeAccountRemoved,
	eventbus.TypeChatRemoved,
	eventbus.TypeConfigReloaded,
}

func (s *Server) status(c *gin.Context) {
	st, err := s.deps.Store.Stats(c.Request.Context())
	if err != nil {
		s.log.Warn("status: stats failed", logx.Err(err))
		respondError(c, http.StatusInternalServerError, "storage unavailable")
		return
	}
	resp := statusResponse{
		Uptime:  time.Since(s.started).Truncate(time.Second).String(),
		Storage: st,
	}
	if s.deps.Scheduler != nil {
		snap := s.deps.Scheduler()
		resp.Scheduler = &snap
	}
	if r := s.deps.Events; r != nil {
		if e, ok := r.Last(eventbus.TypeCycle); ok {
			resp.LastCycle = &e
		}
		resp.Events = make(map[string]uint64, len(countedEvents))
		for _, t := range countedEvents {
			resp.Events[t] = r.Count(t)
		}
	}
	c.JSON(http.StatusOK, resp)
}

type accountView struct {
	Handle        string     `json:"handle"`
	LastPostID    int64      `json:"last_post_id"`
	LastFetchedAt *time.Time `json:"last_fetched_at,omitempty"`
	Subscribers   int        `json:"subscribers"`
}

func (s *Server) accounts(c *gin.Context) {
	ctx := c.Request.Context()
	accts, err := s.deps.Store.TrackedAccounts(ctx)
	if err != nil {
		s.log.Warn("accounts: list failed", logx.Err(err))
		respondError(c, http.StatusInternalServerError, "storage unavailable")
		return
	}
	out := make([]accountView, 0, len(accts))
	for _, a := range accts {
		subs, err := s.deps.Store.SubscribersOf(ctx, a.ID)
		if err != nil {
			respondError(c, http.StatusInternalServerError, "storage unavailable")
			return
		}
		v := accountView{Handle: a.Handle, LastPostID: a.LastPostID, Subscribers: len(subs)}
		if !a.LastFetchedAt.IsZero() {
			t := a.LastFetchedAt.UTC()
			v.LastFetchedAt = &t
		}
		out = append(out, v)
	}
	c.JSON(http.StatusOK, gin.H{"count": len(out), "accounts": out})
}
