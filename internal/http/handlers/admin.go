package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/instagram-relay-bot/internal/domain"
	"github.com/tbourn/instagram-relay-bot/internal/repo"
	"github.com/tbourn/instagram-relay-bot/internal/services"
	"github.com/tbourn/instagram-relay-bot/internal/utils"
)

// UserDirectory is the read side of the user registry.
type UserDirectory interface {
	Size() int
	Users() []domain.User
}

// DownloadStats exposes the pipeline counters.
type DownloadStats interface {
	Delivered() int64
	QueueDepth() int
}

// Broadcaster fans a message out to every registered user.
type Broadcaster interface {
	Broadcast(ctx context.Context, sender int64, text string) (services.BroadcastResult, error)
}

// Handlers serves the admin API. Broadcasts are issued on behalf of adminID.
type Handlers struct {
	users   UserDirectory
	stats   DownloadStats
	bc      Broadcaster
	adminID int64
}

// New binds the admin handlers to their collaborators.
func New(users UserDirectory, stats DownloadStats, bc Broadcaster, adminID int64) *Handlers {
	return &Handlers{users: users, stats: stats, bc: bc, adminID: adminID}
}

// StatsResponse is the body of GET /stats.
type StatsResponse struct {
	RegisteredUsers int   `json:"registered_users" example:"1280"`
	Delivered       int64 `json:"delivered" example:"5321"`
	QueueDepth      int   `json:"queue_depth" example:"2"`
}

// UserView is one entry of the user directory.
type UserView struct {
	ID       int64      `json:"id" example:"123456789"`
	Handle   string     `json:"handle" example:"@someone"`
	JoinedAt *time.Time `json:"joined_at,omitempty"`
}

// ListUsersResponse is one page of the user directory.
type ListUsersResponse struct {
	Users      []UserView `json:"users"`
	Pagination utils.Page `json:"pagination"`
}

// BroadcastRequest is the body of POST /broadcast.
type BroadcastRequest struct {
	Message string `json:"message" binding:"required" example:"Maintenance tonight at 22:00 UTC"`
}

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// Stats godoc
// @ID          getStats
// @Summary     Bot statistics
// @Description Registered users, delivered videos and pending downloads.
// @Tags        Admin
// @Produce     json
// @Security    AdminKey
// @Success     200  {object}  handlers.StatsResponse
// @Failure     401  {object}  handlers.ErrorResponse
// @Router      /stats [get]
func (h *Handlers) Stats(c *gin.Context) {
	ok(c, http.StatusOK, StatsResponse{
		RegisteredUsers: h.users.Size(),
		Delivered:       h.stats.Delivered(),
		QueueDepth:      h.stats.QueueDepth(),
	})
}

// ListUsers godoc
// @ID          listUsers
// @Summary     List registered users (paginated)
// @Description Users ordered by id. Supports a weak ETag via If-None-Match.
// @Tags        Admin
// @Produce     json
// @Security    AdminKey
// @Param       page           query   int     false "Page number"     minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"  minimum(1) maximum(500) default(50)
// @Param       If-None-Match  header  string  false "Return 304 if the ETag matches"
// @Success     200  {object}  handlers.ListUsersResponse
// @Success     304  {string}  string  "Not Modified"
// @Failure     401  {object}  handlers.ErrorResponse
// @Router      /users [get]
func (h *Handlers) ListUsers(c *gin.Context) {
	users := h.users.Users()

	etag := usersETag(users)
	c.Header("ETag", etag)
	if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
		c.Status(http.StatusNotModified)
		return
	}

	page := utils.Paginate(len(users),
		utils.AtoiDefault(c.Query("page"), 1),
		utils.AtoiDefault(c.Query("page_size"), defaultPageSize),
		maxPageSize)

	views := make([]UserView, 0, page.End-page.Start)
	for _, u := range users[page.Start:page.End] {
		v := UserView{ID: u.ID, Handle: u.DisplayHandle()}
		if !u.JoinedAt.IsZero() {
			joined := u.JoinedAt.UTC()
			v.JoinedAt = &joined
		}
		views = append(views, v)
	}
	ok(c, http.StatusOK, ListUsersResponse{Users: views, Pagination: page})
}

// ExportUsers godoc
// @ID          exportUsers
// @Summary     Export user ids
// @Description The registry as a newline-separated id file, the same format as the local user store.
// @Tags        Admin
// @Produce     plain
// @Security    AdminKey
// @Success     200  {string}  string  "one id per line"
// @Failure     401  {object}  handlers.ErrorResponse
// @Router      /users/export [get]
func (h *Handlers) ExportUsers(c *gin.Context) {
	c.Header("Content-Disposition", `attachment; filename="user_ids.txt"`)
	c.Data(http.StatusOK, "text/plain; charset=utf-8", repo.EncodeIDs(h.users.Users()))
}

// Broadcast godoc
// @ID          broadcast
// @Summary     Broadcast a message to every user
// @Description Sends synchronously and returns the tally. Users who blocked the bot are removed.
// @Tags        Admin
// @Accept      json
// @Produce     json
// @Security    AdminKey
// @Param       body  body  handlers.BroadcastRequest  true  "Broadcast payload"
// @Success     200  {object}  services.BroadcastResult
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     403  {object}  handlers.ErrorResponse  "ADMIN_ID not configured"
// @Failure     500  {object}  handlers.ErrorResponse
// @Router      /broadcast [post]
func (h *Handlers) Broadcast(c *gin.Context) {
	var req BroadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Message) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "message is required")
		return
	}

	res, err := h.bc.Broadcast(c.Request.Context(), h.adminID, req.Message)
	switch {
	case err == nil:
		ok(c, http.StatusOK, res)
	case errors.Is(err, services.ErrEmptyMessage):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "message is required")
	case errors.Is(err, services.ErrUnauthorized):
		fail(c, http.StatusForbidden, ErrCodeForbidden, "no admin identity configured")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeBroadcastFailed, err.Error())
	}
}

// usersETag changes whenever a user is added or removed.
func usersETag(users []domain.User) string {
	var sum, newest int64
	for _, u := range users {
		sum += u.ID
		if ts := u.JoinedAt.Unix(); !u.JoinedAt.IsZero() && ts > newest {
			newest = ts
		}
	}
	return fmt.Sprintf(`W/"users:%d:%d:%d"`, len(users), sum, newest)
}
