package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskboard/domain"
	"taskboard/service"
)

// Deps bundles everything the routes need.
type Deps struct {
	Service  Service
	Boards   BoardReader
	Auth     Authenticator
	Guard    Authorizer
	Deduper  Deduper
	Streamer Streamer
	Insights Insights
	Bus      BusInspector
	Logger   *log.Logger
}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, d Deps) {
	if d.Logger == nil {
		d.Logger = log.StandardLogger()
	}

	e.GET("/api/boards", getBoards(d))
	e.POST("/api/boards", createBoard(d))
	e.GET("/api/boards/:id", getBoard(d))
	e.PATCH("/api/boards/:id", updateBoard(d))
	e.DELETE("/api/boards/:id", archiveBoard(d))
	e.GET("/api/boards/:id/activity", getActivity(d))
	e.GET("/api/boards/:id/stream", streamBoard(d))

	e.POST("/api/lists", createList(d))
	e.PATCH("/api/lists/:id", updateList(d))
	e.DELETE("/api/lists/:id", deleteList(d))

	e.POST("/api/cards", createCard(d))
	e.PATCH("/api/cards/:id", updateCard(d))
	e.DELETE("/api/cards/:id", deleteCard(d))
	e.POST("/api/cards/:id/move", moveCard(d))

	e.GET("/api/analytics", getAnalytics(d))
	e.GET("/healthz", healthz())
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

func getBoards(d Deps) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newBoardRequestMetrics(ctx, d.Logger)
		if spanCtx != nil {
			c.SetRequest(c.Request().WithContext(spanCtx))
			ctx = spanCtx
		}
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		_, authErr := authenticate(c, d)
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			err = authError(c, authErr)
			return err
		}

		fetchStart := time.Now()
		boards, fetchErr := d.Boards.FetchBoards(ctx)
		metrics.ObserveFetch(time.Since(fetchStart))
		if fetchErr != nil {
			metrics.SetErrorStage("storage")
			c.Logger().Error(fetchErr)
			err = c.String(http.StatusInternalServerError, fetchErr.Error())
			return err
		}
		metrics.SetBoardsReturned(len(boards))

		encodeStart := time.Now()
		err = c.JSON(http.StatusOK, boards)
		metrics.ObserveEncode(time.Since(encodeStart))
		if err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

func getBoard(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		if _, err := authenticate(c, d); err != nil {
			return authError(c, err)
		}
		view, err := d.Boards.FetchBoard(ctx, c.Param("id"))
		if err != nil {
			return domainError(c, err)
		}
		return c.JSON(http.StatusOK, view)
	}
}

func createBoard(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		actor, err := authenticate(c, d)
		if err != nil {
			return authError(c, err)
		}
		var req service.CreateBoardRequest
		if err := decodeBody(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		release, dup, err := claimKey(c, d, actor.ID)
		if err != nil {
			return c.String(http.StatusInternalServerError, err.Error())
		}
		if dup {
			return c.JSON(http.StatusConflict, errorResponse{Error: "duplicate request"})
		}
		board, err := d.Service.CreateBoard(ctx, req, actor)
		if err != nil {
			release()
			return domainError(c, err)
		}
		return c.JSON(http.StatusCreated, board)
	}
}

func updateBoard(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		actor, err := authenticate(c, d)
		if err != nil {
			return authError(c, err)
		}
		var req service.UpdateBoardRequest
		if err := decodeBody(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		board, err := d.Service.UpdateBoard(ctx, c.Param("id"), req, actor)
		if err != nil {
			return domainError(c, err)
		}
		return c.JSON(http.StatusOK, board)
	}
}

func archiveBoard(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		actor, err := authenticate(c, d)
		if err != nil {
			return authError(c, err)
		}
		if err := d.Service.ArchiveBoard(ctx, c.Param("id"), actor); err != nil {
			return domainError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func createList(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		actor, err := authenticate(c, d)
		if err != nil {
			return authError(c, err)
		}
		var req service.CreateListRequest
		if err := decodeBody(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		release, dup, err := claimKey(c, d, actor.ID)
		if err != nil {
			return c.String(http.StatusInternalServerError, err.Error())
		}
		if dup {
			return c.JSON(http.StatusConflict, errorResponse{Error: "duplicate request"})
		}
		list, err := d.Service.CreateList(ctx, req, actor)
		if err != nil {
			release()
			return domainError(c, err)
		}
		return c.JSON(http.StatusCreated, list)
	}
}

func updateList(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		actor, err := authenticate(c, d)
		if err != nil {
			return authError(c, err)
		}
		var req service.UpdateListRequest
		if err := decodeBody(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		list, err := d.Service.UpdateList(ctx, c.Param("id"), req, actor)
		if err != nil {
			return domainError(c, err)
		}
		return c.JSON(http.StatusOK, list)
	}
}

func deleteList(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		actor, err := authenticate(c, d)
		if err != nil {
			return authError(c, err)
		}
		if err := d.Service.DeleteList(ctx, c.Param("id"), actor); err != nil {
			return domainError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func createCard(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		actor, err := authenticate(c, d)
		if err != nil {
			return authError(c, err)
		}
		var req service.CreateCardRequest
		if err := decodeBody(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		release, dup, err := claimKey(c, d, actor.ID)
		if err != nil {
			return c.String(http.StatusInternalServerError, err.Error())
		}
		if dup {
			return c.JSON(http.StatusConflict, errorResponse{Error: "duplicate request"})
		}
		card, err := d.Service.CreateCard(ctx, req, actor)
		if err != nil {
			release()
			return domainError(c, err)
		}
		return c.JSON(http.StatusCreated, card)
	}
}

func updateCard(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		actor, err := authenticate(c, d)
		if err != nil {
			return authError(c, err)
		}
		var req service.UpdateCardRequest
		if err := decodeBody(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		card, err := d.Service.UpdateCard(ctx, c.Param("id"), req, actor)
		if err != nil {
			return domainError(c, err)
		}
		return c.JSON(http.StatusOK, card)
	}
}

func deleteCard(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		actor, err := authenticate(c, d)
		if err != nil {
			return authError(c, err)
		}
		if err := d.Service.DeleteCard(ctx, c.Param("id"), actor); err != nil {
			return domainError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func moveCard(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		actor, err := authenticate(c, d)
		if err != nil {
			return authError(c, err)
		}
		var req moveCardRequest
		if err := decodeBody(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		release, dup, err := claimKey(c, d, actor.ID)
		if err != nil {
			return c.String(http.StatusInternalServerError, err.Error())
		}
		if dup {
			return c.JSON(http.StatusConflict, errorResponse{Error: "duplicate request"})
		}
		card, err := d.Service.MoveCard(ctx, c.Param("id"), req.ListID, req.Position, actor)
		if err != nil {
			release()
			return domainError(c, err)
		}
		return c.JSON(http.StatusOK, card)
	}
}

func getActivity(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		if _, err := authenticate(c, d); err != nil {
			return authError(c, err)
		}
		boardID := c.Param("id")

		if pageParam := c.QueryParam("page"); pageParam != "" {
			page, err := strconv.Atoi(pageParam)
			if err != nil || page < 0 {
				return c.String(http.StatusBadRequest, "invalid page")
			}
			size := 20
			if sizeParam := c.QueryParam("size"); sizeParam != "" {
				size, err = strconv.Atoi(sizeParam)
				if err != nil || size <= 0 {
					return c.String(http.StatusBadRequest, "invalid size")
				}
			}
			entries, err := d.Service.ActivityPage(ctx, boardID, page, size)
			if err != nil {
				return domainError(c, err)
			}
			total, err := d.Service.ActivityCount(ctx, boardID)
			if err != nil {
				return domainError(c, err)
			}
			return c.JSON(http.StatusOK, activityResponse{Entries: entries, Total: &total})
		}

		limit := 0
		if limitParam := c.QueryParam("limit"); limitParam != "" {
			n, err := strconv.Atoi(limitParam)
			if err != nil || n <= 0 {
				return c.String(http.StatusBadRequest, "invalid limit")
			}
			limit = n
		}
		entries, err := d.Service.RecentActivity(ctx, boardID, limit)
		if err != nil {
			return domainError(c, err)
		}
		return c.JSON(http.StatusOK, activityResponse{Entries: entries})
	}
}

func getAnalytics(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := authenticate(c, d); err != nil {
			return authError(c, err)
		}
		resp := analyticsResponse{Counters: map[string]uint64{}}
		if d.Insights != nil {
			resp.Counters = d.Insights.Snapshot()
		}
		if d.Bus != nil {
			stats := d.Bus.Snapshot()
			resp.Bus = &stats
			resp.DeadLetters = d.Bus.DeadLetters()
		}
		return c.JSON(http.StatusOK, resp)
	}
}

var errForbidden = errors.New("actor is not allowed to perform this operation")

// authenticate extracts the actor and consults the guard. Reads are gated on
// CanAccess, everything else on CanModify.
func authenticate(c echo.Context, d Deps) (service.Actor, error) {
	actor, err := d.Auth.ActorFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
	if err != nil {
		return service.Actor{}, err
	}
	if d.Guard != nil {
		boardID := boardScope(c)
		allowed := d.Guard.CanModify(actor, boardID)
		if c.Request().Method == http.MethodGet {
			allowed = d.Guard.CanAccess(actor, boardID)
		}
		if !allowed {
			return service.Actor{}, errForbidden
		}
	}
	return actor, nil
}

// boardScope returns the board id a request addresses, or "" when the route
// is not board-scoped.
func boardScope(c echo.Context) string {
	if strings.HasPrefix(c.Path(), "/api/boards/") {
		return c.Param("id")
	}
	return ""
}

func authError(c echo.Context, err error) error {
	if errors.Is(err, errForbidden) {
		return c.JSON(http.StatusForbidden, errorResponse{Error: err.Error()})
	}
	return c.String(http.StatusUnauthorized, err.Error())
}

func decodeBody(c echo.Context, v any) error {
	lr := io.LimitReader(c.Request().Body, mutationMaxSize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// claimKey records the request's idempotency key when one is present. When
// the key was already used it reports dup=true. The returned release func
// frees the key so a failed mutation can be retried; it is a no-op when no
// key was claimed.
func claimKey(c echo.Context, d Deps, actorID string) (release func(), dup bool, err error) {
	key := c.Request().Header.Get(headerIdempotencyKey)
	if key == "" || d.Deduper == nil {
		return func() {}, false, nil
	}
	added, err := d.Deduper.Add(c.Request().Context(), actorID, key)
	if err != nil {
		return nil, false, err
	}
	if !added {
		return nil, true, nil
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if rerr := d.Deduper.Remove(ctx, actorID, key); rerr != nil {
			d.Logger.WithError(rerr).WithField("key", key).Warn("release idempotency key")
		}
	}, false, nil
}

func domainError(c echo.Context, err error) error {
	switch {
	case domain.IsNotFound(err):
		return c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
	case domain.IsInvalidOperation(err):
		return c.JSON(http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
	default:
		c.Logger().Error(err)
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
}
