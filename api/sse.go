package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

const streamHeartbeat = 15 * time.Second

// streamBoard serves a board's live updates over server-sent events. The
// connection stays open until the client disconnects; a heartbeat comment
// keeps intermediaries from timing out idle streams.
func streamBoard(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
		if authHeader == "" {
			if token := c.QueryParam("token"); token != "" {
				authHeader = "Bearer " + token
			}
		}
		actor, err := d.Auth.ActorFromAuthHeader(authHeader)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		if d.Guard != nil && !d.Guard.CanAccess(actor, c.Param("id")) {
			return c.JSON(http.StatusForbidden, errorResponse{Error: errForbidden.Error()})
		}
		boardID := c.Param("id")
		if _, err := d.Boards.FetchBoard(ctx, boardID); err != nil {
			return domainError(c, err)
		}
		if d.Streamer == nil {
			return c.String(http.StatusServiceUnavailable, "streaming not configured")
		}

		res := c.Response()
		res.Header().Set(echo.HeaderContentType, "text/event-stream")
		res.Header().Set(echo.HeaderCacheControl, "no-cache")
		res.Header().Set(echo.HeaderConnection, "keep-alive")
		res.Header().Set("X-Accel-Buffering", "no")
		res.WriteHeader(http.StatusOK)
		res.Flush()

		updates := d.Streamer.Subscribe(ctx, boardID)
		ticker := time.NewTicker(streamHeartbeat)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if _, err := fmt.Fprint(res, ": keep-alive\n\n"); err != nil {
					return nil
				}
				res.Flush()
			case payload, ok := <-updates:
				if !ok {
					return nil
				}
				if _, err := fmt.Fprintf(res, "data: %s\n\n", payload); err != nil {
					return nil
				}
				res.Flush()
			}
		}
	}
}
