package web

import (
	"fmt"
	"html"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/juju/errors"

	"wowsync/pkg/jobmgr"
)

// statusOf maps an error kind to the HTTP status shown to the user.
func statusOf(err error) int {
	switch {
	case errors.Is(err, errors.BadRequest), errors.Is(err, errors.NotValid):
		return http.StatusBadRequest
	case errors.Is(err, errors.Unauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, errors.Forbidden):
		return http.StatusForbidden
	case errors.Is(err, errors.NotFound):
		return http.StatusNotFound
	case errors.Is(err, jobmgr.ErrAlreadyRunning):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// errorPage renders "ERROR: <code> - <reason>" with the message below.
func errorPage(style string, code int, message string) string {
	title := fmt.Sprintf("ERROR: %d - %s", code, http.StatusText(code))
	b := head(style, title)
	b.WriteString("<body><h1>" + title + "</h1><p>" + html.EscapeString(message) + "</p></body></html>")
	return b.String()
}

// renderErrors turns the last error a handler attached with c.Error into
// an error page, unless the handler already wrote a response.
func (s *Server) renderErrors(c *gin.Context) {
	c.Next()

	last := c.Errors.Last()
	if last == nil || c.Writer.Written() {
		return
	}
	code := statusOf(last.Err)
	msg := last.Err.Error()
	if code == http.StatusInternalServerError {
		msg = "Internal server error"
	}
	if code == http.StatusInternalServerError {
		log.Printf("[ERR] %s %s: %s", c.Request.Method, c.Request.URL.Path, errors.ErrorStack(last.Err))
	} else {
		log.Printf("[DEBUG] %s %s -> %d: %v", c.Request.Method, c.Request.URL.Path, code, last.Err)
	}
	if userMsg, ok := last.Meta.(string); ok {
		msg = userMsg
	}
	c.Data(code, "text/html; charset=utf-8", []byte(errorPage(s.cfg.Style, code, msg)))
}

// requireQuery rejects requests that lack one of the query parameters.
func requireQuery(names ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		query := c.Request.URL.Query()
		for _, name := range names {
			if _, ok := query[name]; !ok {
				abort(c, errors.BadRequestf("missing query parameter %s", name),
					"Missing required query parameter: "+name)
				return
			}
		}
		c.Next()
	}
}

// abort stops the chain with err. message is what the user sees.
func abort(c *gin.Context, err error, message string) {
	c.Error(err).SetMeta(message)
	c.Abort()
}
