package web

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/juju/errors"

	"wowsync/internal/authstate"
	"wowsync/internal/bnet"
	"wowsync/pkg/mac"
)

const revokeURL = "https://account.blizzard.com/connections#authorized-applications"

// authStart checks the signed link from the remote system, remembers the
// pending authorization in a cookie session and forwards to Battle.net.
func (s *Server) authStart(c *gin.Context) {
	ctx := c.Request.Context()

	systemID, err := strconv.ParseInt(c.Query("systemId"), 10, 64)
	if err != nil {
		abort(c, errors.BadRequestf("systemId %q", c.Query("systemId")), "Invalid systemId")
		return
	}
	userID, err := strconv.ParseInt(c.Query("userId"), 10, 64)
	if err != nil {
		abort(c, errors.BadRequestf("userId %q", c.Query("userId")), "Invalid userId")
		return
	}

	encoded, err := s.store.HMACKeyByID(ctx, systemID)
	if errors.Is(err, errors.NotFound) {
		abort(c, err, "Unknown remote system")
		return
	} else if err != nil {
		c.Error(err)
		return
	}
	key, err := mac.KeyFromString(encoded)
	if err != nil {
		c.Error(errors.Annotatef(err, "remote system %d", systemID))
		return
	}
	if err := mac.Verify(key, c.Query("mac"), strconv.FormatInt(userID, 10)); err != nil {
		abort(c, err, "Invalid mac")
		return
	}

	rs, err := s.store.RemoteSystemByID(ctx, systemID)
	if err != nil {
		c.Error(err)
		return
	}
	region, err := bnet.ParseRegion(rs.Guild.Region)
	if err != nil {
		c.Error(errors.Annotatef(err, "guild %d", rs.Guild.ID))
		return
	}

	st := s.auth.StartUserAuthorization(region)
	id, err := s.sessions.Create(authstate.Pending{Auth: st, RemoteSystemID: rs.ID, RemoteUserID: userID})
	if err != nil {
		c.Error(err)
		return
	}
	s.setSessionCookie(c, id, int(s.sessions.TTL().Seconds()))

	refresh := "<meta http-equiv=\"refresh\" content=\"3; URL=" + hrefEscape(st.URL) + "\">\n"
	b := head(s.cfg.Style, "Redirect", refresh)
	b.WriteString("<body>\n<p>Wait one moment please.</p>\n</body></html>")
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(b.String()))
}

// authFinish is the OAuth2 redirect target.
func (s *Server) authFinish(c *gin.Context) {
	ctx := c.Request.Context()

	id, _ := c.Cookie(authstate.CookieName)
	pending, err := s.sessions.Take(id)
	if err != nil {
		if errors.Is(err, errors.NotFound) {
			err = errors.NewForbidden(err, "no pending authorization")
		}
		abort(c, err, "Cant find your session, please try again")
		return
	}
	s.setSessionCookie(c, "", -1)

	user, err := s.auth.FinishUserAuthorization(ctx, pending.Auth, c.Request.URL.Query())
	var scopeErr *bnet.InvalidScopeError
	var authErr *bnet.UserAuthorizationError
	switch {
	case errors.As(err, &scopeErr):
		body := "You need to authorize access to your wow profile. Please revoke all access at " +
			"<a target=\"_blank\" href=\"" + revokeURL + "\">" + revokeURL + "</a> and try again."
		c.Data(http.StatusBadRequest, "text/html; charset=utf-8", []byte(page(s.cfg.Style, "Invalid scope", body)))
		return
	case errors.As(err, &authErr):
		c.String(http.StatusInternalServerError, authErr.Error())
		return
	case err != nil:
		c.Error(err)
		return
	}

	rs, err := s.store.RemoteSystemByID(ctx, pending.RemoteSystemID)
	if err != nil {
		c.Error(err)
		return
	}
	redirect, err := s.syncer.AuthFinished(ctx, *rs, pending.RemoteUserID, user)
	if err != nil {
		c.Error(err)
		return
	}
	if redirect != "" {
		c.Redirect(http.StatusSeeOther, redirect)
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8",
		[]byte(page(s.cfg.Style, "Auth finished", "Auth finished. You can close this window now.")))
}

func (s *Server) setSessionCookie(c *gin.Context, value string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(authstate.CookieName, value, maxAge, "/", "", strings.HasPrefix(s.cfg.RootURL, "https://"), true)
}
