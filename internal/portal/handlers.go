package portal

import (
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/giok57/lazoooSplash/internal/gateway"
	"github.com/giok57/lazoooSplash/internal/i18n"
	"github.com/giok57/lazoooSplash/internal/session"
)

type pageData struct {
	MAC      string
	IP       string
	Token    string
	AuthURL  string
	DenyURL  string
	Redirect string
	Message  string
}

// client identifies the requesting device.
func (s *Server) client(r *http.Request) (mac, ip string, err error) {
	ip, _, err = net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}
	mac, err = s.neighbors.Lookup(ip)
	return mac, ip, err
}

func (s *Server) handleSplash(w http.ResponseWriter, r *http.Request) {
	mac, ip, err := s.client(r)
	if err != nil {
		s.logger.Debug("unknown client", "remote", r.RemoteAddr, "error", err)
		s.errorPage(w, r, http.StatusForbidden, i18n.MsgUnknownDevice)
		return
	}

	sess, err := s.gateway.OnClientSeen(mac, ip)
	if err != nil {
		s.logger.Warn("tracking client failed", "mac", mac, "error", err)
		s.errorPage(w, r, http.StatusServiceUnavailable, i18n.MsgFull)
		return
	}

	redirect := safeRedirect(r.URL.Query().Get("redir"))
	if sess.State == session.Authenticated {
		s.render(w, http.StatusOK, "online.html", pageData{MAC: mac, IP: ip, Redirect: redirect})
		return
	}

	if s.navigator != nil {
		ok, err := s.navigator.CanNavigate(r.Context(), mac)
		switch {
		case err != nil:
			s.logger.Debug("navigation check failed", "mac", mac, "error", err)
		case ok:
			if err := s.gateway.OnClientAuthenticated(mac, ip, sess.Token, session.Quota{}); err != nil {
				s.logger.Warn("auto-authentication failed", "mac", mac, "error", err)
				break
			}
			s.logger.Info("client allowed by authority", "mac", mac)
			s.render(w, http.StatusOK, "online.html", pageData{MAC: mac, IP: ip, Redirect: redirect})
			return
		}
	}

	if s.cfg.LoginURL != "" {
		http.Redirect(w, r, s.loginURL(mac, ip, sess.Token, redirect), http.StatusFound)
		return
	}

	s.render(w, http.StatusOK, "splash.html", pageData{
		MAC:      mac,
		IP:       ip,
		Token:    sess.Token,
		AuthURL:  "/auth?" + url.Values{"token": {sess.Token}, "redir": {redirect}}.Encode(),
		DenyURL:  "/deny",
		Redirect: redirect,
	})
}

func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	mac, ip, err := s.client(r)
	if err != nil {
		s.errorPage(w, r, http.StatusForbidden, i18n.MsgUnknownDevice)
		return
	}
	if s.limiter != nil && !s.limiter.Allow(ip) {
		s.logger.Info("auth attempts throttled", "mac", mac, "ip", ip)
		s.errorPage(w, r, http.StatusTooManyRequests, i18n.MsgSlowDown)
		return
	}
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		http.Redirect(w, r, s.splashURL(), http.StatusFound)
		return
	}

	err = s.gateway.OnClientAuthenticated(mac, ip, token, session.Quota{})
	switch {
	case errors.Is(err, gateway.ErrTokenMismatch), errors.Is(err, gateway.ErrUnknownToken):
		s.logger.Info("authentication with a stale token", "mac", mac)
		s.errorPage(w, r, http.StatusForbidden, i18n.MsgStaleLink)
		return
	case err != nil:
		s.logger.Warn("authentication failed", "mac", mac, "error", err)
		s.errorPage(w, r, http.StatusServiceUnavailable, i18n.MsgGrantFailed)
		return
	}

	redirect := safeRedirect(r.URL.Query().Get("redir"))
	if redirect != "" {
		http.Redirect(w, r, redirect, http.StatusFound)
		return
	}
	s.render(w, http.StatusOK, "online.html", pageData{MAC: mac, IP: ip})
}

func (s *Server) handleDeny(w http.ResponseWriter, r *http.Request) {
	mac, _, err := s.client(r)
	if err != nil {
		s.errorPage(w, r, http.StatusForbidden, i18n.MsgUnknownDevice)
		return
	}
	if err := s.gateway.OnClientDenied(mac); err != nil && !errors.Is(err, session.ErrNotFound) {
		s.logger.Warn("deny failed", "mac", mac, "error", err)
	}
	s.render(w, http.StatusOK, "denied.html", pageData{MAC: mac})
}

// handleCatchAll sends every other request to the splash page, carrying
// the original URL so the client can continue after logging in.
func (s *Server) handleCatchAll(w http.ResponseWriter, r *http.Request) {
	target := s.splashURL()
	if r.Host != "" {
		orig := url.URL{Scheme: "http", Host: r.Host, Path: r.URL.Path, RawQuery: r.URL.RawQuery}
		target += "?" + url.Values{"redir": {orig.String()}}.Encode()
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (s *Server) loginURL(mac, ip, token, redirect string) string {
	u, err := url.Parse(s.cfg.LoginURL)
	if err != nil {
		return s.cfg.LoginURL
	}
	q := u.Query()
	q.Set("mac", mac)
	q.Set("ip", ip)
	q.Set("token", token)
	q.Set("gw", s.splashURL())
	if redirect != "" {
		q.Set("redir", redirect)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// errorPage renders msg translated for the client's language.
func (s *Server) errorPage(w http.ResponseWriter, r *http.Request, status int, msg string) {
	s.render(w, status, "error.html", pageData{Message: i18n.GetPrinter(r.Context()).Sprintf(msg)})
}

func (s *Server) render(w http.ResponseWriter, status int, name string, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := s.templates.ExecuteTemplate(w, name, data); err != nil {
		s.logger.Error("render page", "template", name, "error", err)
	}
}

// safeRedirect accepts only absolute http(s) URLs.
func safeRedirect(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return ""
	}
	return u.String()
}
