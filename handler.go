package tracker

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mileusna/useragent"
)

// Handler relays tracking payloads from a site's own frontend to the
// collector. Visitor, session and campaign state round-trips through the
// __utm cookies on the site's domain.
type Handler struct {
	cfg  Config
	opts []Option
	log  *slog.Logger
}

func NewHandler(cfg Config, opts ...Option) *Handler {
	return &Handler{
		cfg:  cfg,
		opts: opts,
		log:  loggerOrDiscard(cfg.Logger).With(slog.String("component", "Handler")),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestLogger := h.log.With(slog.String("path", r.URL.Path), slog.String("method", r.Method))

	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	var trk Tracking
	if err := json.NewDecoder(r.Body).Decode(&trk); err != nil {
		requestLogger.Error("Failed to decode tracking data from request body", slog.Any("error", err))
		var syntaxError *json.SyntaxError
		var unmarshalTypeError *json.UnmarshalTypeError
		if errors.As(err, &syntaxError) || errors.As(err, &unmarshalTypeError) {
			http.Error(w, "Bad Request: Invalid JSON format", http.StatusBadRequest)
		} else {
			http.Error(w, "Internal Server Error: Could not read request body", http.StatusInternalServerError)
		}
		return
	}
	data := trk.Action

	if ua := useragent.Parse(r.UserAgent()); ua.Bot {
		requestLogger.Debug("Skipping bot", slog.String("ua", r.UserAgent()))
		w.WriteHeader(http.StatusOK)
		return
	}

	visitor, session := h.restore(r, requestLogger)
	visitor.FromRequest(r, h.cfg.Server.ForceIP)
	if data.ScreenResolution != "" {
		visitor.ScreenResolution = data.ScreenResolution
	}
	if data.ScreenColorDepth != 0 {
		visitor.ScreenColorDepth = data.ScreenColorDepth
	}

	t, err := NewTracker(h.cfg.Server.AccountID, h.cfg.Server.DomainName, &h.cfg, h.opts...)
	if err != nil {
		requestLogger.Error("Failed to create tracker", slog.Any("error", err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if c := h.campaign(r, data.Referrer); c != nil {
		if err := t.SetCampaign(c); err != nil {
			requestLogger.Warn("Ignoring invalid campaign", slog.Any("error", err))
		}
	}

	page := &Page{Path: data.Path, Title: data.Title, Referrer: data.Referrer, LoadTime: data.LoadTime}

	var cookies Cookies
	switch data.Type {
	case "", "page", "pageview":
		cookies, err = t.TrackPageview(r.Context(), page, session, visitor)
	case "event":
		cookies, err = t.TrackEvent(r.Context(), &Event{
			Category:       data.Category,
			Action:         data.Action,
			Label:          data.Label,
			Value:          data.Value,
			NonInteraction: data.NonInteraction,
		}, session, visitor)
	case "social":
		cookies, err = t.TrackSocial(r.Context(), &SocialInteraction{
			Network: data.Network,
			Action:  data.Action,
			Target:  data.Target,
		}, page, session, visitor)
	default:
		http.Error(w, "Bad Request: unknown tracking type", http.StatusBadRequest)
		return
	}

	if err != nil {
		var ve *ValidationError
		var te *TransportError
		switch {
		case errors.As(err, &ve):
			requestLogger.Warn("Rejected tracking payload", slog.Any("error", err))
			http.Error(w, "Bad Request: "+ve.Message, http.StatusBadRequest)
		case errors.As(err, &te):
			requestLogger.Error("Failed to deliver hit", slog.Any("error", err))
			http.Error(w, "Bad Gateway", http.StatusBadGateway)
		default:
			requestLogger.Error("Failed to track", slog.Any("error", err))
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		}
		return
	}

	for _, c := range cookies.HTTPCookies(h.cfg.Server.DomainName, time.Now()) {
		http.SetCookie(w, c)
	}
	w.WriteHeader(http.StatusOK)
	requestLogger.Debug("Hit relayed", slog.String("type", data.Type))
}

// restore reads visitor and session from __utma/__utmb, starting fresh
// ones when the cookies are missing or unreadable.
func (h *Handler) restore(r *http.Request, log *slog.Logger) (*Visitor, *Session) {
	var visitor *Visitor
	if c, err := r.Cookie("__utma"); err == nil {
		if visitor, err = VisitorFromUtma(c.Value); err != nil {
			log.Debug("Ignoring unreadable __utma", slog.Any("error", err))
		}
	}
	if visitor == nil {
		session := NewSession()
		visitor = NewVisitor()
		visitor.FirstVisitTime = session.StartTime
		visitor.PreviousVisitTime = session.StartTime
		visitor.CurrentVisitTime = session.StartTime
		return visitor, session
	}

	var session *Session
	if c, err := r.Cookie("__utmb"); err == nil {
		if session, err = SessionFromUtmb(c.Value); err != nil {
			log.Debug("Ignoring unreadable __utmb", slog.Any("error", err))
		}
	}
	if session == nil {
		session = NewSession()
		visitor.AddSession(session)
	}
	return visitor, session
}

// campaign prefers a stored __utmz over a referral from another host.
func (h *Handler) campaign(r *http.Request, referrer string) *Campaign {
	if c, err := r.Cookie("__utmz"); err == nil {
		if campaign, err := CampaignFromUtmz(c.Value); err == nil {
			return campaign
		}
	}
	if referrer == "" {
		return nil
	}
	u, err := url.Parse(referrer)
	if err != nil || u.Host == "" || strings.EqualFold(u.Hostname(), h.cfg.Server.DomainName) {
		return nil
	}
	campaign, err := CampaignFromReferrer(referrer)
	if err != nil {
		return nil
	}
	return campaign
}
