package tracker

import (
	"context"
	"log/slog"
	"regexp"
	"sort"
)

var accountIDPattern = regexp.MustCompile(`^(UA|MO)-[0-9]*-[0-9]*$`)

// HitObserver is told about every hit after the transport returned.
type HitObserver interface {
	Observe(hit Hit, err error)
}

// Tracker is the client for one account and domain. A Tracker, and the
// Sessions and Campaigns used with it, must not be used from several
// goroutines at once: the track and response counters are plain ints.
type Tracker struct {
	accountID  string
	domainName string
	allowHash  bool

	customVars map[int]*CustomVariable
	campaign   *Campaign

	config    Config
	transport Transport
	observer  HitObserver
	report    reporter
	log       *slog.Logger
}

// Option customizes a Tracker.
type Option func(*Tracker)

// WithTransport replaces the HTTP transport built from the config.
func WithTransport(t Transport) Option {
	return func(tr *Tracker) { tr.transport = t }
}

// WithObserver registers o to see every fired hit.
func WithObserver(o HitObserver) Option {
	return func(tr *Tracker) { tr.observer = o }
}

// NewTracker creates a tracker. An invalid account id is reported through
// the configured severity.
func NewTracker(accountID, domainName string, cfg *Config, opts ...Option) (*Tracker, error) {
	c := DefaultConfig()
	if cfg != nil {
		c = *cfg
	}
	log := loggerOrDiscard(c.Logger).With(slog.String("component", "Tracker"))

	t := &Tracker{
		domainName: domainName,
		allowHash:  true,
		customVars: make(map[int]*CustomVariable),
		config:     c,
		report:     reporter{severity: c.ErrorSeverity, log: log},
		log:        log,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.transport == nil {
		t.transport = NewHTTPTransport(c)
	}
	if err := t.SetAccountID(accountID); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Tracker) SetAccountID(id string) error {
	if !accountIDPattern.MatchString(id) {
		if err := t.report.report(validationErrorf("SetAccountID", "%q is not a valid account id", id)); err != nil {
			return err
		}
	}
	t.accountID = id
	return nil
}

func (t *Tracker) AccountID() string  { return t.accountID }
func (t *Tracker) DomainName() string { return t.domainName }

func (t *Tracker) SetDomainName(name string) { t.domainName = name }

// SetAllowHash toggles the domain hash; disabled, every cookie carries 1.
func (t *Tracker) SetAllowHash(allow bool) { t.allowHash = allow }

func (t *Tracker) AllowHash() bool { return t.allowHash }

func (t *Tracker) Config() Config { return t.config }

func (t *Tracker) domainHash() int {
	return domainHash(t.domainName, t.allowHash)
}

// AddCustomVariable stores v in its slot, replacing a variable with the
// same index. Invalid variables are never stored.
func (t *Tracker) AddCustomVariable(v *CustomVariable) error {
	if err := v.validate(); err != nil {
		return t.report.report(err)
	}
	if _, taken := t.customVars[v.Index]; !taken && len(t.customVars) >= maxCustomVariables {
		return t.report.report(validationErrorf("AddCustomVariable", "the sum of all custom variables cannot exceed %d", maxCustomVariables))
	}
	t.customVars[v.Index] = v
	return nil
}

func (t *Tracker) RemoveCustomVariable(index int) {
	delete(t.customVars, index)
}

// CustomVariables returns the active variables ordered by index.
func (t *Tracker) CustomVariables() []*CustomVariable {
	out := make([]*CustomVariable, 0, len(t.customVars))
	for _, v := range t.customVars {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// SetCampaign attaches c; nil detaches the current campaign.
func (t *Tracker) SetCampaign(c *Campaign) error {
	if c != nil {
		if err := c.validate(); err != nil {
			if err := t.report.report(err); err != nil {
				return err
			}
		}
	}
	t.campaign = c
	return nil
}

func (t *Tracker) Campaign() *Campaign { return t.campaign }

// checkRequest runs the checks every request shares before any counter
// moves. hits is the number of requests about to be fired.
func (t *Tracker) checkRequest(s *Session, v *Visitor, hits int) error {
	if s == nil || v == nil {
		return validationErrorf("Tracker", "session and visitor are required")
	}
	if len(t.customVars) > maxCustomVariables {
		if err := t.report.report(validationErrorf("Tracker", "the sum of all custom variables cannot exceed %d in any given request", maxCustomVariables)); err != nil {
			return err
		}
	}
	if t.config.EnforceSessionQuota && s.TrackCount+hits > sessionQuota {
		return t.report.report(&QuotaAdvisory{TrackCount: s.TrackCount + hits, Limit: sessionQuota})
	}
	return nil
}

func (t *Tracker) newRequest(typ RequestType, s *Session, v *Visitor) *request {
	return &request{typ: typ, tracker: t, session: s, visitor: v}
}

// TrackPageview is the equivalent of ga.js _trackPageview.
func (t *Tracker) TrackPageview(ctx context.Context, page *Page, s *Session, v *Visitor) (Cookies, error) {
	if page == nil {
		return nil, validationErrorf("TrackPageview", "page is required")
	}
	if err := t.checkRequest(s, v, 1); err != nil {
		return nil, err
	}
	r := t.newRequest(PageviewRequest, s, v)
	r.page = page
	return r.fire(ctx)
}

// TrackEvent is the equivalent of ga.js _trackEvent.
func (t *Tracker) TrackEvent(ctx context.Context, e *Event, s *Session, v *Visitor) (Cookies, error) {
	if e == nil {
		return nil, validationErrorf("TrackEvent", "event is required")
	}
	if err := e.validate(); err != nil {
		if err := t.report.report(err); err != nil {
			return nil, err
		}
	}
	if err := t.checkRequest(s, v, 1); err != nil {
		return nil, err
	}
	r := t.newRequest(EventRequest, s, v)
	r.event = e
	return r.fire(ctx)
}

// TrackTransaction fires the transaction followed by one request per item.
// It returns the cookies of the last request that succeeded.
func (t *Tracker) TrackTransaction(ctx context.Context, tr *Transaction, s *Session, v *Visitor) (Cookies, error) {
	if tr == nil {
		return nil, validationErrorf("TrackTransaction", "transaction is required")
	}
	if err := tr.validate(); err != nil {
		if err := t.report.report(err); err != nil {
			return nil, err
		}
	}
	if err := t.checkRequest(s, v, 1+len(tr.items)); err != nil {
		return nil, err
	}

	r := t.newRequest(TransactionRequest, s, v)
	r.transaction = tr
	cookies, err := r.fire(ctx)
	if err != nil {
		return nil, err
	}

	for _, item := range tr.items {
		r := t.newRequest(ItemRequest, s, v)
		r.item = item
		c, err := r.fire(ctx)
		if err != nil {
			return cookies, err
		}
		cookies = c
	}
	return cookies, nil
}

// TrackSocial is the equivalent of ga.js _trackSocial.
func (t *Tracker) TrackSocial(ctx context.Context, si *SocialInteraction, page *Page, s *Session, v *Visitor) (Cookies, error) {
	if si == nil || page == nil {
		return nil, validationErrorf("TrackSocial", "social interaction and page are required")
	}
	if err := si.validate(); err != nil {
		if err := t.report.report(err); err != nil {
			return nil, err
		}
	}
	if err := t.checkRequest(s, v, 1); err != nil {
		return nil, err
	}
	r := t.newRequest(SocialRequest, s, v)
	r.social = si
	r.page = page
	return r.fire(ctx)
}
