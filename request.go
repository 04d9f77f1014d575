package tracker

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"
)

// RequestType is the closed set of tracking request kinds.
type RequestType int

const (
	PageviewRequest RequestType = iota
	EventRequest
	TransactionRequest
	ItemRequest
	SocialRequest
)

func (t RequestType) String() string {
	switch t {
	case PageviewRequest:
		return "page"
	case EventRequest:
		return "event"
	case TransactionRequest:
		return "transaction"
	case ItemRequest:
		return "item"
	case SocialRequest:
		return "social"
	}
	return "RequestType(" + strconv.Itoa(int(t)) + ")"
}

// discriminator is the utmt value; pageviews send none.
func (t RequestType) discriminator() string {
	switch t {
	case EventRequest:
		return "event"
	case TransactionRequest:
		return "tran"
	case ItemRequest:
		return "item"
	case SocialRequest:
		return "social"
	}
	return ""
}

// commerce requests carry neither visitor fields nor custom variables.
func (t RequestType) commerce() bool {
	return t == TransactionRequest || t == ItemRequest
}

type requestState int

const (
	stateConstructed requestState = iota
	stateBuilt
	stateFired
	stateComplete
	stateFailed
)

// Hit is one finished outbound request handed to a Transport.
type Hit struct {
	Type   RequestType
	Params *ParameterHolder
	// ForwardedFor and UserAgent travel as request headers.
	ForwardedFor string
	UserAgent    string
	FiredAt      time.Time
	// Quota is set when the session went past the number of requests the
	// collector guarantees to process. The hit is still sent.
	Quota *QuotaAdvisory
}

// request builds and fires exactly one hit.
type request struct {
	typ     RequestType
	tracker *Tracker
	visitor *Visitor
	session *Session

	page        *Page
	event       *Event
	transaction *Transaction
	item        *Item
	social      *SocialInteraction

	state   requestState
	params  *ParameterHolder
	cookies Cookies
}

func (r *request) fire(ctx context.Context) (Cookies, error) {
	if r.state != stateConstructed {
		return nil, ErrRequestReused
	}
	t := r.tracker

	r.session.increaseTrackCount()
	var quota *QuotaAdvisory
	if r.session.TrackCount > sessionQuota {
		quota = &QuotaAdvisory{TrackCount: r.session.TrackCount, Limit: sessionQuota}
		if t.config.ErrorSeverity != SeveritySilent {
			t.log.Warn("Session quota exceeded", slog.Any("error", quota), slog.Int("sessionId", r.session.ID))
		}
	}
	if t.campaign != nil {
		t.campaign.increaseResponseCount()
	}

	r.params = r.buildParameters()
	r.state = stateBuilt

	hit := Hit{
		Type:         r.typ,
		Params:       r.params,
		ForwardedFor: r.visitor.IPAddress,
		UserAgent:    r.visitor.UserAgent,
		FiredAt:      time.Now(),
		Quota:        quota,
	}
	r.state = stateFired
	err := t.transport.Send(ctx, hit)
	if t.observer != nil {
		t.observer.Observe(hit, err)
	}
	if err != nil {
		r.state = stateFailed
		var te *TransportError
		if !errors.As(err, &te) {
			err = &TransportError{URL: t.config.EndpointURL(), Err: err}
		}
		return nil, err
	}

	r.state = stateComplete
	r.cookies = cookiesFrom(r.params)
	return r.cookies, nil
}

// buildParameters assembles the parameter set. The order of the steps is
// fixed: utmcc references the __utmz written by the campaign step.
func (r *request) buildParameters() *ParameterHolder {
	t := r.tracker
	p := NewParameterHolder()

	p.Set("utmwv", Version)
	p.Set("utmac", t.accountID)
	p.Set("utmhn", t.domainName)
	if d := r.typ.discriminator(); d != "" {
		p.Set("utmt", d)
	}
	p.Set("utmn", strconv.Itoa(Generate32bitRandom()))

	if ip := r.visitor.IPAddress; ip != "" {
		if t.config.AnonymizeIPAddresses {
			ip = AnonymizeIP(ip)
		}
		p.Set("utmip", ip)
	}
	if t.config.AnonymizeIPAddresses {
		p.Set("aip", "1")
	}

	p.Set("utmhid", strconv.Itoa(r.session.ID))
	p.Set("utms", strconv.Itoa(r.session.TrackCount))

	if !r.typ.commerce() {
		r.buildVisitorParameters(p)
		if vars := t.CustomVariables(); len(vars) > 0 {
			p.Append("utme", encodeCustomVariables(vars))
		}
	}

	hash := t.domainHash()
	if t.campaign != nil {
		p.Set("__utmz", t.campaign.utmz(hash, r.visitor.VisitCount))
	}
	buildCookieParameters(p, hash, r.visitor, r.session)

	switch r.typ {
	case PageviewRequest:
		r.buildPageParameters(p)
	case EventRequest:
		r.buildEventParameters(p)
	case TransactionRequest:
		r.buildTransactionParameters(p)
	case ItemRequest:
		r.buildItemParameters(p)
	case SocialRequest:
		r.buildPageParameters(p)
		r.buildSocialParameters(p)
	}
	return p
}

func (r *request) buildVisitorParameters(p *ParameterHolder) {
	v := r.visitor
	p.Set("utmul", v.locale())
	if v.FlashVersion != "" {
		p.Set("utmfl", v.FlashVersion)
	}
	if v.JavaEnabled != nil {
		if *v.JavaEnabled {
			p.Set("utmje", "1")
		} else {
			p.Set("utmje", "0")
		}
	}
	if v.ScreenColorDepth != 0 {
		p.Set("utmsc", strconv.Itoa(v.ScreenColorDepth)+"-bit")
	}
	if v.ScreenResolution != "" {
		p.Set("utmsr", v.ScreenResolution)
	}
}

// maximum bucketed load time, in units of 100ms
const sitespeedMaxBucket = 5000

func (r *request) buildPageParameters(p *ParameterHolder) {
	pg := r.page
	p.Set("utmp", pg.Path)
	if pg.Title != "" {
		p.Set("utmdt", pg.Title)
	}
	if pg.Charset != "" {
		p.Set("utmcs", pg.Charset)
	}
	if pg.Referrer != "" {
		p.Set("utmr", pg.Referrer)
	}

	if pg.LoadTime <= 0 {
		return
	}
	utmn, _ := strconv.Atoi(p.Get("utmn"))
	if utmn%100 >= r.tracker.config.SitespeedSampleRate {
		return
	}
	bucket := min(max(pg.LoadTime/100, 0), sitespeedMaxBucket) * 100

	var x X10
	x.ClearKey(x10SitespeedProjectID)
	x.ClearValue(x10SitespeedProjectID)
	x.SetKey(x10SitespeedProjectID, x10ObjectKeyNum, strconv.Itoa(bucket))
	x.SetValue(x10SitespeedProjectID, x10ValueValueNum, strconv.Itoa(pg.LoadTime))
	p.Append("utme", x.Render())
}

func (r *request) buildEventParameters(p *ParameterHolder) {
	e := r.event

	var x X10
	x.ClearKey(x10EventProjectID)
	x.ClearValue(x10EventProjectID)
	x.SetKey(x10EventProjectID, x10ObjectKeyNum, e.Category)
	x.SetKey(x10EventProjectID, x10TypeKeyNum, e.Action)
	x.SetKey(x10EventProjectID, x10LabelKeyNum, e.Label)
	if e.Value != nil {
		x.SetValue(x10EventProjectID, x10ValueValueNum, strconv.Itoa(*e.Value))
	}
	p.Append("utme", x.Render())

	if e.NonInteraction {
		p.Set("utmni", "1")
	}
}

func (r *request) buildTransactionParameters(p *ParameterHolder) {
	tr := r.transaction
	p.Set("utmtid", tr.OrderID)
	setIfNotEmpty(p, "utmtst", tr.Affiliation)
	p.Set("utmtto", formatMoney(tr.Total))
	p.Set("utmttx", formatMoney(tr.Tax))
	p.Set("utmtsp", formatMoney(tr.Shipping))
	setIfNotEmpty(p, "utmtci", tr.City)
	setIfNotEmpty(p, "utmtrg", tr.Region)
	setIfNotEmpty(p, "utmtco", tr.Country)
}

func (r *request) buildItemParameters(p *ParameterHolder) {
	it := r.item
	p.Set("utmtid", it.OrderID)
	p.Set("utmipc", it.SKU)
	setIfNotEmpty(p, "utmipn", it.Name)
	setIfNotEmpty(p, "utmiva", it.Variation)
	p.Set("utmipr", formatMoney(it.Price))
	p.Set("utmiqt", strconv.Itoa(it.quantity()))
}

func (r *request) buildSocialParameters(p *ParameterHolder) {
	s := r.social
	p.Set("utmsn", s.Network)
	p.Set("utmsa", s.Action)
	target := s.Target
	if target == "" {
		target = r.page.Path
	}
	p.Set("utmsid", target)
}

func setIfNotEmpty(p *ParameterHolder, name, value string) {
	if value != "" {
		p.Set(name, value)
	}
}
