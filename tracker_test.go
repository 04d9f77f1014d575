package tracker

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingTransport keeps every hit instead of sending it.
type recordingTransport struct {
	hits []Hit
	err  error
}

func (rt *recordingTransport) Send(_ context.Context, hit Hit) error {
	rt.hits = append(rt.hits, hit)
	return rt.err
}

func (rt *recordingTransport) last() *ParameterHolder {
	return rt.hits[len(rt.hits)-1].Params
}

type observerFunc func(Hit, error)

func (f observerFunc) Observe(h Hit, err error) { f(h, err) }

func newTestTracker(t *testing.T, cfg *Config) (*Tracker, *recordingTransport) {
	t.Helper()
	rt := &recordingTransport{}
	tr, err := NewTracker("UA-12345-6", "example.com", cfg, WithTransport(rt))
	require.NoError(t, err)
	return tr, rt
}

func fixedVisitor() *Visitor {
	return &Visitor{
		UniqueID:          1234567,
		IPAddress:         "203.0.113.55",
		Locale:            "en_US",
		UserAgent:         "Mozilla/5.0 (X11; Linux x86_64)",
		ScreenResolution:  "1920x1080",
		ScreenColorDepth:  24,
		FirstVisitTime:    time.Unix(1300000000, 0),
		PreviousVisitTime: time.Unix(1300100000, 0),
		CurrentVisitTime:  time.Unix(1300200000, 0),
		VisitCount:        3,
	}
}

func fixedSession() *Session {
	return &Session{ID: 987654, StartTime: time.Unix(1300200000, 0)}
}

func TestNewTrackerValidatesAccountID(t *testing.T) {
	for _, id := range []string{"UA-12345-6", "MO-1-2", "UA--"} {
		_, err := NewTracker(id, "example.com", nil, WithTransport(&recordingTransport{}))
		assert.NoError(t, err, id)
	}

	_, err := NewTracker("GA-1-1", "example.com", nil, WithTransport(&recordingTransport{}))
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)

	cfg := DefaultConfig()
	cfg.ErrorSeverity = SeverityWarn
	tr, err := NewTracker("GA-1-1", "example.com", &cfg, WithTransport(&recordingTransport{}))
	require.NoError(t, err)
	assert.Equal(t, "GA-1-1", tr.AccountID())
}

func TestTrackPageviewParameters(t *testing.T) {
	tr, rt := newTestTracker(t, nil)
	v, s := fixedVisitor(), fixedSession()

	cookies, err := tr.TrackPageview(context.Background(), &Page{Path: "/index.html", Title: "Home"}, s, v)
	require.NoError(t, err)
	require.Len(t, rt.hits, 1)

	p := rt.last()
	assert.Equal(t, []string{
		"utmwv", "utmac", "utmhn", "utmn", "utmip", "utmhid", "utms",
		"utmul", "utmsc", "utmsr",
		"__utma", "__utmb", "__utmc", "utmcc",
		"utmp", "utmdt",
	}, p.Names())

	assert.Equal(t, Version, p.Get("utmwv"))
	assert.Equal(t, "UA-12345-6", p.Get("utmac"))
	assert.Equal(t, "example.com", p.Get("utmhn"))
	assert.False(t, p.Has("utmt"))
	assert.Equal(t, "203.0.113.55", p.Get("utmip"))
	assert.Equal(t, "987654", p.Get("utmhid"))
	assert.Equal(t, "1", p.Get("utms"))
	assert.Equal(t, "en-us", p.Get("utmul"))
	assert.Equal(t, "24-bit", p.Get("utmsc"))

	assert.Equal(t, "60493049.1234567.1300000000.1300100000.1300200000.3", p.Get("__utma"))
	assert.Equal(t, "60493049.1.10.1300200000", p.Get("__utmb"))
	assert.Equal(t, "60493049", p.Get("__utmc"))
	assert.Equal(t, "__utma=60493049.1234567.1300000000.1300100000.1300200000.3;", p.Get("utmcc"))

	assert.Equal(t, Cookies{
		"__utma": {Value: p.Get("__utma"), MaxAge: 63072000},
		"__utmb": {Value: p.Get("__utmb"), MaxAge: 1800},
		"__utmc": {Value: "60493049"},
	}, cookies)

	hit := rt.hits[0]
	assert.Equal(t, PageviewRequest, hit.Type)
	assert.Equal(t, "203.0.113.55", hit.ForwardedFor)
	assert.Equal(t, v.UserAgent, hit.UserAgent)
}

func TestCustomVariablesAreEncodedIntoUtme(t *testing.T) {
	tr, rt := newTestTracker(t, nil)
	require.NoError(t, tr.AddCustomVariable(NewCustomVariable(2, "name2", "value2", 0)))
	require.NoError(t, tr.AddCustomVariable(NewCustomVariable(1, "name", "value", ScopePage)))

	_, err := tr.TrackPageview(context.Background(), NewPage("/"), fixedSession(), fixedVisitor())
	require.NoError(t, err)
	assert.Equal(t, "8(name*name2)9(value*value2)", rt.last().Get("utme"))
}

func TestNoCustomVariablesMeansNoUtme(t *testing.T) {
	tr, rt := newTestTracker(t, nil)
	_, err := tr.TrackPageview(context.Background(), NewPage("/"), fixedSession(), fixedVisitor())
	require.NoError(t, err)
	assert.False(t, rt.last().Has("utme"))
}

func TestSixthCustomVariableIsRejected(t *testing.T) {
	tr, _ := newTestTracker(t, nil)
	for i := 1; i <= 5; i++ {
		require.NoError(t, tr.AddCustomVariable(NewCustomVariable(i, "n", "v", ScopePage)))
	}
	before := tr.CustomVariables()

	err := tr.AddCustomVariable(NewCustomVariable(6, "n6", "v6", ScopePage))
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, before, tr.CustomVariables())

	// replacing an existing slot is not a sixth variable
	require.NoError(t, tr.AddCustomVariable(NewCustomVariable(3, "n3", "v3", ScopeSession)))
	assert.Len(t, tr.CustomVariables(), 5)
}

func TestCustomVariableValidation(t *testing.T) {
	tr, _ := newTestTracker(t, nil)
	var ve *ValidationError

	assert.ErrorAs(t, tr.AddCustomVariable(NewCustomVariable(0, "n", "v", ScopePage)), &ve)
	assert.ErrorAs(t, tr.AddCustomVariable(NewCustomVariable(1, "", "v", ScopePage)), &ve)
	assert.ErrorAs(t, tr.AddCustomVariable(NewCustomVariable(1, "n", "", ScopePage)), &ve)
	assert.ErrorAs(t, tr.AddCustomVariable(NewCustomVariable(1, "n", strings.Repeat("x", 128), ScopePage)), &ve)
	assert.ErrorAs(t, tr.AddCustomVariable(NewCustomVariable(1, "n", "v", Scope(7))), &ve)
	assert.Empty(t, tr.CustomVariables())

	tr.RemoveCustomVariable(1)
	require.NoError(t, tr.AddCustomVariable(NewCustomVariable(1, "n", "v", ScopePage)))
	tr.RemoveCustomVariable(1)
	assert.Empty(t, tr.CustomVariables())
}

func TestInvalidCustomVariableIsDroppedUnderWarn(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ErrorSeverity = SeverityWarn
	tr, _ := newTestTracker(t, &cfg)

	assert.NoError(t, tr.AddCustomVariable(NewCustomVariable(9, "n", "v", ScopePage)))
	assert.Empty(t, tr.CustomVariables())
}

func TestAnonymizeIP(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AnonymizeIPAddresses = true
	tr, rt := newTestTracker(t, &cfg)

	_, err := tr.TrackPageview(context.Background(), NewPage("/"), fixedSession(), fixedVisitor())
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.0", rt.last().Get("utmip"))
	assert.Equal(t, "1", rt.last().Get("aip"))
}

func TestDomainHashDisabled(t *testing.T) {
	for _, domain := range []string{"example.com", "www.example.org", ""} {
		assert.Equal(t, 1, domainHash(domain, false))
	}

	tr, rt := newTestTracker(t, nil)
	tr.SetAllowHash(false)
	_, err := tr.TrackPageview(context.Background(), NewPage("/"), fixedSession(), fixedVisitor())
	require.NoError(t, err)
	assert.Equal(t, "1", rt.last().Get("__utmc"))
	assert.True(t, strings.HasPrefix(rt.last().Get("__utma"), "1."))
}

func TestSessionQuotaIsAdvisory(t *testing.T) {
	tr, rt := newTestTracker(t, nil)
	s, v := fixedSession(), fixedVisitor()

	for i := 1; i <= 501; i++ {
		_, err := tr.TrackPageview(context.Background(), NewPage("/"), s, v)
		require.NoError(t, err, "call %d", i)
		assert.Equal(t, i, s.TrackCount)
	}
	require.Len(t, rt.hits, 501)
	assert.Equal(t, "501", rt.last().Get("utms"))
	assert.True(t, strings.HasPrefix(rt.last().Get("__utmb"), "60493049.501.10."))

	assert.Nil(t, rt.hits[499].Quota)
	require.NotNil(t, rt.hits[500].Quota)
	assert.Equal(t, QuotaAdvisory{TrackCount: 501, Limit: 500}, *rt.hits[500].Quota)
}

func TestSessionQuotaIsLoggedAndObserved(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Logger = slog.New(slog.NewTextHandler(&buf, nil))

	var observed []*QuotaAdvisory
	tr, err := NewTracker("UA-12345-6", "example.com", &cfg,
		WithTransport(&recordingTransport{}),
		WithObserver(observerFunc(func(h Hit, _ error) { observed = append(observed, h.Quota) })))
	require.NoError(t, err)

	s := fixedSession()
	s.TrackCount = 499
	for i := 0; i < 2; i++ {
		_, err := tr.TrackPageview(context.Background(), NewPage("/"), s, fixedVisitor())
		require.NoError(t, err)
	}

	require.Len(t, observed, 2)
	assert.Nil(t, observed[0])
	require.NotNil(t, observed[1])
	assert.Equal(t, 501, observed[1].TrackCount)
	assert.Equal(t, 1, strings.Count(buf.String(), "Session quota exceeded"))

	buf.Reset()
	cfg.ErrorSeverity = SeveritySilent
	tr, err = NewTracker("UA-12345-6", "example.com", &cfg, WithTransport(&recordingTransport{}))
	require.NoError(t, err)
	_, err = tr.TrackPageview(context.Background(), NewPage("/"), s, fixedVisitor())
	require.NoError(t, err)
	assert.Empty(t, buf.String())
}

func TestEnforcedSessionQuotaRejectsBeforeMutation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnforceSessionQuota = true
	tr, rt := newTestTracker(t, &cfg)
	s := fixedSession()
	s.TrackCount = 500

	_, err := tr.TrackPageview(context.Background(), NewPage("/"), s, fixedVisitor())
	var qa *QuotaAdvisory
	require.ErrorAs(t, err, &qa)
	assert.Equal(t, 500, s.TrackCount)
	assert.Empty(t, rt.hits)
}

func TestCampaignParameters(t *testing.T) {
	tr, rt := newTestTracker(t, nil)
	c := &Campaign{ID: "123", Source: "google", Medium: "cpc", CreationTime: time.Unix(1300000000, 0)}
	require.NoError(t, tr.SetCampaign(c))

	cookies, err := tr.TrackPageview(context.Background(), NewPage("/"), fixedSession(), fixedVisitor())
	require.NoError(t, err)

	p := rt.last()
	utmz := p.Get("__utmz")
	assert.Equal(t, "60493049.1300000000.3.1.utmcid=123|utmcsr=google|utmcmd=cpc", utmz)
	assert.True(t, strings.HasSuffix(utmz, "utmcid=123|utmcsr=google|utmcmd=cpc"))
	assert.Equal(t, "__utma="+p.Get("__utma")+";+__utmz="+utmz+";", p.Get("utmcc"))
	assert.Equal(t, Cookie{Value: utmz}, cookies["__utmz"])
	assert.Equal(t, 1, c.ResponseCount)

	_, err = tr.TrackEvent(context.Background(), &Event{Category: "c", Action: "a"}, fixedSession(), fixedVisitor())
	require.NoError(t, err)
	assert.Equal(t, 2, c.ResponseCount)
}

func TestSetCampaignValidates(t *testing.T) {
	tr, _ := newTestTracker(t, nil)
	var ve *ValidationError
	require.ErrorAs(t, tr.SetCampaign(&Campaign{Medium: "cpc"}), &ve)
	assert.Nil(t, tr.Campaign())

	require.NoError(t, tr.SetCampaign(NewCampaign(CampaignDirect)))
	require.NoError(t, tr.SetCampaign(nil))
	assert.Nil(t, tr.Campaign())
}

func TestTrackTransactionFiresOneRequestPerItem(t *testing.T) {
	tr, rt := newTestTracker(t, nil)
	s, v := fixedSession(), fixedVisitor()

	txn := &Transaction{OrderID: "order-1", Affiliation: "shop", Total: 30.5, Tax: 2.5, Shipping: 4, City: "Berlin", Country: "DE"}
	txn.AddItem(&Item{SKU: "A", Name: "Apple", Price: 1.5, Quantity: 3})
	txn.AddItem(&Item{SKU: "B", Name: "Banana", Price: 2})
	txn.AddItem(&Item{SKU: "C", Variation: "ripe", Price: 20})

	_, err := tr.TrackTransaction(context.Background(), txn, s, v)
	require.NoError(t, err)
	require.Len(t, rt.hits, 4)
	assert.Equal(t, 4, s.TrackCount)

	first := rt.hits[0].Params
	assert.Equal(t, TransactionRequest, rt.hits[0].Type)
	assert.Equal(t, "tran", first.Get("utmt"))
	assert.Equal(t, "order-1", first.Get("utmtid"))
	assert.Equal(t, "shop", first.Get("utmtst"))
	assert.Equal(t, "30.5", first.Get("utmtto"))
	assert.Equal(t, "2.5", first.Get("utmttx"))
	assert.Equal(t, "4", first.Get("utmtsp"))
	assert.Equal(t, "Berlin", first.Get("utmtci"))
	assert.False(t, first.Has("utmtrg"))
	assert.Equal(t, "DE", first.Get("utmtco"))
	assert.False(t, first.Has("utmul"), "commerce requests omit visitor fields")

	ids := map[string]bool{}
	for i, hit := range rt.hits {
		p := hit.Params
		assert.Equal(t, first.Get("__utma"), p.Get("__utma"), "hit %d", i)
		assert.Equal(t, first.Get("utmhid"), p.Get("utmhid"), "hit %d", i)
		ids[p.Get("utmn")] = true
		if i > 0 {
			assert.Equal(t, ItemRequest, hit.Type)
			assert.Equal(t, "item", p.Get("utmt"))
			assert.Equal(t, "order-1", p.Get("utmtid"))
		}
	}
	assert.Len(t, ids, 4, "request ids must be distinct")

	apple := rt.hits[1].Params
	assert.Equal(t, "A", apple.Get("utmipc"))
	assert.Equal(t, "Apple", apple.Get("utmipn"))
	assert.Equal(t, "1.5", apple.Get("utmipr"))
	assert.Equal(t, "3", apple.Get("utmiqt"))
	assert.Equal(t, "1", rt.hits[2].Params.Get("utmiqt"))
	assert.Equal(t, "ripe", rt.hits[3].Params.Get("utmiva"))
}

func TestTransactionValidationLeavesStateUnchanged(t *testing.T) {
	tr, rt := newTestTracker(t, nil)
	c := NewCampaign(CampaignDirect)
	require.NoError(t, tr.SetCampaign(c))
	s := fixedSession()

	var ve *ValidationError
	_, err := tr.TrackTransaction(context.Background(), &Transaction{OrderID: "x"}, s, fixedVisitor())
	require.ErrorAs(t, err, &ve)

	txn := &Transaction{OrderID: "x"}
	txn.AddItem(&Item{Name: "no sku"})
	_, err = tr.TrackTransaction(context.Background(), txn, s, fixedVisitor())
	require.ErrorAs(t, err, &ve)

	_, err = tr.TrackEvent(context.Background(), &Event{Category: "only"}, s, fixedVisitor())
	require.ErrorAs(t, err, &ve)

	_, err = tr.TrackSocial(context.Background(), &SocialInteraction{Network: "x"}, NewPage("/"), s, fixedVisitor())
	require.ErrorAs(t, err, &ve)

	assert.Equal(t, 0, s.TrackCount)
	assert.Equal(t, 0, c.ResponseCount)
	assert.Empty(t, rt.hits)
}

func TestTrackEvent(t *testing.T) {
	tr, rt := newTestTracker(t, nil)
	require.NoError(t, tr.AddCustomVariable(NewCustomVariable(1, "n", "v", ScopePage)))
	value := 42

	_, err := tr.TrackEvent(context.Background(), &Event{
		Category:       "Videos",
		Action:         "Play",
		Label:          "Intro (HD)",
		Value:          &value,
		NonInteraction: true,
	}, fixedSession(), fixedVisitor())
	require.NoError(t, err)

	p := rt.last()
	assert.Equal(t, "event", p.Get("utmt"))
	assert.Equal(t, "8(n)9(v)5(Videos*Play*Intro (HD'1)(42)", p.Get("utme"))
	assert.Equal(t, "1", p.Get("utmni"))
	assert.False(t, p.Has("utmp"))
}

func TestTrackSocialDefaultsTargetToPagePath(t *testing.T) {
	tr, rt := newTestTracker(t, nil)
	page := &Page{Path: "/article/7", Title: "Article"}

	_, err := tr.TrackSocial(context.Background(), &SocialInteraction{Network: "facebook", Action: "like"}, page, fixedSession(), fixedVisitor())
	require.NoError(t, err)
	p := rt.last()
	assert.Equal(t, "social", p.Get("utmt"))
	assert.Equal(t, "facebook", p.Get("utmsn"))
	assert.Equal(t, "like", p.Get("utmsa"))
	assert.Equal(t, "/article/7", p.Get("utmsid"))
	assert.Equal(t, "/article/7", p.Get("utmp"))

	_, err = tr.TrackSocial(context.Background(), &SocialInteraction{Network: "twitter", Action: "tweet", Target: "/x"}, page, fixedSession(), fixedVisitor())
	require.NoError(t, err)
	assert.Equal(t, "/x", rt.last().Get("utmsid"))
}

func TestPageviewSitespeed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SitespeedSampleRate = 100
	tr, rt := newTestTracker(t, &cfg)

	_, err := tr.TrackPageview(context.Background(), &Page{Path: "/", LoadTime: 1234, Referrer: ReferrerInternal, Charset: "UTF-8"}, fixedSession(), fixedVisitor())
	require.NoError(t, err)
	p := rt.last()
	assert.Equal(t, "14(1200)(1234)", p.Get("utme"))
	assert.Equal(t, "0", p.Get("utmr"))
	assert.Equal(t, "UTF-8", p.Get("utmcs"))

	cfg.SitespeedSampleRate = 0
	tr, rt = newTestTracker(t, &cfg)
	_, err = tr.TrackPageview(context.Background(), &Page{Path: "/", LoadTime: 1234}, fixedSession(), fixedVisitor())
	require.NoError(t, err)
	assert.False(t, rt.last().Has("utme"))
}

func TestTransportFailure(t *testing.T) {
	tr, rt := newTestTracker(t, nil)
	rt.err = errors.New("connection refused")

	var observed error
	tr.observer = observerFunc(func(_ Hit, err error) { observed = err })

	s := fixedSession()
	cookies, err := tr.TrackPageview(context.Background(), NewPage("/"), s, fixedVisitor())
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Nil(t, cookies)
	assert.Equal(t, "http://www.google-analytics.com/__utm.gif", te.URL)
	assert.EqualError(t, observed, "connection refused")
	assert.Equal(t, 1, s.TrackCount, "a failed send still counts, there is no retry")
	assert.Len(t, rt.hits, 1)
}

func TestRequestIsSingleUse(t *testing.T) {
	tr, _ := newTestTracker(t, nil)
	r := tr.newRequest(PageviewRequest, fixedSession(), fixedVisitor())
	r.page = NewPage("/")

	_, err := r.fire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, stateComplete, r.state)

	_, err = r.fire(context.Background())
	assert.ErrorIs(t, err, ErrRequestReused)
}

func TestSilentSeverityProceeds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ErrorSeverity = SeveritySilent
	tr, rt := newTestTracker(t, &cfg)

	_, err := tr.TrackEvent(context.Background(), &Event{Category: "c"}, fixedSession(), fixedVisitor())
	require.NoError(t, err)
	assert.Len(t, rt.hits, 1)
}
