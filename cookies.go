package tracker

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Cookie lifetimes in seconds. Zero means a browser-session cookie.
const (
	utmaMaxAge = 63072000
	utmbMaxAge = 1800
)

// utmbToken is the fixed third field of __utmb as written by ga.js.
const utmbToken = 10

// Cookie is a value the caller should persist for the visitor.
type Cookie struct {
	Value string
	// MaxAge in seconds; zero means it expires with the browser session.
	MaxAge int
}

// Cookies maps cookie names (__utma, __utmb, __utmc, __utmz) to values.
type Cookies map[string]Cookie

// HTTPCookies converts the set for http.SetCookie, in name order.
func (c Cookies) HTTPCookies(domain string, now time.Time) []*http.Cookie {
	var out []*http.Cookie
	for _, name := range []string{"__utma", "__utmb", "__utmc", "__utmz"} {
		ck, ok := c[name]
		if !ok {
			continue
		}
		hc := &http.Cookie{Name: name, Value: ck.Value, Path: "/", Domain: domain}
		if ck.MaxAge > 0 {
			hc.MaxAge = ck.MaxAge
			hc.Expires = now.Add(time.Duration(ck.MaxAge) * time.Second)
		}
		out = append(out, hc)
	}
	return out
}

// domainHash is 1 when hashing is disabled, else the ga.js hash of domain.
func domainHash(domain string, allowHash bool) int {
	if !allowHash {
		return 1
	}
	return GenerateHash(domain)
}

// buildCookieParameters writes __utma, __utmb, __utmc and the combined
// utmcc. A __utmz already present in p is included in utmcc.
func buildCookieParameters(p *ParameterHolder, hash int, v *Visitor, s *Session) {
	h := strconv.Itoa(hash)

	p.Set("__utma", strings.Join([]string{
		h,
		strconv.Itoa(v.uniqueID()),
		TimeToUnix(v.FirstVisitTime),
		TimeToUnix(v.PreviousVisitTime),
		TimeToUnix(v.CurrentVisitTime),
		strconv.Itoa(v.VisitCount),
	}, "."))

	p.Set("__utmb", strings.Join([]string{
		h,
		strconv.Itoa(s.TrackCount),
		strconv.Itoa(utmbToken),
		TimeToUnix(s.StartTime),
	}, "."))

	p.Set("__utmc", h)

	cookies := []string{"__utma=" + p.Get("__utma") + ";"}
	if p.Has("__utmz") {
		cookies = append(cookies, "__utmz="+p.Get("__utmz")+";")
	}
	p.Set("utmcc", strings.Join(cookies, "+"))
}

// cookiesFrom extracts the values the caller persists.
func cookiesFrom(p *ParameterHolder) Cookies {
	c := make(Cookies, 4)
	if p.Has("__utma") {
		c["__utma"] = Cookie{Value: p.Get("__utma"), MaxAge: utmaMaxAge}
	}
	if p.Has("__utmb") {
		c["__utmb"] = Cookie{Value: p.Get("__utmb"), MaxAge: utmbMaxAge}
	}
	if p.Has("__utmc") {
		c["__utmc"] = Cookie{Value: p.Get("__utmc")}
	}
	if p.Has("__utmz") {
		c["__utmz"] = Cookie{Value: p.Get("__utmz")}
	}
	return c
}
