package tracker

import (
	"net/url"
	"strconv"
	"strings"
	"time"
)

// CampaignType selects the attribution defaults of NewCampaign.
type CampaignType string

const (
	CampaignDirect   CampaignType = "direct"
	CampaignOrganic  CampaignType = "organic"
	CampaignReferral CampaignType = "referral"
)

const campaignDelimiter = "|"

// Campaign is the traffic source a visitor arrived from. ResponseCount is
// incremented once per request fired while the campaign is attached; it
// is not safe for concurrent use.
type Campaign struct {
	ID       string
	Source   string
	GClickID string
	DClickID string
	Name     string
	Medium   string
	Term     string
	Content  string

	CreationTime  time.Time
	ResponseCount int
}

func NewCampaign(typ CampaignType) *Campaign {
	c := &Campaign{CreationTime: time.Now()}
	switch typ {
	case CampaignDirect:
		c.Source = "(direct)"
		c.Name = "(direct)"
		c.Medium = "(none)"
	case CampaignOrganic:
		c.Name = "(organic)"
		c.Medium = "organic"
	case CampaignReferral:
		c.Name = "(referral)"
		c.Medium = "referral"
	}
	return c
}

// CampaignFromReferrer builds a referral campaign from the referring URL.
func CampaignFromReferrer(referrer string) (*Campaign, error) {
	u, err := url.Parse(referrer)
	if err != nil {
		return nil, validationErrorf("CampaignFromReferrer", "invalid referrer %q: %v", referrer, err)
	}
	if u.Host == "" {
		return nil, validationErrorf("CampaignFromReferrer", "referrer %q has no host", referrer)
	}
	c := NewCampaign(CampaignReferral)
	c.Source = u.Host
	c.Content = u.Path
	return c, nil
}

// CampaignFromUtmz restores a campaign from a __utmz cookie value.
func CampaignFromUtmz(value string) (*Campaign, error) {
	parts := strings.SplitN(value, ".", 5)
	if len(parts) != 5 {
		return nil, validationErrorf("CampaignFromUtmz", "expected 5 fields in %q", value)
	}
	created, err := unixToTime(parts[1])
	if err != nil {
		return nil, validationErrorf("CampaignFromUtmz", "invalid creation time %q", parts[1])
	}
	responses, err := strconv.Atoi(parts[3])
	if err != nil {
		return nil, validationErrorf("CampaignFromUtmz", "invalid response count %q", parts[3])
	}

	c := &Campaign{CreationTime: created, ResponseCount: responses}
	for _, pair := range strings.Split(parts[4], campaignDelimiter) {
		key, val, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		if f := c.field(key); f != nil {
			*f = strings.ReplaceAll(val, "%20", " ")
		}
	}
	return c, nil
}

// field maps a utmz key to its struct field.
func (c *Campaign) field(key string) *string {
	switch key {
	case "utmcid":
		return &c.ID
	case "utmcsr":
		return &c.Source
	case "utmgclid":
		return &c.GClickID
	case "utmdclid":
		return &c.DClickID
	case "utmccn":
		return &c.Name
	case "utmcmd":
		return &c.Medium
	case "utmctr":
		return &c.Term
	case "utmcct":
		return &c.Content
	}
	return nil
}

// utmz keys in cookie order
var campaignKeys = []string{"utmcid", "utmcsr", "utmgclid", "utmdclid", "utmccn", "utmcmd", "utmctr", "utmcct"}

func (c *Campaign) validate() error {
	if c.Source == "" {
		return validationErrorf("Campaign", `campaigns need to have at least the "source" attribute defined`)
	}
	return nil
}

func (c *Campaign) increaseResponseCount() {
	c.ResponseCount++
}

// Only spaces and pluses are escaped, like ga.js does.
var campaignEscaper = strings.NewReplacer("+", "%20", " ", "%20")

// utmz renders the __utmz cookie value.
func (c *Campaign) utmz(domainHash, visitCount int) string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(domainHash))
	b.WriteByte('.')
	b.WriteString(TimeToUnix(c.CreationTime))
	b.WriteByte('.')
	b.WriteString(strconv.Itoa(visitCount))
	b.WriteByte('.')
	b.WriteString(strconv.Itoa(c.ResponseCount))
	b.WriteByte('.')

	for _, key := range campaignKeys {
		v := *c.field(key)
		if v == "" {
			continue
		}
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(campaignEscaper.Replace(v))
		b.WriteString(campaignDelimiter)
	}
	return strings.TrimRight(b.String(), campaignDelimiter)
}
