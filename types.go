package tracker

import (
	"strconv"
)

// Page is the subject of a pageview or social interaction.
type Page struct {
	Path     string
	Title    string
	Charset  string
	Referrer string
	// LoadTime in milliseconds; zero means not measured.
	LoadTime int
}

// ReferrerInternal marks a referrer on the tracked site itself.
const ReferrerInternal = "0"

func NewPage(path string) *Page {
	return &Page{Path: path}
}

type Event struct {
	Category string
	Action   string
	Label    string
	// Value is optional; nil means unset.
	Value          *int
	NonInteraction bool
}

func (e *Event) validate() error {
	if e.Category == "" || e.Action == "" {
		return validationErrorf("Event", "events need at least to have a category and action defined")
	}
	return nil
}

// Item is one transaction line. Quantity defaults to 1 when left at zero.
type Item struct {
	OrderID   string
	SKU       string
	Name      string
	Variation string
	Price     float64
	Quantity  int
}

func (i *Item) validate() error {
	if i.SKU == "" {
		return validationErrorf("Item", "items need to have a sku/product code defined")
	}
	return nil
}

func (i *Item) quantity() int {
	if i.Quantity == 0 {
		return 1
	}
	return i.Quantity
}

type Transaction struct {
	OrderID     string
	Affiliation string
	Total       float64
	Tax         float64
	Shipping    float64
	City        string
	Region      string
	Country     string

	items []*Item
}

// AddItem adds or replaces the item with the same SKU and stamps the
// transaction's order id on it.
func (t *Transaction) AddItem(item *Item) {
	item.OrderID = t.OrderID
	for i, it := range t.items {
		if it.SKU == item.SKU {
			t.items[i] = item
			return
		}
	}
	t.items = append(t.items, item)
}

func (t *Transaction) Items() []*Item {
	return t.items
}

func (t *Transaction) validate() error {
	if t.OrderID == "" {
		return validationErrorf("Transaction", "transactions need to have an order id defined")
	}
	if len(t.items) == 0 {
		return validationErrorf("Transaction", "transactions need to have at least one item")
	}
	for _, it := range t.items {
		if err := it.validate(); err != nil {
			return err
		}
	}
	return nil
}

// SocialInteraction is a share/like style action. An empty Target defaults
// to the page path.
type SocialInteraction struct {
	Network string
	Action  string
	Target  string
}

func (s *SocialInteraction) validate() error {
	if s.Network == "" || s.Action == "" {
		return validationErrorf("SocialInteraction", `social interactions need to have at least the "network" and "action" attributes defined`)
	}
	return nil
}

func formatMoney(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// TrackingData is the JSON payload the relay handler accepts.
type TrackingData struct {
	Type     string `json:"type"`
	Path     string `json:"path"`
	Title    string `json:"title"`
	Referrer string `json:"referrer"`
	LoadTime int    `json:"loadTime"`

	Category       string `json:"category"`
	Action         string `json:"action"`
	Label          string `json:"label"`
	Value          *int   `json:"value"`
	NonInteraction bool   `json:"nonInteraction"`

	Network string `json:"network"`
	Target  string `json:"target"`

	ScreenResolution string `json:"screenResolution"`
	ScreenColorDepth int    `json:"screenColorDepth"`
}

type Tracking struct {
	Action TrackingData `json:"tracking"`
}
