package classifier

// Catalog maps a model's output index to a sign label, and labels to
// localized text for display.
//
// The order must match the label index space the active bundle was trained
// against. Nothing checks this: a reordered catalog silently mislabels
// predictions.
type Catalog struct {
	labels       []string
	index        map[string]int
	translations map[string]string
}

// NewCatalog builds a Catalog from ordered labels and an optional translation
// table.
func NewCatalog(labels []string, translations map[string]string) Catalog {
	c := Catalog{
		labels:       append([]string(nil), labels...),
		index:        make(map[string]int, len(labels)),
		translations: make(map[string]string, len(translations)),
	}
	for i, l := range c.labels {
		if _, dup := c.index[l]; !dup {
			c.index[l] = i
		}
	}
	for k, v := range translations {
		c.translations[k] = v
	}
	return c
}

// DefaultLabels is the label order of the stock sign model.
var DefaultLabels = []string{
	"hello", "thanks", "yes", "no", "iloveyou",
	"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k", "l", "m",
	"n", "o", "p", "r", "s", "t", "u", "v", "w", "x", "y", "z",
}

// DefaultTranslations holds Filipino text for the word signs. Letters have no
// entry.
var DefaultTranslations = map[string]string{
	"hello":    "kumusta",
	"thanks":   "salamat",
	"yes":      "oo",
	"no":       "hindi",
	"iloveyou": "mahal kita",
}

// DefaultCatalog returns the catalog for the stock sign model.
func DefaultCatalog() Catalog {
	return NewCatalog(DefaultLabels, DefaultTranslations)
}

// Label returns the label for a model output index.
func (c Catalog) Label(i int) (string, bool) {
	if i < 0 || i >= len(c.labels) {
		return "", false
	}
	return c.labels[i], true
}

// Index returns the model output index of a label.
func (c Catalog) Index(label string) (int, bool) {
	i, ok := c.index[label]
	return i, ok
}

// Translate returns the localized text for a label, if there is one.
func (c Catalog) Translate(label string) (string, bool) {
	t, ok := c.translations[label]
	return t, ok
}

// Labels returns a copy of the ordered labels.
func (c Catalog) Labels() []string {
	return append([]string(nil), c.labels...)
}

// Len returns the number of labels.
func (c Catalog) Len() int {
	return len(c.labels)
}
