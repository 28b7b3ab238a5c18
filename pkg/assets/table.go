// Package assets resolves instrument mentions in free text to CoinGecko ids
// and forex pairs.
package assets

import (
	_ "embed"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

const logPrefix = "assets:table"

//go:embed aliases.yaml
var embeddedAliases []byte

var (
	pairRE   = regexp.MustCompile(`\b([A-Za-z]{3,5})\s*[/\-]\s*([A-Za-z]{3,5})\b`)
	sixRE    = regexp.MustCompile(`\b([A-Za-z]{6})\b`)
	symbolRE = regexp.MustCompile(`\b[A-Z]{2,5}\b`)
)

// Coin is one entry of the alias table.
type Coin struct {
	ID      string   `yaml:"id"`
	Symbols []string `yaml:"symbols"`
	Names   []string `yaml:"names"`
}

type document struct {
	Currencies []string `yaml:"currencies"`
	Coins      []Coin   `yaml:"coins"`
}

type nameEntry struct {
	re *regexp.Regexp
	id string
}

// Table is an immutable alias table.
type Table struct {
	coins      map[string]Coin
	lookup     map[string]string
	symbols    map[string]string
	names      []nameEntry
	currencies map[string]struct{}
}

// Load parses a YAML alias document.
func Load(data []byte) (*Table, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%s - parse aliases: %w", logPrefix, err)
	}
	t := &Table{
		coins:      make(map[string]Coin, len(doc.Coins)),
		lookup:     make(map[string]string),
		symbols:    make(map[string]string),
		currencies: make(map[string]struct{}, len(doc.Currencies)),
	}
	for _, c := range doc.Currencies {
		t.currencies[strings.ToUpper(c)] = struct{}{}
	}
	for _, c := range doc.Coins {
		if c.ID == "" {
			return nil, fmt.Errorf("%s - coin without id", logPrefix)
		}
		t.coins[c.ID] = c
		t.lookup[c.ID] = c.ID
		for _, s := range c.Symbols {
			t.symbols[strings.ToUpper(s)] = c.ID
			t.lookup[strings.ToLower(s)] = c.ID
		}
		for _, n := range c.Names {
			t.lookup[strings.ToLower(n)] = c.ID
			t.names = append(t.names, nameEntry{
				re: regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(n) + `\b`),
				id: c.ID,
			})
		}
	}
	// Longer names first so "bitcoin cash" wins over "bitcoin".
	sort.SliceStable(t.names, func(i, j int) bool {
		return len(t.names[i].re.String()) > len(t.names[j].re.String())
	})
	return t, nil
}

var defaultTable = sync.OnceValue(func() *Table {
	t, err := Load(embeddedAliases)
	if err != nil {
		panic(err)
	}
	return t
})

// Default returns the embedded alias table.
func Default() *Table {
	return defaultTable()
}

// CoinID resolves a symbol, name or id case-insensitively.
func (t *Table) CoinID(alias string) (string, bool) {
	id, ok := t.lookup[strings.ToLower(strings.TrimSpace(alias))]
	return id, ok
}

// Symbol returns the primary ticker for a coin id, or the upper-cased id
// when the coin is not in the table.
func (t *Table) Symbol(id string) string {
	if c, ok := t.coins[id]; ok && len(c.Symbols) > 0 {
		return c.Symbols[0]
	}
	return strings.ToUpper(id)
}

// IsCurrency reports whether code is a known fiat currency.
func (t *Table) IsCurrency(code string) bool {
	_, ok := t.currencies[strings.ToUpper(code)]
	return ok
}

// ExtractPair finds a forex pair such as "EUR/USD", "eur-usd" or "EURUSD" and
// returns it as "BASE/QUOTE". Six-letter words only count when both halves
// are known currencies.
func (t *Table) ExtractPair(text string) string {
	if m := pairRE.FindStringSubmatch(text); m != nil {
		return strings.ToUpper(m[1]) + "/" + strings.ToUpper(m[2])
	}
	for _, m := range sixRE.FindAllStringSubmatch(text, -1) {
		w := strings.ToUpper(m[1])
		if t.IsCurrency(w[:3]) && t.IsCurrency(w[3:]) {
			return w[:3] + "/" + w[3:]
		}
	}
	return ""
}

// ExtractSymbol scans text for a known coin and returns its id. Names match
// in any case; tickers only when written in upper case.
func (t *Table) ExtractSymbol(text string) string {
	for _, n := range t.names {
		if n.re.MatchString(text) {
			return n.id
		}
	}
	for _, w := range symbolRE.FindAllString(text, -1) {
		if id, ok := t.symbols[w]; ok {
			return id
		}
	}
	return ""
}
