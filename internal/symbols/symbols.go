// Package symbols maps exchange asset and pair spellings to canonical symbols,
// so balance lookups and ticker lookups for the same asset agree on one name.
package symbols

import (
	"sort"
	"strings"
)

// legacy four-letter asset codes carrying an X (crypto) or Z (fiat) marker
var legacyCodes = map[string]string{
	"XXBT": "XBT",
	"XETH": "ETH",
	"XETC": "ETC",
	"XLTC": "LTC",
	"XXRP": "XRP",
	"XXLM": "XLM",
	"XXMR": "XMR",
	"XZEC": "ZEC",
	"XXDG": "XDG",
	"XREP": "REP",
	"XMLN": "MLN",
	"ZEUR": "EUR",
	"ZUSD": "USD",
	"ZGBP": "GBP",
	"ZCAD": "CAD",
	"ZJPY": "JPY",
	"ZAUD": "AUD",
	"ZCHF": "CHF",
}

// suffixes marking staked, opt-in rewards, flexible or bonded variants
var variantSuffixes = []string{".HOLD", ".S", ".M", ".F", ".B", ".P"}

// aliases collapse alternative names for one economic asset
var aliases = map[string]string{
	"XBT":  "BTC",
	"XDG":  "DOGE",
	"ETH2": "ETH",
}

// exchangeNames are the names the exchange expects when building pairs
var exchangeNames = map[string]string{
	"BTC":  "XBT",
	"DOGE": "XDG",
}

// quotes tried when splitting a pair without an explicit quote
var knownQuotes = []string{"EUR", "USD", "GBP", "CAD", "JPY", "AUD", "CHF", "USDT", "USDC", "XBT", "BTC", "ETH"}

// Normalize returns the canonical symbol for an exchange asset name.
// "XXBT", "XBT.M" and "BTC" all normalize to "BTC".
func Normalize(asset string) string {
	s := strings.ToUpper(strings.TrimSpace(asset))
	if s == "" {
		return ""
	}

	for _, suffix := range variantSuffixes {
		if strings.HasSuffix(s, suffix) && len(s) > len(suffix) {
			s = strings.TrimSuffix(s, suffix)
			break
		}
	}

	// Numbered staking variants (ETH2, DOT28) are handled by the alias table only
	// where the exchange actually uses them.
	if code, ok := legacyCodes[s]; ok {
		s = code
	}
	if alias, ok := aliases[s]; ok {
		s = alias
	}
	return s
}

// ExchangeName returns the name the exchange uses for a canonical symbol
func ExchangeName(symbol string) string {
	s := Normalize(symbol)
	if name, ok := exchangeNames[s]; ok {
		return name
	}
	return s
}

// Pair builds the exchange trading pair for a canonical symbol and quote currency.
// Pair("BTC", "EUR") returns "XBTEUR".
func Pair(symbol, quote string) string {
	return ExchangeName(symbol) + ExchangeName(quote)
}

// NormalizePair returns the canonical base symbol of an exchange pair quoted in quote.
// It accepts "XXBTZEUR", "XBTEUR", "XBT/EUR" and "SOLEUR". The second return value is
// false when the pair is not quoted in quote.
func NormalizePair(pair, quote string) (string, bool) {
	p := strings.ToUpper(strings.TrimSpace(pair))
	q := Normalize(quote)
	if p == "" || q == "" {
		return "", false
	}

	if base, rest, found := strings.Cut(p, "/"); found {
		if Normalize(rest) != q {
			return "", false
		}
		return Normalize(base), true
	}

	for _, suffix := range quoteSpellings(q) {
		if strings.HasSuffix(p, suffix) && len(p) > len(suffix) {
			return Normalize(strings.TrimSuffix(p, suffix)), true
		}
	}
	return "", false
}

// SplitPair splits a pair into canonical base and quote using the known quote currencies
func SplitPair(pair string) (base, quote string, ok bool) {
	p := strings.ToUpper(strings.TrimSpace(pair))
	if b, q, found := strings.Cut(p, "/"); found {
		return Normalize(b), Normalize(q), b != "" && q != ""
	}

	// Longest suffix first so "USDT" wins over "USD"
	candidates := make([]string, 0, len(knownQuotes)*2)
	for _, q := range knownQuotes {
		candidates = append(candidates, quoteSpellings(Normalize(q))...)
	}
	sort.SliceStable(candidates, func(i, j int) bool { return len(candidates[i]) > len(candidates[j]) })

	for _, suffix := range candidates {
		if strings.HasSuffix(p, suffix) && len(p) > len(suffix) {
			return Normalize(strings.TrimSuffix(p, suffix)), Normalize(suffix), true
		}
	}
	return "", "", false
}

// quoteSpellings lists the ways a canonical quote can appear at the end of a pair,
// legacy spelling first.
func quoteSpellings(q string) []string {
	var out []string
	for legacy, code := range legacyCodes {
		if Normalize(code) == q {
			out = append(out, legacy)
		}
	}
	sort.Strings(out)
	name := ExchangeName(q)
	out = append(out, name)
	if name != q {
		out = append(out, q)
	}
	return out
}

// Equal reports whether two asset names refer to the same canonical symbol
func Equal(a, b string) bool {
	return Normalize(a) == Normalize(b)
}
