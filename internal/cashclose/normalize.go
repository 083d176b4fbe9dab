package cashclose

import (
	"bytes"
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"
)

// Normalizer coerces persisted or caller-supplied shapes into canonical records.
// It never fails: unusable values degrade to defaults and unusable records are dropped.
type Normalizer struct {
	bucketer *Bucketer
	now      func() time.Time
	newID    func() string
}

// NewNormalizer builds a Normalizer that files records with the given Bucketer.
func NewNormalizer(bucketer *Bucketer) *Normalizer {
	if bucketer == nil {
		bucketer = NewBucketer(time.UTC)
	}
	return &Normalizer{
		bucketer: bucketer,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// SanitizeRecord returns the canonical record for raw, or false when raw has no usable shape.
func (n *Normalizer) SanitizeRecord(raw any) (Record, bool) {
	obj, ok := asObject(raw)
	if !ok {
		return Record{}, false
	}
	id := sanitizeID(obj["id"])
	if id == "" && n.newID != nil {
		id = strings.TrimSpace(n.newID())
	}
	if id == "" {
		return Record{}, false
	}
	loc := n.bucketer.Location()
	createdAt := n.resolveTimestamp(obj["createdAt"], Timestamp{}, loc)
	closingDate := n.resolveTimestamp(obj["closingDate"], createdAt, loc)
	if day, ok := datePrefix(obj["closingDate"], loc); ok && closingDate.Defaulted {
		closingDate = Timestamp{Time: day, Defaulted: true}
	}

	return Record{
		ID:                   id,
		CreatedAt:            createdAt,
		ClosingDate:          closingDate,
		Manager:              sanitizeText(obj["manager"]),
		TotalCRC:             sanitizeMoney(obj["totalCRC"]),
		TotalUSD:             sanitizeMoney(obj["totalUSD"]),
		RecordedBalanceCRC:   sanitizeMoney(obj["recordedBalanceCRC"]),
		RecordedBalanceUSD:   sanitizeMoney(obj["recordedBalanceUSD"]),
		DiffCRC:              sanitizeMoney(obj["diffCRC"]),
		DiffUSD:              sanitizeMoney(obj["diffUSD"]),
		Notes:                sanitizeText(obj["notes"]),
		BreakdownCRC:         sanitizeBreakdown(obj["breakdownCRC"]),
		BreakdownUSD:         sanitizeBreakdown(obj["breakdownUSD"]),
		AdjustmentResolution: n.sanitizeAdjustmentResolution(obj["adjustmentResolution"]),
	}, true
}

// SanitizeDocument returns a usable ledger document for raw. Both the bucketed
// layout and the legacy flat "closings" list are accepted.
func (n *Normalizer) SanitizeDocument(raw any, fallbackCompany string) Document {
	doc, _ := n.sanitizeDocument(raw, fallbackCompany)
	return doc
}

// sanitizeDocument also reports whether raw used the legacy flat layout.
func (n *Normalizer) sanitizeDocument(raw any, fallbackCompany string) (Document, bool) {
	doc := Document{
		Company:        NormalizeTenant(fallbackCompany),
		UpdatedAt:      Timestamp{Time: n.now(), Defaulted: true},
		ClosingsByDate: Buckets{},
	}
	if list, ok := raw.([]any); ok {
		n.fileLegacy(doc.ClosingsByDate, list)
		finishBuckets(doc.ClosingsByDate)
		return doc, true
	}
	obj, ok := asObject(raw)
	if !ok {
		return doc, false
	}
	if company := NormalizeTenant(sanitizeText(obj["company"])); company != "" {
		doc.Company = company
	}
	doc.UpdatedAt = n.resolveTimestamp(obj["updatedAt"], doc.UpdatedAt, n.bucketer.Location())

	legacy := false
	if byDate, ok := obj["closingsByDate"].(map[string]any); ok {
		for key, value := range byDate {
			list, ok := value.([]any)
			if !ok {
				continue
			}
			trusted := isDateKey(key)
			for _, item := range list {
				rec, ok := n.SanitizeRecord(item)
				if !ok {
					continue
				}
				dateKey := key
				if !trusted {
					dateKey = n.bucketer.DateKey(rec.ClosingDate)
				}
				doc.ClosingsByDate[dateKey] = append(doc.ClosingsByDate[dateKey], rec)
			}
		}
	} else if list, ok := obj["closings"].([]any); ok {
		n.fileLegacy(doc.ClosingsByDate, list)
		legacy = true
	}
	finishBuckets(doc.ClosingsByDate)
	return doc, legacy
}

func (n *Normalizer) fileLegacy(buckets Buckets, list []any) {
	records := make([]Record, 0, len(list))
	for _, item := range list {
		if rec, ok := n.SanitizeRecord(item); ok {
			records = append(records, rec)
		}
	}
	for key, grouped := range n.bucketer.Group(records) {
		buckets[key] = append(buckets[key], grouped...)
	}
}

// finishBuckets sorts every bucket newest first and keeps one record per id.
func finishBuckets(buckets Buckets) {
	for key, records := range buckets {
		sortNewestFirst(records)
		seen := make(map[string]struct{}, len(records))
		kept := records[:0]
		for _, rec := range records {
			if _, dup := seen[rec.ID]; dup {
				continue
			}
			seen[rec.ID] = struct{}{}
			kept = append(kept, rec)
		}
		if len(kept) == 0 {
			delete(buckets, key)
			continue
		}
		buckets[key] = kept
	}
}

func sortNewestFirst(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].recency() > records[j].recency()
	})
}

func (n *Normalizer) resolveTimestamp(raw any, fallback Timestamp, loc *time.Location) Timestamp {
	if t, ok := resolveTime(raw, loc); ok {
		return Timestamp{Time: t}
	}
	if !fallback.IsZero() {
		return Timestamp{Time: fallback.Time, Defaulted: true}
	}
	return Timestamp{Time: n.now().UTC(), Defaulted: true}
}

func (n *Normalizer) sanitizeAdjustmentResolution(raw any) *AdjustmentResolution {
	obj, ok := asObject(raw)
	if !ok {
		return nil
	}
	res := AdjustmentResolution{Note: sanitizeText(obj["note"])}
	if list, ok := obj["removedAdjustments"].([]any); ok {
		for _, item := range list {
			if adj, ok := n.sanitizeRemovedAdjustment(item); ok {
				res.RemovedAdjustments = append(res.RemovedAdjustments, adj)
			}
		}
	}
	res.PostAdjustmentBalanceCRC = optionalMoney(obj["postAdjustmentBalanceCRC"])
	res.PostAdjustmentBalanceUSD = optionalMoney(obj["postAdjustmentBalanceUSD"])

	if len(res.RemovedAdjustments) == 0 && res.Note == "" &&
		res.PostAdjustmentBalanceCRC == nil && res.PostAdjustmentBalanceUSD == nil {
		return nil
	}
	return &res
}

func (n *Normalizer) sanitizeRemovedAdjustment(raw any) (RemovedAdjustment, bool) {
	obj, ok := asObject(raw)
	if !ok {
		return RemovedAdjustment{}, false
	}
	adj := RemovedAdjustment{
		ID:            sanitizeID(obj["id"]),
		Currency:      sanitizeCurrency(obj["currency"]),
		Amount:        optionalMoney(obj["amount"]),
		AmountIngreso: optionalMoney(obj["amountIngreso"]),
		AmountEgreso:  optionalMoney(obj["amountEgreso"]),
		Manager:       sanitizeText(obj["manager"]),
	}
	if t, ok := resolveTime(obj["createdAt"], n.bucketer.Location()); ok {
		adj.CreatedAt = &t
	}
	if adj.ID == "" && adj.Currency == "" && adj.Amount == nil && adj.AmountIngreso == nil &&
		adj.AmountEgreso == nil && adj.Manager == "" && adj.CreatedAt == nil {
		return RemovedAdjustment{}, false
	}
	return adj, true
}

// NormalizeTenant trims and NFC-normalizes a company identifier.
func NormalizeTenant(tenant string) string {
	return norm.NFC.String(strings.TrimSpace(tenant))
}

// asObject accepts decoded JSON objects, raw JSON bytes and typed values.
func asObject(raw any) (map[string]any, bool) {
	switch v := raw.(type) {
	case nil:
		return nil, false
	case map[string]any:
		return v, true
	case json.RawMessage:
		return decodeObject(v)
	case []byte:
		return decodeObject(v)
	case string, bool, float64, json.Number, []any:
		return nil, false
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, false
	}
	return decodeObject(data)
}

func decodeObject(data []byte) (map[string]any, bool) {
	var decoded any
	if err := DecodeJSON(data, &decoded); err != nil {
		return nil, false
	}
	obj, ok := decoded.(map[string]any)
	return obj, ok
}

// DecodeJSON decodes data keeping numbers as json.Number so money values are not rounded through float64.
func DecodeJSON(data []byte, dest any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(dest)
}

func sanitizeID(raw any) string {
	switch v := raw.(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return ""
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	}
	return ""
}

func sanitizeText(raw any) string {
	s, ok := raw.(string)
	if !ok {
		return ""
	}
	return norm.NFC.String(strings.TrimSpace(s))
}

func sanitizeCurrency(raw any) Currency {
	switch Currency(strings.ToUpper(sanitizeText(raw))) {
	case CurrencyCRC:
		return CurrencyCRC
	case CurrencyUSD:
		return CurrencyUSD
	}
	return ""
}

// parseMoney truncates numeric input toward zero.
func parseMoney(raw any) (int64, bool) {
	switch v := raw.(type) {
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case float32:
		return truncateFloat(float64(v))
	case float64:
		return truncateFloat(v)
	case json.Number:
		return truncateString(v.String())
	case string:
		return truncateString(v)
	}
	return 0, false
}

func truncateFloat(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return truncateDecimal(decimal.NewFromFloat(f))
}

func truncateString(s string) (int64, bool) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, false
	}
	return truncateDecimal(d)
}

// truncateDecimal rejects values outside the int64 range instead of wrapping.
func truncateDecimal(d decimal.Decimal) (int64, bool) {
	whole := d.Truncate(0).BigInt()
	if !whole.IsInt64() {
		return 0, false
	}
	return whole.Int64(), true
}

func sanitizeMoney(raw any) int64 {
	v, _ := parseMoney(raw)
	return v
}

func optionalMoney(raw any) *int64 {
	v, ok := parseMoney(raw)
	if !ok {
		return nil
	}
	return &v
}

// sanitizeBreakdown keeps denominations with a positive count.
func sanitizeBreakdown(raw any) Breakdown {
	out := Breakdown{}
	add := func(denomRaw string, countRaw any) {
		denom, ok := truncateString(denomRaw)
		if !ok {
			return
		}
		count := sanitizeMoney(countRaw)
		if denom <= 0 || count <= 0 || out[denom] > math.MaxInt64-count {
			return
		}
		out[denom] += count
	}
	switch v := raw.(type) {
	case map[string]any:
		for k, count := range v {
			add(k, count)
		}
	case Breakdown:
		for k, count := range v {
			add(strconv.FormatInt(k, 10), count)
		}
	case map[int64]int64:
		for k, count := range v {
			add(strconv.FormatInt(k, 10), count)
		}
	case map[string]int64:
		for k, count := range v {
			add(k, count)
		}
	}
	return out
}
