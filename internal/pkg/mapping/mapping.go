package mapping

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/kroy-the-rabbit/weewx-mqtt/internal/pkg/config"
	"github.com/kroy-the-rabbit/weewx-mqtt/internal/pkg/model"
)

// Rule maps one raw payload field to a canonical field, optionally scoped to a
// single device id. An empty DeviceID matches every device of the model.
type Rule struct {
	Model          string
	DeviceID       string
	SourceField    string
	CanonicalField string
}

func (r Rule) String() string {
	scope := "*"
	if r.DeviceID != "" {
		scope = r.DeviceID
	}
	return fmt.Sprintf("%s[%s].%s -> %s", r.Model, scope, r.SourceField, r.CanonicalField)
}

// Table is the immutable lookup table built once at startup from the mapping
// configuration. Specifier strings are parsed here so the poll path never
// splits strings.
type Table struct {
	units  model.UnitSystem
	rules  map[string][]Rule
	logger *zap.Logger

	fieldErrors atomic.Uint64
}

// New parses every specifier in cfg into a structured rule table. An invalid
// specifier, or a qualified specifier whose model segment disagrees with its
// section, is a configuration error and therefore fatal.
func New(cfg *config.Mappings) (*Table, error) {
	units, err := model.ParseUnitSystem(cfg.Units)
	if err != nil {
		return nil, err
	}

	t := &Table{
		units:  units,
		rules:  make(map[string][]Rule, len(cfg.Models)),
		logger: zap.L(),
	}

	for _, mdl := range sortedKeys(cfg.Models) {
		fields := cfg.Models[mdl]
		rules := make([]Rule, 0, len(fields))
		for _, canonical := range sortedKeys(fields) {
			for _, spec := range fields[canonical] {
				rule, err := parseSpecifier(mdl, canonical, spec)
				if err != nil {
					return nil, err
				}
				rules = append(rules, rule)
			}
		}
		// Device-qualified rules take precedence over model-wide ones.
		sort.SliceStable(rules, func(i, j int) bool {
			return rules[i].DeviceID != "" && rules[j].DeviceID == ""
		})
		t.flagAmbiguities(mdl, rules)
		t.rules[mdl] = rules
	}
	return t, nil
}

// Units reports the unit system every emitted observation is tagged with.
func (t *Table) Units() model.UnitSystem {
	return t.units
}

// Models returns the configured device models, sorted.
func (t *Table) Models() []string {
	return sortedKeys(t.rules)
}

// RulesFor returns the parsed rules for one model, in precedence order.
func (t *Table) RulesFor(mdl string) []Rule {
	return t.rules[mdl]
}

// FieldErrors counts mapped fields whose value could not be coerced to a
// number. The field is skipped each time; the counter is the only trace.
func (t *Table) FieldErrors() uint64 {
	return t.fieldErrors.Load()
}

// Resolve maps the raw field set of one device onto canonical fields. Fields
// declared but absent from the payload are omitted; payload fields with no
// rule are ignored; non-numeric values are skipped. An unknown model yields
// nil. First matching rule wins per canonical field.
func (t *Table) Resolve(key model.DeviceKey, fields map[string]any) map[string]float64 {
	rules, ok := t.rules[key.Model]
	if !ok {
		return nil
	}

	out := make(map[string]float64)
	for _, rule := range rules {
		if rule.DeviceID != "" && rule.DeviceID != key.ID {
			continue
		}
		if _, done := out[rule.CanonicalField]; done {
			continue
		}
		raw, present := fields[rule.SourceField]
		if !present {
			continue
		}
		value, numeric := toFloat(raw)
		if !numeric {
			t.fieldErrors.Add(1)
			t.logger.Debug("non-numeric value for mapped field",
				zap.String("device", key.String()),
				zap.String("field", rule.SourceField),
				zap.Any("value", raw))
			continue
		}
		out[rule.CanonicalField] = value
	}
	return out
}

// flagAmbiguities warns when more than one rule for the same canonical field
// could match a single device. The first rule in precedence order wins; the
// configuration should be fixed rather than relied on.
func (t *Table) flagAmbiguities(mdl string, rules []Rule) {
	byCanonical := lo.GroupBy(rules, func(r Rule) string { return r.CanonicalField })
	for canonical, group := range byCanonical {
		if len(group) < 2 {
			continue
		}
		seen := make(map[string]int)
		wildcards := 0
		for _, r := range group {
			if r.DeviceID == "" {
				wildcards++
			} else {
				seen[r.DeviceID]++
			}
		}
		overlap := wildcards > 1 || (wildcards == 1 && len(seen) > 0) ||
			lo.SomeBy(lo.Values(seen), func(n int) bool { return n > 1 })
		if overlap {
			t.logger.Warn("ambiguous mapping rules, first match wins",
				zap.String("model", mdl),
				zap.String("canonical_field", canonical),
				zap.Int("rules", len(group)))
		}
	}
}

// parseSpecifier splits "<rawField>.<model>.<deviceId>" from the right, so raw
// field names containing dots survive. A specifier with fewer than three
// segments is a bare raw field name that applies to every device of the model.
func parseSpecifier(mdl, canonical, spec string) (Rule, error) {
	if spec == "" {
		return Rule{}, fmt.Errorf("model %s: empty specifier for field %q", mdl, canonical)
	}
	parts := strings.Split(spec, ".")
	if len(parts) < 3 {
		return Rule{Model: mdl, SourceField: spec, CanonicalField: canonical}, nil
	}

	id := parts[len(parts)-1]
	specModel := parts[len(parts)-2]
	raw := strings.Join(parts[:len(parts)-2], ".")
	if specModel != mdl {
		return Rule{}, fmt.Errorf("model %s: specifier %q names model %q", mdl, spec, specModel)
	}
	if raw == "" || id == "" {
		return Rule{}, fmt.Errorf("model %s: malformed specifier %q", mdl, spec)
	}
	return Rule{Model: mdl, DeviceID: id, SourceField: raw, CanonicalField: canonical}, nil
}

// toFloat coerces the value forms a JSON payload can carry for a reading.
// Devices frequently publish numbers as strings.
func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	}
	return 0, false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := lo.Keys(m)
	sort.Strings(keys)
	return keys
}
