package checks

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/changeling/internal/docstore"
)

// DomainKey names the identifier field of a data domain. Collections whose
// name contains Domain (case-insensitive) must require Key in their
// validator and, when BSONType or MaxLength are set, declare them on the
// key's property.
type DomainKey struct {
	Domain    string `json:"domain"`
	Key       string `json:"key"`
	BSONType  string `json:"bson_type,omitempty"`
	MaxLength int    `json:"max_length,omitempty"`
}

// ParseDomainKey parses "domain:key[:bsonType[:maxLength]]", for example
// "product:productID:string:15".
func ParseDomainKey(s string) (DomainKey, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 4 || parts[0] == "" || parts[1] == "" {
		return DomainKey{}, fmt.Errorf("domain key %q: want domain:key[:bsonType[:maxLength]]", s)
	}
	k := DomainKey{Domain: parts[0], Key: parts[1]}
	if len(parts) > 2 {
		k.BSONType = parts[2]
	}
	if len(parts) > 3 {
		n, err := strconv.Atoi(parts[3])
		if err != nil || n <= 0 {
			return DomainKey{}, fmt.Errorf("domain key %q: maxLength must be a positive integer", s)
		}
		k.MaxLength = n
	}
	return k, nil
}

// ParseDomainKeys parses every entry and stops at the first bad one.
func ParseDomainKeys(specs []string) ([]DomainKey, error) {
	keys := make([]DomainKey, 0, len(specs))
	for _, s := range specs {
		k, err := ParseDomainKey(s)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, nil
}

func (k DomainKey) matches(collection string) bool {
	return strings.Contains(strings.ToLower(collection), strings.ToLower(k.Domain))
}

// domainTarget is a created collection that belongs to a configured domain.
type domainTarget struct {
	key        DomainKey
	collection string
	schema     map[string]any // nil without a $jsonSchema validator
}

func domainTargets(s *subject, keys []DomainKey) []domainTarget {
	if len(keys) == 0 {
		return nil
	}
	var out []domainTarget
	for _, st := range createCollections(s) {
		name := collectionName(st)
		var schema map[string]any
		if len(st.Args) > 1 {
			if js, ok, err := docstore.ValidatorFromOptions(st.Args[1]); err == nil && ok {
				schema, _ = js.(map[string]any)
			}
		}
		for _, k := range keys {
			if k.matches(name) {
				out = append(out, domainTarget{key: k, collection: name, schema: schema})
			}
		}
	}
	return out
}

func checkDomainKeyRequired(s *subject, cfg Config) []string {
	var out []string
	for _, t := range domainTargets(s, cfg.DomainKeys) {
		if t.schema == nil {
			out = append(out, fmt.Sprintf("collection %q has no validator requiring domain key %q", t.collection, t.key.Key))
			continue
		}
		if !requires(t.schema, t.key.Key) {
			out = append(out, fmt.Sprintf("collection %q does not require domain key %q", t.collection, t.key.Key))
		}
	}
	return out
}

func requires(schema map[string]any, field string) bool {
	required, _ := schema["required"].([]any)
	for _, r := range required {
		if name, ok := r.(string); ok && name == field {
			return true
		}
	}
	return false
}

func checkDomainKeyAttributes(s *subject, cfg Config) []string {
	var out []string
	for _, t := range domainTargets(s, cfg.DomainKeys) {
		if t.schema == nil || (t.key.BSONType == "" && t.key.MaxLength == 0) {
			continue
		}
		props, _ := t.schema["properties"].(map[string]any)
		prop, ok := props[t.key.Key].(map[string]any)
		if !ok {
			out = append(out, fmt.Sprintf("collection %q declares no properties for domain key %q", t.collection, t.key.Key))
			continue
		}
		if t.key.BSONType != "" {
			if bt, _ := prop["bsonType"].(string); bt != t.key.BSONType {
				out = append(out, fmt.Sprintf("collection %q: domain key %q must have bsonType %q, found %v",
					t.collection, t.key.Key, t.key.BSONType, describe(prop["bsonType"])))
			}
		}
		if t.key.MaxLength > 0 {
			if n, ok := intValue(prop["maxLength"]); !ok || n != t.key.MaxLength {
				out = append(out, fmt.Sprintf("collection %q: domain key %q must have maxLength %d, found %v",
					t.collection, t.key.Key, t.key.MaxLength, describe(prop["maxLength"])))
			}
		}
	}
	return out
}

func intValue(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		if n == float64(int(n)) {
			return int(n), true
		}
	}
	return 0, false
}

func describe(v any) string {
	if v == nil {
		return "none"
	}
	return fmt.Sprintf("%v", v)
}
