package gateway

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
)

var globalDenylist = []string{"password_hash"}

var denylists = map[DataType][]string{
	DataSettings: {"pin_hash", "pin_salt", "admin_pin_hash", "totp_secret", "recovery_codes"},
	DataProfile:  {"password_hash", "pin_hash", "pin_salt", "recovery_codes"},
	DataSessions: {"refresh_token", "access_token", "token_hash"},
}

// Denylist returns the fields stripped from dataType payloads, keyed by
// their folded form (see foldKey).
func Denylist(dataType DataType) map[string]struct{} {
	set := make(map[string]struct{}, len(globalDenylist)+len(denylists[dataType]))
	for _, k := range globalDenylist {
		set[foldKey(k)] = struct{}{}
	}
	for _, k := range denylists[dataType] {
		set[foldKey(k)] = struct{}{}
	}
	return set
}

// foldKey makes pin_hash, pinHash, PIN_HASH and pin-hash compare equal.
func foldKey(k string) string {
	return keySeparators.Replace(strings.ToLower(k))
}

var keySeparators = strings.NewReplacer("_", "", "-", "")

// Redact removes denylisted keys at every depth of objects and lists.
// Raw JSON and structs are normalised through encoding/json first.
func Redact(dataType DataType, data any) any {
	deny := Denylist(dataType)
	return redactValue(normalise(data), deny)
}

func normalise(data any) any {
	switch v := data.(type) {
	case nil, map[string]any, []any, string, bool, json.Number:
		return v
	case json.RawMessage:
		return decodeJSON(v)
	case []byte:
		return decodeJSON(v)
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		return decodeJSON(raw)
	}
}

func decodeJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil
	}
	return out
}

func redactValue(v any, deny map[string]struct{}) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if _, blocked := deny[foldKey(k)]; blocked {
				continue
			}
			out[k] = redactValue(normalise(val), deny)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = redactValue(normalise(val), deny)
		}
		return out
	default:
		return t
	}
}
