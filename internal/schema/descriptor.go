package schema

import (
	"fmt"
	"strings"
)

// FieldSpec is one entry of a schema descriptor.
type FieldSpec struct {
	// Name is the descriptor name: a property ("title") or a compound
	// path ("[firstName+lastName]").
	Name string

	// Members lists the properties of a compound entry, nil otherwise.
	Members []string

	PrimaryKey  bool
	Incremental bool
	Unique      bool
}

// IsCompound reports whether the entry spans more than one property.
func (f FieldSpec) IsCompound() bool {
	return len(f.Members) > 0
}

// String renders the entry in descriptor syntax.
func (f FieldSpec) String() string {
	var sb strings.Builder
	if f.Incremental {
		sb.WriteString("++")
	}
	if f.Unique {
		sb.WriteString("&")
	}
	sb.WriteString(f.Name)
	return sb.String()
}

// CompoundName renders members as a compound descriptor name.
func CompoundName(members []string) string {
	return "[" + strings.Join(members, "+") + "]"
}

// FormatSchemaString joins entries with ", ".
func FormatSchemaString(fields []FieldSpec) string {
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = f.String()
	}
	return strings.Join(parts, ", ")
}

// ParseSchemaString parses a descriptor. The first entry is the primary key.
// Whitespace around entries is ignored; "++" and "&" are mutually exclusive.
func ParseSchemaString(s string) ([]FieldSpec, error) {
	if strings.TrimSpace(s) == "" {
		return nil, invalidDescriptor(s, "empty descriptor")
	}

	parts := strings.Split(s, ",")
	fields := make([]FieldSpec, 0, len(parts))
	seen := make(map[string]bool, len(parts))

	for i, raw := range parts {
		entry := strings.TrimSpace(raw)
		f, err := parseEntry(entry)
		if err != nil {
			return nil, invalidDescriptor(s, fmt.Sprintf("entry %d: %v", i, err))
		}
		if seen[f.Name] {
			return nil, invalidDescriptor(s, fmt.Sprintf("duplicate entry %q", f.Name))
		}
		seen[f.Name] = true

		if i == 0 {
			f.PrimaryKey = true
			if f.Incremental && f.IsCompound() {
				return nil, invalidDescriptor(s, "compound primary key cannot be incremental")
			}
		} else if f.Incremental {
			return nil, invalidDescriptor(s, fmt.Sprintf("only the primary key may be incremental, got %q", entry))
		}
		fields = append(fields, f)
	}
	return fields, nil
}

func parseEntry(entry string) (FieldSpec, error) {
	var f FieldSpec
	switch {
	case strings.HasPrefix(entry, "++"):
		f.Incremental = true
		entry = entry[2:]
	case strings.HasPrefix(entry, "&"):
		f.Unique = true
		entry = entry[1:]
	}
	if strings.HasPrefix(entry, "++") || strings.HasPrefix(entry, "&") {
		return f, fmt.Errorf("\"++\" and \"&\" cannot be combined")
	}
	if entry == "" {
		return f, fmt.Errorf("missing property name")
	}

	if strings.HasPrefix(entry, "[") {
		if !strings.HasSuffix(entry, "]") {
			return f, fmt.Errorf("unterminated compound entry %q", entry)
		}
		members := strings.Split(entry[1:len(entry)-1], "+")
		for i, m := range members {
			members[i] = strings.TrimSpace(m)
			if members[i] == "" {
				return f, fmt.Errorf("empty member in compound entry %q", entry)
			}
		}
		f.Members = members
		f.Name = CompoundName(members)
		return f, nil
	}

	if strings.ContainsAny(entry, "[]+ ") {
		return f, fmt.Errorf("invalid property name %q", entry)
	}
	f.Name = entry
	return f, nil
}

func invalidDescriptor(s, msg string) *SchemaError {
	return &SchemaError{
		Code:    ErrCodeInvalidDescriptor,
		Message: fmt.Sprintf("schema %q: %s", s, msg),
	}
}
