package cache

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"
)

// EntityType identifies the kind of record a cache entry belongs to.
type EntityType string

// WriteKind is the kind of write that triggered an invalidation.
type WriteKind int

const (
	WriteCreate WriteKind = iota + 1
	WriteUpdate
	WriteDelete
)

func (k WriteKind) String() string {
	switch k {
	case WriteCreate:
		return "create"
	case WriteUpdate:
		return "update"
	case WriteDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Logical operation names used by the presets.
const (
	OpGetByID    = "getById"
	OpGetList    = "getList"
	OpGetCount   = "getCount"
	DefaultField = "id"

	// DefaultBackend is the Pool name used when settings do not pick one.
	DefaultBackend = "default"
)

// Preset names accepted by Preset and Config.Preset.
const (
	PresetNameStrict  = "strict"
	PresetNameRelaxed = "relaxed"
)

// Duration is a time.Duration that can also be written as an expression
// such as "+1 hour" or "30 minutes" in configuration files.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalYAML accepts Go durations ("90s"), expressions ("+2 hours") and integer seconds.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := ParseDuration(node.Value)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes the Go duration form.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

var durationExpr = regexp.MustCompile(`^\+?\s*(\d+)\s*(second|sec|minute|min|hour|day|week)s?$`)

// ParseDuration parses a TTL written either as a Go duration, as plain seconds or as a
// relative expression ("+1 hour", "15 minutes", "2 days").
func ParseDuration(expr string) (time.Duration, error) {
	s := strings.TrimSpace(strings.ToLower(expr))
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}

	m := durationExpr.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("cache: invalid duration expression %q", expr)
	}
	n, _ := strconv.Atoi(m[1])
	unit := time.Second
	switch m[2] {
	case "minute", "min":
		unit = time.Minute
	case "hour":
		unit = time.Hour
	case "day":
		unit = 24 * time.Hour
	case "week":
		unit = 7 * 24 * time.Hour
	}
	return time.Duration(n) * unit, nil
}

// EventToggles enable single-entity invalidation per write kind.
// A nil field inherits the registry default.
type EventToggles struct {
	OnCreate *bool `yaml:"on_create" json:"on_create"`
	OnUpdate *bool `yaml:"on_update" json:"on_update"`
	OnDelete *bool `yaml:"on_delete" json:"on_delete"`
}

// ResetHook maps a logical read operation to the identity fields that must be known
// before its entry can be deleted. Always hooks need no fields.
type ResetHook struct {
	Name   string
	Fields []string
	Always bool
}

// Validate implements validation.Validatable.
func (h ResetHook) Validate() error {
	return validation.ValidateStruct(&h,
		validation.Field(&h.Name, validation.Required),
		validation.Field(&h.Fields, validation.When(!h.Always, validation.Required), validation.Each(validation.Required)),
	)
}

// ResetHooks is an ordered set of reset hooks.
type ResetHooks []ResetHook

// Validate implements validation.Validatable.
func (hs ResetHooks) Validate() error {
	seen := make(map[string]struct{}, len(hs))
	for i, h := range hs {
		if err := h.Validate(); err != nil {
			return fmt.Errorf("reset hook %d: %w", i, err)
		}
		if _, dup := seen[h.Name]; dup {
			return fmt.Errorf("reset hook %q declared twice", h.Name)
		}
		seen[h.Name] = struct{}{}
	}
	return nil
}

// UnmarshalYAML reads an ordered mapping of `name: true` or `name: [field, ...]`.
func (hs *ResetHooks) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("cache: reset hooks must be a mapping, line %d", node.Line)
	}
	out := make(ResetHooks, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		name, value := node.Content[i].Value, node.Content[i+1]
		hook := ResetHook{Name: name}
		switch value.Kind {
		case yaml.ScalarNode:
			var always bool
			if err := value.Decode(&always); err != nil || !always {
				return fmt.Errorf("cache: reset hook %q must be true or a list of fields", name)
			}
			hook.Always = true
		case yaml.SequenceNode:
			if err := value.Decode(&hook.Fields); err != nil {
				return fmt.Errorf("cache: reset hook %q: %w", name, err)
			}
		default:
			return fmt.Errorf("cache: reset hook %q must be true or a list of fields", name)
		}
		out = append(out, hook)
	}
	*hs = out
	return nil
}

// EntitySettings holds the per entity type cache configuration.
type EntitySettings struct {
	Backend        string            `yaml:"backend" json:"backend"`
	TTL            Duration          `yaml:"ttl" json:"ttl"`
	KeyPrefix      string            `yaml:"key_prefix" json:"key_prefix"`
	AppendMetadata *bool             `yaml:"append_metadata" json:"append_metadata"`
	AppendKey      *bool             `yaml:"append_key" json:"append_key"`
	MethodAliases  map[string]string `yaml:"method_aliases" json:"method_aliases"`
	Events         EventToggles      `yaml:"events" json:"events"`
	ResetHooks     ResetHooks        `yaml:"reset_hooks" json:"reset_hooks"`
	IdentityField  string            `yaml:"identity_field" json:"identity_field"`
	Lookups        map[string]string `yaml:"lookups" json:"lookups"`
	ListOperation  string            `yaml:"list_operation" json:"list_operation"`
	CountOperation string            `yaml:"count_operation" json:"count_operation"`
}

// Bool returns a pointer to b, for optional settings fields.
func Bool(b bool) *bool { return &b }

// PresetStrict refreshes single-entity entries on every write kind and stamps full
// provenance metadata on cached rows.
func PresetStrict() EntitySettings {
	return EntitySettings{
		Backend:        DefaultBackend,
		AppendMetadata: Bool(true),
		AppendKey:      Bool(false),
		MethodAliases: map[string]string{
			OpGetByID:  OpGetByID,
			OpGetList:  OpGetList,
			OpGetCount: OpGetCount,
		},
		Events: EventToggles{
			OnCreate: Bool(true),
			OnUpdate: Bool(true),
			OnDelete: Bool(true),
		},
		IdentityField:  DefaultField,
		Lookups:        map[string]string{DefaultField: OpGetByID},
		ListOperation:  OpGetList,
		CountOperation: OpGetCount,
	}
}

// PresetRelaxed skips single-entity refresh on create and only stamps the cache key.
func PresetRelaxed() EntitySettings {
	s := PresetStrict()
	s.AppendMetadata = Bool(false)
	s.AppendKey = Bool(true)
	s.Events.OnCreate = Bool(false)
	return s
}

// Preset returns the named preset.
func Preset(name string) (EntitySettings, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", PresetNameStrict:
		return PresetStrict(), nil
	case PresetNameRelaxed:
		return PresetRelaxed(), nil
	default:
		return EntitySettings{}, &ConfigurationError{Field: "Preset", Message: fmt.Sprintf("unknown preset %q", name)}
	}
}

// Merge overlays the explicitly set fields of override on top of base.
// Maps are merged key by key; a non-nil ResetHooks replaces the base hooks.
func Merge(base, override EntitySettings) EntitySettings {
	out := base.Clone()

	if override.Backend != "" {
		out.Backend = override.Backend
	}
	if override.TTL > 0 {
		out.TTL = override.TTL
	}
	if override.KeyPrefix != "" {
		out.KeyPrefix = override.KeyPrefix
	}
	if override.AppendMetadata != nil {
		out.AppendMetadata = Bool(*override.AppendMetadata)
	}
	if override.AppendKey != nil {
		out.AppendKey = Bool(*override.AppendKey)
	}
	if override.Events.OnCreate != nil {
		out.Events.OnCreate = Bool(*override.Events.OnCreate)
	}
	if override.Events.OnUpdate != nil {
		out.Events.OnUpdate = Bool(*override.Events.OnUpdate)
	}
	if override.Events.OnDelete != nil {
		out.Events.OnDelete = Bool(*override.Events.OnDelete)
	}
	if override.IdentityField != "" {
		out.IdentityField = override.IdentityField
	}
	if override.ListOperation != "" {
		out.ListOperation = override.ListOperation
	}
	if override.CountOperation != "" {
		out.CountOperation = override.CountOperation
	}
	out.MethodAliases = mergeStrings(out.MethodAliases, override.MethodAliases)
	out.Lookups = mergeStrings(out.Lookups, override.Lookups)
	if override.ResetHooks != nil {
		out.ResetHooks = cloneHooks(override.ResetHooks)
	}
	return out
}

// Clone returns a deep copy so callers cannot mutate registered settings.
func (s EntitySettings) Clone() EntitySettings {
	out := s
	out.MethodAliases = mergeStrings(nil, s.MethodAliases)
	out.Lookups = mergeStrings(nil, s.Lookups)
	out.ResetHooks = cloneHooks(s.ResetHooks)
	if s.AppendMetadata != nil {
		out.AppendMetadata = Bool(*s.AppendMetadata)
	}
	if s.AppendKey != nil {
		out.AppendKey = Bool(*s.AppendKey)
	}
	if s.Events.OnCreate != nil {
		out.Events.OnCreate = Bool(*s.Events.OnCreate)
	}
	if s.Events.OnUpdate != nil {
		out.Events.OnUpdate = Bool(*s.Events.OnUpdate)
	}
	if s.Events.OnDelete != nil {
		out.Events.OnDelete = Bool(*s.Events.OnDelete)
	}
	return out
}

// Validate implements validation.Validatable.
func (s EntitySettings) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Backend, validation.Required),
		validation.Field(&s.TTL, validation.Min(Duration(0))),
		validation.Field(&s.IdentityField, validation.Required),
		validation.Field(&s.ResetHooks),
	)
}

// Enabled reports whether single-entity invalidation runs for kind.
func (s EntitySettings) Enabled(kind WriteKind) bool {
	var toggle *bool
	switch kind {
	case WriteCreate:
		toggle = s.Events.OnCreate
	case WriteUpdate:
		toggle = s.Events.OnUpdate
	case WriteDelete:
		toggle = s.Events.OnDelete
	}
	return toggle != nil && *toggle
}

// AppendsMetadata reports whether cached rows get {key, expires} stamped.
func (s EntitySettings) AppendsMetadata() bool {
	return s.AppendMetadata != nil && *s.AppendMetadata
}

// AppendsKey reports whether cached rows get the cache key stamped.
func (s EntitySettings) AppendsKey() bool {
	return s.AppendKey != nil && *s.AppendKey
}

// Canonical resolves a logical operation name through MethodAliases.
func (s EntitySettings) Canonical(op string) string {
	if canonical, ok := s.MethodAliases[op]; ok && canonical != "" {
		return canonical
	}
	return op
}

// Registered reports whether op is a declared logical operation.
func (s EntitySettings) Registered(op string) bool {
	if op == "" {
		return false
	}
	_, ok := s.MethodAliases[op]
	return ok
}

func mergeStrings(base, override map[string]string) map[string]string {
	if base == nil && override == nil {
		return nil
	}
	out := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

func cloneHooks(hs ResetHooks) ResetHooks {
	if hs == nil {
		return nil
	}
	out := make(ResetHooks, len(hs))
	for i, h := range hs {
		out[i] = ResetHook{Name: h.Name, Always: h.Always, Fields: append([]string(nil), h.Fields...)}
	}
	return out
}
