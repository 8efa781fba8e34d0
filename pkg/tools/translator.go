package tools

// ProviderTool is a tool definition in a provider's wire convention,
// ready to be attached to a chat request.
type ProviderTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// Translator converts between the canonical catalog and one provider
// dialect. Translation is purely syntactic: names and parameter keys are
// renamed, nothing is validated.
type Translator interface {
	// ProviderName identifies the dialect (anthropic, openai, gemini).
	ProviderName() string

	// ToProviderTools renders canonical definitions in the provider's
	// naming convention.
	ToProviderTools(defs []Definition) []ProviderTool

	// MapToolCall maps a provider-facing tool call back to the ECP method
	// and canonical parameters. ok is false when the name is unknown.
	MapToolCall(providerName string, providerInput map[string]any) (ecpMethod string, ecpParams map[string]any, ok bool)

	// IsSupported reports whether the provider-facing name maps to a
	// canonical tool.
	IsSupported(providerName string) bool

	// GetCanonicalName returns the canonical dotted name for a
	// provider-facing name.
	GetCanonicalName(providerName string) (string, bool)
}

// dialect is the shared Translator implementation. Each provider dialect
// supplies a canonical→provider tool name table and a canonical→provider
// parameter rename table; parameters absent from the table keep their
// canonical spelling.
type dialect struct {
	provider      string
	names         map[string]string
	params        map[string]string
	namesReverse  map[string]string
	paramsReverse map[string]string
}

func newDialect(provider string, names, params map[string]string) *dialect {
	d := &dialect{
		provider:      provider,
		names:         names,
		params:        params,
		namesReverse:  make(map[string]string, len(names)),
		paramsReverse: make(map[string]string, len(params)),
	}
	for canonical, providerName := range names {
		d.namesReverse[providerName] = canonical
	}
	for canonical, providerParam := range params {
		d.paramsReverse[providerParam] = canonical
	}
	return d
}

func (d *dialect) ProviderName() string { return d.provider }

func (d *dialect) ToProviderTools(defs []Definition) []ProviderTool {
	out := make([]ProviderTool, 0, len(defs))
	for _, def := range defs {
		name, ok := d.names[def.CanonicalName]
		if !ok {
			name = def.CanonicalName
		}
		out = append(out, ProviderTool{
			Name:        name,
			Description: def.Description,
			InputSchema: d.renameSchema(def.InputSchema),
		})
	}
	return out
}

func (d *dialect) MapToolCall(providerName string, providerInput map[string]any) (string, map[string]any, bool) {
	canonical, ok := d.GetCanonicalName(providerName)
	if !ok {
		return "", nil, false
	}
	def, ok := Lookup(canonical)
	if !ok {
		return "", nil, false
	}

	params := make(map[string]any, len(providerInput))
	for key, value := range providerInput {
		if canonicalKey, renamed := d.paramsReverse[key]; renamed {
			key = canonicalKey
		}
		params[key] = value
	}
	return def.ECPMethod, params, true
}

func (d *dialect) IsSupported(providerName string) bool {
	_, ok := d.GetCanonicalName(providerName)
	return ok
}

func (d *dialect) GetCanonicalName(providerName string) (string, bool) {
	canonical, ok := d.namesReverse[providerName]
	return canonical, ok
}

// renameSchema returns a copy of a canonical input schema with property
// keys and required entries renamed to the dialect's convention. Only the
// top level is renamed; canonical parameters are flat.
func (d *dialect) renameSchema(canonical map[string]any) map[string]any {
	out := make(map[string]any, len(canonical))
	for key, value := range canonical {
		out[key] = value
	}

	if props, ok := canonical["properties"].(map[string]any); ok {
		renamed := make(map[string]any, len(props))
		for key, value := range props {
			if providerKey, rename := d.params[key]; rename {
				key = providerKey
			}
			renamed[key] = value
		}
		out["properties"] = renamed
	}

	if required, ok := canonical["required"].([]string); ok {
		renamed := make([]string, 0, len(required))
		for _, key := range required {
			if providerKey, rename := d.params[key]; rename {
				key = providerKey
			}
			renamed = append(renamed, key)
		}
		out["required"] = renamed
	}

	return out
}

// Dialect names reported by Translator.ProviderName.
const (
	DialectAnthropic = "anthropic"
	DialectOpenAI    = "openai"
	DialectGemini    = "gemini"
)

// ForProvider returns the translator for a provider id. Ollama speaks the
// OpenAI-compatible tool format; any unknown provider gets the
// Anthropic-style translator as the fallback dialect.
func ForProvider(provider string) Translator {
	switch provider {
	case "claude", DialectAnthropic:
		return NewAnthropicTranslator()
	case "openai", "gpt", "ollama":
		return NewOpenAITranslator()
	case "gemini", "google":
		return NewGeminiTranslator()
	default:
		return NewAnthropicTranslator()
	}
}
