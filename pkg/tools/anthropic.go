package tools

// anthropicNames maps canonical tool names to the PascalCase convention
// Anthropic models are trained on.
var anthropicNames = map[string]string{
	"file.read":          "Read",
	"file.write":         "Write",
	"file.edit":          "Edit",
	"file.glob":          "Glob",
	"file.grep":          "Grep",
	"file.list":          "LS",
	"file.exists":        "FileExists",
	"file.delete":        "DeleteFile",
	"file.rename":        "RenameFile",
	"file.mkdir":         "CreateDir",
	"file.deleteDir":     "DeleteDir",
	"terminal.execute":   "Bash",
	"terminal.spawn":     "BashSpawn",
	"lsp.query":          "LSP",
	"git.status":         "GitStatus",
	"git.diff":           "GitDiff",
	"git.log":            "GitLog",
	"git.commit":         "GitCommit",
	"ai.todo.get":        "TodoRead",
	"ai.todo.write":      "TodoWrite",
	"ai.plan.create":     "PlanCreate",
	"ai.plan.update":     "PlanUpdate",
	"ai.plan.list":       "PlanList",
	"ai.plan.content":    "PlanContent",
	"ai.spec.create":     "SpecCreate",
	"ai.spec.update":     "SpecUpdate",
	"ai.spec.list":       "SpecList",
	"ai.document.create": "DocumentCreate",
	"ai.document.update": "DocumentUpdate",
	"ai.document.list":   "DocumentList",
	"ai.document.get":    "DocumentGet",
	"ai.document.search": "DocumentSearch",
	"ai.message.search":  "MessageSearch",
	"ai.persona.create":  "PersonaCreate",
	"ai.persona.update":  "PersonaUpdate",
	"ai.persona.list":    "PersonaList",
}

// anthropicParams lists the parameters whose canonical camelCase spelling
// differs from the snake_case convention of this dialect.
var anthropicParams = map[string]string{
	"path":       "file_path",
	"oldText":    "old_string",
	"newText":    "new_string",
	"replaceAll": "replace_all",
	"newPath":    "new_path",
	"chatId":     "chat_id",
}

// NewAnthropicTranslator returns the Anthropic-style dialect. It doubles
// as the fallback for providers without a dialect of their own.
func NewAnthropicTranslator() Translator {
	return newDialect(DialectAnthropic, anthropicNames, anthropicParams)
}
