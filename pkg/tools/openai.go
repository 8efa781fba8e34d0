package tools

// openaiNames maps canonical tool names to the snake_case function-calling
// convention used by OpenAI-compatible providers, Ollama included.
var openaiNames = map[string]string{
	"file.read":          "read_file",
	"file.write":         "write_file",
	"file.edit":          "edit_file",
	"file.glob":          "glob_files",
	"file.grep":          "grep_files",
	"file.list":          "list_directory",
	"file.exists":        "file_exists",
	"file.delete":        "delete_file",
	"file.rename":        "rename_file",
	"file.mkdir":         "create_directory",
	"file.deleteDir":     "delete_directory",
	"terminal.execute":   "run_command",
	"terminal.spawn":     "spawn_command",
	"lsp.query":          "lsp_query",
	"git.status":         "git_status",
	"git.diff":           "git_diff",
	"git.log":            "git_log",
	"git.commit":         "git_commit",
	"ai.todo.get":        "get_todos",
	"ai.todo.write":      "write_todos",
	"ai.plan.create":     "create_plan",
	"ai.plan.update":     "update_plan",
	"ai.plan.list":       "list_plans",
	"ai.plan.content":    "get_plan_content",
	"ai.spec.create":     "create_spec",
	"ai.spec.update":     "update_spec",
	"ai.spec.list":       "list_specs",
	"ai.document.create": "create_document",
	"ai.document.update": "update_document",
	"ai.document.list":   "list_documents",
	"ai.document.get":    "get_document",
	"ai.document.search": "search_documents",
	"ai.message.search":  "search_messages",
	"ai.persona.create":  "create_persona",
	"ai.persona.update":  "update_persona",
	"ai.persona.list":    "list_personas",
}

var openaiParams = map[string]string{
	"path":       "file_path",
	"oldText":    "old_text",
	"newText":    "new_text",
	"replaceAll": "replace_all",
	"newPath":    "new_path",
	"chatId":     "chat_id",
}

// NewOpenAITranslator returns the OpenAI-style dialect.
func NewOpenAITranslator() Translator {
	return newDialect(DialectOpenAI, openaiNames, openaiParams)
}
