package tools

// Category groups canonical tools by the subsystem they touch. The
// permission layer keys hard rules (terminal tools are never
// auto-approved) off the category, not the name.
type Category string

const (
	CategoryFile     Category = "file"
	CategoryTerminal Category = "terminal"
	CategoryGit      Category = "git"
	CategoryLSP      Category = "lsp"
	CategoryAI       Category = "ai"
	CategoryDocument Category = "document"
)

// Definition describes one canonical ECP tool. CanonicalName is the stable
// dotted identifier; translators rename it per provider dialect. ECPMethod
// is the JSON-RPC method invoked on the host editor.
type Definition struct {
	CanonicalName string
	Description   string
	ECPMethod     string
	InputSchema   map[string]any
	Category      Category
}

func prop(typ, desc string) map[string]any {
	return map[string]any{"type": typ, "description": desc}
}

func arrayProp(itemType, desc string) map[string]any {
	return map[string]any{
		"type":        "array",
		"items":       map[string]any{"type": itemType},
		"description": desc,
	}
}

func schema(props map[string]any, required ...string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// catalog is the fixed list of canonical tools. Input parameter names are
// camelCase; dialects rename them alongside the tool names.
var catalog = []Definition{
	{
		CanonicalName: "file.read",
		Description:   "Read a file from the workspace. Returns the file content, optionally windowed by offset and limit.",
		ECPMethod:     "file/read",
		Category:      CategoryFile,
		InputSchema: schema(map[string]any{
			"path":   prop("string", "Workspace-relative or absolute path of the file to read"),
			"offset": prop("integer", "1-based line number to start reading from"),
			"limit":  prop("integer", "Maximum number of lines to return"),
		}, "path"),
	},
	{
		CanonicalName: "file.write",
		Description:   "Create or overwrite a file with the given content.",
		ECPMethod:     "file/write",
		Category:      CategoryFile,
		InputSchema: schema(map[string]any{
			"path":    prop("string", "Path of the file to write"),
			"content": prop("string", "Full content of the file"),
		}, "path", "content"),
	},
	{
		CanonicalName: "file.edit",
		Description:   "Replace an exact text span in a file. The old text must match exactly and, unless replaceAll is set, occur exactly once.",
		ECPMethod:     "file/edit",
		Category:      CategoryFile,
		InputSchema: schema(map[string]any{
			"path":       prop("string", "Path of the file to edit"),
			"oldText":    prop("string", "Exact text to replace"),
			"newText":    prop("string", "Replacement text"),
			"replaceAll": prop("boolean", "Replace every occurrence instead of requiring a unique match"),
		}, "path", "oldText", "newText"),
	},
	{
		CanonicalName: "file.glob",
		Description:   "Find files matching a glob pattern, sorted by modification time.",
		ECPMethod:     "file/glob",
		Category:      CategoryFile,
		InputSchema: schema(map[string]any{
			"pattern": prop("string", "Glob pattern, e.g. **/*.go"),
			"path":    prop("string", "Directory to search in; defaults to the workspace root"),
		}, "pattern"),
	},
	{
		CanonicalName: "file.grep",
		Description:   "Search file contents with a regular expression.",
		ECPMethod:     "file/grep",
		Category:      CategoryFile,
		InputSchema: schema(map[string]any{
			"pattern": prop("string", "Regular expression to search for"),
			"path":    prop("string", "Directory or file to search; defaults to the workspace root"),
			"glob":    prop("string", "Glob filter restricting which files are searched"),
		}, "pattern"),
	},
	{
		CanonicalName: "file.list",
		Description:   "List the entries of a directory.",
		ECPMethod:     "file/list",
		Category:      CategoryFile,
		InputSchema: schema(map[string]any{
			"path": prop("string", "Directory to list"),
		}, "path"),
	},
	{
		CanonicalName: "file.exists",
		Description:   "Check whether a file or directory exists.",
		ECPMethod:     "file/exists",
		Category:      CategoryFile,
		InputSchema: schema(map[string]any{
			"path": prop("string", "Path to check"),
		}, "path"),
	},
	{
		CanonicalName: "file.delete",
		Description:   "Delete a file.",
		ECPMethod:     "file/delete",
		Category:      CategoryFile,
		InputSchema: schema(map[string]any{
			"path": prop("string", "Path of the file to delete"),
		}, "path"),
	},
	{
		CanonicalName: "file.rename",
		Description:   "Rename or move a file.",
		ECPMethod:     "file/rename",
		Category:      CategoryFile,
		InputSchema: schema(map[string]any{
			"path":    prop("string", "Current path of the file"),
			"newPath": prop("string", "New path of the file"),
		}, "path", "newPath"),
	},
	{
		CanonicalName: "file.mkdir",
		Description:   "Create a directory, including missing parents.",
		ECPMethod:     "file/mkdir",
		Category:      CategoryFile,
		InputSchema: schema(map[string]any{
			"path": prop("string", "Path of the directory to create"),
		}, "path"),
	},
	{
		CanonicalName: "file.deleteDir",
		Description:   "Delete a directory.",
		ECPMethod:     "file/deleteDir",
		Category:      CategoryFile,
		InputSchema: schema(map[string]any{
			"path":      prop("string", "Path of the directory to delete"),
			"recursive": prop("boolean", "Delete contents recursively"),
		}, "path"),
	},
	{
		CanonicalName: "terminal.execute",
		Description:   "Run a shell command in the integrated terminal and wait for it to finish. Returns stdout, stderr and the exit code.",
		ECPMethod:     "terminal/execute",
		Category:      CategoryTerminal,
		InputSchema: schema(map[string]any{
			"command": prop("string", "Shell command to run"),
			"cwd":     prop("string", "Working directory; defaults to the workspace root"),
			"timeout": prop("integer", "Timeout in milliseconds"),
		}, "command"),
	},
	{
		CanonicalName: "terminal.spawn",
		Description:   "Start a long-running command in the integrated terminal without waiting for it to finish.",
		ECPMethod:     "terminal/spawn",
		Category:      CategoryTerminal,
		InputSchema: schema(map[string]any{
			"command": prop("string", "Shell command to start"),
			"cwd":     prop("string", "Working directory; defaults to the workspace root"),
		}, "command"),
	},
	{
		CanonicalName: "lsp.query",
		Description:   "Query the language server: hover info, definitions, references or diagnostics for a position in a file.",
		ECPMethod:     "lsp/query",
		Category:      CategoryLSP,
		InputSchema: schema(map[string]any{
			"path":      prop("string", "Path of the file to query"),
			"kind":      prop("string", "Query kind: hover, definition, references or diagnostics"),
			"line":      prop("integer", "0-based line of the position"),
			"character": prop("integer", "0-based character offset of the position"),
		}, "path", "kind"),
	},
	{
		CanonicalName: "git.status",
		Description:   "Show the working tree status of the workspace repository.",
		ECPMethod:     "git/status",
		Category:      CategoryGit,
		InputSchema:   schema(map[string]any{}),
	},
	{
		CanonicalName: "git.diff",
		Description:   "Show uncommitted changes in the workspace repository.",
		ECPMethod:     "git/diff",
		Category:      CategoryGit,
		InputSchema: schema(map[string]any{
			"path":   prop("string", "Limit the diff to a path"),
			"staged": prop("boolean", "Diff the staged changes instead of the working tree"),
		}),
	},
	{
		CanonicalName: "git.log",
		Description:   "Show recent commits of the workspace repository.",
		ECPMethod:     "git/log",
		Category:      CategoryGit,
		InputSchema: schema(map[string]any{
			"limit": prop("integer", "Maximum number of commits to return"),
			"path":  prop("string", "Limit the log to a path"),
		}),
	},
	{
		CanonicalName: "git.commit",
		Description:   "Create a commit from the staged changes.",
		ECPMethod:     "git/commit",
		Category:      CategoryGit,
		InputSchema: schema(map[string]any{
			"message": prop("string", "Commit message"),
			"all":     prop("boolean", "Stage all tracked modifications before committing"),
		}, "message"),
	},
	{
		CanonicalName: "ai.todo.get",
		Description:   "Read the current todo list of this session.",
		ECPMethod:     "ai/todo/get",
		Category:      CategoryAI,
		InputSchema:   schema(map[string]any{}),
	},
	{
		CanonicalName: "ai.todo.write",
		Description:   "Replace the todo list of this session.",
		ECPMethod:     "ai/todo/write",
		Category:      CategoryAI,
		InputSchema: schema(map[string]any{
			"todos": map[string]any{
				"type":        "array",
				"description": "Full todo list replacing the current one",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"content": prop("string", "Task description"),
						"status":  prop("string", "pending, in_progress or completed"),
					},
					"required": []string{"content", "status"},
				},
			},
		}, "todos"),
	},
	{
		CanonicalName: "ai.plan.create",
		Description:   "Create a named implementation plan document.",
		ECPMethod:     "ai/plan/create",
		Category:      CategoryAI,
		InputSchema: schema(map[string]any{
			"name":    prop("string", "Plan name"),
			"content": prop("string", "Plan content in Markdown"),
		}, "name", "content"),
	},
	{
		CanonicalName: "ai.plan.update",
		Description:   "Update the content or status of an existing plan.",
		ECPMethod:     "ai/plan/update",
		Category:      CategoryAI,
		InputSchema: schema(map[string]any{
			"id":      prop("string", "Plan identifier"),
			"content": prop("string", "New plan content"),
			"status":  prop("string", "New plan status"),
		}, "id"),
	},
	{
		CanonicalName: "ai.plan.list",
		Description:   "List the plans of the workspace.",
		ECPMethod:     "ai/plan/list",
		Category:      CategoryAI,
		InputSchema:   schema(map[string]any{}),
	},
	{
		CanonicalName: "ai.plan.content",
		Description:   "Read the full content of a plan.",
		ECPMethod:     "ai/plan/content",
		Category:      CategoryAI,
		InputSchema: schema(map[string]any{
			"id": prop("string", "Plan identifier"),
		}, "id"),
	},
	{
		CanonicalName: "ai.spec.create",
		Description:   "Create a named requirements document.",
		ECPMethod:     "ai/spec/create",
		Category:      CategoryAI,
		InputSchema: schema(map[string]any{
			"name":    prop("string", "Requirements document name"),
			"content": prop("string", "Document content in Markdown"),
		}, "name", "content"),
	},
	{
		CanonicalName: "ai.spec.update",
		Description:   "Update the content or status of a requirements document.",
		ECPMethod:     "ai/spec/update",
		Category:      CategoryAI,
		InputSchema: schema(map[string]any{
			"id":      prop("string", "Document identifier"),
			"content": prop("string", "New document content"),
			"status":  prop("string", "New document status"),
		}, "id"),
	},
	{
		CanonicalName: "ai.spec.list",
		Description:   "List the requirements documents of the workspace.",
		ECPMethod:     "ai/spec/list",
		Category:      CategoryAI,
		InputSchema:   schema(map[string]any{}),
	},
	{
		CanonicalName: "ai.document.create",
		Description:   "Create a knowledge-base document.",
		ECPMethod:     "ai/document/create",
		Category:      CategoryDocument,
		InputSchema: schema(map[string]any{
			"title":   prop("string", "Document title"),
			"content": prop("string", "Document content in Markdown"),
			"tags":    arrayProp("string", "Tags for later retrieval"),
		}, "title", "content"),
	},
	{
		CanonicalName: "ai.document.update",
		Description:   "Update a knowledge-base document.",
		ECPMethod:     "ai/document/update",
		Category:      CategoryDocument,
		InputSchema: schema(map[string]any{
			"id":      prop("string", "Document identifier"),
			"title":   prop("string", "New title"),
			"content": prop("string", "New content"),
			"tags":    arrayProp("string", "New tag set"),
		}, "id"),
	},
	{
		CanonicalName: "ai.document.list",
		Description:   "List knowledge-base documents, optionally filtered by tag.",
		ECPMethod:     "ai/document/list",
		Category:      CategoryDocument,
		InputSchema: schema(map[string]any{
			"tag": prop("string", "Only return documents carrying this tag"),
		}),
	},
	{
		CanonicalName: "ai.document.get",
		Description:   "Read a knowledge-base document.",
		ECPMethod:     "ai/document/get",
		Category:      CategoryDocument,
		InputSchema: schema(map[string]any{
			"id": prop("string", "Document identifier"),
		}, "id"),
	},
	{
		CanonicalName: "ai.document.search",
		Description:   "Full-text search over knowledge-base documents.",
		ECPMethod:     "ai/document/search",
		Category:      CategoryDocument,
		InputSchema: schema(map[string]any{
			"query": prop("string", "Search query"),
			"limit": prop("integer", "Maximum number of results"),
		}, "query"),
	},
	{
		CanonicalName: "ai.message.search",
		Description:   "Search previous conversation messages across chats.",
		ECPMethod:     "ai/message/search",
		Category:      CategoryAI,
		InputSchema: schema(map[string]any{
			"query":  prop("string", "Search query"),
			"chatId": prop("string", "Restrict the search to one chat"),
			"limit":  prop("integer", "Maximum number of results"),
		}, "query"),
	},
	{
		CanonicalName: "ai.persona.create",
		Description:   "Create a reusable persona for composing agent system prompts.",
		ECPMethod:     "ai/persona/create",
		Category:      CategoryAI,
		InputSchema: schema(map[string]any{
			"name":        prop("string", "Persona name"),
			"prompt":      prop("string", "Persona prompt fragment"),
			"description": prop("string", "What this persona is for"),
			"traits":      arrayProp("string", "Behavioral traits"),
		}, "name", "prompt"),
	},
	{
		CanonicalName: "ai.persona.update",
		Description:   "Update a persona.",
		ECPMethod:     "ai/persona/update",
		Category:      CategoryAI,
		InputSchema: schema(map[string]any{
			"id":          prop("string", "Persona identifier"),
			"name":        prop("string", "New name"),
			"prompt":      prop("string", "New prompt fragment"),
			"description": prop("string", "New description"),
			"traits":      arrayProp("string", "New trait set"),
		}, "id"),
	},
	{
		CanonicalName: "ai.persona.list",
		Description:   "List the personas of the workspace.",
		ECPMethod:     "ai/persona/list",
		Category:      CategoryAI,
		InputSchema:   schema(map[string]any{}),
	},
}

var catalogByName = func() map[string]*Definition {
	idx := make(map[string]*Definition, len(catalog))
	for i := range catalog {
		idx[catalog[i].CanonicalName] = &catalog[i]
	}
	return idx
}()

// Catalog returns the canonical tool definitions in declaration order.
// Callers must not modify the returned slice or its schemas.
func Catalog() []Definition {
	return catalog
}

// Lookup returns the definition for a canonical dotted name.
func Lookup(canonicalName string) (*Definition, bool) {
	def, ok := catalogByName[canonicalName]
	return def, ok
}

// ByCategory returns the definitions belonging to a category, in
// declaration order.
func ByCategory(cat Category) []Definition {
	var defs []Definition
	for _, d := range catalog {
		if d.Category == cat {
			defs = append(defs, d)
		}
	}
	return defs
}
