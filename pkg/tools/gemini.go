package tools

// geminiNames maps canonical tool names to the camelCase convention of
// Google-style function declarations.
var geminiNames = map[string]string{
	"file.read":          "readFile",
	"file.write":         "writeFile",
	"file.edit":          "editFile",
	"file.glob":          "globFiles",
	"file.grep":          "grepFiles",
	"file.list":          "listDirectory",
	"file.exists":        "fileExists",
	"file.delete":        "deleteFile",
	"file.rename":        "renameFile",
	"file.mkdir":         "createDirectory",
	"file.deleteDir":     "deleteDirectory",
	"terminal.execute":   "runCommand",
	"terminal.spawn":     "spawnCommand",
	"lsp.query":          "lspQuery",
	"git.status":         "gitStatus",
	"git.diff":           "gitDiff",
	"git.log":            "gitLog",
	"git.commit":         "gitCommit",
	"ai.todo.get":        "getTodos",
	"ai.todo.write":      "writeTodos",
	"ai.plan.create":     "createPlan",
	"ai.plan.update":     "updatePlan",
	"ai.plan.list":       "listPlans",
	"ai.plan.content":    "getPlanContent",
	"ai.spec.create":     "createSpec",
	"ai.spec.update":     "updateSpec",
	"ai.spec.list":       "listSpecs",
	"ai.document.create": "createDocument",
	"ai.document.update": "updateDocument",
	"ai.document.list":   "listDocuments",
	"ai.document.get":    "getDocument",
	"ai.document.search": "searchDocuments",
	"ai.message.search":  "searchMessages",
	"ai.persona.create":  "createPersona",
	"ai.persona.update":  "updatePersona",
	"ai.persona.list":    "listPersonas",
}

// geminiParams is nearly empty: canonical parameters are already
// camelCase, only path carries a dialect prefix.
var geminiParams = map[string]string{
	"path": "filePath",
}

// NewGeminiTranslator returns the Google-style dialect.
func NewGeminiTranslator() Translator {
	return newDialect(DialectGemini, geminiNames, geminiParams)
}
