package permissions

// defaultAutoApproved lists the canonical tools granted at global scope on
// startup: read-only file and LSP access plus the AI-plane CRUD surfaces
// (todos, plans, requirement docs, knowledge documents, personas). Nothing
// here touches the user's filesystem destructively, and no terminal tool
// ever appears in this list.
func defaultAutoApproved() []string {
	return []string{
		"file.read",
		"file.glob",
		"file.grep",
		"file.list",
		"lsp.query",
		"ai.todo.get",
		"ai.todo.write",
		"ai.plan.create",
		"ai.plan.update",
		"ai.plan.list",
		"ai.plan.content",
		"ai.spec.create",
		"ai.spec.update",
		"ai.spec.list",
		"ai.document.create",
		"ai.document.update",
		"ai.document.list",
		"ai.document.get",
		"ai.document.search",
		"ai.persona.create",
		"ai.persona.update",
		"ai.persona.list",
	}
}
