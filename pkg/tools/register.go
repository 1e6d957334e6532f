package tools

// RegisterCoreTools registers the baseline tool set available to every agent
// turn: filesystem access and shell execution scoped to workspace, file
// editing, web fetch, and (when an API key is configured) web search.
func RegisterCoreTools(registry *ToolRegistry, sandbox SandboxConfig, searchAPIKey string, maxResults int) {
	workspace := sandbox.WorkspacePath
	registry.Register(NewReadFileTool(workspace))
	registry.Register(NewWriteFileTool(workspace))
	registry.Register(NewListDirTool(workspace))
	registry.Register(NewExecTool(sandbox))
	registry.Register(NewEditFileTool(workspace))
	registry.Register(NewWebFetchTool())

	if searchAPIKey != "" {
		registry.Register(NewWebSearchTool(searchAPIKey, maxResults))
	}
}
