package core

// AllowAllMarker is the sentinel tool name that grants every registered
// tool, regardless of what any skill or policy declares.
const AllowAllMarker = "*"

// SafeDefaultTools is the fixed tool set granted when no skill is approved
// (the allowed-tools resolution table's default-deny branch).
var SafeDefaultTools = []string{
	"read_file", "list_dir", "web_fetch", "web_search",
	"sessions_list", "sessions_history", "channel_health", "datetime_now",
}
