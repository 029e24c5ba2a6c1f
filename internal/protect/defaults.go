// Package protect detects structurally dangerous shell commands.
package protect

// DefaultPatterns are the dangerous command shapes every tier rejects.
var DefaultPatterns = []Pattern{
	{
		Name: "recursive_delete_root",
		Expr: `\brm\s+(-\S+\s+)*(-[a-zA-Z]*[rR][a-zA-Z]*|--recursive)\s+(-\S+\s+)*(/|~|\*|\$HOME|/\*)(\s|$)`,
	},
	{
		Name: "world_writable",
		Expr: `\bchmod\s+(-R\s+)?(777|a\+rwx)\b`,
	},
	{
		Name: "pipe_to_shell",
		Expr: `\b(curl|wget)\b[^|]*\|\s*(sudo\s+)?(ba|z|da)?sh\b`,
	},
	{
		Name: "raw_device_write",
		Expr: `>\s*/dev/(sd|hd|nvme|xvd|disk)[a-z0-9]*`,
	},
	{
		Name: "raw_device_copy",
		Expr: `\bdd\b.*\bof=/dev/`,
	},
	{
		Name: "make_filesystem",
		Expr: `\bmkfs(\.\w+)?\b`,
	},
	{
		Name: "fork_bomb",
		Expr: `:\s*\(\s*\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;\s*:`,
	},
}
