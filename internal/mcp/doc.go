// Package mcp exposes the opsloop stores to agents as MCP tools.
//
// The server speaks the Model Context Protocol over stdio and calls the
// service registry directly. Tools cover the learning loop end to end:
//
//   - session_log_event and session_process feed conversations in and
//     queue the facts extracted from them
//   - queue_list and queue_review drive human validation
//   - event_record and rules_instructions close the self-heal loop
//   - directive_plan previews tool selection without executing anything
//
// Directives are never executed through MCP; live runs stay with the
// CLI and the autonomy loop.
package mcp
