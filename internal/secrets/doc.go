// Package secrets redacts credentials from text before it is persisted.
//
// Session events and tool script output pass through a Redactor, so API
// keys and connection strings pasted by a prospect or printed by a script
// never reach the session store or the artifact directory. Only rule IDs
// and counts are reported; matched values are never logged.
package secrets
