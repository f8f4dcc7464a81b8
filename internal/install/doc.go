// Package install decides whether the language server components are
// present under the server root and copies them from the bundled source
// directory when they are not.
//
// An installation is recorded in a SQLite manifest that is written only
// after every file has been copied, so an interrupted install is never
// reported as present and a retry starts over.
package install
