// Package fileutil holds the file operations used to lay down server
// components: recursive directory creation and an atomic, digesting copy that
// reports the SHA-256 and size of what it wrote.
package fileutil
