// Package core implements the language server bootstrap: the installation
// gate, port allocation, process launch and the lifecycle Supervisor that
// owns the launched process and its channel until disposal.
package core
