// Package ports defines the interfaces the bridge depends on.
// Infrastructure adapters implement them: fetch sources, the shared-memory text reader
// used by outbound dispatch and the error reporter that receives dispatch failures.
package ports
