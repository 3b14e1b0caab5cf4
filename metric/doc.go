// Package metric provides a Prometheus metrics registry with duplicate
// registration protection for previewsync components.
//
// The registry is entirely optional: components that receive a nil
// *Registry create nil metrics structs whose record methods are no-ops,
// so instrumentation never becomes a hard dependency.
package metric
