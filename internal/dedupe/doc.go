// Package dedupe tracks recently seen delivery keys so a retried human
// message is appended to a transcript once. Keys expire after a TTL and the
// cache is bounded in size.
package dedupe
