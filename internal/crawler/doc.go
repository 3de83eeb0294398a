// Package crawler defines the types and ports shared by the crawl control
// plane: supported platforms, crawl requests, run state, the external command
// description, and the interfaces implemented by the process supervisor, the
// feed stores and the notification publisher.
package crawler
